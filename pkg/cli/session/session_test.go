/* Copyright 2025 Notevault Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package session

import (
	"encoding/json"
	"testing"

	"github.com/notevault/notevault/pkg/assert"
	"github.com/notevault/notevault/pkg/cli/client"
	"github.com/notevault/notevault/pkg/cli/consts"
	"github.com/notevault/notevault/pkg/cli/context"
	"github.com/notevault/notevault/pkg/cli/crypt"
	"github.com/notevault/notevault/pkg/cli/database"
	"github.com/notevault/notevault/pkg/cli/notes"
	"github.com/notevault/notevault/pkg/cli/testutils"
	"github.com/pkg/errors"

	_ "github.com/mattn/go-sqlite3"
)

const (
	testSalt       = "aabbccddeeff0011"
	testIterations = 1000
)

// seedAccount wires the fake server with initialization data a real account
// would have: a key bundle encrypted under the password-derived key
func seedAccount(t *testing.T, server *testutils.FakeServer) *crypt.Symmetric {
	t.Helper()

	userCrypt, err := crypt.SymmetricFromPassword(crypt.DefaultSymmetricAlgorithm, server.Password, testSalt, testIterations)
	if err != nil {
		t.Fatal(errors.Wrap(err, "deriving user key"))
	}

	rootCrypt := testutils.MustSymmetric(t)
	rootSignature, err := crypt.NewSignature("RSA;3072")
	if err != nil {
		t.Fatal(errors.Wrap(err, "generating root signing key pair"))
	}
	publicPem, err := rootSignature.PublicKeyPem()
	if err != nil {
		t.Fatal(errors.Wrap(err, "encoding public key"))
	}
	privatePem, err := rootSignature.PrivateKeyPem()
	if err != nil {
		t.Fatal(errors.Wrap(err, "encoding private key"))
	}

	bundle := map[string]interface{}{
		"rootCrypt": map[string]interface{}{
			"algorithm": rootCrypt.Algorithm(),
			"key":       rootCrypt.KeyString(),
		},
		"rootSignature": map[string]interface{}{
			"algorithm":  rootSignature.Algorithm(),
			"publicKey":  publicPem,
			"privateKey": privatePem,
		},
		"userData": `{"theme":"dark"}`,
	}
	bundleJSON, err := json.Marshal(bundle)
	if err != nil {
		t.Fatal(errors.Wrap(err, "marshaling bundle"))
	}
	data, err := userCrypt.Encrypt(string(bundleJSON))
	if err != nil {
		t.Fatal(errors.Wrap(err, "encrypting bundle"))
	}

	server.InitData = client.InitializationData{
		UserID:     "user-1",
		Algorithm:  crypt.DefaultSymmetricAlgorithm,
		Salt:       testSalt,
		Iterations: testIterations,
		Data:       data,
	}

	return rootCrypt
}

func testCtx(t *testing.T, server *testutils.FakeServer) context.NotevaultCtx {
	t.Helper()

	ctx := context.InitTestCtx(t)
	ctx.APIEndpoint = server.Server.URL
	ctx.Version = "test"

	return ctx
}

func TestLogin(t *testing.T) {
	server := testutils.NewFakeServer(t)
	rootCrypt := seedAccount(t, server)
	ctx := testCtx(t, server)

	s, err := Login(ctx, "alice", "password-1")
	if err != nil {
		t.Fatal(err, "logging in")
	}
	defer s.Close()

	assert.Equal(t, s.UserID, "user-1", "user id mismatch")
	assert.Equal(t, s.RootCrypt.KeyString(), rootCrypt.KeyString(), "root key mismatch")
	assert.Equal(t, s.UserData, `{"theme":"dark"}`, "user data mismatch")

	// a fresh account gets bootstrapped with a root key and root note,
	// pushed during the login sync cycle
	if s.Keys.GetByName(RootKeyName) == nil {
		t.Fatal("root key was not created")
	}

	var rootNoteID string
	if err := database.GetSystem(s.DB, consts.SystemRootNote, &rootNoteID); err != nil {
		t.Fatal(err, "getting root note id")
	}
	if server.Note(rootNoteID) == nil {
		t.Error("root note was not pushed")
	}
	if server.Key(RootKeyName) == nil {
		t.Error("root key was not pushed")
	}

	got, err := s.Notes.ReadNote(rootNoteID)
	if err != nil {
		t.Fatal(err, "reading root note")
	}
	assert.Equal(t, got.Item(consts.ItemTypeMetadata).Data["title"], "alice", "root note title mismatch")
}

func TestLoginWrongPassword(t *testing.T) {
	server := testutils.NewFakeServer(t)
	seedAccount(t, server)
	ctx := testCtx(t, server)

	_, err := Login(ctx, "alice", "wrong")
	if errors.Cause(err) != client.ErrInvalidLogin {
		t.Errorf("wrong password should fail with ErrInvalidLogin, got %v", err)
	}
}

func TestLoginPullsExistingAccount(t *testing.T) {
	server := testutils.NewFakeServer(t)
	rootCrypt := seedAccount(t, server)
	ctx := testCtx(t, server)

	// existing account state on the server
	noteKey := testutils.MustSymmetric(t)
	server.PutKey(testutils.WrapSyncKey(t, RootKeyName, "root-id", noteKey, rootCrypt))
	server.PutNote(testutils.EncryptSyncNote(t, notes.Note{
		ID:      "existing-note",
		KeyName: RootKeyName,
		Items: []notes.Item{
			{Type: consts.ItemTypeText, Version: 1, Data: map[string]interface{}{"text": "already there"}},
		},
	}, noteKey))

	s, err := Login(ctx, "alice", "password-1")
	if err != nil {
		t.Fatal(err, "logging in")
	}
	defer s.Close()

	got, err := s.Notes.ReadNote("existing-note")
	if err != nil {
		t.Fatal(err, "reading note")
	}
	assert.Equal(t, got.Item(consts.ItemTypeText).Data["text"], "already there", "note text mismatch")
}

func TestPersistAndRestoreLogin(t *testing.T) {
	server := testutils.NewFakeServer(t)
	seedAccount(t, server)
	ctx := testCtx(t, server)

	s, err := Login(ctx, "alice", "password-1")
	if err != nil {
		t.Fatal(err, "logging in")
	}

	if err := s.PersistLogin(); err != nil {
		t.Fatal(err, "persisting login")
	}
	if !HasPersistedLogin(ctx) {
		t.Fatal("login blob was not written")
	}
	if err := s.Close(); err != nil {
		t.Fatal(err, "closing session")
	}

	restored, err := RestoreLogin(ctx)
	if err != nil {
		t.Fatal(err, "restoring login")
	}
	defer restored.Close()

	assert.Equal(t, restored.Username, "alice", "username mismatch")
	assert.Equal(t, restored.UserID, "user-1", "user id mismatch")
	assert.Equal(t, restored.RootCrypt.KeyString(), s.RootCrypt.KeyString(), "root key mismatch")
	assert.Equal(t, restored.UserData, `{"theme":"dark"}`, "user data mismatch")

	// the restored session reuses the per-user store and its local key, so
	// pending content written before the restart is still readable
	assert.Equal(t, restored.LocalCrypt.KeyString(), s.LocalCrypt.KeyString(), "local key mismatch")
}

func TestResumeWorksOffline(t *testing.T) {
	server := testutils.NewFakeServer(t)
	seedAccount(t, server)
	ctx := testCtx(t, server)

	s, err := Login(ctx, "alice", "password-1")
	if err != nil {
		t.Fatal(err, "logging in")
	}
	if err := s.PersistLogin(); err != nil {
		t.Fatal(err, "persisting login")
	}
	if err := s.Close(); err != nil {
		t.Fatal(err, "closing session")
	}

	// resuming must not need the server
	server.Server.Close()

	resumed, err := Resume(ctx)
	if err != nil {
		t.Fatal(err, "resuming")
	}
	defer resumed.Close()

	assert.Equal(t, resumed.Username, "alice", "username mismatch")
	if resumed.Keys.GetByName(RootKeyName) == nil {
		t.Error("root key was not loaded from the store")
	}
}

func TestRestoreLoginMissing(t *testing.T) {
	server := testutils.NewFakeServer(t)
	ctx := testCtx(t, server)

	_, err := RestoreLogin(ctx)
	if errors.Cause(err) != ErrNoPersistedLogin {
		t.Errorf("restore without a blob should fail with ErrNoPersistedLogin, got %v", err)
	}
}

func TestLogoutRemovesPersistedLogin(t *testing.T) {
	server := testutils.NewFakeServer(t)
	seedAccount(t, server)
	ctx := testCtx(t, server)

	s, err := Login(ctx, "alice", "password-1")
	if err != nil {
		t.Fatal(err, "logging in")
	}
	if err := s.PersistLogin(); err != nil {
		t.Fatal(err, "persisting login")
	}

	if err := s.Logout(); err != nil {
		t.Fatal(err, "logging out")
	}

	if HasPersistedLogin(ctx) {
		t.Error("logout should remove the login blob")
	}
}

func TestUpdateUserData(t *testing.T) {
	server := testutils.NewFakeServer(t)
	rootCrypt := seedAccount(t, server)
	ctx := testCtx(t, server)

	s, err := Login(ctx, "alice", "password-1")
	if err != nil {
		t.Fatal(err, "logging in")
	}
	defer s.Close()

	if err := s.UpdateUserData(`{"theme":"light"}`); err != nil {
		t.Fatal(err, "updating user data")
	}

	plaintext, err := rootCrypt.Decrypt(server.UserData)
	if err != nil {
		t.Fatal(err, "decrypting server user data")
	}
	assert.Equal(t, plaintext, `{"theme":"light"}`, "server user data mismatch")
}
