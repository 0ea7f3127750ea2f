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

package sync

import (
	"encoding/json"
	"testing"

	"github.com/notevault/notevault/pkg/assert"
	"github.com/notevault/notevault/pkg/cli/client"
	"github.com/notevault/notevault/pkg/cli/consts"
	"github.com/notevault/notevault/pkg/cli/crypt"
	"github.com/notevault/notevault/pkg/cli/database"
	"github.com/notevault/notevault/pkg/cli/keyring"
	"github.com/notevault/notevault/pkg/cli/notes"
	"github.com/notevault/notevault/pkg/cli/testutils"

	_ "github.com/mattn/go-sqlite3"
)

type testEnv struct {
	engine     *Engine
	server     *testutils.FakeServer
	db         *database.DB
	keys       *keyring.Keyring
	localCrypt *crypt.Symmetric
	rootCrypt  *crypt.Symmetric
	service    *notes.Service
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	server := testutils.NewFakeServer(t)
	ctx := server.NewCtx()
	db := database.InitTestMemoryDB(t)

	localCrypt := testutils.MustSymmetric(t)
	rootCrypt := testutils.MustSymmetric(t)
	keys := keyring.New(db, localCrypt, rootCrypt, ctx.Clock)

	keyForName := func(name string) *crypt.Symmetric {
		if ks := keys.GetByName(name); ks != nil {
			return ks.Symmetric
		}
		return nil
	}

	return &testEnv{
		engine:     NewEngine(ctx, db, keys, localCrypt),
		server:     server,
		db:         db,
		keys:       keys,
		localCrypt: localCrypt,
		rootCrypt:  rootCrypt,
		service:    notes.NewService(db, localCrypt, keyForName, ctx.Clock),
	}
}

func textItems(text string, version int64) []notes.Item {
	return []notes.Item{
		{Type: consts.ItemTypeText, Version: version, Data: map[string]interface{}{"text": text}},
	}
}

// seedServerNote puts an encrypted note and its wrapped key on the server
func (env *testEnv) seedServerNote(t *testing.T, id, keyName, text string, key *crypt.Symmetric) client.SyncNote {
	t.Helper()

	env.server.PutKey(testutils.WrapSyncKey(t, keyName, keyName+"-id", key, env.rootCrypt))

	n := testutils.EncryptSyncNote(t, notes.Note{
		ID:       id,
		KeyName:  keyName,
		Created:  "2025-07-01T00:00:00Z",
		Modified: "2025-07-01T00:00:00Z",
		Items:    textItems(text, 1),
	}, key)

	return env.server.PutNote(n)
}

func decryptServerText(t *testing.T, n *client.SyncNote, key *crypt.Symmetric) string {
	t.Helper()

	for _, item := range n.Items {
		if item.Type != consts.ItemTypeText {
			continue
		}
		plaintext, err := key.Decrypt(item.Data)
		if err != nil {
			t.Fatal(err, "decrypting server note")
		}
		var data map[string]interface{}
		if err := json.Unmarshal([]byte(plaintext), &data); err != nil {
			t.Fatal(err, "unmarshaling server note")
		}
		text, _ := data["text"].(string)
		return text
	}

	t.Fatal("server note has no text item")
	return ""
}

func TestPullMirrorsServerState(t *testing.T) {
	env := setupEnv(t)
	noteKey := testutils.MustSymmetric(t)
	env.seedServerNote(t, "n1", "notes-main", "hello", noteKey)

	if err := env.engine.Pull(false); err != nil {
		t.Fatal(err, "pulling")
	}

	record, err := database.GetNote(env.db, "n1")
	if err != nil {
		t.Fatal(err, "getting note")
	}
	if record == nil {
		t.Fatal("note was not mirrored")
	}
	assert.Equal(t, record.KeyName, "notes-main", "key name mismatch")

	keyRecord, err := database.GetKey(env.db, "notes-main")
	if err != nil {
		t.Fatal(err, "getting key")
	}
	if keyRecord == nil {
		t.Fatal("key was not mirrored")
	}

	// the pulled key must be usable immediately
	ks := env.keys.GetByName("notes-main")
	if ks == nil {
		t.Fatal("keyring was not refreshed")
	}
	assert.Equal(t, ks.Symmetric.KeyString(), noteKey.KeyString(), "key material mismatch")

	got, err := env.service.ReadNote("n1")
	if err != nil {
		t.Fatal(err, "reading note")
	}
	assert.Equal(t, got.Item(consts.ItemTypeText).Data["text"], "hello", "note text mismatch")

	var noteCursor int64
	if err := database.GetSystem(env.db, consts.SystemLastNoteSync, &noteCursor); err != nil {
		t.Fatal(err, "getting cursor")
	}
	assert.Equal(t, noteCursor, int64(1), "note cursor mismatch")
}

func TestPullIsIncremental(t *testing.T) {
	env := setupEnv(t)
	noteKey := testutils.MustSymmetric(t)
	env.server.PageSize = 1

	env.seedServerNote(t, "n1", "notes-main", "one", noteKey)
	n2 := testutils.EncryptSyncNote(t, notes.Note{ID: "n2", KeyName: "notes-main", Items: textItems("two", 1)}, noteKey)
	env.server.PutNote(n2)
	n3 := testutils.EncryptSyncNote(t, notes.Note{ID: "n3", KeyName: "notes-main", Items: textItems("three", 1)}, noteKey)
	env.server.PutNote(n3)

	if err := env.engine.Pull(false); err != nil {
		t.Fatal(err, "pulling")
	}

	all, err := database.ListNotes(env.db)
	if err != nil {
		t.Fatal(err, "listing notes")
	}
	assert.Equal(t, len(all), 3, "note count mismatch")

	// a caught up client pulls exactly one empty page
	before := env.server.ChangeCount
	if err := env.engine.Pull(false); err != nil {
		t.Fatal(err, "pulling")
	}
	assert.Equal(t, env.server.ChangeCount, before+1, "caught up pull should stop after one request")
}

func TestPullDeletion(t *testing.T) {
	env := setupEnv(t)
	noteKey := testutils.MustSymmetric(t)
	seeded := env.seedServerNote(t, "n1", "notes-main", "hello", noteKey)

	if err := env.engine.Pull(false); err != nil {
		t.Fatal(err, "pulling")
	}

	seeded.Deleted = true
	seeded.Items = nil
	env.server.PutNote(seeded)

	if err := env.engine.Pull(false); err != nil {
		t.Fatal(err, "pulling")
	}

	record, err := database.GetNote(env.db, "n1")
	if err != nil {
		t.Fatal(err, "getting note")
	}
	if record != nil {
		t.Error("deleted note should be removed from the mirror")
	}
}

func TestPullRemovesNoteWithoutItems(t *testing.T) {
	env := setupEnv(t)
	noteKey := testutils.MustSymmetric(t)
	seeded := env.seedServerNote(t, "n1", "notes-main", "hello", noteKey)

	if err := env.engine.Pull(false); err != nil {
		t.Fatal(err, "pulling")
	}

	// the server hands back the note with every item gone but without the
	// deleted flag; the mirror must still drop it
	seeded.Items = nil
	env.server.PutNote(seeded)

	if err := env.engine.Pull(false); err != nil {
		t.Fatal(err, "pulling")
	}

	record, err := database.GetNote(env.db, "n1")
	if err != nil {
		t.Fatal(err, "getting note")
	}
	if record != nil {
		t.Error("note without items should be removed from the mirror")
	}
}

func TestPushCreate(t *testing.T) {
	env := setupEnv(t)

	ks, err := env.keys.CreateWithAlgorithms("notes-main", keyring.Metadata{}, crypt.DefaultSymmetricAlgorithm, "RSA;3072")
	if err != nil {
		t.Fatal(err, "creating key")
	}
	created, err := env.service.CreateNote(notes.Note{KeyName: "notes-main", Items: textItems("fresh note", 0)})
	if err != nil {
		t.Fatal(err, "creating note")
	}

	if err := env.engine.Push(); err != nil {
		t.Fatal(err, "pushing")
	}

	// the server copy must be encrypted under the note key, not the local one
	serverNote := env.server.Note(created.ID)
	if serverNote == nil {
		t.Fatal("note was not pushed")
	}
	assert.Equal(t, decryptServerText(t, serverNote, ks.Symmetric), "fresh note", "server note text mismatch")

	serverKey := env.server.Key("notes-main")
	if serverKey == nil {
		t.Fatal("key was not pushed")
	}
	keyStr, err := env.rootCrypt.Decrypt(serverKey.KeyData)
	if err != nil {
		t.Fatal(err, "unwrapping pushed key")
	}
	assert.Equal(t, keyStr, ks.Symmetric.KeyString(), "pushed key should be rewrapped under the root key")

	// confirmed pending state is cleared
	localNote, err := database.GetLocalNote(env.db, created.ID)
	if err != nil {
		t.Fatal(err, "getting local note")
	}
	if localNote != nil {
		t.Error("confirmed note should leave the pending namespace")
	}
	localKey, err := database.GetLocalKey(env.db, "notes-main")
	if err != nil {
		t.Fatal(err, "getting local key")
	}
	if localKey != nil {
		t.Error("confirmed key should leave the pending namespace")
	}
}

func TestPushSkipsEqualContent(t *testing.T) {
	env := setupEnv(t)
	noteKey := testutils.MustSymmetric(t)
	env.seedServerNote(t, "n1", "notes-main", "same text", noteKey)

	if err := env.engine.Pull(false); err != nil {
		t.Fatal(err, "pulling")
	}

	// a pending copy with equal decrypted content but a different version
	record, err := notes.EncodeNote(notes.Note{ID: "n1", KeyName: "notes-main", Items: textItems("same text", 5)}, env.localCrypt)
	if err != nil {
		t.Fatal(err, "encoding note")
	}
	if err := database.SaveLocalNote(env.db, record); err != nil {
		t.Fatal(err, "saving local note")
	}

	if err := env.engine.Push(); err != nil {
		t.Fatal(err, "pushing")
	}

	assert.Equal(t, env.server.PushCount, 0, "equal content should not be pushed")

	localNote, err := database.GetLocalNote(env.db, "n1")
	if err != nil {
		t.Fatal(err, "getting local note")
	}
	if localNote != nil {
		t.Error("pending copy with nothing to push should be dropped")
	}
}

func TestPushUpdate(t *testing.T) {
	env := setupEnv(t)
	noteKey := testutils.MustSymmetric(t)
	env.seedServerNote(t, "n1", "notes-main", "original", noteKey)

	if err := env.engine.Pull(false); err != nil {
		t.Fatal(err, "pulling")
	}
	if err := env.service.WriteNote(notes.Note{ID: "n1", Items: textItems("edited locally", 1)}); err != nil {
		t.Fatal(err, "writing note")
	}

	if err := env.engine.Push(); err != nil {
		t.Fatal(err, "pushing")
	}

	serverNote := env.server.Note("n1")
	assert.Equal(t, decryptServerText(t, serverNote, noteKey), "edited locally", "server note text mismatch")
	assert.Equal(t, serverNote.Items[0].Version, int64(2), "server should bump the item version")

	localNote, err := database.GetLocalNote(env.db, "n1")
	if err != nil {
		t.Fatal(err, "getting local note")
	}
	if localNote != nil {
		t.Error("confirmed note should leave the pending namespace")
	}
}

func TestPushResolvesConflict(t *testing.T) {
	env := setupEnv(t)
	noteKey := testutils.MustSymmetric(t)
	seeded := env.seedServerNote(t, "n1", "notes-main", "line one\nline two", noteKey)

	if err := env.engine.Pull(false); err != nil {
		t.Fatal(err, "pulling")
	}

	// the local edit snapshots the synced copy as merge base
	if err := env.service.WriteNote(notes.Note{ID: "n1", Items: textItems("line one local\nline two", 1)}); err != nil {
		t.Fatal(err, "writing note")
	}

	// another device edits a different line meanwhile
	seeded = testutils.EncryptSyncNote(t, notes.Note{
		ID:       "n1",
		KeyName:  "notes-main",
		Created:  seeded.Created,
		Modified: "2025-07-02T00:00:00Z",
		Items:    textItems("line one\nline two remote", 2),
	}, noteKey)
	env.server.PutNote(seeded)
	if err := env.engine.Pull(false); err != nil {
		t.Fatal(err, "pulling")
	}

	if err := env.engine.Push(); err != nil {
		t.Fatal(err, "pushing")
	}

	serverNote := env.server.Note("n1")
	assert.Equal(t, decryptServerText(t, serverNote, noteKey), "line one local\nline two remote", "merged text mismatch")
}

func TestPushFailureKeepsPending(t *testing.T) {
	env := setupEnv(t)

	if _, err := env.keys.CreateWithAlgorithms("notes-main", keyring.Metadata{}, crypt.DefaultSymmetricAlgorithm, "RSA;3072"); err != nil {
		t.Fatal(err, "creating key")
	}
	created, err := env.service.CreateNote(notes.Note{KeyName: "notes-main", Items: textItems("fresh note", 0)})
	if err != nil {
		t.Fatal(err, "creating note")
	}
	env.server.FailIDs[created.ID] = true

	if err := env.engine.Push(); err != nil {
		t.Fatal(err, "pushing")
	}

	localNote, err := database.GetLocalNote(env.db, created.ID)
	if err != nil {
		t.Fatal(err, "getting local note")
	}
	if localNote == nil {
		t.Error("unconfirmed note should stay pending for the next push")
	}

	// the next push retries and succeeds
	delete(env.server.FailIDs, created.ID)
	if err := env.engine.Push(); err != nil {
		t.Fatal(err, "pushing")
	}
	if env.server.Note(created.ID) == nil {
		t.Error("retried note was not pushed")
	}
}

func TestPushDelete(t *testing.T) {
	env := setupEnv(t)
	noteKey := testutils.MustSymmetric(t)
	env.seedServerNote(t, "n1", "notes-main", "to be deleted", noteKey)

	if err := env.engine.Pull(false); err != nil {
		t.Fatal(err, "pulling")
	}

	if _, err := env.engine.MultiAction([]Action{{Kind: ActionKindDelete, Note: notes.Note{ID: "n1"}}}); err != nil {
		t.Fatal(err, "deleting note")
	}

	if err := env.engine.Push(); err != nil {
		t.Fatal(err, "pushing")
	}

	serverNote := env.server.Note("n1")
	assert.Equal(t, serverNote.Deleted, true, "server note should be marked deleted")

	tombstones, err := database.ListNoteTombstones(env.db)
	if err != nil {
		t.Fatal(err, "listing tombstones")
	}
	assert.Equal(t, len(tombstones), 0, "confirmed tombstone should be cleared")
}

func TestMultiActionAtomicity(t *testing.T) {
	env := setupEnv(t)

	if _, err := env.keys.CreateWithAlgorithms("notes-main", keyring.Metadata{}, crypt.DefaultSymmetricAlgorithm, "RSA;3072"); err != nil {
		t.Fatal(err, "creating key")
	}

	// the second action fails, so the first must be rolled back
	_, err := env.engine.MultiAction([]Action{
		{Kind: ActionKindCreate, Note: notes.Note{ID: "n1", KeyName: "notes-main", Items: textItems("child", 0)}},
		{Kind: ActionKindUpdate, Note: notes.Note{ID: "no-such-note", Items: textItems("parent", 0)}},
	})
	if err == nil {
		t.Fatal("updating a missing note should fail")
	}

	record, err := database.GetLocalNote(env.db, "n1")
	if err != nil {
		t.Fatal(err, "getting local note")
	}
	if record != nil {
		t.Error("failed batch should leave no partial writes")
	}
}

func TestMultiActionUpdateMergesItems(t *testing.T) {
	env := setupEnv(t)

	if _, err := env.keys.CreateWithAlgorithms("notes-main", keyring.Metadata{}, crypt.DefaultSymmetricAlgorithm, "RSA;3072"); err != nil {
		t.Fatal(err, "creating key")
	}

	created, err := env.service.CreateNote(notes.Note{
		KeyName: "notes-main",
		Items: []notes.Item{
			{Type: consts.ItemTypeText, Version: 1, Data: map[string]interface{}{"text": "body"}},
			{Type: consts.ItemTypeMetadata, Version: 1, Data: map[string]interface{}{"title": "old title"}},
		},
	})
	if err != nil {
		t.Fatal(err, "creating note")
	}

	updated, err := env.engine.MultiAction([]Action{{
		Kind: ActionKindUpdate,
		Note: notes.Note{
			ID: created.ID,
			Items: []notes.Item{
				{Type: consts.ItemTypeMetadata, Version: 1, Data: map[string]interface{}{"title": "new title"}},
			},
		},
	}})
	if err != nil {
		t.Fatal(err, "updating note")
	}
	assert.DeepEqual(t, updated, []string{created.ID}, "updated ids mismatch")

	got, err := env.service.ReadNote(created.ID)
	if err != nil {
		t.Fatal(err, "reading note")
	}
	assert.Equal(t, got.Item(consts.ItemTypeMetadata).Data["title"], "new title", "incoming item should replace the stored one")
	assert.Equal(t, got.Item(consts.ItemTypeText).Data["text"], "body", "item missing from the update should be kept")
}

func TestSyncGuardsReentrancy(t *testing.T) {
	env := setupEnv(t)

	env.engine.mu.Lock()
	defer env.engine.mu.Unlock()

	if err := env.engine.Sync(); err != ErrInProgress {
		t.Errorf("concurrent sync should be rejected, got %v", err)
	}
}

func TestSyncFullCycle(t *testing.T) {
	env := setupEnv(t)
	noteKey := testutils.MustSymmetric(t)
	env.seedServerNote(t, "n1", "notes-main", "from server", noteKey)

	if _, err := env.keys.CreateWithAlgorithms("notes-second", keyring.Metadata{}, crypt.DefaultSymmetricAlgorithm, "RSA;3072"); err != nil {
		t.Fatal(err, "creating key")
	}
	created, err := env.service.CreateNote(notes.Note{KeyName: "notes-second", Items: textItems("from client", 0)})
	if err != nil {
		t.Fatal(err, "creating note")
	}

	if err := env.engine.Sync(); err != nil {
		t.Fatal(err, "syncing")
	}

	// both sides' content is visible locally, mirrored from the server
	mirrored, err := database.GetNote(env.db, created.ID)
	if err != nil {
		t.Fatal(err, "getting note")
	}
	if mirrored == nil {
		t.Fatal("pushed note should be mirrored back by the trailing pull")
	}

	got, err := env.service.ReadNote("n1")
	if err != nil {
		t.Fatal(err, "reading note")
	}
	assert.Equal(t, got.Item(consts.ItemTypeText).Data["text"], "from server", "note text mismatch")

	var lastSyncAt string
	if err := database.GetSystem(env.db, consts.SystemLastSyncAt, &lastSyncAt); err != nil {
		t.Fatal(err, "getting last sync time")
	}
	if lastSyncAt == "" {
		t.Error("sync time was not recorded")
	}
}
