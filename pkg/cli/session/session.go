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

// Package session establishes authenticated sessions: it unwraps the account
// key material from the server-held initialization data, opens the per-user
// store, and runs the login sync cycle.
package session

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/notevault/notevault/pkg/cli/client"
	"github.com/notevault/notevault/pkg/cli/consts"
	"github.com/notevault/notevault/pkg/cli/context"
	"github.com/notevault/notevault/pkg/cli/crypt"
	"github.com/notevault/notevault/pkg/cli/database"
	"github.com/notevault/notevault/pkg/cli/keyring"
	"github.com/notevault/notevault/pkg/cli/notes"
	"github.com/notevault/notevault/pkg/cli/sync"
	"github.com/pkg/errors"
)

// RootKeyName is the name of the key set created at account bootstrap
const RootKeyName = "root"

// Session is an authenticated session over a per-user store
type Session struct {
	Ctx      context.NotevaultCtx
	Username string
	UserID   string

	DB            *database.DB
	RootCrypt     *crypt.Symmetric
	RootSignature *crypt.Signature
	LocalCrypt    *crypt.Symmetric
	Keys          *keyring.Keyring
	Engine        *sync.Engine
	Notes         *notes.Service

	// UserData is the account's decrypted server-held settings blob
	UserData string

	userCryptAlgorithm string
}

// keyBundle is the content of the initialization data, encrypted under the
// password-derived key on the server
type keyBundle struct {
	RootCrypt struct {
		Algorithm string `json:"algorithm"`
		Key       string `json:"key"`
	} `json:"rootCrypt"`
	RootSignature struct {
		Algorithm  string `json:"algorithm"`
		PublicKey  string `json:"publicKey"`
		PrivateKey string `json:"privateKey"`
	} `json:"rootSignature"`
	UserData string `json:"userData"`
}

// Login authenticates against the server, unwraps the account keys with the
// password-derived key, opens the per-user store and runs the login sync
// cycle: pull, load keys, push, pull.
func Login(ctx context.NotevaultCtx, username, password string) (*Session, error) {
	resp, err := client.Authenticate(ctx, username, password)
	if err != nil {
		return nil, errors.Wrap(err, "authenticating")
	}
	ctx.SessionKey = resp.SessionKey

	init := resp.InitializationData
	userCrypt, err := crypt.SymmetricFromPassword(init.Algorithm, password, init.Salt, init.Iterations)
	if err != nil {
		return nil, errors.Wrap(err, "deriving user key")
	}

	bundleJSON, err := userCrypt.Decrypt(init.Data)
	if err != nil {
		return nil, errors.Wrap(err, "unwrapping initialization data")
	}

	s, err := open(ctx, username, init.UserID, init.Algorithm, bundleJSON)
	if err != nil {
		return nil, err
	}

	if err := s.finishLogin(); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

func open(ctx context.NotevaultCtx, username, userID, userCryptAlgorithm, bundleJSON string) (*Session, error) {
	var bundle keyBundle
	if err := json.Unmarshal([]byte(bundleJSON), &bundle); err != nil {
		return nil, errors.Wrap(err, "unmarshaling key bundle")
	}

	rootCrypt, err := crypt.SymmetricFromKeyString(bundle.RootCrypt.Algorithm, bundle.RootCrypt.Key)
	if err != nil {
		return nil, errors.Wrap(err, "restoring root key")
	}
	rootSignature, err := crypt.SignatureFromPem(bundle.RootSignature.Algorithm, bundle.RootSignature.PublicKey, bundle.RootSignature.PrivateKey)
	if err != nil {
		return nil, errors.Wrap(err, "restoring root signing key pair")
	}

	db, err := database.Open(storePath(ctx, username))
	if err != nil {
		return nil, errors.Wrap(err, "opening the store")
	}
	if err := database.InitSchema(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "initializing the store")
	}
	if err := database.UpsertSystem(db, consts.SystemUsername, username); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "recording username")
	}
	if err := database.UpsertSystem(db, consts.SystemUserID, userID); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "recording user id")
	}

	localCrypt, err := ensureLocalCrypt(db, rootCrypt)
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Session{
		Ctx:           ctx,
		Username:      username,
		UserID:        userID,
		DB:            db,
		RootCrypt:     rootCrypt,
		RootSignature: rootSignature,
		LocalCrypt:    localCrypt,
		UserData:      bundle.UserData,

		userCryptAlgorithm: userCryptAlgorithm,
	}

	s.Keys = keyring.New(db, localCrypt, rootCrypt, ctx.Clock)
	s.Engine = sync.NewEngine(ctx, db, s.Keys, localCrypt)
	s.Notes = notes.NewService(db, localCrypt, func(name string) *crypt.Symmetric {
		if ks := s.Keys.GetByName(name); ks != nil {
			return ks.Symmetric
		}
		return nil
	}, ctx.Clock)

	// load whatever key sets the store already holds so the session works
	// before, or without, the next sync
	if err := s.Keys.LoadAll(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "loading keys")
	}

	return s, nil
}

func (s *Session) finishLogin() error {
	if err := s.Engine.Sync(); err != nil {
		return errors.Wrap(err, "syncing")
	}

	if err := s.ensureRootStructure(); err != nil {
		return errors.Wrap(err, "bootstrapping the account")
	}

	return nil
}

// ensureRootStructure creates the root key and root note on first login to
// a fresh account
func (s *Session) ensureRootStructure() error {
	changed := false

	if s.Keys.GetByName(RootKeyName) == nil {
		if _, err := s.Keys.Create(RootKeyName, keyring.Metadata{Root: true}); err != nil {
			return errors.Wrap(err, "creating root key")
		}
		changed = true
	}

	var rootNoteID string
	ok, err := database.GetSystemOptional(s.DB, consts.SystemRootNote, &rootNoteID)
	if err != nil {
		return errors.Wrap(err, "getting root note id")
	}
	if !ok {
		created, err := s.Notes.CreateNote(notes.Note{
			ID:      uuid.NewString(),
			KeyName: RootKeyName,
			Items: []notes.Item{
				{Type: consts.ItemTypeMetadata, Data: map[string]interface{}{
					"title": s.Username,
					"notes": []interface{}{},
				}},
			},
		})
		if err != nil {
			return errors.Wrap(err, "creating root note")
		}
		if err := database.UpsertSystem(s.DB, consts.SystemRootNote, created.ID); err != nil {
			return errors.Wrap(err, "recording root note id")
		}
		changed = true
	}

	if changed {
		if err := s.Engine.Sync(); err != nil {
			return errors.Wrap(err, "syncing bootstrap structure")
		}
	}

	return nil
}

func ensureLocalCrypt(db *database.DB, rootCrypt *crypt.Symmetric) (*crypt.Symmetric, error) {
	var wrapped string
	ok, err := database.GetSystemOptional(db, consts.SystemLocalCrypt, &wrapped)
	if err != nil {
		return nil, errors.Wrap(err, "getting local key")
	}

	if ok {
		keyStr, err := rootCrypt.Decrypt(wrapped)
		if err != nil {
			return nil, errors.Wrap(err, "unwrapping local key")
		}
		localCrypt, err := crypt.SymmetricFromKeyString(crypt.DefaultSymmetricAlgorithm, keyStr)
		if err != nil {
			return nil, errors.Wrap(err, "restoring local key")
		}

		return localCrypt, nil
	}

	localCrypt, err := crypt.NewSymmetric(crypt.DefaultSymmetricAlgorithm)
	if err != nil {
		return nil, errors.Wrap(err, "generating local key")
	}
	wrapped, err = rootCrypt.Encrypt(localCrypt.KeyString())
	if err != nil {
		return nil, errors.Wrap(err, "wrapping local key")
	}
	if err := database.UpsertSystem(db, consts.SystemLocalCrypt, wrapped); err != nil {
		return nil, errors.Wrap(err, "saving local key")
	}

	return localCrypt, nil
}

func storePath(ctx context.NotevaultCtx, username string) string {
	return filepath.Join(ctx.Paths.Data, consts.NotevaultDirName, fmt.Sprintf("notevault-%s.db", username))
}

// UpdateUserData re-encrypts the settings blob under the root key and
// replaces the server-held copy
func (s *Session) UpdateUserData(data string) error {
	s.UserData = data

	encrypted, err := s.RootCrypt.Encrypt(data)
	if err != nil {
		return errors.Wrap(err, "encrypting user data")
	}
	if err := client.UpdateUserData(s.Ctx, encrypted); err != nil {
		return errors.Wrap(err, "updating user data")
	}

	return nil
}

// Logout ends the server session and discards the persisted login
func (s *Session) Logout() error {
	if err := client.SignOut(s.Ctx); err != nil {
		return errors.Wrap(err, "signing out")
	}
	if err := RemovePersistedLogin(s.Ctx); err != nil {
		return err
	}

	return s.Close()
}

// Close releases the store without ending the server session
func (s *Session) Close() error {
	return s.DB.Close()
}

// LastSyncedAt returns the local timestamp of the last completed sync cycle
func (s *Session) LastSyncedAt() (time.Time, error) {
	var val string
	ok, err := database.GetSystemOptional(s.DB, consts.SystemLastSyncAt, &val)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "getting last sync time")
	}
	if !ok {
		return time.Time{}, nil
	}

	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "parsing last sync time")
	}

	return t, nil
}
