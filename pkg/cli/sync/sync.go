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

// Package sync reconciles the local store with the server. Pull mirrors
// server changes into the synced namespace; push derives pending actions
// from the local namespace, resolving conflicts against base snapshots
// before anything is overwritten remotely.
package sync

import (
	"encoding/json"
	"reflect"
	gosync "sync"
	"time"

	"github.com/notevault/notevault/pkg/cli/client"
	"github.com/notevault/notevault/pkg/cli/consts"
	"github.com/notevault/notevault/pkg/cli/context"
	"github.com/notevault/notevault/pkg/cli/crypt"
	"github.com/notevault/notevault/pkg/cli/database"
	"github.com/notevault/notevault/pkg/cli/keyring"
	"github.com/notevault/notevault/pkg/cli/log"
	"github.com/notevault/notevault/pkg/cli/merge"
	"github.com/notevault/notevault/pkg/cli/notes"
	"github.com/pkg/errors"
)

// maxPullIterations bounds the pull loop so a misbehaving server cannot
// keep the client pulling forever
const maxPullIterations = 100

// ErrInProgress is returned when a sync is started while another is running
var ErrInProgress = errors.New("sync already in progress")

// Engine reconciles local state with the server
type Engine struct {
	ctx           context.NotevaultCtx
	db            *database.DB
	keys          *keyring.Keyring
	localCrypt    *crypt.Symmetric
	resolver      merge.Resolver
	onNoteUpdated func(id string)
	mu            gosync.Mutex
}

// NewEngine creates a sync engine over the given session state
func NewEngine(ctx context.NotevaultCtx, db *database.DB, keys *keyring.Keyring, localCrypt *crypt.Symmetric) *Engine {
	return &Engine{
		ctx:        ctx,
		db:         db,
		keys:       keys,
		localCrypt: localCrypt,
		resolver:   merge.NewResolver(ctx.Clock),
	}
}

// OnNoteUpdated registers a callback fired for notes touched by a pull
func (e *Engine) OnNoteUpdated(fn func(id string)) {
	e.onNoteUpdated = fn
}

// Sync runs a full cycle: pull, reload keys, push, pull. The trailing pull
// brings back whatever the push produced on the server, including resolved
// conflicts.
func (e *Engine) Sync() error {
	if !e.mu.TryLock() {
		return ErrInProgress
	}
	defer e.mu.Unlock()

	if err := e.pull(false); err != nil {
		return errors.Wrap(err, "pulling")
	}
	if err := e.keys.LoadAll(); err != nil {
		return errors.Wrap(err, "loading keys")
	}
	if err := e.push(); err != nil {
		return errors.Wrap(err, "pushing")
	}
	if err := e.pull(true); err != nil {
		return errors.Wrap(err, "pulling")
	}

	now := e.ctx.Clock.Now().UTC().Format(time.RFC3339)
	if err := database.UpsertSystem(e.db, consts.SystemLastSyncAt, now); err != nil {
		return errors.Wrap(err, "recording sync time")
	}

	return nil
}

// Pull fetches server changes into the synced namespace
func (e *Engine) Pull(pushUpdates bool) error {
	if !e.mu.TryLock() {
		return ErrInProgress
	}
	defer e.mu.Unlock()

	return e.pull(pushUpdates)
}

// Push sends pending local changes to the server
func (e *Engine) Push() error {
	if !e.mu.TryLock() {
		return ErrInProgress
	}
	defer e.mu.Unlock()

	return e.push()
}

func getCursor(db *database.DB, key string) (int64, error) {
	var ret int64
	ok, err := database.GetSystemOptional(db, key, &ret)
	if err != nil {
		return 0, errors.Wrapf(err, "getting %s", key)
	}
	if !ok {
		return 0, nil
	}

	return ret, nil
}

func (e *Engine) pull(pushUpdates bool) error {
	noteCursor, err := getCursor(e.db, consts.SystemLastNoteSync)
	if err != nil {
		return err
	}
	keyCursor, err := getCursor(e.db, consts.SystemLastKeySync)
	if err != nil {
		return err
	}

	var touched []string

	for i := 0; i < maxPullIterations; i++ {
		changes, err := client.GetChangesSince(e.ctx, noteCursor, keyCursor)
		if err != nil {
			return errors.Wrap(err, "getting changes")
		}
		if len(changes.Notes) == 0 && len(changes.Keys) == 0 {
			break
		}

		log.Debug("pull iteration %d: %d notes %d keys\n", i, len(changes.Notes), len(changes.Keys))

		noteCursor, keyCursor, err = e.applyChanges(changes, noteCursor, keyCursor)
		if err != nil {
			return err
		}

		for _, n := range changes.Notes {
			touched = append(touched, n.ID)
		}
	}

	if pushUpdates && e.onNoteUpdated != nil {
		for _, id := range touched {
			e.onNoteUpdated(id)
		}
	}

	return nil
}

// applyChanges writes one batch of server changes in a single transaction
// and advances the cursors
func (e *Engine) applyChanges(changes client.SyncChanges, noteCursor, keyCursor int64) (int64, int64, error) {
	tx, err := e.db.Begin()
	if err != nil {
		return 0, 0, errors.Wrap(err, "beginning a transaction")
	}

	for _, k := range changes.Keys {
		if err := e.applyKeyChange(tx, k); err != nil {
			tx.Rollback()
			return 0, 0, errors.Wrapf(err, "applying key %s", k.Name)
		}
		if k.Sync > keyCursor {
			keyCursor = k.Sync
		}
	}

	for _, n := range changes.Notes {
		if err := applyNoteChange(tx, n); err != nil {
			tx.Rollback()
			return 0, 0, errors.Wrapf(err, "applying note %s", n.ID)
		}
		if n.Sync > noteCursor {
			noteCursor = n.Sync
		}
	}

	if err := database.UpsertSystem(tx, consts.SystemLastNoteSync, noteCursor); err != nil {
		tx.Rollback()
		return 0, 0, errors.Wrap(err, "saving note cursor")
	}
	if err := database.UpsertSystem(tx, consts.SystemLastKeySync, keyCursor); err != nil {
		tx.Rollback()
		return 0, 0, errors.Wrap(err, "saving key cursor")
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, errors.Wrap(err, "committing")
	}

	return noteCursor, keyCursor, nil
}

func (e *Engine) applyKeyChange(tx *database.DB, k client.SyncKey) error {
	if k.Deleted {
		if err := database.DeleteKey(tx, k.Name); err != nil {
			return errors.Wrap(err, "deleting key")
		}

		local, err := database.GetLocalKey(tx, k.Name)
		if err != nil {
			return errors.Wrap(err, "getting local key")
		}
		if local == nil {
			e.keys.Forget(k.Name)
		}

		return nil
	}

	record := database.KeyRecord{
		Name:          k.Name,
		ID:            k.ID,
		Algorithm:     k.Algorithm,
		KeyData:       k.KeyData,
		AsymAlgorithm: k.AsymAlgorithm,
		PublicKey:     k.PublicKey,
		PrivateKey:    k.PrivateKey,
		Metadata:      k.Metadata,
		Modified:      k.Modified,
		Sync:          k.Sync,
	}
	if err := database.SaveKey(tx, record); err != nil {
		return errors.Wrap(err, "saving key")
	}

	// keep the in-memory keyring current unless a local pending key shadows
	// this name
	local, err := database.GetLocalKey(tx, k.Name)
	if err != nil {
		return errors.Wrap(err, "getting local key")
	}
	if local == nil {
		ks, err := e.keys.DecodeRemote(record)
		if err != nil {
			return errors.Wrap(err, "unwrapping key")
		}
		e.keys.Refresh(ks)
	}

	return nil
}

func applyNoteChange(tx *database.DB, n client.SyncNote) error {
	// a note stripped of its last item is as good as deleted
	if n.Deleted || len(n.Items) == 0 {
		if err := database.DeleteNote(tx, n.ID); err != nil {
			return errors.Wrap(err, "deleting note")
		}

		return nil
	}

	record := database.NoteRecord{
		ID:       n.ID,
		KeyName:  n.KeyName,
		Created:  n.Created,
		Modified: n.Modified,
		Sync:     n.Sync,
	}
	for _, item := range n.Items {
		record.Items = append(record.Items, database.NoteItem{
			Type:    item.Type,
			Version: item.Version,
			Data:    item.Data,
		})
	}

	return database.SaveNote(tx, record)
}

func (e *Engine) push() error {
	keyActions, err := e.buildKeyActions()
	if err != nil {
		return err
	}
	noteActions, err := e.buildNoteActions()
	if err != nil {
		return err
	}

	if len(keyActions) == 0 && len(noteActions) == 0 {
		return nil
	}

	results, err := client.PushChanges(e.ctx, noteActions, keyActions)
	if err != nil {
		return errors.Wrap(err, "pushing changes")
	}

	return e.applyPushResults(results)
}

func (e *Engine) buildKeyActions() ([]client.KeyAction, error) {
	var actions []client.KeyAction

	local, err := database.ListLocalKeys(e.db)
	if err != nil {
		return nil, errors.Wrap(err, "listing local keys")
	}
	for _, record := range local {
		ks, err := e.keys.DecodeLocal(record)
		if err != nil {
			return nil, errors.Wrapf(err, "unwrapping local key %s", record.Name)
		}
		remote, err := e.keys.EncodeRemote(ks)
		if err != nil {
			return nil, errors.Wrapf(err, "rewrapping key %s", record.Name)
		}

		actions = append(actions, client.KeyAction{
			Action:        client.ActionCreate,
			Name:          remote.Name,
			ID:            remote.ID,
			Algorithm:     remote.Algorithm,
			KeyData:       remote.KeyData,
			AsymAlgorithm: remote.AsymAlgorithm,
			PublicKey:     remote.PublicKey,
			PrivateKey:    remote.PrivateKey,
			Metadata:      remote.Metadata,
			Modified:      remote.Modified,
		})
	}

	tombstones, err := database.ListKeyTombstones(e.db)
	if err != nil {
		return nil, errors.Wrap(err, "listing key tombstones")
	}
	for _, name := range tombstones {
		actions = append(actions, client.KeyAction{
			Action: client.ActionDelete,
			Name:   name,
		})
	}

	return actions, nil
}

func (e *Engine) buildNoteActions() ([]client.NoteAction, error) {
	var actions []client.NoteAction

	pending, err := database.ListLocalNotes(e.db)
	if err != nil {
		return nil, errors.Wrap(err, "listing local notes")
	}

	for _, localRecord := range pending {
		remoteRecord, err := database.GetNote(e.db, localRecord.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "getting synced note %s", localRecord.ID)
		}

		var action *client.NoteAction
		if remoteRecord == nil {
			action, err = e.buildCreateAction(localRecord)
		} else {
			action, err = e.buildUpdateAction(localRecord, *remoteRecord)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "building action for note %s", localRecord.ID)
		}

		if action == nil {
			// nothing to push; the pending copy is already identical
			if err := database.DeleteLocalNote(e.db, localRecord.ID); err != nil {
				return nil, errors.Wrapf(err, "dropping pending note %s", localRecord.ID)
			}
			continue
		}

		actions = append(actions, *action)
	}

	tombstones, err := database.ListNoteTombstones(e.db)
	if err != nil {
		return nil, errors.Wrap(err, "listing note tombstones")
	}
	for _, id := range tombstones {
		actions = append(actions, client.NoteAction{
			Action: client.ActionDelete,
			ID:     id,
		})
	}

	return actions, nil
}

func (e *Engine) noteKey(name string) (*crypt.Symmetric, error) {
	ks := e.keys.GetByName(name)
	if ks == nil {
		return nil, errors.Errorf("unknown key %s", name)
	}

	return ks.Symmetric, nil
}

// buildCreateAction re-encrypts every pending item from the device-local
// key to the note's real key
func (e *Engine) buildCreateAction(localRecord database.NoteRecord) (*client.NoteAction, error) {
	key, err := e.noteKey(localRecord.KeyName)
	if err != nil {
		return nil, err
	}

	local := notes.DecodeRecord(localRecord, e.localCrypt)
	encoded, err := notes.EncodeNote(local, key)
	if err != nil {
		return nil, errors.Wrap(err, "encrypting note")
	}

	action := client.NoteAction{
		Action:   client.ActionCreate,
		ID:       localRecord.ID,
		KeyName:  localRecord.KeyName,
		Created:  localRecord.Created,
		Modified: localRecord.Modified,
	}
	for _, item := range encoded.Items {
		action.Items = append(action.Items, client.SyncItem{
			Type:    item.Type,
			Version: item.Version,
			Data:    item.Data,
		})
	}

	return &action, nil
}

// buildUpdateAction diffs the pending copy against the synced one item by
// item. Identical content is skipped regardless of version; diverged content
// under mismatched versions goes through the conflict resolver first.
func (e *Engine) buildUpdateAction(localRecord, remoteRecord database.NoteRecord) (*client.NoteAction, error) {
	remoteKey, err := e.noteKey(remoteRecord.KeyName)
	if err != nil {
		return nil, err
	}

	// a pending key name different from the synced one records a key change;
	// every item is then re-pushed under the new key
	pushKeyName := remoteRecord.KeyName
	if localRecord.KeyName != "" {
		pushKeyName = localRecord.KeyName
	}
	keyChanged := pushKeyName != remoteRecord.KeyName

	key := remoteKey
	if keyChanged {
		key, err = e.noteKey(pushKeyName)
		if err != nil {
			return nil, err
		}
	}

	local := notes.DecodeRecord(localRecord, e.localCrypt)
	remote := notes.DecodeRecord(remoteRecord, remoteKey)

	conflict := false
	for _, item := range local.Items {
		remoteItem := remote.Item(item.Type)
		if remoteItem == nil {
			continue
		}
		if reflect.DeepEqual(item.Data, remoteItem.Data) {
			continue
		}
		if item.Version != 0 && item.Version != remoteItem.Version {
			conflict = true
			break
		}
	}

	source := local
	if conflict {
		source, err = e.resolveNote(local, remote, remoteRecord, remoteKey)
		if err != nil {
			return nil, err
		}
	}

	action := client.NoteAction{
		Action:   client.ActionUpdate,
		ID:       remoteRecord.ID,
		KeyName:  pushKeyName,
		Modified: localRecord.Modified,
	}

	for _, item := range source.Items {
		remoteItem := remote.Item(item.Type)
		if !keyChanged && remoteItem != nil && reflect.DeepEqual(item.Data, remoteItem.Data) {
			continue
		}

		version := item.Version
		if remoteItem != nil {
			version = remoteItem.Version
		}

		data, err := encodeItemData(item.Data, key)
		if err != nil {
			return nil, errors.Wrapf(err, "encrypting %s item", item.Type)
		}
		action.Items = append(action.Items, client.SyncItem{
			Type:    item.Type,
			Version: version,
			Data:    data,
		})
	}

	if len(action.Items) == 0 {
		return nil, nil
	}

	return &action, nil
}

// resolveNote assembles the three-way triple from the stored base snapshot
// and runs the conflict resolver. Without a snapshot the synced copy stands
// in for the base, which makes local changes win trivially.
func (e *Engine) resolveNote(local, remote notes.Note, remoteRecord database.NoteRecord, key *crypt.Symmetric) (notes.Note, error) {
	base := remote
	baseRecord, err := database.GetBaseNote(e.db, remoteRecord.ID)
	if err != nil {
		return notes.Note{}, errors.Wrap(err, "getting base snapshot")
	}
	if baseRecord != nil {
		base = notes.DecodeRecord(*baseRecord, key)
	}

	merged := e.resolver.Resolve(toMergeNote(base), toMergeNote(local), toMergeNote(remote))

	resolved := notes.Note{
		ID:       local.ID,
		KeyName:  remote.KeyName,
		Created:  remote.Created,
		Modified: local.Modified,
	}
	for _, item := range merged.Items {
		resolved.Items = append(resolved.Items, notes.Item{
			Type:    item.Type,
			Version: item.Version,
			Data:    item.Data,
		})
	}

	return resolved, nil
}

func toMergeNote(n notes.Note) merge.Note {
	var ret merge.Note
	for _, item := range n.Items {
		ret.Items = append(ret.Items, merge.Item{
			Type:    item.Type,
			Version: item.Version,
			Data:    item.Data,
		})
	}

	return ret
}

func encodeItemData(data map[string]interface{}, key *crypt.Symmetric) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", errors.Wrap(err, "marshaling item data")
	}

	return key.Encrypt(string(b))
}

// applyPushResults clears pending state for every confirmed action. Failed
// actions keep their pending state and are re-derived on the next push.
func (e *Engine) applyPushResults(results []client.SyncResult) error {
	for _, result := range results {
		if !result.Success {
			log.Debug("push %s %s %s not confirmed\n", result.ItemType, result.Action, result.ID)
			continue
		}

		switch result.ItemType {
		case "note":
			if result.Action == client.ActionDelete {
				if err := database.RemoveNoteTombstone(e.db, result.ID); err != nil {
					return errors.Wrapf(err, "clearing tombstone for note %s", result.ID)
				}
			} else {
				if err := database.DeleteLocalNote(e.db, result.ID); err != nil {
					return errors.Wrapf(err, "dropping pending note %s", result.ID)
				}
			}
		case "key":
			if result.Action == client.ActionDelete {
				if err := database.RemoveKeyTombstone(e.db, result.ID); err != nil {
					return errors.Wrapf(err, "clearing tombstone for key %s", result.ID)
				}
			} else {
				if err := database.DeleteLocalKey(e.db, result.ID); err != nil {
					return errors.Wrapf(err, "dropping pending key %s", result.ID)
				}
			}
		}
	}

	return nil
}
