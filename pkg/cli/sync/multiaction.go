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
	"time"

	"github.com/google/uuid"
	"github.com/notevault/notevault/pkg/cli/database"
	"github.com/notevault/notevault/pkg/cli/notes"
	"github.com/pkg/errors"
)

// ActionKind is the kind of one multi-action step
type ActionKind string

const (
	// ActionKindCreate creates a new note
	ActionKindCreate ActionKind = "create"
	// ActionKindUpdate updates items of an existing note
	ActionKindUpdate ActionKind = "update"
	// ActionKindDelete deletes a note locally and remotely
	ActionKindDelete ActionKind = "delete"
)

// Action is one step of a multi-action batch. Note carries decrypted content.
type Action struct {
	Kind ActionKind
	Note notes.Note
}

// MultiAction applies several note changes in one transaction. Operations
// that touch multiple notes at once, like moving a note between parents,
// must go through here so a failure can never leave half the batch applied.
// It returns the ids of the touched notes.
func (e *Engine) MultiAction(actions []Action) ([]string, error) {
	tx, err := e.db.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "beginning a transaction")
	}

	var updated []string
	for _, action := range actions {
		var id string

		switch action.Kind {
		case ActionKindCreate:
			id, err = e.applyCreate(tx, action.Note)
		case ActionKindUpdate:
			id, err = e.applyUpdate(tx, action.Note)
		case ActionKindDelete:
			id, err = e.applyDelete(tx, action.Note)
		default:
			err = errors.Errorf("unknown action kind %s", action.Kind)
		}

		if err != nil {
			tx.Rollback()
			return nil, errors.Wrapf(err, "applying %s action", action.Kind)
		}

		updated = append(updated, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "committing")
	}

	return updated, nil
}

func (e *Engine) applyCreate(tx *database.DB, note notes.Note) (string, error) {
	if note.ID == "" {
		note.ID = uuid.NewString()
	}

	now := e.ctx.Clock.Now().UTC().Format(time.RFC3339)
	if note.Created == "" {
		note.Created = now
	}
	note.Modified = now

	record, err := notes.EncodeNote(note, e.localCrypt)
	if err != nil {
		return "", errors.Wrap(err, "encrypting note")
	}
	if err := database.SaveLocalNote(tx, record); err != nil {
		return "", errors.Wrap(err, "saving note")
	}

	return note.ID, nil
}

// applyUpdate merges the incoming items over the existing copy: an incoming
// item replaces the stored one, a stored item missing from the incoming set
// is kept, and an item absent on both sides stays dropped. A different key
// name on the incoming note records a key change for the next push.
func (e *Engine) applyUpdate(tx *database.DB, note notes.Note) (string, error) {
	if note.ID == "" {
		return "", errors.New("note id is missing")
	}

	existing, source, err := e.loadForUpdate(tx, note.ID)
	if err != nil {
		return "", err
	}
	if existing == nil {
		return "", errors.Errorf("note %s does not exist", note.ID)
	}

	merged := notes.Note{
		ID:      note.ID,
		KeyName: existing.KeyName,
		Created: existing.Created,
		Items:   note.Items,
	}
	if note.KeyName != "" {
		merged.KeyName = note.KeyName
	}
	merged.Modified = e.ctx.Clock.Now().UTC().Format(time.RFC3339)

	for _, item := range existing.Items {
		if merged.Item(item.Type) == nil {
			merged.Items = append(merged.Items, item)
		}
	}

	// the first pending write over a synced note snapshots the synced copy
	// for later three-way merges
	if source == sourceRemote {
		remoteRecord, err := database.GetNote(tx, note.ID)
		if err != nil {
			return "", errors.Wrap(err, "getting synced note")
		}
		if err := database.SaveBaseNote(tx, *remoteRecord); err != nil {
			return "", errors.Wrap(err, "saving base snapshot")
		}
	}

	record, err := notes.EncodeNote(merged, e.localCrypt)
	if err != nil {
		return "", errors.Wrap(err, "encrypting note")
	}
	if err := database.SaveLocalNote(tx, record); err != nil {
		return "", errors.Wrap(err, "saving note")
	}

	return note.ID, nil
}

type updateSource int

const (
	sourceNone updateSource = iota
	sourceLocal
	sourceRemote
)

func (e *Engine) loadForUpdate(tx *database.DB, id string) (*notes.Note, updateSource, error) {
	localRecord, err := database.GetLocalNote(tx, id)
	if err != nil {
		return nil, sourceNone, errors.Wrap(err, "getting local note")
	}
	if localRecord != nil {
		note := notes.DecodeRecord(*localRecord, e.localCrypt)
		return &note, sourceLocal, nil
	}

	remoteRecord, err := database.GetNote(tx, id)
	if err != nil {
		return nil, sourceNone, errors.Wrap(err, "getting synced note")
	}
	if remoteRecord == nil {
		return nil, sourceNone, nil
	}

	key, err := e.noteKey(remoteRecord.KeyName)
	if err != nil {
		return nil, sourceNone, err
	}
	note := notes.DecodeRecord(*remoteRecord, key)

	return &note, sourceRemote, nil
}

func (e *Engine) applyDelete(tx *database.DB, note notes.Note) (string, error) {
	if note.ID == "" {
		return "", errors.New("note id is missing")
	}

	if err := database.DeleteLocalNote(tx, note.ID); err != nil {
		return "", errors.Wrap(err, "deleting local note")
	}

	remote, err := database.GetNote(tx, note.ID)
	if err != nil {
		return "", errors.Wrap(err, "getting synced note")
	}
	if remote != nil {
		if err := database.DeleteNote(tx, note.ID); err != nil {
			return "", errors.Wrap(err, "deleting synced note")
		}
		deletedAt := e.ctx.Clock.Now().UTC().Format(time.RFC3339)
		if err := database.AddNoteTombstone(tx, note.ID, deletedAt); err != nil {
			return "", errors.Wrap(err, "recording tombstone")
		}
	}

	return note.ID, nil
}
