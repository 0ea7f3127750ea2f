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

// Package notes reads and writes decrypted notes over the local store.
// Writes always land in the local pending namespace encrypted under the
// device-local key; the sync engine re-encrypts them under their real key
// when pushing.
package notes

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/notevault/notevault/pkg/cli/consts"
	"github.com/notevault/notevault/pkg/cli/crypt"
	"github.com/notevault/notevault/pkg/cli/database"
	"github.com/notevault/notevault/pkg/clock"
	"github.com/pkg/errors"
)

// MissingTitle is the placeholder title for a metadata item that could not
// be decrypted
const MissingTitle = "[MISSING]"

// Item is one decrypted item of a note
type Item struct {
	Type    string
	Version int64
	Data    map[string]interface{}
}

// Note is a decrypted note
type Note struct {
	ID       string
	KeyName  string
	Created  string
	Modified string
	Items    []Item
}

// Item returns the item of the given type, or nil
func (n *Note) Item(typ string) *Item {
	for i := range n.Items {
		if n.Items[i].Type == typ {
			return &n.Items[i]
		}
	}

	return nil
}

// Title returns the title recorded on the metadata item
func (n *Note) Title() string {
	if item := n.Item(consts.ItemTypeMetadata); item != nil {
		if title, ok := item.Data["title"].(string); ok {
			return title
		}
	}

	return ""
}

// Text returns the note body recorded on the text item
func (n *Note) Text() string {
	if item := n.Item(consts.ItemTypeText); item != nil {
		if text, ok := item.Data["text"].(string); ok {
			return text
		}
	}

	return ""
}

// ChildIDs returns the ids of the child notes referenced by the metadata item
func (n *Note) ChildIDs() []string {
	item := n.Item(consts.ItemTypeMetadata)
	if item == nil {
		return nil
	}

	raw, _ := item.Data["notes"].([]interface{})

	var ids []string
	for _, v := range raw {
		if id, ok := v.(string); ok {
			ids = append(ids, id)
		}
	}

	return ids
}

// AddChild appends a child reference to the metadata item
func (n *Note) AddChild(id string) {
	item := n.Item(consts.ItemTypeMetadata)
	if item == nil {
		return
	}

	raw, _ := item.Data["notes"].([]interface{})
	item.Data["notes"] = append(raw, id)
}

// RemoveChild drops a child reference from the metadata item
func (n *Note) RemoveChild(id string) {
	item := n.Item(consts.ItemTypeMetadata)
	if item == nil {
		return
	}

	raw, _ := item.Data["notes"].([]interface{})
	kept := make([]interface{}, 0, len(raw))
	for _, v := range raw {
		if v != id {
			kept = append(kept, v)
		}
	}
	item.Data["notes"] = kept
}

// Service reads and writes notes
type Service struct {
	db            *database.DB
	localCrypt    *crypt.Symmetric
	keyForName    func(name string) *crypt.Symmetric
	clock         clock.Clock
	onNoteUpdated func(id string)
}

// NewService creates a note service. keyForName resolves a note's key by the
// key set name recorded on the note; it returns nil for unknown names.
func NewService(db *database.DB, localCrypt *crypt.Symmetric, keyForName func(name string) *crypt.Symmetric, c clock.Clock) *Service {
	return &Service{
		db:         db,
		localCrypt: localCrypt,
		keyForName: keyForName,
		clock:      c,
	}
}

// OnNoteUpdated registers a callback fired after every local note write
func (s *Service) OnNoteUpdated(fn func(id string)) {
	s.onNoteUpdated = fn
}

// CreateNote persists a new note as local pending. A missing id is assigned.
func (s *Service) CreateNote(note Note) (*Note, error) {
	if note.ID == "" {
		note.ID = uuid.NewString()
	}

	now := s.clock.Now().UTC().Format(time.RFC3339)
	note.Created = now
	note.Modified = now

	record, err := EncodeNote(note, s.localCrypt)
	if err != nil {
		return nil, errors.Wrap(err, "encrypting note")
	}
	if err := database.SaveLocalNote(s.db, record); err != nil {
		return nil, errors.Wrap(err, "saving note")
	}

	s.notifyUpdated(note.ID)

	return &note, nil
}

// WriteNote persists changed note content as local pending. The first write
// over a synced note snapshots the synced copy so that a later push can run
// a three-way merge against it.
func (s *Service) WriteNote(note Note) error {
	if note.ID == "" {
		return errors.New("note id is missing")
	}

	existing, err := database.GetLocalNote(s.db, note.ID)
	if err != nil {
		return errors.Wrap(err, "getting local note")
	}
	if existing == nil {
		remote, err := database.GetNote(s.db, note.ID)
		if err != nil {
			return errors.Wrap(err, "getting synced note")
		}
		if remote != nil {
			if err := database.SaveBaseNote(s.db, *remote); err != nil {
				return errors.Wrap(err, "saving base snapshot")
			}
			if note.Created == "" {
				note.Created = remote.Created
			}
			if note.KeyName == "" {
				note.KeyName = remote.KeyName
			}
		}
	} else {
		if note.Created == "" {
			note.Created = existing.Created
		}
		if note.KeyName == "" {
			note.KeyName = existing.KeyName
		}
	}

	note.Modified = s.clock.Now().UTC().Format(time.RFC3339)

	record, err := EncodeNote(note, s.localCrypt)
	if err != nil {
		return errors.Wrap(err, "encrypting note")
	}
	if err := database.SaveLocalNote(s.db, record); err != nil {
		return errors.Wrap(err, "saving note")
	}

	s.notifyUpdated(note.ID)

	return nil
}

// ReadNote returns the decrypted note with the given id, preferring the
// local pending copy over the synced one. It returns nil when the note does
// not exist.
func (s *Service) ReadNote(id string) (*Note, error) {
	record, err := database.GetLocalNote(s.db, id)
	if err != nil {
		return nil, errors.Wrap(err, "getting local note")
	}
	if record != nil {
		note := DecodeRecord(*record, s.localCrypt)
		return &note, nil
	}

	record, err = database.GetNote(s.db, id)
	if err != nil {
		return nil, errors.Wrap(err, "getting synced note")
	}
	if record == nil {
		return nil, nil
	}

	note := DecodeRecord(*record, s.keyForName(record.KeyName))

	return &note, nil
}

func (s *Service) notifyUpdated(id string) {
	if s.onNoteUpdated != nil {
		s.onNoteUpdated(id)
	}
}

// EncodeNote encrypts every item of the note under the given key
func EncodeNote(note Note, key *crypt.Symmetric) (database.NoteRecord, error) {
	record := database.NoteRecord{
		ID:       note.ID,
		KeyName:  note.KeyName,
		Created:  note.Created,
		Modified: note.Modified,
	}

	for _, item := range note.Items {
		data, err := json.Marshal(item.Data)
		if err != nil {
			return database.NoteRecord{}, errors.Wrapf(err, "marshaling %s item", item.Type)
		}
		ciphertext, err := key.Encrypt(string(data))
		if err != nil {
			return database.NoteRecord{}, errors.Wrapf(err, "encrypting %s item", item.Type)
		}
		record.Items = append(record.Items, database.NoteItem{
			Type:    item.Type,
			Version: item.Version,
			Data:    ciphertext,
		})
	}

	return record, nil
}

// DecodeRecord decrypts every item of a stored note. An item that cannot be
// decrypted yields a typed placeholder instead of an error so that one
// corrupted item cannot make the whole note unreadable.
func DecodeRecord(record database.NoteRecord, key *crypt.Symmetric) Note {
	note := Note{
		ID:       record.ID,
		KeyName:  record.KeyName,
		Created:  record.Created,
		Modified: record.Modified,
	}

	for _, item := range record.Items {
		note.Items = append(note.Items, Item{
			Type:    item.Type,
			Version: item.Version,
			Data:    decodeItemData(item, key),
		})
	}

	return note
}

func decodeItemData(item database.NoteItem, key *crypt.Symmetric) map[string]interface{} {
	if key != nil {
		if plaintext, err := key.Decrypt(item.Data); err == nil {
			var data map[string]interface{}
			if err := json.Unmarshal([]byte(plaintext), &data); err == nil {
				return data
			}
		}
	}

	return placeholderData(item.Type)
}

func placeholderData(typ string) map[string]interface{} {
	if typ == consts.ItemTypeMetadata {
		return map[string]interface{}{
			"title": MissingTitle,
			"notes": []interface{}{},
		}
	}

	return map[string]interface{}{}
}
