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

package database

import (
	"database/sql"
	"fmt"

	"github.com/pkg/errors"
)

// NoteItem is one encrypted component of a note. Data is a ciphertext
// payload; its type tells the consumer how to interpret the plaintext.
type NoteItem struct {
	Type    string `json:"type"`
	Version int64  `json:"version"`
	Data    string `json:"data"`
}

// NoteRecord is a note row together with its items
type NoteRecord struct {
	ID       string     `json:"id"`
	KeyName  string     `json:"keyName"`
	Created  string     `json:"created"`
	Modified string     `json:"modified"`
	Sync     int64      `json:"sync"`
	Items    []NoteItem `json:"items"`
}

// Item returns the item of the given type, or nil
func (n *NoteRecord) Item(typ string) *NoteItem {
	for i := range n.Items {
		if n.Items[i].Type == typ {
			return &n.Items[i]
		}
	}

	return nil
}

// Clone returns a deep copy of the record
func (n *NoteRecord) Clone() NoteRecord {
	ret := *n
	ret.Items = make([]NoteItem, len(n.Items))
	copy(ret.Items, n.Items)

	return ret
}

// noteScope names the pair of tables a note namespace is stored in
type noteScope struct {
	notes string
	items string
}

var (
	remoteNotes = noteScope{"notes", "note_items"}
	localNotes  = noteScope{"local_notes", "local_note_items"}
	baseNotes   = noteScope{"base_notes", "base_note_items"}
)

func getNote(db *DB, s noteScope, id string) (*NoteRecord, error) {
	var ret NoteRecord

	query := fmt.Sprintf("SELECT id, key_name, created, modified, sync FROM %s WHERE id = ?", s.notes)
	err := db.QueryRow(query, id).Scan(&ret.ID, &ret.KeyName, &ret.Created, &ret.Modified, &ret.Sync)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "finding note %s", id)
	}

	query = fmt.Sprintf("SELECT type, version, data FROM %s WHERE note_id = ? ORDER BY type", s.items)
	rows, err := db.Query(query, id)
	if err != nil {
		return nil, errors.Wrapf(err, "querying items of note %s", id)
	}
	defer rows.Close()

	for rows.Next() {
		var item NoteItem
		if err := rows.Scan(&item.Type, &item.Version, &item.Data); err != nil {
			return nil, errors.Wrap(err, "scanning an item")
		}
		ret.Items = append(ret.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating items")
	}

	return &ret, nil
}

func saveNote(db *DB, s noteScope, note NoteRecord) error {
	query := fmt.Sprintf(`INSERT INTO %s (id, key_name, created, modified, sync) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET key_name = excluded.key_name, created = excluded.created,
		modified = excluded.modified, sync = excluded.sync`, s.notes)
	if _, err := db.Exec(query, note.ID, note.KeyName, note.Created, note.Modified, note.Sync); err != nil {
		return errors.Wrapf(err, "saving note %s", note.ID)
	}

	query = fmt.Sprintf("DELETE FROM %s WHERE note_id = ?", s.items)
	if _, err := db.Exec(query, note.ID); err != nil {
		return errors.Wrapf(err, "clearing items of note %s", note.ID)
	}

	query = fmt.Sprintf("INSERT INTO %s (note_id, type, version, data) VALUES (?, ?, ?, ?)", s.items)
	for _, item := range note.Items {
		if _, err := db.Exec(query, note.ID, item.Type, item.Version, item.Data); err != nil {
			return errors.Wrapf(err, "saving %s item of note %s", item.Type, note.ID)
		}
	}

	return nil
}

func deleteNote(db *DB, s noteScope, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE note_id = ?", s.items)
	if _, err := db.Exec(query, id); err != nil {
		return errors.Wrapf(err, "deleting items of note %s", id)
	}

	query = fmt.Sprintf("DELETE FROM %s WHERE id = ?", s.notes)
	if _, err := db.Exec(query, id); err != nil {
		return errors.Wrapf(err, "deleting note %s", id)
	}

	return nil
}

func listNotes(db *DB, s noteScope) ([]NoteRecord, error) {
	query := fmt.Sprintf("SELECT id FROM %s ORDER BY created", s.notes)
	rows, err := db.Query(query)
	if err != nil {
		return nil, errors.Wrap(err, "querying notes")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scanning a note id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating notes")
	}

	ret := make([]NoteRecord, 0, len(ids))
	for _, id := range ids {
		note, err := getNote(db, s, id)
		if err != nil {
			return nil, err
		}
		if note != nil {
			ret = append(ret, *note)
		}
	}

	return ret, nil
}

// GetNote finds a remote-mirrored note. Returns nil without an error when missing.
func GetNote(db *DB, id string) (*NoteRecord, error) {
	return getNote(db, remoteNotes, id)
}

// GetLocalNote finds a local-pending note. Returns nil without an error when missing.
func GetLocalNote(db *DB, id string) (*NoteRecord, error) {
	return getNote(db, localNotes, id)
}

// GetBaseNote finds the remote snapshot a local edit was forked from.
// Returns nil without an error when missing.
func GetBaseNote(db *DB, id string) (*NoteRecord, error) {
	return getNote(db, baseNotes, id)
}

// SaveNote upserts a remote-mirrored note together with its items
func SaveNote(db *DB, note NoteRecord) error {
	return saveNote(db, remoteNotes, note)
}

// SaveLocalNote upserts a local-pending note together with its items
func SaveLocalNote(db *DB, note NoteRecord) error {
	return saveNote(db, localNotes, note)
}

// SaveBaseNote upserts the base snapshot of a note
func SaveBaseNote(db *DB, note NoteRecord) error {
	return saveNote(db, baseNotes, note)
}

// DeleteNote removes a remote-mirrored note and its items
func DeleteNote(db *DB, id string) error {
	return deleteNote(db, remoteNotes, id)
}

// DeleteLocalNote removes a local-pending note, its items and its base snapshot
func DeleteLocalNote(db *DB, id string) error {
	if err := deleteNote(db, localNotes, id); err != nil {
		return err
	}

	return deleteNote(db, baseNotes, id)
}

// ListNotes returns all remote-mirrored notes
func ListNotes(db *DB) ([]NoteRecord, error) {
	return listNotes(db, remoteNotes)
}

// ListLocalNotes returns all local-pending notes
func ListLocalNotes(db *DB) ([]NoteRecord, error) {
	return listNotes(db, localNotes)
}

// AddNoteTombstone records a local deletion awaiting push
func AddNoteTombstone(db *DB, id, deletedAt string) error {
	_, err := db.Exec("INSERT OR REPLACE INTO deleted_notes (id, deleted_at) VALUES (?, ?)", id, deletedAt)
	if err != nil {
		return errors.Wrapf(err, "adding tombstone for note %s", id)
	}

	return nil
}

// RemoveNoteTombstone clears a deletion that the server has confirmed
func RemoveNoteTombstone(db *DB, id string) error {
	if _, err := db.Exec("DELETE FROM deleted_notes WHERE id = ?", id); err != nil {
		return errors.Wrapf(err, "removing tombstone for note %s", id)
	}

	return nil
}

// ListNoteTombstones returns the ids of locally deleted notes awaiting push
func ListNoteTombstones(db *DB) ([]string, error) {
	rows, err := db.Query("SELECT id FROM deleted_notes ORDER BY deleted_at")
	if err != nil {
		return nil, errors.Wrap(err, "querying note tombstones")
	}
	defer rows.Close()

	var ret []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scanning a tombstone")
		}
		ret = append(ret, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating tombstones")
	}

	return ret, nil
}
