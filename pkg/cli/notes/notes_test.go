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

package notes

import (
	"testing"
	"time"

	"github.com/notevault/notevault/pkg/assert"
	"github.com/notevault/notevault/pkg/cli/consts"
	"github.com/notevault/notevault/pkg/cli/crypt"
	"github.com/notevault/notevault/pkg/cli/database"
	"github.com/notevault/notevault/pkg/clock"

	_ "github.com/mattn/go-sqlite3"
)

func testService(t *testing.T) (*Service, *database.DB, *crypt.Symmetric) {
	t.Helper()

	db := database.InitTestMemoryDB(t)

	localCrypt, err := crypt.NewSymmetric(crypt.DefaultSymmetricAlgorithm)
	if err != nil {
		t.Fatal(err, "generating local key")
	}
	noteKey, err := crypt.NewSymmetric(crypt.DefaultSymmetricAlgorithm)
	if err != nil {
		t.Fatal(err, "generating note key")
	}

	c := clock.NewMock()
	c.SetNow(time.Date(2025, time.August, 1, 12, 0, 0, 0, time.UTC))

	keyForName := func(name string) *crypt.Symmetric {
		if name == "notes-main" {
			return noteKey
		}
		return nil
	}

	return NewService(db, localCrypt, keyForName, c), db, noteKey
}

func textItems(text string) []Item {
	return []Item{
		{Type: consts.ItemTypeText, Version: 1, Data: map[string]interface{}{"text": text}},
	}
}

func TestCreateAndReadNote(t *testing.T) {
	s, db, _ := testService(t)

	created, err := s.CreateNote(Note{KeyName: "notes-main", Items: textItems("hello")})
	if err != nil {
		t.Fatal(err, "creating note")
	}
	if created.ID == "" {
		t.Fatal("created note has no id")
	}

	// content must land in the local pending namespace, encrypted
	record, err := database.GetLocalNote(db, created.ID)
	if err != nil {
		t.Fatal(err, "getting local note")
	}
	if record == nil {
		t.Fatal("created note was not persisted")
	}
	assert.NotEqual(t, record.Items[0].Data, "hello", "note content should be encrypted")

	got, err := s.ReadNote(created.ID)
	if err != nil {
		t.Fatal(err, "reading note")
	}
	assert.Equal(t, got.Item(consts.ItemTypeText).Data["text"], "hello", "note text mismatch")
}

func TestReadNoteMissing(t *testing.T) {
	s, _, _ := testService(t)

	got, err := s.ReadNote("no-such-note")
	if err != nil {
		t.Fatal(err, "reading note")
	}
	if got != nil {
		t.Error("missing note should read as nil")
	}
}

func TestReadNoteFromSyncedCopy(t *testing.T) {
	s, db, noteKey := testService(t)

	record, err := EncodeNote(Note{ID: "n1", KeyName: "notes-main", Items: textItems("synced")}, noteKey)
	if err != nil {
		t.Fatal(err, "encoding note")
	}
	record.Sync = 7
	if err := database.SaveNote(db, record); err != nil {
		t.Fatal(err, "saving note")
	}

	got, err := s.ReadNote("n1")
	if err != nil {
		t.Fatal(err, "reading note")
	}
	assert.Equal(t, got.Item(consts.ItemTypeText).Data["text"], "synced", "note text mismatch")
}

func TestWriteNoteForksBaseSnapshot(t *testing.T) {
	s, db, noteKey := testService(t)

	record, err := EncodeNote(Note{ID: "n1", KeyName: "notes-main", Created: "2025-07-01T00:00:00Z", Items: textItems("synced")}, noteKey)
	if err != nil {
		t.Fatal(err, "encoding note")
	}
	if err := database.SaveNote(db, record); err != nil {
		t.Fatal(err, "saving note")
	}

	if err := s.WriteNote(Note{ID: "n1", Items: textItems("edited")}); err != nil {
		t.Fatal(err, "writing note")
	}

	base, err := database.GetBaseNote(db, "n1")
	if err != nil {
		t.Fatal(err, "getting base snapshot")
	}
	if base == nil {
		t.Fatal("first write over a synced note should snapshot it")
	}
	assert.Equal(t, base.Items[0].Data, record.Items[0].Data, "base snapshot should keep the synced ciphertext")

	local, err := database.GetLocalNote(db, "n1")
	if err != nil {
		t.Fatal(err, "getting local note")
	}
	assert.Equal(t, local.Created, "2025-07-01T00:00:00Z", "created timestamp should carry over")
	assert.Equal(t, local.KeyName, "notes-main", "key name should carry over")

	// a second write must not overwrite the snapshot
	record2, err := EncodeNote(Note{ID: "n1", KeyName: "notes-main", Items: textItems("newer remote")}, noteKey)
	if err != nil {
		t.Fatal(err, "encoding note")
	}
	if err := database.SaveNote(db, record2); err != nil {
		t.Fatal(err, "saving note")
	}
	if err := s.WriteNote(Note{ID: "n1", Items: textItems("edited again")}); err != nil {
		t.Fatal(err, "writing note")
	}

	base, err = database.GetBaseNote(db, "n1")
	if err != nil {
		t.Fatal(err, "getting base snapshot")
	}
	assert.Equal(t, base.Items[0].Data, record.Items[0].Data, "base snapshot should not move on later writes")
}

func TestWriteNoteFiresCallback(t *testing.T) {
	s, _, _ := testService(t)

	var updated []string
	s.OnNoteUpdated(func(id string) {
		updated = append(updated, id)
	})

	created, err := s.CreateNote(Note{KeyName: "notes-main", Items: textItems("hello")})
	if err != nil {
		t.Fatal(err, "creating note")
	}
	if err := s.WriteNote(Note{ID: created.ID, Items: textItems("edited")}); err != nil {
		t.Fatal(err, "writing note")
	}

	assert.DeepEqual(t, updated, []string{created.ID, created.ID}, "callback ids mismatch")
}

func TestDecodeRecordPlaceholders(t *testing.T) {
	wrongKey, err := crypt.NewSymmetric(crypt.DefaultSymmetricAlgorithm)
	if err != nil {
		t.Fatal(err, "generating key")
	}

	record := database.NoteRecord{
		ID: "n1",
		Items: []database.NoteItem{
			{Type: consts.ItemTypeMetadata, Version: 3, Data: "not decryptable"},
			{Type: consts.ItemTypeText, Version: 2, Data: "not decryptable"},
		},
	}

	note := DecodeRecord(record, wrongKey)

	metadata := note.Item(consts.ItemTypeMetadata)
	assert.Equal(t, metadata.Data["title"], MissingTitle, "metadata placeholder title mismatch")
	assert.DeepEqual(t, metadata.Data["notes"], []interface{}{}, "metadata placeholder notes mismatch")
	assert.Equal(t, metadata.Version, int64(3), "placeholder should keep the item version")

	text := note.Item(consts.ItemTypeText)
	assert.Equal(t, len(text.Data), 0, "non-metadata placeholder should be empty")

	// a nil key behaves like a failed decrypt
	note = DecodeRecord(record, nil)
	assert.Equal(t, note.Item(consts.ItemTypeMetadata).Data["title"], MissingTitle, "nil key should yield placeholders")
}
