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

package testutils

import (
	"encoding/json"
	"testing"

	"github.com/notevault/notevault/pkg/cli/client"
	"github.com/notevault/notevault/pkg/cli/crypt"
	"github.com/notevault/notevault/pkg/cli/notes"
	"github.com/pkg/errors"
)

// MustSymmetric generates a key with the default algorithm
func MustSymmetric(t *testing.T) *crypt.Symmetric {
	t.Helper()

	key, err := crypt.NewSymmetric(crypt.DefaultSymmetricAlgorithm)
	if err != nil {
		t.Fatal(errors.Wrap(err, "generating key"))
	}

	return key
}

// EncryptSyncNote encrypts decrypted note content into a wire note
func EncryptSyncNote(t *testing.T, note notes.Note, key *crypt.Symmetric) client.SyncNote {
	t.Helper()

	record, err := notes.EncodeNote(note, key)
	if err != nil {
		t.Fatal(errors.Wrap(err, "encoding note"))
	}

	ret := client.SyncNote{
		ID:       record.ID,
		KeyName:  record.KeyName,
		Created:  record.Created,
		Modified: record.Modified,
	}
	for _, item := range record.Items {
		ret.Items = append(ret.Items, client.SyncItem{
			Type:    item.Type,
			Version: item.Version,
			Data:    item.Data,
		})
	}

	return ret
}

// WrapSyncKey wraps the given key material under the account root key the
// way the server stores it
func WrapSyncKey(t *testing.T, name, id string, key, rootCrypt *crypt.Symmetric) client.SyncKey {
	t.Helper()

	keyData, err := rootCrypt.Encrypt(key.KeyString())
	if err != nil {
		t.Fatal(errors.Wrap(err, "wrapping key material"))
	}

	metadata, err := json.Marshal(map[string]interface{}{})
	if err != nil {
		t.Fatal(errors.Wrap(err, "marshaling metadata"))
	}

	return client.SyncKey{
		Name:      name,
		ID:        id,
		Algorithm: key.Algorithm(),
		KeyData:   keyData,
		Metadata:  string(metadata),
		Modified:  "2025-07-01T00:00:00Z",
	}
}
