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

// KeyRecord is a stored key set. KeyData, PrivateKey and Metadata are
// ciphertext payloads wrapped under the appropriate parent key.
type KeyRecord struct {
	Name          string `json:"name"`
	ID            string `json:"id"`
	Algorithm     string `json:"algorithm"`
	KeyData       string `json:"keyData"`
	AsymAlgorithm string `json:"asymmetricAlgorithm"`
	PublicKey     string `json:"publicKey"`
	PrivateKey    string `json:"privateKey"`
	Metadata      string `json:"metadata"`
	Modified      string `json:"modified"`
	Sync          int64  `json:"sync"`
}

const keyColumns = "name, id, algorithm, key_data, asym_algorithm, public_key, private_key, metadata, modified, sync"

func scanKey(row interface{ Scan(...interface{}) error }) (KeyRecord, error) {
	var ret KeyRecord
	err := row.Scan(&ret.Name, &ret.ID, &ret.Algorithm, &ret.KeyData, &ret.AsymAlgorithm,
		&ret.PublicKey, &ret.PrivateKey, &ret.Metadata, &ret.Modified, &ret.Sync)

	return ret, err
}

func getKey(db *DB, table, name string) (*KeyRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE name = ?", keyColumns, table)

	ret, err := scanKey(db.QueryRow(query, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "finding key %s", name)
	}

	return &ret, nil
}

func getKeyByID(db *DB, table, id string) (*KeyRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", keyColumns, table)

	ret, err := scanKey(db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "finding key with id %s", id)
	}

	return &ret, nil
}

func saveKey(db *DB, table string, key KeyRecord) error {
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET id = excluded.id, algorithm = excluded.algorithm,
		key_data = excluded.key_data, asym_algorithm = excluded.asym_algorithm,
		public_key = excluded.public_key, private_key = excluded.private_key,
		metadata = excluded.metadata, modified = excluded.modified, sync = excluded.sync`, table, keyColumns)

	_, err := db.Exec(query, key.Name, key.ID, key.Algorithm, key.KeyData, key.AsymAlgorithm,
		key.PublicKey, key.PrivateKey, key.Metadata, key.Modified, key.Sync)
	if err != nil {
		return errors.Wrapf(err, "saving key %s", key.Name)
	}

	return nil
}

func deleteKey(db *DB, table, name string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE name = ?", table)
	if _, err := db.Exec(query, name); err != nil {
		return errors.Wrapf(err, "deleting key %s", name)
	}

	return nil
}

func listKeys(db *DB, table string) ([]KeyRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY name", keyColumns, table)
	rows, err := db.Query(query)
	if err != nil {
		return nil, errors.Wrap(err, "querying keys")
	}
	defer rows.Close()

	var ret []KeyRecord
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning a key")
		}
		ret = append(ret, key)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating keys")
	}

	return ret, nil
}

// GetKey finds a remote-mirrored key. Returns nil without an error when missing.
func GetKey(db *DB, name string) (*KeyRecord, error) {
	return getKey(db, "keys", name)
}

// GetLocalKey finds a local-pending key. Returns nil without an error when missing.
func GetLocalKey(db *DB, name string) (*KeyRecord, error) {
	return getKey(db, "local_keys", name)
}

// GetKeyByID finds a remote-mirrored key by its id. Returns nil without an
// error when missing.
func GetKeyByID(db *DB, id string) (*KeyRecord, error) {
	return getKeyByID(db, "keys", id)
}

// GetLocalKeyByID finds a local-pending key by its id. Returns nil without
// an error when missing.
func GetLocalKeyByID(db *DB, id string) (*KeyRecord, error) {
	return getKeyByID(db, "local_keys", id)
}

// SaveKey upserts a remote-mirrored key
func SaveKey(db *DB, key KeyRecord) error {
	return saveKey(db, "keys", key)
}

// SaveLocalKey upserts a local-pending key
func SaveLocalKey(db *DB, key KeyRecord) error {
	return saveKey(db, "local_keys", key)
}

// DeleteKey removes a remote-mirrored key
func DeleteKey(db *DB, name string) error {
	return deleteKey(db, "keys", name)
}

// DeleteLocalKey removes a local-pending key
func DeleteLocalKey(db *DB, name string) error {
	return deleteKey(db, "local_keys", name)
}

// ListKeys returns all remote-mirrored keys
func ListKeys(db *DB) ([]KeyRecord, error) {
	return listKeys(db, "keys")
}

// ListLocalKeys returns all local-pending keys
func ListLocalKeys(db *DB) ([]KeyRecord, error) {
	return listKeys(db, "local_keys")
}

// AddKeyTombstone records a local key deletion awaiting push
func AddKeyTombstone(db *DB, name, deletedAt string) error {
	_, err := db.Exec("INSERT OR REPLACE INTO deleted_keys (name, deleted_at) VALUES (?, ?)", name, deletedAt)
	if err != nil {
		return errors.Wrapf(err, "adding tombstone for key %s", name)
	}

	return nil
}

// RemoveKeyTombstone clears a key deletion that the server has confirmed
func RemoveKeyTombstone(db *DB, name string) error {
	if _, err := db.Exec("DELETE FROM deleted_keys WHERE name = ?", name); err != nil {
		return errors.Wrapf(err, "removing tombstone for key %s", name)
	}

	return nil
}

// ListKeyTombstones returns the names of locally deleted keys awaiting push
func ListKeyTombstones(db *DB) ([]string, error) {
	rows, err := db.Query("SELECT name FROM deleted_keys ORDER BY deleted_at")
	if err != nil {
		return nil, errors.Wrap(err, "querying key tombstones")
	}
	defer rows.Close()

	var ret []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "scanning a tombstone")
		}
		ret = append(ret, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating tombstones")
	}

	return ret, nil
}
