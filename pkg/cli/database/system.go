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

	"github.com/pkg/errors"
)

// GetSystem scans the given system configuration value into the destination
func GetSystem(db *DB, key string, dest interface{}) error {
	err := db.QueryRow("SELECT value FROM system WHERE key = ?", key).Scan(dest)
	if err != nil {
		return errors.Wrapf(err, "finding system value %s", key)
	}

	return nil
}

// GetSystemOptional scans the system configuration value into the destination
// if it exists, reporting whether it was found
func GetSystemOptional(db *DB, key string, dest interface{}) (bool, error) {
	err := db.QueryRow("SELECT value FROM system WHERE key = ?", key).Scan(dest)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "finding system value %s", key)
	}

	return true, nil
}

// UpsertSystem inserts or updates a system configuration value
func UpsertSystem(db *DB, key string, val interface{}) error {
	var count int
	if err := db.QueryRow("SELECT count(*) FROM system WHERE key = ?", key).Scan(&count); err != nil {
		return errors.Wrapf(err, "counting %s", key)
	}

	if count == 0 {
		if _, err := db.Exec("INSERT INTO system (key, value) VALUES (?, ?)", key, val); err != nil {
			return errors.Wrapf(err, "inserting system value %s", key)
		}

		return nil
	}

	if _, err := db.Exec("UPDATE system SET value = ? WHERE key = ?", val, key); err != nil {
		return errors.Wrapf(err, "updating system value %s", key)
	}

	return nil
}

// DeleteSystem removes a system configuration value
func DeleteSystem(db *DB, key string) error {
	if _, err := db.Exec("DELETE FROM system WHERE key = ?", key); err != nil {
		return errors.Wrapf(err, "deleting system value %s", key)
	}

	return nil
}
