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

// Package database provides the local encrypted note store. Remote-mirrored
// rows live in the notes/keys tables, local-pending edits in their local_*
// counterparts, and base_* tables hold the remote snapshot a local edit was
// forked from.
package database

import (
	"database/sql"
	_ "embed"

	"github.com/pkg/errors"
)

//go:embed schema.sql
var schemaSQL string

// DB is a handle to the local database. It wraps either a connection or
// a transaction, so that store helpers work inside and outside of
// transactions alike.
type DB struct {
	conn *sql.DB
	tx   *sql.Tx
}

// Open opens a database connection at the given path
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}

	// sqlite handles concurrent writers poorly over multiple connections
	conn.SetMaxOpenConns(1)

	return &DB{conn: conn}, nil
}

// InitSchema creates the store tables if they do not exist yet
func InitSchema(db *DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return errors.Wrap(err, "creating tables")
	}

	return nil
}

// Close closes the underlying connection
func (d *DB) Close() error {
	if d.tx != nil {
		return errors.New("closing a transaction handle")
	}

	return d.conn.Close()
}

// Exec executes a query without returning rows
func (d *DB) Exec(query string, args ...interface{}) (sql.Result, error) {
	if d.tx != nil {
		return d.tx.Exec(query, args...)
	}

	return d.conn.Exec(query, args...)
}

// Query executes a query that returns rows
func (d *DB) Query(query string, args ...interface{}) (*sql.Rows, error) {
	if d.tx != nil {
		return d.tx.Query(query, args...)
	}

	return d.conn.Query(query, args...)
}

// QueryRow executes a query that returns at most one row
func (d *DB) QueryRow(query string, args ...interface{}) *sql.Row {
	if d.tx != nil {
		return d.tx.QueryRow(query, args...)
	}

	return d.conn.QueryRow(query, args...)
}

// Begin starts a transaction and returns a handle scoped to it
func (d *DB) Begin() (*DB, error) {
	if d.tx != nil {
		return nil, errors.New("nested transactions are not supported")
	}

	tx, err := d.conn.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "beginning a transaction")
	}

	return &DB{conn: d.conn, tx: tx}, nil
}

// Commit commits the transaction
func (d *DB) Commit() error {
	if d.tx == nil {
		return errors.New("not in a transaction")
	}

	return d.tx.Commit()
}

// Rollback aborts the transaction
func (d *DB) Rollback() error {
	if d.tx == nil {
		return errors.New("not in a transaction")
	}

	return d.tx.Rollback()
}
