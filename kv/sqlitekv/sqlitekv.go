// Copyright 2024 The gg Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//		 https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package sqlitekv implements kv.Store backed by zombiezen.com/go/sqlite,
// the host backend for the idx/refs/config stores: on a machine with a
// normal filesystem and no flash-page budget, a single-table SQLite
// database gives the same ordered-iteration and commit-on-close contract
// as kv/pagedkv without hand-rolled paging.
package sqlitekv

import (
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const schema = `CREATE TABLE IF NOT EXISTS kv (
	key BLOB PRIMARY KEY,
	value BLOB NOT NULL
) WITHOUT ROWID;`

// Store is a sqlitekv-backed kv.Store. The zero value is not usable; use
// Open.
type Store struct {
	conn      *sqlite.Conn
	inTxn     bool
	hadWrites bool
}

// Open opens (creating if necessary) the SQLite database at path and
// begins an immediate (write-locking) transaction that Flush commits.
func Open(path string) (*Store, error) {
	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite|sqlite.OpenCreate)
	if err != nil {
		return nil, fmt.Errorf("sqlitekv: open %s: %w", path, err)
	}
	if err := sqlitex.ExecuteTransient(conn, schema, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlitekv: open %s: %w", path, err)
	}
	if err := sqlitex.ExecuteTransient(conn, "BEGIN IMMEDIATE;", nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlitekv: open %s: %w", path, err)
	}
	return &Store{conn: conn, inTxn: true}, nil
}

// Get implements kv.Store.
func (s *Store) Get(key []byte) ([]byte, bool) {
	var value []byte
	found := false
	err := sqlitex.Execute(s.conn, "SELECT value FROM kv WHERE key = ?;", &sqlitex.ExecOptions{
		Args: []any{key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			value = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, value)
			return nil
		},
	})
	if err != nil {
		return nil, false
	}
	return value, found
}

// Contains implements kv.Store.
func (s *Store) Contains(key []byte) bool {
	_, ok := s.Get(key)
	return ok
}

// Put implements kv.Store.
func (s *Store) Put(key, value []byte) {
	sqlitex.Execute(s.conn, "INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value;", &sqlitex.ExecOptions{
		Args: []any{key, value},
	})
	s.hadWrites = true
}

// Delete implements kv.Store.
func (s *Store) Delete(key []byte) {
	sqlitex.Execute(s.conn, "DELETE FROM kv WHERE key = ?;", &sqlitex.ExecOptions{
		Args: []any{key},
	})
	s.hadWrites = true
}

// Iterate implements kv.Store.
func (s *Store) Iterate(fn func(key, value []byte) bool) {
	stop := fmt.Errorf("stop")
	err := sqlitex.Execute(s.conn, "SELECT key, value FROM kv ORDER BY key ASC;", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			k := make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, k)
			v := make([]byte, stmt.ColumnLen(1))
			stmt.ColumnBytes(1, v)
			if !fn(k, v) {
				return stop
			}
			return nil
		},
	})
	if err != nil && err != stop {
		return
	}
}

// Flush commits the open transaction and begins a new one, so a store left
// open for further writes stays usable after Flush returns.
func (s *Store) Flush() error {
	if !s.inTxn {
		return nil
	}
	if err := sqlitex.ExecuteTransient(s.conn, "COMMIT;", nil); err != nil {
		return fmt.Errorf("sqlitekv: flush: %w", err)
	}
	s.inTxn = false
	s.hadWrites = false
	if err := sqlitex.ExecuteTransient(s.conn, "BEGIN IMMEDIATE;", nil); err != nil {
		return fmt.Errorf("sqlitekv: flush: %w", err)
	}
	s.inTxn = true
	return nil
}

// Close rolls back any unflushed writes and closes the underlying
// connection.
func (s *Store) Close() error {
	if s.inTxn {
		sqlitex.ExecuteTransient(s.conn, "ROLLBACK;", nil)
		s.inTxn = false
	}
	return s.conn.Close()
}
