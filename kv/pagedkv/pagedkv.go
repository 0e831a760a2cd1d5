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

// Package pagedkv implements kv.Store as a 512-byte-paged sorted file, the
// device backend for the idx/refs/config stores on hosts without a
// filesystem-provided database. Records are packed in ascending key order
// across fixed-size pages. Open reads the whole file and keeps every record
// in memory, and lookups are a binary search over that in-memory slice;
// pages are not read or cached individually and there is no B-tree index.
// The whole file is rewritten page-aligned on Flush, which is the store's
// only durability point.
package pagedkv

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// PageSize is the on-disk page granularity mandated by the persistent KV
// store design.
const PageSize = 512

const magic = "ykv1"

type record struct {
	key   []byte
	value []byte
}

// Store is a pagedkv-backed kv.Store. The zero value is not usable; use
// Open.
type Store struct {
	path    string
	records []record // kept sorted by key
	dirty   bool
}

// Open reads the store at path, or initializes an empty in-memory store if
// the file does not exist yet. The file is only materialized on Flush.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pagedkv: open %s: %w", path, err)
	}
	defer f.Close()
	if err := s.load(f); err != nil {
		return nil, fmt.Errorf("pagedkv: open %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) load(f *os.File) error {
	r := bufio.NewReaderSize(f, PageSize)
	var hdr [PageSize]byte
	if _, err := readFull(r, hdr[:]); err != nil {
		return fmt.Errorf("read header page: %w", err)
	}
	if string(hdr[:len(magic)]) != magic {
		return fmt.Errorf("bad magic")
	}
	n := binary.BigEndian.Uint32(hdr[len(magic):])
	payloadPages := binary.BigEndian.Uint32(hdr[len(magic)+4:])

	buf := make([]byte, 0, int(payloadPages)*PageSize)
	page := make([]byte, PageSize)
	for i := uint32(0); i < payloadPages; i++ {
		if _, err := readFull(r, page); err != nil {
			return fmt.Errorf("read page %d: %w", i, err)
		}
		buf = append(buf, page...)
	}

	recs := make([]record, 0, n)
	pos := 0
	for i := uint32(0); i < n; i++ {
		if pos+6 > len(buf) {
			return fmt.Errorf("truncated record directory")
		}
		klen := int(binary.BigEndian.Uint16(buf[pos:]))
		vlen := int(binary.BigEndian.Uint32(buf[pos+2:]))
		pos += 6
		if pos+klen+vlen > len(buf) {
			return fmt.Errorf("truncated record body")
		}
		key := append([]byte(nil), buf[pos:pos+klen]...)
		pos += klen
		val := append([]byte(nil), buf[pos:pos+vlen]...)
		pos += vlen
		recs = append(recs, record{key: key, value: val})
	}
	s.records = recs
	return nil
}

func readFull(r *bufio.Reader, p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := r.Read(p[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *Store) find(key []byte) int {
	return sort.Search(len(s.records), func(i int) bool {
		return string(s.records[i].key) >= string(key)
	})
}

// Get implements kv.Store.
func (s *Store) Get(key []byte) ([]byte, bool) {
	i := s.find(key)
	if i < len(s.records) && string(s.records[i].key) == string(key) {
		return s.records[i].value, true
	}
	return nil, false
}

// Contains implements kv.Store.
func (s *Store) Contains(key []byte) bool {
	_, ok := s.Get(key)
	return ok
}

// Put implements kv.Store.
func (s *Store) Put(key, value []byte) {
	i := s.find(key)
	k := append([]byte(nil), key...)
	v := append([]byte(nil), value...)
	if i < len(s.records) && string(s.records[i].key) == string(key) {
		s.records[i].value = v
	} else {
		s.records = append(s.records, record{})
		copy(s.records[i+1:], s.records[i:])
		s.records[i] = record{key: k, value: v}
	}
	s.dirty = true
}

// Delete implements kv.Store.
func (s *Store) Delete(key []byte) {
	i := s.find(key)
	if i < len(s.records) && string(s.records[i].key) == string(key) {
		s.records = append(s.records[:i], s.records[i+1:]...)
		s.dirty = true
	}
}

// Iterate implements kv.Store.
func (s *Store) Iterate(fn func(key, value []byte) bool) {
	for _, r := range s.records {
		if !fn(r.key, r.value) {
			return
		}
	}
}

// Flush writes the whole store to path as a sequence of 512-byte pages: a
// header page (magic, record count, payload page count) followed by the
// sorted records packed back to back. The file is written to a temporary
// name in the same directory and renamed into place so a crash mid-write
// never leaves a half-written store.
func (s *Store) Flush() error {
	if !s.dirty {
		return nil
	}
	var body []byte
	for _, r := range s.records {
		var head [6]byte
		binary.BigEndian.PutUint16(head[:2], uint16(len(r.key)))
		binary.BigEndian.PutUint32(head[2:], uint32(len(r.value)))
		body = append(body, head[:]...)
		body = append(body, r.key...)
		body = append(body, r.value...)
	}
	if pad := len(body) % PageSize; pad != 0 {
		body = append(body, make([]byte, PageSize-pad)...)
	}
	payloadPages := len(body) / PageSize

	var hdr [PageSize]byte
	copy(hdr[:], magic)
	binary.BigEndian.PutUint32(hdr[len(magic):], uint32(len(s.records)))
	binary.BigEndian.PutUint32(hdr[len(magic)+4:], uint32(payloadPages))

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("pagedkv: flush %s: %w", s.path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := bufio.NewWriterSize(tmp, PageSize)
	if _, err := w.Write(hdr[:]); err != nil {
		tmp.Close()
		return fmt.Errorf("pagedkv: flush %s: %w", s.path, err)
	}
	if _, err := w.Write(body); err != nil {
		tmp.Close()
		return fmt.Errorf("pagedkv: flush %s: %w", s.path, err)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("pagedkv: flush %s: %w", s.path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("pagedkv: flush %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("pagedkv: flush %s: %w", s.path, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("pagedkv: flush %s: %w", s.path, err)
	}
	s.dirty = false
	return nil
}

// Close implements io.Closer. It does not flush; callers must call Flush
// explicitly to persist staged writes.
func (s *Store) Close() error {
	return nil
}
