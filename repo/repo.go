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

// Package repo implements the user-facing repository operations: clone,
// fetch, pull, checkout, status, log and ref listing, built on top of
// package kv for the config/refs/idx stores and package packfile/client
// for the network side. There is no persistent top-level database handle:
// every operation opens the stores it needs, does its work and flushes and
// closes them before returning, so that at most one of each store is ever
// held open at a time on a device with very little RAM to spare.
package repo

import (
	"fmt"
	"os"
	"path/filepath"

	"ygit.dev/pkg/git/kv"
	"ygit.dev/pkg/git/kv/pagedkv"
	"ygit.dev/pkg/git/kv/sqlitekv"
)

const (
	configStoreName = "config"
	refsStoreName   = "refs"
	idxStoreName    = "idx"
)

// Backend selects which kv.Store implementation backs a Repo's config,
// refs and idx stores. A Repo only ever has one backend for the lifetime
// of its working tree: PagedBackend for the flash-constrained device
// target, SQLiteBackend for development and testing on a host with a
// normal filesystem.
type Backend func(path string) (kv.Store, error)

// PagedBackend opens a kv/pagedkv store, the device-target backend.
func PagedBackend(path string) (kv.Store, error) {
	return pagedkv.Open(path)
}

// SQLiteBackend opens a kv/sqlitekv store, the host backend.
func SQLiteBackend(path string) (kv.Store, error) {
	return sqlitekv.Open(path + ".sqlite")
}

// Repo is a handle to a working tree at dir with a .ygit directory
// alongside it. It holds no open file handles or store connections
// between method calls.
type Repo struct {
	dir     string
	backend Backend
}

// Open returns a Repo for the working tree at dir, which must already
// contain a .ygit directory (see Clone). backend must match whichever
// backend the directory was created with.
func Open(dir string, backend Backend) (*Repo, error) {
	r := &Repo{dir: dir, backend: backend}
	info, err := os.Stat(r.ygitDir())
	if err != nil {
		return nil, fmt.Errorf("repo: open %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("repo: open %s: %s is not a directory", dir, r.ygitDir())
	}
	return r, nil
}

func (r *Repo) ygitDir() string {
	return filepath.Join(r.dir, ".ygit")
}

func (r *Repo) storePath(name string) string {
	return filepath.Join(r.ygitDir(), name)
}

// packPath returns the path of the n'th pack file, numbered from 0 in
// creation order as recorded by idx records' PackID field.
func (r *Repo) packPath(n uint64) string {
	return filepath.Join(r.ygitDir(), fmt.Sprintf("%d.pack", n))
}

// nextPackNumber scans the .ygit directory for the highest-numbered
// "<n>.pack" file present and returns one past it, or 0 if none exist.
func (r *Repo) nextPackNumber() (uint64, error) {
	entries, err := os.ReadDir(r.ygitDir())
	if err != nil {
		return 0, fmt.Errorf("repo: list packs: %w", err)
	}
	var next uint64
	for _, e := range entries {
		var n uint64
		if _, err := fmt.Sscanf(e.Name(), "%d.pack", &n); err != nil {
			continue
		}
		if n+1 > next {
			next = n + 1
		}
	}
	return next, nil
}

// withStores opens the config, refs and idx stores, calls fn, and flushes
// every store only if fn succeeds. A session's writes are all-or-nothing:
// if fn returns an error, the stores are left unflushed and Close rolls
// back whatever was staged (pagedkv's Close never flushes; sqlitekv's
// Close rolls back an open transaction), so a fetch that fails midway
// through indexing a pack leaves the idx DB exactly as it was before.
func (r *Repo) withStores(fn func(cfg, refs, idx kv.Store) error) (err error) {
	cfg, err := r.backend(r.storePath(configStoreName))
	if err != nil {
		return fmt.Errorf("repo: open config store: %w", err)
	}
	defer closeStore(&err, cfg)

	refs, err := r.backend(r.storePath(refsStoreName))
	if err != nil {
		return fmt.Errorf("repo: open refs store: %w", err)
	}
	defer closeStore(&err, refs)

	idx, err := r.backend(r.storePath(idxStoreName))
	if err != nil {
		return fmt.Errorf("repo: open idx store: %w", err)
	}
	defer closeStore(&err, idx)

	fnErr := fn(cfg, refs, idx)
	if fnErr != nil {
		return fnErr
	}

	for _, s := range []kv.Store{cfg, refs, idx} {
		if ferr := s.Flush(); ferr != nil && err == nil {
			err = fmt.Errorf("repo: flush store: %w", ferr)
		}
	}
	return err
}

func closeStore(err *error, s kv.Store) {
	if cerr := s.Close(); cerr != nil && *err == nil {
		*err = fmt.Errorf("repo: close store: %w", cerr)
	}
}
