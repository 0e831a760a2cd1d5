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

package repo

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"ygit.dev/pkg/git/errs"
	"ygit.dev/pkg/git/githash"
	"ygit.dev/pkg/git/kv"
	"ygit.dev/pkg/git/packfile"
	"ygit.dev/pkg/git/packfile/client"
)

// FetchOptions controls a single Fetch or Pull call.
type FetchOptions struct {
	// Shallow requests only the wanted commit's own trees and blobs, no
	// ancestor history ("deepen 1").
	Shallow bool
	// Quiet suppresses sideband-2 progress lines and also asks the server
	// to include annotated tags ("include-tag").
	Quiet bool
	// Progress receives sideband-2 text while the packfile is read. May
	// be nil.
	Progress io.Writer
	// Blobless is accepted for parity with the external interface but is
	// never wired to the wire request: every walk this client performs
	// needs blob content to checkout or hash a file, so a client-side
	// object-filter capability would only move the missing-object error
	// from fetch time to checkout time.
	Blobless bool
}

// Fetch runs ref discovery and a single want/have negotiation against the
// configured remote, reporting whether any new objects were written.
func (r *Repo) Fetch(ref string, opts *FetchOptions) (hasNew bool, err error) {
	if opts == nil {
		opts = &FetchOptions{}
	}
	err = r.withStores(func(cfg, refs, idx kv.Store) error {
		rawURL, err := getRemoteURL(cfg)
		if err != nil {
			return err
		}
		u, err := url.Parse(rawURL)
		if err != nil {
			return fmt.Errorf("repo: fetch: %w", err)
		}
		hasNew, err = r.fetchInto(cfg, refs, idx, u, ref, opts)
		return err
	})
	return hasNew, err
}

// Pull is Fetch followed by Checkout of the same ref.
func (r *Repo) Pull(ref string, opts *FetchOptions) (hasNew bool, err error) {
	hasNew, err = r.Fetch(ref, opts)
	if err != nil {
		return hasNew, err
	}
	if err := r.Checkout(ref); err != nil {
		return hasNew, err
	}
	return hasNew, nil
}

// fetchInto performs the advertise/negotiate/receive/parse sequence
// against u, rewriting refs wholesale from the advertisement and
// appending at most one new pack file. A remote with no refs at all
// (freshly initialized, no commits) resolves to "nothing to fetch"
// instead of ErrUnknownRef, so an empty-repo clone succeeds with no pack.
func (r *Repo) fetchInto(cfg, refs, idx kv.Store, u *url.URL, ref string, opts *FetchOptions) (bool, error) {
	auth, err := getAuth(cfg, u)
	if err != nil {
		return false, err
	}
	remote, err := client.NewRemote(u, &client.Options{
		Authorization: auth,
		UserAgent:     "ygit/1",
	})
	if err != nil {
		return false, fmt.Errorf("repo: fetch: %w", err)
	}

	advertised, err := remote.ListRefs()
	if err != nil {
		return false, fmt.Errorf("repo: fetch: %w", err)
	}
	clearStore(refs)
	for _, a := range advertised {
		putRef(refs, a.Name, a.ID)
	}

	want, err := resolveRef(refs, ref)
	if err != nil {
		if len(advertised) == 0 && errors.Is(err, errs.ErrUnknownRef) {
			return false, nil
		}
		return false, err
	}

	var haves []githash.SHA1
	idx.Iterate(func(key, value []byte) bool {
		if len(key) == githash.SHA1Size {
			var sha githash.SHA1
			copy(sha[:], key)
			haves = append(haves, sha)
		}
		return true
	})

	n, err := r.nextPackNumber()
	if err != nil {
		return false, err
	}
	path := r.packPath(n)
	f, err := os.Create(path)
	if err != nil {
		return false, fmt.Errorf("repo: fetch: %w", err)
	}

	fetchErr := remote.Fetch(&client.FetchRequest{
		Want:     want,
		Have:     haves,
		Shallow:  opts.Shallow,
		Quiet:    opts.Quiet,
		Progress: opts.Progress,
	}, f)
	closeErr := f.Close()
	if fetchErr != nil {
		os.Remove(path)
		return false, fmt.Errorf("repo: fetch: %w", fetchErr)
	}
	if closeErr != nil {
		os.Remove(path)
		return false, fmt.Errorf("repo: fetch: %w", closeErr)
	}

	hasObjects, err := indexPack(idx, n, path)
	if err != nil {
		os.Remove(path)
		return false, fmt.Errorf("repo: fetch: %w", err)
	}
	if !hasObjects {
		os.Remove(path)
		return false, nil
	}
	return true, nil
}

// clearStore deletes every key currently in s. Keys are collected before
// any Delete call so mutation never happens underneath an in-progress
// Iterate.
func clearStore(s kv.Store) {
	var keys [][]byte
	s.Iterate(func(key, value []byte) bool {
		keys = append(keys, append([]byte(nil), key...))
		return true
	})
	for _, k := range keys {
		s.Delete(k)
	}
}

// indexPack reads every object in the pack at path, in header order,
// recording a 33-byte idx entry for each object not already in idx; an
// object that is already indexed keeps its existing record. It reports
// whether the pack contained any such new object.
func indexPack(idx kv.Store, packID uint64, path string) (bool, error) {
	p, err := packfile.Open(path)
	if err != nil {
		return false, fmt.Errorf("index pack: %w", err)
	}
	defer p.Close()

	count, err := p.Trailer()
	if err != nil {
		return false, fmt.Errorf("index pack: %w", err)
	}
	if count == 0 {
		return false, nil
	}

	newObjects := false
	offset := int64(12)
	for i := uint32(0); i < count; i++ {
		headerStart := offset
		hdr, err := p.Header(offset)
		if err != nil {
			return false, fmt.Errorf("index pack: object %d: %w", i, err)
		}
		if hdr.Type == 0 {
			return false, fmt.Errorf("index pack: object %d: zero kind", i)
		}
		sha, _, size, err := p.Digest(offset)
		if err != nil {
			return false, fmt.Errorf("index pack: object %d: %w", i, err)
		}
		next, err := p.NextOffset(offset)
		if err != nil {
			return false, fmt.Errorf("index pack: object %d: %w", i, err)
		}
		if !idx.Contains(sha[:]) {
			putIdxRecord(idx, sha, idxRecord{
				PackID:       packID,
				Kind:         hdr.Type,
				InflateStart: uint64(hdr.InflateStart),
				Size:         uint64(size),
				HeaderStart:  uint64(headerStart),
			})
			newObjects = true
		}
		offset = next
	}
	return newObjects, nil
}
