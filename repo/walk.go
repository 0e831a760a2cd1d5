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
	"path"

	"ygit.dev/pkg/git/errs"
	"ygit.dev/pkg/git/githash"
	"ygit.dev/pkg/git/kv"
	"ygit.dev/pkg/git/object"
	"ygit.dev/pkg/git/packfile"
)

// readObject looks up sha in idx and streams its full reconstructed
// payload into memory, returning the Git object type it resolved to after
// following any ofs-delta chain.
func (r *Repo) readObject(idx kv.Store, sha githash.SHA1) ([]byte, object.Type, error) {
	rec, ok, err := lookupIdxRecord(idx, sha)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", errs.Wrap(errs.ErrMissingObject, "object %v", sha)
	}
	p, err := packfile.Open(r.packPath(rec.PackID))
	if err != nil {
		return nil, "", fmt.Errorf("read object %v: %w", sha, err)
	}
	defer p.Close()
	obj, err := p.Open(int64(rec.HeaderStart))
	if err != nil {
		return nil, "", fmt.Errorf("read object %v: %w", sha, err)
	}
	defer obj.Close()
	kind := obj.RealKind().Type()
	if !kind.IsValid() || kind == object.TypeTag {
		return nil, "", errs.Wrap(errs.ErrUnknownObjectKind, "read object %v", sha)
	}
	data := make([]byte, obj.Size())
	if _, err := io.ReadFull(obj, data); err != nil {
		return nil, "", fmt.Errorf("read object %v: %w", sha, err)
	}
	return data, kind, nil
}

// backfill runs one shallow fetch targeting sha directly, used when
// getCommit finds sha missing from the idx DB.
func (r *Repo) backfill(cfg, refs, idx kv.Store, sha githash.SHA1) error {
	rawURL, err := getRemoteURL(cfg)
	if err != nil {
		return err
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("repo: backfill %v: %w", sha, err)
	}
	if _, err := r.fetchInto(cfg, refs, idx, u, sha.String(), &FetchOptions{Shallow: true}); err != nil {
		return fmt.Errorf("repo: backfill %v: %w", sha, err)
	}
	return nil
}

// getCommit reads and parses the commit at sha, backfilling once via a
// shallow fetch if it is missing from the idx DB and failing with
// ErrCorruptRepository if it is still missing afterward.
func (r *Repo) getCommit(cfg, refs, idx kv.Store, sha githash.SHA1) (*object.Commit, error) {
	data, kind, err := r.readObject(idx, sha)
	if errors.Is(err, errs.ErrMissingObject) {
		if berr := r.backfill(cfg, refs, idx, sha); berr != nil {
			return nil, berr
		}
		data, kind, err = r.readObject(idx, sha)
		if errors.Is(err, errs.ErrMissingObject) {
			return nil, errs.Wrap(errs.ErrCorruptRepository, "get commit %v", sha)
		}
	}
	if err != nil {
		return nil, err
	}
	if kind != object.TypeCommit {
		return nil, fmt.Errorf("get commit %v: object is a %s, not a commit", sha, kind)
	}
	return object.ParseCommit(data)
}

func (r *Repo) readTree(idx kv.Store, sha githash.SHA1) (object.Tree, error) {
	data, kind, err := r.readObject(idx, sha)
	if err != nil {
		return nil, err
	}
	if kind != object.TypeTree {
		return nil, fmt.Errorf("read tree %v: object is a %s, not a tree", sha, kind)
	}
	return object.ParseTree(data)
}

// walkTree visits treeSha and every tree it transitively contains in
// depth-first pre-order, calling fn once per directory with its decoded
// entries. It does not descend into mode-160000 submodule entries; fn
// still sees them so a caller can report them however it wishes.
func (r *Repo) walkTree(idx kv.Store, treeSha githash.SHA1, dir string, fn func(dir string, entries object.Tree) error) error {
	tree, err := r.readTree(idx, treeSha)
	if err != nil {
		return err
	}
	if err := fn(dir, tree); err != nil {
		return err
	}
	for _, ent := range tree {
		if !ent.Mode.IsDir() {
			continue
		}
		if err := r.walkTree(idx, ent.ObjectID, path.Join(dir, ent.Name), fn); err != nil {
			return err
		}
	}
	return nil
}
