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
)

// CloneOptions controls Clone. A zero value clones the default branch
// (HEAD) of the whole tree.
type CloneOptions struct {
	// Ref names the commit, branch, tag or pull ref to clone. Empty
	// means HEAD.
	Ref string
	// Shallow requests history-free "deepen 1" fetch.
	Shallow bool
	// Cone, if non-empty, restricts checkout to the named repo-relative
	// subdirectory and re-roots it as the working-tree root.
	Cone string
	// Username and Password, if either is non-empty, are stored
	// encrypted for this remote's host and path.
	Username, Password string
	Quiet              bool
	Progress           io.Writer
}

// Clone creates a new repo at dir backed by backend, fetches opts.Ref (or
// HEAD) from rawURL and checks it out. It fails with ErrRepoAlreadyExists
// if dir already has a .ygit directory.
func Clone(rawURL, dir string, backend Backend, opts *CloneOptions) (*Repo, error) {
	if opts == nil {
		opts = &CloneOptions{}
	}
	r := &Repo{dir: dir, backend: backend}
	if _, err := os.Stat(r.ygitDir()); err == nil {
		return nil, errs.Wrap(errs.ErrRepoAlreadyExists, "clone %s", dir)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("repo: clone: %w", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("repo: clone: %w", err)
	}
	if err := os.MkdirAll(r.ygitDir(), 0o777); err != nil {
		return nil, fmt.Errorf("repo: clone: %w", err)
	}

	ref := opts.Ref
	if ref == "" {
		ref = string(githash.Head)
	}

	err = r.withStores(func(cfg, refs, idx kv.Store) error {
		cfg.Put([]byte(configKeyRemote), []byte(rawURL))
		if opts.Cone != "" {
			cfg.Put([]byte(configKeyCone), []byte(ensureTrailingSlash(opts.Cone)))
		}
		if opts.Username != "" || opts.Password != "" {
			if err := putAuth(cfg, u, opts.Username, opts.Password); err != nil {
				return err
			}
		}
		_, err := r.fetchInto(cfg, refs, idx, u, ref, &FetchOptions{
			Shallow:  opts.Shallow,
			Quiet:    opts.Quiet,
			Progress: opts.Progress,
		})
		return err
	})
	if err != nil {
		os.RemoveAll(r.ygitDir())
		return nil, err
	}

	if err := r.Checkout(ref); err != nil {
		if !errors.Is(err, errs.ErrUnknownRef) {
			return nil, err
		}
		// Empty remote: nothing to check out, but the repo is valid.
	}
	return r, nil
}
