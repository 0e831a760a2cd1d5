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
	"net/url"
	"sort"
	"strings"

	"ygit.dev/pkg/git/errs"
	"ygit.dev/pkg/git/githash"
	"ygit.dev/pkg/git/kv"
)

// resolveRef applies the ref resolution order: a 40-hex-char string is
// taken as a literal SHA-1; otherwise the refs store is checked with the
// string as-is, then with refs/heads/, refs/tags/ and refs/pull/ prefixes
// in that order, first hit wins.
func resolveRef(refs kv.Store, ref string) (githash.SHA1, error) {
	if sha, err := githash.ParseSHA1(ref); err == nil {
		return sha, nil
	}
	candidates := []string{
		ref,
		string(githash.BranchRef(ref)),
		string(githash.TagRef(ref)),
		string(githash.PullRef(ref)),
	}
	for _, name := range candidates {
		if b, ok := refs.Get([]byte(name)); ok {
			var sha githash.SHA1
			if err := sha.UnmarshalBinary(b); err != nil {
				return githash.SHA1{}, errs.Wrap(errs.ErrUnknownRef, "resolve ref %q: %v", ref, err)
			}
			return sha, nil
		}
	}
	return githash.SHA1{}, errs.Wrap(errs.ErrUnknownRef, "resolve ref %q", ref)
}

func putRef(refs kv.Store, name githash.Ref, sha githash.SHA1) {
	refs.Put([]byte(name), append([]byte(nil), sha[:]...))
}

// listRefsByPrefix returns the ref names with the given prefix stripped,
// sorted ascending, for Branches/Tags/Pulls.
func listRefsByPrefix(refs kv.Store, prefix string) []string {
	var names []string
	refs.Iterate(func(key, value []byte) bool {
		name := string(key)
		if rest, ok := strings.CutPrefix(name, prefix); ok {
			names = append(names, rest)
		}
		return true
	})
	sort.Strings(names)
	return names
}

// Branches returns the names of every ref under refs/heads/, the refs DB
// key filter named by the external interface.
func (r *Repo) Branches() (names []string, err error) {
	err = r.withStores(func(cfg, refs, idx kv.Store) error {
		names = listRefsByPrefix(refs, "refs/heads/")
		return nil
	})
	return names, err
}

// Tags returns the names of every ref under refs/tags/.
func (r *Repo) Tags() (names []string, err error) {
	err = r.withStores(func(cfg, refs, idx kv.Store) error {
		names = listRefsByPrefix(refs, "refs/tags/")
		return nil
	})
	return names, err
}

// Pulls returns the names of every ref under refs/pull/.
func (r *Repo) Pulls() (names []string, err error) {
	err = r.withStores(func(cfg, refs, idx kv.Store) error {
		names = listRefsByPrefix(refs, "refs/pull/")
		return nil
	})
	return names, err
}

// UpdateAuthentication stores encrypted Basic credentials for rawURL,
// replacing any previously stored credentials for the same host and path.
// It does not touch the remote's own configured URL.
func (r *Repo) UpdateAuthentication(username, password, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	return r.withStores(func(cfg, refs, idx kv.Store) error {
		return putAuth(cfg, u, username, password)
	})
}
