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
	"fmt"
	"io"
	"strings"
	"time"

	"ygit.dev/pkg/git/kv"
)

// Log prints the commit reachable from ref and its first-parent ancestry,
// one per git-log-style paragraph, oldest detail last. Only the first
// parent of a merge is followed, mirroring the teacher's
// LogOptions.FirstParent traversal rather than a full topological walk —
// a second inflate-bounded history walker has no home on this device.
func (r *Repo) Log(out io.Writer, ref string) error {
	return r.withStores(func(cfg, refs, idx kv.Store) error {
		sha, err := resolveRef(refs, ref)
		if err != nil {
			return err
		}
		for {
			commit, err := r.getCommit(cfg, refs, idx, sha)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "commit %v\n", sha)
			fmt.Fprintf(out, "Author: %s\n", commit.Author)
			fmt.Fprintf(out, "Date:   %s\n\n", commit.AuthorTime.Format(time.RFC1123Z))
			for _, line := range strings.Split(commit.Message, "\n") {
				fmt.Fprintf(out, "    %s\n", line)
			}
			fmt.Fprintln(out)
			if len(commit.Parents) == 0 {
				return nil
			}
			sha = commit.Parents[0]
		}
	})
}
