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
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"ygit.dev/pkg/git/errs"
	"ygit.dev/pkg/git/githash"
	"ygit.dev/pkg/git/kv"
	"ygit.dev/pkg/git/object"
	"ygit.dev/pkg/git/packfile"
)

// fileStatus is the per-path outcome checkoutFile reports, matching the
// literal three-way naming: D when the working-tree file is missing, M
// when its hash differs from the target, None when it already matches.
type fileStatus int

const (
	statusNone fileStatus = iota
	statusModified
	statusDeleted
	statusAdded // directories only, status-reporting mode
)

func (s fileStatus) String() string {
	switch s {
	case statusModified:
		return "M"
	case statusDeleted:
		return "D"
	case statusAdded:
		return "A"
	default:
		return ""
	}
}

// reRoot applies cone-mode re-rooting: if cone is empty every path passes
// through unchanged; otherwise repoPath (with a trailing slash appended
// for directories) must have cone as a literal prefix, and the path
// materializes at what remains after stripping that prefix. A repo path
// that is merely an ancestor of cone does not materialize but is still
// traversed, since it may lead to the cone subtree.
func reRoot(cone, repoPath string, isDir bool) (rel string, ok bool) {
	if cone == "" {
		return repoPath, true
	}
	p := repoPath
	if isDir {
		p += "/"
	}
	rest, ok := strings.CutPrefix(p, cone)
	if !ok {
		return "", false
	}
	return strings.TrimSuffix(rest, "/"), true
}

// Checkout materializes ref's tree into the working directory, writing
// changed files and removing files that existed in the checked-out
// parent's tree but not in ref's.
func (r *Repo) Checkout(ref string) error {
	return r.withStores(func(cfg, refs, idx kv.Store) error {
		_, err := r.checkoutOrStatus(cfg, refs, idx, ref, io.Discard, true)
		return err
	})
}

// Status reports, without writing anything, how the working directory
// differs from ref's tree: one "A path", "M path" or "D path" line per
// out, and whether any such line was printed.
func (r *Repo) Status(out io.Writer, ref string) (changed bool, err error) {
	err = r.withStores(func(cfg, refs, idx kv.Store) error {
		var err error
		changed, err = r.checkoutOrStatus(cfg, refs, idx, ref, out, false)
		return err
	})
	return changed, err
}

func (r *Repo) checkoutOrStatus(cfg, refs, idx kv.Store, ref string, out io.Writer, write bool) (bool, error) {
	sha, err := resolveRef(refs, ref)
	if err != nil {
		return false, err
	}
	commit, err := r.getCommit(cfg, refs, idx, sha)
	if err != nil {
		return false, err
	}
	cone, err := getCone(cfg)
	if err != nil {
		return false, err
	}

	changed := false
	err = r.walkTree(idx, commit.Tree, "", func(dir string, entries object.Tree) error {
		for _, ent := range entries {
			repoPath := path.Join(dir, ent.Name)
			switch {
			case ent.Mode.IsSubmodule():
				slog.Warn("skipping submodule", "path", repoPath)
			case ent.Mode.IsDir():
				st, err := r.checkoutDir(cone, repoPath, write, out)
				if err != nil {
					return err
				}
				if st != statusNone {
					changed = true
				}
			default:
				rel, ok := reRoot(cone, repoPath, false)
				if !ok {
					continue
				}
				st, err := r.checkoutFile(idx, rel, ent.ObjectID, write)
				if err != nil {
					return err
				}
				if st != statusNone {
					fmt.Fprintf(out, "%s %s\n", st, rel)
					changed = true
				}
			}
		}
		return nil
	})
	if err != nil {
		return changed, err
	}

	if write {
		if err := r.cleanupDeleted(cfg, refs, idx, commit, cone); err != nil {
			return changed, err
		}
	}
	return changed, nil
}

func (r *Repo) checkoutDir(cone, repoPath string, write bool, out io.Writer) (fileStatus, error) {
	rel, ok := reRoot(cone, repoPath, true)
	if !ok || rel == "" {
		return statusNone, nil
	}
	target := filepath.Join(r.dir, filepath.FromSlash(rel))
	info, err := os.Stat(target)
	missing := os.IsNotExist(err)
	if err != nil && !missing {
		return statusNone, fmt.Errorf("checkout: stat %s: %w", target, err)
	}
	if write {
		if missing {
			if err := os.MkdirAll(target, 0o777); err != nil {
				return statusNone, fmt.Errorf("checkout: mkdir %s: %w", target, err)
			}
		}
		return statusNone, nil
	}
	if missing {
		fmt.Fprintf(out, "%s %s\n", statusAdded, rel)
		return statusAdded, nil
	}
	if !info.IsDir() {
		return statusNone, fmt.Errorf("checkout: %s exists and is not a directory", target)
	}
	return statusNone, nil
}

func (r *Repo) checkoutFile(idx kv.Store, relPath string, targetSha githash.SHA1, write bool) (fileStatus, error) {
	rec, ok, err := lookupIdxRecord(idx, targetSha)
	if err != nil {
		return statusNone, err
	}
	if !ok {
		return statusNone, errs.Wrap(errs.ErrMissingObject, "checkout %s", relPath)
	}

	target := filepath.Join(r.dir, filepath.FromSlash(relPath))
	status, err := compareBlob(target, targetSha)
	if err != nil {
		return statusNone, err
	}
	if write && status != statusNone {
		if err := r.writeBlob(rec, target); err != nil {
			return statusNone, err
		}
	}
	return status, nil
}

// compareBlob hashes the on-disk file at path under the canonical
// "blob <size>\x00..." framing and compares it to want.
func compareBlob(path string, want githash.SHA1) (fileStatus, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return statusDeleted, nil
	}
	if err != nil {
		return statusNone, fmt.Errorf("compare %s: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return statusNone, fmt.Errorf("compare %s: %w", path, err)
	}
	got, err := object.BlobSum(f, info.Size())
	if err != nil {
		return statusNone, fmt.Errorf("compare %s: %w", path, err)
	}
	if got == want {
		return statusNone, nil
	}
	return statusModified, nil
}

// writeBlob streams the blob at rec's pack locator into target,
// overwriting it via a temp-file-then-rename so a crash mid-write never
// leaves a half-written working-tree file.
func (r *Repo) writeBlob(rec idxRecord, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o777); err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}
	p, err := packfile.Open(r.packPath(rec.PackID))
	if err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}
	defer p.Close()
	obj, err := p.Open(int64(rec.HeaderStart))
	if err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}
	defer obj.Close()
	if obj.RealKind().Type() != object.TypeBlob {
		return fmt.Errorf("write %s: object is not a blob", target)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".tmp*")
	if err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, obj); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", target, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", target, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}
	return nil
}

// cleanupDeleted removes working-tree files that existed in the target
// commit's first parent but not in the target commit itself, provided the
// parent is already present locally: it is never fetched for this purpose.
func (r *Repo) cleanupDeleted(cfg, refs, idx kv.Store, commit *object.Commit, cone string) error {
	if len(commit.Parents) == 0 {
		return nil
	}
	parentSha := commit.Parents[0]
	if _, ok, err := lookupIdxRecord(idx, parentSha); err != nil {
		return err
	} else if !ok {
		return nil
	}
	parentCommit, err := r.getCommit(cfg, refs, idx, parentSha)
	if err != nil {
		return err
	}

	current := map[string]bool{}
	if err := r.walkTree(idx, commit.Tree, "", func(dir string, entries object.Tree) error {
		for _, ent := range entries {
			if ent.Mode.IsDir() || ent.Mode.IsSubmodule() {
				continue
			}
			if rel, ok := reRoot(cone, path.Join(dir, ent.Name), false); ok {
				current[rel] = true
			}
		}
		return nil
	}); err != nil {
		return err
	}

	return r.walkTree(idx, parentCommit.Tree, "", func(dir string, entries object.Tree) error {
		for _, ent := range entries {
			if ent.Mode.IsDir() || ent.Mode.IsSubmodule() {
				continue
			}
			rel, ok := reRoot(cone, path.Join(dir, ent.Name), false)
			if !ok || current[rel] {
				continue
			}
			target := filepath.Join(r.dir, filepath.FromSlash(rel))
			if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("checkout: remove %s: %w", target, err)
			}
		}
		return nil
	})
}
