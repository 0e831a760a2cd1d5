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

package client

import (
	"bytes"
	"fmt"

	"ygit.dev/pkg/git/githash"
	"ygit.dev/pkg/git/internal/pktline"
)

// ListRefs issues GET <path>/info/refs?service=git-upload-pack and parses
// the dumb-protocol ref advertisement: lines of "#..." are service
// markers and are skipped, the first ref line carries a NUL-separated
// (and ignored) capabilities string, and every following line is
// "<40-hex-sha> <refname>\n".
func (r *Remote) ListRefs() ([]Ref, error) {
	resp, err := r.doHTTP("GET", "/info/refs?service=git-upload-pack", nil, nil, 0)
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	defer resp.Body.Close()

	pr := newPktReader(resp.Body)
	var refs []Ref
	first := true
	for pr.Next() {
		if pr.Type() != pktline.Data {
			// The "# service=..." banner's flush and the advertisement's
			// final flush are both non-data packets: skip them and keep
			// reading until the stream itself ends.
			continue
		}
		line, err := pr.Bytes()
		if err != nil {
			return nil, fmt.Errorf("list refs: %w", err)
		}
		if len(line) > 0 && line[0] == '#' {
			continue
		}
		line = bytes.TrimRight(line, "\n")
		if first {
			if i := bytes.IndexByte(line, 0); i != -1 {
				line = line[:i]
			}
			first = false
		}
		i := bytes.IndexByte(line, ' ')
		if i == -1 {
			continue
		}
		id, err := parseObjectID(line[:i])
		if err != nil {
			return nil, fmt.Errorf("list refs: %w", err)
		}
		name := githash.Ref(line[i+1:])
		if !name.IsValid() {
			continue
		}
		refs = append(refs, Ref{ID: id, Name: name})
	}
	if err := pr.Err(); err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	return refs, nil
}
