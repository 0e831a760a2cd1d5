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
	"encoding/binary"
	"fmt"

	"ygit.dev/pkg/git/kv"
	"ygit.dev/pkg/git/packfile"

	"ygit.dev/pkg/git/githash"
)

// idxRecordSize is the fixed wire size of an idx record: pack_id (8) +
// kind (1) + inflate_start (8) + inflated_size (8) + header_start (8).
const idxRecordSize = 33

// idxRecord is the value stored under a SHA-1 key in the idx store: enough
// to seek directly to an object's compressed payload in its pack without
// re-walking the pack from the start.
type idxRecord struct {
	PackID       uint64
	Kind         packfile.ObjectType
	InflateStart uint64
	Size         uint64
	HeaderStart  uint64
}

func (rec idxRecord) MarshalBinary() []byte {
	var buf [idxRecordSize]byte
	binary.BigEndian.PutUint64(buf[0:8], rec.PackID)
	buf[8] = byte(rec.Kind)
	binary.BigEndian.PutUint64(buf[9:17], rec.InflateStart)
	binary.BigEndian.PutUint64(buf[17:25], rec.Size)
	binary.BigEndian.PutUint64(buf[25:33], rec.HeaderStart)
	return buf[:]
}

func unmarshalIdxRecord(b []byte) (idxRecord, error) {
	if len(b) != idxRecordSize {
		return idxRecord{}, fmt.Errorf("idx record: want %d bytes, got %d", idxRecordSize, len(b))
	}
	return idxRecord{
		PackID:       binary.BigEndian.Uint64(b[0:8]),
		Kind:         packfile.ObjectType(b[8]),
		InflateStart: binary.BigEndian.Uint64(b[9:17]),
		Size:         binary.BigEndian.Uint64(b[17:25]),
		HeaderStart:  binary.BigEndian.Uint64(b[25:33]),
	}, nil
}

// lookupIdxRecord returns the idx record for sha, or ok == false if sha is
// not present in idx.
func lookupIdxRecord(idx kv.Store, sha githash.SHA1) (idxRecord, bool, error) {
	b, ok := idx.Get(sha[:])
	if !ok {
		return idxRecord{}, false, nil
	}
	rec, err := unmarshalIdxRecord(b)
	if err != nil {
		return idxRecord{}, false, fmt.Errorf("repo: idx lookup %v: %w", sha, err)
	}
	return rec, true, nil
}

func putIdxRecord(idx kv.Store, sha githash.SHA1, rec idxRecord) {
	idx.Put(append([]byte(nil), sha[:]...), rec.MarshalBinary())
}
