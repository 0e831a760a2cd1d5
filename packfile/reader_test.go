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

package packfile

import (
	"bytes"
	"compress/zlib"
	"crypto/sha1"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"ygit.dev/pkg/git/object"
)

// appendObjectHeader appends the wire length+type header for a base
// (non-delta) object, mirroring readLengthType's encoding in reverse.
func appendObjectHeader(buf *bytes.Buffer, typ ObjectType, size int64) {
	first := byte(typ&7) << 4
	low := byte(size & 0xf)
	rest := uint64(size) >> 4
	if rest > 0 {
		first |= 0x80
	}
	buf.WriteByte(first | low)
	for rest > 0 {
		b := byte(rest & 0x7f)
		rest >>= 7
		if rest > 0 {
			b |= 0x80
		}
		buf.WriteByte(b)
	}
}

func appendObject(t *testing.T, buf *bytes.Buffer, typ ObjectType, payload []byte) {
	t.Helper()
	appendObjectHeader(buf, typ, int64(len(payload)))
	var zbuf bytes.Buffer
	w := zlib.NewWriter(&zbuf)
	if _, err := w.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	buf.Write(zbuf.Bytes())
}

// buildPack assembles a minimal but well-formed packfile containing objs in
// order, followed by a zero-filled (and therefore intentionally invalid)
// 20-byte trailer checksum, which this package never verifies.
func buildPack(t *testing.T, objs []struct {
	typ     ObjectType
	payload []byte
}) string {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("PACK")
	var lenVersion [8]byte
	binary.BigEndian.PutUint32(lenVersion[0:4], 2)
	binary.BigEndian.PutUint32(lenVersion[4:8], uint32(len(objs)))
	buf.Write(lenVersion[:])
	for _, o := range objs {
		appendObject(t, &buf, o.typ, o.payload)
	}
	buf.Write(make([]byte, 20))

	path := filepath.Join(t.TempDir(), "test.pack")
	if err := os.WriteFile(path, buf.Bytes(), 0o666); err != nil {
		t.Fatal(err)
	}
	return path
}

func blobSHA(payload []byte) (sum [20]byte) {
	h := sha1.New()
	h.Write(object.AppendPrefix(nil, object.TypeBlob, int64(len(payload))))
	h.Write(payload)
	h.Sum(sum[:0])
	return sum
}

func TestPackTrailerAndHeaderWalk(t *testing.T) {
	objs := []struct {
		typ     ObjectType
		payload []byte
	}{
		{Blob, []byte("hello")},
		{Blob, bytes.Repeat([]byte("x"), 200)}, // forces a multi-byte size varint
		{Tree, []byte("a tree-shaped payload, not actually parsed here")},
	}
	path := buildPack(t, objs)

	p, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	count, err := p.Trailer()
	if err != nil {
		t.Fatal(err)
	}
	if count != uint32(len(objs)) {
		t.Fatalf("Trailer() object count = %d; want %d", count, len(objs))
	}

	offset := int64(12)
	for i, o := range objs {
		hdr, err := p.Header(offset)
		if err != nil {
			t.Fatalf("object %d: Header: %v", i, err)
		}
		if hdr.Type != o.typ {
			t.Errorf("object %d: Type = %v; want %v", i, hdr.Type, o.typ)
		}
		if hdr.Size != int64(len(o.payload)) {
			t.Errorf("object %d: Size = %d; want %d", i, hdr.Size, len(o.payload))
		}

		sha, kind, size, err := p.Digest(offset)
		if err != nil {
			t.Fatalf("object %d: Digest: %v", i, err)
		}
		if kind != o.typ {
			t.Errorf("object %d: Digest kind = %v; want %v", i, kind, o.typ)
		}
		if size != int64(len(o.payload)) {
			t.Errorf("object %d: Digest size = %d; want %d", i, size, len(o.payload))
		}
		if o.typ == Blob {
			if want := blobSHA(o.payload); sha != want {
				t.Errorf("object %d: Digest sha = %x; want %x", i, sha, want)
			}
		}

		next, err := p.NextOffset(offset)
		if err != nil {
			t.Fatalf("object %d: NextOffset: %v", i, err)
		}
		if i == len(objs)-1 {
			if next != int64(len(mustReadAll(t, path)))-20 {
				t.Errorf("object %d (last): NextOffset = %d; want pack size minus the 20-byte trailer", i, next)
			}
		}
		offset = next
	}
}

func mustReadAll(t *testing.T, path string) []byte {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestReadTrailerBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pack")
	if err := os.WriteFile(path, []byte("NOPE\x00\x00\x00\x02\x00\x00\x00\x00"), 0o666); err != nil {
		t.Fatal(err)
	}
	p, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	if _, err := p.Trailer(); err == nil {
		t.Error("Trailer() on a pack with a bad magic did not return an error")
	}
}
