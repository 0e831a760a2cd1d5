// Copyright 2020 The gg Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package packfile implements the pack-object engine: header decoding,
// ofs-delta reconstruction and SHA-1 digesting of objects stored in a Git
// packfile, all routed through the single process-wide inflate.DecompIO so
// at most one zlib window is ever live.
package packfile

import (
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"ygit.dev/pkg/git/errs"
	"ygit.dev/pkg/git/githash"
	"ygit.dev/pkg/git/internal/inflate"
	"ygit.dev/pkg/git/object"
)

// ByteReader is a combination of io.Reader and io.ByteReader. Sources
// passed through inflate.Open as a ByteReader are read by compress/flate
// one byte at a time, which is what lets this package treat the source's
// position immediately after a zlib stream ends as the exact start of
// whatever follows it.
type ByteReader interface {
	io.Reader
	io.ByteReader
}

// A Header holds a single object header in a packfile.
type Header struct {
	// Offset is the location in the packfile this object's header starts
	// at. For OffsetDelta objects, it is also the point BaseOffset is
	// relative to.
	Offset int64

	Type ObjectType

	// Size is the size the wire format claims for the object: for base
	// kinds this is the inflated object size; for OffsetDelta it is the
	// size of the delta instruction stream, not the reconstructed object
	// (see ObjectReader.Size for that).
	Size int64

	// InflateStart is the offset of the first byte of the compressed
	// payload, immediately following the header (and, for OffsetDelta,
	// the base-offset varint).
	InflateStart int64

	// BaseOffset is the Offset of the base object's Header, valid when
	// Type == OffsetDelta.
	BaseOffset int64
	// BaseObject is set when Type == RefDelta. This client never
	// requests ref-delta and does not resolve it.
	BaseObject githash.SHA1
}

// An ObjectType holds the wire type of an object inside a packfile.
type ObjectType = object.WireKind

// Object types, restated from package object for convenience.
const (
	Commit      = object.WireCommit
	Tree        = object.WireTree
	Blob        = object.WireBlob
	Tag         = object.WireTag
	OffsetDelta = object.WireOfsDelta
	RefDelta    = object.WireRefDelta
)

// Pack is an on-disk packfile opened for random access. Pack files are
// opened per-operation and never cached, per the scoped-file-handle
// requirement of the resource model.
type Pack struct {
	f    *os.File
	size int64
}

// Open opens the pack file at path for reading.
func Open(path string) (*Pack, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("packfile: open: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("packfile: open: %w", err)
	}
	return &Pack{f: f, size: info.Size()}, nil
}

// Close closes the underlying file handle.
func (p *Pack) Close() error {
	return p.f.Close()
}

// ReadTrailer validates the "PACK" magic and version at the start of the
// pack and returns the declared object count. Per the design's explicit
// non-goal, the 20-byte trailer checksum itself is never verified.
func ReadTrailer(r ByteReader) (objectCount uint32, err error) {
	var buf [12]byte
	if _, err := io.ReadFull(r, buf[:]); errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("packfile: read header: %w", io.ErrUnexpectedEOF)
	} else if err != nil {
		return 0, fmt.Errorf("packfile: read header: %w", err)
	}
	if buf[0] != 'P' || buf[1] != 'A' || buf[2] != 'C' || buf[3] != 'K' {
		return 0, errors.New("packfile: read header: incorrect signature")
	}
	version := binary.BigEndian.Uint32(buf[4:8])
	if version != 2 {
		return 0, fmt.Errorf("packfile: read header: version is %d (only supports 2)", version)
	}
	return binary.BigEndian.Uint32(buf[8:12]), nil
}

// readHeaderAt decodes the object header at offset, returning it alongside
// a ByteReader positioned at the first byte of the compressed payload. The
// returned reader counts bytes it yields so that (offset + count) is
// InflateStart.
func (p *Pack) readHeaderAt(offset int64) (*Header, *byteReaderCounter, error) {
	brc := &byteReaderCounter{r: io.NewSectionReader(p.f, offset, p.size-offset)}
	hdr := &Header{Offset: offset}
	var err error
	hdr.Type, hdr.Size, err = readLengthType(brc)
	if err != nil {
		return nil, nil, fmt.Errorf("packfile: object at %d: %w", offset, err)
	}
	switch hdr.Type {
	case OffsetDelta:
		off, err := readOffset(brc)
		if err != nil {
			return nil, nil, fmt.Errorf("packfile: object at %d: %w", offset, err)
		}
		hdr.BaseOffset = offset + off
	case RefDelta:
		if _, err := io.ReadFull(brc, hdr.BaseObject[:]); err != nil {
			return nil, nil, fmt.Errorf("packfile: object at %d: read ref-delta base: %w", offset, err)
		}
	}
	hdr.InflateStart = offset + brc.n
	return hdr, brc, nil
}

// Header reads and returns the header at the given pack offset, without
// opening a decompression context.
func (p *Pack) Header(offset int64) (*Header, error) {
	hdr, _, err := p.readHeaderAt(offset)
	return hdr, err
}

// Trailer reads the "PACK" magic, version and object count from the start
// of the pack. Per the design's explicit non-goal, the 20-byte checksum
// trailer at the end of the file is never read or verified.
func (p *Pack) Trailer() (objectCount uint32, err error) {
	return ReadTrailer(&byteReaderCounter{r: io.NewSectionReader(p.f, 0, p.size)})
}

// NextOffset returns the pack offset immediately following the object at
// offset: the header bytes plus however many bytes its own
// zlib-compressed stream occupies (for an ofs-delta object, the delta
// instruction stream's own compressed length, not the reconstructed
// payload's). Sequential pack indexing walks the object table with this,
// since nothing in the pack format records object boundaries directly.
func (p *Pack) NextOffset(offset int64) (int64, error) {
	_, brc, err := p.readHeaderAt(offset)
	if err != nil {
		return 0, err
	}
	d, err := inflate.Open(brc)
	if err != nil {
		return 0, fmt.Errorf("packfile: object at %d: %w", offset, err)
	}
	_, err = io.Copy(io.Discard, d)
	d.Kill()
	if err != nil {
		return 0, fmt.Errorf("packfile: object at %d: %w", offset, err)
	}
	return offset + brc.n, nil
}

func readLengthType(br io.ByteReader) (ObjectType, int64, error) {
	first, err := br.ReadByte()
	if err != nil {
		return 0, 0, fmt.Errorf("read object length+type: %w", err)
	}
	typ := ObjectType(first >> 4 & 7)
	if typ == 0 || typ == 5 {
		return 0, 0, fmt.Errorf("read object length+type: invalid type %d", int(typ))
	}
	n := int64(first & 0xf)
	if first&0x80 != 0 {
		nn, err := binary.ReadUvarint(br)
		if err != nil {
			return typ, 0, fmt.Errorf("read object length+type: %w", err)
		}
		if nn >= 1<<(63-4) {
			return typ, 0, fmt.Errorf("read object length+type: too large")
		}
		n |= int64(nn << 4)
	}
	return typ, n, nil
}

// readOffset parses the offset encoding from
// https://git-scm.com/docs/pack-format: n bytes with MSB set in all but the
// last one. The offset is constructed by concatenating the lower 7 bits of
// each byte and, for n >= 2, adding 2^7 + 2^14 + ... + 2^(7*(n-1)).
func readOffset(br io.ByteReader) (int64, error) {
	var bits int64
	var accum int64
	for i := 0; i < 8; i++ {
		b, err := br.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("read offset: %w", err)
		}
		bits <<= 7
		bits |= int64(b & 0x7f)
		if b&0x80 == 0 {
			return -(bits + accum), nil
		}
		accum += 1 << ((i + 1) * 7)
	}
	return 0, fmt.Errorf("read offset: too large")
}

type byteReaderCounter struct {
	r io.Reader
	n int64
}

func (brc *byteReaderCounter) Read(p []byte) (int, error) {
	n, err := brc.r.Read(p)
	brc.n += int64(n)
	return n, err
}

func (brc *byteReaderCounter) ReadByte() (byte, error) {
	var buf [1]byte
	n, err := brc.r.Read(buf[:])
	if n > 0 {
		brc.n++
		return buf[0], nil
	}
	if err == nil {
		err = io.ErrNoProgress
	}
	return 0, err
}

// Seek forwards to the underlying io.SectionReader, which readHeaderAt
// always constructs brc.r as. This is what lets inflate.Open treat brc as
// an io.Seeker and rebuild a base object's decompression context from its
// anchor when a delta copy command points backward into it.
func (brc *byteReaderCounter) Seek(offset int64, whence int) (int64, error) {
	s, ok := brc.r.(io.Seeker)
	if !ok {
		return 0, fmt.Errorf("byteReaderCounter: underlying reader does not support seeking")
	}
	return s.Seek(offset, whence)
}

// Digest follows the object at offset to its real (non-delta) kind,
// reconstructs its full payload and returns the SHA-1 identity Git assigns
// it: SHA1("<kind> <size>\x00" || payload). It fails with
// errs.ErrUnknownObjectKind if the resolved kind is not commit, tree or
// blob.
func (p *Pack) Digest(offset int64) (githash.SHA1, ObjectType, int64, error) {
	obj, err := p.openObject(offset, 0)
	if err != nil {
		return githash.SHA1{}, 0, 0, err
	}
	defer obj.Close()
	kind := obj.RealKind()
	typ := kind.Type()
	if typ == "" || typ == object.TypeTag {
		return githash.SHA1{}, kind, 0, errs.Wrap(errs.ErrUnknownObjectKind, "digest object at %d: kind %v", offset, kind)
	}
	size := obj.Size()
	h := sha1.New()
	h.Write(object.AppendPrefix(nil, typ, size))
	if _, err := io.Copy(h, obj); err != nil {
		return githash.SHA1{}, kind, 0, fmt.Errorf("packfile: digest object at %d: %w", offset, err)
	}
	var sum githash.SHA1
	h.Sum(sum[:0])
	return sum, kind, size, nil
}

// Open returns a reader over the fully reconstructed payload of the object
// at offset, following any ofs-delta chain. The caller must call Close.
func (p *Pack) Open(offset int64) (*ObjectReader, error) {
	return p.openObject(offset, 0)
}
