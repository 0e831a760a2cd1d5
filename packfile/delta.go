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

package packfile

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"ygit.dev/pkg/git/errs"
	"ygit.dev/pkg/git/internal/inflate"
)

// maxDeltaDepth bounds ofs-delta chain recursion. Git itself caps chain
// depth at 50 when writing packs; this is a generous multiple used only to
// turn a malformed or adversarial pack into an error instead of a stack
// overflow.
const maxDeltaDepth = 256

// deltaCmd is one instruction from a parsed delta program: either a copy
// from the base object (Literal == nil) or an insert of Literal bytes.
// OutputPos is the command's starting position in the reconstructed
// object; commands are stored in non-decreasing OutputPos order so the
// command covering any output position can be found by binary search.
type deltaCmd struct {
	OutputPos int64
	Length    int64
	BaseStart int64 // valid when Literal == nil
	Literal   []byte
}

// ObjectReader streams the reconstructed payload of a single pack object,
// resolving an ofs-delta chain lazily and sequentially: the delta
// instruction programs for every level of the chain are parsed eagerly (and
// are small), but only one base object's bytes are ever being decompressed
// at a time, so only one inflate.DecompIO is alive for the lifetime of the
// returned reader.
type ObjectReader struct {
	kind ObjectType // this object's own wire kind (may be OffsetDelta)
	size int64      // reconstructed size

	base *ObjectReader // nil for base kinds
	d    *inflate.DecompIO
	cmds []deltaCmd

	pos int64
}

func (p *Pack) openObject(offset int64, depth int) (*ObjectReader, error) {
	if depth > maxDeltaDepth {
		return nil, errs.Wrap(errs.ErrCorruptRepository, "packfile: delta chain exceeds %d levels", maxDeltaDepth)
	}
	hdr, brc, err := p.readHeaderAt(offset)
	if err != nil {
		return nil, err
	}
	switch hdr.Type {
	case Commit, Tree, Blob:
		d, err := inflate.Open(brc)
		if err != nil {
			return nil, fmt.Errorf("packfile: object at %d: %w", offset, err)
		}
		return &ObjectReader{kind: hdr.Type, size: hdr.Size, d: d}, nil
	case Tag:
		return nil, errs.Wrap(errs.ErrUnsupportedObject, "packfile: object at %d: tag objects are not requested by this client", offset)
	case RefDelta:
		return nil, errs.Wrap(errs.ErrUnsupportedObject, "packfile: object at %d: ref-delta is not requested by this client", offset)
	case OffsetDelta:
		cmds, objSize, err := parseDeltaProgram(brc)
		if err != nil {
			return nil, fmt.Errorf("packfile: object at %d: %w", offset, err)
		}
		base, err := p.openObject(hdr.BaseOffset, depth+1)
		if err != nil {
			return nil, err
		}
		return &ObjectReader{kind: hdr.Type, size: objSize, base: base, cmds: cmds}, nil
	default:
		return nil, errs.Wrap(errs.ErrUnknownObjectKind, "packfile: object at %d: wire kind %d", offset, hdr.Type)
	}
}

// parseDeltaProgram opens a DecompIO over the delta instruction stream,
// reads the two header varints and every instruction, then kills the
// DecompIO: per the design, the instruction list is materialized eagerly
// (it's small) and reconstruction against the base happens lazily.
func parseDeltaProgram(src ByteReader) ([]deltaCmd, int64, error) {
	d, err := inflate.Open(src)
	if err != nil {
		return nil, 0, fmt.Errorf("parse delta program: %w", err)
	}
	defer d.Kill()
	br := deltaByteReader{d}

	if _, err := binary.ReadUvarint(br); err != nil {
		return nil, 0, fmt.Errorf("parse delta program: base size: %w", err)
	}
	objSize, err := binary.ReadUvarint(br)
	if err != nil {
		return nil, 0, fmt.Errorf("parse delta program: object size: %w", err)
	}

	var cmds []deltaCmd
	var outPos int64
	for {
		opByte, err := br.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("parse delta program: %w", err)
		}
		switch {
		case opByte == 0x00:
			// Reserved, never emitted.
			continue
		case opByte&0x80 != 0:
			var offsetBytes [4]byte
			var lengthBytes [3]byte
			for i := 0; i < 4; i++ {
				if opByte&(1<<uint(i)) != 0 {
					if offsetBytes[i], err = br.ReadByte(); err != nil {
						return nil, 0, fmt.Errorf("parse delta program: copy offset: %w", err)
					}
				}
			}
			for i := 0; i < 3; i++ {
				if opByte&(1<<uint(4+i)) != 0 {
					if lengthBytes[i], err = br.ReadByte(); err != nil {
						return nil, 0, fmt.Errorf("parse delta program: copy length: %w", err)
					}
				}
			}
			baseStart := int64(binary.LittleEndian.Uint32(offsetBytes[:]))
			length := int64(lengthBytes[0]) | int64(lengthBytes[1])<<8 | int64(lengthBytes[2])<<16
			if length == 0 {
				length = 0x10000
			}
			cmds = append(cmds, deltaCmd{OutputPos: outPos, Length: length, BaseStart: baseStart})
			outPos += length
		default:
			n := int64(opByte)
			literal := make([]byte, n)
			if _, err := io.ReadFull(br, literal); err != nil {
				return nil, 0, fmt.Errorf("parse delta program: insert: %w", err)
			}
			cmds = append(cmds, deltaCmd{OutputPos: outPos, Length: n, Literal: literal})
			outPos += n
		}
	}
	return cmds, int64(objSize), nil
}

// deltaByteReader adapts *inflate.DecompIO to io.ByteReader for use with
// encoding/binary.ReadUvarint and io.ReadFull.
type deltaByteReader struct {
	d *inflate.DecompIO
}

func (r deltaByteReader) ReadByte() (byte, error) {
	var buf [1]byte
	_, err := io.ReadFull(r.d, buf[:])
	return buf[0], err
}

func (r deltaByteReader) Read(p []byte) (int, error) {
	return r.d.Read(p)
}

// RealKind follows the ofs-delta chain to its base object and returns its
// kind. digest() requires this, since the canonical-form SHA-1 uses the
// real kind together with the delta-resolved size, not the wire kind of
// the outermost delta.
func (o *ObjectReader) RealKind() ObjectType {
	if o.base == nil {
		return o.kind
	}
	return o.base.RealKind()
}

// Size returns the reconstructed (delta-resolved) size of the object.
func (o *ObjectReader) Size() int64 {
	return o.size
}

// Read implements io.Reader, producing the reconstructed payload
// sequentially from the current logical position.
func (o *ObjectReader) Read(p []byte) (int, error) {
	if o.d != nil {
		return o.d.Read(p)
	}
	return o.readDelta(p)
}

func (o *ObjectReader) readDelta(p []byte) (int, error) {
	if o.pos >= o.size {
		return 0, io.EOF
	}
	i := sort.Search(len(o.cmds), func(i int) bool {
		return o.cmds[i].OutputPos+o.cmds[i].Length > o.pos
	})
	if i >= len(o.cmds) {
		return 0, io.EOF
	}
	cmd := o.cmds[i]
	within := o.pos - cmd.OutputPos
	avail := cmd.Length - within
	n := int64(len(p))
	if n > avail {
		n = avail
	}
	if cmd.Literal != nil {
		copy(p[:n], cmd.Literal[within:within+n])
	} else {
		if err := o.base.Seek(cmd.BaseStart + within); err != nil {
			return 0, fmt.Errorf("packfile: delta copy: %w", err)
		}
		if _, err := io.ReadFull(o.base, p[:n]); err != nil {
			return 0, fmt.Errorf("packfile: delta copy: %w", err)
		}
	}
	o.pos += n
	return int(n), nil
}

// Seek repositions the reader's logical position within the reconstructed
// object. For a base object this rewinds/fast-forwards its DecompIO; for a
// delta object it is purely bookkeeping, since the next Read resolves the
// command covering the new position on demand.
func (o *ObjectReader) Seek(p int64) error {
	if o.d != nil {
		return o.d.Seek(p)
	}
	o.pos = p
	return nil
}

// Close releases resources held by the reader, including the inflate
// singleton borrow at the bottom of any delta chain.
func (o *ObjectReader) Close() error {
	if o.d != nil {
		o.d.Kill()
		return nil
	}
	return o.base.Close()
}
