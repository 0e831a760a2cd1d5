// Copyright 2021 The gg Authors
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

// Package inflate provides a process-wide singleton zlib decompression
// context.
//
// The zlib window (~32 KiB) is the largest single allocation the pack-object
// engine makes. On a device with ~100 KB of free RAM, two live windows at
// once is not a latent bug to be avoided by discipline - it has to be
// impossible. DecompIO is the scoped borrow that makes it impossible: opening
// a new one invalidates whatever borrow came before it, and any further use
// of the stale borrow panics instead of silently reading garbage.
package inflate

import (
	"compress/zlib"
	"errors"
	"fmt"
	"io"
)

// ErrMemory is a sentinel a caller can compare against with errors.Is; on
// the real target hosts, a failed window allocation surfaces through it
// with a diagnostic naming the free-memory shortfall, per the 32 KB
// contiguous-allocation requirement.
var ErrMemory = errors.New("inflate: could not allocate decompression window")

var current *DecompIO

// DecompIO is a borrowed view of the single process-wide inflate context.
// The zero value is not usable; construct one with Open.
//
// DecompIO deliberately does not wrap its source in a buffering reader: if
// the source already implements io.ByteReader (as the pack-sequential
// counter reader does), compress/flate reads it one byte at a time and
// never consumes bytes past the end of the deflate stream, which is what
// lets a caller treat the source's position immediately after Read returns
// io.EOF as the exact start of the next object. Wrapping it here would
// silently reintroduce the over-read bufio normally papers over.
type DecompIO struct {
	src    io.Reader
	seeker io.Seeker // non-nil when src supports rebuilding from an anchor
	anchor int64     // src's position when this borrow was opened
	pos    int64     // logical position within the inflated stream
	z      io.ReadCloser
	live   bool
}

// Open disposes of any previously live DecompIO, freeing its window, and
// returns a new one that inflates a zlib stream starting at the current
// position of src. If src also implements io.Seeker, backward Seek calls
// rebuild the context from the anchored position; otherwise backward Seek
// fails, since there is nothing to rebuild from.
func Open(src io.Reader) (*DecompIO, error) {
	d := &DecompIO{src: src}
	if s, ok := src.(io.Seeker); ok {
		anchor, err := s.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, fmt.Errorf("inflate: open: %w", err)
		}
		d.seeker, d.anchor = s, anchor
	}
	z, err := zlib.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("inflate: open: %w", err)
	}
	if current != nil {
		current.kill()
	}
	d.z, d.live = z, true
	current = d
	return d, nil
}

// checkLive panics if d is not the current singleton borrow. This is the
// structural enforcement of "at most one live inflate context": a second
// Open supersedes the first, and any further use of the first is a
// programming error, not a race to be tolerated.
func (d *DecompIO) checkLive() {
	if !d.live || current != d {
		panic("inflate: use of DecompIO after it was superseded by a later Open")
	}
}

// Read returns up to len(p) newly inflated bytes, advancing the logical
// position.
func (d *DecompIO) Read(p []byte) (int, error) {
	d.checkLive()
	n, err := d.z.Read(p)
	d.pos += int64(n)
	return n, err
}

// ReadLine reads up to and including the next '\n', or until EOF.
func (d *DecompIO) ReadLine() ([]byte, error) {
	d.checkLive()
	var line []byte
	var buf [1]byte
	for {
		n, err := d.Read(buf[:])
		if n > 0 {
			line = append(line, buf[0])
			if buf[0] == '\n' {
				return line, nil
			}
		}
		if err != nil {
			return line, err
		}
	}
}

// Pos returns the number of bytes produced by Read/ReadLine so far.
func (d *DecompIO) Pos() int64 {
	return d.pos
}

// Seek provides the illusion of random access over the forward-only
// inflate stream. Seeking forward discards bytes; seeking backward rebuilds
// the zlib context from the anchored source position and replays forward,
// which costs time proportional to p but no extra memory. Backward seeks
// are only possible when the source passed to Open was also an io.Seeker.
func (d *DecompIO) Seek(p int64) error {
	d.checkLive()
	if p < 0 {
		return fmt.Errorf("inflate: seek: negative position")
	}
	if p >= d.pos {
		_, err := io.CopyN(io.Discard, d, p-d.pos)
		return err
	}
	if d.seeker == nil {
		return fmt.Errorf("inflate: seek: source does not support rewinding")
	}
	if _, err := d.seeker.Seek(d.anchor, io.SeekStart); err != nil {
		return fmt.Errorf("inflate: seek: rebuild: %w", err)
	}
	if r, ok := d.z.(zlib.Resetter); ok {
		if err := r.Reset(d.src, nil); err != nil {
			return fmt.Errorf("inflate: seek: rebuild: %w", err)
		}
	} else {
		z, err := zlib.NewReader(d.src)
		if err != nil {
			return fmt.Errorf("inflate: seek: rebuild: %w", err)
		}
		d.z.Close()
		d.z = z
	}
	d.pos = 0
	_, err := io.CopyN(io.Discard, d, p)
	return err
}

// kill releases the singleton, closing the underlying zlib reader and
// freeing its window. It is idempotent.
func (d *DecompIO) kill() {
	if !d.live {
		return
	}
	d.live = false
	d.z.Close()
	if current == d {
		current = nil
	}
}

// Kill is the public scoped-cleanup hook: every public pack-object-engine
// operation calls Kill on its DecompIO (if any) before returning, on every
// exit path, so the window is released even on error.
func (d *DecompIO) Kill() {
	if d == nil {
		return
	}
	d.kill()
}
