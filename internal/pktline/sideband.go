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

package pktline

import (
	"fmt"
	"io"
)

// Sideband channel numbers: the first payload byte of a Data packet sent in
// the packfile section of a fetch response negotiated with side-band or
// side-band-64k.
const (
	PackData = 0x01
	Progress = 0x02
	Error    = 0x03
)

// ErrSideband wraps the text carried by a channel-3 (error) packet. A
// sideband error aborts the fetch with the remote's text.
type ErrSideband struct {
	Text string
}

func (e *ErrSideband) Error() string {
	return fmt.Sprintf("remote: %s", e.Text)
}

// DemuxPack reads pkt-lines from r until the terminating flush packet,
// teeing channel-1 bytes to pack and channel-2 lines to progress (which may
// be nil to discard them). A channel-3 packet aborts the read and is
// returned as *ErrSideband. Any packet whose first byte is not one of the
// three sideband channels is a protocol error at this point in the stream.
func DemuxPack(r io.Reader, pack io.Writer, progress io.Writer) error {
	pr := NewReader(r)
	for pr.Next() {
		if pr.Type() == Flush {
			return nil
		}
		if pr.Type() != Data {
			continue
		}
		data, err := pr.Bytes()
		if err != nil {
			return err
		}
		if len(data) == 0 {
			continue
		}
		switch data[0] {
		case PackData:
			if _, err := pack.Write(data[1:]); err != nil {
				return fmt.Errorf("pktline: write pack data: %w", err)
			}
		case Progress:
			if progress != nil {
				progress.Write(data[1:])
			}
		case Error:
			return &ErrSideband{Text: string(data[1:])}
		default:
			return fmt.Errorf("pktline: unexpected control byte 0x%02x in packfile section", data[0])
		}
	}
	if err := pr.Err(); err != nil {
		return err
	}
	return nil
}
