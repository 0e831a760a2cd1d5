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
	"io"

	"ygit.dev/pkg/git/githash"
	"ygit.dev/pkg/git/internal/pktline"
)

// FetchRequest informs the remote which objects to include in the
// packfile, in protocol v2 command=fetch terms.
type FetchRequest struct {
	// Want is the object the client wants; pre-resolved via the refs DB.
	Want githash.SHA1
	// Have is every SHA-1 already present in the idx DB, excluding HEAD.
	Have []githash.SHA1
	// Shallow requests only the wanted commit's own trees/blobs
	// ("deepen 1"), with no ancestor history.
	Shallow bool
	// Quiet suppresses server progress lines ("no-progress") and also
	// sends "include-tag".
	Quiet bool
	// Progress, if non-nil, receives sideband-2 progress text while the
	// packfile is read. It may be nil to discard progress output.
	Progress io.Writer
}

// Fetch performs one round of protocol v2 want/have negotiation and
// streams the resulting packfile's channel-1 bytes into pack (typically a
// newly created "<n>.pack" file), per the wire body order: "command=fetch",
// "agent=...", "object-format=sha1", a capability flush, "ofs-delta",
// optionally "no-progress"/"include-tag" when quiet, optionally "deepen 1"
// when shallow, "want <sha>", "have <sha>" for each Have, "done" and a
// terminating flush.
func (r *Remote) Fetch(req *FetchRequest, pack io.Writer) error {
	var buf []byte
	buf = pktline.AppendString(buf, "command=fetch\n")
	buf = pktline.AppendString(buf, "agent=ygit/1\n")
	buf = pktline.AppendString(buf, "object-format=sha1\n")
	buf = pktline.AppendDelim(buf)
	buf = pktline.AppendString(buf, "ofs-delta\n")
	if req.Quiet {
		buf = pktline.AppendString(buf, "no-progress\n")
		buf = pktline.AppendString(buf, "include-tag\n")
	}
	if req.Shallow {
		buf = pktline.AppendString(buf, "deepen 1\n")
	}
	buf = pktline.AppendString(buf, "want "+req.Want.String()+"\n")
	for _, have := range req.Have {
		if have == req.Want {
			continue
		}
		buf = pktline.AppendString(buf, "have "+have.String()+"\n")
	}
	buf = pktline.AppendString(buf, "done\n")
	buf = pktline.AppendFlush(buf)

	resp, err := r.doHTTP("POST", "/git-upload-pack", map[string]string{
		"Content-Type": "application/x-git-upload-pack-request",
		"Git-Protocol": "version=2",
	}, bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	pr := pktline.NewReader(resp.Body)
	if err := skipToPackfileSection(pr); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	// pktline.Reader performs no internal buffering, so resp.Body's read
	// cursor sits exactly after the "packfile" marker packet: the
	// sideband-multiplexed pack stream can be demuxed straight from it.
	if err := pktline.DemuxPack(resp.Body, pack, req.Progress); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	return nil
}

// skipToPackfileSection consumes the acknowledgments/shallow-info sections
// that may precede the "packfile" section marker, since this client always
// sends "done" and therefore never receives anything but an immediate
// packfile once acknowledgments (if any) are skipped.
func skipToPackfileSection(pr *pktline.Reader) error {
	for {
		if !pr.Next() {
			return fmt.Errorf("parse response: %w", pr.Err())
		}
		if pr.Type() != pktline.Data {
			return fmt.Errorf("parse response: unexpected section boundary")
		}
		line, err := pr.Text()
		if err != nil {
			return err
		}
		switch string(line) {
		case "packfile":
			return nil
		case "acknowledgments", "shallow-info":
			// Drain until the next delim/flush control line.
			for pr.Next() && pr.Type() == pktline.Data {
			}
			if err := pr.Err(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("parse response: unexpected section %q", line)
		}
	}
}
