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
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"ygit.dev/pkg/git/githash"
	"ygit.dev/pkg/git/internal/pktline"
)

const (
	mainSHA = "1111111111111111111111111111111111111111"
	tagSHA  = "2222222222222222222222222222222222222222"
)

func refAdvertisementBody() []byte {
	var buf []byte
	buf = pktline.AppendString(buf, "# service=git-upload-pack\n")
	buf = pktline.AppendFlush(buf)
	buf = pktline.AppendString(buf, mainSHA+" refs/heads/main\x00 multi_ack ofs-delta\n")
	buf = pktline.AppendString(buf, tagSHA+" refs/tags/v1\n")
	buf = pktline.AppendFlush(buf)
	return buf
}

func TestListRefs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/info/refs" || req.URL.Query().Get("service") != "git-upload-pack" {
			http.Error(w, "unexpected request", http.StatusNotFound)
			return
		}
		w.Write(refAdvertisementBody())
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	r, err := NewRemote(u, nil)
	if err != nil {
		t.Fatal(err)
	}
	refs, err := r.ListRefs()
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 2 {
		t.Fatalf("ListRefs returned %d refs; want 2: %+v", len(refs), refs)
	}
	wantMain, _ := githash.ParseSHA1(mainSHA)
	wantTag, _ := githash.ParseSHA1(tagSHA)
	if refs[0].Name != githash.Ref("refs/heads/main") || refs[0].ID != wantMain {
		t.Errorf("refs[0] = %+v; want refs/heads/main -> %v", refs[0], wantMain)
	}
	if refs[1].Name != githash.Ref("refs/tags/v1") || refs[1].ID != wantTag {
		t.Errorf("refs[1] = %+v; want refs/tags/v1 -> %v", refs[1], wantTag)
	}
}

func TestNewRemoteRejectsUnsupportedScheme(t *testing.T) {
	u, err := url.Parse("git://example.com/repo.git")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewRemote(u, nil); err == nil {
		t.Error("NewRemote with a git:// URL did not return an error")
	}
}

func TestListRefsPropagatesRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	r, err := NewRemote(u, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.ListRefs(); err == nil {
		t.Error("ListRefs against a 403 response did not return an error")
	}
}

// packfilePayload builds a minimal pkt-line body for the v2 fetch response:
// a "packfile" section marker followed by one sideband channel-1 packet
// carrying packBytes and a terminating flush.
func packfileResponseBody(packBytes []byte) []byte {
	var buf []byte
	buf = pktline.AppendString(buf, "packfile\n")
	buf = pktline.Append(buf, append([]byte{pktline.PackData}, packBytes...))
	buf = pktline.AppendFlush(buf)
	return buf
}

func TestFetchDemuxesPackfileSection(t *testing.T) {
	packBytes := []byte("PACK-fake-content")
	var gotBody []byte
	var gotContentType, gotProtocol string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/git-upload-pack" {
			http.Error(w, "unexpected request", http.StatusNotFound)
			return
		}
		gotContentType = req.Header.Get("Content-Type")
		gotProtocol = req.Header.Get("Git-Protocol")
		b, err := io.ReadAll(req.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		gotBody = b
		w.Write(packfileResponseBody(packBytes))
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	r, err := NewRemote(u, &Options{UserAgent: "ygit/1"})
	if err != nil {
		t.Fatal(err)
	}

	want, _ := githash.ParseSHA1(mainSHA)
	have, _ := githash.ParseSHA1(tagSHA)
	var pack bytes.Buffer
	err = r.Fetch(&FetchRequest{Want: want, Have: []githash.SHA1{have}, Shallow: true}, &pack)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(pack.Bytes(), packBytes) {
		t.Errorf("demuxed pack bytes = %q; want %q", pack.Bytes(), packBytes)
	}
	if gotContentType != "application/x-git-upload-pack-request" {
		t.Errorf("request Content-Type = %q", gotContentType)
	}
	if gotProtocol != "version=2" {
		t.Errorf("request Git-Protocol = %q; want version=2", gotProtocol)
	}
	body := string(gotBody)
	for _, want := range []string{"command=fetch\n", "want " + mainSHA + "\n", "have " + tagSHA + "\n", "deepen 1\n", "done\n"} {
		if !bytes.Contains([]byte(body), []byte(want)) {
			t.Errorf("request body %q does not contain %q", body, want)
		}
	}
}

func TestFetchSkipsAcknowledgmentsSection(t *testing.T) {
	packBytes := []byte("PACK-after-ack")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var buf []byte
		buf = pktline.AppendString(buf, "acknowledgments\n")
		buf = pktline.AppendString(buf, "NAK\n")
		buf = pktline.AppendDelim(buf)
		buf = append(buf, packfileResponseBody(packBytes)...)
		w.Write(buf)
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	r, err := NewRemote(u, nil)
	if err != nil {
		t.Fatal(err)
	}
	want, _ := githash.ParseSHA1(mainSHA)
	var pack bytes.Buffer
	if err := r.Fetch(&FetchRequest{Want: want}, &pack); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(pack.Bytes(), packBytes) {
		t.Errorf("demuxed pack bytes = %q; want %q", pack.Bytes(), packBytes)
	}
}
