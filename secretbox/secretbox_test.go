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

package secretbox

import (
	"bytes"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	deviceID := []byte("test-device-0123456789")
	tests := []string{
		"",
		"Basic YWRtaW46aHVudGVyMg==",
		"short",
		"exactly16bytes!!",
		"this plaintext is longer than a single 16-byte AES block",
	}
	for _, plain := range tests {
		sealed, err := Seal(deviceID, []byte(plain))
		if err != nil {
			t.Errorf("Seal(%q): %v", plain, err)
			continue
		}
		got, err := Open(deviceID, sealed)
		if err != nil {
			t.Errorf("Open(Seal(%q)): %v", plain, err)
			continue
		}
		if !bytes.Equal(got, []byte(plain)) {
			t.Errorf("Open(Seal(%q)) = %q; want %q", plain, got, plain)
		}
	}
}

func TestSealRandomizesNonce(t *testing.T) {
	deviceID := []byte("device")
	a, err := Seal(deviceID, []byte("same plaintext"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Seal(deviceID, []byte("same plaintext"))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a, b) {
		t.Error("Seal produced identical ciphertext for two calls; nonce is not being randomized")
	}
}

func TestOpenWrongDevice(t *testing.T) {
	sealed, err := Seal([]byte("device-a"), []byte("Basic c2VjcmV0"))
	if err != nil {
		t.Fatal(err)
	}
	got, err := Open([]byte("device-b"), sealed)
	if err != nil {
		t.Fatalf("Open with wrong device ID returned an error: %v", err)
	}
	if bytes.Equal(got, []byte("Basic c2VjcmV0")) {
		t.Error("Open with the wrong device ID recovered the original plaintext")
	}
}

func TestPadSpacesRoundTrip(t *testing.T) {
	for n := 0; n < 40; n++ {
		p := bytes.Repeat([]byte("x"), n)
		padded := padSpaces(p)
		if len(padded)%blockSize != 0 {
			t.Fatalf("padSpaces(%d bytes) has length %d, not a multiple of %d", n, len(padded), blockSize)
		}
		if len(padded) == len(p) {
			t.Fatalf("padSpaces(%d bytes) did not add any padding", n)
		}
		if got := trimTrailingSpaces(padded); !bytes.Equal(got, p) {
			t.Errorf("trimTrailingSpaces(padSpaces(%d bytes)) = %q; want %q", n, got, p)
		}
	}
}
