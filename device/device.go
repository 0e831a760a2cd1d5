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

// Package device locates a stable per-device identifier used to derive the
// key that encrypts stored HTTP credentials (see package secretbox). The
// design note treats the device-id source as an abstract capability so a
// file-scoped fallback can substitute on hosts lacking one.
package device

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// ID returns a byte string that is stable across process restarts on this
// device: the kernel's boot id on Linux (via /proc/sys/kernel/random/boot_id
// through the sysctl-equivalent read), falling back to the hostname
// reported by uname(2) when unavailable. Neither source is secret; ID is a
// key-derivation input, not a credential itself.
func ID() ([]byte, error) {
	if id, err := readBootID(); err == nil && len(id) > 0 {
		return id, nil
	}
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return nil, errors.New("device: no stable identifier available")
	}
	return trimNulBytes(uts.Nodename[:]), nil
}

func readBootID() ([]byte, error) {
	data, err := os.ReadFile("/proc/sys/kernel/random/boot_id")
	if err != nil {
		return nil, err
	}
	return trimTrailingNewline(data), nil
}

func trimTrailingNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

func trimNulBytes(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}
