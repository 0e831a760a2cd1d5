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

// Package errs defines the sentinel error kinds surfaced by the pack-object
// engine and the higher-level repo operations built on it.
//
// Callers compare against these sentinels with errors.Is. Wrap(kind, msg)
// attaches caller-frame information via golang.org/x/xerrors so that a
// failure can be diagnosed from the wrapped chain alone, without a debugger
// attached to the device that produced it.
package errs

import (
	"fmt"

	"golang.org/x/xerrors"
)

// Sentinel error kinds. These are the "error kinds (not type names)" named
// by the pack-object engine's design: callers switch on them with errors.Is,
// never by asserting a concrete type.
var (
	// ErrNetwork covers connect/read/write failures on the transport.
	ErrNetwork = xerrors.New("network error")
	// ErrRemote covers non-200 HTTP, a sideband-3 message, or a protocol
	// parse failure from the remote.
	ErrRemote = xerrors.New("remote error")
	// ErrAuthenticationRequired is a RemoteError carrying a 401 status.
	ErrAuthenticationRequired = xerrors.New("authentication required")
	// ErrMemory covers failure to allocate the inflate window.
	ErrMemory = xerrors.New("memory error")
	// ErrUnknownRef is returned when a ref string resolves to nothing in
	// the refs DB and is not a 40-hex SHA-1.
	ErrUnknownRef = xerrors.New("unknown ref")
	// ErrUnknownObjectKind is returned when a resolved object's kind is
	// not one of commit, tree, blob.
	ErrUnknownObjectKind = xerrors.New("unknown object kind")
	// ErrUnsupportedObject is returned for wire kinds this client never
	// requests and does not implement (tag, ref-delta).
	ErrUnsupportedObject = xerrors.New("unsupported object kind")
	// ErrMissingObject is returned when an object is absent from the idx
	// DB and no autofetch is in flight.
	ErrMissingObject = xerrors.New("missing object")
	// ErrCorruptRepository is returned when an object is still absent
	// after an autofetch backfill attempt.
	ErrCorruptRepository = xerrors.New("corrupt repository")
	// ErrRepoAlreadyExists is returned by Clone/Init over an existing
	// .ygit directory.
	ErrRepoAlreadyExists = xerrors.New("repo already exists")
)

// RemoteError wraps ErrRemote with the HTTP status code that produced it,
// so that AuthenticationRequired can be distinguished from a generic
// RemoteError by status alone while both satisfy errors.Is(err, ErrRemote).
type RemoteError struct {
	StatusCode int
	Status     string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error: %s", e.Status)
}

// Is reports whether target is ErrRemote, or ErrAuthenticationRequired when
// the status code is 401.
func (e *RemoteError) Is(target error) bool {
	if target == ErrRemote {
		return true
	}
	return target == ErrAuthenticationRequired && e.StatusCode == 401
}

// Wrap attaches msg and a caller frame to kind, producing an error whose
// chain satisfies errors.Is(result, kind).
func Wrap(kind error, format string, args ...interface{}) error {
	return xerrors.Errorf(format+": %w", append(args, kind)...)
}
