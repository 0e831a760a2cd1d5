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

// Package kv defines the narrow ordered key-value interface the idx, refs
// and config stores are built on (see kv/pagedkv for the device backend and
// kv/sqlitekv for the host backend). Every write against a Store is staged
// until Flush (in memory for pagedkv, in an open transaction for sqlitekv),
// so a whole fetch session's idx-DB population is
// either wholly visible or wholly absent, never half-written.
package kv

import "io"

// Store is an ordered key-value store with commit-on-close semantics: no
// write a caller makes is guaranteed durable until Flush returns nil.
type Store interface {
	// Get returns the value for key and true, or nil and false if key is
	// absent.
	Get(key []byte) ([]byte, bool)
	// Put stages key to map to value, replacing any prior value.
	Put(key, value []byte)
	// Delete stages the removal of key, a no-op if it is already absent.
	Delete(key []byte)
	// Contains reports whether key currently has a value, including
	// not-yet-flushed writes.
	Contains(key []byte) bool
	// Iterate calls fn for every key in ascending byte order, including
	// not-yet-flushed writes, stopping early if fn returns false.
	Iterate(fn func(key, value []byte) bool)
	// Flush commits every staged write as a single transaction.
	Flush() error
	io.Closer
}
