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

package repo

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"ygit.dev/pkg/git/device"
	"ygit.dev/pkg/git/kv"
	"ygit.dev/pkg/git/secretbox"
)

// Config keys stored in the config kv.Store.
const (
	configKeyRemote = "remote.url"
	configKeyCone   = "cone"
)

func authConfigKey(u *url.URL) string {
	host := u.Host
	path := ensureTrailingSlash(u.Path)
	return "auth:" + host + path
}

func ensureTrailingSlash(p string) string {
	if strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}

// getCone returns the configured cone-mode checkout root, or "" if the
// whole tree should be checked out (cone mode was never configured).
func getCone(cfg kv.Store) (string, error) {
	b, ok := cfg.Get([]byte(configKeyCone))
	if !ok {
		return "", nil
	}
	return string(b), nil
}

func getRemoteURL(cfg kv.Store) (string, error) {
	b, ok := cfg.Get([]byte(configKeyRemote))
	if !ok {
		return "", fmt.Errorf("repo: no remote configured")
	}
	return string(b), nil
}

// putAuth encrypts username:password at rest under a key derived from this
// device's identity and stages it in cfg under a key scoped to u's host and
// path, so credentials for two remotes sharing a host but not a path don't
// collide.
func putAuth(cfg kv.Store, u *url.URL, username, password string) error {
	id, err := device.ID()
	if err != nil {
		return fmt.Errorf("repo: store credentials: %w", err)
	}
	plain := "Basic " + basicAuthValue(username, password)
	sealed, err := secretbox.Seal(id, []byte(plain))
	if err != nil {
		return fmt.Errorf("repo: store credentials: %w", err)
	}
	cfg.Put([]byte(authConfigKey(u)), sealed)
	return nil
}

// getAuth returns the decrypted Authorization header value for u, or "" if
// no credentials are stored for u's host and path.
func getAuth(cfg kv.Store, u *url.URL) (string, error) {
	sealed, ok := cfg.Get([]byte(authConfigKey(u)))
	if !ok {
		return "", nil
	}
	id, err := device.ID()
	if err != nil {
		return "", fmt.Errorf("repo: load credentials: %w", err)
	}
	plain, err := secretbox.Open(id, sealed)
	if err != nil {
		return "", fmt.Errorf("repo: load credentials: %w", err)
	}
	return string(plain), nil
}

func basicAuthValue(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}
