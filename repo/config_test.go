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
	"net/url"
	"testing"

	"ygit.dev/pkg/git/kv/pagedkv"
)

func newConfigStore(t *testing.T) *pagedkv.Store {
	t.Helper()
	s, err := pagedkv.Open(t.TempDir() + "/config")
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestEnsureTrailingSlash(t *testing.T) {
	tests := map[string]string{
		"":      "/",
		"a":     "a/",
		"a/":    "a/",
		"a/b":   "a/b/",
		"a/b/":  "a/b/",
	}
	for in, want := range tests {
		if got := ensureTrailingSlash(in); got != want {
			t.Errorf("ensureTrailingSlash(%q) = %q; want %q", in, got, want)
		}
	}
}

func TestGetConeUnset(t *testing.T) {
	cfg := newConfigStore(t)
	cone, err := getCone(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if cone != "" {
		t.Errorf("getCone on an unconfigured store = %q; want empty", cone)
	}
}

func TestGetRemoteURLUnset(t *testing.T) {
	cfg := newConfigStore(t)
	if _, err := getRemoteURL(cfg); err == nil {
		t.Error("getRemoteURL with no remote configured did not return an error")
	}
}

func TestAuthRoundTrip(t *testing.T) {
	cfg := newConfigStore(t)
	u, err := url.Parse("https://git.example.com/org/repo.git")
	if err != nil {
		t.Fatal(err)
	}

	if got, err := getAuth(cfg, u); err != nil {
		t.Fatal(err)
	} else if got != "" {
		t.Fatalf("getAuth before any putAuth = %q; want empty", got)
	}

	if err := putAuth(cfg, u, "alice", "hunter2"); err != nil {
		t.Fatal(err)
	}
	got, err := getAuth(cfg, u)
	if err != nil {
		t.Fatal(err)
	}
	want := "Basic " + basicAuthValue("alice", "hunter2")
	if got != want {
		t.Errorf("getAuth = %q; want %q", got, want)
	}
}

func TestAuthScopedByHostAndPath(t *testing.T) {
	cfg := newConfigStore(t)
	a, _ := url.Parse("https://git.example.com/org/repo-a.git")
	b, _ := url.Parse("https://git.example.com/org/repo-b.git")

	if err := putAuth(cfg, a, "alice", "pw-a"); err != nil {
		t.Fatal(err)
	}
	if got, err := getAuth(cfg, b); err != nil {
		t.Fatal(err)
	} else if got != "" {
		t.Errorf("getAuth for a different path returned %q; want empty (not scoped)", got)
	}
}
