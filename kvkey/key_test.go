// Copyright (C) 2026 KVCache Authors.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package kvkey

import (
	"strings"
	"testing"
)

func TestNewAndString(t *testing.T) {
	k, err := New("vllm", "llama3-8b", 4, 1, "deadbeef")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want := "vllm@llama3-8b@4@1@deadbeef"
	if got := k.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestNewRejectsReservedChars(t *testing.T) {
	cases := []struct{ format, model, hash string }{
		{"vllm@x", "m", "h"},
		{"vllm", "m/x", "h"},
		{"vllm", "m", "h@x"},
	}
	for _, c := range cases {
		if _, err := New(c.format, c.model, 1, 0, c.hash); err == nil {
			t.Fatalf("New(%q, %q, _, _, %q) should have failed", c.format, c.model, c.hash)
		}
	}
}

func TestNewRejectsOverlongCanonical(t *testing.T) {
	long := strings.Repeat("x", MaxCanonicalLen)
	if _, err := New("vllm", long, 1, 0, "h"); err == nil {
		t.Fatalf("expected an error for an overlong canonical encoding")
	}
}

func TestFromStringRoundTrip(t *testing.T) {
	k, err := New("vllm", "llama3-8b", 4, 1, "deadbeef")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := FromString(k.String())
	if err != nil {
		t.Fatalf("FromString: %v", err)
	}
	if got != k {
		t.Fatalf("FromString(k.String()) = %+v, want %+v", got, k)
	}
}

func TestFromStringRejectsMalformed(t *testing.T) {
	cases := []string{
		"too@few@fields",
		"vllm@model@notanint@0@hash",
		"vllm@model@0@notanint@hash",
		"",
	}
	for _, s := range cases {
		if _, err := FromString(s); err == nil {
			t.Fatalf("FromString(%q) should have failed", s)
		}
	}
}

func TestHashIsDeterministicWithinProcess(t *testing.T) {
	k1, _ := New("vllm", "llama3-8b", 1, 0, "a")
	k2, _ := New("vllm", "llama3-8b", 1, 0, "a")
	if k1.Hash() != k2.Hash() {
		t.Fatalf("equal keys hashed differently")
	}
	k3, _ := New("vllm", "llama3-8b", 1, 0, "b")
	if k1.Hash() == k3.Hash() {
		t.Fatalf("distinct keys hashed identically (not impossible, but suspicious for these inputs)")
	}
}

func TestPathSafeHasNoSlash(t *testing.T) {
	k, _ := New("vllm", "llama3-8b", 1, 0, "deadbeef")
	if strings.Contains(k.PathSafe(), "/") {
		t.Fatalf("PathSafe() = %q still contains '/'", k.PathSafe())
	}
}
