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

package cachecore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sneller-labs/kvcache/backend"
	"github.com/sneller-labs/kvcache/memobj/testalloc"
)

type testLogger struct{ t *testing.T }

func (l testLogger) Printf(f string, args ...interface{}) { l.t.Logf(f, args...) }

func TestLoadConfigYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte("localDiskDir: /var/cache/kv\nmaxLocalDiskBytes: 1073741824\nserde: kivi\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}
	c, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if c.LocalDiskDir != "/var/cache/kv" {
		t.Fatalf("LocalDiskDir = %q", c.LocalDiskDir)
	}
	if c.MaxLocalDiskBytes != 1073741824 {
		t.Fatalf("MaxLocalDiskBytes = %d", c.MaxLocalDiskBytes)
	}
	if c.Serde != "kivi" {
		t.Fatalf("Serde = %q", c.Serde)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/config.yaml"); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}

func TestOpenRequiresATier(t *testing.T) {
	alloc := &testalloc.Allocator{}
	var c Config
	if _, err := c.Open(alloc, testLogger{t}, nil); err == nil {
		t.Fatalf("expected an error when neither LocalDiskDir nor RemoteURL is set")
	}
}

func TestOpenLocalDisk(t *testing.T) {
	alloc := &testalloc.Allocator{}
	c := Config{LocalDiskDir: t.TempDir(), MaxLocalDiskBytes: 1 << 20}
	b, err := c.Open(alloc, testLogger{t}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()
	if b.Kind() != backend.LocalDisk {
		t.Fatalf("Kind() = %v, want backend.LocalDisk", b.Kind())
	}
}

func TestOpenUnknownSerde(t *testing.T) {
	alloc := &testalloc.Allocator{}
	c := Config{LocalDiskDir: t.TempDir(), Serde: "bogus"}
	if _, err := c.Open(alloc, testLogger{t}, nil); err == nil {
		t.Fatalf("expected an error for an unknown serde name")
	}
}
