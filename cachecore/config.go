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

// Package cachecore wires together the core packages (kvkey, memobj,
// evict, serde, backend/disk, backend/remote, bridge) into a single
// configured cache instance. It is the external collaborator that turns
// a Config into a running backend.Backend, not part of the core
// contract those packages define.
package cachecore

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/sneller-labs/kvcache/backend"
	"github.com/sneller-labs/kvcache/backend/disk"
	"github.com/sneller-labs/kvcache/backend/remote"
	"github.com/sneller-labs/kvcache/bridge"
	"github.com/sneller-labs/kvcache/memobj"
	"github.com/sneller-labs/kvcache/serde"
)

// Logger matches backend/disk.Logger and backend/remote.Logger.
type Logger interface {
	Printf(format string, args ...interface{})
}

// Config is the programmatic construction path for a cache instance.
// Exactly one of LocalDiskDir or RemoteURL selects which tier Open
// constructs; a future version of this package could compose both into a
// tiered cache, but a single Backend per instance is all callers need
// today.
type Config struct {
	LocalDiskDir      string `json:"localDiskDir,omitempty"`
	MaxLocalDiskBytes int64  `json:"maxLocalDiskBytes,omitempty"`

	RemoteURL      string `json:"remoteURL,omitempty"`
	RemotePoolSize int    `json:"remotePoolSize,omitempty"`

	Serde string `json:"serde,omitempty"` // "naive" or "kivi"; default "naive"
}

// LoadConfig reads a YAML-encoded Config from path. This is optional sugar
// over constructing a Config literal directly; the struct above remains
// the canonical construction path for callers that build it in code.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("cachecore: reading %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("cachecore: parsing %s: %w", path, err)
	}
	return c, nil
}

// Open constructs the backend.Backend described by c. alloc and logger are
// always required; br is optional (nil lets the constructed backend own
// its own bridge).
func (c Config) Open(alloc memobj.Allocator, logger Logger, br *bridge.Bridge) (backend.Backend, error) {
	sdName := c.Serde
	if sdName == "" {
		sdName = "naive"
	}
	sd := serde.ByName(sdName, alloc)
	if sd == nil {
		return nil, fmt.Errorf("cachecore: unknown serde %q", sdName)
	}

	switch {
	case c.LocalDiskDir != "":
		return disk.New(c.LocalDiskDir, c.MaxLocalDiskBytes, alloc, logger, br)
	case c.RemoteURL != "":
		return remote.New(c.RemoteURL, c.RemotePoolSize, sd, alloc, logger, br)
	default:
		return nil, fmt.Errorf("cachecore: config specifies neither localDiskDir nor remoteURL")
	}
}
