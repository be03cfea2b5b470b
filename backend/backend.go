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

// Package backend defines the uniform storage-backend contract
// implemented by the local-disk and remote tiers, plus the closed variant
// tag distinguishing them. New tiers are added by extending Kind, not by
// growing an open interface hierarchy.
package backend

import (
	"github.com/sneller-labs/kvcache/bridge"
	"github.com/sneller-labs/kvcache/kvkey"
	"github.com/sneller-labs/kvcache/memobj"
)

// Kind is the closed set of backend implementations. New tiers are not
// expected to be added by third parties; this is a small enum, not an
// open interface hierarchy.
type Kind int

const (
	LocalDisk Kind = iota
	Remote
)

func (k Kind) String() string {
	if k == Remote {
		return "remote"
	}
	return "local-disk"
}

// Stats is the observational (non-authoritative) counter set every
// backend exposes, with atomically-counted Hits/Misses/Puts. FreeBytes is
// free space on the tier's backing medium where that concept applies
// (local disk); tiers without one (remote) report 0.
type Stats struct {
	Hits      int64
	Misses    int64
	Puts      int64
	FreeBytes int64
}

// Backend is the uniform operation set every storage tier implements.
// All methods are safe to call concurrently from multiple goroutines.
type Backend interface {
	// Kind identifies which tier this Backend implements.
	Kind() Kind

	// Contains reports whether key is present. It may consult local
	// state or issue a remote EXIST round-trip; it must not affect
	// recency.
	Contains(key kvkey.Key) bool

	// ExistsInPutTasks reports whether a put for key has been accepted
	// and has not yet completed.
	ExistsInPutTasks(key kvkey.Key) bool

	// SubmitPut accepts obj for storage under key and returns a Future
	// yielding nil once the write has completed, or (nil, false) if the
	// evictor rejected obj as larger than total capacity. The backend
	// takes a reference on obj for the duration of the write (Ref on
	// acceptance, Unref on completion).
	SubmitPut(key kvkey.Key, obj *memobj.MemoryObj) (*bridge.Future, bool)

	// SubmitPrefetch begins an asynchronous load of key and returns a
	// Future yielding (*memobj.MemoryObj, error), or (nil, false) if
	// key is not known to be present. The Future's MemoryObj is nil on
	// a concurrent miss (e.g. the file vanished under eviction).
	SubmitPrefetch(key kvkey.Key) (*bridge.Future, bool)

	// GetBlocking synchronously loads key, updating recency iff
	// present, and returns nil on a miss.
	GetBlocking(key kvkey.Key) (*memobj.MemoryObj, error)

	// Stats returns a snapshot of the backend's observational counters.
	Stats() Stats

	// Close flushes pending work and releases resources. The backend
	// must not be used after Close returns.
	Close() error
}
