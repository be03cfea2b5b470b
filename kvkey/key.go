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

// Package kvkey implements CacheEngineKey: the composite, deterministic
// identifier used to address KV chunks across every storage tier.
package kvkey

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/dchest/siphash"
)

// MaxCanonicalLen is the maximum length, in bytes, of a key's canonical
// string encoding.
const MaxCanonicalLen = 150

// Key is the composite identifier for a KV chunk: a tuple of the producing
// format, model, world size, worker id, and a caller-supplied chunk hash.
// Keys are immutable once constructed.
type Key struct {
	Format    string
	Model     string
	WorldSize int
	WorkerID  int
	ChunkHash string
}

// New validates fields and builds a Key, or returns an error if the
// canonical encoding would be invalid (no '@' or '/' in any field,
// canonical length within MaxCanonicalLen).
func New(format, model string, worldSize, workerID int, chunkHash string) (Key, error) {
	k := Key{Format: format, Model: model, WorldSize: worldSize, WorkerID: workerID, ChunkHash: chunkHash}
	if err := k.validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

func (k Key) validate() error {
	for _, f := range []string{k.Format, k.Model, k.ChunkHash} {
		if strings.ContainsAny(f, "@/") {
			return fmt.Errorf("kvkey: field %q may not contain '@' or '/'", f)
		}
	}
	if n := len(k.String()); n > MaxCanonicalLen {
		return fmt.Errorf("kvkey: canonical encoding is %d bytes, exceeds max %d", n, MaxCanonicalLen)
	}
	return nil
}

// String returns the canonical encoding: "fmt@model@ws@wid@hash".
// Equality and hashing of a Key are defined entirely in terms of this
// string.
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(k.Format)
	b.WriteByte('@')
	b.WriteString(k.Model)
	b.WriteByte('@')
	b.WriteString(strconv.Itoa(k.WorldSize))
	b.WriteByte('@')
	b.WriteString(strconv.Itoa(k.WorkerID))
	b.WriteByte('@')
	b.WriteString(k.ChunkHash)
	return b.String()
}

// FromString parses the canonical form produced by String. It is the exact
// inverse of String: FromString(k.String()) == k for every legal Key.
func FromString(s string) (Key, error) {
	parts := strings.Split(s, "@")
	if len(parts) != 5 {
		return Key{}, fmt.Errorf("kvkey: %q is not a canonical key (want 5 '@'-separated fields, got %d)", s, len(parts))
	}
	ws, err := strconv.Atoi(parts[2])
	if err != nil {
		return Key{}, fmt.Errorf("kvkey: bad world_size in %q: %w", s, err)
	}
	wid, err := strconv.Atoi(parts[3])
	if err != nil {
		return Key{}, fmt.Errorf("kvkey: bad worker_id in %q: %w", s, err)
	}
	return New(parts[0], parts[1], ws, wid, parts[4])
}

// siphash key used to bucket keys across shards; it only needs to be
// consistent within a process, not across processes, so it is generated
// once at init time rather than fixed, which also avoids hash-flooding
// attacks against the index from caller-supplied chunk hashes.
var hashK0, hashK1 uint64

func init() {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("kvkey: failed to seed siphash key: " + err.Error())
	}
	hashK0 = binary.LittleEndian.Uint64(buf[:8])
	hashK1 = binary.LittleEndian.Uint64(buf[8:])
}

// Hash returns a process-local, evenly-distributed hash of the key's
// canonical string, suitable for sharding an index across buckets. It is
// not stable across process restarts.
func (k Key) Hash() uint64 {
	return siphash.Hash(hashK0, hashK1, []byte(k.String()))
}

// PathSafe returns the canonical string with every '/' replaced by '-',
// for use as a disk-backend file name.
// The canonical form never contains '/' itself (validated by New), so this
// only affects characters that legitimately appear verbatim in the string,
// namely none today — it exists so callers never hand-roll the mapping.
func (k Key) PathSafe() string {
	return strings.ReplaceAll(k.String(), "/", "-")
}
