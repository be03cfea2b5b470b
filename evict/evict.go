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

package evict

import "github.com/sneller-labs/kvcache/kvkey"

// Status is the outcome of an admission decision.
type Status int

const (
	// Legal means the incoming object can be admitted, possibly after
	// evicting the returned victims.
	Legal Status = iota
	// Illegal means the incoming object exceeds total capacity even
	// after evicting everything; it must not be admitted.
	Illegal
)

func (s Status) String() string {
	if s == Illegal {
		return "ILLEGAL"
	}
	return "LEGAL"
}

// Evictor is the pure byte-bounded LRU admission/eviction decision
// module. It holds no state of its own beyond the capacity bound; all
// recency state lives in the Index it is handed.
type Evictor struct {
	// MaxCacheSize is the total byte budget the index must not exceed
	// after a caller applies a Decide victim list and inserts the
	// incoming entry.
	MaxCacheSize int64
}

// Decide computes the victim set needed to admit an object of
// incomingSize bytes into ix.
//
//   - If incomingSize > MaxCacheSize, the object can never fit: returns
//     (nil, Illegal) and does not inspect ix further.
//   - Otherwise, victims are collected from the least-recent entry
//     onward until allocated + incoming - evicted <= MaxCacheSize,
//     returned in strict recency order (stable).
//
// Decide performs no I/O and does not mutate ix; the caller is
// responsible for removing each victim from ix (and its backing store)
// and then inserting the incoming key.
func (e Evictor) Decide(ix *Index, incomingSize int64) ([]kvkey.Key, Status) {
	if incomingSize > e.MaxCacheSize {
		return nil, Illegal
	}
	allocated := ix.Allocated()
	if allocated+incomingSize <= e.MaxCacheSize {
		return nil, Legal
	}
	var victims []kvkey.Key
	evicted := int64(0)
	for _, ent := range ix.Oldest() {
		if allocated+incomingSize-evicted <= e.MaxCacheSize {
			break
		}
		victims = append(victims, ent.Key)
		evicted += ent.Size
	}
	return victims, Legal
}
