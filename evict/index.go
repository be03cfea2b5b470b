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

// Package evict implements the pure LRU admission/eviction decision module
// shared by every storage-backend tier: a recency-ordered index plus the
// byte-bounded victim-selection rule.
package evict

import (
	"container/list"

	"github.com/sneller-labs/kvcache/kvkey"
)

// Entry is a snapshot of one index row: the key and its committed size in
// bytes.
type Entry struct {
	Key  kvkey.Key
	Size int64
}

type node struct {
	key  kvkey.Key
	size int64
}

// Index is a recency-ordered key -> size mapping. It tracks the running
// sum of committed sizes so callers (and the Evictor) never need to
// rescan it. Index does no I/O and is not safe for concurrent use; callers
// own whatever mutex guards their backing store and index together.
type Index struct {
	ll        *list.List
	elems     map[string]*list.Element
	allocated int64
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		ll:    list.New(),
		elems: make(map[string]*list.Element),
	}
}

// Allocated returns the sum of Size over every entry currently present.
func (ix *Index) Allocated() int64 { return ix.allocated }

// Len returns the number of entries in the index.
func (ix *Index) Len() int { return ix.ll.Len() }

// Contains reports whether key is present.
func (ix *Index) Contains(key kvkey.Key) bool {
	_, ok := ix.elems[key.String()]
	return ok
}

// Get returns the committed size for key, if present.
func (ix *Index) Get(key kvkey.Key) (int64, bool) {
	e, ok := ix.elems[key.String()]
	if !ok {
		return 0, false
	}
	return e.Value.(*node).size, true
}

// Insert adds key at the most-recent position with the given size. If key
// is already present, its prior entry is removed first (so Insert also
// serves as "refresh an existing key's size and recency" for an
// async-write completion step).
func (ix *Index) Insert(key kvkey.Key, size int64) {
	ix.Remove(key)
	n := &node{key: key, size: size}
	ix.elems[key.String()] = ix.ll.PushBack(n)
	ix.allocated += size
}

// Remove deletes key's entry, if present, and returns its size.
func (ix *Index) Remove(key kvkey.Key) (int64, bool) {
	e, ok := ix.elems[key.String()]
	if !ok {
		return 0, false
	}
	n := ix.ll.Remove(e).(*node)
	delete(ix.elems, key.String())
	ix.allocated -= n.size
	return n.size, true
}

// UpdateOnHit moves key to the most-recent position. It is a no-op if key
// is absent.
func (ix *Index) UpdateOnHit(key kvkey.Key) {
	e, ok := ix.elems[key.String()]
	if !ok {
		return
	}
	ix.ll.MoveToBack(e)
}

// Oldest returns a snapshot of every entry ordered least-recent to
// most-recent. The snapshot is safe to range over even if the caller goes
// on to mutate the index (it shares no state with ix after the call
// returns).
func (ix *Index) Oldest() []Entry {
	out := make([]Entry, 0, ix.ll.Len())
	for e := ix.ll.Front(); e != nil; e = e.Next() {
		n := e.Value.(*node)
		out = append(out, Entry{Key: n.key, Size: n.size})
	}
	return out
}
