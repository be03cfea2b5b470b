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

// Package heapalloc provides the default production memobj.Allocator: a
// thin wrapper over the Go heap, optionally bounded by a byte budget. It
// is the external-collaborator allocator every cmd/ binary wires in by
// default; callers embedding the core in a GPU-backed runtime are
// expected to supply their own Allocator instead.
package heapalloc

import (
	"sync/atomic"

	"github.com/sneller-labs/kvcache/memobj"
)

// Allocator hands out Go-heap-backed MemoryObjs, optionally capping total
// concurrently-live bytes at Limit (0 means unbounded).
type Allocator struct {
	Limit int64

	live int64
}

// New returns an Allocator with the given byte budget (0 for unbounded).
func New(limit int64) *Allocator {
	return &Allocator{Limit: limit}
}

func (a *Allocator) Allocate(shape memobj.Shape, dtype memobj.Dtype, format memobj.MemoryFormat) (*memobj.MemoryObj, bool) {
	size := shape.Elements() * int64(dtype.Size())
	if size == 0 {
		size = shape[0]
	}
	if size < 0 {
		return nil, false
	}
	if a.Limit != 0 {
		for {
			cur := atomic.LoadInt64(&a.live)
			if cur+size > a.Limit {
				return nil, false
			}
			if atomic.CompareAndSwapInt64(&a.live, cur, cur+size) {
				break
			}
		}
	} else {
		atomic.AddInt64(&a.live, size)
	}
	buf := make([]byte, size)
	return memobj.New(buf, shape, dtype, format, func() {
		atomic.AddInt64(&a.live, -size)
	}), true
}

// Live returns the number of bytes currently allocated and not yet
// released.
func (a *Allocator) Live() int64 { return atomic.LoadInt64(&a.live) }
