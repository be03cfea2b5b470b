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

// Package testalloc provides a simple byte-slice-backed memobj.Allocator
// for tests across the module, standing in for the external allocator
// collaborator a production binary would wire in.
package testalloc

import (
	"sync/atomic"

	"github.com/sneller-labs/kvcache/memobj"
)

// Allocator hands out plain Go-heap-backed MemoryObjs. Limit, if nonzero,
// caps the number of bytes it will allocate concurrently, so tests can
// exercise allocation-failure paths.
type Allocator struct {
	Limit int64

	live int64
}

func (a *Allocator) Allocate(shape memobj.Shape, dtype memobj.Dtype, format memobj.MemoryFormat) (*memobj.MemoryObj, bool) {
	size := shape.Elements() * int64(dtype.Size())
	if size == 0 {
		// pure byte object: size is carried in Shape[0] when the
		// other dimensions are zero and dtype is byte-sized.
		size = shape[0]
	}
	if a.Limit != 0 && atomic.LoadInt64(&a.live)+size > a.Limit {
		return nil, false
	}
	atomic.AddInt64(&a.live, size)
	buf := make([]byte, size)
	return memobj.New(buf, shape, dtype, format, func() {
		atomic.AddInt64(&a.live, -size)
	}), true
}

// Live returns the number of bytes currently allocated and not yet
// released.
func (a *Allocator) Live() int64 { return atomic.LoadInt64(&a.live) }
