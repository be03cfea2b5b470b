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

// Package memobj defines the allocator-owned buffer contract (MemoryObj)
// shared by every storage tier and serde implementation.
package memobj

import (
	"fmt"
	"sync/atomic"
)

// Dtype is the bijective (over the active set) element type tag.
type Dtype int32

const (
	Half        Dtype = 1 // float16, canonical encoding for 1 and 2
	BFloat16    Dtype = 3
	Float32     Dtype = 4
	Float64     Dtype = 5
	Uint8       Dtype = 6
	Float8E4M3  Dtype = 7
	Float8E5M2  Dtype = 8
)

// dtypeSizes gives the element width in bytes for logical-size
// calculations; it is not part of the wire contract.
var dtypeSizes = map[Dtype]int{
	Half:       2,
	BFloat16:   2,
	Float32:    4,
	Float64:    8,
	Uint8:      1,
	Float8E4M3: 1,
	Float8E5M2: 1,
}

// Size returns the element width in bytes, or 0 for an unknown dtype.
func (d Dtype) Size() int { return dtypeSizes[d] }

func (d Dtype) String() string {
	switch d {
	case Half:
		return "half"
	case BFloat16:
		return "bfloat16"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Uint8:
		return "uint8"
	case Float8E4M3:
		return "float8_e4m3fn"
	case Float8E5M2:
		return "float8_e5m2"
	default:
		return fmt.Sprintf("dtype(%d)", int32(d))
	}
}

// MemoryFormat is the opaque producer-defined format tag (fmt field of
// CacheEngineKey / the wire header); the core treats it as an integer it
// must round-trip, never interprets it.
type MemoryFormat int32

// Shape is always exactly 4 dimensions; trailing zero dimensions denote a
// pure byte object with no tensor structure.
type Shape [4]int64

// Elements returns the product of all nonzero leading dimensions, i.e. the
// logical element count of the tensor. A zero leading dimension denotes a
// pure byte object with no tensor structure, so Elements reports 0.
func (s Shape) Elements() int64 {
	if s[0] <= 0 {
		return 0
	}
	n := int64(1)
	for _, d := range s {
		if d <= 0 {
			break
		}
		n *= d
	}
	return n
}

// MemoryObj is an opaque, allocator-owned buffer with shape/dtype metadata
// and an explicit reference count. It is created by an Allocator and
// destroyed (its backing storage released) when the refcount reaches zero.
type MemoryObj struct {
	shape Shape
	dtype Dtype
	fmt   MemoryFormat
	buf   []byte
	refs  int32

	// release is called exactly once, when Unref drops the count to zero.
	release func()
}

// New wraps buf as a MemoryObj with an initial refcount of 1. release, if
// non-nil, is invoked exactly once when the object's refcount reaches
// zero; it is where an Allocator reclaims the backing storage.
func New(buf []byte, shape Shape, dtype Dtype, format MemoryFormat, release func()) *MemoryObj {
	return &MemoryObj{shape: shape, dtype: dtype, fmt: format, buf: buf, refs: 1, release: release}
}

// Shape returns the object's 4-dimensional shape.
func (m *MemoryObj) Shape() Shape { return m.shape }

// Dtype returns the object's element type.
func (m *MemoryObj) Dtype() Dtype { return m.dtype }

// Format returns the object's opaque producer format tag.
func (m *MemoryObj) Format() MemoryFormat { return m.fmt }

// ByteArray returns the raw backing bytes. The caller must hold a
// reference (between a matching Ref/Unref pair) for the duration of any
// access; the slice becomes invalid the instant the refcount reaches
// zero.
func (m *MemoryObj) ByteArray() []byte { return m.buf }

// PhysicalSize is the size in bytes of the backing buffer.
func (m *MemoryObj) PhysicalSize() int64 { return int64(len(m.buf)) }

// LogicalSize is the number of logical elements described by Shape,
// independent of the physical buffer length (which may include padding).
func (m *MemoryObj) LogicalSize() int64 { return m.shape.Elements() }

// Ref increments the reference count. It must be called at every
// ownership-transfer point (e.g. a backend accepting a submit_put) before
// the object could otherwise be released by its original owner.
func (m *MemoryObj) Ref() {
	atomic.AddInt32(&m.refs, 1)
}

// Unref decrements the reference count and, if it reaches zero, invokes
// the release callback supplied at construction. Unref must be called
// exactly once per matching Ref (including the implicit ref held at
// construction). It is safe to call from any goroutine.
func (m *MemoryObj) Unref() {
	if atomic.AddInt32(&m.refs, -1) == 0 && m.release != nil {
		m.release()
	}
}

// RefCount returns the current reference count; intended for tests and
// diagnostics only — it is inherently racy against concurrent Ref/Unref.
func (m *MemoryObj) RefCount() int32 {
	return atomic.LoadInt32(&m.refs)
}

// Allocator is the external collaborator that owns physical memory. The
// core consumes this interface; it never allocates raw buffers itself.
type Allocator interface {
	// Allocate returns a fresh MemoryObj sized for shape/dtype, or
	// (nil, false) if the allocator is out of capacity. The returned
	// object's refcount starts at 1, matching New.
	Allocate(shape Shape, dtype Dtype, format MemoryFormat) (*MemoryObj, bool)
}
