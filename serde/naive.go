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

package serde

import "github.com/sneller-labs/kvcache/memobj"

// Naive is the pass-through serde: it returns its input unmodified.
// Serialize and Deserialize leave the input object's refcount unchanged
// (they do not Ref or Unref it); the same *MemoryObj is returned back to
// the caller.
type Naive struct{}

func (Naive) Name() string { return "naive" }

func (Naive) Serialize(obj *memobj.MemoryObj) (*memobj.MemoryObj, error) {
	return obj, nil
}

func (Naive) Deserialize(obj *memobj.MemoryObj, shape memobj.Shape, dtype memobj.Dtype, format memobj.MemoryFormat) (*memobj.MemoryObj, error) {
	return obj, nil
}
