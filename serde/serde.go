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

// Package serde implements the pluggable payload codec applied at the
// remote-tier wire boundary: a pass-through "naive" serde and a
// zstd-compressing "kivi" serde.
package serde

import "github.com/sneller-labs/kvcache/memobj"

// Serde converts a MemoryObj to and from its wire representation.
// Implementations may allocate via the shared Allocator; each
// implementation documents, in its own doc comment, whether it releases
// the objects it consumes or leaves their refcount unchanged.
type Serde interface {
	// Name identifies the serde on the wire / in configuration.
	Name() string
	// Serialize converts obj into its wire-ready form.
	Serialize(obj *memobj.MemoryObj) (*memobj.MemoryObj, error)
	// Deserialize converts a wire-form object back into plaintext.
	Deserialize(obj *memobj.MemoryObj, shape memobj.Shape, dtype memobj.Dtype, format memobj.MemoryFormat) (*memobj.MemoryObj, error)
}

// ByName returns the Serde registered under name, or nil.
func ByName(name string, alloc memobj.Allocator) Serde {
	switch name {
	case "naive":
		return Naive{}
	case "kivi":
		return Kivi{Allocator: alloc}
	default:
		return nil
	}
}
