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

package memobj

import "testing"

func TestRefcountLifecycle(t *testing.T) {
	released := false
	m := New(make([]byte, 16), Shape{4, 4, 0, 0}, Float32, 0, func() { released = true })
	m.Ref()
	m.Ref()
	if got := m.RefCount(); got != 3 {
		t.Fatalf("refcount = %d, want 3", got)
	}
	m.Unref()
	m.Unref()
	if released {
		t.Fatalf("released early")
	}
	m.Unref()
	if !released {
		t.Fatalf("release callback never ran")
	}
}

func TestShapeElements(t *testing.T) {
	cases := []struct {
		s    Shape
		want int64
	}{
		{Shape{2, 16, 128, 64}, 2 * 16 * 128 * 64},
		{Shape{1000, 1000, 0, 0}, 1000 * 1000},
		{Shape{0, 0, 0, 0}, 0},
	}
	for _, c := range cases {
		if got := c.s.Elements(); got != c.want {
			t.Errorf("Shape(%v).Elements() = %d, want %d", c.s, got, c.want)
		}
	}
}

func TestDtypeSize(t *testing.T) {
	if Float32.Size() != 4 {
		t.Fatalf("float32 size = %d, want 4", Float32.Size())
	}
	if Half.Size() != 2 {
		t.Fatalf("half size = %d, want 2", Half.Size())
	}
}
