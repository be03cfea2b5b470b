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

//go:build !linux
// +build !linux

package disk

import "os"

// resize is a no-op preallocation on platforms without fallocate; the
// write path below still works correctly, just without the block-growth
// optimization fallocate provides on linux.
func resize(f *os.File, size int64) error {
	return nil
}

// freeBytes is unavailable without a platform-specific statfs; callers
// treat the zero value as "unknown".
func freeBytes(dir string) (int64, error) {
	return 0, nil
}
