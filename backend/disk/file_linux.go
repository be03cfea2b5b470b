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

//go:build linux
// +build linux

package disk

import (
	"os"

	"golang.org/x/sys/unix"
)

// resize preallocates size bytes for f using fallocate, so that the
// write path below never has to grow the file block-by-block under
// concurrent writers racing the same key.
func resize(f *os.File, size int64) error {
	if size == 0 {
		return nil
	}
	if err := unix.Fallocate(int(f.Fd()), 0, 0, size); err != nil {
		// fall back silently: some filesystems (tmpfs, overlayfs)
		// don't support fallocate; a plain write still succeeds.
		return nil
	}
	return nil
}

// freeBytes reports free space on the filesystem backing dir, used for
// diagnostics only.
func freeBytes(dir string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, err
	}
	return int64(st.Bavail) * int64(st.Bsize), nil
}
