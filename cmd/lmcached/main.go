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

// Command lmcached is a minimal remote cache server: the external
// collaborator that gives backend/remote's "lm://" connector something
// to talk to. It is a thin wireproto front-end over a
// backend/disk.Backend — the same local-disk storage tier used
// in-process, just fronted by the network instead of a direct Go call.
package main

import (
	"flag"
	"log"
	"net"
	"os"

	"github.com/sneller-labs/kvcache/backend/disk"
	"github.com/sneller-labs/kvcache/memobj/heapalloc"
)

func main() {
	addr := flag.String("addr", ":9090", "listen address")
	dir := flag.String("dir", "./lmcached-data", "cache directory")
	maxBytes := flag.Int64("max-bytes", 8<<30, "maximum cache size in bytes")
	allocLimit := flag.Int64("alloc-limit", 0, "maximum concurrently-live allocated bytes (0 = unbounded)")
	flag.Parse()

	logger := log.New(os.Stderr, "lmcached: ", log.LstdFlags)

	alloc := heapalloc.New(*allocLimit)
	store, err := disk.New(*dir, *maxBytes, alloc, logger, nil)
	if err != nil {
		logger.Fatalf("opening cache dir %s: %s", *dir, err)
	}
	defer store.Close()

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		logger.Fatalf("listening on %s: %s", *addr, err)
	}
	logger.Printf("listening on %s, cache dir %s, max %d bytes", *addr, *dir, *maxBytes)

	srv := &server{store: store, alloc: alloc, logger: logger}
	if err := srv.serve(ln); err != nil {
		logger.Fatalf("serve: %s", err)
	}
}
