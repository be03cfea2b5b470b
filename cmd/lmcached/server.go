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

package main

import (
	"io"
	"net"

	"github.com/sneller-labs/kvcache/backend"
	"github.com/sneller-labs/kvcache/memobj"
	"github.com/sneller-labs/kvcache/wireproto"
)

// Logger matches backend/disk.Logger and backend/remote.Logger; *log.Logger
// satisfies it without an adapter.
type Logger interface {
	Printf(format string, args ...interface{})
}

// server implements the server half of the wire protocol by delegating
// every command to a backend.Backend — in practice a backend/disk.Backend,
// making this binary a thin protocol front-end over the same local-disk
// tier the core already implements, rather than a second storage
// implementation.
type server struct {
	store  backend.Backend
	alloc  memobj.Allocator
	logger Logger
}

func (s *server) errorf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

func (s *server) serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handle(conn)
	}
}

func (s *server) handle(conn net.Conn) {
	defer conn.Close()
	hdrBuf := make([]byte, wireproto.ClientHeaderSize)
	for {
		if _, err := io.ReadFull(conn, hdrBuf); err != nil {
			return
		}
		hdr, err := wireproto.UnmarshalClientHeader(hdrBuf)
		if err != nil {
			s.errorf("lmcached: bad client header from %s: %s", conn.RemoteAddr(), err)
			return
		}
		if !s.dispatch(conn, hdr) {
			return
		}
	}
}

// dispatch handles one request and reports whether the connection should
// stay open for another.
func (s *server) dispatch(conn net.Conn, hdr wireproto.ClientHeader) bool {
	switch hdr.Command {
	case wireproto.PUT:
		return s.handlePut(conn, hdr)
	case wireproto.GET:
		return s.handleGet(conn, hdr)
	case wireproto.EXIST:
		return s.handleExist(conn, hdr)
	case wireproto.LIST:
		// LIST is not implemented; refused unconditionally.
		return s.writeServerHeader(conn, wireproto.ServerHeader{Code: wireproto.FAIL})
	default:
		s.errorf("lmcached: unknown command %v from %s", hdr.Command, conn.RemoteAddr())
		return false
	}
}

func (s *server) handlePut(conn net.Conn, hdr wireproto.ClientHeader) bool {
	wireBytes, ok := s.alloc.Allocate(memobj.Shape{int64(hdr.Length), 0, 0, 0}, memobj.Uint8, 0)
	if !ok {
		s.errorf("lmcached: allocation failed for put %s (%d bytes)", hdr.Key, hdr.Length)
		return s.writeServerHeader(conn, wireproto.ServerHeader{Code: wireproto.FAIL})
	}
	if hdr.Length > 0 {
		if _, err := io.ReadFull(conn, wireBytes.ByteArray()); err != nil {
			wireBytes.Unref()
			return false
		}
	}
	// obj carries the client's declared logical metadata over the raw
	// wire bytes; its release chains into wireBytes so the allocator's
	// accounting is released exactly once, when the backend's own
	// completion callback drops the last reference.
	obj := memobj.New(wireBytes.ByteArray(), hdr.Shape, hdr.Dtype, hdr.Format, wireBytes.Unref)

	f, ok := s.store.SubmitPut(hdr.Key, obj)
	obj.Unref()
	if !ok {
		return s.writeServerHeader(conn, wireproto.ServerHeader{Code: wireproto.FAIL})
	}
	if _, err := f.Wait(); err != nil {
		s.errorf("lmcached: put %s failed: %s", hdr.Key, err)
		return s.writeServerHeader(conn, wireproto.ServerHeader{Code: wireproto.FAIL})
	}
	return s.writeServerHeader(conn, wireproto.ServerHeader{Code: wireproto.SUCCESS})
}

func (s *server) handleGet(conn net.Conn, hdr wireproto.ClientHeader) bool {
	obj, err := s.store.GetBlocking(hdr.Key)
	if err != nil {
		s.errorf("lmcached: get %s failed: %s", hdr.Key, err)
		return s.writeServerHeader(conn, wireproto.ServerHeader{Code: wireproto.FAIL})
	}
	if obj == nil {
		return s.writeServerHeader(conn, wireproto.ServerHeader{Code: wireproto.FAIL})
	}
	resp := wireproto.ServerHeader{
		Code:   wireproto.SUCCESS,
		Length: int32(obj.PhysicalSize()),
		Format: obj.Format(),
		Dtype:  obj.Dtype(),
		Shape:  obj.Shape(),
	}
	buf, err := resp.Marshal()
	if err != nil {
		s.errorf("lmcached: marshaling response for %s: %s", hdr.Key, err)
		return false
	}
	if _, err := conn.Write(buf); err != nil {
		return false
	}
	if _, err := conn.Write(obj.ByteArray()); err != nil {
		return false
	}
	return true
}

func (s *server) handleExist(conn net.Conn, hdr wireproto.ClientHeader) bool {
	code := wireproto.FAIL
	if s.store.Contains(hdr.Key) {
		code = wireproto.SUCCESS
	}
	return s.writeServerHeader(conn, wireproto.ServerHeader{Code: code})
}

func (s *server) writeServerHeader(conn net.Conn, h wireproto.ServerHeader) bool {
	buf, err := h.Marshal()
	if err != nil {
		s.errorf("lmcached: marshaling server header: %s", err)
		return false
	}
	_, err = conn.Write(buf)
	return err == nil
}
