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

package remote

import (
	"bytes"
	"io"
	"net"
	"testing"

	"github.com/sneller-labs/kvcache/backend/disk"
	"github.com/sneller-labs/kvcache/kvkey"
	"github.com/sneller-labs/kvcache/memobj"
	"github.com/sneller-labs/kvcache/memobj/testalloc"
	"github.com/sneller-labs/kvcache/serde"
	"github.com/sneller-labs/kvcache/wireproto"
)

type testLogger struct{ t *testing.T }

func (l testLogger) Printf(f string, args ...interface{}) { l.t.Logf(f, args...) }

// testServer is a minimal stand-in for cmd/lmcached, fronting a
// backend/disk.Backend with the wire protocol, so remote.Backend has
// something real to round-trip against.
type testServer struct {
	store *disk.Backend
	alloc *testalloc.Allocator
}

func startTestServer(t *testing.T) string {
	t.Helper()
	alloc := &testalloc.Allocator{}
	store, err := disk.New(t.TempDir(), 1<<20, alloc, testLogger{t}, nil)
	if err != nil {
		t.Fatalf("disk.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	srv := &testServer{store: store, alloc: alloc}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.handle(conn)
		}
	}()
	return "lm://" + ln.Addr().String()
}

func (s *testServer) handle(conn net.Conn) {
	defer conn.Close()
	buf := make([]byte, wireproto.ClientHeaderSize)
	for {
		if _, err := io.ReadFull(conn, buf); err != nil {
			return
		}
		hdr, err := wireproto.UnmarshalClientHeader(buf)
		if err != nil {
			return
		}
		switch hdr.Command {
		case wireproto.PUT:
			wireBytes, ok := s.alloc.Allocate(memobj.Shape{int64(hdr.Length), 0, 0, 0}, memobj.Uint8, 0)
			if !ok {
				writeServerHeader(conn, wireproto.ServerHeader{Code: wireproto.FAIL})
				continue
			}
			if hdr.Length > 0 {
				if _, err := io.ReadFull(conn, wireBytes.ByteArray()); err != nil {
					wireBytes.Unref()
					return
				}
			}
			obj := memobj.New(wireBytes.ByteArray(), hdr.Shape, hdr.Dtype, hdr.Format, wireBytes.Unref)
			f, ok := s.store.SubmitPut(hdr.Key, obj)
			obj.Unref()
			if !ok {
				writeServerHeader(conn, wireproto.ServerHeader{Code: wireproto.FAIL})
				continue
			}
			if _, err := f.Wait(); err != nil {
				writeServerHeader(conn, wireproto.ServerHeader{Code: wireproto.FAIL})
				continue
			}
			writeServerHeader(conn, wireproto.ServerHeader{Code: wireproto.SUCCESS})
		case wireproto.GET:
			obj, err := s.store.GetBlocking(hdr.Key)
			if err != nil || obj == nil {
				writeServerHeader(conn, wireproto.ServerHeader{Code: wireproto.FAIL})
				continue
			}
			resp := wireproto.ServerHeader{
				Code: wireproto.SUCCESS, Length: int32(obj.PhysicalSize()),
				Format: obj.Format(), Dtype: obj.Dtype(), Shape: obj.Shape(),
			}
			if !writeServerHeader(conn, resp) {
				return
			}
			if _, err := conn.Write(obj.ByteArray()); err != nil {
				return
			}
		case wireproto.EXIST:
			code := wireproto.FAIL
			if s.store.Contains(hdr.Key) {
				code = wireproto.SUCCESS
			}
			writeServerHeader(conn, wireproto.ServerHeader{Code: code})
		default:
			writeServerHeader(conn, wireproto.ServerHeader{Code: wireproto.FAIL})
		}
	}
}

func writeServerHeader(conn net.Conn, h wireproto.ServerHeader) bool {
	buf, err := h.Marshal()
	if err != nil {
		return false
	}
	_, err = conn.Write(buf)
	return err == nil
}

func testKey(t *testing.T, hash string) kvkey.Key {
	t.Helper()
	k, err := kvkey.New("vllm", "llama3-8b", 1, 0, hash)
	if err != nil {
		t.Fatalf("kvkey.New: %v", err)
	}
	return k
}

// S5: EXIST for an unknown key returns false; subsequent PUT then EXIST
// returns true.
func TestScenarioS5ExistThenPutThenExist(t *testing.T) {
	addr := startTestServer(t)
	alloc := &testalloc.Allocator{}
	b, err := New(addr, 2, serde.Naive{}, alloc, testLogger{t}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	k := testKey(t, "s5")
	if b.Contains(k) {
		t.Fatalf("Contains(k) should be false before any put")
	}

	obj, ok := alloc.Allocate(memobj.Shape{256, 0, 0, 0}, memobj.Uint8, 0)
	if !ok {
		t.Fatalf("allocate failed")
	}
	for i := range obj.ByteArray() {
		obj.ByteArray()[i] = byte(i)
	}
	f, ok := b.SubmitPut(k, obj)
	if !ok {
		t.Fatalf("SubmitPut rejected")
	}
	if _, err := f.Wait(); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	if !b.Contains(k) {
		t.Fatalf("Contains(k) should be true after a successful put")
	}
}

func TestGetRoundTrip(t *testing.T) {
	addr := startTestServer(t)
	alloc := &testalloc.Allocator{}
	b, err := New(addr, 2, serde.Naive{}, alloc, testLogger{t}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	k := testKey(t, "roundtrip")
	obj, ok := alloc.Allocate(memobj.Shape{64, 0, 0, 0}, memobj.Uint8, 0)
	if !ok {
		t.Fatalf("allocate failed")
	}
	data := obj.ByteArray()
	for i := range data {
		data[i] = byte(i * 3)
	}
	want := append([]byte(nil), data...)

	f, ok := b.SubmitPut(k, obj)
	if !ok {
		t.Fatalf("SubmitPut rejected")
	}
	if _, err := f.Wait(); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, err := b.GetBlocking(k)
	if err != nil {
		t.Fatalf("GetBlocking: %v", err)
	}
	if got == nil {
		t.Fatalf("GetBlocking(k) = nil after a successful put")
	}
	if !bytes.Equal(got.ByteArray(), want) {
		t.Fatalf("round-trip data mismatch")
	}
}

func TestGetMissingKeyReturnsNil(t *testing.T) {
	addr := startTestServer(t)
	alloc := &testalloc.Allocator{}
	b, err := New(addr, 1, serde.Naive{}, alloc, testLogger{t}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	got, err := b.GetBlocking(testKey(t, "missing"))
	if err != nil {
		t.Fatalf("GetBlocking: %v", err)
	}
	if got != nil {
		t.Fatalf("expected a miss")
	}
}

func TestInflightClearedAfterPut(t *testing.T) {
	addr := startTestServer(t)
	alloc := &testalloc.Allocator{}
	b, err := New(addr, 1, serde.Naive{}, alloc, testLogger{t}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	k := testKey(t, "inflight")
	obj, _ := alloc.Allocate(memobj.Shape{8, 0, 0, 0}, memobj.Uint8, 0)
	f, ok := b.SubmitPut(k, obj)
	if !ok {
		t.Fatalf("SubmitPut rejected")
	}
	if _, err := f.Wait(); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if b.ExistsInPutTasks(k) {
		t.Fatalf("exists_in_put_tasks should be false once the future resolves")
	}
	if keys := b.InflightKeys(); len(keys) != 0 {
		t.Fatalf("InflightKeys() = %v, want empty once the future resolves", keys)
	}
}

func TestInflightKeysSnapshotIsSorted(t *testing.T) {
	addr := startTestServer(t)
	alloc := &testalloc.Allocator{}
	b, err := New(addr, 4, serde.Naive{}, alloc, testLogger{t}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	b.mu.Lock()
	b.inflight["zzz"] = struct{}{}
	b.inflight["aaa"] = struct{}{}
	b.inflight["mmm"] = struct{}{}
	b.mu.Unlock()

	got := b.InflightKeys()
	want := []string{"aaa", "mmm", "zzz"}
	if len(got) != len(want) {
		t.Fatalf("InflightKeys() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("InflightKeys() = %v, want %v", got, want)
		}
	}
}

func TestDialRejectsUnknownScheme(t *testing.T) {
	if _, err := Dial("redis://localhost:6379"); err == nil {
		t.Fatalf("expected an error for an unsupported scheme")
	}
}

func TestDialParsesLmScheme(t *testing.T) {
	addr, err := Dial("lm://localhost:9090")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if addr != "localhost:9090" {
		t.Fatalf("addr = %q, want %q", addr, "localhost:9090")
	}
}
