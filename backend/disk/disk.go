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

// Package disk implements the local-disk storage-backend tier: a single
// mutex guarding an in-memory index plus an inflight-put set, with I/O
// dispatched to a shared bridge.Bridge and performed outside the lock.
package disk

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/sneller-labs/kvcache/backend"
	"github.com/sneller-labs/kvcache/bridge"
	"github.com/sneller-labs/kvcache/evict"
	"github.com/sneller-labs/kvcache/kvkey"
	"github.com/sneller-labs/kvcache/memobj"
)

// Logger is the diagnostic sink for errors the backend swallows rather
// than surfaces synchronously (e.g. a failed unlink during eviction).
// A nil Logger is valid and silent.
type Logger interface {
	Printf(format string, args ...interface{})
}

// cacheMeta is the disk backend's private extension of evict.Entry: the
// file path and tensor metadata needed to actually load a cached chunk
// back.
type cacheMeta struct {
	path   string
	shape  memobj.Shape
	dtype  memobj.Dtype
	format memobj.MemoryFormat
}

// Backend is the local-disk storage tier. It owns a directory of "*.pt"
// files, one per key, and must not have that directory touched
// externally while the Backend is open.
type Backend struct {
	dir    string
	alloc  memobj.Allocator
	logger Logger

	br        *bridge.Bridge
	ownBridge bool

	evictor evict.Evictor

	mu       sync.Mutex
	idx      *evict.Index
	meta     map[string]cacheMeta
	inflight map[string]struct{}

	hits, misses, puts int64
}

var _ backend.Backend = (*Backend)(nil)

// New constructs a Backend rooted at dir (created if missing) with the
// given byte budget. If br is nil, the Backend creates and owns its own
// bridge (closed by Backend.Close); otherwise the caller retains
// ownership of br and must close it separately.
func New(dir string, maxBytes int64, alloc memobj.Allocator, logger Logger, br *bridge.Bridge) (*Backend, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("disk: creating cache dir: %w", err)
	}
	ownBridge := false
	if br == nil {
		br = bridge.New(64)
		ownBridge = true
	}
	return &Backend{
		dir:       dir,
		alloc:     alloc,
		logger:    logger,
		br:        br,
		ownBridge: ownBridge,
		evictor:   evict.Evictor{MaxCacheSize: maxBytes},
		idx:       evict.NewIndex(),
		meta:      make(map[string]cacheMeta),
		inflight:  make(map[string]struct{}),
	}, nil
}

func (b *Backend) Kind() backend.Kind { return backend.LocalDisk }

func (b *Backend) path(key kvkey.Key) string {
	return filepath.Join(b.dir, key.PathSafe()+".pt")
}

func (b *Backend) errorf(format string, args ...interface{}) {
	if b.logger != nil {
		b.logger.Printf(format, args...)
	}
}

// Contains reports whether key is present in the index. It does not
// affect recency.
func (b *Backend) Contains(key kvkey.Key) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.idx.Contains(key)
}

// ExistsInPutTasks reports whether key has an outstanding write.
func (b *Backend) ExistsInPutTasks(key kvkey.Key) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.inflight[key.String()]
	return ok
}

// Stats returns a snapshot of the backend's observational counters,
// including free space on the filesystem backing dir.
func (b *Backend) Stats() backend.Stats {
	free, err := freeBytes(b.dir)
	if err != nil {
		b.errorf("disk: statfs %s: %s", b.dir, err)
	}
	return backend.Stats{
		Hits:      atomic.LoadInt64(&b.hits),
		Misses:    atomic.LoadInt64(&b.misses),
		Puts:      atomic.LoadInt64(&b.puts),
		FreeBytes: free,
	}
}

// SubmitPut decides eviction, evicts victims, then enqueues the write.
func (b *Backend) SubmitPut(key kvkey.Key, obj *memobj.MemoryObj) (*bridge.Future, bool) {
	size := obj.PhysicalSize()

	b.mu.Lock()
	victims, status := b.evictor.Decide(b.idx, size)
	b.mu.Unlock()
	if status == evict.Illegal {
		return nil, false
	}

	// Step 2: evict victims one at a time, releasing the lock before
	// doing the (possibly slow) unlink.
	for _, v := range victims {
		b.mu.Lock()
		_, had := b.idx.Remove(v)
		delete(b.meta, v.String())
		b.mu.Unlock()
		if !had {
			continue
		}
		if err := os.Remove(b.path(v)); err != nil && !errors.Is(err, os.ErrNotExist) {
			// log and swallow; the eviction remains committed
			// in-memory regardless of unlink outcome.
			b.errorf("disk: evicting %s: unlink failed: %s", v, err)
		}
	}

	// Step 3: pin the object and record the inflight write.
	obj.Ref()
	b.mu.Lock()
	b.inflight[key.String()] = struct{}{}
	b.mu.Unlock()
	atomic.AddInt64(&b.puts, 1)

	// Step 4: enqueue the async write.
	f := b.br.Submit(func() (interface{}, error) {
		err := b.writeAsync(key, obj)

		b.mu.Lock()
		delete(b.inflight, key.String())
		b.mu.Unlock()
		obj.Unref()

		return nil, err
	})
	return f, true
}

func (b *Backend) writeAsync(key kvkey.Key, obj *memobj.MemoryObj) error {
	data := obj.ByteArray()
	tmp := filepath.Join(b.dir, key.PathSafe()+"."+uuid.NewString()+".tmp")

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("disk: creating temp file for %s: %w", key, err)
	}
	if err := resize(f, int64(len(data))); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("disk: preallocating %s: %w", key, err)
	}
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(tmp)
		return fmt.Errorf("disk: writing %s: %w", key, werr)
	}

	final := b.path(key)
	// Two concurrent puts for the same key race here; whichever rename
	// commits last wins, without ever exposing a half-written final path.
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("disk: committing %s: %w", key, err)
	}

	b.mu.Lock()
	b.idx.Insert(key, int64(len(data)))
	b.meta[key.String()] = cacheMeta{
		path:   final,
		shape:  obj.Shape(),
		dtype:  obj.Dtype(),
		format: obj.Format(),
	}
	b.mu.Unlock()
	return nil
}

// SubmitPrefetch begins an asynchronous load of key.
func (b *Backend) SubmitPrefetch(key kvkey.Key) (*bridge.Future, bool) {
	b.mu.Lock()
	m, ok := b.meta[key.String()]
	if !ok {
		b.mu.Unlock()
		atomic.AddInt64(&b.misses, 1)
		return nil, false
	}
	b.idx.UpdateOnHit(key)
	b.mu.Unlock()
	atomic.AddInt64(&b.hits, 1)

	f := b.br.Submit(func() (interface{}, error) {
		return b.loadFile(m)
	})
	return f, true
}

// loadFile allocates a fresh buffer and reads the file into it. Both a
// failed allocation and a missing file (a reader racing a concurrent
// eviction) are misses, not errors — the recency update from
// SubmitPrefetch already stands and is not rolled back.
func (b *Backend) loadFile(m cacheMeta) (*memobj.MemoryObj, error) {
	obj, ok := b.alloc.Allocate(m.shape, m.dtype, m.format)
	if !ok {
		b.errorf("disk: allocation failed loading %s", m.path)
		return nil, nil
	}
	f, err := os.Open(m.path)
	if err != nil {
		obj.Unref()
		return nil, nil
	}
	defer f.Close()
	if _, err := io.ReadFull(f, obj.ByteArray()); err != nil {
		obj.Unref()
		return nil, nil
	}
	return obj, nil
}

// GetBlocking performs a synchronous load in terms of SubmitPrefetch +
// Future.Wait.
func (b *Backend) GetBlocking(key kvkey.Key) (*memobj.MemoryObj, error) {
	f, ok := b.SubmitPrefetch(key)
	if !ok {
		return nil, nil
	}
	v, err := f.Wait()
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(*memobj.MemoryObj), nil
}

// Close flushes pending work and, if the Backend created its own bridge,
// shuts it down.
func (b *Backend) Close() error {
	if b.ownBridge {
		b.br.Close()
	}
	return nil
}
