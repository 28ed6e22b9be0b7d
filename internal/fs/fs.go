// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package fs implements the kernel's file table: the namespace of file
// objects shared by all processes, and the per-process descriptor tables
// that refer into it.
package fs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"
	"github.com/kcore-project/kcore/internal/contentcache"
	"github.com/kcore-project/kcore/internal/fs/handle"
	"github.com/kcore-project/kcore/internal/fs/inode"
	"github.com/kcore-project/kcore/internal/kerr"
	"github.com/kcore-project/kcore/internal/logger"
	"github.com/kcore-project/kcore/internal/storage"
	"github.com/kcore-project/kcore/metrics"
	"golang.org/x/sync/errgroup"
)

// Number of objects written back at once by SyncAll.
const syncParallelism = 4

type ServerConfig struct {
	// The medium holding file contents between opens.
	Store storage.Store

	// A clock used for file modification times.
	Clock timeutil.Clock

	// The longest name creat, open and unlink accept.
	MaxNameLength int

	// If non-nil, keeps the contents of closed files so that reopening them
	// skips the store. The file table must be the only writer of the store.
	ContentCache *contentcache.Cache

	MetricHandle metrics.MetricHandle
}

// FileTable is the namespace of file objects shared by all processes.
//
// A name is live when it maps to an object in memory or exists in the store.
// Objects live in memory only while at least one handle refers to them; on
// the last close a linked object is written back and evicted, an unlinked one
// is destroyed.
//
// LOCK ORDERING
//
// Let DT be a descriptor table lock, H a handle lock, T the file table lock
// and I an inode lock. Locks are acquired in the order DT < H < T < I.
type FileTable struct {
	/////////////////////////
	// Dependencies
	/////////////////////////

	store        storage.Store
	cache        *contentcache.Cache
	clock        timeutil.Clock
	metricHandle metrics.MetricHandle

	/////////////////////////
	// Constant data
	/////////////////////////

	maxNameLength int

	/////////////////////////
	// Mutable state
	/////////////////////////

	mu syncutil.InvariantMutex

	// The next inode ID to hand out.
	//
	// INVARIANT: For all keys k in inodes and orphans, k < nextInodeID
	//
	// GUARDED_BY(mu)
	nextInodeID inode.ID

	// Linked objects that are open somewhere, indexed by name.
	//
	// INVARIANT: For all k, v: v.Name() == k
	// INVARIANT: For all v: !v.IsUnlinked()
	//
	// GUARDED_BY(mu)
	names map[string]*inode.FileInode

	// Unlinked objects that still have open handles.
	//
	// INVARIANT: For all k, v: v.ID() == k
	// INVARIANT: For all v: v.IsUnlinked()
	//
	// GUARDED_BY(mu)
	orphans map[inode.ID]*inode.FileInode
}

// NewFileTable creates an empty file table over the given store.
func NewFileTable(serverCfg *ServerConfig) (ft *FileTable, err error) {
	if serverCfg.Store == nil {
		err = errors.New("a store is required")
		return
	}

	if serverCfg.MaxNameLength <= 0 {
		err = fmt.Errorf("illegal max name length: %d", serverCfg.MaxNameLength)
		return
	}

	clock := serverCfg.Clock
	if clock == nil {
		clock = timeutil.RealClock()
	}

	metricHandle := serverCfg.MetricHandle
	if metricHandle == nil {
		metricHandle = metrics.NewNoopMetrics()
	}

	ft = &FileTable{
		store:         serverCfg.Store,
		cache:         serverCfg.ContentCache,
		clock:         clock,
		metricHandle:  metricHandle,
		maxNameLength: serverCfg.MaxNameLength,
		nextInodeID:   1,
		names:         make(map[string]*inode.FileInode),
		orphans:       make(map[inode.ID]*inode.FileInode),
	}

	ft.mu = syncutil.NewInvariantMutex(ft.checkInvariants)
	return
}

////////////////////////////////////////////////////////////////////////
// Helpers
////////////////////////////////////////////////////////////////////////

func (ft *FileTable) checkInvariants() {
	for name, in := range ft.names {
		// INVARIANT: For all k, v: v.Name() == k
		if in.Name() != name {
			panic(fmt.Sprintf("Name mismatch: %q vs. %q", in.Name(), name))
		}

		// INVARIANT: For all keys k in inodes and orphans, k < nextInodeID
		if in.ID() >= ft.nextInodeID {
			panic(fmt.Sprintf("Illegal inode ID: %v", in.ID()))
		}
	}

	for id, in := range ft.orphans {
		// INVARIANT: For all k, v: v.ID() == k
		if in.ID() != id {
			panic(fmt.Sprintf("ID mismatch: %v vs. %v", in.ID(), id))
		}

		if id >= ft.nextInodeID {
			panic(fmt.Sprintf("Illegal inode ID: %v", id))
		}
	}
}

func (ft *FileTable) checkName(name string) error {
	if name == "" {
		return fmt.Errorf("empty name: %w", kerr.ErrInvalidArgument)
	}

	if len(name) > ft.maxNameLength {
		return fmt.Errorf("name of %d bytes exceeds %d: %w", len(name), ft.maxNameLength, kerr.ErrInvalidArgument)
	}

	return nil
}

// LOCKS_REQUIRED(ft.mu)
func (ft *FileTable) mintInode(name string, content []byte, dirty bool) (in *inode.FileInode) {
	in = inode.NewFileInode(ft.nextInodeID, name, content, dirty, ft.clock)
	ft.nextInodeID++
	ft.names[name] = in
	return
}

// openInode takes a reference on in and wraps it in a new handle.
//
// LOCKS_REQUIRED(ft.mu)
// LOCKS_REQUIRED(in)
func (ft *FileTable) openInode(in *inode.FileInode) *handle.FileHandle {
	in.IncrementRefCount()
	ft.metricHandle.OpenFileCount(1)
	return handle.NewFileHandle(in)
}

// writeBack saves the content of a dirty linked object. It touches no file
// table state, so the table lock need not be held.
//
// LOCKS_REQUIRED(in)
func (ft *FileTable) writeBack(ctx context.Context, in *inode.FileInode) (err error) {
	if !in.IsDirty() || in.IsUnlinked() {
		return
	}

	if err = ft.store.Save(ctx, in.Name(), in.Content()); err != nil {
		err = fmt.Errorf("write back %v: %w", in, err)
		return
	}

	in.MarkClean()
	return
}

// load reads the content of a name that is not in memory.
//
// LOCKS_REQUIRED(ft.mu)
func (ft *FileTable) load(ctx context.Context, name string) (content []byte, err error) {
	if ft.cache != nil {
		var hit bool
		if content, hit = ft.cache.LookUp(name); hit {
			logger.Tracef("load %q: %d bytes from the content cache", name, len(content))
			return
		}
	}

	return ft.store.Load(ctx, name)
}

// forget drops any cached content for name.
func (ft *FileTable) forget(name string) {
	if ft.cache != nil {
		ft.cache.Erase(name)
	}
}

////////////////////////////////////////////////////////////////////////
// Public interface
////////////////////////////////////////////////////////////////////////

// Creat opens name for writing after emptying it. When name is not live a
// new empty object is created. An unlinked object that still carries the
// name is not affected.
//
// LOCKS_EXCLUDED(ft.mu)
func (ft *FileTable) Creat(ctx context.Context, name string) (fh *handle.FileHandle, err error) {
	if err = ft.checkName(name); err != nil {
		return
	}

	ft.mu.Lock()
	defer ft.mu.Unlock()

	in, ok := ft.names[name]
	if !ok {
		// Whatever the store holds for name is replaced on write-back.
		ft.forget(name)
		in = ft.mintInode(name, nil, true)
		logger.Tracef("creat: new object %v", in)
	}

	in.Lock()
	defer in.Unlock()

	if ok {
		in.Truncate()
	}

	fh = ft.openInode(in)
	return
}

// Open opens a live name. Objects not in memory are loaded from the store.
//
// LOCKS_EXCLUDED(ft.mu)
func (ft *FileTable) Open(ctx context.Context, name string) (fh *handle.FileHandle, err error) {
	if err = ft.checkName(name); err != nil {
		return
	}

	ft.mu.Lock()
	defer ft.mu.Unlock()

	in, ok := ft.names[name]
	if !ok {
		var content []byte
		content, err = ft.load(ctx, name)
		if err != nil {
			err = fmt.Errorf("open %q: %w", name, err)
			return
		}

		in = ft.mintInode(name, content, false)
		logger.Tracef("open: loaded %v, %d bytes", in, len(content))
	}

	in.Lock()
	defer in.Unlock()

	fh = ft.openInode(in)
	return
}

// Unlink removes name from the namespace. Handles already open on the object
// stay usable; the object is destroyed when the last of them closes. When the
// store refuses the delete nothing changes.
//
// LOCKS_EXCLUDED(ft.mu)
func (ft *FileTable) Unlink(ctx context.Context, name string) (err error) {
	if err = ft.checkName(name); err != nil {
		return
	}

	ft.mu.Lock()
	defer ft.mu.Unlock()

	// Holding the inode lock orders the delete after any write-back of the
	// same object still in flight.
	in, inMemory := ft.names[name]
	if inMemory {
		in.Lock()
		defer in.Unlock()
	}

	err = ft.store.Delete(ctx, name)
	switch {
	case err == nil:
	case inMemory && errors.Is(err, kerr.ErrNotFound):
		// Created but never written back.
		err = nil
	default:
		err = fmt.Errorf("unlink %q: %w", name, err)
		return
	}

	ft.forget(name)
	if inMemory {
		in.Unlink()
		delete(ft.names, name)
		ft.orphans[in.ID()] = in
		logger.Tracef("unlink: %v deferred until last close", in)
	}

	return
}

// Release closes fh, dropping its reference. On the last reference a linked
// object is written back and evicted, an unlinked one is destroyed. The
// handle is released even when write-back fails.
//
// Write-back runs under the inode lock alone so that other names stay
// usable. The object stays in the namespace meanwhile; whoever opens it again
// waits for the write-back and keeps it in memory.
//
// LOCKS_EXCLUDED(fh)
// LOCKS_EXCLUDED(ft.mu)
func (ft *FileTable) Release(ctx context.Context, fh *handle.FileHandle) (err error) {
	fh.Lock()
	defer fh.Unlock()

	if fh.IsDestroyed() {
		err = fmt.Errorf("handle for %v already closed: %w", fh.Inode(), kerr.ErrInvalidHandle)
		return
	}

	in := fh.Inode()
	ft.mu.Lock()
	in.Lock()

	fh.Destroy()
	ft.metricHandle.OpenFileCount(-1)
	if !in.DecrementRefCount() {
		in.Unlock()
		ft.mu.Unlock()
		return
	}

	if in.IsUnlinked() {
		ft.destroyLocked(in)
		in.Unlock()
		ft.mu.Unlock()
		return
	}

	ft.mu.Unlock()
	err = ft.writeBack(ctx, in)
	in.Unlock()

	ft.mu.Lock()
	defer ft.mu.Unlock()
	in.Lock()
	defer in.Unlock()

	ft.evictLocked(in)
	return
}

// destroyLocked drops an unlinked object nobody refers to.
//
// LOCKS_REQUIRED(ft.mu)
// LOCKS_REQUIRED(in)
func (ft *FileTable) destroyLocked(in *inode.FileInode) {
	delete(ft.orphans, in.ID())
	logger.Tracef("close: destroying unlinked %v", in)
	in.Destroy()
}

// evictLocked removes an object from memory once its write-back is over,
// unless it was opened again or already evicted in the meantime. Clean
// content is kept in the content cache.
//
// LOCKS_REQUIRED(ft.mu)
// LOCKS_REQUIRED(in)
func (ft *FileTable) evictLocked(in *inode.FileInode) {
	if in.IsDestroyed() || in.RefCount() != 0 {
		return
	}

	if in.IsUnlinked() {
		ft.destroyLocked(in)
		return
	}

	if ft.cache != nil {
		if in.IsDirty() {
			ft.forget(in.Name())
		} else {
			for _, name := range ft.cache.Insert(in.Name(), in.Content()) {
				logger.Tracef("close: evicted %q from the content cache", name)
			}
		}
	}

	delete(ft.names, in.Name())
	in.Destroy()
}

// SyncAll writes back every dirty linked object without closing anything. Every
// object is attempted; the first failure is returned.
//
// LOCKS_EXCLUDED(ft.mu)
func (ft *FileTable) SyncAll(ctx context.Context) (err error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	start := time.Now()
	var g errgroup.Group
	g.SetLimit(syncParallelism)
	for _, in := range ft.names {
		g.Go(func() error {
			in.Lock()
			defer in.Unlock()
			return ft.writeBack(ctx, in)
		})
	}
	err = g.Wait()

	logger.Debugf("sync: %d open objects in %v", len(ft.names), time.Since(start))
	return
}

// Exists reports whether name is live.
//
// LOCKS_EXCLUDED(ft.mu)
func (ft *FileTable) Exists(ctx context.Context, name string) (ok bool, err error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	if _, ok = ft.names[name]; ok {
		return
	}

	_, err = ft.load(ctx, name)
	switch {
	case err == nil:
		ok = true
	case errors.Is(err, kerr.ErrNotFound):
		err = nil
	}

	return
}

// Stats reports the number of linked and unlinked objects held in memory.
//
// LOCKS_EXCLUDED(ft.mu)
func (ft *FileTable) Stats() (linked, unlinked int) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return len(ft.names), len(ft.orphans)
}
