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

// Package inode holds the in-memory file objects of the file table.
package inode

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jacobsa/timeutil"
	"github.com/kcore-project/kcore/internal/locker"
)

// ID identifies a file object for the lifetime of a kernel. IDs are never
// reused, so two objects that carried the same name at different times are
// distinguishable.
type ID uint64

type FileInode struct {
	/////////////////////////
	// Dependencies
	/////////////////////////

	mtimeClock timeutil.Clock

	/////////////////////////
	// Constant data
	/////////////////////////

	id   ID
	name string

	// Random identity of this incarnation of the object, reported in logs.
	generation uuid.UUID

	/////////////////////////
	// Mutable state
	/////////////////////////

	// A mutex that must be held when calling certain methods. See documentation
	// for each method.
	mu sync.Locker

	// The number of open handles across all processes.
	//
	// GUARDED_BY(mu)
	rc refCount

	// GUARDED_BY(mu)
	content []byte

	// Set when content differs from what the store holds for name.
	//
	// GUARDED_BY(mu)
	dirty bool

	// Set once name has been removed from the namespace. An unlinked object is
	// never written back.
	//
	// GUARDED_BY(mu)
	unlinked bool

	// GUARDED_BY(mu)
	mtime time.Time

	// Has Destroy been called?
	//
	// GUARDED_BY(mu)
	destroyed bool
}

// NewFileInode creates a file object named name holding content. The
// initial reference count is zero. When dirty is true the object is written
// back to the store once its last handle closes, even if it is never
// modified.
//
// REQUIRES: len(name) > 0
func NewFileInode(
	id ID,
	name string,
	content []byte,
	dirty bool,
	mtimeClock timeutil.Clock) (f *FileInode) {
	f = &FileInode{
		mtimeClock: mtimeClock,
		id:         id,
		name:       name,
		generation: uuid.New(),
		content:    content,
		dirty:      dirty,
		mtime:      mtimeClock.Now(),
	}

	f.rc.Init(id)
	f.mu = locker.New(fmt.Sprintf("FileInode(%d)", id), f.checkInvariants)
	return
}

////////////////////////////////////////////////////////////////////////
// Helpers
////////////////////////////////////////////////////////////////////////

// LOCKS_REQUIRED(f.mu)
func (f *FileInode) checkInvariants() {
	if f.destroyed {
		return
	}

	if len(f.name) == 0 {
		panic(fmt.Sprintf("Inode %v has an empty name", f.id))
	}

	// INVARIANT: unlinked objects are never written back.
	if f.unlinked && f.dirty {
		panic(fmt.Sprintf("Inode %v is unlinked but dirty", f.id))
	}
}

////////////////////////////////////////////////////////////////////////
// Public interface
////////////////////////////////////////////////////////////////////////

func (f *FileInode) Lock() {
	f.mu.Lock()
}

func (f *FileInode) Unlock() {
	f.mu.Unlock()
}

func (f *FileInode) ID() ID {
	return f.id
}

func (f *FileInode) Name() string {
	return f.name
}

func (f *FileInode) Generation() uuid.UUID {
	return f.generation
}

func (f *FileInode) String() string {
	return fmt.Sprintf("%q (inode %d, generation %s)", f.name, f.id, f.generation)
}

// LOCKS_REQUIRED(f.mu)
func (f *FileInode) IncrementRefCount() {
	f.rc.Inc()
}

// DecrementRefCount drops one reference. If it returns true no handle refers
// to the object any more, and the caller must either write it back or call
// Destroy.
//
// LOCKS_REQUIRED(f.mu)
func (f *FileInode) DecrementRefCount() (zero bool) {
	return f.rc.Dec()
}

// LOCKS_REQUIRED(f.mu)
func (f *FileInode) RefCount() uint64 {
	return f.rc.count
}

// Unlink marks the object as removed from the namespace and discards any
// pending write-back.
//
// LOCKS_REQUIRED(f.mu)
func (f *FileInode) Unlink() {
	f.unlinked = true
	f.dirty = false
}

// LOCKS_REQUIRED(f.mu)
func (f *FileInode) IsUnlinked() bool {
	return f.unlinked
}

// LOCKS_REQUIRED(f.mu)
func (f *FileInode) IsDirty() bool {
	return f.dirty
}

// MarkClean records that the store now holds the current content.
//
// LOCKS_REQUIRED(f.mu)
func (f *FileInode) MarkClean() {
	f.dirty = false
}

// LOCKS_REQUIRED(f.mu)
func (f *FileInode) Size() int64 {
	return int64(len(f.content))
}

// LOCKS_REQUIRED(f.mu)
func (f *FileInode) Mtime() time.Time {
	return f.mtime
}

// Content returns a copy of the current content.
//
// LOCKS_REQUIRED(f.mu)
func (f *FileInode) Content() []byte {
	return append([]byte(nil), f.content...)
}

// ReadAt copies bytes starting at offset into dst. Reading at or past the
// end returns zero bytes and no error.
//
// LOCKS_REQUIRED(f.mu)
func (f *FileInode) ReadAt(dst []byte, offset int64) (n int, err error) {
	if offset < 0 {
		err = fmt.Errorf("negative offset %d", offset)
		return
	}

	if offset >= int64(len(f.content)) {
		return
	}

	n = copy(dst, f.content[offset:])
	return
}

// WriteAt writes src at offset, growing the content as needed. A gap between
// the old end and offset is zero filled.
//
// LOCKS_REQUIRED(f.mu)
func (f *FileInode) WriteAt(src []byte, offset int64) (n int, err error) {
	if offset < 0 {
		err = fmt.Errorf("negative offset %d", offset)
		return
	}

	end := offset + int64(len(src))
	if end > int64(len(f.content)) {
		if end > int64(cap(f.content)) {
			grown := make([]byte, end, 2*end)
			copy(grown, f.content)
			f.content = grown
		} else {
			old := len(f.content)
			f.content = f.content[:end]
			clear(f.content[old:])
		}
	}

	n = copy(f.content[offset:], src)
	f.mtime = f.mtimeClock.Now()
	if !f.unlinked {
		f.dirty = true
	}
	return
}

// Truncate drops all content.
//
// LOCKS_REQUIRED(f.mu)
func (f *FileInode) Truncate() {
	f.content = nil
	f.mtime = f.mtimeClock.Now()
	if !f.unlinked {
		f.dirty = true
	}
}

// Destroy releases the content. No method other than Unlock may be called
// afterwards.
//
// LOCKS_REQUIRED(f.mu)
func (f *FileInode) Destroy() {
	f.destroyed = true
	f.rc.Destroy()
	f.content = nil
}

// LOCKS_REQUIRED(f.mu)
func (f *FileInode) IsDestroyed() bool {
	return f.destroyed
}
