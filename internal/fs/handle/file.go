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

package handle

import (
	"context"
	"fmt"
	"sync"

	"github.com/kcore-project/kcore/internal/fs/inode"
	"github.com/kcore-project/kcore/internal/kerr"
	"github.com/kcore-project/kcore/internal/locker"
)

// FileHandle is an open file: a reference to a file object plus a private
// offset.
type FileHandle struct {
	inode *inode.FileInode

	// Serializes reads and writes through this handle, so that two goroutines
	// sharing a descriptor never observe a torn offset.
	mu sync.Locker

	// GUARDED_BY(mu)
	offset int64

	// GUARDED_BY(mu)
	destroyed bool
}

var _ Handle = &FileHandle{}

// NewFileHandle creates a handle positioned at offset zero. The caller is
// responsible for having incremented the reference count of in.
func NewFileHandle(in *inode.FileInode) (fh *FileHandle) {
	fh = &FileHandle{
		inode: in,
	}

	fh.mu = locker.New(fmt.Sprintf("FileHandle(%d)", in.ID()), fh.checkInvariants)
	return
}

// LOCKS_REQUIRED(fh.mu)
func (fh *FileHandle) checkInvariants() {
	if fh.offset < 0 {
		panic(fmt.Sprintf("Negative offset %d for %v", fh.offset, fh.inode))
	}
}

// Inode returns the file object backing this handle.
func (fh *FileHandle) Inode() *inode.FileInode {
	return fh.inode
}

func (fh *FileHandle) Lock() {
	fh.mu.Lock()
}

func (fh *FileHandle) Unlock() {
	fh.mu.Unlock()
}

// LOCKS_EXCLUDED(fh.mu)
// LOCKS_EXCLUDED(fh.inode)
func (fh *FileHandle) Read(ctx context.Context, dst []byte) (n int, err error) {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	if fh.destroyed {
		err = fmt.Errorf("read of a closed handle for %v: %w", fh.inode, kerr.ErrInvalidHandle)
		return
	}

	fh.inode.Lock()
	n, err = fh.inode.ReadAt(dst, fh.offset)
	fh.inode.Unlock()

	fh.offset += int64(n)
	return
}

// LOCKS_EXCLUDED(fh.mu)
// LOCKS_EXCLUDED(fh.inode)
func (fh *FileHandle) Write(ctx context.Context, src []byte) (n int, err error) {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	if fh.destroyed {
		err = fmt.Errorf("write to a closed handle for %v: %w", fh.inode, kerr.ErrInvalidHandle)
		return
	}

	fh.inode.Lock()
	n, err = fh.inode.WriteAt(src, fh.offset)
	fh.inode.Unlock()

	fh.offset += int64(n)
	return
}

// Offset returns the current position of the handle.
//
// LOCKS_EXCLUDED(fh.mu)
func (fh *FileHandle) Offset() int64 {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	return fh.offset
}

// Destroy marks the handle as closed. Calls racing with the close observe
// either the open handle or an error, never a released object.
//
// LOCKS_REQUIRED(fh.mu)
func (fh *FileHandle) Destroy() {
	fh.destroyed = true
}

// LOCKS_REQUIRED(fh.mu)
func (fh *FileHandle) IsDestroyed() bool {
	return fh.destroyed
}
