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

package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/kcore-project/kcore/internal/fs/handle"
	"github.com/kcore-project/kcore/internal/kerr"
	"github.com/kcore-project/kcore/internal/locker"
)

// Descriptors 0 and 1 start bound to the console.
const (
	StdinFD  = 0
	StdoutFD = 1
)

// DescriptorTable is the fixed-size table of open handles owned by one
// process. Descriptors are the slot indices; the lowest free slot is always
// handed out first, and a slot is reused only after its handle is closed.
type DescriptorTable struct {
	ft *FileTable

	mu sync.Locker

	// GUARDED_BY(mu)
	slots []handle.Handle
}

// NewDescriptorTable creates a table with size slots, the first two bound to
// console input and output.
//
// REQUIRES: size > StdoutFD
func (ft *FileTable) NewDescriptorTable(size int, stdin io.Reader, stdout io.Writer) (dt *DescriptorTable) {
	dt = &DescriptorTable{
		ft:    ft,
		slots: make([]handle.Handle, size),
	}
	dt.slots[StdinFD] = handle.NewConsoleInput(stdin)
	dt.slots[StdoutFD] = handle.NewConsoleOutput(stdout)

	dt.mu = locker.New("DescriptorTable", dt.checkInvariants)
	return
}

// LOCKS_REQUIRED(dt.mu)
func (dt *DescriptorTable) checkInvariants() {
	seen := make(map[handle.Handle]int)
	for fd, h := range dt.slots {
		if h == nil {
			continue
		}

		if other, ok := seen[h]; ok {
			panic(fmt.Sprintf("Handle shared by descriptors %d and %d", other, fd))
		}
		seen[h] = fd
	}
}

// LOCKS_REQUIRED(dt.mu)
func (dt *DescriptorTable) freeSlot() (fd int, err error) {
	for fd = range dt.slots {
		if dt.slots[fd] == nil {
			return
		}
	}

	err = fmt.Errorf("all %d descriptors in use: %w", len(dt.slots), kerr.ErrResourceExhausted)
	return
}

// LOCKS_REQUIRED(dt.mu)
func (dt *DescriptorTable) lookUp(fd int) (h handle.Handle, err error) {
	if fd < 0 || fd >= len(dt.slots) || dt.slots[fd] == nil {
		err = fmt.Errorf("descriptor %d: %w", fd, kerr.ErrInvalidHandle)
		return
	}

	h = dt.slots[fd]
	return
}

// LOCKS_EXCLUDED(dt.mu)
func (dt *DescriptorTable) install(open func() (*handle.FileHandle, error)) (fd int, err error) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	// A full table fails before the namespace is touched.
	if fd, err = dt.freeSlot(); err != nil {
		fd = -1
		return
	}

	fh, err := open()
	if err != nil {
		fd = -1
		return
	}

	dt.slots[fd] = fh
	return
}

// Creat creates or truncates name and returns its descriptor.
func (dt *DescriptorTable) Creat(ctx context.Context, name string) (fd int, err error) {
	return dt.install(func() (*handle.FileHandle, error) {
		return dt.ft.Creat(ctx, name)
	})
}

// Open opens name and returns its descriptor.
func (dt *DescriptorTable) Open(ctx context.Context, name string) (fd int, err error) {
	return dt.install(func() (*handle.FileHandle, error) {
		return dt.ft.Open(ctx, name)
	})
}

// LOCKS_EXCLUDED(dt.mu)
func (dt *DescriptorTable) Read(ctx context.Context, fd int, dst []byte) (n int, err error) {
	dt.mu.Lock()
	h, err := dt.lookUp(fd)
	dt.mu.Unlock()

	if err != nil {
		return
	}

	return h.Read(ctx, dst)
}

// LOCKS_EXCLUDED(dt.mu)
func (dt *DescriptorTable) Write(ctx context.Context, fd int, src []byte) (n int, err error) {
	dt.mu.Lock()
	h, err := dt.lookUp(fd)
	dt.mu.Unlock()

	if err != nil {
		return
	}

	return h.Write(ctx, src)
}

// Close frees fd. The slot is free even when releasing the handle reports a
// write-back error.
//
// LOCKS_EXCLUDED(dt.mu)
func (dt *DescriptorTable) Close(ctx context.Context, fd int) (err error) {
	dt.mu.Lock()
	h, err := dt.lookUp(fd)
	if err == nil {
		dt.slots[fd] = nil
	}
	dt.mu.Unlock()

	if err != nil {
		return
	}

	return dt.release(ctx, h)
}

func (dt *DescriptorTable) release(ctx context.Context, h handle.Handle) error {
	fh, ok := h.(*handle.FileHandle)
	if !ok {
		return nil
	}

	return dt.ft.Release(ctx, fh)
}

// CloseAll frees every descriptor. It is called when the owning process
// exits.
//
// LOCKS_EXCLUDED(dt.mu)
func (dt *DescriptorTable) CloseAll(ctx context.Context) (err error) {
	dt.mu.Lock()
	handles := make([]handle.Handle, 0, len(dt.slots))
	for fd, h := range dt.slots {
		if h != nil {
			handles = append(handles, h)
			dt.slots[fd] = nil
		}
	}
	dt.mu.Unlock()

	for _, h := range handles {
		err = errors.Join(err, dt.release(ctx, h))
	}

	return
}

// Size returns the number of slots.
func (dt *DescriptorTable) Size() int {
	return len(dt.slots)
}

// InUse returns the number of occupied slots.
//
// LOCKS_EXCLUDED(dt.mu)
func (dt *DescriptorTable) InUse() (n int) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	for _, h := range dt.slots {
		if h != nil {
			n++
		}
	}
	return
}
