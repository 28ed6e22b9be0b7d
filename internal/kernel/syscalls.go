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

package kernel

import (
	"context"
	"fmt"
	"runtime"

	"github.com/kcore-project/kcore/internal/kerr"
	"github.com/kcore-project/kcore/internal/logger"
	"github.com/kcore-project/kcore/internal/proc"
	"github.com/kcore-project/kcore/metrics"
)

// Program is the code behind an image entry point. Its return value is the
// exit status, as if it had called Exit.
type Program func(sys *Syscalls) int

// Registry maps image entry points to programs.
type Registry map[string]Program

// Syscalls is the system call surface of one process. Every call returns -1
// on failure, as user programs expect; the cause is logged and counted.
//
// Only the goroutine running the process may call Exit or Halt.
type Syscalls struct {
	k *Kernel
	p *proc.Process
}

// PID of the calling process.
func (s *Syscalls) PID() int {
	return s.p.PID()
}

// Args returns the argument vector the process was started with.
func (s *Syscalls) Args() []string {
	return s.p.Image().Argv
}

// Literals returns the literal table of the process's image.
func (s *Syscalls) Literals() []string {
	return s.p.Image().Literals
}

////////////////////////////////////////////////////////////////////////
// Monitoring
////////////////////////////////////////////////////////////////////////

// invoke runs one system call with metrics and a server span around it.
func (s *Syscalls) invoke(name string, w func(ctx context.Context) error) (err error) {
	ctx, span := s.k.traceHandle.StartServerSpan(s.k.ctx, name)
	defer s.k.traceHandle.EndSpan(span)
	start := s.k.clock.Now()

	select {
	case <-s.k.procs.Halted():
		err = fmt.Errorf("kernel halted: %w", context.Canceled)
	default:
		err = w(ctx)
	}

	mh := s.k.metricHandle
	mh.SyscallCount(1, name)
	if err != nil {
		mh.SyscallErrorCount(1, kerr.Categorize(err), name)
		s.k.traceHandle.RecordError(span, err)
		logger.Debugf("%v: %s: %v (%v)", s.p, name, err, kerr.Errno(err))
	}
	mh.SyscallLatency(ctx, s.k.clock.Now().Sub(start), name)
	return
}

func checkBuffer(buf []byte, n int) error {
	if n < 0 || n > len(buf) {
		return fmt.Errorf("count %d for a buffer of %d bytes: %w", n, len(buf), kerr.ErrInvalidArgument)
	}
	return nil
}

////////////////////////////////////////////////////////////////////////
// Files
////////////////////////////////////////////////////////////////////////

// Creat creates or truncates name and opens it.
func (s *Syscalls) Creat(name string) int {
	fd := -1
	s.invoke(metrics.SyscallCreat, func(ctx context.Context) (err error) {
		fd, err = s.p.Files().Creat(ctx, name)
		return
	})
	return fd
}

func (s *Syscalls) Open(name string) int {
	fd := -1
	s.invoke(metrics.SyscallOpen, func(ctx context.Context) (err error) {
		fd, err = s.p.Files().Open(ctx, name)
		return
	})
	return fd
}

// Read reads up to n bytes from fd into buf and returns the count, 0 at end
// of file.
func (s *Syscalls) Read(fd int, buf []byte, n int) int {
	read := -1
	s.invoke(metrics.SyscallRead, func(ctx context.Context) (err error) {
		if err = checkBuffer(buf, n); err != nil {
			return
		}
		read, err = s.p.Files().Read(ctx, fd, buf[:n])
		if err != nil {
			read = -1
		}
		return
	})
	return read
}

func (s *Syscalls) Write(fd int, buf []byte, n int) int {
	written := -1
	s.invoke(metrics.SyscallWrite, func(ctx context.Context) (err error) {
		if err = checkBuffer(buf, n); err != nil {
			return
		}
		written, err = s.p.Files().Write(ctx, fd, buf[:n])
		if err != nil {
			written = -1
		}
		return
	})
	return written
}

func (s *Syscalls) Close(fd int) int {
	err := s.invoke(metrics.SyscallClose, func(ctx context.Context) error {
		return s.p.Files().Close(ctx, fd)
	})
	if err != nil {
		return -1
	}
	return 0
}

func (s *Syscalls) Unlink(name string) int {
	err := s.invoke(metrics.SyscallUnlink, func(ctx context.Context) error {
		return s.k.files.Unlink(ctx, name)
	})
	if err != nil {
		return -1
	}
	return 0
}

////////////////////////////////////////////////////////////////////////
// Processes
////////////////////////////////////////////////////////////////////////

// Exec starts the image at path as a child and returns its pid.
func (s *Syscalls) Exec(path string, argc int, argv []string) int {
	pid := -1
	s.invoke(metrics.SyscallExec, func(ctx context.Context) error {
		child, err := s.k.procs.Exec(ctx, s.p, path, argc, argv)
		if err != nil {
			return err
		}
		pid = child.PID()
		return nil
	})
	return pid
}

// Join waits for child pid. It returns 1 and stores the exit status when the
// child called exit, 0 when it terminated abnormally, -1 on failure.
func (s *Syscalls) Join(pid int, status *int) int {
	ret := -1
	s.invoke(metrics.SyscallJoin, func(ctx context.Context) error {
		code, normal, err := s.k.procs.Join(ctx, s.p, pid)
		if err != nil {
			return err
		}

		ret = 0
		if normal {
			ret = 1
			if status != nil {
				*status = code
			}
		}
		return nil
	})
	return ret
}

// Exit terminates the calling process. It does not return.
func (s *Syscalls) Exit(status int) {
	// Exit succeeds even after halt, so it bypasses invoke.
	s.k.metricHandle.SyscallCount(1, metrics.SyscallExit)
	s.k.procs.Exit(s.k.ctx, s.p, status)
	runtime.Goexit()
}

// Halt stops the kernel and terminates the calling process. It does not
// return.
func (s *Syscalls) Halt() {
	s.k.metricHandle.SyscallCount(1, metrics.SyscallHalt)
	logger.Infof("%v: halt", s.p)
	s.k.procs.Halt()
	s.k.procs.Exit(s.k.ctx, s.p, 0)
	runtime.Goexit()
}
