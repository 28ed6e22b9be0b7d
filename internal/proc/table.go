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

// Package proc is the kernel's process table: it starts processes from
// loaded images, records how they end and hands exit statuses to their
// parents.
package proc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"
	"github.com/kcore-project/kcore/internal/fs"
	"github.com/kcore-project/kcore/internal/kerr"
	"github.com/kcore-project/kcore/internal/loader"
	"github.com/kcore-project/kcore/internal/logger"
	"github.com/kcore-project/kcore/metrics"
)

// Main is the body of a process. Its return value is the exit status when
// the process does not call exit itself.
type Main func(p *Process) (status int)

// Resolver maps a loaded image to the code it runs. An error rejects the
// exec before any process slot is taken.
type Resolver func(img *loader.Image) (Main, error)

type Config struct {
	Loader       loader.Loader
	Resolve      Resolver
	Files        *fs.FileTable
	Clock        timeutil.Clock
	Console      Console
	MetricHandle metrics.MetricHandle

	// The most processes the table holds at once, counting exited processes
	// not yet joined.
	MaxProcesses int

	// Descriptor slots per process.
	MaxOpenFiles int
}

// Console is bound to descriptors 0 and 1 of every new process.
type Console struct {
	In  io.Reader
	Out io.Writer
}

// Table is the process table.
//
// LOCK ORDERING
//
// The table lock is never held while calling into the file table or the
// loader.
type Table struct {
	/////////////////////////
	// Dependencies
	/////////////////////////

	loader       loader.Loader
	resolve      Resolver
	files        *fs.FileTable
	clock        timeutil.Clock
	console      Console
	metricHandle metrics.MetricHandle

	/////////////////////////
	// Constant data
	/////////////////////////

	maxProcesses int
	maxOpenFiles int

	// Closed once, when the kernel halts.
	halted   chan struct{}
	haltOnce sync.Once

	/////////////////////////
	// Mutable state
	/////////////////////////

	mu syncutil.InvariantMutex

	// GUARDED_BY(mu)
	nextPID int

	// Processes that still occupy a slot: running, or exited with a live
	// parent that has not joined them yet.
	//
	// INVARIANT: For all k, v: v.pid == k
	// INVARIANT: For all v: v.state != Joined
	// INVARIANT: For all v: v.state == Exited implies v.parent != nil
	//
	// GUARDED_BY(mu)
	procs map[int]*Process

	// INVARIANT: running == |{v in procs: v.state == Running}|
	//
	// GUARDED_BY(mu)
	running int
}

func NewTable(c *Config) (t *Table, err error) {
	if c.Loader == nil || c.Resolve == nil || c.Files == nil {
		err = errors.New("a loader, a resolver and a file table are required")
		return
	}

	if c.MaxProcesses < 1 || c.MaxOpenFiles <= fs.StdoutFD {
		err = fmt.Errorf("illegal limits: %d processes, %d descriptors", c.MaxProcesses, c.MaxOpenFiles)
		return
	}

	clock := c.Clock
	if clock == nil {
		clock = timeutil.RealClock()
	}

	metricHandle := c.MetricHandle
	if metricHandle == nil {
		metricHandle = metrics.NewNoopMetrics()
	}

	console := c.Console
	if console.In == nil {
		console.In = eofReader{}
	}
	if console.Out == nil {
		console.Out = io.Discard
	}

	t = &Table{
		loader:       c.Loader,
		resolve:      c.Resolve,
		files:        c.Files,
		clock:        clock,
		console:      console,
		metricHandle: metricHandle,
		maxProcesses: c.MaxProcesses,
		maxOpenFiles: c.MaxOpenFiles,
		halted:       make(chan struct{}),
		nextPID:      1,
		procs:        make(map[int]*Process),
	}

	t.mu = syncutil.NewInvariantMutex(t.checkInvariants)
	return
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }

////////////////////////////////////////////////////////////////////////
// Helpers
////////////////////////////////////////////////////////////////////////

func (t *Table) checkInvariants() {
	running := 0
	for pid, p := range t.procs {
		// INVARIANT: For all k, v: v.pid == k
		if p.pid != pid {
			panic(fmt.Sprintf("PID mismatch: %d vs. %d", p.pid, pid))
		}

		switch p.state {
		case Running:
			running++

		case Exited:
			// INVARIANT: For all v: v.state == Exited implies v.parent != nil
			if p.parent == nil {
				panic(fmt.Sprintf("Unreaped orphan: %v", p))
			}

		default:
			// INVARIANT: For all v: v.state != Joined
			panic(fmt.Sprintf("Joined process still in the table: %v", p))
		}

		if p.parent != nil && p.parent.state != Running {
			panic(fmt.Sprintf("%v has a dead parent %v", p, p.parent))
		}
	}

	// INVARIANT: running == |{v in procs: v.state == Running}|
	if running != t.running {
		panic(fmt.Sprintf("Running count mismatch: %d vs. %d", running, t.running))
	}
}

// LOCKS_REQUIRED(t.mu)
func (t *Table) isHalted() bool {
	select {
	case <-t.halted:
		return true
	default:
		return false
	}
}

// LOCKS_REQUIRED(t.mu)
func (t *Table) remove(p *Process) {
	delete(t.procs, p.pid)
	t.metricHandle.ProcessCount(-1)
}

// run is the goroutine of a process. A panic in body is an abnormal exit.
// Exit followed by runtime.Goexit unwinds through here too, after the
// process has already been marked exited.
func (t *Table) run(ctx context.Context, p *Process, body Main) {
	// Descriptors are written back at exit even once the kernel has halted.
	ctx = context.WithoutCancel(ctx)

	finished := false
	defer func() {
		r := recover()
		if finished {
			return
		}

		if r != nil {
			logger.Warnf("%v terminated abnormally: %v", p, r)
			t.terminate(ctx, p, 0, false)
			return
		}

		// runtime.Goexit: either exit was already called or the process is
		// being torn down some other way.
		t.terminate(ctx, p, 0, false)
	}()

	status := body(p)
	finished = true
	t.terminate(ctx, p, status, true)
}

// terminate is exit for process p. It does nothing for a process that has
// already exited.
//
// LOCKS_EXCLUDED(t.mu)
func (t *Table) terminate(ctx context.Context, p *Process, status int, normal bool) {
	t.mu.Lock()
	if p.state != Running {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	// Descriptors are released before the status is published, so a joiner
	// sees everything the child wrote.
	if err := p.files.CloseAll(ctx); err != nil {
		logger.Errorf("%v: closing descriptors at exit: %v", p, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if p.state != Running {
		return
	}

	p.state = Exited
	p.status = status
	p.normal = normal
	p.exitTime = t.clock.Now()
	t.running--

	// Running children become orphans; exited ones can never be joined now.
	for _, c := range p.children {
		switch c.state {
		case Running:
			c.parent = nil
		case Exited:
			t.remove(c)
		}
	}

	if p.parent == nil {
		t.remove(p)
	}

	close(p.done)
	logger.Debugf("%v exited with status %d (normal: %v) after %v", p, status, normal, p.exitTime.Sub(p.startTime))

	if t.running == 0 {
		logger.Infof("Last process exited, halting")
		t.haltLocked()
	}
}

// LOCKS_REQUIRED(t.mu)
func (t *Table) haltLocked() {
	t.haltOnce.Do(func() { close(t.halted) })
}

////////////////////////////////////////////////////////////////////////
// Public interface
////////////////////////////////////////////////////////////////////////

// Exec loads path and starts it as a child of parent, or as the root process
// when parent is nil. Nothing is reserved unless the image loads.
//
// LOCKS_EXCLUDED(t.mu)
func (t *Table) Exec(ctx context.Context, parent *Process, path string, argc int, argv []string) (p *Process, err error) {
	img, err := t.loader.Load(ctx, path, argc, argv)
	if err != nil {
		return
	}

	body, err := t.resolve(img)
	if err != nil {
		err = fmt.Errorf("resolve %q: %w: %w", path, kerr.ErrLoad, err)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.isHalted() {
		err = fmt.Errorf("exec %q: kernel halted: %w", path, context.Canceled)
		return
	}

	if parent != nil && parent.state != Running {
		err = fmt.Errorf("exec %q from exited %v: %w", path, parent, kerr.ErrInvalidArgument)
		return
	}

	if len(t.procs) >= t.maxProcesses {
		err = fmt.Errorf("exec %q: %d processes: %w", path, len(t.procs), kerr.ErrResourceExhausted)
		return
	}

	p = &Process{
		pid:       t.nextPID,
		image:     img,
		startTime: t.clock.Now(),
		files:     t.files.NewDescriptorTable(t.maxOpenFiles, t.console.In, t.console.Out),
		done:      make(chan struct{}),
		parent:    parent,
		state:     Running,
		children:  make(map[int]*Process),
	}
	t.nextPID++
	t.procs[p.pid] = p
	t.running++
	t.metricHandle.ProcessCount(1)
	if parent != nil {
		parent.children[p.pid] = p
	}

	logger.Debugf("exec: started %v with %d arguments", p, len(img.Argv))
	go t.run(ctx, p, body)
	return
}

// Join waits for child pid of parent to exit and collects its status. normal
// is false when the child ended without calling exit, in which case status
// is meaningless.
//
// LOCKS_EXCLUDED(t.mu)
func (t *Table) Join(ctx context.Context, parent *Process, pid int) (status int, normal bool, err error) {
	t.mu.Lock()
	child, ok := parent.children[pid]
	t.mu.Unlock()

	if !ok {
		err = fmt.Errorf("join %d: not a child of %v: %w", pid, parent, kerr.ErrNotFound)
		return
	}

	select {
	case <-child.done:
	case <-ctx.Done():
		err = fmt.Errorf("join %d: %w", pid, ctx.Err())
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if child.state == Joined {
		err = fmt.Errorf("join %d: %w", pid, kerr.ErrAlreadyConsumed)
		return
	}

	status, normal = child.status, child.normal
	child.state = Joined
	if _, ok := t.procs[pid]; ok {
		t.remove(child)
	}

	return
}

// Exit terminates p with status. Remaining goroutines of p keep running but
// p no longer owns descriptors and its parent may collect status.
//
// LOCKS_EXCLUDED(t.mu)
func (t *Table) Exit(ctx context.Context, p *Process, status int) {
	t.terminate(context.WithoutCancel(ctx), p, status, true)
}

// Halt stops the kernel. Exec fails from now on.
//
// LOCKS_EXCLUDED(t.mu)
func (t *Table) Halt() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.haltLocked()
}

// Halted is closed when the last process exits or Halt is called.
func (t *Table) Halted() <-chan struct{} {
	return t.halted
}

// Live returns the processes that still occupy a slot.
//
// LOCKS_EXCLUDED(t.mu)
func (t *Table) Live() (procs []*Process) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, p := range t.procs {
		procs = append(procs, p)
	}
	return
}

// StateOf reports the state of p.
//
// LOCKS_EXCLUDED(t.mu)
func (t *Table) StateOf(p *Process) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return p.state
}

// Status returns how p ended. ok is false while p is still running.
//
// LOCKS_EXCLUDED(t.mu)
func (t *Table) Status(p *Process) (status int, normal bool, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p.state == Running {
		return
	}
	return p.status, p.normal, true
}

// Running returns the number of processes that have not exited.
//
// LOCKS_EXCLUDED(t.mu)
func (t *Table) Running() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}
