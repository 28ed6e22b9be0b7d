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

package proc

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"
	"github.com/kcore-project/kcore/cfg"
	"github.com/kcore-project/kcore/internal/fs"
	"github.com/kcore-project/kcore/internal/kerr"
	"github.com/kcore-project/kcore/internal/loader"
	"github.com/kcore-project/kcore/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

////////////////////////////////////////////////////////////////////////
// Boilerplate
////////////////////////////////////////////////////////////////////////

const waitTimeout = 5 * time.Second

type TableTest struct {
	suite.Suite
	ctx   context.Context
	store *storage.MemoryStore
	files *fs.FileTable
	table *Table
	clock timeutil.SimulatedClock

	// Bodies by entry point name.
	bodies map[string]Main

	// Released to let "block" processes return.
	release chan struct{}
}

func TestTableSuite(t *testing.T) {
	suite.Run(t, new(TableTest))
}

func (t *TableTest) SetupTest() {
	syncutil.EnableInvariantChecking()
	t.ctx = context.Background()
	t.clock.SetTime(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	t.store = storage.NewMemoryStore("mem")
	release := make(chan struct{})
	t.release = release

	var err error
	t.files, err = fs.NewFileTable(&fs.ServerConfig{Store: t.store, MaxNameLength: 256})
	require.NoError(t.T(), err)

	t.bodies = map[string]Main{
		"status": func(p *Process) int { return len(p.Image().Argv) },
		"block": func(p *Process) int {
			<-release
			return 7
		},
		"crash": func(p *Process) int { panic("boom") },
	}
	for entry := range t.bodies {
		t.install(entry+".coff", entry)
	}
	t.install("unknown.coff", "unknown")

	c := cfg.DefaultConfig()
	t.table, err = NewTable(&Config{
		Loader:       loader.NewStoreLoader(t.store, loader.ConfigFrom(&c)),
		Resolve:      t.resolve,
		Files:        t.files,
		Clock:        &t.clock,
		MaxProcesses: 4,
		MaxOpenFiles: 16,
	})
	require.NoError(t.T(), err)
}

func (t *TableTest) install(path, entry string) {
	data, err := loader.Build(entry, nil)
	require.NoError(t.T(), err)
	require.NoError(t.T(), t.store.Save(t.ctx, path, data))
}

func (t *TableTest) resolve(img *loader.Image) (Main, error) {
	body, ok := t.bodies[img.Entry]
	if !ok {
		return nil, errors.New("no such entry point")
	}
	return body, nil
}

// startRoot starts a root process that blocks until t.release is closed.
func (t *TableTest) startRoot() *Process {
	root, err := t.table.Exec(t.ctx, nil, "block.coff", 0, nil)
	require.NoError(t.T(), err)
	return root
}

func (t *TableTest) waitDone(p *Process) {
	select {
	case <-p.Done():
	case <-time.After(waitTimeout):
		t.T().Fatalf("%v did not exit", p)
	}
}

func (t *TableTest) waitHalted() {
	select {
	case <-t.table.Halted():
	case <-time.After(waitTimeout):
		t.T().Fatal("kernel did not halt")
	}
}

////////////////////////////////////////////////////////////////////////
// Tests
////////////////////////////////////////////////////////////////////////

func (t *TableTest) TestNewTableValidatesConfig() {
	_, err := NewTable(&Config{})
	assert.Error(t.T(), err)
}

func (t *TableTest) TestStartTimeComesFromClock() {
	root := t.startRoot()
	assert.Equal(t.T(), t.clock.Now(), root.StartTime())

	t.clock.AdvanceTime(time.Minute)
	child, err := t.table.Exec(t.ctx, root, "status.coff", 0, nil)
	require.NoError(t.T(), err)
	assert.Equal(t.T(), root.StartTime().Add(time.Minute), child.StartTime())
}

func (t *TableTest) TestJoinCollectsStatusOnce() {
	root := t.startRoot()
	child, err := t.table.Exec(t.ctx, root, "status.coff", 3, []string{"a", "b", "c"})
	require.NoError(t.T(), err)
	assert.Greater(t.T(), child.PID(), root.PID())

	status, normal, err := t.table.Join(t.ctx, root, child.PID())
	require.NoError(t.T(), err)
	assert.True(t.T(), normal)
	assert.Equal(t.T(), 3, status)
	assert.Equal(t.T(), Joined, t.table.StateOf(child))

	_, _, err = t.table.Join(t.ctx, root, child.PID())
	assert.ErrorIs(t.T(), err, kerr.ErrAlreadyConsumed)

	close(t.release)
	t.waitHalted()
}

func (t *TableTest) TestJoinBlocksUntilChildExits() {
	root := t.startRoot()
	child, err := t.table.Exec(t.ctx, root, "block.coff", 0, nil)
	require.NoError(t.T(), err)

	type result struct {
		status int
		err    error
	}
	joined := make(chan result, 1)
	go func() {
		status, _, err := t.table.Join(t.ctx, root, child.PID())
		joined <- result{status, err}
	}()

	select {
	case <-joined:
		t.T().Fatal("join returned while the child was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(t.release)
	select {
	case r := <-joined:
		require.NoError(t.T(), r.err)
		assert.Equal(t.T(), 7, r.status)
	case <-time.After(waitTimeout):
		t.T().Fatal("join did not return")
	}
}

func (t *TableTest) TestJoinNonChildFailsWithoutBlocking() {
	root := t.startRoot()
	child, err := t.table.Exec(t.ctx, root, "block.coff", 0, nil)
	require.NoError(t.T(), err)

	_, _, err = t.table.Join(t.ctx, child, root.PID())
	assert.ErrorIs(t.T(), err, kerr.ErrNotFound)

	_, _, err = t.table.Join(t.ctx, root, 12345)
	assert.ErrorIs(t.T(), err, kerr.ErrNotFound)

	_, _, err = t.table.Join(t.ctx, root, -1)
	assert.ErrorIs(t.T(), err, kerr.ErrNotFound)

	close(t.release)
}

func (t *TableTest) TestJoinHonorsContext() {
	root := t.startRoot()
	child, err := t.table.Exec(t.ctx, root, "block.coff", 0, nil)
	require.NoError(t.T(), err)
	ctx, cancel := context.WithCancel(t.ctx)
	cancel()

	_, _, err = t.table.Join(ctx, root, child.PID())

	assert.ErrorIs(t.T(), err, context.Canceled)
	close(t.release)
}

func (t *TableTest) TestPanicIsAbnormalExit() {
	root := t.startRoot()
	child, err := t.table.Exec(t.ctx, root, "crash.coff", 0, nil)
	require.NoError(t.T(), err)

	_, normal, err := t.table.Join(t.ctx, root, child.PID())

	require.NoError(t.T(), err)
	assert.False(t.T(), normal)
	close(t.release)
}

func (t *TableTest) TestExitThenGoexit() {
	t.bodies["exit"] = func(p *Process) int {
		t.table.Exit(t.ctx, p, 42)
		runtime.Goexit()
		return 0
	}
	t.install("exit.coff", "exit")
	root := t.startRoot()
	child, err := t.table.Exec(t.ctx, root, "exit.coff", 0, nil)
	require.NoError(t.T(), err)

	status, normal, err := t.table.Join(t.ctx, root, child.PID())

	require.NoError(t.T(), err)
	assert.True(t.T(), normal)
	assert.Equal(t.T(), 42, status)
	close(t.release)
}

func (t *TableTest) TestExecFailuresLeaveNoEntry() {
	root := t.startRoot()

	_, err := t.table.Exec(t.ctx, root, "missing.coff", 0, nil)
	assert.ErrorIs(t.T(), err, kerr.ErrLoad)

	_, err = t.table.Exec(t.ctx, root, "unknown.coff", 0, nil)
	assert.ErrorIs(t.T(), err, kerr.ErrLoad)

	_, err = t.table.Exec(t.ctx, root, "status", 0, nil)
	assert.ErrorIs(t.T(), err, kerr.ErrInvalidArgument)

	assert.Len(t.T(), t.table.Live(), 1)
	close(t.release)
}

func (t *TableTest) TestTableFull() {
	root := t.startRoot()
	for i := 0; i < 3; i++ {
		_, err := t.table.Exec(t.ctx, root, "block.coff", 0, nil)
		require.NoError(t.T(), err)
	}

	_, err := t.table.Exec(t.ctx, root, "block.coff", 0, nil)

	assert.ErrorIs(t.T(), err, kerr.ErrResourceExhausted)
	close(t.release)
	t.waitHalted()
}

func (t *TableTest) TestExitedChildHoldsSlotUntilJoined() {
	root := t.startRoot()
	child, err := t.table.Exec(t.ctx, root, "status.coff", 0, nil)
	require.NoError(t.T(), err)
	t.waitDone(child)

	assert.Equal(t.T(), Exited, t.table.StateOf(child))
	assert.Len(t.T(), t.table.Live(), 2)
	assert.Equal(t.T(), 1, t.table.Running())

	_, _, err = t.table.Join(t.ctx, root, child.PID())
	require.NoError(t.T(), err)
	assert.Len(t.T(), t.table.Live(), 1)
	close(t.release)
}

func (t *TableTest) TestParentExitReapsChildren() {
	t.bodies["spawn"] = func(p *Process) int {
		done, err := t.table.Exec(t.ctx, p, "status.coff", 0, nil)
		if !assert.NoError(t.T(), err) {
			return 1
		}
		<-done.Done()
		_, err = t.table.Exec(t.ctx, p, "block.coff", 0, nil)
		assert.NoError(t.T(), err)
		return 0
	}
	t.install("spawn.coff", "spawn")
	root := t.startRoot()
	parent, err := t.table.Exec(t.ctx, root, "spawn.coff", 0, nil)
	require.NoError(t.T(), err)

	t.waitDone(parent)

	// The parent is an unjoined zombie of root, and the blocked grandchild an
	// orphan. The finished grandchild is gone.
	assert.Len(t.T(), t.table.Live(), 3)

	close(t.release)
	t.waitHalted()
	assert.Len(t.T(), t.table.Live(), 0)
}

func (t *TableTest) TestExitReleasesDescriptorsBeforeJoin() {
	t.bodies["writer"] = func(p *Process) int {
		fd, err := p.Files().Creat(t.ctx, "out.txt")
		if !assert.NoError(t.T(), err) {
			return 1
		}
		_, err = p.Files().Write(t.ctx, fd, []byte("done"))
		assert.NoError(t.T(), err)
		return 0
	}
	t.install("writer.coff", "writer")
	root := t.startRoot()
	child, err := t.table.Exec(t.ctx, root, "writer.coff", 0, nil)
	require.NoError(t.T(), err)

	_, _, err = t.table.Join(t.ctx, root, child.PID())
	require.NoError(t.T(), err)

	content, err := t.store.Load(t.ctx, "out.txt")
	require.NoError(t.T(), err)
	assert.Equal(t.T(), "done", string(content))
	assert.Equal(t.T(), 0, child.Files().InUse())
	close(t.release)
}

func (t *TableTest) TestHaltStopsExec() {
	t.table.Halt()
	t.waitHalted()

	_, err := t.table.Exec(t.ctx, nil, "status.coff", 0, nil)

	assert.ErrorIs(t.T(), err, context.Canceled)
}

func (t *TableTest) TestLastExitHalts() {
	root, err := t.table.Exec(t.ctx, nil, "status.coff", 0, nil)
	require.NoError(t.T(), err)

	t.waitDone(root)
	t.waitHalted()
	assert.Equal(t.T(), 0, t.table.Running())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Running", Running.String())
	assert.Equal(t, "Exited", Exited.String())
	assert.Equal(t, "Joined", Joined.String())
	assert.Equal(t, "State(9)", State(9).String())
}

func (t *TableTest) TestStatusOfRootProcess() {
	root, err := t.table.Exec(t.ctx, nil, "status.coff", 2, []string{"x", "y"})
	require.NoError(t.T(), err)
	t.waitDone(root)

	status, normal, ok := t.table.Status(root)

	assert.True(t.T(), ok)
	assert.True(t.T(), normal)
	assert.Equal(t.T(), 2, status)
}
