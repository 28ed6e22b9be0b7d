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

// Package kernel boots the file table and the process table over a storage
// backend and exposes them to programs as numbered system calls.
package kernel

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jacobsa/timeutil"
	"github.com/kcore-project/kcore/cfg"
	"github.com/kcore-project/kcore/internal/contentcache"
	"github.com/kcore-project/kcore/internal/fs"
	"github.com/kcore-project/kcore/internal/loader"
	"github.com/kcore-project/kcore/internal/logger"
	"github.com/kcore-project/kcore/internal/proc"
	"github.com/kcore-project/kcore/internal/storage"
	"github.com/kcore-project/kcore/metrics"
	"github.com/kcore-project/kcore/tracing"
)

type Config struct {
	// Minted by New when zero.
	BootID uuid.UUID

	// Limits and loader settings. Storage, logging and telemetry sections
	// are read by the caller when building Store and the handles below.
	Config *cfg.Config

	// Holds both file contents and executable images.
	Store storage.Store

	// Code for the entry points named by images.
	Programs Registry

	Console proc.Console
	Clock   timeutil.Clock

	MetricHandle metrics.MetricHandle
	TraceHandle  tracing.TraceHandle
}

// Kernel owns all kernel state. Nothing is kept in package-level variables,
// so several kernels can run side by side in one binary.
type Kernel struct {
	bootID uuid.UUID

	store    storage.Store
	files    *fs.FileTable
	procs    *proc.Table
	programs Registry
	clock    timeutil.Clock

	metricHandle metrics.MetricHandle
	traceHandle  tracing.TraceHandle

	// Cancelled when the kernel halts. Blocked joins return and new system
	// calls fail from then on.
	ctx    context.Context
	cancel context.CancelFunc
}

// New boots a kernel. It starts no process; see Boot.
func New(ctx context.Context, c *Config) (k *Kernel, err error) {
	if c.Config == nil || c.Store == nil {
		err = errors.New("kernel config and store are required")
		return
	}

	kc := c.Config.Kernel
	k = &Kernel{
		bootID:       c.BootID,
		store:        c.Store,
		programs:     c.Programs,
		clock:        c.Clock,
		metricHandle: c.MetricHandle,
		traceHandle:  c.TraceHandle,
	}
	if k.bootID == uuid.Nil {
		k.bootID = uuid.New()
	}
	if k.clock == nil {
		k.clock = timeutil.RealClock()
	}
	if k.metricHandle == nil {
		k.metricHandle = metrics.NewNoopMetrics()
	}
	if k.traceHandle == nil {
		k.traceHandle = tracing.NewNoopTracer()
	}

	var cache *contentcache.Cache
	if kc.ContentCacheSizeMb > 0 {
		cache = contentcache.New(uint64(kc.ContentCacheSizeMb) << 20)
	}

	k.files, err = fs.NewFileTable(&fs.ServerConfig{
		Store:         c.Store,
		Clock:         k.clock,
		MaxNameLength: int(kc.MaxNameLength),
		ContentCache:  cache,
		MetricHandle:  k.metricHandle,
	})
	if err != nil {
		err = fmt.Errorf("NewFileTable: %w", err)
		return
	}

	k.procs, err = proc.NewTable(&proc.Config{
		Loader:       loader.NewStoreLoader(c.Store, loader.ConfigFrom(c.Config)),
		Resolve:      k.resolve,
		Files:        k.files,
		Clock:        k.clock,
		Console:      c.Console,
		MetricHandle: k.metricHandle,
		MaxProcesses: int(kc.MaxProcesses),
		MaxOpenFiles: int(kc.MaxOpenFiles),
	})
	if err != nil {
		err = fmt.Errorf("NewTable: %w", err)
		return
	}

	k.ctx, k.cancel = context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		<-k.procs.Halted()
		k.cancel()
	}()

	logger.Infof("Kernel %s booted on store %q", k.bootID, c.Store.Name())
	return
}

func (k *Kernel) resolve(img *loader.Image) (proc.Main, error) {
	program, ok := k.programs[img.Entry]
	if !ok {
		return nil, fmt.Errorf("no program for entry point %q", img.Entry)
	}

	return func(p *proc.Process) int {
		return program(&Syscalls{k: k, p: p})
	}, nil
}

// BootID identifies this kernel instance in logs and telemetry.
func (k *Kernel) BootID() uuid.UUID {
	return k.bootID
}

func (k *Kernel) Files() *fs.FileTable {
	return k.files
}

func (k *Kernel) Processes() *proc.Table {
	return k.procs
}

// Boot starts the root process.
func (k *Kernel) Boot(path string, argv []string) (root *proc.Process, err error) {
	root, err = k.procs.Exec(k.ctx, nil, path, len(argv), argv)
	if err != nil {
		err = fmt.Errorf("boot %q: %w", path, err)
	}
	return
}

// Wait blocks until the kernel halts, then writes every file still open
// back to the store.
func (k *Kernel) Wait(ctx context.Context) error {
	select {
	case <-k.procs.Halted():
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := k.files.SyncAll(ctx); err != nil {
		return fmt.Errorf("SyncAll: %w", err)
	}

	linked, unlinked := k.files.Stats()
	logger.Infof("Kernel %s halted with %d open files (%d unlinked)", k.bootID, linked+unlinked, unlinked)
	return nil
}

// Halt stops the kernel from outside any process.
func (k *Kernel) Halt() {
	k.procs.Halt()
}
