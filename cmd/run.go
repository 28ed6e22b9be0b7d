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

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/jacobsa/syncutil"
	"github.com/kcore-project/kcore/cfg"
	"github.com/kcore-project/kcore/common"
	"github.com/kcore-project/kcore/internal/fs"
	"github.com/kcore-project/kcore/internal/kernel"
	"github.com/kcore-project/kcore/internal/loader"
	"github.com/kcore-project/kcore/internal/locker"
	"github.com/kcore-project/kcore/internal/logger"
	"github.com/kcore-project/kcore/internal/monitor"
	"github.com/kcore-project/kcore/internal/proc"
	"github.com/kcore-project/kcore/internal/programs"
	"github.com/kcore-project/kcore/internal/storage"
	"github.com/kcore-project/kcore/metrics"
	"github.com/kcore-project/kcore/tracing"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
)

const (
	metricWorkers    = 3
	metricBufferSize = 256

	// Exit code for a root process that terminated without calling exit.
	abnormalExitCode = 128
)

func defaultConsole() proc.Console {
	return proc.Console{In: os.Stdin, Out: os.Stdout}
}

// installBuiltins stores an image for every built-in program that has none
// yet, so that "echo.coff" runs the echo program.
// installBuiltins saves an image for every built-in program whose name is
// not live yet. It must run before boot.
func installBuiltins(ctx context.Context, files *fs.FileTable, store storage.Store, c *cfg.Config) error {
	for entry := range programs.Builtins() {
		name := entry + c.Loader.ExecutableSuffix
		ok, err := files.Exists(ctx, name)
		if err != nil {
			return fmt.Errorf("look up %q: %w", name, err)
		}
		if ok {
			continue
		}

		data, err := loader.Build(entry, nil)
		if err != nil {
			return err
		}
		if err = store.Save(ctx, name, data); err != nil {
			return fmt.Errorf("install %q: %w", name, err)
		}
		logger.Debugf("Installed built-in image %q", name)
	}
	return nil
}

func importFiles(ctx context.Context, store storage.Store, imports map[string]string) error {
	for name, path := range imports {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("import %q: %w", name, err)
		}
		if err = store.Save(ctx, name, content); err != nil {
			return fmt.Errorf("import %q: %w", name, err)
		}
	}
	return nil
}

func setUpLogging(c *cfg.Config) error {
	logger.SetLogFormat(c.Logging.Format)
	if c.Logging.FilePath != "" {
		if err := logger.InitLogFile(c.Logging); err != nil {
			return fmt.Errorf("init log file: %w", err)
		}
	}

	if c.Debug.ExitOnInvariantViolation {
		locker.EnableInvariantsCheck()
		syncutil.EnableInvariantChecking()
	}
	if c.Debug.LogMutex {
		locker.EnableDebugMessages()
	}
	return nil
}

func logConfig(c *cfg.Config) {
	out, err := yaml.Marshal(c)
	if err != nil {
		logger.Warnf("Failed to marshal config: %v", err)
		return
	}
	logger.Debugf("kcore config:\n%s", strings.TrimSpace(string(out)))
}

// runKernel boots a kernel for req and returns the exit code of its root
// process once the kernel halts.
func runKernel(c *cfg.Config, req bootRequest, console proc.Console) (status int, err error) {
	if err = setUpLogging(c); err != nil {
		return
	}
	defer logger.Close()

	bootID := uuid.New()
	logger.Infof("Start kcore/%s for app %q, boot %s", common.GetVersion(), c.AppName, bootID)
	logConfig(c)

	ctx := context.Background()
	metricHandle := metrics.NewNoopMetrics()
	var metricShutdownFn common.ShutdownFn
	if cfg.IsMetricsEnabled(&c.Metrics) {
		metricShutdownFn = monitor.SetupOTelMetricExporters(ctx, c, bootID.String())
		if mh, err := metrics.NewOTelMetrics(ctx, metricWorkers, metricBufferSize); err != nil {
			logger.Errorf("Failed to create metric handle, continuing without metrics: %v", err)
		} else {
			metricHandle = mh
		}
	}

	traceHandle := tracing.NewNoopTracer()
	tracingShutdownFn := monitor.SetupTracing(ctx, c, bootID.String())
	if cfg.IsTracingEnabled(c) {
		traceHandle = tracing.NewOTELTracer()
	}

	shutdownFn := common.JoinShutdownFunc(metricShutdownFn, tracingShutdownFn)
	defer func() {
		if shutdownErr := shutdownFn(ctx); shutdownErr != nil {
			logger.Errorf("Error while shutting down telemetry: %v", shutdownErr)
		}
	}()

	store, err := kernel.NewStore(ctx, c, metricHandle, traceHandle)
	if err != nil {
		err = fmt.Errorf("NewStore: %w", err)
		return
	}
	k, err := kernel.New(ctx, &kernel.Config{
		BootID:       bootID,
		Config:       c,
		Store:        store,
		Programs:     programs.Builtins(),
		Console:      console,
		MetricHandle: metricHandle,
		TraceHandle:  traceHandle,
	})
	if err != nil {
		err = fmt.Errorf("kernel.New: %w", err)
		return
	}
	if err = installBuiltins(ctx, k.Files(), store, c); err != nil {
		k.Halt()
		return
	}
	if err = importFiles(ctx, store, req.Imports); err != nil {
		k.Halt()
		return
	}

	root, err := k.Boot(req.Image, append([]string{req.Image}, req.Args...))
	if err != nil {
		return
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, unix.SIGTERM)
	defer stop()

	var g errgroup.Group
	g.Go(func() error {
		select {
		case <-sigCtx.Done():
			logger.Infof("Received signal, halting kernel %s", bootID)
			k.Halt()
		case <-k.Processes().Halted():
		}
		return nil
	})
	g.Go(func() error {
		return k.Wait(ctx)
	})
	if err = g.Wait(); err != nil {
		return
	}

	code, normal, ok := k.Processes().Status(root)
	switch {
	case !ok:
		logger.Warnf("Kernel halted while %v was still running", root)
		status = abnormalExitCode
	case !normal:
		status = abnormalExitCode
	default:
		status = code
	}
	return
}
