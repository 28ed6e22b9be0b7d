// Copyright 2025 Google LLC
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
package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
)

func setupOTel(ctx context.Context, t *testing.T) (*otelMetrics, *metric.ManualReader) {
	t.Helper()
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	otel.SetMeterProvider(provider)

	m, err := NewOTelMetrics(ctx, 2, 100)
	require.NoError(t, err)
	return m, reader
}

func TestSyscallCount(t *testing.T) {
	ctx := context.Background()
	m, rd := setupOTel(ctx, t)

	m.SyscallCount(2, SyscallOpen)
	m.SyscallCount(3, SyscallOpen)
	m.SyscallCount(1, "mmap")
	m.SyscallCount(-1, SyscallRead)

	VerifyCounterMetric(t, ctx, rd, "kernel/syscall_count", attribute.NewSet(attribute.String("syscall", SyscallOpen)), 5)
	VerifyCounterMetric(t, ctx, rd, "kernel/syscall_count", attribute.NewSet(attribute.String("syscall", SyscallOthers)), 1)
}

func TestSyscallErrorCount(t *testing.T) {
	ctx := context.Background()
	m, rd := setupOTel(ctx, t)

	m.SyscallErrorCount(1, ErrorCategoryNOFILEORDIR, SyscallUnlink)
	m.SyscallErrorCount(1, ErrorCategoryNOFILEORDIR, SyscallUnlink)
	m.SyscallErrorCount(1, "SOMETHING_NEW", SyscallJoin)

	VerifyCounterMetric(t, ctx, rd, "kernel/syscall_error_count", attribute.NewSet(
		attribute.String("error_category", ErrorCategoryNOFILEORDIR),
		attribute.String("syscall", SyscallUnlink)), 2)
	VerifyCounterMetric(t, ctx, rd, "kernel/syscall_error_count", attribute.NewSet(
		attribute.String("error_category", ErrorCategoryIOERROR),
		attribute.String("syscall", SyscallJoin)), 1)
}

func TestUpDownCounters(t *testing.T) {
	ctx := context.Background()
	m, rd := setupOTel(ctx, t)

	m.ProcessCount(3)
	m.ProcessCount(-1)
	m.OpenFileCount(4)
	m.OpenFileCount(-4)

	VerifyUpDownCounterMetric(t, ctx, rd, "kernel/process_count", 2)
	VerifyUpDownCounterMetric(t, ctx, rd, "kernel/open_file_count", 0)
}

func TestLatencies(t *testing.T) {
	ctx := context.Background()
	m, rd := setupOTel(ctx, t)

	m.SyscallLatency(ctx, 3*time.Microsecond, SyscallWrite)
	m.SyscallLatency(ctx, 40*time.Microsecond, SyscallWrite)
	m.StoreRequestLatency(ctx, time.Millisecond, StoreMethodSave)
	m.StoreRequestCount(1, StoreMethodSave)
	// Close drains the histogram workers.
	m.Close()

	VerifyHistogramMetric(t, ctx, rd, "kernel/syscall_latency", attribute.NewSet(attribute.String("syscall", SyscallWrite)), 2)
	VerifyHistogramMetric(t, ctx, rd, "store/request_latency", attribute.NewSet(attribute.String("store_method", StoreMethodSave)), 1)
	VerifyCounterMetric(t, ctx, rd, "store/request_count", attribute.NewSet(attribute.String("store_method", StoreMethodSave)), 1)
}

func TestNoopMetricsAcceptsEverything(t *testing.T) {
	m := NewNoopMetrics()

	m.SyscallCount(1, SyscallOpen)
	m.SyscallErrorCount(1, ErrorCategoryIOERROR, SyscallOpen)
	m.SyscallLatency(context.Background(), time.Second, SyscallOpen)
	m.ProcessCount(1)
	m.OpenFileCount(1)
	m.StoreRequestCount(1, StoreMethodLoad)
	m.StoreRequestLatency(context.Background(), time.Second, StoreMethodLoad)
}
