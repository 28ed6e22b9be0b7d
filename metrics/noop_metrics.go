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
	"time"
)

type noopMetrics struct{}

func (*noopMetrics) SyscallCount(inc int64, syscall string) {}

func (*noopMetrics) SyscallErrorCount(inc int64, errorCategory string, syscall string) {}

func (*noopMetrics) SyscallLatency(ctx context.Context, latency time.Duration, syscall string) {}

func (*noopMetrics) ProcessCount(inc int64) {}

func (*noopMetrics) OpenFileCount(inc int64) {}

func (*noopMetrics) StoreRequestCount(inc int64, storeMethod string) {}

func (*noopMetrics) StoreRequestLatency(ctx context.Context, latency time.Duration, storeMethod string) {
}

func NewNoopMetrics() MetricHandle {
	var n noopMetrics
	return &n
}
