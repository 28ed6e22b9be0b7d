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
	"time"

	"github.com/kcore-project/kcore/cfg"
	"github.com/kcore-project/kcore/internal/logger"
	"github.com/kcore-project/kcore/internal/monitor"
	"github.com/kcore-project/kcore/internal/ratelimit"
	"github.com/kcore-project/kcore/internal/storage"
	"github.com/kcore-project/kcore/internal/storage/bucket"
	"github.com/kcore-project/kcore/metrics"
	"github.com/kcore-project/kcore/tracing"
)

const (
	maxRetryDuration = 30 * time.Second
	retryMultiplier  = 2
)

func setUpRateLimiting(in storage.Store, c *cfg.StorageConfig) storage.Store {
	// If no rate limiting has been requested, just return the store.
	if !(c.OpsRateLimitHz > 0) {
		return in
	}

	burst := int(c.OpsBurst)
	if burst < 1 {
		burst = 1
	}

	return ratelimit.NewThrottledStore(ratelimit.NewThrottle(c.OpsRateLimitHz, burst), in)
}

// NewStore builds the storage backend named by c: the backend itself, then
// rate limiting, monitoring and, at TRACE severity, request logging.
func NewStore(
	ctx context.Context,
	c *cfg.Config,
	metricHandle metrics.MetricHandle,
	traceHandle tracing.TraceHandle) (s storage.Store, err error) {
	switch c.Storage.Backend {
	case cfg.GCSStorageBackend:
		client, err := bucket.NewClient(ctx, bucket.ClientConfig{
			Endpoint:         c.Storage.Endpoint,
			MaxRetryDuration: maxRetryDuration,
			RetryMultiplier:  retryMultiplier,
		})
		if err != nil {
			return nil, fmt.Errorf("NewClient: %w", err)
		}
		s = bucket.NewStore(client, c.Storage.Bucket, c.Storage.Prefix)

	case cfg.MemoryStorageBackend, "":
		s = storage.NewMemoryStore("memory")

	default:
		return nil, fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	s = setUpRateLimiting(s, &c.Storage)
	s = monitor.NewMonitoringStore(s, metricHandle, traceHandle)
	if c.Logging.Severity == cfg.TraceLogSeverity {
		s = storage.NewDebugStore(s)
	}

	// Check whether this store works, giving the user a warning early if there
	// is some problem.
	if _, listErr := s.List(ctx, ""); listErr != nil {
		logger.Warnf("Store %q doesn't appear to work: %v", s.Name(), listErr)
	}

	return
}
