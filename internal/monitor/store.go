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

package monitor

import (
	"context"
	"time"

	"github.com/kcore-project/kcore/internal/storage"
	"github.com/kcore-project/kcore/metrics"
	"github.com/kcore-project/kcore/tracing"
)

// recordRequest records a store request and its latency.
func recordRequest(ctx context.Context, metricHandle metrics.MetricHandle, method string, start time.Time) {
	metricHandle.StoreRequestCount(1, method)
	metricHandle.StoreRequestLatency(ctx, time.Since(start), method)
}

// NewMonitoringStore returns a storage.Store that records request metrics and
// a span for every call it forwards to wrapped.
func NewMonitoringStore(wrapped storage.Store, metricHandle metrics.MetricHandle, traceHandle tracing.TraceHandle) storage.Store {
	return &monitoringStore{
		wrapped:      wrapped,
		metricHandle: metricHandle,
		traceHandle:  traceHandle,
	}
}

type monitoringStore struct {
	wrapped      storage.Store
	metricHandle metrics.MetricHandle
	traceHandle  tracing.TraceHandle
}

func (ms *monitoringStore) Name() string {
	return ms.wrapped.Name()
}

func (ms *monitoringStore) invoke(ctx context.Context, method string, w func(ctx context.Context) error) error {
	startTime := time.Now()
	ctx, span := ms.traceHandle.StartSpan(ctx, "store."+method)
	defer ms.traceHandle.EndSpan(span)

	err := w(ctx)
	ms.traceHandle.RecordError(span, err)
	recordRequest(ctx, ms.metricHandle, method, startTime)
	return err
}

func (ms *monitoringStore) Load(ctx context.Context, name string) (content []byte, err error) {
	err = ms.invoke(ctx, metrics.StoreMethodLoad, func(ctx context.Context) (err error) {
		content, err = ms.wrapped.Load(ctx, name)
		return
	})
	return
}

func (ms *monitoringStore) Save(ctx context.Context, name string, content []byte) error {
	return ms.invoke(ctx, metrics.StoreMethodSave, func(ctx context.Context) error {
		return ms.wrapped.Save(ctx, name, content)
	})
}

func (ms *monitoringStore) Delete(ctx context.Context, name string) error {
	return ms.invoke(ctx, metrics.StoreMethodDelete, func(ctx context.Context) error {
		return ms.wrapped.Delete(ctx, name)
	})
}

func (ms *monitoringStore) List(ctx context.Context, prefix string) (names []string, err error) {
	err = ms.invoke(ctx, metrics.StoreMethodList, func(ctx context.Context) (err error) {
		names, err = ms.wrapped.List(ctx, prefix)
		return
	})
	return
}
