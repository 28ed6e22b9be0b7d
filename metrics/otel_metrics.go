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
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kcore-project/kcore/internal/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	logInterval = 5 * time.Minute
	meterName   = "kcore"
)

var unrecognizedAttr atomic.Value

type histogramRecord struct {
	ctx        context.Context
	instrument metric.Int64Histogram
	value      int64
	attributes metric.RecordOption
}

// counterCell pairs a cumulative value with the attribute set it is reported
// under.
type counterCell struct {
	value *atomic.Int64
	attrs metric.MeasurementOption
}

func newCounterCells(key string, values []string) map[string]counterCell {
	cells := make(map[string]counterCell, len(values))
	for _, v := range values {
		cells[v] = counterCell{
			value: new(atomic.Int64),
			attrs: metric.WithAttributeSet(attribute.NewSet(attribute.String(key, v))),
		}
	}
	return cells
}

type errorKey struct {
	category string
	syscall  string
}

type otelMetrics struct {
	ch chan histogramRecord
	wg *sync.WaitGroup

	// The maps are populated in NewOTelMetrics and only read afterwards.
	syscallCount        map[string]counterCell
	syscallErrorCount   map[errorKey]counterCell
	storeRequestCount   map[string]counterCell
	syscallAttrSets     map[string]metric.MeasurementOption
	storeMethodAttrSets map[string]metric.MeasurementOption

	processCount  *atomic.Int64
	openFileCount *atomic.Int64

	syscallLatency      metric.Int64Histogram
	storeRequestLatency metric.Int64Histogram
}

func (o *otelMetrics) SyscallCount(
	inc int64, syscall string) {
	if inc < 0 {
		logger.Errorf("Counter metric kernel/syscall_count received a negative increment: %d", inc)
		return
	}
	cell, ok := o.syscallCount[syscall]
	if !ok {
		updateUnrecognizedAttribute(syscall)
		cell = o.syscallCount[SyscallOthers]
	}
	cell.value.Add(inc)
}

func (o *otelMetrics) SyscallErrorCount(
	inc int64, errorCategory string, syscall string) {
	if inc < 0 {
		logger.Errorf("Counter metric kernel/syscall_error_count received a negative increment: %d", inc)
		return
	}
	if _, ok := o.syscallCount[syscall]; !ok {
		updateUnrecognizedAttribute(syscall)
		syscall = SyscallOthers
	}
	cell, ok := o.syscallErrorCount[errorKey{errorCategory, syscall}]
	if !ok {
		updateUnrecognizedAttribute(errorCategory)
		cell = o.syscallErrorCount[errorKey{ErrorCategoryIOERROR, syscall}]
	}
	cell.value.Add(inc)
}

func (o *otelMetrics) SyscallLatency(
	ctx context.Context, latency time.Duration, syscall string) {
	attrs, ok := o.syscallAttrSets[syscall]
	if !ok {
		updateUnrecognizedAttribute(syscall)
		attrs = o.syscallAttrSets[SyscallOthers]
	}
	o.record(histogramRecord{ctx: ctx, instrument: o.syscallLatency, value: latency.Microseconds(), attributes: attrs})
}

func (o *otelMetrics) ProcessCount(inc int64) {
	o.processCount.Add(inc)
}

func (o *otelMetrics) OpenFileCount(inc int64) {
	o.openFileCount.Add(inc)
}

func (o *otelMetrics) StoreRequestCount(
	inc int64, storeMethod string) {
	if inc < 0 {
		logger.Errorf("Counter metric store/request_count received a negative increment: %d", inc)
		return
	}
	cell, ok := o.storeRequestCount[storeMethod]
	if !ok {
		updateUnrecognizedAttribute(storeMethod)
		return
	}
	cell.value.Add(inc)
}

func (o *otelMetrics) StoreRequestLatency(
	ctx context.Context, latency time.Duration, storeMethod string) {
	attrs, ok := o.storeMethodAttrSets[storeMethod]
	if !ok {
		updateUnrecognizedAttribute(storeMethod)
		return
	}
	o.record(histogramRecord{ctx: ctx, instrument: o.storeRequestLatency, value: latency.Microseconds(), attributes: attrs})
}

func (o *otelMetrics) record(record histogramRecord) {
	select {
	case o.ch <- record: // Do nothing
	default: // Unblock writes to channel if it's full.
	}
}

// NewOTelMetrics registers the kernel's instruments with the global meter
// provider. Histogram samples are recorded by workers goroutines fed through
// a channel of size bufferSize; samples are dropped when it is full.
func NewOTelMetrics(ctx context.Context, workers int, bufferSize int) (*otelMetrics, error) {
	ch := make(chan histogramRecord, bufferSize)
	var wg sync.WaitGroup
	startSampledLogging(ctx)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for record := range ch {
				if record.attributes != nil {
					record.instrument.Record(record.ctx, record.value, record.attributes)
				} else {
					record.instrument.Record(record.ctx, record.value)
				}
			}
		}()
	}
	meter := otel.Meter(meterName)

	syscallCount := newCounterCells("syscall", syscalls)
	storeRequestCount := newCounterCells("store_method", storeMethods)
	syscallErrorCount := make(map[errorKey]counterCell, len(syscalls)*len(errorCategories))
	for _, c := range errorCategories {
		for _, s := range syscalls {
			syscallErrorCount[errorKey{c, s}] = counterCell{
				value: new(atomic.Int64),
				attrs: metric.WithAttributeSet(attribute.NewSet(
					attribute.String("error_category", c),
					attribute.String("syscall", s))),
			}
		}
	}
	syscallAttrSets := make(map[string]metric.MeasurementOption, len(syscallCount))
	for s, cell := range syscallCount {
		syscallAttrSets[s] = cell.attrs
	}
	storeMethodAttrSets := make(map[string]metric.MeasurementOption, len(storeRequestCount))
	for m, cell := range storeRequestCount {
		storeMethodAttrSets[m] = cell.attrs
	}
	var processCount, openFileCount atomic.Int64

	_, err0 := meter.Int64ObservableCounter("kernel/syscall_count",
		metric.WithDescription("The cumulative number of system calls served by the kernel."),
		metric.WithUnit(""),
		metric.WithInt64Callback(func(_ context.Context, obsrv metric.Int64Observer) error {
			for _, cell := range syscallCount {
				conditionallyObserve(obsrv, cell.value, cell.attrs)
			}
			return nil
		}))

	_, err1 := meter.Int64ObservableCounter("kernel/syscall_error_count",
		metric.WithDescription("The cumulative number of system calls that returned an error."),
		metric.WithUnit(""),
		metric.WithInt64Callback(func(_ context.Context, obsrv metric.Int64Observer) error {
			for _, cell := range syscallErrorCount {
				conditionallyObserve(obsrv, cell.value, cell.attrs)
			}
			return nil
		}))

	syscallLatency, err2 := meter.Int64Histogram("kernel/syscall_latency",
		metric.WithDescription("The cumulative distribution of system call latencies."),
		metric.WithUnit("us"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 4, 5, 6, 8, 10, 13, 16, 20, 25, 30, 40, 50, 65, 80, 100, 130, 160, 200, 250, 300, 400, 500, 650, 800, 1000, 2000, 5000, 10000, 20000, 50000, 100000))

	_, err3 := meter.Int64ObservableUpDownCounter("kernel/process_count",
		metric.WithDescription("The number of processes in the process table."),
		metric.WithUnit(""),
		metric.WithInt64Callback(func(_ context.Context, obsrv metric.Int64Observer) error {
			observeUpDownCounter(obsrv, &processCount)
			return nil
		}))

	_, err4 := meter.Int64ObservableUpDownCounter("kernel/open_file_count",
		metric.WithDescription("The number of open file handles across all processes."),
		metric.WithUnit(""),
		metric.WithInt64Callback(func(_ context.Context, obsrv metric.Int64Observer) error {
			observeUpDownCounter(obsrv, &openFileCount)
			return nil
		}))

	_, err5 := meter.Int64ObservableCounter("store/request_count",
		metric.WithDescription("The cumulative number of requests sent to the storage backend."),
		metric.WithUnit(""),
		metric.WithInt64Callback(func(_ context.Context, obsrv metric.Int64Observer) error {
			for _, cell := range storeRequestCount {
				conditionallyObserve(obsrv, cell.value, cell.attrs)
			}
			return nil
		}))

	storeRequestLatency, err6 := meter.Int64Histogram("store/request_latency",
		metric.WithDescription("The cumulative distribution of storage request latencies."),
		metric.WithUnit("us"),
		metric.WithExplicitBucketBoundaries(50, 100, 200, 400, 800, 1200, 2000, 5000, 10000, 20000, 50000, 100000, 200000, 500000, 1000000, 2000000, 5000000, 10000000))

	errs := []error{err0, err1, err2, err3, err4, err5, err6}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return &otelMetrics{
		ch:                  ch,
		wg:                  &wg,
		syscallCount:        syscallCount,
		syscallErrorCount:   syscallErrorCount,
		storeRequestCount:   storeRequestCount,
		syscallAttrSets:     syscallAttrSets,
		storeMethodAttrSets: storeMethodAttrSets,
		processCount:        &processCount,
		openFileCount:       &openFileCount,
		syscallLatency:      syscallLatency,
		storeRequestLatency: storeRequestLatency,
	}, nil
}

func (o *otelMetrics) Close() {
	close(o.ch)
	o.wg.Wait()
}

func conditionallyObserve(obsrv metric.Int64Observer, counter *atomic.Int64, obsrvOptions ...metric.ObserveOption) {
	if val := counter.Load(); val > 0 {
		obsrv.Observe(val, obsrvOptions...)
	}
}

func observeUpDownCounter(obsrv metric.Int64Observer, counter *atomic.Int64, obsrvOptions ...metric.ObserveOption) {
	obsrv.Observe(counter.Load(), obsrvOptions...)
}

func updateUnrecognizedAttribute(newValue string) {
	unrecognizedAttr.CompareAndSwap("", newValue)
}

// startSampledLogging starts a goroutine that logs unrecognized attributes periodically.
func startSampledLogging(ctx context.Context) {
	unrecognizedAttr.Store("")

	go func() {
		ticker := time.NewTicker(logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logUnrecognizedAttribute()
			}
		}
	}()
}

// logUnrecognizedAttribute retrieves and logs any unrecognized attributes.
func logUnrecognizedAttribute() {
	if currentAttr := unrecognizedAttr.Swap("").(string); currentAttr != "" {
		logger.Tracef("Attribute %s is not declared", currentAttr)
	}
}
