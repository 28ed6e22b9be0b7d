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

package cfg

import (
	"fmt"
	"slices"
	"strings"

	"github.com/kcore-project/kcore/internal/util"
)

// LogSeverity represents the logging severity and can accept the following values
// "TRACE", "DEBUG", "INFO", "WARNING", "ERROR", "OFF"
type LogSeverity string

// Constants for all supported log severities.
const (
	TraceLogSeverity   LogSeverity = "TRACE"
	DebugLogSeverity   LogSeverity = "DEBUG"
	InfoLogSeverity    LogSeverity = "INFO"
	WarningLogSeverity LogSeverity = "WARNING"
	ErrorLogSeverity   LogSeverity = "ERROR"
	OffLogSeverity     LogSeverity = "OFF"
)

// severityRanking maps each level to an integer for validation and comparison.
var severityRanking = map[LogSeverity]int{
	TraceLogSeverity:   0,
	DebugLogSeverity:   1,
	InfoLogSeverity:    2,
	WarningLogSeverity: 3,
	ErrorLogSeverity:   4,
	OffLogSeverity:     5,
}

func (l *LogSeverity) UnmarshalText(text []byte) error {
	level := LogSeverity(strings.ToUpper(string(text)))
	if _, ok := severityRanking[level]; !ok {
		return fmt.Errorf("invalid log severity level: %s. Must be one of [TRACE, DEBUG, INFO, WARNING, ERROR, OFF]", text)
	}
	*l = level
	return nil
}

// Rank returns the integer representation of the severity rank.
// Returns -1 if the severity is unknown.
func (l LogSeverity) Rank() int {
	if rank, ok := severityRanking[l]; ok {
		return rank
	}
	return -1
}

// ResolvedPath represents a file-path which is an absolute path and is resolved
// based on the value of KCORE_PARENT_PROCESS_DIR env var.
type ResolvedPath string

func (p *ResolvedPath) UnmarshalText(text []byte) error {
	path, err := util.GetResolvedPath(string(text))
	if err != nil {
		return err
	}
	*p = ResolvedPath(path)
	return nil
}

// StorageBackend selects where file contents and executable images are kept.
type StorageBackend string

const (
	MemoryStorageBackend StorageBackend = "memory"
	GCSStorageBackend    StorageBackend = "gcs"
)

func (b *StorageBackend) UnmarshalText(text []byte) error {
	txtStr := string(text)
	backend := strings.ToLower(txtStr)
	v := []string{string(MemoryStorageBackend), string(GCSStorageBackend)}
	if !slices.Contains(v, backend) {
		return fmt.Errorf("invalid storage backend value: %s. It can only accept values in the list: %v", txtStr, v)
	}
	*b = StorageBackend(backend)
	return nil
}

// TraceExporter names the span exporter; the empty value disables tracing.
type TraceExporter string

const (
	NoTraceExporter       TraceExporter = ""
	StdoutTraceExporter   TraceExporter = "stdout"
	GCPTraceTraceExporter TraceExporter = "gcptrace"
)

func (e *TraceExporter) UnmarshalText(text []byte) error {
	txtStr := string(text)
	exporter := strings.ToLower(txtStr)
	v := []string{string(NoTraceExporter), string(StdoutTraceExporter), string(GCPTraceTraceExporter)}
	if !slices.Contains(v, exporter) {
		return fmt.Errorf("invalid trace exporter value: %s. It can only accept values in the list: %q", txtStr, v)
	}
	*e = TraceExporter(exporter)
	return nil
}
