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

// DefaultConfig returns the configuration a kernel runs with when no flag or
// config file overrides a value. It matches the flag defaults in BindFlags.
func DefaultConfig() Config {
	return Config{
		Kernel: KernelConfig{
			ArgPageSize:        1024,
			ContentCacheSizeMb: 16,
			MaxArgLength:       256,
			MaxNameLength:      256,
			MaxOpenFiles:       16,
			MaxProcesses:       64,
		},
		Loader: LoaderConfig{
			ExecutableSuffix:     ".coff",
			MaxImageBytes:        1 << 20,
			MaxLiteralTableBytes: 4096,
		},
		Logging: LoggingConfig{
			Format:    "json",
			LogRotate: DefaultLogRotateConfig(),
			Severity:  InfoLogSeverity,
		},
		Storage: StorageConfig{
			Backend:  MemoryStorageBackend,
			OpsBurst: 1,
		},
		Tracing: TracingConfig{
			SamplingRatio: 1,
		},
	}
}

func DefaultLogRotateConfig() LogRotateLoggingConfig {
	return LogRotateLoggingConfig{
		BackupFileCount: 10,
		Compress:        true,
		MaxFileSizeMb:   512,
	}
}

// IsTracingEnabled returns true if spans should be exported.
func IsTracingEnabled(c *Config) bool {
	return c.Tracing.Exporter != NoTraceExporter
}

// IsMetricsEnabled returns true if any metric exporter is configured.
func IsMetricsEnabled(c *MetricsConfig) bool {
	return c.PrometheusPort > 0 || c.CloudMetricsExportIntervalSecs > 0
}
