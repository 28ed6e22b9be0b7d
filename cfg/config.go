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
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	AppName string `yaml:"app-name"`

	Debug DebugConfig `yaml:"debug"`

	Kernel KernelConfig `yaml:"kernel"`

	Loader LoaderConfig `yaml:"loader"`

	Logging LoggingConfig `yaml:"logging"`

	Metrics MetricsConfig `yaml:"metrics"`

	Storage StorageConfig `yaml:"storage"`

	Tracing TracingConfig `yaml:"tracing"`
}

type DebugConfig struct {
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation"`

	LogMutex bool `yaml:"log-mutex"`
}

type KernelConfig struct {
	ArgPageSize int64 `yaml:"arg-page-size"`

	ContentCacheSizeMb int64 `yaml:"content-cache-size-mb"`

	MaxArgLength int64 `yaml:"max-arg-length"`

	MaxNameLength int64 `yaml:"max-name-length"`

	MaxOpenFiles int64 `yaml:"max-open-files"`

	MaxProcesses int64 `yaml:"max-processes"`
}

type LoaderConfig struct {
	ExecutableSuffix string `yaml:"executable-suffix"`

	MaxImageBytes int64 `yaml:"max-image-bytes"`

	MaxLiteralTableBytes int64 `yaml:"max-literal-table-bytes"`
}

type LogRotateLoggingConfig struct {
	BackupFileCount int64 `yaml:"backup-file-count"`

	Compress bool `yaml:"compress"`

	MaxFileSizeMb int64 `yaml:"max-file-size-mb"`
}

type LoggingConfig struct {
	FilePath ResolvedPath `yaml:"file-path"`

	Format string `yaml:"format"`

	LogRotate LogRotateLoggingConfig `yaml:"log-rotate"`

	Severity LogSeverity `yaml:"severity"`
}

type MetricsConfig struct {
	CloudMetricsExportIntervalSecs int64 `yaml:"cloud-metrics-export-interval-secs"`

	PrometheusPort int64 `yaml:"prometheus-port"`
}

type StorageConfig struct {
	Backend StorageBackend `yaml:"backend"`

	Bucket string `yaml:"bucket"`

	Endpoint string `yaml:"endpoint"`

	OpsBurst int64 `yaml:"ops-burst"`

	OpsRateLimitHz float64 `yaml:"ops-rate-limit-hz"`

	Prefix string `yaml:"prefix"`
}

type TracingConfig struct {
	Exporter TraceExporter `yaml:"exporter"`

	ProjectId string `yaml:"project-id"`

	SamplingRatio float64 `yaml:"sampling-ratio"`
}

func BindFlags(flagSet *pflag.FlagSet) error {
	var err error

	flagSet.StringP("app-name", "", "", "The application name reported in logs and telemetry.")

	err = viper.BindPFlag("app-name", flagSet.Lookup("app-name"))
	if err != nil {
		return err
	}

	flagSet.IntP("arg-page-size", "", 1024, "Size in bytes of the page holding a new process's argument vector.")

	err = viper.BindPFlag("kernel.arg-page-size", flagSet.Lookup("arg-page-size"))
	if err != nil {
		return err
	}

	flagSet.IntP("content-cache-size-mb", "", 16, "Size in MiB of the in-memory cache of closed file contents. 0 disables the cache.")

	err = viper.BindPFlag("kernel.content-cache-size-mb", flagSet.Lookup("content-cache-size-mb"))
	if err != nil {
		return err
	}

	flagSet.IntP("cloud-metrics-export-interval-secs", "", 0, "Specifies the interval at which the metrics are uploaded to cloud monitoring. 0 disables the upload.")

	err = viper.BindPFlag("metrics.cloud-metrics-export-interval-secs", flagSet.Lookup("cloud-metrics-export-interval-secs"))
	if err != nil {
		return err
	}

	flagSet.BoolP("debug_invariants", "", false, "Exit when internal invariants are violated.")

	err = viper.BindPFlag("debug.exit-on-invariant-violation", flagSet.Lookup("debug_invariants"))
	if err != nil {
		return err
	}

	flagSet.BoolP("debug_mutex", "", false, "Print debug messages when a mutex is held too long.")

	err = viper.BindPFlag("debug.log-mutex", flagSet.Lookup("debug_mutex"))
	if err != nil {
		return err
	}

	flagSet.StringP("executable-suffix", "", ".coff", "Suffix every executable image name must carry.")

	err = viper.BindPFlag("loader.executable-suffix", flagSet.Lookup("executable-suffix"))
	if err != nil {
		return err
	}

	flagSet.StringP("log-file", "", "", "The file for storing logs. When not provided, logs are printed to stderr.")

	err = viper.BindPFlag("logging.file-path", flagSet.Lookup("log-file"))
	if err != nil {
		return err
	}

	flagSet.StringP("log-format", "", "json", "The format of the log file: 'text' or 'json'.")

	err = viper.BindPFlag("logging.format", flagSet.Lookup("log-format"))
	if err != nil {
		return err
	}

	flagSet.IntP("log-rotate-backup-file-count", "", 10, "The maximum number of backup log files to retain after they have been rotated. The default value is 10. When value is set to 0, all backup files are retained.")

	err = viper.BindPFlag("logging.log-rotate.backup-file-count", flagSet.Lookup("log-rotate-backup-file-count"))
	if err != nil {
		return err
	}

	flagSet.BoolP("log-rotate-compress", "", true, "Controls whether the rotated log files should be compressed using gzip.")

	err = viper.BindPFlag("logging.log-rotate.compress", flagSet.Lookup("log-rotate-compress"))
	if err != nil {
		return err
	}

	flagSet.IntP("log-rotate-max-file-size-mb", "", 512, "The maximum size in megabytes that a log file can reach before it is rotated.")

	err = viper.BindPFlag("logging.log-rotate.max-file-size-mb", flagSet.Lookup("log-rotate-max-file-size-mb"))
	if err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", "info", "Specifies the logging severity expressed as one of [trace, debug, info, warning, error, off]")

	err = viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity"))
	if err != nil {
		return err
	}

	flagSet.IntP("max-arg-length", "", 256, "Maximum length in bytes of a single exec argument.")

	err = viper.BindPFlag("kernel.max-arg-length", flagSet.Lookup("max-arg-length"))
	if err != nil {
		return err
	}

	flagSet.IntP("max-image-bytes", "", 1<<20, "Maximum size in bytes of an executable image.")

	err = viper.BindPFlag("loader.max-image-bytes", flagSet.Lookup("max-image-bytes"))
	if err != nil {
		return err
	}

	flagSet.IntP("max-literal-table-bytes", "", 4096, "Maximum size in bytes of the literal table of an executable image.")

	err = viper.BindPFlag("loader.max-literal-table-bytes", flagSet.Lookup("max-literal-table-bytes"))
	if err != nil {
		return err
	}

	flagSet.IntP("max-name-length", "", 256, "Maximum length in bytes of a file or image name.")

	err = viper.BindPFlag("kernel.max-name-length", flagSet.Lookup("max-name-length"))
	if err != nil {
		return err
	}

	flagSet.IntP("max-open-files", "", 16, "Number of descriptor slots in each process, including the two console slots.")

	err = viper.BindPFlag("kernel.max-open-files", flagSet.Lookup("max-open-files"))
	if err != nil {
		return err
	}

	flagSet.IntP("max-processes", "", 64, "Maximum number of live processes in the process table.")

	err = viper.BindPFlag("kernel.max-processes", flagSet.Lookup("max-processes"))
	if err != nil {
		return err
	}

	flagSet.IntP("prometheus-port", "", 0, "Expose Prometheus metrics endpoint on this port and a path of /metrics. 0 disables the endpoint.")

	err = viper.BindPFlag("metrics.prometheus-port", flagSet.Lookup("prometheus-port"))
	if err != nil {
		return err
	}

	flagSet.StringP("storage-backend", "", "memory", "Where file contents and images live: 'memory' or 'gcs'.")

	err = viper.BindPFlag("storage.backend", flagSet.Lookup("storage-backend"))
	if err != nil {
		return err
	}

	flagSet.StringP("storage-bucket", "", "", "GCS bucket backing the file namespace. Required when storage-backend is 'gcs'.")

	err = viper.BindPFlag("storage.bucket", flagSet.Lookup("storage-bucket"))
	if err != nil {
		return err
	}

	flagSet.StringP("storage-endpoint", "", "", "Alternate GCS endpoint, e.g. a local emulator.")

	err = viper.BindPFlag("storage.endpoint", flagSet.Lookup("storage-endpoint"))
	if err != nil {
		return err
	}

	flagSet.IntP("storage-ops-burst", "", 1, "Burst size of the storage operation rate limiter.")

	err = viper.BindPFlag("storage.ops-burst", flagSet.Lookup("storage-ops-burst"))
	if err != nil {
		return err
	}

	flagSet.Float64P("storage-ops-rate-limit-hz", "", 0, "Operations per second allowed against the storage backend. 0 means unlimited.")

	err = viper.BindPFlag("storage.ops-rate-limit-hz", flagSet.Lookup("storage-ops-rate-limit-hz"))
	if err != nil {
		return err
	}

	flagSet.StringP("storage-prefix", "", "", "Object name prefix under which files are stored.")

	err = viper.BindPFlag("storage.prefix", flagSet.Lookup("storage-prefix"))
	if err != nil {
		return err
	}

	flagSet.StringP("trace-exporter", "", "", "Trace exporter to use: '' (disabled), 'stdout' or 'gcptrace'.")

	err = viper.BindPFlag("tracing.exporter", flagSet.Lookup("trace-exporter"))
	if err != nil {
		return err
	}

	flagSet.StringP("trace-project-id", "", "", "Project to export traces to when the exporter is 'gcptrace'. Defaults to the project of the credentials.")

	err = viper.BindPFlag("tracing.project-id", flagSet.Lookup("trace-project-id"))
	if err != nil {
		return err
	}

	flagSet.Float64P("trace-sampling-ratio", "", 1, "Fraction of syscall traces sampled by the 'gcptrace' exporter.")

	err = viper.BindPFlag("tracing.sampling-ratio", flagSet.Lookup("trace-sampling-ratio"))
	if err != nil {
		return err
	}

	return nil
}
