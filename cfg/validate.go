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
	"net/url"
	"strings"
)

const (
	MaxOpenFilesTooLowError   = "max-open-files must leave at least one slot beyond the console descriptors"
	MaxProcessesInvalidError  = "max-processes must be at least 1"
	NameLengthInvalidError    = "max-name-length and max-arg-length must be positive"
	ArgPageSizeInvalidError   = "arg-page-size must be in (0, 65536]"
	ExecutableSuffixError     = "executable-suffix can't be empty"
	GCSBucketMissingError     = "bucket must be set when the storage backend is gcs"
	OpsRateLimitInvalidError  = "ops-rate-limit-hz can't be negative"
	OpsBurstInvalidError      = "ops-burst must be at least 1"
	LogFormatInvalidError     = "log format must be one of [text, json]"
	LiteralTableTooLargeError = "max-literal-table-bytes can't exceed max-image-bytes"
	SamplingRatioInvalidError = "sampling-ratio must be in [0, 1]"
	ExportIntervalError       = "cloud-metrics-export-interval-secs can't be negative"
	ContentCacheSizeError     = "content-cache-size-mb can't be negative"
)

func decodeURL(u string) (string, error) {
	decodedURL, err := url.Parse(u)
	if err != nil {
		return "", err
	}
	return decodedURL.String(), nil
}

func isValidLogRotateConfig(config *LogRotateLoggingConfig) error {
	if config.MaxFileSizeMb <= 0 {
		return fmt.Errorf("max-file-size-mb should be atleast 1")
	}
	if config.BackupFileCount < 0 {
		return fmt.Errorf("backup-file-count should be 0 (to retain all backup files) or a positive value")
	}
	return nil
}

func isValidLoggingConfig(config *LoggingConfig) error {
	switch strings.ToLower(config.Format) {
	case "text", "json", "":
	default:
		return fmt.Errorf(LogFormatInvalidError)
	}
	return isValidLogRotateConfig(&config.LogRotate)
}

func isValidKernelConfig(c *KernelConfig) error {
	if c.MaxOpenFiles <= DescriptorsReserved {
		return fmt.Errorf(MaxOpenFilesTooLowError)
	}
	if c.MaxProcesses < 1 {
		return fmt.Errorf(MaxProcessesInvalidError)
	}
	if c.MaxNameLength <= 0 || c.MaxArgLength <= 0 {
		return fmt.Errorf(NameLengthInvalidError)
	}
	if c.ArgPageSize <= 0 || c.ArgPageSize > MaxArgPageSize {
		return fmt.Errorf(ArgPageSizeInvalidError)
	}
	if c.ContentCacheSizeMb < 0 {
		return fmt.Errorf(ContentCacheSizeError)
	}
	return nil
}

func isValidLoaderConfig(c *LoaderConfig) error {
	if c.ExecutableSuffix == "" {
		return fmt.Errorf(ExecutableSuffixError)
	}
	if c.MaxLiteralTableBytes > c.MaxImageBytes {
		return fmt.Errorf(LiteralTableTooLargeError)
	}
	return nil
}

func isValidStorageConfig(c *StorageConfig) error {
	if c.Backend == GCSStorageBackend && c.Bucket == "" {
		return fmt.Errorf(GCSBucketMissingError)
	}
	if c.OpsRateLimitHz < 0 {
		return fmt.Errorf(OpsRateLimitInvalidError)
	}
	if c.OpsRateLimitHz > 0 && c.OpsBurst < 1 {
		return fmt.Errorf(OpsBurstInvalidError)
	}
	if _, err := decodeURL(c.Endpoint); err != nil {
		return err
	}
	return nil
}

func isValidTracingConfig(c *TracingConfig) error {
	if c.SamplingRatio < 0 || c.SamplingRatio > 1 {
		return fmt.Errorf(SamplingRatioInvalidError)
	}
	return nil
}

func isValidMetricsConfig(c *MetricsConfig) error {
	if c.CloudMetricsExportIntervalSecs < 0 {
		return fmt.Errorf(ExportIntervalError)
	}
	return nil
}

// ValidateConfig returns a non-nil error if the config is invalid.
func ValidateConfig(config *Config) error {
	var err error

	if err = isValidLoggingConfig(&config.Logging); err != nil {
		return fmt.Errorf("error parsing logging config: %w", err)
	}

	if err = isValidKernelConfig(&config.Kernel); err != nil {
		return fmt.Errorf("error parsing kernel config: %w", err)
	}

	if err = isValidLoaderConfig(&config.Loader); err != nil {
		return fmt.Errorf("error parsing loader config: %w", err)
	}

	if err = isValidStorageConfig(&config.Storage); err != nil {
		return fmt.Errorf("error parsing storage config: %w", err)
	}

	if err = isValidMetricsConfig(&config.Metrics); err != nil {
		return fmt.Errorf("error parsing metrics config: %w", err)
	}

	if err = isValidTracingConfig(&config.Tracing); err != nil {
		return fmt.Errorf("error parsing tracing config: %w", err)
	}

	return nil
}
