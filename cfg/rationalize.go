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
	"strings"
)

func resolveLoggingConfig(c *Config) {
	if c.Debug.LogMutex {
		c.Logging.Severity = TraceLogSeverity
	}
	c.Logging.Format = strings.ToLower(c.Logging.Format)
}

// resolveStoragePrefix makes a non-empty prefix relative and slash terminated
// so that object names are always prefix + file name.
func resolveStoragePrefix(c *StorageConfig) {
	p := strings.TrimLeft(c.Prefix, "/")
	if p != "" && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	c.Prefix = p
}

// Rationalize updates the config fields based on the values of other fields.
func Rationalize(c *Config) error {
	resolveLoggingConfig(c)
	resolveStoragePrefix(&c.Storage)
	return nil
}
