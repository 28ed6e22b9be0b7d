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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRationalize_LogMutexForcesTrace(t *testing.T) {
	c := DefaultConfig()
	c.Debug.LogMutex = true

	require.NoError(t, Rationalize(&c))

	assert.Equal(t, TraceLogSeverity, c.Logging.Severity)
}

func TestRationalize_LowersFormat(t *testing.T) {
	c := DefaultConfig()
	c.Logging.Format = "TEXT"

	require.NoError(t, Rationalize(&c))

	assert.Equal(t, "text", c.Logging.Format)
}

func TestRationalize_StoragePrefix(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"files", "files/"},
		{"/a/b", "a/b/"},
		{"a/b/", "a/b/"},
	}

	for _, tc := range tests {
		c := DefaultConfig()
		c.Storage.Prefix = tc.in

		require.NoError(t, Rationalize(&c))

		assert.Equal(t, tc.want, c.Storage.Prefix, "input %q", tc.in)
	}
}
