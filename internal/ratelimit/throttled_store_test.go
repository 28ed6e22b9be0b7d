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

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/kcore-project/kcore/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThrottleCapacity(t *testing.T) {
	th := NewThrottle(10, 7)

	assert.EqualValues(t, 7, th.Capacity())
}

func TestThrottleWaitHonorsContext(t *testing.T) {
	// One token per hour: the first wait drains the bucket.
	th := NewThrottle(1.0/3600, 1)
	require.NoError(t, th.Wait(context.Background(), 1))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := th.Wait(ctx, 1)

	assert.Error(t, err)
}

func TestThrottledStoreCallsThrough(t *testing.T) {
	ctx := context.Background()
	s := NewThrottledStore(NewThrottle(1000, 10), storage.NewMemoryStore("mem"))

	require.NoError(t, s.Save(ctx, "a", []byte("x")))
	content, err := s.Load(ctx, "a")
	require.NoError(t, err)
	names, err := s.List(ctx, "")
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "a"))

	assert.Equal(t, "mem", s.Name())
	assert.Equal(t, []byte("x"), content)
	assert.Equal(t, []string{"a"}, names)
}

func TestThrottledStoreStopsWhenThrottleFails(t *testing.T) {
	th := NewThrottle(1.0/3600, 1)
	require.NoError(t, th.Wait(context.Background(), 1))
	s := NewThrottledStore(th, storage.NewMemoryStore("mem"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Save(ctx, "a", nil)

	assert.Error(t, err)
}
