// Copyright 2015 Google Inc. All Rights Reserved.
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

	"github.com/kcore-project/kcore/internal/storage"
)

// NewThrottledStore creates a store that limits the rate at which it calls
// the wrapped store using opThrottle.
func NewThrottledStore(
	opThrottle Throttle,
	wrapped storage.Store) (s storage.Store) {
	s = &throttledStore{
		opThrottle: opThrottle,
		wrapped:    wrapped,
	}
	return
}

////////////////////////////////////////////////////////////////////////
// throttledStore
////////////////////////////////////////////////////////////////////////

type throttledStore struct {
	opThrottle Throttle
	wrapped    storage.Store
}

func (s *throttledStore) Name() string {
	return s.wrapped.Name()
}

func (s *throttledStore) Load(ctx context.Context, name string) (content []byte, err error) {
	// Wait for permission to call through.
	err = s.opThrottle.Wait(ctx, 1)
	if err != nil {
		return
	}

	// Call through.
	content, err = s.wrapped.Load(ctx, name)
	return
}

func (s *throttledStore) Save(ctx context.Context, name string, content []byte) (err error) {
	// Wait for permission to call through.
	err = s.opThrottle.Wait(ctx, 1)
	if err != nil {
		return
	}

	// Call through.
	err = s.wrapped.Save(ctx, name, content)
	return
}

func (s *throttledStore) Delete(ctx context.Context, name string) (err error) {
	// Wait for permission to call through.
	err = s.opThrottle.Wait(ctx, 1)
	if err != nil {
		return
	}

	// Call through.
	err = s.wrapped.Delete(ctx, name)
	return
}

func (s *throttledStore) List(ctx context.Context, prefix string) (names []string, err error) {
	// Wait for permission to call through.
	err = s.opThrottle.Wait(ctx, 1)
	if err != nil {
		return
	}

	// Call through.
	names, err = s.wrapped.List(ctx, prefix)
	return
}
