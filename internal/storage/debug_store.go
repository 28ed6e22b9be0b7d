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

package storage

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kcore-project/kcore/internal/logger"
)

// NewDebugStore wraps the supplied store in a layer that prints a trace line
// before and after every call.
func NewDebugStore(
	wrapped Store) (s Store) {
	s = &debugStore{
		wrapped: wrapped,
	}

	return
}

type debugStore struct {
	wrapped Store

	nextRequestID uint64
}

////////////////////////////////////////////////////////////////////////
// Helpers
////////////////////////////////////////////////////////////////////////

func (s *debugStore) mintRequestID() (id uint64) {
	id = atomic.AddUint64(&s.nextRequestID, 1) - 1
	return
}

func (s *debugStore) requestLogf(
	id uint64,
	format string,
	v ...interface{}) {
	logger.Tracef("store %s: Req %#16x: %s", s.wrapped.Name(), id, fmt.Sprintf(format, v...))
}

func (s *debugStore) startRequest(
	format string,
	v ...interface{}) (id uint64, desc string, start time.Time) {
	start = time.Now()
	id = s.mintRequestID()
	desc = fmt.Sprintf(format, v...)

	s.requestLogf(id, "<- %s", desc)
	return
}

func (s *debugStore) finishRequest(
	id uint64,
	desc string,
	start time.Time,
	err *error) {
	duration := time.Since(start)

	errDesc := "OK"
	if *err != nil {
		errDesc = (*err).Error()
	}

	s.requestLogf(id, "-> %s (%v): %s", desc, duration, errDesc)
}

////////////////////////////////////////////////////////////////////////
// Store interface
////////////////////////////////////////////////////////////////////////

func (s *debugStore) Name() string {
	return s.wrapped.Name()
}

func (s *debugStore) Load(ctx context.Context, name string) (content []byte, err error) {
	id, desc, start := s.startRequest("Load(%q)", name)
	defer s.finishRequest(id, desc, start, &err)

	content, err = s.wrapped.Load(ctx, name)
	return
}

func (s *debugStore) Save(ctx context.Context, name string, content []byte) (err error) {
	id, desc, start := s.startRequest("Save(%q, %d bytes)", name, len(content))
	defer s.finishRequest(id, desc, start, &err)

	err = s.wrapped.Save(ctx, name, content)
	return
}

func (s *debugStore) Delete(ctx context.Context, name string) (err error) {
	id, desc, start := s.startRequest("Delete(%q)", name)
	defer s.finishRequest(id, desc, start, &err)

	err = s.wrapped.Delete(ctx, name)
	return
}

func (s *debugStore) List(ctx context.Context, prefix string) (names []string, err error) {
	id, desc, start := s.startRequest("List(%q)", prefix)
	defer s.finishRequest(id, desc, start, &err)

	names, err = s.wrapped.List(ctx, prefix)
	return
}
