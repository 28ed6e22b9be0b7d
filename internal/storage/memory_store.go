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
	"sort"
	"strings"

	"github.com/kcore-project/kcore/internal/kerr"
	"github.com/kcore-project/kcore/internal/locker"
)

// NewMemoryStore returns an empty Store that lives only as long as the
// process, named name.
func NewMemoryStore(name string) *MemoryStore {
	s := &MemoryStore{
		name:  name,
		blobs: make(map[string][]byte),
	}
	s.mu = locker.NewRW("MemoryStore", s.checkInvariants)
	return s
}

type MemoryStore struct {
	name string

	mu locker.RWLocker

	// GUARDED_BY(mu)
	blobs map[string][]byte
}

var _ Store = &MemoryStore{}

func (s *MemoryStore) checkInvariants() {
	for name := range s.blobs {
		if name == "" {
			panic("empty blob name")
		}
	}
}

func (s *MemoryStore) Name() string {
	return s.name
}

func (s *MemoryStore) Load(ctx context.Context, name string) (content []byte, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.blobs[name]
	if !ok {
		err = fmt.Errorf("load %q: %w", name, kerr.ErrNotFound)
		return
	}

	content = append([]byte(nil), b...)
	return
}

func (s *MemoryStore) Save(ctx context.Context, name string, content []byte) (err error) {
	if name == "" {
		return fmt.Errorf("save: empty name: %w", kerr.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.blobs[name] = append([]byte(nil), content...)
	return
}

func (s *MemoryStore) Delete(ctx context.Context, name string) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[name]; !ok {
		return fmt.Errorf("delete %q: %w", name, kerr.ErrNotFound)
	}

	delete(s.blobs, name)
	return
}

func (s *MemoryStore) List(ctx context.Context, prefix string) (names []string, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for name := range s.blobs {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}

	sort.Strings(names)
	return
}
