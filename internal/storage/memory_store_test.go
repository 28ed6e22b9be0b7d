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
	"testing"

	"github.com/kcore-project/kcore/internal/kerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type MemoryStoreTest struct {
	suite.Suite
	ctx   context.Context
	store Store
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreTest))
}

func (t *MemoryStoreTest) SetupTest() {
	t.ctx = context.Background()
	t.store = NewDebugStore(NewMemoryStore("mem"))
}

func (t *MemoryStoreTest) TestName() {
	assert.Equal(t.T(), "mem", t.store.Name())
}

func (t *MemoryStoreTest) TestLoadMissing() {
	_, err := t.store.Load(t.ctx, "nope")

	assert.ErrorIs(t.T(), err, kerr.ErrNotFound)
}

func (t *MemoryStoreTest) TestSaveThenLoad() {
	require.NoError(t.T(), t.store.Save(t.ctx, "a.txt", []byte("taco")))

	content, err := t.store.Load(t.ctx, "a.txt")

	require.NoError(t.T(), err)
	assert.Equal(t.T(), []byte("taco"), content)
}

func (t *MemoryStoreTest) TestLoadReturnsCopy() {
	src := []byte("taco")
	require.NoError(t.T(), t.store.Save(t.ctx, "a.txt", src))
	src[0] = 'X'

	content, err := t.store.Load(t.ctx, "a.txt")
	require.NoError(t.T(), err)
	content[1] = 'Y'
	again, err := t.store.Load(t.ctx, "a.txt")

	require.NoError(t.T(), err)
	assert.Equal(t.T(), "taco", string(again))
}

func (t *MemoryStoreTest) TestSaveEmptyName() {
	err := t.store.Save(t.ctx, "", nil)

	assert.ErrorIs(t.T(), err, kerr.ErrInvalidArgument)
}

func (t *MemoryStoreTest) TestDelete() {
	require.NoError(t.T(), t.store.Save(t.ctx, "a.txt", nil))

	require.NoError(t.T(), t.store.Delete(t.ctx, "a.txt"))

	_, err := t.store.Load(t.ctx, "a.txt")
	assert.ErrorIs(t.T(), err, kerr.ErrNotFound)
	assert.ErrorIs(t.T(), t.store.Delete(t.ctx, "a.txt"), kerr.ErrNotFound)
}

func (t *MemoryStoreTest) TestListSortedByPrefix() {
	for _, n := range []string{"b.out", "a.out", "prog.coff", "a.in"} {
		require.NoError(t.T(), t.store.Save(t.ctx, n, nil))
	}

	names, err := t.store.List(t.ctx, "a.")

	require.NoError(t.T(), err)
	assert.Equal(t.T(), []string{"a.in", "a.out"}, names)
}
