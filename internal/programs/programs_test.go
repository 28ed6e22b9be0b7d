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

package programs

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kcore-project/kcore/cfg"
	"github.com/kcore-project/kcore/internal/kernel"
	"github.com/kcore-project/kcore/internal/kerr"
	"github.com/kcore-project/kcore/internal/loader"
	"github.com/kcore-project/kcore/internal/proc"
	"github.com/kcore-project/kcore/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result struct {
	status int
	normal bool
	stdout string
}

func newStore(t *testing.T, files map[string]string) *storage.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore("mem")
	for entry := range Builtins() {
		data, err := loader.Build(entry, nil)
		require.NoError(t, err)
		require.NoError(t, store.Save(ctx, entry+".coff", data))
	}
	for name, content := range files {
		require.NoError(t, store.Save(ctx, name, []byte(content)))
	}
	return store
}

func boot(t *testing.T, store storage.Store, argv ...string) (r result) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := cfg.DefaultConfig()
	stdout := &bytes.Buffer{}

	k, err := kernel.New(ctx, &kernel.Config{
		Config:   &c,
		Store:    store,
		Programs: Builtins(),
		Console:  proc.Console{In: strings.NewReader(""), Out: stdout},
	})
	require.NoError(t, err)
	root, err := k.Boot(argv[0]+".coff", argv)
	require.NoError(t, err)
	require.NoError(t, k.Wait(ctx))

	var ok bool
	r.status, r.normal, ok = k.Processes().Status(root)
	require.True(t, ok)
	r.stdout = stdout.String()
	return
}

func load(t *testing.T, store storage.Store, name string) string {
	t.Helper()
	content, err := store.Load(context.Background(), name)
	require.NoError(t, err)
	return string(content)
}

func TestFileTest(t *testing.T) {
	store := newStore(t, map[string]string{"fileTest.in": "3"})

	r := boot(t, store, "filetest")

	assert.Equal(t, 0, r.status)
	assert.Equal(t, strings.Join([]string{
		"fileTest.in fd = 2",
		"number of bytes read = 1",
		"n = 3",
		"fileTest.out fd = 3",
		"unlink.out fd = 4",
		"number of bytes written = 21",
		"r = 0",
		"r = -1",
		"unlink unlink.out flag : 0",
		"unlink nonexist.out flag : -1",
		"",
	}, "\n"), r.stdout)
	assert.Equal(t, "012\n012\n012\nI LOVE U\n", load(t, store, "fileTest.out"))
	_, err := store.Load(context.Background(), "unlink.out")
	assert.ErrorIs(t, err, kerr.ErrNotFound)
}

func TestFileTestWithoutInput(t *testing.T) {
	r := boot(t, newStore(t, nil), "filetest")

	assert.Equal(t, 1, r.status)
	assert.Contains(t, r.stdout, "fileTest.in fd = -1\nnumber of bytes read = -1\n")
}

func TestUnlinkTest(t *testing.T) {
	store := newStore(t, nil)

	r := boot(t, store, "unlinktest")

	assert.Equal(t, 0, r.status)
	assert.Equal(t, strings.Join([]string{
		"open text.txt",
		"unlink pending and create successfully",
		"unlink pending and open successfully",
		"write after unlink successfully",
		"create successfully",
		"",
	}, "\n"), r.stdout)
	assert.Equal(t, "", load(t, store, "text.txt"))
}

func TestJoinTest(t *testing.T) {
	r := boot(t, newStore(t, nil), "jointest")

	assert.True(t, r.normal)
	assert.Equal(t, 0, r.status)
	assert.Equal(t, strings.Join([]string{
		"testing system call join!",
		"child",
		"join 1 2 1 0",
		"join 2 3 1 7",
		"join 3 3 -1 7",
		"join 4 -1 -1 7",
		"ok",
		"",
	}, "\n"), r.stdout)
}

func TestCatAndCp(t *testing.T) {
	store := newStore(t, map[string]string{"a.txt": "hello\n"})

	r := boot(t, store, "cp", "a.txt", "b.txt")
	require.Equal(t, 0, r.status)
	assert.Equal(t, "hello\n", load(t, store, "b.txt"))

	r = boot(t, store, "cat", "b.txt", "missing.txt")
	assert.Equal(t, 1, r.status)
	assert.Equal(t, "hello\ncat: cannot open missing.txt\n", r.stdout)

	r = boot(t, store, "cp", "a.txt")
	assert.Equal(t, 2, r.status)
}

func TestEchoAndExit(t *testing.T) {
	store := newStore(t, nil)

	r := boot(t, store, "echo", "a", "b")
	assert.Equal(t, "a b\n", r.stdout)

	r = boot(t, store, "exit", "5")
	assert.True(t, r.normal)
	assert.Equal(t, 5, r.status)

	r = boot(t, store, "exit", "five")
	assert.Equal(t, 2, r.status)
}
