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

package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kcore-project/kcore/cfg"
	"github.com/kcore-project/kcore/internal/fs"
	"github.com/kcore-project/kcore/internal/kerr"
	"github.com/kcore-project/kcore/internal/proc"
	"github.com/kcore-project/kcore/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runWithConsole(t *testing.T, req bootRequest, stdin string) (status int, stdout string, err error) {
	t.Helper()
	c := cfg.DefaultConfig()
	out := &bytes.Buffer{}

	status, err = runKernel(&c, req, proc.Console{In: strings.NewReader(stdin), Out: out})
	stdout = out.String()
	return
}

func TestRunKernel_Echo(t *testing.T) {
	status, stdout, err := runWithConsole(t, bootRequest{Image: "echo.coff", Args: []string{"hello", "world"}}, "")

	require.NoError(t, err)
	assert.Equal(t, 0, status)
	assert.Equal(t, "hello world\n", stdout)
}

func TestRunKernel_ExitStatus(t *testing.T) {
	status, _, err := runWithConsole(t, bootRequest{Image: "exit.coff", Args: []string{"3"}}, "")

	require.NoError(t, err)
	assert.Equal(t, 3, status)
}

func TestRunKernel_Imports(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.txt")
	require.NoError(t, os.WriteFile(path, []byte("imported\n"), 0644))

	status, stdout, err := runWithConsole(t, bootRequest{
		Image:   "cat.coff",
		Args:    []string{"in.txt"},
		Imports: map[string]string{"in.txt": path},
	}, "")

	require.NoError(t, err)
	assert.Equal(t, 0, status)
	assert.Equal(t, "imported\n", stdout)
}

func TestRunKernel_MissingImage(t *testing.T) {
	_, _, err := runWithConsole(t, bootRequest{Image: "nothing.coff"}, "")

	assert.ErrorIs(t, err, kerr.ErrLoad)
}

func TestRunKernel_MissingImport(t *testing.T) {
	_, _, err := runWithConsole(t, bootRequest{
		Image:   "echo.coff",
		Imports: map[string]string{"a": filepath.Join(t.TempDir(), "missing")},
	}, "")

	assert.Error(t, err)
}

func TestInstallBuiltinsKeepsExistingImages(t *testing.T) {
	ctx := context.Background()
	c := cfg.DefaultConfig()
	store := storage.NewMemoryStore("mem")
	require.NoError(t, store.Save(ctx, "echo.coff", []byte("custom")))

	files, err := fs.NewFileTable(&fs.ServerConfig{Store: store, MaxNameLength: int(c.Kernel.MaxNameLength)})
	require.NoError(t, err)

	require.NoError(t, installBuiltins(ctx, files, store, &c))

	got, err := store.Load(ctx, "echo.coff")
	require.NoError(t, err)
	assert.Equal(t, "custom", string(got))
	_, err = store.Load(ctx, "cat.coff")
	assert.NoError(t, err)
}
