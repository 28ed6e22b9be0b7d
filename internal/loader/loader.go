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

// Package loader turns executable images held in storage into programs the
// kernel can start.
package loader

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kcore-project/kcore/cfg"
	"github.com/kcore-project/kcore/internal/kerr"
	"github.com/kcore-project/kcore/internal/logger"
	"github.com/kcore-project/kcore/internal/storage"
)

// Image is a decoded executable together with the argument vector it was
// started with.
type Image struct {
	Path     string
	Entry    string
	Literals []string
	Argv     []string
}

// Loader validates an exec request and produces the image to run. It must
// not have side effects on failure.
type Loader interface {
	Load(ctx context.Context, path string, argc int, argv []string) (img *Image, err error)
}

type Config struct {
	ExecutableSuffix     string
	MaxImageBytes        int64
	MaxLiteralTableBytes int64
	MaxNameLength        int64
	MaxArgLength         int64
	ArgPageSize          int64
}

// ConfigFrom extracts the loader limits from the kernel configuration.
func ConfigFrom(c *cfg.Config) Config {
	return Config{
		ExecutableSuffix:     c.Loader.ExecutableSuffix,
		MaxImageBytes:        c.Loader.MaxImageBytes,
		MaxLiteralTableBytes: c.Loader.MaxLiteralTableBytes,
		MaxNameLength:        c.Kernel.MaxNameLength,
		MaxArgLength:         c.Kernel.MaxArgLength,
		ArgPageSize:          c.Kernel.ArgPageSize,
	}
}

// StoreLoader reads images from a storage.Store.
type StoreLoader struct {
	store storage.Store
	cfg   Config
}

var _ Loader = &StoreLoader{}

func NewStoreLoader(store storage.Store, c Config) *StoreLoader {
	return &StoreLoader{store: store, cfg: c}
}

// ArgPageBytes returns the space argv takes on the argument page: a 4 byte
// pointer plus the NUL terminated string for each argument.
func ArgPageBytes(argv []string) (n int64) {
	for _, a := range argv {
		n += 4 + int64(len(a)) + 1
	}
	return
}

func (l *StoreLoader) checkArgs(path string, argc int, argv []string) error {
	if path == "" || int64(len(path)) > l.cfg.MaxNameLength {
		return fmt.Errorf("image name of %d bytes: %w", len(path), kerr.ErrInvalidArgument)
	}

	if !strings.HasSuffix(path, l.cfg.ExecutableSuffix) {
		return fmt.Errorf("%q lacks the %q suffix: %w", path, l.cfg.ExecutableSuffix, kerr.ErrInvalidArgument)
	}

	if argc < 0 || argc > len(argv) {
		return fmt.Errorf("argc %d with %d arguments: %w", argc, len(argv), kerr.ErrInvalidArgument)
	}

	for i, a := range argv[:argc] {
		if int64(len(a)) > l.cfg.MaxArgLength {
			return fmt.Errorf("argument %d is %d bytes: %w", i, len(a), kerr.ErrInvalidArgument)
		}
	}

	if n := ArgPageBytes(argv[:argc]); n > l.cfg.ArgPageSize {
		return fmt.Errorf("arguments need %d bytes, the page holds %d: %w", n, l.cfg.ArgPageSize, kerr.ErrLoad)
	}

	return nil
}

// Load validates the request, then reads and decodes path. Only the first
// argc entries of argv are passed on.
func (l *StoreLoader) Load(ctx context.Context, path string, argc int, argv []string) (img *Image, err error) {
	if err = l.checkArgs(path, argc, argv); err != nil {
		return
	}

	data, err := l.store.Load(ctx, path)
	if err != nil {
		if errors.Is(err, kerr.ErrNotFound) {
			err = fmt.Errorf("%w: %w", kerr.ErrLoad, err)
		}
		err = fmt.Errorf("read image %q: %w", path, err)
		return
	}

	if int64(len(data)) > l.cfg.MaxImageBytes {
		err = fmt.Errorf("image %q is %d bytes, limit %d: %w", path, len(data), l.cfg.MaxImageBytes, kerr.ErrLoad)
		return
	}

	entry, literals, err := Decode(data, l.cfg.MaxLiteralTableBytes)
	if err != nil {
		err = fmt.Errorf("decode image %q: %w", path, err)
		return
	}

	img = &Image{
		Path:     path,
		Entry:    entry,
		Literals: literals,
		Argv:     append([]string(nil), argv[:argc]...),
	}

	logger.Debugf("loader: %q entry %q, %d literals, %d args", path, entry, len(literals), argc)
	return
}
