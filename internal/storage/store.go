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

// Package storage defines the backing medium for file contents and
// executable images, and an in-memory implementation of it.
package storage

import (
	"context"
)

// Store holds named blobs. File objects are written back to a Store when
// their last descriptor is closed, and the loader reads images from one.
//
// Missing names are reported with an error wrapping kerr.ErrNotFound.
type Store interface {
	Name() string

	// Load returns a copy of the content stored under name.
	Load(ctx context.Context, name string) (content []byte, err error)

	// Save replaces the content stored under name, creating it if needed.
	Save(ctx context.Context, name string, content []byte) (err error)

	// Delete removes name.
	Delete(ctx context.Context, name string) (err error)

	// List returns the sorted names that start with prefix.
	List(ctx context.Context, prefix string) (names []string, err error)
}
