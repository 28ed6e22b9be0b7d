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

// Package handle holds the objects a descriptor slot can refer to.
package handle

import (
	"context"
)

// Handle is what a descriptor slot refers to. Calls on one handle are
// serialized.
type Handle interface {
	// Read copies up to len(dst) bytes at the handle's offset and advances it.
	// Zero bytes with a nil error means end of file.
	Read(ctx context.Context, dst []byte) (n int, err error)

	// Write writes all of src at the handle's offset and advances it.
	Write(ctx context.Context, src []byte) (n int, err error)
}
