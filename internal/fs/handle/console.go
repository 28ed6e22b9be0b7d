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

package handle

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/kcore-project/kcore/internal/kerr"
)

// ConsoleHandle binds a descriptor to the console. Either side may be nil,
// in which case that direction fails with kerr.ErrInvalidHandle.
type ConsoleHandle struct {
	name string

	mu sync.Mutex
	r  io.Reader // GUARDED_BY(mu)
	w  io.Writer // GUARDED_BY(mu)
}

var _ Handle = &ConsoleHandle{}

func NewConsoleInput(r io.Reader) *ConsoleHandle {
	return &ConsoleHandle{name: "console input", r: r}
}

func NewConsoleOutput(w io.Writer) *ConsoleHandle {
	return &ConsoleHandle{name: "console output", w: w}
}

func (ch *ConsoleHandle) String() string {
	return ch.name
}

// Read returns whatever the console has ready, up to len(dst). End of input
// reads as zero bytes.
func (ch *ConsoleHandle) Read(ctx context.Context, dst []byte) (n int, err error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.r == nil {
		err = fmt.Errorf("read from %s: %w", ch.name, kerr.ErrInvalidHandle)
		return
	}

	if len(dst) == 0 {
		return
	}

	n, err = ch.r.Read(dst)
	if err == io.EOF {
		err = nil
	}
	return
}

func (ch *ConsoleHandle) Write(ctx context.Context, src []byte) (n int, err error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.w == nil {
		err = fmt.Errorf("write to %s: %w", ch.name, kerr.ErrInvalidHandle)
		return
	}

	n, err = ch.w.Write(src)
	return
}
