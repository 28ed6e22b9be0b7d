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

package inode

import (
	"fmt"
)

// A helper struct for implementing reference counts on file objects. The only
// value added is some paranoid panics. External synchronization is required.
//
// May be embedded within a larger struct. Use Init to initialize.
type refCount struct {
	id        ID
	count     uint64
	destroyed bool
}

func (rc *refCount) Init(id ID) {
	rc.id = id
}

func (rc *refCount) Inc() {
	if rc.destroyed {
		panic(fmt.Sprintf("Inode %v has already been destroyed", rc.id))
	}

	rc.count++
}

func (rc *refCount) Dec() (zero bool) {
	if rc.destroyed {
		panic(fmt.Sprintf("Inode %v has already been destroyed", rc.id))
	}

	if rc.count == 0 {
		panic(fmt.Sprintf("Inode %v: reference count underflow", rc.id))
	}

	rc.count--

	zero = rc.count == 0
	return
}

func (rc *refCount) Destroy() {
	rc.destroyed = true
}
