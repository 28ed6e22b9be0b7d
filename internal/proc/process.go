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

package proc

import (
	"fmt"
	"time"

	"github.com/kcore-project/kcore/internal/fs"
	"github.com/kcore-project/kcore/internal/loader"
)

// NoParent is the parent pid of the root process and of orphans.
const NoParent = -1

type State int

const (
	Running State = iota
	Exited
	Joined
)

func (s State) String() string {
	switch s {
	case Running:
		return "Running"
	case Exited:
		return "Exited"
	case Joined:
		return "Joined"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Process is one entry of the process table.
type Process struct {
	/////////////////////////
	// Constant data
	/////////////////////////

	pid       int
	image     *loader.Image
	startTime time.Time

	// The descriptor table owned by this process. Only the process itself
	// uses it until exit, when the table closes every slot.
	files *fs.DescriptorTable

	// Closed once state leaves Running.
	done chan struct{}

	/////////////////////////
	// Mutable state
	/////////////////////////

	// GUARDED_BY(Table.mu)
	parent *Process

	// INVARIANT: state only moves forward: Running -> Exited -> Joined
	//
	// GUARDED_BY(Table.mu)
	state State

	// Set by exit. Meaningful only when normal is true.
	//
	// GUARDED_BY(Table.mu)
	status int

	// False when the process terminated without calling exit.
	//
	// GUARDED_BY(Table.mu)
	normal bool

	// GUARDED_BY(Table.mu)
	exitTime time.Time

	// Every process ever started by this one, including those already
	// joined, so that a second join can be told apart from a stranger's pid.
	//
	// GUARDED_BY(Table.mu)
	children map[int]*Process
}

func (p *Process) PID() int {
	return p.pid
}

func (p *Process) Image() *loader.Image {
	return p.image
}

func (p *Process) Files() *fs.DescriptorTable {
	return p.files
}

func (p *Process) StartTime() time.Time {
	return p.startTime
}

// Done is closed when the process exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

func (p *Process) String() string {
	return fmt.Sprintf("process %d (%s)", p.pid, p.image.Path)
}
