// Copyright 2023 Google Inc. All Rights Reserved.
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

// Provides the Locker and RWLocker implementations with optional debug utils.
package locker

import (
	"runtime"
	"sync"
	"time"

	"github.com/kcore-project/kcore/internal/logger"
)

var (
	gEnableInvariantsCheck bool
	gEnableDebugMessages   bool
)

// holdThreshold is how long a writer may hold a debug lock before it is
// reported as a potential deadlock.
const holdThreshold = 5 * time.Second

// EnableInvariantsCheck makes lockers created afterwards run their check
// function after every lock and before every unlock.
func EnableInvariantsCheck() {
	gEnableInvariantsCheck = true
}

// EnableDebugMessages makes lockers created afterwards log a message when held
// for longer than holdThreshold.
func EnableDebugMessages() {
	gEnableDebugMessages = true
}

// New returns a locker with potential capability for debugging.
func New(name string, check func()) sync.Locker {
	var l sync.Locker = &sync.Mutex{}

	if gEnableInvariantsCheck {
		l = &checker{
			locker: l,
			check:  check,
		}
	}

	if gEnableDebugMessages {
		l = &debugger{
			locker: l,
			name:   name,
		}
	}

	return l
}

type checker struct {
	locker sync.Locker
	check  func()
}

func (c *checker) Lock() {
	c.locker.Lock()
	c.check()
}

func (c *checker) Unlock() {
	c.check()
	c.locker.Unlock()
}

type debugger struct {
	locker sync.Locker
	name   string
	holder string
	timer  *time.Timer
}

func (d *debugger) Lock() {
	d.locker.Lock()
	d.holder = callerStack()
	d.timer = time.AfterFunc(holdThreshold, func() {
		logger.Tracef("debug_mutex: Potential dead lock detected for a lock %q held by: %v\n", d.name, d.holder)
	})
}

func (d *debugger) Unlock() {
	d.holder = ""
	d.timer.Stop()
	d.timer = nil

	d.locker.Unlock()
}

func callerStack() string {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false /* all */)
	return string(buf[:n])
}
