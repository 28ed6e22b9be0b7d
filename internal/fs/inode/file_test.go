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
	"testing"
	"time"

	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"
	"github.com/kcore-project/kcore/internal/locker"
	. "github.com/jacobsa/oglematchers"
	. "github.com/jacobsa/ogletest"
)

func TestFile(t *testing.T) { RunTests(t) }

////////////////////////////////////////////////////////////////////////
// Boilerplate
////////////////////////////////////////////////////////////////////////

const fileInodeID = 17
const fileName = "taco.txt"

type FileTest struct {
	clock timeutil.SimulatedClock
	in    *FileInode
}

var _ SetUpInterface = &FileTest{}
var _ TearDownInterface = &FileTest{}

func init() { RegisterTestSuite(&FileTest{}) }

func (t *FileTest) SetUp(ti *TestInfo) {
	syncutil.EnableInvariantChecking()
	locker.EnableInvariantsCheck()
	t.clock.SetTime(time.Date(2012, 8, 15, 22, 56, 0, 0, time.Local))

	t.in = NewFileInode(fileInodeID, fileName, []byte("taco"), false, &t.clock)
	t.in.Lock()
}

func (t *FileTest) TearDown() {
	t.in.Unlock()
}

////////////////////////////////////////////////////////////////////////
// Tests
////////////////////////////////////////////////////////////////////////

func (t *FileTest) ID() {
	ExpectEq(fileInodeID, t.in.ID())
}

func (t *FileTest) Name() {
	ExpectEq(fileName, t.in.Name())
}

func (t *FileTest) InitialState() {
	ExpectEq(0, t.in.RefCount())
	ExpectEq(4, t.in.Size())
	ExpectFalse(t.in.IsDirty())
	ExpectFalse(t.in.IsUnlinked())
	ExpectTrue(t.in.Mtime().Equal(t.clock.Now()))
}

func (t *FileTest) GenerationsDiffer() {
	other := NewFileInode(fileInodeID+1, fileName, nil, true, &t.clock)

	ExpectNe(t.in.Generation().String(), other.Generation().String())
}

func (t *FileTest) ReadAtStart() {
	buf := make([]byte, 10)

	n, err := t.in.ReadAt(buf, 0)

	AssertEq(nil, err)
	ExpectEq("taco", string(buf[:n]))
}

func (t *FileTest) ReadInTheMiddle() {
	buf := make([]byte, 2)

	n, err := t.in.ReadAt(buf, 1)

	AssertEq(nil, err)
	ExpectEq("ac", string(buf[:n]))
}

func (t *FileTest) ReadPastEnd() {
	buf := make([]byte, 2)

	n, err := t.in.ReadAt(buf, 17)

	AssertEq(nil, err)
	ExpectEq(0, n)
}

func (t *FileTest) ReadNegativeOffset() {
	_, err := t.in.ReadAt(make([]byte, 1), -1)

	ExpectThat(err, Error(HasSubstr("negative offset")))
}

func (t *FileTest) WriteOverwritesAndMarksDirty() {
	t.clock.AdvanceTime(time.Second)

	n, err := t.in.WriteAt([]byte("bu"), 2)

	AssertEq(nil, err)
	ExpectEq(2, n)
	ExpectEq("tabu", string(t.in.Content()))
	ExpectTrue(t.in.IsDirty())
	ExpectTrue(t.in.Mtime().Equal(t.clock.Now()))
}

func (t *FileTest) WritePastEndZeroFills() {
	n, err := t.in.WriteAt([]byte("s"), 6)

	AssertEq(nil, err)
	ExpectEq(1, n)
	ExpectEq("taco\x00\x00s", string(t.in.Content()))
}

func (t *FileTest) WriteAfterShrinkZeroFills() {
	t.in.Truncate()
	_, err := t.in.WriteAt([]byte("ab"), 0)
	AssertEq(nil, err)

	_, err = t.in.WriteAt([]byte("c"), 3)

	AssertEq(nil, err)
	ExpectEq("ab\x00c", string(t.in.Content()))
}

func (t *FileTest) ContentIsACopy() {
	c := t.in.Content()
	c[0] = 'X'

	ExpectEq("taco", string(t.in.Content()))
}

func (t *FileTest) Truncate() {
	t.in.Truncate()

	ExpectEq(0, t.in.Size())
	ExpectTrue(t.in.IsDirty())
}

func (t *FileTest) UnlinkDiscardsWriteBack() {
	_, err := t.in.WriteAt([]byte("x"), 0)
	AssertEq(nil, err)

	t.in.Unlink()

	ExpectTrue(t.in.IsUnlinked())
	ExpectFalse(t.in.IsDirty())

	_, err = t.in.WriteAt([]byte("y"), 0)
	AssertEq(nil, err)
	ExpectFalse(t.in.IsDirty())
	ExpectEq("yaco", string(t.in.Content()))
}

func (t *FileTest) MarkClean() {
	t.in.Truncate()
	t.in.MarkClean()

	ExpectFalse(t.in.IsDirty())
}

func (t *FileTest) RefCounting() {
	t.in.IncrementRefCount()
	t.in.IncrementRefCount()

	ExpectFalse(t.in.DecrementRefCount())
	ExpectTrue(t.in.DecrementRefCount())
}

func (t *FileTest) DecrementBelowZeroPanics() {
	defer func() {
		ExpectThat(recover(), HasSubstr("underflow"))
	}()

	t.in.DecrementRefCount()
}

func (t *FileTest) IncrementAfterDestroyPanics() {
	t.in.Destroy()
	ExpectTrue(t.in.IsDestroyed())

	defer func() {
		ExpectThat(recover(), HasSubstr("destroyed"))
	}()

	t.in.IncrementRefCount()
}
