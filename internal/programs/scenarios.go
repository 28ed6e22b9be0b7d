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
	"github.com/kcore-project/kcore/internal/kernel"
)

// FileTest reads a digit n from fileTest.in, writes an n by n digit square
// followed by a trailer to fileTest.out, then checks that closing -1 and
// unlinking a missing file fail.
func FileTest(sys *kernel.Syscalls) int {
	buf := make([]byte, bufSize)

	in := sys.Open("fileTest.in")
	printf(sys, "fileTest.in fd = %d\n", in)
	r := sys.Read(in, buf, 1)
	printf(sys, "number of bytes read = %d\n", r)
	if r != 1 || buf[0] < '0' || buf[0] > '9' {
		return 1
	}
	n := int(buf[0] - '0')
	printf(sys, "n = %d\n", n)

	out := sys.Creat("fileTest.out")
	doomed := sys.Creat("unlink.out")
	printf(sys, "fileTest.out fd = %d\n", out)
	printf(sys, "unlink.out fd = %d\n", doomed)

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			buf[i*(n+1)+j] = byte('0' + j)
		}
		buf[i*(n+1)+n] = '\n'
	}
	size := n*(n+1) + copy(buf[n*(n+1):], "I LOVE U\n")

	printf(sys, "number of bytes written = %d\n", sys.Write(out, buf, size))
	printf(sys, "r = %d\n", sys.Close(out))
	printf(sys, "r = %d\n", sys.Close(-1))
	printf(sys, "unlink unlink.out flag : %d\n", sys.Unlink("unlink.out"))
	printf(sys, "unlink nonexist.out flag : %d\n", sys.Unlink("nonexist.out"))
	return 0
}

// UnlinkTest shows that a descriptor keeps working after its name is
// unlinked and that the name can be created again meanwhile.
func UnlinkTest(sys *kernel.Syscalls) int {
	fd := sys.Creat("text.txt")
	if fd == -1 {
		printf(sys, "Failed to open text.txt\n")
		return 1
	}
	printf(sys, "open text.txt\n")

	if sys.Unlink("text.txt") == -1 {
		printf(sys, "Unable to remove text.txt\n")
	}

	if sys.Creat("text.txt") != -1 {
		printf(sys, "unlink pending and create successfully\n")
	}

	if sys.Open("text.txt") != -1 {
		printf(sys, "unlink pending and open successfully\n")
	}

	msg := []byte("still here\n")
	if sys.Write(fd, msg, len(msg)) == len(msg) {
		printf(sys, "write after unlink successfully\n")
	}

	sys.Close(fd)
	if sys.Creat("text.txt") != -1 {
		printf(sys, "create successfully\n")
	}
	return 0
}

// JoinTest joins children that exit normally, joins one of them twice and
// joins the result of a failed exec.
func JoinTest(sys *kernel.Syscalls) int {
	printf(sys, "testing system call join!\n")

	var status int
	pid := sys.Exec("echo.coff", 2, []string{"echo", "child"})
	value := sys.Join(pid, &status)
	printf(sys, "join 1 %d %d %d\n", pid, value, status)

	pid1 := sys.Exec("exit.coff", 2, []string{"exit", "7"})
	value = sys.Join(pid1, &status)
	printf(sys, "join 2 %d %d %d\n", pid1, value, status)

	value = sys.Join(pid1, &status)
	printf(sys, "join 3 %d %d %d\n", pid1, value, status)

	pid2 := sys.Exec("test-thisdoesnotexist.coff", 0, nil)
	value = sys.Join(pid2, &status)
	printf(sys, "join 4 %d %d %d\n", pid2, value, status)

	printf(sys, "ok\n")
	sys.Exit(0)
	return 0
}
