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

// Package programs holds the user programs built into the kcore binary.
// An image runs one of them when its entry point names it.
package programs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kcore-project/kcore/internal/fs"
	"github.com/kcore-project/kcore/internal/kernel"
)

const bufSize = 1024

// Builtins returns a fresh registry of every built-in program, keyed by
// entry point.
func Builtins() kernel.Registry {
	return kernel.Registry{
		"cat":        Cat,
		"cp":         Cp,
		"echo":       Echo,
		"exit":       Exit,
		"filetest":   FileTest,
		"jointest":   JoinTest,
		"unlinktest": UnlinkTest,
	}
}

func printf(sys *kernel.Syscalls, format string, v ...any) {
	b := []byte(fmt.Sprintf(format, v...))
	sys.Write(fs.StdoutFD, b, len(b))
}

// operands returns the arguments after the program name.
func operands(sys *kernel.Syscalls) []string {
	args := sys.Args()
	if len(args) == 0 {
		return nil
	}
	return args[1:]
}

// copyFD copies src to dst until end of file. It returns false if either
// side fails.
func copyFD(sys *kernel.Syscalls, dst, src int) bool {
	buf := make([]byte, bufSize)
	for {
		n := sys.Read(src, buf, len(buf))
		switch {
		case n == 0:
			return true
		case n < 0:
			return false
		}

		if sys.Write(dst, buf, n) != n {
			return false
		}
	}
}

// Echo prints its operands separated by spaces.
func Echo(sys *kernel.Syscalls) int {
	printf(sys, "%s\n", strings.Join(operands(sys), " "))
	return 0
}

// Exit exits with the status given as its only operand, or 0.
func Exit(sys *kernel.Syscalls) int {
	status := 0
	if ops := operands(sys); len(ops) > 0 {
		var err error
		if status, err = strconv.Atoi(ops[0]); err != nil {
			printf(sys, "exit: bad status %q\n", ops[0])
			return 2
		}
	}

	sys.Exit(status)
	return -1
}

// Cat prints each named file to the console.
func Cat(sys *kernel.Syscalls) int {
	status := 0
	for _, name := range operands(sys) {
		fd := sys.Open(name)
		if fd < 0 {
			printf(sys, "cat: cannot open %s\n", name)
			status = 1
			continue
		}

		if !copyFD(sys, fs.StdoutFD, fd) {
			status = 1
		}
		sys.Close(fd)
	}
	return status
}

// Cp copies the first operand to the second.
func Cp(sys *kernel.Syscalls) int {
	ops := operands(sys)
	if len(ops) != 2 {
		printf(sys, "usage: cp SRC DST\n")
		return 2
	}

	src := sys.Open(ops[0])
	if src < 0 {
		printf(sys, "cp: cannot open %s\n", ops[0])
		return 1
	}
	defer sys.Close(src)

	dst := sys.Creat(ops[1])
	if dst < 0 {
		printf(sys, "cp: cannot create %s\n", ops[1])
		return 1
	}

	ok := copyFD(sys, dst, src)
	if sys.Close(dst) != 0 || !ok {
		return 1
	}
	return 0
}
