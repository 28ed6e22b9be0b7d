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

// Package kerr holds the error kinds every kernel call can fail with, and
// their mapping to errno values and metric categories.
package kerr

import (
	"context"
	"errors"

	"golang.org/x/sys/unix"
)

var (
	// ErrNotFound reports a name, pid or image that does not exist, or a pid
	// that is not a child of the caller.
	ErrNotFound = errors.New("not found")

	// ErrInvalidHandle reports a descriptor that is out of range or not open.
	ErrInvalidHandle = errors.New("invalid handle")

	// ErrResourceExhausted reports a full descriptor or process table.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrAlreadyConsumed reports a join on a child whose status was already
	// collected.
	ErrAlreadyConsumed = errors.New("already consumed")

	// ErrLoad reports an image that could not be read or decoded.
	ErrLoad = errors.New("load error")

	// ErrInvalidArgument reports a malformed name or argument vector.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Errno finds the unix.Errno that best represents err based on its chain.
func Errno(err error) unix.Errno {
	var errno unix.Errno
	switch {
	case err == nil:
		return 0
	case errors.As(err, &errno):
		return errno
	case errors.Is(err, ErrNotFound):
		return unix.ENOENT
	case errors.Is(err, ErrInvalidHandle):
		return unix.EBADF
	case errors.Is(err, ErrResourceExhausted):
		return unix.EMFILE
	case errors.Is(err, ErrAlreadyConsumed):
		return unix.ECHILD
	case errors.Is(err, ErrLoad):
		return unix.ENOEXEC
	case errors.Is(err, ErrInvalidArgument):
		return unix.EINVAL
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return unix.EINTR
	}
	return unix.EIO
}
