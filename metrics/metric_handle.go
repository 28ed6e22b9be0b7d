// Copyright 2025 Google LLC
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
package metrics

import (
	"context"
	"time"
)

// Constants for attribute Syscall
const (
	SyscallClose  = "close"
	SyscallCreat  = "creat"
	SyscallExec   = "exec"
	SyscallExit   = "exit"
	SyscallHalt   = "halt"
	SyscallJoin   = "join"
	SyscallOpen   = "open"
	SyscallOthers = "others"
	SyscallRead   = "read"
	SyscallUnlink = "unlink"
	SyscallWrite  = "write"
)

// Constants for attribute ErrorCategory
const (
	ErrorCategoryFILEDIRERROR             = "FILE_DIR_ERROR"
	ErrorCategoryINTERRUPTERROR           = "INTERRUPT_ERROR"
	ErrorCategoryINVALIDARGUMENT          = "INVALID_ARGUMENT"
	ErrorCategoryINVALIDOPERATION         = "INVALID_OPERATION"
	ErrorCategoryIOERROR                  = "IO_ERROR"
	ErrorCategoryNOFILEORDIR              = "NO_FILE_OR_DIR"
	ErrorCategoryPERMERROR                = "PERM_ERROR"
	ErrorCategoryPROCESSRESOURCEMGMTERROR = "PROCESS_RESOURCE_MGMT_ERROR"
	ErrorCategoryTOOMANYOPENFILES         = "TOO_MANY_OPEN_FILES"
)

// Constants for attribute StoreMethod
const (
	StoreMethodDelete = "Delete"
	StoreMethodList   = "List"
	StoreMethodLoad   = "Load"
	StoreMethodSave   = "Save"
)

var (
	syscalls = []string{
		SyscallClose, SyscallCreat, SyscallExec, SyscallExit, SyscallHalt,
		SyscallJoin, SyscallOpen, SyscallOthers, SyscallRead, SyscallUnlink,
		SyscallWrite,
	}
	errorCategories = []string{
		ErrorCategoryFILEDIRERROR, ErrorCategoryINTERRUPTERROR,
		ErrorCategoryINVALIDARGUMENT, ErrorCategoryINVALIDOPERATION,
		ErrorCategoryIOERROR, ErrorCategoryNOFILEORDIR, ErrorCategoryPERMERROR,
		ErrorCategoryPROCESSRESOURCEMGMTERROR, ErrorCategoryTOOMANYOPENFILES,
	}
	storeMethods = []string{
		StoreMethodDelete, StoreMethodList, StoreMethodLoad, StoreMethodSave,
	}
)

// MetricHandle provides an interface for recording metrics.
type MetricHandle interface {
	// SyscallCount - The cumulative number of system calls served by the kernel.
	SyscallCount(inc int64, syscall string)

	// SyscallErrorCount - The cumulative number of system calls that returned an error.
	SyscallErrorCount(inc int64, errorCategory string, syscall string)

	// SyscallLatency - The cumulative distribution of system call latencies.
	SyscallLatency(ctx context.Context, latency time.Duration, syscall string)

	// ProcessCount - The number of processes in the process table.
	ProcessCount(inc int64)

	// OpenFileCount - The number of open file handles across all processes.
	OpenFileCount(inc int64)

	// StoreRequestCount - The cumulative number of requests sent to the storage backend.
	StoreRequestCount(inc int64, storeMethod string)

	// StoreRequestLatency - The cumulative distribution of storage request latencies.
	StoreRequestLatency(ctx context.Context, latency time.Duration, storeMethod string)
}
