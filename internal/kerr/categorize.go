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

package kerr

import (
	"github.com/kcore-project/kcore/metrics"
	"golang.org/x/sys/unix"
)

// Categorize maps an error to an error-category, keeping the cardinality of
// metric labels low.
func Categorize(err error) string {
	if err == nil {
		return ""
	}
	switch Errno(err) {
	case 0:
		return ""
	case unix.ENOENT:
		return metrics.ErrorCategoryNOFILEORDIR
	case unix.EBADF:
		return metrics.ErrorCategoryFILEDIRERROR
	case unix.EMFILE, unix.ENFILE:
		return metrics.ErrorCategoryTOOMANYOPENFILES
	case unix.ECHILD, unix.EAGAIN, unix.ESRCH:
		return metrics.ErrorCategoryPROCESSRESOURCEMGMTERROR
	case unix.ENOEXEC, unix.ENOSYS:
		return metrics.ErrorCategoryINVALIDOPERATION
	case unix.EINVAL, unix.ENAMETOOLONG, unix.E2BIG:
		return metrics.ErrorCategoryINVALIDARGUMENT
	case unix.EINTR:
		return metrics.ErrorCategoryINTERRUPTERROR
	case unix.EACCES, unix.EPERM:
		return metrics.ErrorCategoryPERMERROR
	}
	return metrics.ErrorCategoryIOERROR
}
