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

// A small kernel that runs user programs against a file table and a process
// table backed by memory or a GCS bucket.
//
// Usage:
//
//	kcore [flags] image [args...]
//	kcore mkimage --entry NAME [--literal TEXT ...] OUT
package main

import (
	"github.com/kcore-project/kcore/cmd"
)

func main() {
	cmd.Execute()
}
