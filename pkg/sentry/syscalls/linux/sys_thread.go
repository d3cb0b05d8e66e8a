// Copyright 2018 The gVisor Authors.
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

package linux

import (
	"gvisor.dev/wmap/pkg/sentry/arch"
	"gvisor.dev/wmap/pkg/sentry/kernel"
)

// Getpid implements getpid(2).
func Getpid(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, error) {
	return uintptr(t.ThreadID()), nil
}

// Exit implements exit(2). The task's mappings and descriptors are
// released before it returns.
func Exit(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, error) {
	t.Exit()
	return 0, nil
}
