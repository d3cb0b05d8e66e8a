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
	"gvisor.dev/wmap/pkg/errors/linuxerr"
	"gvisor.dev/wmap/pkg/sentry/arch"
	"gvisor.dev/wmap/pkg/sentry/kernel"
)

// Close implements close(2). Mappings of the file stay valid.
func Close(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, error) {
	fd := args[0].Int()
	file := t.FDTable().Remove(fd)
	if file == nil {
		return 0, linuxerr.EBADF
	}
	file.DecRef(t)
	return 0, nil
}

// Dup implements dup(2).
func Dup(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, error) {
	fd := args[0].Int()
	file := t.FDTable().Get(fd)
	if file == nil {
		return 0, linuxerr.EBADF
	}
	defer file.DecRef(t)
	newFD, err := t.FDTable().NewFD(file)
	if err != nil {
		return 0, err
	}
	return uintptr(newFD), nil
}
