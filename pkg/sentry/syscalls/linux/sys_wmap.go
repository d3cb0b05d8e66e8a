// Copyright 2024 The gVisor Authors.
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
	"gvisor.dev/wmap/pkg/abi/linux"
	"gvisor.dev/wmap/pkg/errors/linuxerr"
	"gvisor.dev/wmap/pkg/sentry/arch"
	"gvisor.dev/wmap/pkg/sentry/kernel"
	"gvisor.dev/wmap/pkg/sentry/memmap"
	"gvisor.dev/wmap/pkg/sentry/mm"
)

// Wmap implements wmap(2).
func Wmap(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, error) {
	addr := args[0].Pointer()
	length := args[1].Int()
	flagsArg := args[2].Int()
	fd := args[3].Int()
	t.Debugf("wmap: addr=%v, len=%d, flags=%#x, fd=%d", addr, length, flagsArg, fd)

	if length <= 0 {
		return 0, linuxerr.EINVAL
	}
	flags, ok := linux.ParseWmapFlags(flagsArg)
	if !ok {
		return 0, linuxerr.EINVAL
	}
	if t.MemoryManager().TableFull() {
		return 0, mm.ErrTableFull
	}

	opts := memmap.MMapOpts{
		Length:  uint32(length),
		Addr:    addr,
		Fixed:   flags.Fixed,
		Shared:  flags.Shared,
		Private: flags.Private,
	}
	if !flags.Anonymous {
		file := t.FDTable().Get(fd)
		if file == nil {
			return 0, linuxerr.EBADF
		}
		defer file.DecRef(t)
		opts.File = file
	}

	rv, err := t.MemoryManager().MMap(t, opts)
	return uintptr(rv), err
}

// Wunmap implements wunmap(2).
func Wunmap(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, error) {
	addr := args[0].Pointer()
	return linux.SUCCESS, t.MemoryManager().MUnmap(t, addr)
}

// Wremap implements wremap(2).
func Wremap(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, error) {
	oldAddr := args[0].Pointer()
	oldSize := args[1].Int()
	newSize := args[2].Int()
	flags := args[3].Int()
	t.Debugf("wremap: oldaddr=%v, oldsize=%d, newsize=%d, flags=%#x", oldAddr, oldSize, newSize, flags)

	var opts mm.MRemapOpts
	switch flags {
	case 0:
		opts.Move = mm.MRemapNoMove
	case linux.MREMAP_MAYMOVE:
		opts.Move = mm.MRemapMayMove
	default:
		return 0, linuxerr.EINVAL
	}
	if newSize <= 0 {
		return 0, linuxerr.EINVAL
	}

	rv, err := t.MemoryManager().MRemap(t, oldAddr, uint32(oldSize), uint32(newSize), opts)
	return uintptr(rv), err
}

// Getwmapinfo implements getwmapinfo(2).
func Getwmapinfo(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, error) {
	info := t.MemoryManager().WmapInfo()
	_, err := info.CopyOut(t, args[0].Pointer())
	return 0, err
}

// Getpgdirinfo implements getpgdirinfo(2).
func Getpgdirinfo(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, error) {
	info := t.MemoryManager().PgdirInfo()
	_, err := info.CopyOut(t, args[0].Pointer())
	return 0, err
}
