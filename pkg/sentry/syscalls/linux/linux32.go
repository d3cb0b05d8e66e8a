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

// Package linux provides the syscall table of the emulated 32-bit x86
// kernel.
package linux

import (
	"gvisor.dev/wmap/pkg/abi/linux"
	"gvisor.dev/wmap/pkg/errors/linuxerr"
	"gvisor.dev/wmap/pkg/sentry/kernel"
	"gvisor.dev/wmap/pkg/sentry/syscalls"
)

// X86 is the syscall table of the emulated kernel, keyed by the kernel's
// syscall numbers. Calls the emulation does not provide fail with ENOSYS.
var X86 = &kernel.SyscallTable{
	Name: "x86",
	Table: map[uintptr]kernel.Syscall{
		linux.SYS_FORK:         syscalls.Error("fork", linuxerr.ENOSYS),
		linux.SYS_EXIT:         syscalls.Supported("exit", Exit),
		linux.SYS_WAIT:         syscalls.Error("wait", linuxerr.ENOSYS),
		linux.SYS_PIPE:         syscalls.Error("pipe", linuxerr.ENOSYS),
		linux.SYS_READ:         syscalls.Error("read", linuxerr.ENOSYS),
		linux.SYS_KILL:         syscalls.Error("kill", linuxerr.ENOSYS),
		linux.SYS_EXEC:         syscalls.Error("exec", linuxerr.ENOSYS),
		linux.SYS_FSTAT:        syscalls.Error("fstat", linuxerr.ENOSYS),
		linux.SYS_CHDIR:        syscalls.Error("chdir", linuxerr.ENOSYS),
		linux.SYS_DUP:          syscalls.Supported("dup", Dup),
		linux.SYS_GETPID:       syscalls.Supported("getpid", Getpid),
		linux.SYS_SBRK:         syscalls.Error("sbrk", linuxerr.ENOSYS),
		linux.SYS_SLEEP:        syscalls.Error("sleep", linuxerr.ENOSYS),
		linux.SYS_UPTIME:       syscalls.Supported("uptime", Uptime),
		linux.SYS_OPEN:         syscalls.Error("open", linuxerr.ENOSYS),
		linux.SYS_WRITE:        syscalls.Error("write", linuxerr.ENOSYS),
		linux.SYS_MKNOD:        syscalls.Error("mknod", linuxerr.ENOSYS),
		linux.SYS_UNLINK:       syscalls.Error("unlink", linuxerr.ENOSYS),
		linux.SYS_LINK:         syscalls.Error("link", linuxerr.ENOSYS),
		linux.SYS_MKDIR:        syscalls.Error("mkdir", linuxerr.ENOSYS),
		linux.SYS_CLOSE:        syscalls.Supported("close", Close),
		linux.SYS_WMAP:         syscalls.Supported("wmap", Wmap),
		linux.SYS_WUNMAP:       syscalls.Supported("wunmap", Wunmap),
		linux.SYS_WREMAP:       syscalls.Supported("wremap", Wremap),
		linux.SYS_GETPGDIRINFO: syscalls.Supported("getpgdirinfo", Getpgdirinfo),
		linux.SYS_GETWMAPINFO:  syscalls.Supported("getwmapinfo", Getwmapinfo),
	},
}
