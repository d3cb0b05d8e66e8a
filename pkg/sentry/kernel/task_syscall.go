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

package kernel

import (
	"gvisor.dev/wmap/pkg/abi/linux"
	"gvisor.dev/wmap/pkg/abi/linux/errno"
	"gvisor.dev/wmap/pkg/errors/linuxerr"
	"gvisor.dev/wmap/pkg/sentry/arch"
)

// Syscall executes system call sysno with args on behalf of t and returns
// the value of t's 32-bit return register: the handler's result, or
// linux.FAILED if the handler returned an error. The errno of the error is
// available from LastErrno.
func (t *Task) Syscall(sysno uintptr, args arch.SyscallArguments) int32 {
	if t.Exited() {
		t.Warningf("Syscall %s after exit", t.k.syscalls.LookupName(sysno))
		t.setLastErrno(errno.ESRCH)
		return linux.FAILED
	}

	rval, err := t.executeSyscall(sysno, args)
	if err != nil {
		t.Debugf("%s: %v", t.k.syscalls.LookupName(sysno), err)
		e, convErr := linuxerr.ErrnoOf(err)
		if convErr != nil {
			t.Warningf("%s returned an error without errno: %v", t.k.syscalls.LookupName(sysno), err)
			e = errno.EINVAL
		}
		t.setLastErrno(e)
		return linux.FAILED
	}
	t.setLastErrno(errno.NOERRNO)
	return arch.Return(rval)
}

// executeSyscall looks up and runs the handler for sysno.
func (t *Task) executeSyscall(sysno uintptr, args arch.SyscallArguments) (uintptr, error) {
	s := t.k.syscalls
	sc, ok := s.Lookup(sysno)
	if !ok {
		if s.Missing != nil {
			return s.Missing(t, sysno, args)
		}
		t.Debugf("Unknown syscall %d", sysno)
		return 0, linuxerr.ENOSYS
	}
	return sc.Fn(t, sysno, args)
}

func (t *Task) setLastErrno(e errno.Errno) {
	t.mu.Lock()
	t.lastErrno = e
	t.mu.Unlock()
}
