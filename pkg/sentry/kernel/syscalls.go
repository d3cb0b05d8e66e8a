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
	"fmt"

	"gvisor.dev/wmap/pkg/sentry/arch"
)

// SyscallFn is a syscall implementation. It returns the value placed in the
// task's return register on success.
type SyscallFn func(t *Task, sysno uintptr, args arch.SyscallArguments) (uintptr, error)

// SyscallSupportLevel is a syscall support levels.
type SyscallSupportLevel int

// String returns a human readable representation of the support level.
func (l SyscallSupportLevel) String() string {
	switch l {
	case SupportUnimplemented:
		return "Unimplemented"
	case SupportFull:
		return "Full Support"
	default:
		return "Undocumented"
	}
}

const (
	// SupportUndocumented indicates the syscall is not documented yet.
	SupportUndocumented SyscallSupportLevel = iota

	// SupportUnimplemented indicates the syscall is unimplemented.
	SupportUnimplemented

	// SupportFull indicates the syscall acts the same as it does in xv6.
	SupportFull
)

// Syscall includes the syscall implementation and compatibility information.
type Syscall struct {
	// Name is the syscall name.
	Name string
	// Fn is the implementation of the syscall.
	Fn SyscallFn
	// SupportLevel is the level of support implemented.
	SupportLevel SyscallSupportLevel
	// Note describes the compatibility of the syscall.
	Note string
}

// SyscallTable is a lookup table of system calls.
type SyscallTable struct {
	// Name identifies the table in logs.
	Name string

	// Table is the collection of functions, keyed by syscall number.
	Table map[uintptr]Syscall

	// Missing is called when a syscall is not found in Table. If nil, the
	// syscall fails with ENOSYS.
	Missing SyscallFn
}

// Lookup returns the syscall implementation for sysno, if one exists.
func (s *SyscallTable) Lookup(sysno uintptr) (Syscall, bool) {
	sc, ok := s.Table[sysno]
	return sc, ok
}

// LookupName looks up a syscall name.
func (s *SyscallTable) LookupName(sysno uintptr) string {
	if sc, ok := s.Table[sysno]; ok {
		return sc.Name
	}
	return fmt.Sprintf("sys_%d", sysno)
}

// LookupNo looks up a syscall number by name.
func (s *SyscallTable) LookupNo(name string) (uintptr, error) {
	for sysno, sc := range s.Table {
		if sc.Name == name {
			return sysno, nil
		}
	}
	return 0, fmt.Errorf("syscall %q not found in table %s", name, s.Name)
}
