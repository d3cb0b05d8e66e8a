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

package kernel

import (
	"sync"

	"gvisor.dev/wmap/pkg/abi/linux/errno"
	"gvisor.dev/wmap/pkg/sentry/mm"
)

// Task represents a process of the emulated kernel: an address space, a
// descriptor table and the state of its last system call.
//
// A Task is driven by a single goroutine. Its accessors may be called from
// any goroutine.
//
// Task implements context.Context; syscall handlers pass the task as the
// context of the operations they perform.
type Task struct {
	k *Kernel

	// tid is immutable after the task is added to the TaskSet.
	tid ThreadID

	// name is immutable.
	name string

	// mm is the task's address space. mm is immutable; it is released by
	// Exit.
	mm *mm.MemoryManager

	// fdTable is immutable; it is emptied by Exit.
	fdTable *FDTable

	// mu protects the fields below.
	mu sync.Mutex

	// lastErrno is the error of the most recent failed syscall, or
	// NOERRNO if it succeeded.
	lastErrno errno.Errno

	// exited is true once Exit has run.
	exited bool

	// killed is true if the task was terminated by a fatal fault.
	killed bool
}

// Kernel returns the kernel t runs on.
func (t *Task) Kernel() *Kernel {
	return t.k
}

// ThreadID returns t's thread ID.
func (t *Task) ThreadID() ThreadID {
	return t.tid
}

// Name returns t's name.
func (t *Task) Name() string {
	return t.name
}

// MemoryManager returns t's address space.
func (t *Task) MemoryManager() *mm.MemoryManager {
	return t.mm
}

// FDTable returns t's descriptor table.
func (t *Task) FDTable() *FDTable {
	return t.fdTable
}

// LastErrno returns the errno of t's most recent syscall, NOERRNO if it
// succeeded.
func (t *Task) LastErrno() errno.Errno {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErrno
}

// Exited returns true if t has exited or was killed.
func (t *Task) Exited() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exited
}

// Killed returns true if t was terminated by a fatal fault.
func (t *Task) Killed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.killed
}
