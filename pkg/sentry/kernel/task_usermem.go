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
	"gvisor.dev/wmap/pkg/abi/linux/errno"
	"gvisor.dev/wmap/pkg/errors"
	"gvisor.dev/wmap/pkg/hostarch"
	"gvisor.dev/wmap/pkg/marshal"
	"gvisor.dev/wmap/pkg/metric"
)

// ErrTaskExited is returned by memory accesses of a task that has exited.
var ErrTaskExited = errors.New(errno.ESRCH, "task has exited")

var killedTasksMetric = metric.MustCreateNewUint64Metric("/kernel/killed_tasks", "Number of tasks killed by fatal page faults.")

var _ marshal.CopyContext = (*Task)(nil)

// CopyOutBytes implements marshal.CopyContext.CopyOutBytes. It is the
// kernel's copy to user memory: a fault that cannot be resolved fails the
// copy but does not kill t.
func (t *Task) CopyOutBytes(addr hostarch.Addr, src []byte) (int, error) {
	return t.mm.CopyOut(t, addr, src)
}

// CopyInBytes implements marshal.CopyContext.CopyInBytes.
func (t *Task) CopyInBytes(addr hostarch.Addr, dst []byte) (int, error) {
	return t.mm.CopyIn(t, addr, dst)
}

// Store emulates user-mode stores of src at addr. Pages that are not present
// are faulted in as by HandlePageFault; if a fault cannot be resolved, t is
// killed and the fault's error is returned.
func (t *Task) Store(addr hostarch.Addr, src []byte) error {
	if t.Exited() {
		return ErrTaskExited
	}
	if n, err := t.mm.CopyOut(t, addr, src); err != nil {
		t.fatalFault(addr+hostarch.Addr(n), hostarch.Write, err)
		return err
	}
	return nil
}

// Load emulates user-mode loads of len(dst) bytes at addr. Faults are
// handled as by Store.
func (t *Task) Load(addr hostarch.Addr, dst []byte) error {
	if t.Exited() {
		return ErrTaskExited
	}
	if n, err := t.mm.CopyIn(t, addr, dst); err != nil {
		t.fatalFault(addr+hostarch.Addr(n), hostarch.Read, err)
		return err
	}
	return nil
}

// HandlePageFault handles a user page fault at addr. If the fault cannot be
// resolved, t is killed and the fault's error is returned.
func (t *Task) HandlePageFault(addr hostarch.Addr, at hostarch.AccessType) error {
	if t.Exited() {
		return ErrTaskExited
	}
	if err := t.mm.HandleUserFault(t, addr, at); err != nil {
		t.fatalFault(addr, at, err)
		return err
	}
	return nil
}

// fatalFault kills t after a page fault at addr could not be resolved.
func (t *Task) fatalFault(addr hostarch.Addr, at hostarch.AccessType, err error) {
	t.k.faultLog.Warningf("%spage fault at %v (%s): %v, killing task", t.logPrefix(), addr, at, err)
	killedTasksMetric.Increment()
	t.mu.Lock()
	t.killed = true
	t.mu.Unlock()
	t.Exit()
}
