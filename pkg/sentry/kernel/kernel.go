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

// Package kernel provides an emulation of the teaching kernel's process
// model: tasks with their own address space and descriptor table, a tick
// counter, and the system call entry point.
//
// Each task is driven by one goroutine at a time. Different tasks may run
// concurrently; they share only the frame pool and open files.
package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gvisor.dev/wmap/pkg/log"
	"gvisor.dev/wmap/pkg/sentry/mm"
	"gvisor.dev/wmap/pkg/sentry/pgalloc"
)

// faultLogInterval is the minimum interval between fatal fault reports.
const faultLogInterval = time.Second

// Kernel represents an emulated kernel.
type Kernel struct {
	// mf provides physical frames to every address space. mf is immutable.
	mf *pgalloc.MemoryFile

	// syscalls is the syscall table used by every task. syscalls is
	// immutable.
	syscalls *SyscallTable

	// mmOpts is the template for new address spaces. mmOpts is immutable.
	mmOpts mm.Options

	// maxFDs bounds each task's descriptor table. maxFDs is immutable.
	maxFDs int

	ticker *Ticker

	// faultLog reports fatal faults, which a misbehaving program can
	// trigger in a loop across many tasks.
	faultLog log.Logger

	// tasks is the set of live tasks.
	tasks TaskSet

	// timerWG tracks timer goroutines started by StartTimer.
	timerWG sync.WaitGroup
}

// InitKernelArgs holds arguments to New.
type InitKernelArgs struct {
	// Frames is the number of physical frames shared by all address spaces.
	Frames int

	// PoisonFreed fills frames with junk when they are freed.
	PoisonFreed bool

	// SyscallTable is the table used to dispatch Task.Syscall.
	SyscallTable *SyscallTable

	// MemoryManagerOptions configures every address space.
	MemoryManagerOptions mm.Options

	// MaxFDs bounds each task's descriptor table. Zero means DefaultMaxFDs.
	MaxFDs int
}

// New creates a Kernel.
func New(args InitKernelArgs) (*Kernel, error) {
	if args.SyscallTable == nil {
		return nil, fmt.Errorf("SyscallTable is nil")
	}
	mf, err := pgalloc.NewMemoryFile(pgalloc.MemoryFileOpts{
		Frames:      args.Frames,
		PoisonFreed: args.PoisonFreed,
	})
	if err != nil {
		return nil, fmt.Errorf("creating memory file: %w", err)
	}
	if args.MaxFDs <= 0 {
		args.MaxFDs = DefaultMaxFDs
	}
	k := &Kernel{
		mf:       mf,
		syscalls: args.SyscallTable,
		mmOpts:   args.MemoryManagerOptions,
		maxFDs:   args.MaxFDs,
		ticker:   newTicker(),
		faultLog: log.BasicRateLimitedLogger(faultLogInterval),
	}
	k.tasks.init()
	log.Infof("Kernel created: %d frames, syscall table %s, placement %v", args.Frames, args.SyscallTable.Name, args.MemoryManagerOptions.Placement)
	return k, nil
}

// MemoryFile returns the frame allocator.
func (k *Kernel) MemoryFile() *pgalloc.MemoryFile {
	return k.mf
}

// SyscallTable returns the kernel's syscall table.
func (k *Kernel) SyscallTable() *SyscallTable {
	return k.syscalls
}

// Ticker returns the kernel's tick counter.
func (k *Kernel) Ticker() *Ticker {
	return k.ticker
}

// TaskSet returns the set of live tasks.
func (k *Kernel) TaskSet() *TaskSet {
	return &k.tasks
}

// StartTimer advances the tick counter every interval until ctx is done.
func (k *Kernel) StartTimer(ctx context.Context, interval time.Duration) {
	k.timerWG.Add(1)
	go func() {
		defer k.timerWG.Done()
		k.ticker.run(ctx, interval)
	}()
}

// NewTask creates a task with an empty address space and descriptor table.
func (k *Kernel) NewTask(name string) *Task {
	t := &Task{
		k:       k,
		name:    name,
		mm:      mm.NewMemoryManager(k.mf, k.mmOpts),
		fdTable: k.NewFDTable(),
	}
	k.tasks.add(t)
	t.Debugf("Task created")
	return t
}

// Destroy kills every remaining task and releases the frame pool. The
// contexts passed to StartTimer must be done before Destroy is called.
func (k *Kernel) Destroy() {
	for _, t := range k.tasks.Tasks() {
		t.Exit()
	}
	k.timerWG.Wait()
	k.mf.Destroy()
}
