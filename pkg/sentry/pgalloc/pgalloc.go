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

// Package pgalloc contains the physical frame allocator shared by every
// address space in the kernel.
package pgalloc

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
	"gvisor.dev/wmap/pkg/abi/linux/errno"
	"gvisor.dev/wmap/pkg/errors"
	"gvisor.dev/wmap/pkg/hostarch"
	"gvisor.dev/wmap/pkg/log"
)

// ErrOutOfFrames is returned by AllocateFrame when every frame is in use.
var ErrOutOfFrames = errors.New(errno.ENOMEM, "out of physical frames")

// DefaultPhysBase is the physical address of the first frame when
// MemoryFileOpts.PhysBase is unset. Frames below it are reserved for the
// kernel image.
const DefaultPhysBase = 0x00400000

// poisonByte fills freed frames when MemoryFileOpts.PoisonFreed is set, so
// that a caller relying on stale contents reads garbage.
const poisonByte = 0x01

// MemoryFileOpts provides options to NewMemoryFile.
type MemoryFileOpts struct {
	// Frames is the number of page frames to manage.
	Frames int

	// PhysBase is the physical address of the first frame. It must be page
	// aligned.
	PhysBase uintptr

	// PoisonFreed fills frames with junk when they are freed.
	PoisonFreed bool
}

// MemoryFile is a fixed pool of page frames, backed by one anonymous host
// mapping.
//
// Frames are identified by physical address. MemoryFile is safe for
// concurrent use.
type MemoryFile struct {
	opts MemoryFileOpts

	// arena is the host memory backing all frames. It is immutable after
	// construction, but its contents belong to whoever owns each frame.
	arena []byte

	// mu protects the fields below.
	mu sync.Mutex

	// free is a stack of free frame indices.
	free []int

	// used[i] is true if frame i is allocated.
	used []bool

	destroyed bool
}

// NewMemoryFile creates a MemoryFile with opts.Frames frames.
func NewMemoryFile(opts MemoryFileOpts) (*MemoryFile, error) {
	if opts.Frames <= 0 {
		return nil, fmt.Errorf("invalid frame count %d", opts.Frames)
	}
	if opts.PhysBase == 0 {
		opts.PhysBase = DefaultPhysBase
	}
	if opts.PhysBase%hostarch.PageSize != 0 {
		return nil, fmt.Errorf("physical base %#x is not page aligned", opts.PhysBase)
	}
	if uint64(opts.PhysBase)+uint64(opts.Frames)*hostarch.PageSize > 1<<32 {
		return nil, fmt.Errorf("%d frames at %#x exceed the 32-bit physical address space", opts.Frames, opts.PhysBase)
	}
	arena, err := unix.Mmap(-1, 0, opts.Frames*hostarch.PageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("failed to map frame arena: %w", err)
	}
	f := &MemoryFile{
		opts:  opts,
		arena: arena,
		free:  make([]int, opts.Frames),
		used:  make([]bool, opts.Frames),
	}
	// Hand out low frames first.
	for i := range f.free {
		f.free[i] = opts.Frames - 1 - i
	}
	log.Debugf("pgalloc: %d frames at [%#x, %#x)", opts.Frames, opts.PhysBase, opts.PhysBase+uintptr(opts.Frames)*hostarch.PageSize)
	return f, nil
}

// AllocateFrame allocates one frame and returns its physical address. The
// frame's contents are unspecified; callers zero it if needed.
func (f *MemoryFile) AllocateFrame() (uintptr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.destroyed {
		panic("AllocateFrame called on destroyed MemoryFile")
	}
	if len(f.free) == 0 {
		return 0, ErrOutOfFrames
	}
	idx := f.free[len(f.free)-1]
	f.free = f.free[:len(f.free)-1]
	f.used[idx] = true
	return f.opts.PhysBase + uintptr(idx)*hostarch.PageSize, nil
}

// FreeFrame returns the frame at pa to the pool.
//
// Preconditions: pa was returned by AllocateFrame and has not been freed.
func (f *MemoryFile) FreeFrame(pa uintptr) {
	idx := f.index(pa)
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.used[idx] {
		panic(fmt.Sprintf("freeing free frame %#x", pa))
	}
	if f.opts.PoisonFreed {
		frame := f.arena[idx*hostarch.PageSize : (idx+1)*hostarch.PageSize]
		for i := range frame {
			frame[i] = poisonByte
		}
	}
	f.used[idx] = false
	f.free = append(f.free, idx)
}

// Frame returns the host memory backing the allocated frame at pa. pa may
// point anywhere inside the frame; the returned slice always covers the
// whole frame.
func (f *MemoryFile) Frame(pa uintptr) []byte {
	idx := f.index(pa)
	return f.arena[idx*hostarch.PageSize : (idx+1)*hostarch.PageSize : (idx+1)*hostarch.PageSize]
}

// Zero fills the frame at pa with zeroes.
func (f *MemoryFile) Zero(pa uintptr) {
	clear(f.Frame(pa))
}

func (f *MemoryFile) index(pa uintptr) int {
	if pa < f.opts.PhysBase {
		panic(fmt.Sprintf("physical address %#x below frame base %#x", pa, f.opts.PhysBase))
	}
	idx := int((pa - f.opts.PhysBase) / hostarch.PageSize)
	if idx >= f.opts.Frames {
		panic(fmt.Sprintf("physical address %#x beyond last frame", pa))
	}
	return idx
}

// Usage returns the number of allocated frames and the total number of
// frames.
func (f *MemoryFile) Usage() (used, total int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opts.Frames - len(f.free), f.opts.Frames
}

// Destroy releases all resources used by f.
//
// Postconditions: None of f's methods may be called after Destroy.
func (f *MemoryFile) Destroy() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.destroyed {
		return
	}
	if used := f.opts.Frames - len(f.free); used != 0 {
		log.Warningf("pgalloc: destroying MemoryFile with %d frames still allocated", used)
	}
	f.destroyed = true
	if err := unix.Munmap(f.arena); err != nil {
		panic(fmt.Sprintf("failed to unmap frame arena: %v", err))
	}
	f.arena = nil
}
