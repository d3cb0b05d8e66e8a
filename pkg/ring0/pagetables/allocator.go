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

package pagetables

import (
	"fmt"

	"gvisor.dev/wmap/pkg/hostarch"
)

// Allocator is used to allocate and map PTEs.
//
// Allocators are only called with the owning PageTables lock held.
type Allocator interface {
	// NewPTEs returns a new set of zeroed PTEs.
	NewPTEs() *PTEs

	// PhysicalFor gives the physical address for a set of PTEs.
	PhysicalFor(ptes *PTEs) uintptr

	// LookupPTEs looks up PTEs by physical address.
	LookupPTEs(physical uintptr) *PTEs

	// FreePTEs marks a set of PTEs as freed.
	FreePTEs(ptes *PTEs)
}

// RuntimeAllocator is a trivial allocator that hands out Go-allocated tables
// at fake physical addresses below the frame pool.
type RuntimeAllocator struct {
	// next is the next unused physical address.
	next uintptr

	// limit is the exclusive end of the table region.
	limit uintptr

	// free holds physical addresses of released tables for reuse.
	free []uintptr

	// used maps physical addresses to live tables.
	used map[uintptr]*PTEs

	// physical maps live tables back to their addresses.
	physical map[*PTEs]uintptr
}

// Bounds of the physical region RuntimeAllocator draws table addresses
// from.
const (
	runtimeBase  = hostarch.PageSize
	runtimeLimit = 0x00400000
)

// NewRuntimeAllocator returns an allocator that uses runtime allocation.
func NewRuntimeAllocator() *RuntimeAllocator {
	return &RuntimeAllocator{
		next:     runtimeBase,
		limit:    runtimeLimit,
		used:     make(map[uintptr]*PTEs),
		physical: make(map[*PTEs]uintptr),
	}
}

// NewPTEs implements Allocator.NewPTEs.
func (r *RuntimeAllocator) NewPTEs() *PTEs {
	var phys uintptr
	if n := len(r.free); n > 0 {
		phys = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		if r.next >= r.limit {
			panic("pagetables: out of page table pages")
		}
		phys = r.next
		r.next += hostarch.PageSize
	}
	ptes := new(PTEs)
	r.used[phys] = ptes
	r.physical[ptes] = phys
	return ptes
}

// PhysicalFor returns the physical address for the given PTEs.
func (r *RuntimeAllocator) PhysicalFor(ptes *PTEs) uintptr {
	phys, ok := r.physical[ptes]
	if !ok {
		panic(fmt.Sprintf("unknown page table %p", ptes))
	}
	return phys
}

// LookupPTEs implements Allocator.LookupPTEs.
func (r *RuntimeAllocator) LookupPTEs(physical uintptr) *PTEs {
	ptes, ok := r.used[physical]
	if !ok {
		panic(fmt.Sprintf("no page table at %#x", physical))
	}
	return ptes
}

// FreePTEs implements Allocator.FreePTEs.
func (r *RuntimeAllocator) FreePTEs(ptes *PTEs) {
	phys := r.PhysicalFor(ptes)
	delete(r.used, phys)
	delete(r.physical, ptes)
	r.free = append(r.free, phys)
}

// Tables returns the number of live tables, including page directories.
func (r *RuntimeAllocator) Tables() int {
	return len(r.used)
}
