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

// Package pagetables implements two-level x86 (non-PAE) page tables for the
// emulated user address space.
package pagetables

import (
	"sync"

	"gvisor.dev/wmap/pkg/hostarch"
)

// PageTables is a set of page tables.
type PageTables struct {
	mu sync.Mutex

	// Allocator is used to allocate nodes.
	Allocator Allocator

	// root is the page directory.
	root *PTEs

	// rootPhysical is the physical address of root.
	rootPhysical uintptr

	// present counts valid leaf entries per directory index. A page table
	// is freed when its count drops to zero.
	present [entriesPerTable]int
}

// New returns new PageTables.
func New(a Allocator) *PageTables {
	p := &PageTables{Allocator: a}
	p.root = a.NewPTEs()
	p.rootPhysical = a.PhysicalFor(p.root)
	return p
}

// MapOpts are x86 options.
type MapOpts struct {
	// AccessType defines permissions.
	AccessType hostarch.AccessType

	// User indicates the page is a user page.
	User bool
}

// CR3 returns the physical address of the page directory.
func (p *PageTables) CR3() uintptr {
	return p.rootPhysical
}

// Map installs a mapping with the given physical address.
//
// True is returned iff there was a previous mapping in the range.
//
// Precondition: addr & length must be page aligned, their sum must not
// overflow.
func (p *PageTables) Map(addr hostarch.Addr, length uintptr, opts MapOpts, physical uintptr) bool {
	if !opts.AccessType.Any() {
		return p.Unmap(addr, length)
	}
	end, ok := addr.AddLength(uint32(length))
	if !ok && end != 0 {
		panic("pagetables.Map: overflow")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := false
	p.iterateRange(uintptr(addr), uintptr(addr)+length, true, func(s uintptr, pte *PTE) {
		phys := physical + (s - uintptr(addr))
		prev = prev || (pte.Valid() && (phys != pte.Address() || opts != pte.Opts()))
		if !pte.Valid() {
			p.present[hostarch.Addr(s).DirIndex()]++
		}
		pte.Set(phys, opts)
	})
	return prev
}

// Unmap unmaps the given range. Pages in the range that are not mapped are
// ignored.
//
// True is returned iff there was a previous mapping in the range.
func (p *PageTables) Unmap(addr hostarch.Addr, length uintptr) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unmapLocked(uintptr(addr), uintptr(addr)+length)
}

func (p *PageTables) unmapLocked(start, end uintptr) bool {
	count := 0
	p.iterateRange(start, end, false, func(s uintptr, pte *PTE) {
		pte.Clear()
		count++
		dir := hostarch.Addr(s).DirIndex()
		p.present[dir]--
		if p.present[dir] == 0 {
			p.clearPageTable(dir)
		}
	})
	return count > 0
}

// Lookup returns the physical address for the given virtual address.
//
// If the address is not mapped, the returned access type has no access.
func (p *PageTables) Lookup(addr hostarch.Addr) (physical uintptr, opts MapOpts) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pte := p.leafLocked(addr)
	if pte == nil || !pte.Valid() {
		return 0, MapOpts{}
	}
	return pte.Address() + uintptr(addr.PageOffset()), pte.Opts()
}

// Walk calls fn for every valid leaf entry in ascending virtual address
// order, until fn returns false.
func (p *PageTables) Walk(fn func(va hostarch.Addr, physical uintptr, opts MapOpts) bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	stop := false
	p.iterateRange(0, maxAddr, false, func(s uintptr, pte *PTE) {
		if stop {
			return
		}
		stop = !fn(hostarch.Addr(s), pte.Address(), pte.Opts())
	})
}

// Release releases this address space, freeing every page table. It does not
// free the frames the tables point to.
func (p *PageTables) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unmapLocked(0, maxAddr)
	p.Allocator.FreePTEs(p.root)
	p.root = nil
}

// leafLocked returns the leaf entry for addr, or nil if addr has no page
// table.
func (p *PageTables) leafLocked(addr hostarch.Addr) *PTE {
	pde := &p.root[addr.DirIndex()]
	if !pde.Valid() {
		return nil
	}
	table := p.Allocator.LookupPTEs(pde.Address())
	return &table[addr.TableIndex()]
}

// clearPageTable clears the given directory entry and frees its table.
func (p *PageTables) clearPageTable(dir int) {
	pde := &p.root[dir]
	table := p.Allocator.LookupPTEs(pde.Address())
	pde.Clear()
	p.Allocator.FreePTEs(table)
}
