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
	"gvisor.dev/wmap/pkg/hostarch"
)

// iterateRange iterates over all leaf entries in [start, end).
//
// If alloc is set, missing page tables are allocated and fn is called for
// every page in the range. Otherwise fn is called only for valid entries,
// and directory entries without a page table are skipped entirely.
//
// Precondition: start and end must be page aligned; p.mu must be held.
func (p *PageTables) iterateRange(start, end uintptr, alloc bool, fn func(s uintptr, pte *PTE)) {
	for start < end {
		addr := hostarch.Addr(start)
		dir := addr.DirIndex()
		dirEnd := (uintptr(dir) + 1) << hostarch.PTEShift
		if dirEnd > end {
			dirEnd = end
		}
		pde := &p.root[dir]
		if !pde.Valid() {
			if !alloc {
				start = dirEnd
				continue
			}
			table := p.Allocator.NewPTEs()
			pde.setPageTable(p.Allocator.PhysicalFor(table))
		}
		table := p.Allocator.LookupPTEs(pde.Address())
		for s := start; s < dirEnd; s += hostarch.PageSize {
			pte := &table[hostarch.Addr(s).TableIndex()]
			if !alloc && !pte.Valid() {
				continue
			}
			fn(s, pte)
			if !pde.Valid() {
				// fn released the table.
				break
			}
		}
		start = dirEnd
	}
}
