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

package mm

import (
	"gvisor.dev/wmap/pkg/hostarch"
	"gvisor.dev/wmap/pkg/sentry/memmap"
)

// vma is one mapping record.
type vma struct {
	// start is page aligned.
	start hostarch.Addr

	// length is the length requested by the user, in bytes. The mapping
	// reserves length rounded up to a whole number of pages.
	length uint32

	// loaded is the number of pages currently materialized.
	loaded uint32

	shared  bool
	private bool

	// file is the backing file, or nil if the mapping is anonymous. The
	// vma holds a reference on file.
	file memmap.File
}

// span returns the page-rounded range reserved by v.
func (v *vma) span() hostarch.AddrRange {
	return hostarch.AddrRange{
		Start: v.start,
		End:   v.start + hostarch.Addr(hostarch.PageRoundDown(v.length+hostarch.PageSize-1)),
	}
}

// anonymous returns true if v has no backing file.
func (v *vma) anonymous() bool {
	return v.file == nil
}

// vmaTable is a bounded, insertion-ordered collection of vmas.
//
// Lookups scan from the first record and return the first match, so results
// follow insertion order even when several records could match.
type vmaTable struct {
	vmas []vma
	max  int
}

func newVMATable(max int) vmaTable {
	return vmaTable{
		vmas: make([]vma, 0, max),
		max:  max,
	}
}

func (t *vmaTable) len() int {
	return len(t.vmas)
}

func (t *vmaTable) full() bool {
	return len(t.vmas) >= t.max
}

// insert appends v. It fails without side effects when the table is full.
func (t *vmaTable) insert(v vma) error {
	if t.full() {
		return ErrTableFull
	}
	t.vmas = append(t.vmas, v)
	return nil
}

// findExact returns the index of the first vma starting at addr, or -1.
func (t *vmaTable) findExact(addr hostarch.Addr) int {
	for i := range t.vmas {
		if t.vmas[i].start == addr {
			return i
		}
	}
	return -1
}

// findContaining returns the index of the first vma whose span contains
// addr, or -1.
func (t *vmaTable) findContaining(addr hostarch.Addr) int {
	for i := range t.vmas {
		if t.vmas[i].span().Contains(addr) {
			return i
		}
	}
	return -1
}

// firstOverlap returns the index of the first vma other than skip whose span
// overlaps ar, or -1.
func (t *vmaTable) firstOverlap(ar hostarch.AddrRange, skip int) int {
	for i := range t.vmas {
		if i == skip {
			continue
		}
		if t.vmas[i].span().Overlaps(ar) {
			return i
		}
	}
	return -1
}

// removeAt removes and returns the vma at index i, keeping the relative order
// of the others.
func (t *vmaTable) removeAt(i int) vma {
	v := t.vmas[i]
	copy(t.vmas[i:], t.vmas[i+1:])
	t.vmas[len(t.vmas)-1] = vma{}
	t.vmas = t.vmas[:len(t.vmas)-1]
	return v
}
