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
	"github.com/google/btree"
	"gvisor.dev/wmap/pkg/errors/linuxerr"
	"gvisor.dev/wmap/pkg/hostarch"
)

// findAvailableOpts are options to findAvailableLocked.
type findAvailableOpts struct {
	// If Fixed is true, the mapping must be placed exactly at Addr.
	// Otherwise Addr is ignored.
	Addr  hostarch.Addr
	Fixed bool

	// Skip is the index of a vma to ignore when checking for overlap, or
	// -1. MRemap uses it to let a moving vma overlap its own old span.
	Skip int
}

// findAvailableLocked finds an allocatable range of the given page-aligned
// length.
//
// Preconditions: mm.mappingMu must be locked.
func (mm *MemoryManager) findAvailableLocked(length uint32, opts findAvailableOpts) (hostarch.Addr, error) {
	if opts.Fixed {
		if !opts.Addr.IsPageAligned() {
			return 0, linuxerr.EINVAL
		}
		ar, ok := opts.Addr.ToRange(length)
		if !ok || ar.Start < mm.layout.MinAddr || ar.End > mm.layout.MaxAddr {
			return 0, linuxerr.EINVAL
		}
		if mm.vmas.firstOverlap(ar, opts.Skip) >= 0 {
			return 0, ErrRangeInUse
		}
		return ar.Start, nil
	}
	if mm.placement == PlacementSorted {
		return mm.findSortedLocked(length, opts.Skip)
	}
	return mm.findScanLocked(length, opts.Skip)
}

// findScanLocked tries each page from the bottom of the window in turn,
// checking the candidate against every vma from the first one.
//
// Preconditions: mm.mappingMu must be locked.
func (mm *MemoryManager) findScanLocked(length uint32, skip int) (hostarch.Addr, error) {
	for addr := mm.layout.MinAddr; ; addr += hostarch.PageSize {
		ar, ok := addr.ToRange(length)
		if !ok || ar.End > mm.layout.MaxAddr {
			return 0, ErrNoSpace
		}
		if mm.vmas.firstOverlap(ar, skip) < 0 {
			return addr, nil
		}
	}
}

// findSortedLocked returns the lowest gap that fits length, visiting vmas in
// address order. It returns the same address as findScanLocked.
//
// Preconditions: mm.mappingMu must be locked.
func (mm *MemoryManager) findSortedLocked(length uint32, skip int) (hostarch.Addr, error) {
	spans := btree.NewG(2, func(a, b hostarch.AddrRange) bool {
		return a.Start < b.Start
	})
	for i := range mm.vmas.vmas {
		if i != skip {
			spans.ReplaceOrInsert(mm.vmas.vmas[i].span())
		}
	}
	addr := mm.layout.MinAddr
	found := false
	spans.Ascend(func(span hostarch.AddrRange) bool {
		if ar, ok := addr.ToRange(length); ok && ar.End <= span.Start {
			found = true
			return false
		}
		if span.End > addr {
			addr = span.End
		}
		return true
	})
	if found {
		return addr, nil
	}
	ar, ok := addr.ToRange(length)
	if !ok || ar.End > mm.layout.MaxAddr {
		return 0, ErrNoSpace
	}
	return addr, nil
}
