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

// Package mm implements a process's user address space: the table of
// mappings created by wmap, the demand-paging fault path that materializes
// them, and the operations that resize, move and release them.
//
// Lock order:
//
//	mm.mappingMu
//		pagetables.PageTables.mu
//		pgalloc.MemoryFile.mu
//		backing file locks
package mm

import (
	"fmt"
	"sync"
	"sync/atomic"

	"gvisor.dev/wmap/pkg/abi/linux"
	"gvisor.dev/wmap/pkg/abi/linux/errno"
	"gvisor.dev/wmap/pkg/errors"
	"gvisor.dev/wmap/pkg/hostarch"
	"gvisor.dev/wmap/pkg/metric"
	"gvisor.dev/wmap/pkg/ring0/pagetables"
	"gvisor.dev/wmap/pkg/sentry/pgalloc"
)

var (
	// ErrTableFull is returned by MMap when the mapping table is at
	// capacity.
	ErrTableFull = errors.New(errno.ENOMEM, "mapping table is full")

	// ErrRangeInUse is returned when a fixed placement, or an in-place
	// resize, would overlap another mapping.
	ErrRangeInUse = errors.New(errno.EEXIST, "range overlaps an existing mapping")

	// ErrNoSpace is returned when no free range in the mapping window can
	// hold the request.
	ErrNoSpace = errors.New(errno.ENOMEM, "no free range in the mapping window")

	// ErrNoMapping is returned when no mapping starts at the given address.
	ErrNoMapping = errors.New(errno.EINVAL, "no mapping starts at address")
)

var (
	mmapMetric      = metric.MustCreateNewUint64Metric("/mm/wmap", "Number of mappings created.")
	munmapMetric    = metric.MustCreateNewUint64Metric("/mm/wunmap", "Number of mappings released.")
	mremapMetric    = metric.MustCreateNewUint64Metric("/mm/wremap", "Number of mappings resized.", metric.NewField("how", []string{"in_place", "moved"}))
	faultMetric     = metric.MustCreateNewUint64Metric("/mm/faults", "Number of pages materialized by the fault path.")
	writebackMetric = metric.MustCreateNewUint64Metric("/mm/writeback_bytes", "Bytes written back to files from shared mappings.")
)

// Layout is the range of addresses mappings may occupy.
type Layout struct {
	// MinAddr is the lowest address a mapping may start at.
	MinAddr hostarch.Addr

	// MaxAddr is the exclusive upper bound of every mapping's span.
	MaxAddr hostarch.Addr
}

// DefaultLayout returns the wmap window [WMAP_BASE, KERNBASE).
func DefaultLayout() Layout {
	return Layout{MinAddr: linux.WMAP_BASE, MaxAddr: linux.KERNBASE}
}

// Placement selects the algorithm used to find a free range for non-fixed
// mappings. Both algorithms return the same address.
type Placement int

const (
	// PlacementScan tries each page-aligned candidate from the bottom of
	// the window, rescanning the whole table for each one.
	PlacementScan Placement = iota

	// PlacementSorted walks the mappings in address order, in a B-tree,
	// and returns the first gap that fits.
	PlacementSorted
)

// String implements fmt.Stringer.String.
func (p Placement) String() string {
	switch p {
	case PlacementScan:
		return "scan"
	case PlacementSorted:
		return "sorted"
	default:
		return fmt.Sprintf("Placement(%d)", int(p))
	}
}

// ParsePlacement is the inverse of Placement.String.
func ParsePlacement(s string) (Placement, error) {
	switch s {
	case "scan":
		return PlacementScan, nil
	case "sorted":
		return PlacementSorted, nil
	default:
		return 0, fmt.Errorf("invalid placement %q, must be one of: scan, sorted", s)
	}
}

// Options configures a MemoryManager.
type Options struct {
	// MaxMappings is the capacity of the mapping table. Zero means
	// linux.MAX_WMMAP_INFO.
	MaxMappings int

	// Placement is the free-range search algorithm.
	Placement Placement

	// Layout is the mapping window. The zero value means DefaultLayout().
	Layout Layout
}

// MemoryManager implements a virtual address space.
type MemoryManager struct {
	// mf allocates frames for materialized pages. mf is immutable.
	mf *pgalloc.MemoryFile

	// pt holds the translations of materialized pages. pt is immutable;
	// mutations happen with mappingMu locked.
	pt *pagetables.PageTables

	// layout is the mapping window. layout is immutable.
	layout Layout

	// placement is immutable.
	placement Placement

	// users is the number of references to the address space. When it
	// drops to zero every mapping is torn down.
	users atomic.Int32

	// mappingMu protects vmas, materialization counts and page table
	// contents.
	mappingMu sync.RWMutex

	// vmas is the mapping table.
	//
	// vmas is protected by mappingMu.
	vmas vmaTable
}

// NewMemoryManager returns a MemoryManager with no mappings and one user.
func NewMemoryManager(mf *pgalloc.MemoryFile, opts Options) *MemoryManager {
	if opts.MaxMappings <= 0 {
		opts.MaxMappings = linux.MAX_WMMAP_INFO
	}
	if opts.Layout == (Layout{}) {
		opts.Layout = DefaultLayout()
	}
	mm := &MemoryManager{
		mf:        mf,
		pt:        pagetables.New(pagetables.NewRuntimeAllocator()),
		layout:    opts.Layout,
		placement: opts.Placement,
		vmas:      newVMATable(opts.MaxMappings),
	}
	mm.users.Store(1)
	return mm
}

// Layout returns the mapping window.
func (mm *MemoryManager) Layout() Layout {
	return mm.layout
}

// NumMappings returns the number of live mappings.
func (mm *MemoryManager) NumMappings() int {
	mm.mappingMu.RLock()
	defer mm.mappingMu.RUnlock()
	return mm.vmas.len()
}

// TableFull returns true if the mapping table is at capacity, so that MMap
// would fail with ErrTableFull.
func (mm *MemoryManager) TableFull() bool {
	mm.mappingMu.RLock()
	defer mm.mappingMu.RUnlock()
	return mm.vmas.full()
}
