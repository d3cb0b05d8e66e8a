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
	"context"
	"io"

	"gvisor.dev/wmap/pkg/cleanup"
	"gvisor.dev/wmap/pkg/errors/linuxerr"
	"gvisor.dev/wmap/pkg/hostarch"
	"gvisor.dev/wmap/pkg/log"
	"gvisor.dev/wmap/pkg/ring0/pagetables"
	"gvisor.dev/wmap/pkg/sentry/memmap"
)

// userRW is the protection of every materialized page.
var userRW = pagetables.MapOpts{AccessType: hostarch.ReadWrite, User: true}

// HandleUserFault handles an application page fault at addr. On success the
// page containing addr is present. A page that is already present is left
// alone.
//
// An error is returned if no mapping contains addr (EFAULT), if no frame is
// available, or if the backing file cannot be read. The caller is expected
// to kill the faulting task on error.
func (mm *MemoryManager) HandleUserFault(ctx context.Context, addr hostarch.Addr, at hostarch.AccessType) error {
	mm.mappingMu.Lock()
	defer mm.mappingMu.Unlock()
	return mm.handleFaultLocked(ctx, addr)
}

// handleFaultLocked materializes the page containing addr.
//
// Preconditions: mm.mappingMu must be locked for writing.
func (mm *MemoryManager) handleFaultLocked(ctx context.Context, addr hostarch.Addr) error {
	i := mm.vmas.findContaining(addr)
	if i < 0 {
		return linuxerr.EFAULT
	}
	v := &mm.vmas.vmas[i]
	page := addr.RoundDown()
	if _, opts := mm.pt.Lookup(page); opts.AccessType.Any() {
		return nil
	}

	pa, err := mm.mf.AllocateFrame()
	if err != nil {
		return err
	}
	mm.mf.Zero(pa)
	if !v.anonymous() {
		// A short read leaves the rest of the page zeroed.
		if _, err := v.file.ReadAt(ctx, mm.mf.Frame(pa), int64(page-v.start)); err != nil && err != io.EOF {
			mm.mf.FreeFrame(pa)
			log.Warningf("Fault at %v: reading backing file at offset %#x: %v", addr, uint32(page-v.start), err)
			return linuxerr.EIO
		}
	}
	mm.pt.Map(page, hostarch.PageSize, userRW, pa)
	v.loaded++
	faultMetric.Increment()
	return nil
}

// MMap establishes a mapping. No memory is allocated; pages are materialized
// by HandleUserFault on first access.
func (mm *MemoryManager) MMap(ctx context.Context, opts memmap.MMapOpts) (hostarch.Addr, error) {
	if opts.Length == 0 {
		return 0, linuxerr.EINVAL
	}
	if opts.Shared && opts.Private {
		return 0, linuxerr.EINVAL
	}
	length, ok := hostarch.PageRoundUp(opts.Length)
	if !ok {
		return 0, linuxerr.ENOMEM
	}

	mm.mappingMu.Lock()
	defer mm.mappingMu.Unlock()
	if mm.vmas.full() {
		return 0, ErrTableFull
	}
	addr, err := mm.findAvailableLocked(length, findAvailableOpts{
		Addr:  opts.Addr,
		Fixed: opts.Fixed,
		Skip:  -1,
	})
	if err != nil {
		return 0, err
	}

	if opts.File != nil {
		opts.File.IncRef()
	}
	cu := cleanup.Make(func() {
		if opts.File != nil {
			opts.File.DecRef(ctx)
		}
	})
	defer cu.Clean()
	if err := mm.vmas.insert(vma{
		start:   addr,
		length:  opts.Length,
		shared:  opts.Shared,
		private: opts.Private,
		file:    opts.File,
	}); err != nil {
		return 0, err
	}
	cu.Release()
	mmapMetric.Increment()
	log.Debugf("MMap(%s) = %v", &opts, addr)
	return addr, nil
}

// MUnmap removes the mapping starting exactly at addr. Materialized pages of
// a shared file mapping are written back first.
func (mm *MemoryManager) MUnmap(ctx context.Context, addr hostarch.Addr) error {
	mm.mappingMu.Lock()
	defer mm.mappingMu.Unlock()
	i := mm.vmas.findExact(addr)
	if i < 0 {
		return ErrNoMapping
	}
	mm.removeVMALocked(ctx, i)
	munmapMetric.Increment()
	return nil
}

// removeVMALocked writes back, unmaps and removes the vma at index i.
//
// Preconditions: mm.mappingMu must be locked for writing.
func (mm *MemoryManager) removeVMALocked(ctx context.Context, i int) {
	v := &mm.vmas.vmas[i]
	mm.writebackLocked(ctx, v, v.span())
	mm.unmapPagesLocked(v.span())
	removed := mm.vmas.removeAt(i)
	if removed.file != nil {
		removed.file.DecRef(ctx)
	}
}

// writebackLocked writes the materialized pages of v in ar to v's file, if v
// is a shared file mapping. Bytes past v.length are not written. Errors are
// logged and the remaining pages are still written.
//
// Preconditions: mm.mappingMu must be locked. ar is a page-aligned subset of
// v.span().
func (mm *MemoryManager) writebackLocked(ctx context.Context, v *vma, ar hostarch.AddrRange) {
	if !v.shared || v.anonymous() {
		return
	}
	recordEnd := v.start + hostarch.Addr(v.length)
	for page := ar.Start; page < ar.End; page += hostarch.PageSize {
		pa, opts := mm.pt.Lookup(page)
		if !opts.AccessType.Any() {
			continue
		}
		n := uint32(hostarch.PageSize)
		if page+hostarch.PageSize > recordEnd {
			n = uint32(recordEnd - page)
		}
		written, err := v.file.WriteAt(ctx, mm.mf.Frame(pa)[:n], int64(page-v.start))
		writebackMetric.IncrementBy(uint64(written))
		if err != nil {
			log.Warningf("Writeback of %v at offset %#x failed: %v", page, uint32(page-v.start), err)
		}
	}
}

// unmapPagesLocked removes the translations of every materialized page in ar
// and frees their frames. It returns the number of pages freed.
//
// Preconditions: mm.mappingMu must be locked for writing. ar is page aligned.
func (mm *MemoryManager) unmapPagesLocked(ar hostarch.AddrRange) uint32 {
	var freed uint32
	for page := ar.Start; page < ar.End; page += hostarch.PageSize {
		pa, opts := mm.pt.Lookup(page)
		if !opts.AccessType.Any() {
			continue
		}
		mm.pt.Unmap(page, hostarch.PageSize)
		mm.mf.FreeFrame(pa)
		freed++
	}
	return freed
}

// MRemapMoveMode controls MRemap's moving behavior.
type MRemapMoveMode int

const (
	// MRemapNoMove prevents MRemap from moving the remapped mapping.
	MRemapNoMove MRemapMoveMode = iota

	// MRemapMayMove allows MRemap to move the remapped mapping.
	MRemapMayMove
)

// MRemapOpts specifies options to MRemap.
type MRemapOpts struct {
	// Move controls whether MRemap moves the remapped mapping to a new
	// address.
	Move MRemapMoveMode
}

// MRemap resizes the mapping starting exactly at oldAddr to newSize bytes,
// in place if the grown span is free and otherwise, with MRemapMayMove, at
// the lowest free range of the window. Materialized pages keep their
// contents when the mapping moves.
//
// oldSize is accepted for interface compatibility and ignored: the mapping's
// own length is authoritative.
func (mm *MemoryManager) MRemap(ctx context.Context, oldAddr hostarch.Addr, oldSize uint32, newSize uint32, opts MRemapOpts) (hostarch.Addr, error) {
	if opts.Move != MRemapNoMove && opts.Move != MRemapMayMove {
		return 0, linuxerr.EINVAL
	}
	if newSize == 0 {
		return 0, linuxerr.EINVAL
	}
	newLen, ok := hostarch.PageRoundUp(newSize)
	if !ok {
		return 0, linuxerr.EINVAL
	}

	mm.mappingMu.Lock()
	defer mm.mappingMu.Unlock()

	i := mm.vmas.findExact(oldAddr)
	if i < 0 {
		return 0, ErrNoMapping
	}

	// Resize in place if the new span stays in the window and overlaps
	// nothing else.
	if ar, ok := oldAddr.ToRange(newLen); ok && ar.End <= mm.layout.MaxAddr && mm.vmas.firstOverlap(ar, i) < 0 {
		mm.truncateLocked(ctx, i, newLen)
		mm.vmas.vmas[i].length = newSize
		mremapMetric.Increment("in_place")
		return oldAddr, nil
	}
	if opts.Move == MRemapNoMove {
		return 0, ErrRangeInUse
	}

	newAddr, err := mm.findAvailableLocked(newLen, findAvailableOpts{Skip: i})
	if err != nil {
		return 0, err
	}
	mm.truncateLocked(ctx, i, newLen)
	mm.movePagesLocked(i, newAddr)
	v := &mm.vmas.vmas[i]
	v.start = newAddr
	v.length = newSize
	mremapMetric.Increment("moved")
	return newAddr, nil
}

// truncateLocked releases the pages of vma i past newLen, writing them back
// first if the vma is a shared file mapping. It does nothing if newLen does
// not shrink the span.
//
// Preconditions: mm.mappingMu must be locked for writing. newLen is page
// aligned.
func (mm *MemoryManager) truncateLocked(ctx context.Context, i int, newLen uint32) {
	v := &mm.vmas.vmas[i]
	span := v.span()
	tail := hostarch.AddrRange{Start: v.start + hostarch.Addr(newLen), End: span.End}
	if tail.Start >= tail.End {
		return
	}
	mm.writebackLocked(ctx, v, tail)
	v.loaded -= mm.unmapPagesLocked(tail)
}

// movePagesLocked moves every materialized page of vma i to the same offset
// from newAddr. The old and new spans may overlap, so all old translations
// are removed before any new one is installed.
//
// Preconditions: mm.mappingMu must be locked for writing.
func (mm *MemoryManager) movePagesLocked(i int, newAddr hostarch.Addr) {
	v := &mm.vmas.vmas[i]
	type movedPage struct {
		off uint32
		pa  uintptr
	}
	var moved []movedPage
	span := v.span()
	for page := span.Start; page < span.End; page += hostarch.PageSize {
		if pa, opts := mm.pt.Lookup(page); opts.AccessType.Any() {
			moved = append(moved, movedPage{off: uint32(page - span.Start), pa: pa})
		}
	}
	mm.pt.Unmap(span.Start, uintptr(span.Length()))
	for _, p := range moved {
		mm.pt.Map(newAddr+hostarch.Addr(p.off), hostarch.PageSize, userRW, p.pa)
	}
}

// IncUsers increments mm's user count and returns true. If the user count is
// already 0, IncUsers does nothing and returns false.
func (mm *MemoryManager) IncUsers() bool {
	for {
		users := mm.users.Load()
		if users == 0 {
			return false
		}
		if mm.users.CompareAndSwap(users, users+1) {
			return true
		}
	}
}

// DecUsers decrements mm's user count. If the user count reaches 0, all
// mappings in mm are released: shared file mappings are written back, every
// frame is freed and every file reference is dropped.
func (mm *MemoryManager) DecUsers(ctx context.Context) {
	if users := mm.users.Add(-1); users > 0 {
		return
	} else if users < 0 {
		panic("MemoryManager.DecUsers() called without holding a reference")
	}

	mm.mappingMu.Lock()
	defer mm.mappingMu.Unlock()
	for mm.vmas.len() > 0 {
		mm.removeVMALocked(ctx, 0)
	}
	mm.pt.Release()
}
