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
	"testing"

	"gvisor.dev/wmap/pkg/hostarch"
)

const pteSize = hostarch.PageSize

type mapping struct {
	start  uintptr
	length uintptr
	addr   uintptr
	opts   MapOpts
}

func checkMappings(t *testing.T, pt *PageTables, m []mapping) {
	t.Helper()
	var (
		current int
		found   []mapping
		failed  string
	)

	// Iterate over all the mappings.
	pt.Walk(func(va hostarch.Addr, physical uintptr, opts MapOpts) bool {
		s := uintptr(va)
		found = append(found, mapping{
			start:  s,
			length: pteSize,
			addr:   physical,
			opts:   opts,
		})
		if failed != "" {
			// Don't keep looking for errors.
			return true
		}

		if current >= len(m) {
			failed = "more mappings than expected"
		} else if m[current].start != s {
			failed = "start didn't match expected"
		} else if m[current].addr != physical {
			failed = "address didn't match expected"
		} else if m[current].opts != opts {
			failed = "opts didn't match"
		}
		current++
		return true
	})

	// Were we expected additional mappings?
	if failed == "" && current != len(m) {
		failed = "insufficient mappings found"
	}

	// Emit a meaningful error message on failure.
	if failed != "" {
		t.Errorf("%s; got %#v, wanted %#v", failed, found, m)
	}
}

var userRW = MapOpts{AccessType: hostarch.ReadWrite, User: true}

func TestUnmap(t *testing.T) {
	a := NewRuntimeAllocator()
	pt := New(a)

	// Map and unmap one entry.
	pt.Map(0x60000000, pteSize, userRW, pteSize*42)
	if !pt.Unmap(0x60000000, pteSize) {
		t.Errorf("Unmap of a mapped page got false")
	}

	checkMappings(t, pt, nil)
	if got := a.Tables(); got != 1 {
		t.Errorf("live tables after Unmap got %d want 1 (directory only)", got)
	}
}

func TestUnmapNeverMapped(t *testing.T) {
	pt := New(NewRuntimeAllocator())
	pt.Map(0x60000000, pteSize, userRW, pteSize*42)

	// Unmapping a range with holes only clears what is present.
	if !pt.Unmap(0x5ffff000, 3*pteSize) {
		t.Errorf("Unmap over a mapped page got false")
	}
	if pt.Unmap(0x70000000, 16*pteSize) {
		t.Errorf("Unmap over nothing got true")
	}
	checkMappings(t, pt, nil)
}

func TestReadOnly(t *testing.T) {
	pt := New(NewRuntimeAllocator())

	// Map one entry.
	pt.Map(0x400000, pteSize, MapOpts{AccessType: hostarch.Read}, pteSize*42)

	checkMappings(t, pt, []mapping{
		{0x400000, pteSize, pteSize * 42, MapOpts{AccessType: hostarch.Read}},
	})
}

func TestReadWrite(t *testing.T) {
	pt := New(NewRuntimeAllocator())

	// Map one entry.
	pt.Map(0x400000, pteSize, userRW, pteSize*42)

	checkMappings(t, pt, []mapping{
		{0x400000, pteSize, pteSize * 42, userRW},
	})
}

func TestSerialEntries(t *testing.T) {
	pt := New(NewRuntimeAllocator())

	// Map two sequential entries.
	pt.Map(0x60000000, pteSize, userRW, pteSize*42)
	pt.Map(0x60001000, pteSize, userRW, pteSize*47)

	checkMappings(t, pt, []mapping{
		{0x60000000, pteSize, pteSize * 42, userRW},
		{0x60001000, pteSize, pteSize * 47, userRW},
	})
}

func TestSpanningEntries(t *testing.T) {
	a := NewRuntimeAllocator()
	pt := New(a)

	// Span a directory entry with two pages.
	pt.Map(0x603ff000, 2*pteSize, userRW, pteSize*42)

	checkMappings(t, pt, []mapping{
		{0x603ff000, pteSize, pteSize * 42, userRW},
		{0x60400000, pteSize, pteSize * 43, userRW},
	})
	if got := a.Tables(); got != 3 {
		t.Errorf("live tables got %d want 3", got)
	}
}

func TestSparseEntries(t *testing.T) {
	pt := New(NewRuntimeAllocator())

	// Map two entries in different directory entries.
	pt.Map(0x60000000, pteSize, userRW, pteSize*42)
	pt.Map(0x7ffff000, pteSize, userRW, pteSize*47)

	checkMappings(t, pt, []mapping{
		{0x60000000, pteSize, pteSize * 42, userRW},
		{0x7ffff000, pteSize, pteSize * 47, userRW},
	})
}

func TestRemap(t *testing.T) {
	pt := New(NewRuntimeAllocator())
	if pt.Map(0x60000000, pteSize, userRW, pteSize*42) {
		t.Errorf("first Map reported a previous mapping")
	}
	if pt.Map(0x60000000, pteSize, userRW, pteSize*42) {
		t.Errorf("identical Map reported a changed mapping")
	}
	if !pt.Map(0x60000000, pteSize, userRW, pteSize*43) {
		t.Errorf("Map to a different frame did not report a previous mapping")
	}
	checkMappings(t, pt, []mapping{
		{0x60000000, pteSize, pteSize * 43, userRW},
	})
}

func TestLookup(t *testing.T) {
	pt := New(NewRuntimeAllocator())
	pt.Map(0x60001000, pteSize, userRW, pteSize*42)

	phys, opts := pt.Lookup(0x60001abc)
	if want := uintptr(pteSize*42 + 0xabc); phys != want {
		t.Errorf("Lookup physical got %#x want %#x", phys, want)
	}
	if opts != userRW {
		t.Errorf("Lookup opts got %+v want %+v", opts, userRW)
	}
	if _, opts := pt.Lookup(0x60002000); opts.AccessType.Any() {
		t.Errorf("Lookup of unmapped page got %+v", opts)
	}
	if _, opts := pt.Lookup(0x10000000); opts.AccessType.Any() {
		t.Errorf("Lookup without a page table got %+v", opts)
	}
}

func TestWalkStops(t *testing.T) {
	pt := New(NewRuntimeAllocator())
	pt.Map(0x60000000, 4*pteSize, userRW, pteSize*42)
	n := 0
	pt.Walk(func(hostarch.Addr, uintptr, MapOpts) bool {
		n++
		return n < 2
	})
	if n != 2 {
		t.Errorf("Walk visited %d entries after stopping, want 2", n)
	}
}

func TestRelease(t *testing.T) {
	a := NewRuntimeAllocator()
	pt := New(a)
	pt.Map(0x60000000, pteSize, userRW, pteSize*42)
	pt.Map(0x70000000, pteSize, userRW, pteSize*43)
	pt.Release()
	if got := a.Tables(); got != 0 {
		t.Errorf("live tables after Release got %d want 0", got)
	}
}
