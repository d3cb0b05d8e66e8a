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

package linux

// Flags for wmap(2).
const (
	MAP_PRIVATE   = 1
	MAP_SHARED    = 2
	MAP_ANONYMOUS = 4
	MAP_FIXED     = 8

	// MAP_ALL is the union of every valid wmap flag.
	MAP_ALL = MAP_PRIVATE | MAP_SHARED | MAP_ANONYMOUS | MAP_FIXED
)

// Flags for wremap(2).
const (
	MREMAP_MAYMOVE = 1
)

// Return values of the mapping system calls.
const (
	FAILED  = -1
	SUCCESS = 0
)

// Limits of the diagnostic structs.
const (
	// MAX_WMMAP_INFO is the number of mappings a wmapinfo can describe,
	// and the default per-process mapping capacity.
	MAX_WMMAP_INFO = 16

	// MAX_UPAGE_INFO is the number of user pages a pgdirinfo can describe.
	MAX_UPAGE_INFO = 32
)

// Bounds of the wmap placement window.
const (
	// WMAP_BASE is the lowest address that wmap will place a mapping at.
	WMAP_BASE = 0x60000000

	// KERNBASE is the first address above the user window.
	KERNBASE = 0x80000000
)

// WmapFlags is the decoded form of a wmap flags argument.
type WmapFlags struct {
	Fixed     bool
	Anonymous bool
	Shared    bool
	Private   bool
}

// ParseWmapFlags decodes the flags argument of wmap. It returns false if
// flags has bits outside MAP_ALL or requests both MAP_SHARED and
// MAP_PRIVATE.
func ParseWmapFlags(flags int32) (WmapFlags, bool) {
	if flags < 0 || flags&^MAP_ALL != 0 {
		return WmapFlags{}, false
	}
	f := WmapFlags{
		Fixed:     flags&MAP_FIXED != 0,
		Anonymous: flags&MAP_ANONYMOUS != 0,
		Shared:    flags&MAP_SHARED != 0,
		Private:   flags&MAP_PRIVATE != 0,
	}
	if f.Shared && f.Private {
		return WmapFlags{}, false
	}
	return f, true
}

// Bits re-encodes f as a wmap flags argument.
func (f WmapFlags) Bits() int32 {
	var v int32
	if f.Fixed {
		v |= MAP_FIXED
	}
	if f.Anonymous {
		v |= MAP_ANONYMOUS
	}
	if f.Shared {
		v |= MAP_SHARED
	}
	if f.Private {
		v |= MAP_PRIVATE
	}
	return v
}

// WmapInfo is the struct wmapinfo filled in by getwmapinfo(2).
//
// +marshal
type WmapInfo struct {
	// TotalMmaps is the number of live mappings.
	TotalMmaps int32
	// Addr holds the start address of each mapping.
	Addr [MAX_WMMAP_INFO]int32
	// Length holds the requested length of each mapping.
	Length [MAX_WMMAP_INFO]int32
	// NLoadedPages holds the number of materialized pages of each mapping.
	NLoadedPages [MAX_WMMAP_INFO]int32
}

// PgdirInfo is the struct pgdirinfo filled in by getpgdirinfo(2).
//
// +marshal
type PgdirInfo struct {
	// NUpages is the number of entries of VA and PA in use.
	NUpages uint32
	// VA holds the virtual address of each present user page.
	VA [MAX_UPAGE_INFO]uint32
	// PA holds the physical address each VA translates to.
	PA [MAX_UPAGE_INFO]uint32
}
