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
	"math/rand"
	"testing"

	"gvisor.dev/wmap/pkg/abi/linux"
	"gvisor.dev/wmap/pkg/hostarch"
	"gvisor.dev/wmap/pkg/sentry/memmap"
)

func TestParsePlacement(t *testing.T) {
	for _, p := range []Placement{PlacementScan, PlacementSorted} {
		got, err := ParsePlacement(p.String())
		if err != nil || got != p {
			t.Errorf("ParsePlacement(%q) got (%v, %v) want (%v, nil)", p.String(), got, err, p)
		}
	}
	if _, err := ParsePlacement("first-fit"); err == nil {
		t.Errorf("ParsePlacement(\"first-fit\") got nil error")
	}
}

// TestSortedMatchesScan checks that both placers pick the same address for
// random tables, including with a skipped entry.
func TestSortedMatchesScan(t *testing.T) {
	// A small window keeps the scan cheap and exhaustion reachable.
	layout := Layout{MinAddr: base, MaxAddr: base + 64*page}
	rng := rand.New(rand.NewSource(1))
	for iter := 0; iter < 200; iter++ {
		mm, _ := testMemoryManager(t, 1, Options{Layout: layout})
		for n := rng.Intn(linux.MAX_WMMAP_INFO); n > 0; n-- {
			start := base + hostarch.Addr(rng.Intn(64)*page)
			length := uint32(1 + rng.Intn(6*page))
			ar, ok := start.ToRange(hostarch.PagesIn(length) * page)
			if !ok || ar.End > layout.MaxAddr || mm.vmas.firstOverlap(ar, -1) >= 0 {
				continue
			}
			if err := mm.vmas.insert(vma{start: start, length: length}); err != nil {
				t.Fatalf("insert failed: %v", err)
			}
		}
		length := hostarch.PagesIn(uint32(1+rng.Intn(8*page))) * page
		skip := -1
		if mm.vmas.len() > 0 && rng.Intn(2) == 0 {
			skip = rng.Intn(mm.vmas.len())
		}

		scanAddr, scanErr := mm.findScanLocked(length, skip)
		sortedAddr, sortedErr := mm.findSortedLocked(length, skip)
		if scanAddr != sortedAddr || scanErr != sortedErr {
			t.Fatalf("iteration %d: length %#x skip %d: scan got (%v, %v), sorted got (%v, %v)",
				iter, length, skip, scanAddr, scanErr, sortedAddr, sortedErr)
		}
		if scanErr == nil {
			ar, _ := scanAddr.ToRange(length)
			if !ar.IsPageAligned() || ar.Start < layout.MinAddr || ar.End > layout.MaxAddr {
				t.Fatalf("iteration %d: placement %v outside window", iter, ar)
			}
			if i := mm.vmas.firstOverlap(ar, skip); i >= 0 {
				t.Fatalf("iteration %d: placement %v overlaps vma %d", iter, ar, i)
			}
		}
	}
}

func TestSortedPlacementMMap(t *testing.T) {
	mm, _ := testMemoryManager(t, 1, Options{Placement: PlacementSorted})
	a := mustMMap(t, mm, memmap.MMapOpts{Length: page})
	b := mustMMap(t, mm, memmap.MMapOpts{Length: 2 * page})
	if a != base || b != base+page {
		t.Errorf("sorted placement got %v, %v want %v, %v", a, b, base, base+page)
	}
}
