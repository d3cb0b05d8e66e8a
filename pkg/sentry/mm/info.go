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
	"gvisor.dev/wmap/pkg/abi/linux"
	"gvisor.dev/wmap/pkg/hostarch"
	"gvisor.dev/wmap/pkg/ring0/pagetables"
)

// WmapInfo returns a snapshot of the mapping table in table order. At most
// linux.MAX_WMMAP_INFO mappings are described.
func (mm *MemoryManager) WmapInfo() linux.WmapInfo {
	mm.mappingMu.RLock()
	defer mm.mappingMu.RUnlock()
	var info linux.WmapInfo
	for i := range mm.vmas.vmas {
		if i == linux.MAX_WMMAP_INFO {
			break
		}
		v := &mm.vmas.vmas[i]
		info.Addr[i] = int32(v.start)
		info.Length[i] = int32(v.length)
		info.NLoadedPages[i] = int32(v.loaded)
		info.TotalMmaps++
	}
	return info
}

// PgdirInfo reports the present user pages of mm in ascending virtual
// address order. At most linux.MAX_UPAGE_INFO pages are described.
func (mm *MemoryManager) PgdirInfo() linux.PgdirInfo {
	mm.mappingMu.RLock()
	defer mm.mappingMu.RUnlock()
	var info linux.PgdirInfo
	mm.pt.Walk(func(va hostarch.Addr, physical uintptr, opts pagetables.MapOpts) bool {
		if !opts.User {
			return true
		}
		info.VA[info.NUpages] = uint32(va)
		info.PA[info.NUpages] = uint32(physical)
		info.NUpages++
		return info.NUpages < linux.MAX_UPAGE_INFO
	})
	return info
}
