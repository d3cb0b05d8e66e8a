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

	"gvisor.dev/wmap/pkg/errors/linuxerr"
	"gvisor.dev/wmap/pkg/hostarch"
)

// CopyOut copies src to the application address space at addr, faulting in
// absent pages as needed. It returns the number of bytes copied. If a page
// cannot be faulted in, the bytes before it have been copied and the fault
// error is returned.
func (mm *MemoryManager) CopyOut(ctx context.Context, addr hostarch.Addr, src []byte) (int, error) {
	return mm.copyPages(ctx, addr, len(src), func(frame []byte, done int) int {
		return copy(frame, src[done:])
	})
}

// CopyIn copies len(dst) bytes from the application address space at addr
// to dst, faulting in absent pages as needed.
func (mm *MemoryManager) CopyIn(ctx context.Context, addr hostarch.Addr, dst []byte) (int, error) {
	return mm.copyPages(ctx, addr, len(dst), func(frame []byte, done int) int {
		return copy(dst[done:], frame)
	})
}

// copyPages calls fn with the host memory of each page in [addr, addr+n),
// starting at the page offset of the current address. fn returns the number
// of bytes it consumed.
func (mm *MemoryManager) copyPages(ctx context.Context, addr hostarch.Addr, n int, fn func(frame []byte, done int) int) (int, error) {
	mm.mappingMu.Lock()
	defer mm.mappingMu.Unlock()
	done := 0
	for done < n {
		cur := addr + hostarch.Addr(done)
		if cur < addr {
			return done, linuxerr.EFAULT
		}
		pa, opts := mm.pt.Lookup(cur)
		if !opts.AccessType.Any() {
			if err := mm.handleFaultLocked(ctx, cur); err != nil {
				return done, err
			}
			pa, _ = mm.pt.Lookup(cur)
		}
		frame := mm.mf.Frame(pa)[cur.PageOffset():]
		if rem := n - done; len(frame) > rem {
			frame = frame[:rem]
		}
		done += fn(frame, done)
	}
	return done, nil
}
