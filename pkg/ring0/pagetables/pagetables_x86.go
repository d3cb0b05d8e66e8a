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
	"fmt"

	"gvisor.dev/wmap/pkg/hostarch"
)

// Bits in page table entries.
const (
	present  = 0x001
	writable = 0x002
	user     = 0x004
	accessed = 0x020
	dirty    = 0x040
)

// Address constraints.
const (
	entriesPerTable = hostarch.EntriesPerTable
	addrMask        = ^uintptr(hostarch.PageSize - 1)

	// maxAddr is the exclusive end of the walkable address space.
	maxAddr = uintptr(1) << 32
)

// PTE is a page table entry.
type PTE uint32

// PTEs is a collection of entries.
type PTEs [entriesPerTable]PTE

// Clear clears this PTE.
func (p *PTE) Clear() {
	*p = 0
}

// Valid returns true iff this entry is present.
func (p *PTE) Valid() bool {
	return *p&present != 0
}

// Opts returns the PTE options.
//
// These are all options except Valid.
func (p *PTE) Opts() MapOpts {
	return MapOpts{
		AccessType: hostarch.AccessType{
			Read:  true,
			Write: *p&writable != 0,
		},
		User: *p&user != 0,
	}
}

// Set sets this PTE value.
//
// Precondition: addr must be page aligned.
func (p *PTE) Set(addr uintptr, opts MapOpts) {
	if addr&^addrMask != 0 {
		panic(fmt.Sprintf("unaligned physical address %#x", addr))
	}
	v := PTE(addr) | present
	if opts.AccessType.Write {
		v |= writable
	}
	if opts.User {
		v |= user
	}
	*p = v
}

// setPageTable sets this PTE value and forces the write bit and user bit.
//
// This is used explicitly for breaking huge pages.
//
// Precondition: addr must be page aligned.
func (p *PTE) setPageTable(addr uintptr) {
	if addr&^addrMask != 0 {
		panic(fmt.Sprintf("unaligned page table address %#x", addr))
	}
	*p = PTE(addr) | present | user | writable | accessed | dirty
}

// Address extracts the address. This should only be valid if Valid returns
// true.
func (p *PTE) Address() uintptr {
	return uintptr(*p) & addrMask
}
