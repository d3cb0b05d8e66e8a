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

// Package memmap defines the interfaces between the memory manager and the
// objects that back user memory mappings.
package memmap

import (
	"context"
	"fmt"

	"gvisor.dev/wmap/pkg/hostarch"
)

// File is the backing object of a file-backed mapping.
//
// Implementations must be safe for concurrent use: reads and writes from
// different address spaces may race, and each call is atomic with respect to
// the others.
type File interface {
	// ReadAt reads up to len(dst) bytes at offset off. A short read at end
	// of file returns the number of bytes read and io.EOF or nil.
	ReadAt(ctx context.Context, dst []byte, off int64) (int, error)

	// WriteAt writes src at offset off.
	WriteAt(ctx context.Context, src []byte, off int64) (int, error)

	// IncRef takes a reference on the file. A mapping holds one reference
	// for its lifetime.
	IncRef()

	// DecRef drops a reference on the file.
	DecRef(ctx context.Context)
}

// MMapOpts specifies a request to create a memory mapping.
type MMapOpts struct {
	// Length is the length of the mapping in bytes. It need not be page
	// aligned; the mapping reserves whole pages.
	Length uint32

	// Addr is the address at which the mapping is placed if Fixed is set.
	// Otherwise it is ignored.
	Addr hostarch.Addr

	// Fixed requires the mapping to be placed exactly at Addr.
	Fixed bool

	// Shared causes writes to the mapping to be written back to File when
	// the mapping is removed.
	Shared bool

	// Private is the complement of Shared. At most one of the two may be
	// set.
	Private bool

	// File is the backing file, or nil for an anonymous mapping. If set, the
	// memory manager takes its own reference.
	File File
}

// String implements fmt.Stringer.String.
func (opts *MMapOpts) String() string {
	return fmt.Sprintf("MMapOpts{Length: %#x, Addr: %v, Fixed: %t, Shared: %t, Private: %t, Anonymous: %t}",
		opts.Length, opts.Addr, opts.Fixed, opts.Shared, opts.Private, opts.File == nil)
}
