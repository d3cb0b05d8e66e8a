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

// Package marshal defines the Marshallable interface for serializing
// fixed-size ABI structs to and from the emulated user address space.
package marshal

import (
	"gvisor.dev/wmap/pkg/hostarch"
)

// CopyContext defines the memory operations required to marshal to and from
// user memory. Typically, kernel.Task is used to provide implementations for
// these operations.
type CopyContext interface {
	// CopyOutBytes copies the contents of src to the memory mapped at addr
	// in the task's address space. It returns the number of bytes copied.
	CopyOutBytes(addr hostarch.Addr, src []byte) (int, error)

	// CopyInBytes copies the memory mapped at addr into dst. It returns the
	// number of bytes copied.
	CopyInBytes(addr hostarch.Addr, dst []byte) (int, error)
}

// Marshallable represents operations on a type that can be marshalled to and
// from memory.
type Marshallable interface {
	// SizeBytes is the size of the memory representation of a type in
	// marshalled form.
	SizeBytes() int

	// MarshalBytes serializes a copy of a type to dst and returns the
	// remaining portion of dst. Precondition: dst must be at least
	// SizeBytes() in length.
	MarshalBytes(dst []byte) []byte

	// UnmarshalBytes deserializes a type from src and returns the remaining
	// portion of src. Precondition: src must be at least SizeBytes() in
	// length.
	UnmarshalBytes(src []byte) []byte

	// CopyOut serializes a Marshallable type to the task's memory at addr.
	CopyOut(cc CopyContext, addr hostarch.Addr) (int, error)

	// CopyIn deserializes a Marshallable type from the task's memory at
	// addr.
	CopyIn(cc CopyContext, addr hostarch.Addr) (int, error)
}
