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

// Package hostarch contains address and page-size definitions for the
// emulated 32-bit x86 user address space.
package hostarch

import "encoding/binary"

const (
	// PageShift is the binary log of the system page size.
	PageShift = 12

	// PageSize is the system page size.
	PageSize = 1 << PageShift

	// PTEShift is the binary log of the number of bytes mapped by a
	// page-directory entry.
	PTEShift = 22

	// EntriesPerTable is the number of entries in each level of the page
	// table.
	EntriesPerTable = 1 << (PTEShift - PageShift)
)

// ByteOrder is the native byte order (little endian).
var ByteOrder = binary.LittleEndian
