// Copyright 2018 The gVisor Authors.
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

package kernel

import (
	"context"
	"sync"

	"gvisor.dev/wmap/pkg/errors/linuxerr"
	"gvisor.dev/wmap/pkg/sentry/vfs"
)

// DefaultMaxFDs is the default size of a descriptor table, the number of
// open files per process of the emulated kernel.
const DefaultMaxFDs = 16

// FDTable is used to manage File references.
//
// The table holds one reference on each installed file.
type FDTable struct {
	// mu protects below.
	mu sync.Mutex

	// files is indexed by descriptor; nil entries are free.
	files []*vfs.FileDescription
}

// NewFDTable allocates an empty descriptor table sized for k.
func (k *Kernel) NewFDTable() *FDTable {
	return &FDTable{files: make([]*vfs.FileDescription, k.maxFDs)}
}

// NewFD installs file at the lowest free descriptor and takes a table
// reference on it. EMFILE is returned if the table is full.
func (f *FDTable) NewFD(file *vfs.FileDescription) (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for fd, cur := range f.files {
		if cur == nil {
			file.IncRef()
			f.files[fd] = file
			return int32(fd), nil
		}
	}
	return -1, linuxerr.EMFILE
}

// Get returns a reference to the file for fd, or nil if no file is defined
// for the given fd.
//
// N.B. Callers are required to use DecRef when they are done.
func (f *FDTable) Get(fd int32) *vfs.FileDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fd < 0 || int(fd) >= len(f.files) || f.files[fd] == nil {
		return nil
	}
	file := f.files[fd]
	file.IncRef()
	return file
}

// Remove removes fd from the table and returns its file, or nil if fd was
// not open.
//
// N.B. The table's reference is transferred to the caller, who must use
// DecRef when done.
func (f *FDTable) Remove(fd int32) *vfs.FileDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fd < 0 || int(fd) >= len(f.files) {
		return nil
	}
	file := f.files[fd]
	f.files[fd] = nil
	return file
}

// RemoveAll closes every descriptor.
func (f *FDTable) RemoveAll(ctx context.Context) {
	f.mu.Lock()
	files := f.files
	f.files = make([]*vfs.FileDescription, len(files))
	f.mu.Unlock()
	for _, file := range files {
		if file != nil {
			file.DecRef(ctx)
		}
	}
}

// GetFDs returns the open descriptors in ascending order.
func (f *FDTable) GetFDs() []int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var fds []int32
	for fd, file := range f.files {
		if file != nil {
			fds = append(fds, int32(fd))
		}
	}
	return fds
}
