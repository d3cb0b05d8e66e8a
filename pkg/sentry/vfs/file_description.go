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

// Package vfs provides reference-counted open file descriptions backed by
// host files.
package vfs

import (
	"context"
	goerrors "errors"
	"fmt"
	"io"
	"sync"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"
	"gvisor.dev/wmap/pkg/errors/linuxerr"
	"gvisor.dev/wmap/pkg/log"
	"gvisor.dev/wmap/pkg/refs"
	"gvisor.dev/wmap/pkg/sentry/memmap"
)

// A FileDescription represents an open file description, which is the entity
// referred to by a file descriptor.
//
// FileDescriptions are reference-counted. The host descriptor is closed when
// the last reference is dropped. Unless otherwise specified, all
// FileDescription methods require that a reference is held.
type FileDescription struct {
	refs.Refs

	// fd is the host file descriptor. fd is immutable.
	fd int

	// name is the host path, or a synthetic name for imported descriptors.
	// name is immutable.
	name string

	// mu serializes I/O on the description; it plays the role of the
	// inode lock held across one read or write.
	mu sync.Mutex

	// hostLock is the advisory host lock taken around I/O if
	// FileDescriptionOptions.HostLock was set; nil otherwise.
	hostLock *flock.Flock
}

var _ memmap.File = (*FileDescription)(nil)

// FileDescriptionOptions contains options to OpenHost.
type FileDescriptionOptions struct {
	// HostLock takes a shared host advisory lock around reads and an
	// exclusive one around writes, so that other host processes observe
	// whole pages.
	HostLock bool
}

// OpenHost opens the host file at path with the given open(2) flags.
func OpenHost(path string, flags int, mode uint32, opts FileDescriptionOptions) (*FileDescription, error) {
	fd, err := unix.Open(path, flags|unix.O_CLOEXEC, mode)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	f := newFileDescription(fd, path)
	if opts.HostLock {
		f.hostLock = flock.New(path)
	}
	return f, nil
}

// ImportFD returns a FileDescription for a duplicate of the host descriptor
// hostFD. The caller keeps ownership of hostFD.
func ImportFD(hostFD int) (*FileDescription, error) {
	fd, err := unix.Dup(hostFD)
	if err != nil {
		return nil, fmt.Errorf("dup(%d): %w", hostFD, err)
	}
	unix.CloseOnExec(fd)
	return newFileDescription(fd, fmt.Sprintf("host:[%d]", hostFD)), nil
}

func newFileDescription(fd int, name string) *FileDescription {
	f := &FileDescription{
		fd:   fd,
		name: name,
	}
	f.InitRefs("vfs.FileDescription")
	return f
}

// Name returns the name f was opened with.
func (f *FileDescription) Name() string {
	return f.name
}

// DecRef implements memmap.File.DecRef. The host descriptor is closed when
// the last reference is dropped.
func (f *FileDescription) DecRef(ctx context.Context) {
	f.Refs.DecRef(func() {
		if f.hostLock != nil {
			f.hostLock.Close()
		}
		if err := unix.Close(f.fd); err != nil {
			log.Warningf("close(%d) of %s: %v", f.fd, f.name, err)
		}
	})
}

// ReadAt implements memmap.File.ReadAt. It returns io.EOF if fewer than
// len(dst) bytes remain at off.
func (f *FileDescription) ReadAt(ctx context.Context, dst []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hostLock != nil {
		if err := f.hostLock.RLock(); err != nil {
			return 0, fmt.Errorf("shared lock on %s: %w", f.name, err)
		}
		defer f.hostLock.Unlock()
	}
	total := 0
	for total < len(dst) {
		n, err := unix.Pread(f.fd, dst[total:], off+int64(total))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return total, translate(err)
		}
		if n == 0 {
			return total, io.EOF
		}
		total += n
	}
	return total, nil
}

// WriteAt implements memmap.File.WriteAt.
func (f *FileDescription) WriteAt(ctx context.Context, src []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hostLock != nil {
		if err := f.hostLock.Lock(); err != nil {
			return 0, fmt.Errorf("exclusive lock on %s: %w", f.name, err)
		}
		defer f.hostLock.Unlock()
	}
	total := 0
	for total < len(src) {
		n, err := unix.Pwrite(f.fd, src[total:], off+int64(total))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return total, translate(err)
		}
		total += n
	}
	return total, nil
}

// translate converts a host error to its errno sentinel where possible.
func translate(err error) error {
	var errno unix.Errno
	if goerrors.As(err, &errno) {
		return linuxerr.ErrorFromUnix(errno)
	}
	return err
}
