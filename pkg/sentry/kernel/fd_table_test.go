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
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"
	"gvisor.dev/wmap/pkg/errors/linuxerr"
	"gvisor.dev/wmap/pkg/sentry/vfs"
)

func openTestFile(t *testing.T) *vfs.FileDescription {
	t.Helper()
	path := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	file, err := vfs.OpenHost(path, unix.O_RDWR, 0, vfs.FileDescriptionOptions{})
	if err != nil {
		t.Fatalf("OpenHost failed: %v", err)
	}
	return file
}

func TestFDTableLowestFree(t *testing.T) {
	ctx := context.Background()
	k := newTestKernel(t, 1)
	fdt := k.NewFDTable()
	file := openTestFile(t)
	defer file.DecRef(ctx)

	for want := int32(0); want < DefaultMaxFDs; want++ {
		fd, err := fdt.NewFD(file)
		if err != nil || fd != want {
			t.Fatalf("NewFD got (%d, %v) want (%d, nil)", fd, err, want)
		}
	}
	if _, err := fdt.NewFD(file); err != linuxerr.EMFILE {
		t.Errorf("NewFD on full table got err %v want %v", err, linuxerr.EMFILE)
	}

	if removed := fdt.Remove(3); removed != file {
		t.Fatalf("Remove(3) got %p want %p", removed, file)
	} else {
		removed.DecRef(ctx)
	}
	if fd, err := fdt.NewFD(file); err != nil || fd != 3 {
		t.Errorf("NewFD after Remove got (%d, %v) want (3, nil)", fd, err)
	}

	fdt.RemoveAll(ctx)
	if got := file.ReadRefs(); got != 1 {
		t.Errorf("file refs after RemoveAll got %d want 1", got)
	}
	if fds := fdt.GetFDs(); len(fds) != 0 {
		t.Errorf("GetFDs after RemoveAll got %v want none", fds)
	}
}

func TestFDTableGet(t *testing.T) {
	ctx := context.Background()
	k := newTestKernel(t, 1)
	fdt := k.NewFDTable()
	file := openTestFile(t)
	fd, err := fdt.NewFD(file)
	if err != nil {
		t.Fatalf("NewFD failed: %v", err)
	}
	file.DecRef(ctx)

	got := fdt.Get(fd)
	if got != file {
		t.Fatalf("Get(%d) got %p want %p", fd, got, file)
	}
	if refs := got.ReadRefs(); refs != 2 {
		t.Errorf("refs after Get got %d want 2", refs)
	}
	got.DecRef(ctx)

	for _, bad := range []int32{-1, fd + 1, DefaultMaxFDs} {
		if f := fdt.Get(bad); f != nil {
			t.Errorf("Get(%d) got %p want nil", bad, f)
		}
	}
	if diff := cmp.Diff([]int32{fd}, fdt.GetFDs()); diff != "" {
		t.Errorf("GetFDs mismatch (-want +got):\n%s", diff)
	}
	fdt.RemoveAll(ctx)
}
