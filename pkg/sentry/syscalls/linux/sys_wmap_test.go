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

package linux

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"
	"gvisor.dev/wmap/pkg/abi/linux"
	"gvisor.dev/wmap/pkg/abi/linux/errno"
	"gvisor.dev/wmap/pkg/hostarch"
	"gvisor.dev/wmap/pkg/sentry/arch"
	"gvisor.dev/wmap/pkg/sentry/kernel"
	"gvisor.dev/wmap/pkg/sentry/vfs"
)

const (
	page = hostarch.PageSize
	base = linux.WMAP_BASE

	anonPrivate = linux.MAP_ANONYMOUS | linux.MAP_PRIVATE
)

func newTestTask(t *testing.T, frames int) (*kernel.Kernel, *kernel.Task) {
	t.Helper()
	k, err := kernel.New(kernel.InitKernelArgs{Frames: frames, SyscallTable: X86})
	if err != nil {
		t.Fatalf("kernel.New failed: %v", err)
	}
	t.Cleanup(k.Destroy)
	return k, k.NewTask("test")
}

// call invokes sysno with integer arguments, which are truncated to the
// 32-bit argument registers.
func call(task *kernel.Task, sysno uintptr, vs ...int64) int32 {
	var args arch.SyscallArguments
	for i, v := range vs {
		args[i] = arch.SyscallArgument{Value: uintptr(v)}
	}
	return task.Syscall(sysno, args)
}

func mustCall(t *testing.T, task *kernel.Task, sysno uintptr, vs ...int64) int32 {
	t.Helper()
	rv := call(task, sysno, vs...)
	if rv == linux.FAILED {
		t.Fatalf("%s%v failed: %v", X86.LookupName(sysno), vs, task.LastErrno())
	}
	return rv
}

func expectFailure(t *testing.T, task *kernel.Task, want errno.Errno, sysno uintptr, vs ...int64) {
	t.Helper()
	if rv := call(task, sysno, vs...); rv != linux.FAILED {
		t.Errorf("%s%v got %#x want FAILED", X86.LookupName(sysno), vs, rv)
		return
	}
	if got := task.LastErrno(); got != want {
		t.Errorf("%s%v got errno %v want %v", X86.LookupName(sysno), vs, got, want)
	}
}

func openFD(t *testing.T, task *kernel.Task, contents []byte) (string, int64) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backing")
	if err := os.WriteFile(path, contents, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	file, err := vfs.OpenHost(path, unix.O_RDWR, 0, vfs.FileDescriptionOptions{})
	if err != nil {
		t.Fatalf("OpenHost failed: %v", err)
	}
	defer file.DecRef(context.Background())
	fd, err := task.FDTable().NewFD(file)
	if err != nil {
		t.Fatalf("NewFD failed: %v", err)
	}
	return path, int64(fd)
}

func TestAnonymousScenario(t *testing.T) {
	_, task := newTestTask(t, 8)

	if got := mustCall(t, task, linux.SYS_WMAP, 0, 2*page, anonPrivate, -1); got != base {
		t.Fatalf("wmap got %#x want %#x", got, base)
	}
	if err := task.Store(base, []byte{'x'}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if got := task.MemoryManager().WmapInfo().NLoadedPages[0]; got != 1 {
		t.Errorf("loaded pages got %d want 1", got)
	}

	expectFailure(t, task, errno.EEXIST, linux.SYS_WMAP, base, page, anonPrivate|linux.MAP_FIXED, -1)
	if got := mustCall(t, task, linux.SYS_WMAP, base+2*page, page, anonPrivate|linux.MAP_FIXED, -1); got != base+2*page {
		t.Errorf("fixed wmap got %#x want %#x", got, base+2*page)
	}
}

func TestWremapScenario(t *testing.T) {
	_, task := newTestTask(t, 8)
	addr := mustCall(t, task, linux.SYS_WMAP, 0, page, anonPrivate, -1)
	if got := mustCall(t, task, linux.SYS_WREMAP, int64(addr), page, 4*page, 0); got != addr {
		t.Fatalf("wremap got %#x want %#x", got, addr)
	}
	info := task.MemoryManager().WmapInfo()
	if info.Addr[0] != addr || info.Length[0] != 4*page {
		t.Errorf("wmapinfo got addr %#x length %#x want %#x, %#x", info.Addr[0], info.Length[0], addr, 4*page)
	}
}

func TestWmapValidation(t *testing.T) {
	_, task := newTestTask(t, 8)
	for _, test := range []struct {
		name   string
		length int64
		flags  int64
		fd     int64
		want   errno.Errno
	}{
		{name: "zero length", length: 0, flags: anonPrivate, fd: -1, want: errno.EINVAL},
		{name: "negative length", length: -page, flags: anonPrivate, fd: -1, want: errno.EINVAL},
		{name: "flags out of range", length: page, flags: 16, fd: -1, want: errno.EINVAL},
		{name: "negative flags", length: page, flags: -1, fd: -1, want: errno.EINVAL},
		{name: "shared and private", length: page, flags: linux.MAP_ANONYMOUS | linux.MAP_SHARED | linux.MAP_PRIVATE, fd: -1, want: errno.EINVAL},
		{name: "bad descriptor", length: page, flags: linux.MAP_SHARED, fd: 7, want: errno.EBADF},
		{name: "negative descriptor", length: page, flags: linux.MAP_PRIVATE, fd: -1, want: errno.EBADF},
	} {
		t.Run(test.name, func(t *testing.T) {
			expectFailure(t, task, test.want, linux.SYS_WMAP, 0, test.length, test.flags, test.fd)
			if n := task.MemoryManager().NumMappings(); n != 0 {
				t.Errorf("mappings after failed wmap got %d want 0", n)
			}
		})
	}
}

func TestWmapCapacityBeforeDescriptor(t *testing.T) {
	_, task := newTestTask(t, 8)
	for i := 0; i < linux.MAX_WMMAP_INFO; i++ {
		mustCall(t, task, linux.SYS_WMAP, 0, page, anonPrivate, -1)
	}
	expectFailure(t, task, errno.ENOMEM, linux.SYS_WMAP, 0, page, linux.MAP_SHARED, 9)
}

func TestSharedFileWriteback(t *testing.T) {
	_, task := newTestTask(t, 8)
	path, fd := openFD(t, task, make([]byte, 5000))

	addr := mustCall(t, task, linux.SYS_WMAP, 0, 5000, linux.MAP_SHARED, fd)
	if err := task.Store(hostarch.Addr(addr)+page+10, []byte("hello")); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	// The mapping keeps the file open after the descriptor is closed.
	mustCall(t, task, linux.SYS_CLOSE, fd)
	if got := mustCall(t, task, linux.SYS_WUNMAP, int64(addr)); got != linux.SUCCESS {
		t.Fatalf("wunmap got %d want SUCCESS", got)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if len(data) != 5000 {
		t.Errorf("file length got %d want 5000", len(data))
	}
	if got := string(data[page+10 : page+15]); got != "hello" {
		t.Errorf("file contents got %q want %q", got, "hello")
	}
}

func TestFileBackedFault(t *testing.T) {
	_, task := newTestTask(t, 8)
	_, fd := openFD(t, task, []byte("file contents"))
	addr := mustCall(t, task, linux.SYS_WMAP, 0, page, linux.MAP_PRIVATE, fd)

	buf := make([]byte, 16)
	if err := task.Load(hostarch.Addr(addr), buf); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := append([]byte("file contents"), 0, 0, 0)
	if diff := cmp.Diff(want, buf); diff != "" {
		t.Errorf("mapping contents mismatch (-want +got):\n%s", diff)
	}
}

func TestWunmapErrors(t *testing.T) {
	_, task := newTestTask(t, 8)
	addr := mustCall(t, task, linux.SYS_WMAP, 0, 2*page, anonPrivate, -1)
	expectFailure(t, task, errno.EINVAL, linux.SYS_WUNMAP, int64(addr)+page)
	mustCall(t, task, linux.SYS_WUNMAP, int64(addr))
	expectFailure(t, task, errno.EINVAL, linux.SYS_WUNMAP, int64(addr))
}

func TestWremapModes(t *testing.T) {
	_, task := newTestTask(t, 8)
	a := mustCall(t, task, linux.SYS_WMAP, 0, page, anonPrivate, -1)
	b := mustCall(t, task, linux.SYS_WMAP, 0, page, anonPrivate, -1)
	if err := task.Store(hostarch.Addr(a), []byte("keep")); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	expectFailure(t, task, errno.EINVAL, linux.SYS_WREMAP, int64(a), page, 2*page, 2)
	expectFailure(t, task, errno.EINVAL, linux.SYS_WREMAP, int64(a), page, 0, 0)
	expectFailure(t, task, errno.EEXIST, linux.SYS_WREMAP, int64(a), page, 2*page, 0)

	moved := mustCall(t, task, linux.SYS_WREMAP, int64(a), page, 2*page, linux.MREMAP_MAYMOVE)
	if moved != b+page {
		t.Fatalf("wremap moved to %#x want %#x", moved, b+page)
	}
	buf := make([]byte, 4)
	if err := task.Load(hostarch.Addr(moved), buf); err != nil || string(buf) != "keep" {
		t.Errorf("moved contents got (%q, %v) want (\"keep\", nil)", buf, err)
	}
}

func TestInfoCopyOut(t *testing.T) {
	_, task := newTestTask(t, 8)
	buf := mustCall(t, task, linux.SYS_WMAP, 0, page, anonPrivate, -1)
	data := mustCall(t, task, linux.SYS_WMAP, 0, 3*page, anonPrivate, -1)
	if err := task.Store(hostarch.Addr(data)+2*page, []byte{1}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	mustCall(t, task, linux.SYS_GETWMAPINFO, int64(buf))
	var info linux.WmapInfo
	raw := make([]byte, info.SizeBytes())
	if err := task.Load(hostarch.Addr(buf), raw); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	info.UnmarshalBytes(raw)
	want := linux.WmapInfo{TotalMmaps: 2}
	// The snapshot is taken before the copy-out faults in the buffer.
	want.Addr[0], want.Length[0], want.NLoadedPages[0] = buf, page, 0
	want.Addr[1], want.Length[1], want.NLoadedPages[1] = data, 3*page, 1
	if diff := cmp.Diff(want, info); diff != "" {
		t.Errorf("getwmapinfo mismatch (-want +got):\n%s", diff)
	}

	mustCall(t, task, linux.SYS_GETPGDIRINFO, int64(buf))
	var pgdir linux.PgdirInfo
	raw = make([]byte, pgdir.SizeBytes())
	if err := task.Load(hostarch.Addr(buf), raw); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	pgdir.UnmarshalBytes(raw)
	if diff := cmp.Diff(task.MemoryManager().PgdirInfo(), pgdir); diff != "" {
		t.Errorf("getpgdirinfo mismatch (-want +got):\n%s", diff)
	}
	if pgdir.NUpages != 2 || pgdir.VA[0] != uint32(buf) || pgdir.VA[1] != uint32(data)+2*page {
		t.Errorf("getpgdirinfo got %d pages at %#x, %#x", pgdir.NUpages, pgdir.VA[0], pgdir.VA[1])
	}
}

func TestInfoCopyOutFault(t *testing.T) {
	_, task := newTestTask(t, 8)
	expectFailure(t, task, errno.EFAULT, linux.SYS_GETWMAPINFO, 0x1000)
	expectFailure(t, task, errno.EFAULT, linux.SYS_GETPGDIRINFO, base)
	if task.Killed() {
		t.Errorf("task killed by a failed copy-out")
	}
}

func TestUptime(t *testing.T) {
	k, task := newTestTask(t, 1)
	for i := 0; i < 3; i++ {
		k.Ticker().Tick()
	}
	if got := call(task, linux.SYS_UPTIME); got != 3 {
		t.Errorf("uptime got %d want 3", got)
	}
}

func TestDescriptorSyscalls(t *testing.T) {
	_, task := newTestTask(t, 1)
	_, fd := openFD(t, task, nil)

	dup := mustCall(t, task, linux.SYS_DUP, fd)
	if int64(dup) == fd {
		t.Errorf("dup returned the same descriptor %d", dup)
	}
	mustCall(t, task, linux.SYS_CLOSE, fd)
	expectFailure(t, task, errno.EBADF, linux.SYS_CLOSE, fd)
	expectFailure(t, task, errno.EBADF, linux.SYS_DUP, fd)
	mustCall(t, task, linux.SYS_CLOSE, int64(dup))
}

func TestProcessSyscalls(t *testing.T) {
	k, task := newTestTask(t, 4)
	if got := call(task, linux.SYS_GETPID); got != int32(task.ThreadID()) {
		t.Errorf("getpid got %d want %d", got, int32(task.ThreadID()))
	}
	expectFailure(t, task, errno.ENOSYS, linux.SYS_FORK)

	addr := mustCall(t, task, linux.SYS_WMAP, 0, page, anonPrivate, -1)
	if err := task.Store(hostarch.Addr(addr), []byte{1}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	mustCall(t, task, linux.SYS_EXIT)
	if !task.Exited() || task.Killed() {
		t.Errorf("after exit got exited %t killed %t want true, false", task.Exited(), task.Killed())
	}
	if used, _ := k.MemoryFile().Usage(); used != 0 {
		t.Errorf("frames used after exit got %d want 0", used)
	}
}
