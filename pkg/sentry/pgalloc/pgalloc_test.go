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

package pgalloc

import (
	"testing"

	"gvisor.dev/wmap/pkg/hostarch"
)

const page = hostarch.PageSize

func newTestMemoryFile(t *testing.T, opts MemoryFileOpts) *MemoryFile {
	t.Helper()
	mf, err := NewMemoryFile(opts)
	if err != nil {
		t.Fatalf("NewMemoryFile(%+v) got err %v want nil", opts, err)
	}
	t.Cleanup(mf.Destroy)
	return mf
}

func TestNewMemoryFileOpts(t *testing.T) {
	for _, test := range []struct {
		name    string
		opts    MemoryFileOpts
		wantErr bool
	}{
		{name: "default base", opts: MemoryFileOpts{Frames: 4}},
		{name: "explicit base", opts: MemoryFileOpts{Frames: 4, PhysBase: 0x1000000}},
		{name: "no frames", opts: MemoryFileOpts{}, wantErr: true},
		{name: "unaligned base", opts: MemoryFileOpts{Frames: 1, PhysBase: 0x1001}, wantErr: true},
		{name: "too many frames", opts: MemoryFileOpts{Frames: 1 << 20, PhysBase: 0x1000000}, wantErr: true},
	} {
		t.Run(test.name, func(t *testing.T) {
			mf, err := NewMemoryFile(test.opts)
			if test.wantErr {
				if err == nil {
					mf.Destroy()
					t.Fatalf("NewMemoryFile(%+v) got nil err", test.opts)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewMemoryFile(%+v) got err %v want nil", test.opts, err)
			}
			mf.Destroy()
		})
	}
}

func TestAllocateExhaustion(t *testing.T) {
	mf := newTestMemoryFile(t, MemoryFileOpts{Frames: 3})
	var frames []uintptr
	for i := 0; i < 3; i++ {
		pa, err := mf.AllocateFrame()
		if err != nil {
			t.Fatalf("AllocateFrame #%d got err %v want nil", i, err)
		}
		if want := uintptr(DefaultPhysBase + i*page); pa != want {
			t.Errorf("AllocateFrame #%d got %#x want %#x", i, pa, want)
		}
		frames = append(frames, pa)
	}
	if _, err := mf.AllocateFrame(); err != ErrOutOfFrames {
		t.Fatalf("AllocateFrame on full pool got err %v want %v", err, ErrOutOfFrames)
	}
	mf.FreeFrame(frames[1])
	if used, total := mf.Usage(); used != 2 || total != 3 {
		t.Errorf("Usage got (%d, %d) want (2, 3)", used, total)
	}
	pa, err := mf.AllocateFrame()
	if err != nil {
		t.Fatalf("AllocateFrame after free got err %v want nil", err)
	}
	if pa != frames[1] {
		t.Errorf("AllocateFrame after free got %#x want %#x", pa, frames[1])
	}
	for _, pa := range frames {
		mf.FreeFrame(pa)
	}
}

func TestFrameContents(t *testing.T) {
	mf := newTestMemoryFile(t, MemoryFileOpts{Frames: 2, PoisonFreed: true})
	a, _ := mf.AllocateFrame()
	b, _ := mf.AllocateFrame()
	copy(mf.Frame(a), "hello")
	if got := string(mf.Frame(a + 3)[:5]); got != "hello" {
		t.Errorf("Frame(a+3) got %q want %q", got, "hello")
	}
	if got := mf.Frame(b)[0]; got != 0 {
		t.Errorf("fresh frame byte got %#x want 0", got)
	}
	if got := len(mf.Frame(a)); got != page {
		t.Errorf("len(Frame) got %d want %d", got, page)
	}
	mf.FreeFrame(a)
	if got := mf.Frame(a)[0]; got != poisonByte {
		t.Errorf("freed frame byte got %#x want %#x", got, poisonByte)
	}
	a, _ = mf.AllocateFrame()
	mf.Zero(a)
	for i, c := range mf.Frame(a) {
		if c != 0 {
			t.Fatalf("zeroed frame byte %d got %#x", i, c)
		}
	}
	mf.FreeFrame(a)
	mf.FreeFrame(b)
}

func TestDoubleFreePanics(t *testing.T) {
	mf := newTestMemoryFile(t, MemoryFileOpts{Frames: 1})
	pa, _ := mf.AllocateFrame()
	mf.FreeFrame(pa)
	defer func() {
		if recover() == nil {
			t.Errorf("double FreeFrame did not panic")
		}
	}()
	mf.FreeFrame(pa)
}
