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

package refs

import (
	"testing"
)

func TestDecRefDestroys(t *testing.T) {
	var r Refs
	r.InitRefs("testObject")
	r.IncRef()
	destroyed := 0
	r.DecRef(func() { destroyed++ })
	if destroyed != 0 {
		t.Fatalf("destructor called with %d refs remaining", r.ReadRefs())
	}
	r.DecRef(func() { destroyed++ })
	if destroyed != 1 {
		t.Fatalf("destructor called %d times, want 1", destroyed)
	}
}

func TestDecRefPanics(t *testing.T) {
	var r Refs
	r.InitRefs("testObject")
	r.DecRef(nil)
	defer func() {
		if recover() == nil {
			t.Errorf("DecRef on a destroyed object did not panic")
		}
	}()
	r.DecRef(nil)
}

func TestLeakCheck(t *testing.T) {
	SetLeakMode(LeaksLogWarning)
	defer SetLeakMode(NoLeakChecking)

	var live, freed Refs
	live.InitRefs("live")
	freed.InitRefs("freed")
	freed.DecRef(nil)
	if got := DoLeakCheck(); got != 1 {
		t.Errorf("DoLeakCheck got %d leaks want 1", got)
	}
	live.DecRef(nil)
	if got := DoLeakCheck(); got != 0 {
		t.Errorf("DoLeakCheck after release got %d leaks want 0", got)
	}
}

func TestLeakModeFlag(t *testing.T) {
	var m LeakMode
	for _, v := range []string{"disabled", "warning", "panic"} {
		if err := m.Set(v); err != nil {
			t.Fatalf("Set(%q) failed: %v", v, err)
		}
		if got := m.String(); got != v {
			t.Errorf("Set(%q).String() got %q", v, got)
		}
	}
	if err := m.Set("bogus"); err == nil {
		t.Errorf("Set(bogus) succeeded")
	}
}
