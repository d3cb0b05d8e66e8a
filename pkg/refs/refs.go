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

// Package refs provides a reference count embedded by objects whose lifetime
// is shared between several owners, with optional leak checking.
package refs

import (
	"fmt"
	"sync/atomic"
)

// Refs keeps a reference count using atomic operations and calls the
// destructor when the count reaches zero.
type Refs struct {
	refCount atomic.Int64

	// owner names the embedding object in leak messages.
	owner string
}

// InitRefs initializes r with one reference and, if enabled, activates leak
// checking.
func (r *Refs) InitRefs(owner string) {
	r.owner = owner
	r.refCount.Store(1)
	Register(r)
}

// RefType implements CheckedObject.RefType.
func (r *Refs) RefType() string {
	return r.owner
}

// LeakMessage implements CheckedObject.LeakMessage.
func (r *Refs) LeakMessage() string {
	return fmt.Sprintf("[%s %p] reference count of %d instead of 0", r.RefType(), r, r.ReadRefs())
}

// ReadRefs returns the current number of references. The returned count is
// inherently racy and is unsafe to use without external synchronization.
func (r *Refs) ReadRefs() int64 {
	return r.refCount.Load()
}

// IncRef increments the reference count. It panics if the object has
// already been destroyed.
func (r *Refs) IncRef() {
	if v := r.refCount.Add(1); v <= 1 {
		panic(fmt.Sprintf("Incrementing non-positive count %p on %s", r, r.RefType()))
	}
}

// DecRef decrements the reference count and calls destroy when it reaches
// zero.
func (r *Refs) DecRef(destroy func()) {
	switch v := r.refCount.Add(-1); {
	case v < 0:
		panic(fmt.Sprintf("Decrementing non-positive ref count %p, owned by %s", r, r.RefType()))
	case v == 0:
		Unregister(r)
		// Call the destructor.
		if destroy != nil {
			destroy()
		}
	}
}
