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

package kernel

import (
	"context"
	"sync"
	"time"
)

// Ticker counts timer interrupts since boot.
type Ticker struct {
	mu sync.Mutex

	// cond is signalled on every tick. cond.L is mu.
	cond sync.Cond

	// ticks is protected by mu.
	ticks uint64
}

func newTicker() *Ticker {
	t := &Ticker{}
	t.cond.L = &t.mu
	return t
}

// Tick advances the counter by one and wakes waiters.
func (t *Ticker) Tick() {
	t.mu.Lock()
	t.ticks++
	t.mu.Unlock()
	t.cond.Broadcast()
}

// Ticks returns the number of ticks since boot.
func (t *Ticker) Ticks() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ticks
}

// WaitFor blocks until at least n ticks have elapsed since boot or ctx is
// done, in which case it returns ctx.Err().
func (t *Ticker) WaitFor(ctx context.Context, n uint64) error {
	stop := context.AfterFunc(ctx, func() {
		t.mu.Lock()
		t.cond.Broadcast()
		t.mu.Unlock()
	})
	defer stop()

	t.mu.Lock()
	defer t.mu.Unlock()
	for t.ticks < n {
		if err := ctx.Err(); err != nil {
			return err
		}
		t.cond.Wait()
	}
	return nil
}

// run calls Tick every interval until ctx is done.
func (t *Ticker) run(ctx context.Context, interval time.Duration) {
	tk := time.NewTicker(interval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			t.Tick()
		}
	}
}
