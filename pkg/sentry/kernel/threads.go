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
	"fmt"
	"sort"
	"sync"
)

// ThreadID is a generic thread identifier.
type ThreadID int32

// String returns a decimal representation of the ThreadID.
func (tid ThreadID) String() string {
	return fmt.Sprintf("%d", tid)
}

// TaskSet comprises all tasks in a system.
type TaskSet struct {
	// mu protects all fields below.
	mu sync.RWMutex

	// tasks maps each live task to its thread ID.
	tasks map[ThreadID]*Task

	// last is the last thread ID allocated.
	last ThreadID
}

func (ts *TaskSet) init() {
	ts.tasks = make(map[ThreadID]*Task)
}

// add assigns t a thread ID and adds it to ts.
func (ts *TaskSet) add(t *Task) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.last++
	t.tid = ts.last
	ts.tasks[t.tid] = t
}

// remove removes t from ts.
func (ts *TaskSet) remove(t *Task) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	delete(ts.tasks, t.tid)
}

// TaskWithID returns the task with thread ID tid, or nil if no such task
// exists.
func (ts *TaskSet) TaskWithID(tid ThreadID) *Task {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.tasks[tid]
}

// Tasks returns a snapshot of the live tasks, ordered by thread ID.
func (ts *TaskSet) Tasks() []*Task {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	tasks := make([]*Task, 0, len(ts.tasks))
	for _, t := range ts.tasks {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].tid < tasks[j].tid })
	return tasks
}
