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

// Exit terminates t: its descriptors are closed and its address space is
// released, which writes back shared file mappings and frees every frame.
// Exit is idempotent.
func (t *Task) Exit() {
	t.mu.Lock()
	if t.exited {
		t.mu.Unlock()
		return
	}
	t.exited = true
	t.mu.Unlock()

	t.fdTable.RemoveAll(t)
	t.mm.DecUsers(t)
	t.k.tasks.remove(t)
	t.Debugf("Task exited, killed: %t", t.Killed())
}
