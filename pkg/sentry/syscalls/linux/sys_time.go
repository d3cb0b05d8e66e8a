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

package linux

import (
	"gvisor.dev/wmap/pkg/sentry/arch"
	"gvisor.dev/wmap/pkg/sentry/kernel"
)

// Uptime implements uptime(2). It returns the number of timer ticks since
// boot, truncated to the 32-bit return register.
func Uptime(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, error) {
	return uintptr(uint32(t.Kernel().Ticker().Ticks())), nil
}
