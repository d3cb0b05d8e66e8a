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

package syscalls

import (
	"testing"

	"gvisor.dev/wmap/pkg/errors/linuxerr"
	"gvisor.dev/wmap/pkg/sentry/arch"
	"gvisor.dev/wmap/pkg/sentry/kernel"
)

func TestSupportLevels(t *testing.T) {
	full := Supported("uptime", nil)
	if full.SupportLevel != kernel.SupportFull {
		t.Errorf("Supported().SupportLevel = %v, want %v", full.SupportLevel, kernel.SupportFull)
	}

	stub := Error("fork", linuxerr.ENOSYS)
	if stub.SupportLevel != kernel.SupportUnimplemented {
		t.Errorf("Error().SupportLevel = %v, want %v", stub.SupportLevel, kernel.SupportUnimplemented)
	}
	if got, want := stub.Note, "Returns ENOSYS."; got != want {
		t.Errorf("Error().Note = %q, want %q", got, want)
	}
	if _, err := stub.Fn(nil, 1, arch.SyscallArguments{}); err != linuxerr.ENOSYS {
		t.Errorf("Error().Fn returned %v, want %v", err, linuxerr.ENOSYS)
	}
}
