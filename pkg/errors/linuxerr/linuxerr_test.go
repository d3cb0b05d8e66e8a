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

package linuxerr

import (
	"fmt"
	"testing"

	"golang.org/x/sys/unix"
	"gvisor.dev/wmap/pkg/abi/linux/errno"
	"gvisor.dev/wmap/pkg/errors"
)

func TestEquals(t *testing.T) {
	for _, tc := range []struct {
		name string
		e    *errors.Error
		err  error
		want bool
	}{
		{name: "identity", e: EINVAL, err: EINVAL, want: true},
		{name: "unix", e: EINVAL, err: unix.EINVAL, want: true},
		{name: "wrapped", e: EFAULT, err: fmt.Errorf("copyout: %w", EFAULT), want: true},
		{name: "same errno other message", e: ENOMEM, err: errors.New(errno.ENOMEM, "table full"), want: true},
		{name: "different", e: EINVAL, err: EBADF, want: false},
		{name: "nil", e: nil, err: nil, want: true},
		{name: "nil vs error", e: nil, err: EIO, want: false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := Equals(tc.e, tc.err); got != tc.want {
				t.Errorf("Equals(%v, %v) = %v, want %v", tc.e, tc.err, got, tc.want)
			}
		})
	}
}

func TestErrorFromUnix(t *testing.T) {
	if err := ErrorFromUnix(unix.EBADF); err != EBADF {
		t.Errorf("ErrorFromUnix(EBADF) got %v want %v", err, EBADF)
	}
	if err := ErrorFromUnix(unix.Errno(0)); err != nil {
		t.Errorf("ErrorFromUnix(0) got %v want nil", err)
	}
	err := ErrorFromUnix(unix.ENOTSOCK)
	if got, _ := ErrnoOf(err); got != errno.Errno(unix.ENOTSOCK) {
		t.Errorf("ErrnoOf(ErrorFromUnix(ENOTSOCK)) got %v want %v", got, unix.ENOTSOCK)
	}
}

func TestToUnix(t *testing.T) {
	if got := ToUnix(EEXIST); got != unix.EEXIST {
		t.Errorf("ToUnix(EEXIST) got %v want %v", got, unix.EEXIST)
	}
	if got := ToUnix(nil); got != 0 {
		t.Errorf("ToUnix(nil) got %v want 0", got)
	}
}
