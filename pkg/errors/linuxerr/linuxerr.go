// Copyright 2021 The gVisor Authors.
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

// Package linuxerr contains syscall error codes exported as error interface
// pointers. This allows for fast comparison and return operations comparable
// to unix.Errno constants.
package linuxerr

import (
	goerrors "errors"

	"golang.org/x/sys/unix"
	"gvisor.dev/wmap/pkg/abi/linux/errno"
	"gvisor.dev/wmap/pkg/errors"
)

// The following errors are semantically identical to Errno of type
// unix.Errno. Since the types are distinct (these are *errors.Error) they
// are not directly comparable; the Errno method returns a number such that
// unix.Errno(EINVAL.Errno()) == unix.EINVAL.
var (
	noError *errors.Error = nil
	EPERM                 = errors.New(errno.EPERM, "operation not permitted")
	ENOENT                = errors.New(errno.ENOENT, "no such file or directory")
	EINTR                 = errors.New(errno.EINTR, "interrupted system call")
	EIO                   = errors.New(errno.EIO, "I/O error")
	EBADF                 = errors.New(errno.EBADF, "bad file number")
	EAGAIN                = errors.New(errno.EAGAIN, "try again")
	ENOMEM                = errors.New(errno.ENOMEM, "out of memory")
	EACCES                = errors.New(errno.EACCES, "permission denied")
	EFAULT                = errors.New(errno.EFAULT, "bad address")
	EBUSY                 = errors.New(errno.EBUSY, "device or resource busy")
	EEXIST                = errors.New(errno.EEXIST, "file exists")
	EINVAL                = errors.New(errno.EINVAL, "invalid argument")
	EMFILE                = errors.New(errno.EMFILE, "too many open files")
	ENOSPC                = errors.New(errno.ENOSPC, "no space left on device")
	ERANGE                = errors.New(errno.ERANGE, "math result not representable")
	ENOSYS                = errors.New(errno.ENOSYS, "invalid system call number")
)

var errNotValidError = goerrors.New("errno not valid")

// errorSlice holds the sentinels by errno for O(1) translation from host
// errors.
var errorSlice = map[errno.Errno]*errors.Error{
	errno.NOERRNO: noError,
	errno.EPERM:   EPERM,
	errno.ENOENT:  ENOENT,
	errno.EINTR:   EINTR,
	errno.EIO:     EIO,
	errno.EBADF:   EBADF,
	errno.EAGAIN:  EAGAIN,
	errno.ENOMEM:  ENOMEM,
	errno.EACCES:  EACCES,
	errno.EFAULT:  EFAULT,
	errno.EBUSY:   EBUSY,
	errno.EEXIST:  EEXIST,
	errno.EINVAL:  EINVAL,
	errno.EMFILE:  EMFILE,
	errno.ENOSPC:  ENOSPC,
	errno.ERANGE:  ERANGE,
	errno.ENOSYS:  ENOSYS,
}

// ErrorFromUnix returns a linuxerr from a unix.Errno. Errnos with no
// sentinel here are wrapped in a fresh *errors.Error.
func ErrorFromUnix(err unix.Errno) error {
	if err == unix.Errno(0) {
		return nil
	}
	if e, ok := errorSlice[errno.Errno(err)]; ok {
		return e
	}
	return errors.New(errno.Errno(err), err.Error())
}

// ToError converts a linuxerr to an error type.
func ToError(err *errors.Error) error {
	if err == noError {
		return nil
	}
	return err
}

// ToUnix converts a linuxerr to a unix.Errno.
func ToUnix(e *errors.Error) unix.Errno {
	var unixErr unix.Errno
	if e != noError {
		unixErr = unix.Errno(e.Errno())
	}
	return unixErr
}

// Equals compares a linuxerr to a given error. Any error wrapping a value
// with the same errno, or a unix.Errno with the same number, matches.
func Equals(e *errors.Error, err error) bool {
	var unixErr unix.Errno
	if goerrors.As(err, &unixErr) {
		return e != nil && unix.Errno(e.Errno()) == unixErr
	}
	var linuxErr *errors.Error
	if goerrors.As(err, &linuxErr) {
		return e != nil && linuxErr != nil && e.Errno() == linuxErr.Errno()
	}
	return e == nil && err == nil
}

// ErrnoOf returns the errno carried by err, or an error if err carries none.
func ErrnoOf(err error) (errno.Errno, error) {
	var linuxErr *errors.Error
	if goerrors.As(err, &linuxErr) && linuxErr != nil {
		return linuxErr.Errno(), nil
	}
	var unixErr unix.Errno
	if goerrors.As(err, &unixErr) {
		return errno.Errno(unixErr), nil
	}
	return errno.NOERRNO, errNotValidError
}
