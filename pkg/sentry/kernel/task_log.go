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
	"fmt"

	"gvisor.dev/wmap/pkg/log"
)

func (t *Task) logPrefix() string {
	return fmt.Sprintf("[%v:%s] ", t.tid, t.name)
}

// Debugf creates a debug log message prefixed with the task's identity.
func (t *Task) Debugf(format string, v ...any) {
	if log.IsLogging(log.Debug) {
		log.DebugfAtDepth(1, t.logPrefix()+format, v...)
	}
}

// Infof creates an info log message prefixed with the task's identity.
func (t *Task) Infof(format string, v ...any) {
	if log.IsLogging(log.Info) {
		log.Log().InfofAtDepth(1, t.logPrefix()+format, v...)
	}
}

// Warningf creates a warning log message prefixed with the task's identity.
func (t *Task) Warningf(format string, v ...any) {
	if log.IsLogging(log.Warning) {
		log.Log().WarningfAtDepth(1, t.logPrefix()+format, v...)
	}
}
