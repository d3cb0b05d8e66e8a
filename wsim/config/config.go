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

// Package config provides basic infrastructure to set configuration settings
// for wsim. Each setting that can be changed from the command line must have
// a "flag" tag in the Config struct, and each setting that can be read from a
// configuration file must have a "toml" tag.
package config

import (
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mohae/deepcopy"
	"gvisor.dev/wmap/pkg/abi/linux"
	"gvisor.dev/wmap/pkg/log"
	"gvisor.dev/wmap/pkg/refs"
	"gvisor.dev/wmap/pkg/sentry/kernel"
	"gvisor.dev/wmap/pkg/sentry/mm"
)

// Config holds configuration that is not part of the scenario file.
//
// Follow these steps to add a new flag:
//  1. Create a new field in Config.
//  2. Add a field tag with the flag name and a matching toml tag.
//  3. Register a new flag in flags.go, with same name and add a description.
//  4. Add any necessary validation into validate().
type Config struct {
	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug" toml:"debug"`

	// DebugLog is the path to log debug information to, if not empty. The
	// variables %COMMAND% and %TIMESTAMP% are expanded.
	DebugLog string `flag:"debug-log" toml:"debug-log"`

	// DebugLogFormat is the log format for debug: text, json or logrus.
	DebugLogFormat string `flag:"debug-log-format" toml:"debug-log-format"`

	// AlsoLogToStderr allows to send log messages to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr" toml:"alsologtostderr"`

	// Frames is the number of physical page frames the kernel can allocate.
	Frames int `flag:"frames" toml:"frames"`

	// PoisonFreed fills frames with a poison pattern when they are freed.
	PoisonFreed bool `flag:"poison-freed" toml:"poison-freed"`

	// MaxMappings is the capacity of each process's mapping table.
	MaxMappings int `flag:"max-mappings" toml:"max-mappings"`

	// MaxFDs is the size of each process's descriptor table.
	MaxFDs int `flag:"max-fds" toml:"max-fds"`

	// Placement is the free-range search algorithm: scan or sorted.
	Placement string `flag:"placement" toml:"placement"`

	// HostFileLock takes host advisory locks around file I/O done on behalf
	// of mappings.
	HostFileLock bool `flag:"host-file-lock" toml:"host-file-lock"`

	// TickInterval is the period of the kernel timer. Zero disables it.
	TickInterval time.Duration `flag:"tick-interval" toml:"tick-interval"`

	// MetricsOut is the file metrics are written to, in Prometheus text
	// format, after a run. Empty disables it.
	MetricsOut string `flag:"metrics-out" toml:"metrics-out"`

	// ReferenceLeak sets reference leak check mode.
	ReferenceLeak refs.LeakMode `flag:"ref-leak-mode" toml:"ref-leak-mode"`
}

func (c *Config) validate() error {
	switch c.DebugLogFormat {
	case "text", "json", "logrus":
	default:
		return fmt.Errorf("invalid debug-log-format %q, must be 'text', 'json', or 'logrus'", c.DebugLogFormat)
	}
	if c.Frames <= 0 {
		return fmt.Errorf("frames must be positive, got: %d", c.Frames)
	}
	if c.MaxMappings <= 0 || c.MaxMappings > linux.MAX_WMMAP_INFO {
		return fmt.Errorf("max-mappings must be in [1, %d], got: %d", linux.MAX_WMMAP_INFO, c.MaxMappings)
	}
	if c.MaxFDs <= 0 {
		return fmt.Errorf("max-fds must be positive, got: %d", c.MaxFDs)
	}
	if _, err := mm.ParsePlacement(c.Placement); err != nil {
		return err
	}
	if c.TickInterval < 0 {
		return fmt.Errorf("tick-interval must not be negative, got: %v", c.TickInterval)
	}
	return nil
}

// KernelArgs returns the arguments used to boot a kernel with this
// configuration. The syscall table is left for the caller to fill in.
func (c *Config) KernelArgs() (kernel.InitKernelArgs, error) {
	placement, err := mm.ParsePlacement(c.Placement)
	if err != nil {
		return kernel.InitKernelArgs{}, err
	}
	return kernel.InitKernelArgs{
		Frames:      c.Frames,
		PoisonFreed: c.PoisonFreed,
		MemoryManagerOptions: mm.Options{
			MaxMappings: c.MaxMappings,
			Placement:   placement,
		},
		MaxFDs: c.MaxFDs,
	}, nil
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	return deepcopy.Copy(c).(*Config)
}

// WriteTOML writes c to w in the configuration file format.
func (c *Config) WriteTOML(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		log.Infof("  %s: %v", st.Field(i).Name, obj.Field(i).Interface())
	}
}
