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

package config

import (
	"flag"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"gvisor.dev/wmap/pkg/abi/linux"
	"gvisor.dev/wmap/pkg/refs"
	"gvisor.dev/wmap/pkg/sentry/kernel"
)

// configFileFlag names the TOML file read by NewFromFlags. It has no
// corresponding Config field.
const configFileFlag = "config"

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	flagSet.String(configFileFlag, "", "path to a TOML configuration file. Flags set on the command line take precedence over it.")

	// Debugging flags.
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.String("debug-log", "", "additional location for logs. The following variables are available: %TIMESTAMP%, %COMMAND%.")
	flagSet.String("debug-log-format", "text", "log format: text (default), json, or logrus.")
	flagSet.Bool("alsologtostderr", false, "send log messages to stderr.")
	flagSet.Var(leakModePtr(refs.NoLeakChecking), "ref-leak-mode", "sets reference leak check mode: disabled (default), warning, panic.")
	flagSet.String("metrics-out", "", "file where metrics are written in Prometheus text format after a run.")

	// Flags that control the simulated kernel.
	flagSet.Int("frames", 1024, "number of physical page frames available to all processes.")
	flagSet.Bool("poison-freed", false, "fill frames with a poison pattern when they are freed.")
	flagSet.Int("max-mappings", linux.MAX_WMMAP_INFO, "capacity of each process's mapping table.")
	flagSet.Int("max-fds", kernel.DefaultMaxFDs, "size of each process's file descriptor table.")
	flagSet.String("placement", "scan", "free-range search algorithm for non-fixed mappings: scan (default), sorted.")
	flagSet.Bool("host-file-lock", false, "take host advisory locks around file I/O done for mappings.")
	flagSet.Duration("tick-interval", 10*time.Millisecond, "period of the kernel timer that advances uptime. Zero disables the timer.")
}

// NewFromFlags creates a new Config with values coming from command line flags
// and, if --config is set, from a TOML file. Flags that were set explicitly
// override values in the file.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}

	obj := reflect.ValueOf(conf).Elem()
	st := obj.Type()
	fields := make(map[string]int)
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		fields[name] = i
		setField(obj.Field(i), flagSet, name)
	}

	if fl := flagSet.Lookup(configFileFlag); fl != nil && fl.Value.String() != "" {
		md, err := toml.DecodeFile(fl.Value.String(), conf)
		if err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", fl.Value.String(), err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown keys in config file %q: %v", fl.Value.String(), undecoded)
		}
		flagSet.Visit(func(fl *flag.Flag) {
			if i, ok := fields[fl.Name]; ok {
				setField(obj.Field(i), flagSet, fl.Name)
			}
		})
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func setField(field reflect.Value, flagSet *flag.FlagSet, name string) {
	fl := flagSet.Lookup(name)
	if fl == nil {
		panic(fmt.Sprintf("Flag %q not found", name))
	}
	field.Set(reflect.ValueOf(fl.Value.(flag.Getter).Get()))
}

// ToFlags returns a slice of flags that correspond to the given Config.
func (c *Config) ToFlags() []string {
	var rv []string

	// Construct a temporary set for default plumbing.
	flagSet := flag.NewFlagSet("tmp", flag.ContinueOnError)
	RegisterFlags(flagSet)

	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		val := getVal(obj.Field(i))

		flag := flagSet.Lookup(name)
		if flag == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		if val == flag.DefValue {
			continue
		}
		rv = append(rv, fmt.Sprintf("--%s=%s", flag.Name, val))
	}
	return rv
}

func getVal(field reflect.Value) string {
	if str, ok := field.Addr().Interface().(fmt.Stringer); ok {
		return str.String()
	}
	switch field.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(field.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(field.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(field.Uint(), 10)
	case reflect.String:
		return field.String()
	default:
		panic("unknown type " + field.Kind().String())
	}
}

func leakModePtr(v refs.LeakMode) *refs.LeakMode {
	return &v
}
