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

// Package scenario loads and runs scripted sequences of mapping system calls.
//
// A scenario lists processes, each with a list of steps. Every process runs
// as its own task, concurrently with the others, and each step issues one
// system call or one user-mode memory access. Step arguments are integers or
// references to the results of earlier steps of the same process, e.g.
// "$buf" or "$buf+0x1000".
package scenario

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
	"gvisor.dev/wmap/pkg/abi/linux"
)

// Scenario is a set of processes run against one kernel.
type Scenario struct {
	Processes []Process `yaml:"processes"`
}

// Process is a named sequence of steps executed by one task.
type Process struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Step is one operation. Which fields are used depends on Op:
//
//	open:      path, data, length
//	close:     fd
//	dup:       fd
//	wmap:      addr, length, flags, fd
//	wunmap:    addr
//	wremap:    addr, length, new-size, flags
//	write:     addr, data
//	read:      addr, length
//	wmapinfo:  addr (optional)
//	pgdirinfo: addr (optional)
//	uptime, getpid, exit
//	sleep:     ticks
type Step struct {
	Op string `yaml:"op"`

	// As names the step's result for later references.
	As string `yaml:"as,omitempty"`

	Path    string `yaml:"path,omitempty"`
	Data    string `yaml:"data,omitempty"`
	Addr    Expr   `yaml:"addr,omitempty"`
	Length  Expr   `yaml:"length,omitempty"`
	NewSize Expr   `yaml:"new-size,omitempty"`
	Flags   Flags  `yaml:"flags,omitempty"`
	FD      Expr   `yaml:"fd,omitempty"`
	Ticks   Expr   `yaml:"ticks,omitempty"`

	// Expect, if set, is compared against the step's result.
	Expect Expr `yaml:"expect,omitempty"`
}

// required lists the fields each operation cannot do without.
var required = map[string][]string{
	"open":      {"path"},
	"close":     {"fd"},
	"dup":       {"fd"},
	"wmap":      {"length"},
	"wunmap":    {"addr"},
	"wremap":    {"addr", "length", "new-size"},
	"write":     {"addr", "data"},
	"read":      {"addr", "length"},
	"wmapinfo":  nil,
	"pgdirinfo": nil,
	"uptime":    nil,
	"getpid":    nil,
	"exit":      nil,
	"sleep":     {"ticks"},
}

func (s *Step) has(field string) bool {
	switch field {
	case "path":
		return s.Path != ""
	case "data":
		return s.Data != ""
	case "addr":
		return s.Addr != ""
	case "length":
		return s.Length != ""
	case "new-size":
		return s.NewSize != ""
	case "fd":
		return s.FD != ""
	case "ticks":
		return s.Ticks != ""
	default:
		panic(fmt.Sprintf("unknown step field %q", field))
	}
}

func (s *Step) validate() error {
	fields, ok := required[s.Op]
	if !ok {
		return fmt.Errorf("unknown op %q", s.Op)
	}
	for _, f := range fields {
		if !s.has(f) {
			return fmt.Errorf("op %q requires %q", s.Op, f)
		}
	}
	return nil
}

// Load reads a scenario from the YAML file at path.
func Load(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	s, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("unable to decode %q: %w", path, err)
	}
	return s, nil
}

// Parse decodes a scenario from YAML text.
func Parse(data []byte) (*Scenario, error) {
	return Decode(bytes.NewReader(data))
}

// Decode reads a scenario from r and checks that every step is well formed.
// Unknown keys are rejected.
func Decode(r io.Reader) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, err
	}
	if len(s.Processes) == 0 {
		return nil, fmt.Errorf("scenario has no processes")
	}
	names := make(map[string]struct{})
	for i := range s.Processes {
		p := &s.Processes[i]
		if p.Name == "" {
			p.Name = fmt.Sprintf("proc%d", i)
		}
		if _, ok := names[p.Name]; ok {
			return nil, fmt.Errorf("duplicate process name %q", p.Name)
		}
		names[p.Name] = struct{}{}
		for j := range p.Steps {
			if err := p.Steps[j].validate(); err != nil {
				return nil, fmt.Errorf("process %q step %d: %w", p.Name, j, err)
			}
		}
	}
	return &s, nil
}

// Expr is an integer argument: a literal in any base strconv accepts, or a
// reference to a named result with an optional signed offset.
type Expr string

// UnmarshalYAML implements yaml.Unmarshaler.
func (e *Expr) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar, got %v", node.Line, node.Tag)
	}
	*e = Expr(strings.TrimSpace(node.Value))
	return nil
}

// Eval returns the value of e. Names are looked up in env.
func (e Expr) Eval(env map[string]int64) (int64, error) {
	s := string(e)
	if !strings.HasPrefix(s, "$") {
		return strconv.ParseInt(s, 0, 64)
	}
	name, off := s[1:], ""
	if i := strings.IndexAny(name, "+-"); i >= 0 {
		name, off = strings.TrimSpace(name[:i]), strings.TrimSpace(name[i:])
	}
	v, ok := env[name]
	if !ok {
		return 0, fmt.Errorf("undefined reference %q", "$"+name)
	}
	if off == "" {
		return v, nil
	}
	sign := int64(1)
	if off[0] == '-' {
		sign = -1
	}
	d, err := strconv.ParseInt(strings.TrimSpace(off[1:]), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid offset in %q: %w", s, err)
	}
	return v + sign*d, nil
}

// EvalOr is like Eval, but returns def if e is empty.
func (e Expr) EvalOr(env map[string]int64, def int64) (int64, error) {
	if e == "" {
		return def, nil
	}
	return e.Eval(env)
}

// flagNames maps the names accepted in a flags list to their bits. wmap and
// wremap flags share the namespace.
var flagNames = map[string]int32{
	"private":   linux.MAP_PRIVATE,
	"shared":    linux.MAP_SHARED,
	"anonymous": linux.MAP_ANONYMOUS,
	"fixed":     linux.MAP_FIXED,
	"maymove":   linux.MREMAP_MAYMOVE,
}

// Flags is a flags argument, written either as an integer or as a list of
// flag names.
type Flags int32

// UnmarshalYAML implements yaml.Unmarshaler.
func (f *Flags) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		v, err := strconv.ParseInt(node.Value, 0, 32)
		if err != nil {
			return fmt.Errorf("line %d: invalid flags %q: %w", node.Line, node.Value, err)
		}
		*f = Flags(v)
		return nil
	case yaml.SequenceNode:
		var names []string
		if err := node.Decode(&names); err != nil {
			return err
		}
		var bits int32
		for _, name := range names {
			b, ok := flagNames[strings.ToLower(name)]
			if !ok {
				return fmt.Errorf("line %d: unknown flag %q", node.Line, name)
			}
			bits |= b
		}
		*f = Flags(bits)
		return nil
	default:
		return fmt.Errorf("line %d: flags must be an integer or a list", node.Line)
	}
}
