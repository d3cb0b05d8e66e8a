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
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/wmap/pkg/refs"
	"gvisor.dev/wmap/pkg/sentry/mm"
)

func newTestFlags(t *testing.T, args ...string) *flag.FlagSet {
	t.Helper()
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	if err := testFlags.Parse(args); err != nil {
		t.Fatalf("Parse(%v) failed: %v", args, err)
	}
	return testFlags
}

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wsim.toml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	c, err := NewFromFlags(newTestFlags(t))
	if err != nil {
		t.Fatal(err)
	}

	// All defaults doesn't require setting flags.
	if flags := c.ToFlags(); len(flags) > 0 {
		t.Errorf("default flags not set correctly for: %s", flags)
	}
	want := &Config{
		DebugLogFormat: "text",
		Frames:         1024,
		MaxMappings:    16,
		MaxFDs:         16,
		Placement:      "scan",
		TickInterval:   10 * time.Millisecond,
		ReferenceLeak:  refs.NoLeakChecking,
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("NewFromFlags() mismatch (-want +got):\n%s", diff)
	}
}

func TestFromFlags(t *testing.T) {
	c, err := NewFromFlags(newTestFlags(t,
		"--debug",
		"--frames=64",
		"--placement=sorted",
		"--tick-interval=1ms",
		"--ref-leak-mode=warning",
	))
	if err != nil {
		t.Fatal(err)
	}
	if want := true; c.Debug != want {
		t.Errorf("Debug=%v, want: %v", c.Debug, want)
	}
	if want := 64; c.Frames != want {
		t.Errorf("Frames=%v, want: %v", c.Frames, want)
	}
	if want := "sorted"; c.Placement != want {
		t.Errorf("Placement=%v, want: %v", c.Placement, want)
	}
	if want := time.Millisecond; c.TickInterval != want {
		t.Errorf("TickInterval=%v, want: %v", c.TickInterval, want)
	}
	if want := refs.LeaksLogWarning; c.ReferenceLeak != want {
		t.Errorf("ReferenceLeak=%v, want: %v", c.ReferenceLeak, want)
	}
}

func TestToFlagsFromFlags(t *testing.T) {
	c, err := NewFromFlags(newTestFlags(t,
		"--debug=true",
		"--frames=1024", // Matches default value.
		"--max-mappings=4",
		"--placement=sorted",
	))
	if err != nil {
		t.Fatal(err)
	}

	got := c.ToFlags()
	want := []string{"--debug=true", "--max-mappings=4", "--placement=sorted"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ToFlags() mismatch (-want +got):\n%s", diff)
	}

	// Parsing the flags back yields the same config.
	c2, err := NewFromFlags(newTestFlags(t, got...))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(c, c2); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		args []string
		want string
	}{
		{name: "log format", args: []string{"--debug-log-format=xml"}, want: "debug-log-format"},
		{name: "frames", args: []string{"--frames=0"}, want: "frames"},
		{name: "max mappings zero", args: []string{"--max-mappings=0"}, want: "max-mappings"},
		{name: "max mappings too large", args: []string{"--max-mappings=17"}, want: "max-mappings"},
		{name: "max fds", args: []string{"--max-fds=-1"}, want: "max-fds"},
		{name: "placement", args: []string{"--placement=best-fit"}, want: "placement"},
		{name: "tick interval", args: []string{"--tick-interval=-1s"}, want: "tick-interval"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewFromFlags(newTestFlags(t, tc.args...))
			if err == nil {
				t.Fatalf("NewFromFlags(%v) succeeded, want error", tc.args)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("NewFromFlags(%v) = %v, want error mentioning %q", tc.args, err, tc.want)
			}
		})
	}
}

func TestConfigFile(t *testing.T) {
	path := writeConfigFile(t, `
frames = 32
placement = "sorted"
tick-interval = "25ms"
ref-leak-mode = "panic"
debug = true
`)
	c, err := NewFromFlags(newTestFlags(t, "--config="+path, "--frames=48", "--debug=false"))
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{
		DebugLogFormat: "text",
		// Explicit flags win over the file, even when they set defaults.
		Frames:        48,
		Debug:         false,
		MaxMappings:   16,
		MaxFDs:        16,
		Placement:     "sorted",
		TickInterval:  25 * time.Millisecond,
		ReferenceLeak: refs.LeaksPanic,
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("NewFromFlags() mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigFileErrors(t *testing.T) {
	for _, tc := range []struct {
		name     string
		contents string
	}{
		{name: "unknown key", contents: "frame = 3\n"},
		{name: "syntax", contents: "frames = \n"},
		{name: "invalid value", contents: "placement = \"random\"\n"},
		{name: "invalid leak mode", contents: "ref-leak-mode = \"sometimes\"\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfigFile(t, tc.contents)
			if _, err := NewFromFlags(newTestFlags(t, "--config="+path)); err == nil {
				t.Errorf("NewFromFlags() with config %q succeeded, want error", tc.contents)
			}
		})
	}

	if _, err := NewFromFlags(newTestFlags(t, "--config="+filepath.Join(t.TempDir(), "missing.toml"))); err == nil {
		t.Errorf("NewFromFlags() with missing config file succeeded, want error")
	}
}

func TestWriteTOML(t *testing.T) {
	c, err := NewFromFlags(newTestFlags(t, "--frames=77", "--placement=sorted", "--ref-leak-mode=warning"))
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := c.WriteTOML(&buf); err != nil {
		t.Fatalf("WriteTOML failed: %v", err)
	}
	for _, want := range []string{
		`frames = 77`,
		`placement = "sorted"`,
		`ref-leak-mode = "warning"`,
	} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("WriteTOML() output missing %q:\n%s", want, buf.String())
		}
	}
}

func TestClone(t *testing.T) {
	c, err := NewFromFlags(newTestFlags(t, "--frames=5"))
	if err != nil {
		t.Fatal(err)
	}
	clone := c.Clone()
	if diff := cmp.Diff(c, clone); diff != "" {
		t.Errorf("Clone() mismatch (-want +got):\n%s", diff)
	}
	clone.Frames = 6
	if c.Frames != 5 {
		t.Errorf("modifying the clone changed the original: Frames=%d", c.Frames)
	}
}

func TestKernelArgs(t *testing.T) {
	c, err := NewFromFlags(newTestFlags(t, "--frames=12", "--max-mappings=3", "--max-fds=4", "--placement=sorted", "--poison-freed"))
	if err != nil {
		t.Fatal(err)
	}
	args, err := c.KernelArgs()
	if err != nil {
		t.Fatalf("KernelArgs failed: %v", err)
	}
	if args.Frames != 12 || args.MaxFDs != 4 || !args.PoisonFreed {
		t.Errorf("KernelArgs() = %+v, want Frames=12 MaxFDs=4 PoisonFreed=true", args)
	}
	want := mm.Options{MaxMappings: 3, Placement: mm.PlacementSorted}
	if diff := cmp.Diff(want, args.MemoryManagerOptions); diff != "" {
		t.Errorf("MemoryManagerOptions mismatch (-want +got):\n%s", diff)
	}
}
