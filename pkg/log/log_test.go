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

package log

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"
)

type testWriter struct {
	lines []string
	fail  bool
	limit int
}

func (w *testWriter) Write(bytes []byte) (int, error) {
	if w.fail {
		return 0, fmt.Errorf("simulated failure")
	}
	if w.limit > 0 && len(w.lines) >= w.limit {
		return len(bytes), nil
	}
	w.lines = append(w.lines, string(bytes))
	return len(bytes), nil
}

func TestDropMessages(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("line 1\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	tw.fail = true
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}

	tw.fail = false
	if _, err := w.Write([]byte("line 2\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	expected := []string{
		"line 1\n",
		"line 2\n",
		"\n*** Dropped 2 log messages ***\n",
	}
	if len(tw.lines) != len(expected) {
		t.Fatalf("Writer should have logged %d lines, got: %v, expected: %v", len(expected), tw.lines, expected)
	}
	for i, l := range tw.lines {
		if l != expected[i] {
			t.Fatalf("line %d doesn't match, got: %v, expected: %v", i, l, expected[i])
		}
	}
}

func TestCaller(t *testing.T) {
	tw := &testWriter{}
	e := GoogleEmitter{&Writer{Next: tw}}
	bl := &BasicLogger{
		Emitter: e,
		Level:   Debug,
	}
	bl.Debugf("testing...\n") // Just for file:line.
	if len(tw.lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(tw.lines))
	}
	if !strings.Contains(tw.lines[0], "log_test.go:") {
		t.Errorf("log line %q does not name its caller", tw.lines[0])
	}
	if tw.lines[0][0] != 'D' {
		t.Errorf("log line %q does not start with the debug level", tw.lines[0])
	}
}

func TestLevels(t *testing.T) {
	tw := &testWriter{}
	bl := &BasicLogger{
		Emitter: &Writer{Next: tw},
		Level:   Info,
	}
	bl.Debugf("dropped")
	bl.Infof("kept %d", 1)
	bl.Warningf("kept %d", 2)
	if got, want := strings.Join(tw.lines, ""), "kept 1\nkept 2\n"; got != want {
		t.Errorf("got %q want %q", got, want)
	}
	bl.SetLevel(Warning)
	if bl.IsLogging(Info) {
		t.Errorf("IsLogging(Info) at level Warning got true")
	}
}

func TestJSONEmitter(t *testing.T) {
	var buf bytes.Buffer
	e := JSONEmitter{&Writer{Next: &buf}}
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	e.Emit(0, Warning, ts, "wmap %#x", 0x60000000)

	var got jsonLog
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &got); err != nil {
		t.Fatalf("json.Unmarshal(%q) failed: %v", buf.String(), err)
	}
	if got.Msg != "wmap 0x60000000" || got.Level != Warning || !got.Time.Equal(ts) {
		t.Errorf("got %+v", got)
	}
	if !strings.HasPrefix(got.Caller, "log_test.go:") {
		t.Errorf("caller got %q", got.Caller)
	}
}

func TestLogrusEmitter(t *testing.T) {
	var buf bytes.Buffer
	bl := &BasicLogger{Emitter: NewLogrusEmitter(&buf), Level: Debug}
	bl.Infof("fault at %#x", 0x60001000)
	out := buf.String()
	for _, want := range []string{"level=info", `msg="fault at 0x60001000"`, "caller=\"log_test.go:"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q does not contain %q", out, want)
		}
	}
}

func TestRateLimited(t *testing.T) {
	tw := &testWriter{}
	bl := &BasicLogger{Emitter: &Writer{Next: tw}, Level: Debug}
	rl := RateLimitedLogger(bl, time.Hour)
	for i := 0; i < 5; i++ {
		rl.Warningf("killed %d", i)
	}
	if got, want := strings.Join(tw.lines, ""), "killed 0\n"; got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestLevelJSON(t *testing.T) {
	for _, l := range []Level{Warning, Info, Debug} {
		b, err := json.Marshal(l)
		if err != nil {
			t.Fatalf("Marshal(%v) failed: %v", l, err)
		}
		var back Level
		if err := json.Unmarshal(b, &back); err != nil {
			t.Fatalf("Unmarshal(%s) failed: %v", b, err)
		}
		if back != l {
			t.Errorf("round trip of %v got %v", l, back)
		}
	}
}
