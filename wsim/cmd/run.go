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

package cmd

import (
	"context"
	"flag"
	"io"
	"os"
	"path/filepath"

	"github.com/google/subcommands"
	"gopkg.in/yaml.v3"
	"gvisor.dev/wmap/pkg/log"
	"gvisor.dev/wmap/pkg/metric"
	"gvisor.dev/wmap/pkg/sentry/kernel"
	"gvisor.dev/wmap/pkg/sentry/syscalls/linux"
	"gvisor.dev/wmap/wsim/config"
	"gvisor.dev/wmap/wsim/scenario"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	reportPath string
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "run a scenario of mapping system calls"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [flags] <scenario.yaml> - boots a kernel, runs every process of the scenario concurrently and prints a YAML report.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.reportPath, "report", "", "file the YAML report is written to. Defaults to stdout.")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	path := f.Arg(0)
	s, err := scenario.Load(path)
	if err != nil {
		Fatalf("loading scenario: %v", err)
	}

	kargs, err := conf.KernelArgs()
	if err != nil {
		Fatalf("%v", err)
	}
	kargs.SyscallTable = linux.X86
	k, err := kernel.New(kargs)
	if err != nil {
		Fatalf("creating kernel: %v", err)
	}
	defer k.Destroy()

	// The timer must stop before the kernel is destroyed.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if conf.TickInterval > 0 {
		k.StartTimer(ctx, conf.TickInterval)
	}

	report, err := scenario.Run(ctx, k, s, scenario.Options{
		Dir:          filepath.Dir(path),
		HostFileLock: conf.HostFileLock,
		Timer:        conf.TickInterval > 0,
	})
	if err != nil {
		log.Warningf("Scenario %q failed: %v", path, err)
		return subcommands.ExitFailure
	}
	if err := r.writeReport(report); err != nil {
		log.Warningf("Writing report: %v", err)
		return subcommands.ExitFailure
	}
	if conf.MetricsOut != "" {
		if err := writeMetrics(conf.MetricsOut); err != nil {
			log.Warningf("Writing metrics: %v", err)
			return subcommands.ExitFailure
		}
	}
	if report.Mismatches > 0 {
		log.Warningf("%d steps returned unexpected results", report.Mismatches)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (r *Run) writeReport(report *scenario.Report) error {
	var out io.Writer = os.Stdout
	if r.reportPath != "" {
		f, err := os.Create(r.reportPath)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(report); err != nil {
		return err
	}
	return enc.Close()
}

func writeMetrics(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := metric.WritePrometheus(f); err != nil {
		f.Close()
		return err
	}
	log.Infof("Wrote metrics to %q", path)
	return f.Close()
}
