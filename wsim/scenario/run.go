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

package scenario

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"gvisor.dev/wmap/pkg/abi/linux"
	"gvisor.dev/wmap/pkg/errors/linuxerr"
	"gvisor.dev/wmap/pkg/hostarch"
	"gvisor.dev/wmap/pkg/log"
	"gvisor.dev/wmap/pkg/sentry/arch"
	"gvisor.dev/wmap/pkg/sentry/kernel"
	"gvisor.dev/wmap/pkg/sentry/vfs"
)

// Options configures Run.
type Options struct {
	// Dir is the directory relative file paths are resolved against.
	Dir string

	// HostFileLock is passed to every file opened by the scenario.
	HostFileLock bool

	// Timer indicates that the kernel timer is running. sleep steps fail
	// without it.
	Timer bool
}

// Report is the outcome of a run.
type Report struct {
	Processes []ProcessReport `yaml:"processes"`

	// Ticks is the kernel's uptime when the last process finished.
	Ticks uint64 `yaml:"ticks"`

	// Mismatches counts steps whose result differed from their expect.
	Mismatches int `yaml:"mismatches"`
}

// ProcessReport is the outcome of one process.
type ProcessReport struct {
	Name   string       `yaml:"name"`
	TID    int32        `yaml:"tid"`
	Killed bool         `yaml:"killed,omitempty"`
	Steps  []StepResult `yaml:"steps"`
}

// StepResult is the outcome of one step.
type StepResult struct {
	Op string `yaml:"op"`

	// Result is the system call's return value. For write and read it is
	// the number of bytes transferred, or FAILED.
	Result int64 `yaml:"result"`

	// Addr is Result in hexadecimal, for steps that return an address.
	Addr string `yaml:"addr,omitempty"`

	// Errno names the error of a failed step.
	Errno string `yaml:"errno,omitempty"`

	// Data holds the bytes read by a read step.
	Data string `yaml:"data,omitempty"`

	Mappings []Mapping `yaml:"mappings,omitempty"`
	Pages    []Page    `yaml:"pages,omitempty"`

	Mismatch bool `yaml:"mismatch,omitempty"`
}

// Mapping is one entry of a wmapinfo result.
type Mapping struct {
	Addr        string `yaml:"addr"`
	Length      int32  `yaml:"length"`
	LoadedPages int32  `yaml:"loaded-pages"`
}

// Page is one entry of a pgdirinfo result.
type Page struct {
	VA string `yaml:"va"`
	PA string `yaml:"pa"`
}

// Run executes every process of s concurrently on k, one task per process,
// and returns their results. Failing system calls are recorded in the report;
// Run itself fails only when a step cannot be carried out, e.g. because of an
// undefined reference or a host file that cannot be opened.
func Run(ctx context.Context, k *kernel.Kernel, s *Scenario, opts Options) (*Report, error) {
	report := &Report{
		Processes: make([]ProcessReport, len(s.Processes)),
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := range s.Processes {
		i := i
		g.Go(func() error {
			r := runner{
				k:    k,
				opts: opts,
				task: k.NewTask(s.Processes[i].Name),
				env:  make(map[string]int64),
			}
			defer r.task.Exit()
			pr, err := r.run(ctx, &s.Processes[i])
			report.Processes[i] = pr
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, pr := range report.Processes {
		for _, res := range pr.Steps {
			if res.Mismatch {
				report.Mismatches++
			}
		}
	}
	report.Ticks = k.Ticker().Ticks()
	return report, nil
}

// runner executes the steps of one process.
type runner struct {
	k    *kernel.Kernel
	opts Options
	task *kernel.Task

	// env holds named results.
	env map[string]int64
}

func (r *runner) run(ctx context.Context, p *Process) (ProcessReport, error) {
	pr := ProcessReport{
		Name: p.Name,
		TID:  int32(r.task.ThreadID()),
	}
	for i := range p.Steps {
		if err := ctx.Err(); err != nil {
			return pr, err
		}
		step := &p.Steps[i]
		res, err := r.step(ctx, step)
		if err != nil {
			return pr, fmt.Errorf("process %q step %d (%s): %w", p.Name, i, step.Op, err)
		}
		if step.As != "" {
			r.env[step.As] = res.Result
		}
		if step.Expect != "" {
			want, err := step.Expect.Eval(r.env)
			if err != nil {
				return pr, fmt.Errorf("process %q step %d (%s): expect: %w", p.Name, i, step.Op, err)
			}
			if want != res.Result {
				r.task.Warningf("Step %d (%s) returned %d, expected %d", i, step.Op, res.Result, want)
				res.Mismatch = true
			}
		}
		pr.Steps = append(pr.Steps, res)
	}
	pr.Killed = r.task.Killed()
	return pr, nil
}

// args evaluates exprs, substituting defs[i] for empty expressions.
func (r *runner) args(exprs []Expr, defs ...int64) ([]int64, error) {
	vals := make([]int64, len(exprs))
	for i, e := range exprs {
		var def int64
		if i < len(defs) {
			def = defs[i]
		}
		v, err := e.EvalOr(r.env, def)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

// syscall issues sysno with integer arguments truncated to argument
// registers.
func (r *runner) syscall(op string, sysno uintptr, vals ...int64) StepResult {
	var args arch.SyscallArguments
	for i, v := range vals {
		args[i] = arch.SyscallArgument{Value: uintptr(v)}
	}
	ret := r.task.Syscall(sysno, args)
	res := StepResult{Op: op, Result: int64(ret)}
	if ret == linux.FAILED {
		res.Errno = r.task.LastErrno().String()
	}
	return res
}

// failed records err as the outcome of a step that failed inside the task.
func failed(op string, err error) StepResult {
	res := StepResult{Op: op, Result: linux.FAILED}
	if e, errnoErr := linuxerr.ErrnoOf(err); errnoErr == nil {
		res.Errno = e.String()
	} else {
		res.Errno = err.Error()
	}
	return res
}

func (r *runner) step(ctx context.Context, s *Step) (StepResult, error) {
	switch s.Op {
	case "open":
		return r.open(s)

	case "close", "dup":
		vals, err := r.args([]Expr{s.FD})
		if err != nil {
			return StepResult{}, err
		}
		sysno := uintptr(linux.SYS_CLOSE)
		if s.Op == "dup" {
			sysno = linux.SYS_DUP
		}
		return r.syscall(s.Op, sysno, vals...), nil

	case "wmap":
		vals, err := r.args([]Expr{s.Addr, s.Length, "", s.FD}, 0, 0, 0, -1)
		if err != nil {
			return StepResult{}, err
		}
		vals[2] = int64(s.Flags)
		return withAddr(r.syscall(s.Op, linux.SYS_WMAP, vals...)), nil

	case "wunmap":
		vals, err := r.args([]Expr{s.Addr})
		if err != nil {
			return StepResult{}, err
		}
		return r.syscall(s.Op, linux.SYS_WUNMAP, vals...), nil

	case "wremap":
		vals, err := r.args([]Expr{s.Addr, s.Length, s.NewSize})
		if err != nil {
			return StepResult{}, err
		}
		vals = append(vals, int64(s.Flags))
		return withAddr(r.syscall(s.Op, linux.SYS_WREMAP, vals...)), nil

	case "write":
		vals, err := r.args([]Expr{s.Addr})
		if err != nil {
			return StepResult{}, err
		}
		if err := r.task.Store(hostarch.Addr(uint32(vals[0])), []byte(s.Data)); err != nil {
			return failed(s.Op, err), nil
		}
		return StepResult{Op: s.Op, Result: int64(len(s.Data))}, nil

	case "read":
		vals, err := r.args([]Expr{s.Addr, s.Length})
		if err != nil {
			return StepResult{}, err
		}
		if vals[1] < 0 || vals[1] > hostarch.PageSize*linux.MAX_UPAGE_INFO {
			return StepResult{}, fmt.Errorf("read length %d out of range", vals[1])
		}
		buf := make([]byte, vals[1])
		if err := r.task.Load(hostarch.Addr(uint32(vals[0])), buf); err != nil {
			return failed(s.Op, err), nil
		}
		return StepResult{Op: s.Op, Result: int64(len(buf)), Data: string(buf)}, nil

	case "wmapinfo":
		return r.wmapinfo(s)

	case "pgdirinfo":
		return r.pgdirinfo(s)

	case "uptime":
		return r.syscall(s.Op, linux.SYS_UPTIME), nil

	case "getpid":
		return r.syscall(s.Op, linux.SYS_GETPID), nil

	case "exit":
		return r.syscall(s.Op, linux.SYS_EXIT), nil

	case "sleep":
		if !r.opts.Timer {
			return StepResult{}, fmt.Errorf("sleep requires a running kernel timer")
		}
		vals, err := r.args([]Expr{s.Ticks})
		if err != nil {
			return StepResult{}, err
		}
		if vals[0] < 0 {
			return StepResult{}, fmt.Errorf("negative tick count %d", vals[0])
		}
		ticker := r.k.Ticker()
		if err := ticker.WaitFor(ctx, ticker.Ticks()+uint64(vals[0])); err != nil {
			return StepResult{}, err
		}
		return StepResult{Op: s.Op, Result: int64(ticker.Ticks())}, nil

	default:
		return StepResult{}, fmt.Errorf("unknown op %q", s.Op)
	}
}

func withAddr(res StepResult) StepResult {
	if res.Result != linux.FAILED {
		res.Addr = fmt.Sprintf("%#x", res.Result)
	}
	return res
}

// open opens a host file and installs it in the task's descriptor table.
// If data is set the file is first replaced by data; if length is set the
// file is then truncated or extended to length bytes.
func (r *runner) open(s *Step) (StepResult, error) {
	path := s.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.opts.Dir, path)
	}
	if s.Data != "" {
		if err := os.WriteFile(path, []byte(s.Data), 0644); err != nil {
			return StepResult{}, err
		}
	}
	if s.Length != "" {
		n, err := s.Length.Eval(r.env)
		if err != nil {
			return StepResult{}, err
		}
		if err := os.Truncate(path, n); err != nil {
			return StepResult{}, err
		}
	}
	file, err := vfs.OpenHost(path, unix.O_RDWR, 0, vfs.FileDescriptionOptions{HostLock: r.opts.HostFileLock})
	if err != nil {
		return StepResult{}, err
	}
	defer file.DecRef(r.task)
	fd, err := r.task.FDTable().NewFD(file)
	if err != nil {
		return failed(s.Op, err), nil
	}
	log.Debugf("Opened %q as fd %d of %q", path, fd, r.task.Name())
	return StepResult{Op: s.Op, Result: int64(fd)}, nil
}

// wmapinfo reports the task's mappings. With addr set it goes through
// getwmapinfo(2) and reads the struct back from user memory; otherwise it
// takes the snapshot directly.
func (r *runner) wmapinfo(s *Step) (StepResult, error) {
	var info linux.WmapInfo
	res := StepResult{Op: s.Op}
	if s.Addr != "" {
		addr, err := s.Addr.Eval(r.env)
		if err != nil {
			return StepResult{}, err
		}
		if res = r.syscall(s.Op, linux.SYS_GETWMAPINFO, addr); res.Result == linux.FAILED {
			return res, nil
		}
		if _, err := info.CopyIn(r.task, hostarch.Addr(uint32(addr))); err != nil {
			return failed(s.Op, err), nil
		}
	} else {
		info = r.task.MemoryManager().WmapInfo()
	}
	for i := 0; i < int(info.TotalMmaps); i++ {
		res.Mappings = append(res.Mappings, Mapping{
			Addr:        fmt.Sprintf("%#x", uint32(info.Addr[i])),
			Length:      info.Length[i],
			LoadedPages: info.NLoadedPages[i],
		})
	}
	return res, nil
}

// pgdirinfo is the pgdirinfo analogue of wmapinfo.
func (r *runner) pgdirinfo(s *Step) (StepResult, error) {
	var info linux.PgdirInfo
	res := StepResult{Op: s.Op}
	if s.Addr != "" {
		addr, err := s.Addr.Eval(r.env)
		if err != nil {
			return StepResult{}, err
		}
		if res = r.syscall(s.Op, linux.SYS_GETPGDIRINFO, addr); res.Result == linux.FAILED {
			return res, nil
		}
		if _, err := info.CopyIn(r.task, hostarch.Addr(uint32(addr))); err != nil {
			return failed(s.Op, err), nil
		}
	} else {
		info = r.task.MemoryManager().PgdirInfo()
	}
	for i := 0; i < int(info.NUpages); i++ {
		res.Pages = append(res.Pages, Page{
			VA: fmt.Sprintf("%#x", info.VA[i]),
			PA: fmt.Sprintf("%#x", info.PA[i]),
		})
	}
	return res, nil
}
