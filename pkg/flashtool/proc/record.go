package proc

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Call is one recorded invocation.
type Call struct {
	Command Command
	// Input is everything that was available on the command's stdin.
	Input []byte
	// PipedFrom is set when the command consumed another command's output.
	PipedFrom *Command
}

// Recorder keeps the calls made through a Runner, in order.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
}

func (r *Recorder) record(c Command, from *Command) Call {
	call := Call{Command: c, PipedFrom: from}
	if c.Stdin != nil {
		call.Input, _ = io.ReadAll(c.Stdin)
	}
	call.Command.Stdin = nil
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
	return call
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Argvs returns the argv of every recorded call.
func (r *Recorder) Argvs() [][]string {
	calls := r.Calls()
	out := make([][]string, len(calls))
	for i, c := range calls {
		out[i] = c.Command.Argv()
	}
	return out
}

// DryRunner records commands and reports success without spawning anything.
type DryRunner struct {
	Recorder
	// Print, when set, receives each command line.
	Print func(line string)
}

// Run implements Runner
func (d *DryRunner) Run(_ context.Context, c Command) (Result, error) {
	d.record(c, nil)
	if d.Print != nil {
		d.Print(c.String())
	}
	return Result{ExitedNormally: true}, nil
}

// Pipe implements Runner
func (d *DryRunner) Pipe(_ context.Context, producer, consumer Command) (Result, Result, error) {
	d.record(producer, nil)
	d.record(consumer, &producer)
	if d.Print != nil {
		d.Print(fmt.Sprintf("%s | %s", producer, consumer))
	}
	return Result{ExitedNormally: true}, Result{ExitedNormally: true}, nil
}

// FakeRunner returns scripted results keyed by executable path and records
// every call. Unscripted paths succeed.
type FakeRunner struct {
	Recorder
	mu      sync.Mutex
	results map[string][]Result
	errs    map[string]error
	// OnRun is invoked for every call before the result is returned; tests
	// use it to create device nodes as a side effect of a tool.
	OnRun func(c Command)
}

// NewFakeRunner creates an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{results: map[string][]Result{}, errs: map[string]error{}}
}

// Script queues results for path; each call consumes one, the last one sticks.
func (f *FakeRunner) Script(path string, results ...Result) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[path] = append(f.results[path], results...)
	return f
}

// Fail makes every call to path exit with code.
func (f *FakeRunner) Fail(path string, code int, stderr string) *FakeRunner {
	return f.Script(path, Result{ExitedNormally: true, ExitCode: code, Stderr: []byte(stderr)})
}

// StartError makes path fail to start.
func (f *FakeRunner) StartError(path string, err error) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[path] = err
	return f
}

func (f *FakeRunner) next(path string) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[path]; ok {
		return Result{}, err
	}
	queue := f.results[path]
	if len(queue) == 0 {
		return Result{ExitedNormally: true}, nil
	}
	res := queue[0]
	if len(queue) > 1 {
		f.results[path] = queue[1:]
	}
	return res, nil
}

// Run implements Runner
func (f *FakeRunner) Run(_ context.Context, c Command) (Result, error) {
	f.record(c, nil)
	if f.OnRun != nil {
		f.OnRun(c)
	}
	return f.next(c.Path)
}

// Pipe implements Runner
func (f *FakeRunner) Pipe(_ context.Context, producer, consumer Command) (Result, Result, error) {
	f.record(producer, nil)
	f.record(consumer, &producer)
	prodRes, err := f.next(producer.Path)
	if err != nil {
		return prodRes, Result{}, err
	}
	consRes, err := f.next(consumer.Path)
	return prodRes, consRes, err
}

// Paths returns the executable of every recorded call.
func (f *FakeRunner) Paths() []string {
	calls := f.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Command.Path
	}
	return out
}
