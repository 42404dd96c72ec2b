// Package proc runs the external tools that do the actual flashing work.
package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/arthur-debert/flashtool/pkg/flashtool/core"
)

// Command describes one child process invocation.
type Command struct {
	Path  string
	Args  []string
	Stdin io.Reader
	// Dir is the working directory; empty inherits the caller's.
	Dir string
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

// Argv returns path followed by args.
func (c Command) Argv() []string {
	return append([]string{c.Path}, c.Args...)
}

// Result is the outcome of a finished child process.
type Result struct {
	ExitedNormally bool
	ExitCode       int
	Stdout         []byte
	Stderr         []byte
}

// Success reports a normal exit with status zero.
func (r Result) Success() bool {
	return r.ExitedNormally && r.ExitCode == 0
}

// Output returns stderr and stdout joined, for diagnostics.
func (r Result) Output() string {
	return strings.TrimSpace(string(r.Stderr) + "\n" + string(r.Stdout))
}

// Runner spawns child processes. Errors are returned only when a process
// could not be started at all; exit statuses are reported in Result.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
	// Pipe runs producer and consumer concurrently with the producer's
	// stdout connected to the consumer's stdin and waits for both.
	Pipe(ctx context.Context, producer, consumer Command) (Result, Result, error)
}

// RunAsync runs cmd on its own goroutine and calls onExit when it finished.
func RunAsync(ctx context.Context, r Runner, cmd Command, onExit func(Result, error)) {
	go func() {
		onExit(r.Run(ctx, cmd))
	}()
}

// ExecRunner is the Runner backed by os/exec.
type ExecRunner struct {
	logger core.Logger
}

// NewExecRunner creates a runner that logs every launch and its output.
func NewExecRunner(logger core.Logger) *ExecRunner {
	return &ExecRunner{logger: core.OrNop(logger)}
}

func (r *ExecRunner) command(ctx context.Context, c Command) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdin = c.Stdin
	return cmd
}

// Run implements Runner
func (r *ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	cmd := r.command(ctx, c)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug().Str("path", c.Path).Strs("args", c.Args).Msg("launching")
	err := cmd.Run()
	res := r.result(c, cmd, &stdout, &stderr)
	if err != nil && !isExitError(err) {
		return res, fmt.Errorf("failed to run %s: %w", c.Path, err)
	}
	return res, nil
}

// Pipe implements Runner
func (r *ExecRunner) Pipe(ctx context.Context, producer, consumer Command) (Result, Result, error) {
	prod := r.command(ctx, producer)
	cons := r.command(ctx, consumer)

	var prodErr, consOut, consErr bytes.Buffer
	prod.Stderr = &prodErr
	cons.Stdout = &consOut
	cons.Stderr = &consErr

	pipe, err := prod.StdoutPipe()
	if err != nil {
		return Result{}, Result{}, fmt.Errorf("failed to connect %s to %s: %w", producer.Path, consumer.Path, err)
	}
	cons.Stdin = pipe

	r.logger.Debug().Str("path", consumer.Path).Strs("args", consumer.Args).Msg("launching")
	if err := cons.Start(); err != nil {
		return Result{}, Result{}, fmt.Errorf("failed to start %s: %w", consumer.Path, err)
	}
	r.logger.Debug().Str("path", producer.Path).Strs("args", producer.Args).Msg("launching")
	if err := prod.Start(); err != nil {
		_ = cons.Process.Kill()
		_ = cons.Wait()
		return Result{}, Result{}, fmt.Errorf("failed to start %s: %w", producer.Path, err)
	}

	prodWait := prod.Wait()
	consWait := cons.Wait()

	prodRes := r.result(producer, prod, &bytes.Buffer{}, &prodErr)
	consRes := r.result(consumer, cons, &consOut, &consErr)
	for _, werr := range []error{prodWait, consWait} {
		if werr != nil && !isExitError(werr) {
			return prodRes, consRes, werr
		}
	}
	return prodRes, consRes, nil
}

func (r *ExecRunner) result(c Command, cmd *exec.Cmd, stdout, stderr *bytes.Buffer) Result {
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), ExitCode: -1}
	if st := cmd.ProcessState; st != nil {
		res.ExitedNormally = st.Exited()
		res.ExitCode = st.ExitCode()
	}
	ev := r.logger.Debug().
		Str("path", c.Path).
		Bool("exited_normally", res.ExitedNormally).
		Int("exit_code", res.ExitCode)
	if stdout.Len() > 0 {
		ev = ev.Str("stdout", stdout.String())
	}
	if stderr.Len() > 0 {
		ev = ev.Str("stderr", stderr.String())
	}
	ev.Msg("process finished")
	return res
}

func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}
