package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arthur-debert/flashtool/pkg/flashtool/core"
	"github.com/arthur-debert/flashtool/pkg/flashtool/system"
)

// DefaultRebootDelay keeps the final status visible before the device restarts.
const DefaultRebootDelay = 10 * time.Second

// Options configures an Executor.
type Options struct {
	// RebootOnSuccess schedules a restart after a successful run; set when
	// the installer booted from the recovery partition.
	RebootOnSuccess bool
	RebootDelay     time.Duration
	Syncer          system.Syncer
	Rebooter        system.Rebooter
	// After runs f once d has elapsed. Defaults to time.AfterFunc.
	After func(d time.Duration, f func())
}

// Executor runs a Sequence one operation at a time.
type Executor struct {
	logger   core.Logger
	eventBus *core.MemoryEventBus
	opts     Options
}

// NewExecutor creates a new Executor
func NewExecutor(logger core.Logger, opts Options) *Executor {
	logger = core.OrNop(logger)
	if opts.RebootDelay <= 0 {
		opts.RebootDelay = DefaultRebootDelay
	}
	if opts.Syncer == nil {
		opts.Syncer = system.SyncFunc(func() {})
	}
	if opts.Rebooter == nil {
		opts.Rebooter = system.RebootFunc(func() error { return nil })
	}
	if opts.After == nil {
		opts.After = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}
	return &Executor{
		logger:   logger,
		eventBus: core.NewMemoryEventBus(logger),
		opts:     opts,
	}
}

// EventBus returns the executor's event bus for subscription
func (e *Executor) EventBus() core.EventBus {
	return e.eventBus
}

// Result is the outcome of one run.
type Result struct {
	Success  bool
	Steps    []StepSnapshot
	Duration time.Duration

	// Err is the first failure, unchanged.
	Err error
	// RebootScheduled is set when a restart will follow the run.
	RebootScheduled bool

	once      sync.Once
	done      chan struct{}
	rebootErr error
}

// Wait blocks until a scheduled reboot has been attempted and returns its
// error. It returns nil at once when no reboot was scheduled.
func (r *Result) Wait() error {
	if !r.RebootScheduled {
		return nil
	}
	<-r.done
	return r.rebootErr
}

func (e *Executor) status(ctx context.Context, s core.Status) {
	e.eventBus.Publish(ctx, core.NewStatusEvent(s))
}

// Run executes seq strictly in order. The first failing operation stops the
// run; later operations never start and are reported as skipped. Completed
// operations are not undone.
func (e *Executor) Run(ctx context.Context, seq *Sequence) *Result {
	start := time.Now()
	result := &Result{done: make(chan struct{})}

	if err := seq.Resolve(); err != nil {
		result.Err = &core.OperationError{Kind: core.KindConfiguration, Message: "invalid sequence", Cause: err}
		e.finish(ctx, seq, result, start)
		return result
	}

	ops := seq.Operations()
	e.logger.Info().Int("operation_count", len(ops)).Msg("starting execution")

	execCtx := &core.ExecutionContext{Logger: e.logger, EventBus: e.eventBus}

	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			result.Err = fmt.Errorf("run interrupted before %s: %w", op.ID(), err)
			seq.skipFrom(i)
			break
		}

		desc := op.Describe()
		data := core.OperationEventData{
			OperationID:   op.ID(),
			OperationType: desc.Type,
			Path:          desc.Path,
			Index:         i + 1,
			Total:         len(ops),
		}
		var msgs core.Messages
		if a, ok := op.(core.Announcer); ok {
			msgs = a.Messages()
		}

		e.logger.Info().
			Str("op_id", string(op.ID())).
			Str("op_type", desc.Type).
			Str("path", desc.Path).
			Int("operation_index", i+1).
			Int("total_operations", len(ops)).
			Msg("executing operation")

		seq.start(i)
		e.eventBus.Publish(ctx, core.NewOperationStartedEvent(data))
		if msgs.Progress != "" {
			e.status(ctx, core.Status{Message: msgs.Progress, Busy: true})
		}

		opStart := time.Now()
		err := op.Execute(ctx, execCtx)
		opDuration := time.Since(opStart)
		seq.finish(i, err)

		if err != nil {
			e.logger.Error().
				Str("op_id", string(op.ID())).
				Str("op_type", desc.Type).
				Err(err).
				Dur("duration", opDuration).
				Msg("operation execution failed")
			e.eventBus.Publish(ctx, core.NewOperationFailedEvent(data, err, opDuration))
			result.Err = err
			seq.skipFrom(i + 1)
			break
		}

		e.logger.Info().
			Str("op_id", string(op.ID())).
			Dur("duration", opDuration).
			Msg("operation execution completed successfully")
		e.eventBus.Publish(ctx, core.NewOperationCompletedEvent(data, opDuration))
		if msgs.Success != "" {
			e.status(ctx, core.Status{Message: msgs.Success, Busy: msgs.SuccessBusy})
		}
	}

	e.finish(ctx, seq, result, start)
	return result
}

func (e *Executor) finish(ctx context.Context, seq *Sequence, result *Result, start time.Time) {
	result.Success = result.Err == nil
	result.Steps = seq.Snapshot()
	result.Duration = time.Since(start)

	if !result.Success {
		e.status(ctx, core.FailureStatus(result.Err))
	} else {
		e.opts.Syncer.Sync()
		e.status(ctx, core.Status{Message: core.MessageInstalled, Icon: core.IconOK})
		if e.opts.RebootOnSuccess {
			e.scheduleReboot(result)
		}
	}

	e.eventBus.Publish(ctx, core.NewSequenceFinishedEvent(result.Success, result.Duration))
	e.logger.Info().
		Bool("success", result.Success).
		Int("total_operations", len(result.Steps)).
		Bool("reboot_scheduled", result.RebootScheduled).
		Dur("total_duration", result.Duration).
		Msg("execution completed")
}

func (e *Executor) scheduleReboot(result *Result) {
	result.RebootScheduled = true
	e.logger.Info().Dur("delay", e.opts.RebootDelay).Msg("scheduling reboot")
	e.opts.After(e.opts.RebootDelay, func() {
		result.once.Do(func() {
			e.opts.Syncer.Sync()
			result.rebootErr = e.opts.Rebooter.Reboot()
			if result.rebootErr != nil {
				e.logger.Error().Err(result.rebootErr).Msg("reboot failed")
			}
			close(result.done)
		})
	})
}
