// Package flashtool installs an appliance image onto embedded storage from a
// declarative settings document.
//
// Run loads the settings, works out whether this is a full or partial flash
// and whether the installer booted from the recovery partition, compiles the
// selected actions into a sequence of operations and executes it, reporting
// progress through a status sink:
//
//	cfg, _ := config.Load(nil, "")
//	result, err := flashtool.Run(ctx, flashtool.Options{Config: cfg, Sink: sink})
//
// Validate does the same up to compilation and runs nothing.
package flashtool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arthur-debert/flashtool/pkg/flashtool/compiler"
	"github.com/arthur-debert/flashtool/pkg/flashtool/config"
	"github.com/arthur-debert/flashtool/pkg/flashtool/core"
	"github.com/arthur-debert/flashtool/pkg/flashtool/execution"
	"github.com/arthur-debert/flashtool/pkg/flashtool/filesystem"
	"github.com/arthur-debert/flashtool/pkg/flashtool/metrics"
	"github.com/arthur-debert/flashtool/pkg/flashtool/operations"
	"github.com/arthur-debert/flashtool/pkg/flashtool/proc"
	"github.com/arthur-debert/flashtool/pkg/flashtool/system"
)

// Options wires a run to its host. Only Config is required; every other
// field falls back to the real system.
type Options struct {
	Config *config.AppConfig
	Logger core.Logger
	Sink   core.StatusSink

	// DryRun records child processes instead of spawning them and never
	// flushes or reboots. Without an explicit FS, file writes go to an
	// in-memory overlay over the real filesystem.
	DryRun bool
	// DryRunPrint receives each recorded command line during a dry run.
	DryRunPrint func(line string)

	FS         filesystem.FileSystem
	Runner     proc.Runner
	Syncer     system.Syncer
	Rebooter   system.Rebooter
	SameDevice config.SameDeviceFunc
	After      func(d time.Duration, f func())
	Sleep      func(ctx context.Context, d time.Duration) error
	Metrics    *metrics.Recorder
}

// Plan is a compiled installation, ready to run.
type Plan struct {
	Settings *config.Settings
	Mode     compiler.ExecutionMode
	Media    compiler.InstallMediaType
	Sequence *execution.Sequence
}

// ErrNothingToDo is returned when no action applies to this mode and media.
var ErrNothingToDo = errors.New("no action selected for this installation")

type runner struct {
	opts   Options
	cfg    *config.AppConfig
	logger core.Logger
	env    *operations.Env
}

func newRunner(opts Options) (*runner, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("flashtool: no configuration")
	}
	r := &runner{opts: opts, cfg: opts.Config, logger: core.OrNop(opts.Logger)}

	fsys := opts.FS
	if fsys == nil {
		if opts.DryRun {
			fsys = filesystem.NewDryRunFS(filesystem.NewOSFileSystem("/"))
		} else {
			fsys = filesystem.NewOSFileSystem("/")
		}
	}
	run := opts.Runner
	if run == nil {
		if opts.DryRun {
			run = &proc.DryRunner{Print: opts.DryRunPrint}
		} else {
			run = proc.NewExecRunner(r.logger)
		}
	}
	syncer := opts.Syncer
	if syncer == nil && !opts.DryRun {
		syncer = system.KernelSync
	}

	r.env = &operations.Env{
		FS:         fsys,
		Runner:     run,
		Syncer:     syncer,
		Tools:      r.cfg.Tools,
		Paths:      r.cfg.Paths,
		Settle:     r.cfg.SettleDelay,
		DeviceWait: r.cfg.DeviceWait,
		Sleep:      opts.Sleep,
	}
	if opts.DryRun {
		r.env.Settle = 0
		r.env.DeviceWait = 0
	}
	return r, nil
}

func (r *runner) status(s core.Status) {
	if r.opts.Sink != nil {
		r.opts.Sink.Status(s)
	}
}

// plan loads the settings and compiles them. Failures are reported on the
// sink the way the installer shows them.
func (r *runner) plan() (*Plan, error) {
	settings, err := config.LoadSettings(r.env.FS, r.cfg.SettingsPath)
	if err != nil {
		r.logger.Error().Str("path", r.cfg.SettingsPath).Err(err).Msg("cannot read settings")
		r.status(core.Status{Message: core.MessageConfigUnreadable, Icon: core.IconError})
		return nil, err
	}

	mode := config.DetectMode(r.env.FS, r.cfg.PartialFlashFile)
	same := r.opts.SameDevice
	if same == nil {
		same = system.SameDevice
	}
	media := config.DetectMedia(settings, r.cfg.Paths.BootMedium, r.cfg.ByLabelDir, same, r.logger)
	r.logger.Info().
		Str("mode", mode.String()).
		Str("media", media.String()).
		Str("appliance_version", settings.ApplianceVersion).
		Int("actions", len(settings.Actions)).
		Msg("settings loaded")

	seq, err := compiler.New(r.env, r.logger).Build(settings.Actions, settings.Scripts, settings.ApplianceVersion, mode, media)
	if err != nil {
		r.logger.Error().Err(err).Msg("configuration not validated")
		r.status(core.Status{Message: core.MessageConfigRejected, Icon: core.IconError})
		return nil, err
	}
	return &Plan{Settings: settings, Mode: mode, Media: media, Sequence: seq}, nil
}

// Validate loads and compiles the settings without running anything.
func Validate(opts Options) (*Plan, error) {
	r, err := newRunner(opts)
	if err != nil {
		return nil, err
	}
	return r.plan()
}

// Run compiles and executes the installation. The returned error is the
// first failure; the Result, when non-nil, carries every step's outcome. A
// plan with nothing selected returns ErrNothingToDo without touching the
// device.
func Run(ctx context.Context, opts Options) (*execution.Result, error) {
	r, err := newRunner(opts)
	if err != nil {
		return nil, err
	}
	p, err := r.plan()
	if err != nil {
		return nil, err
	}
	if p.Sequence.Len() == 0 {
		r.logger.Warn().Str("mode", p.Mode.String()).Msg("nothing to install")
		return nil, ErrNothingToDo
	}

	rebooter := opts.Rebooter
	if rebooter == nil {
		rebooter = system.KernelReboot
	}
	exec := execution.NewExecutor(r.logger, execution.Options{
		RebootOnSuccess: p.Media == compiler.MediaRecoveryPartition && !opts.DryRun,
		RebootDelay:     r.cfg.RebootDelay,
		Syncer:          r.env.Syncer,
		Rebooter:        rebooter,
		After:           opts.After,
	})
	if opts.Sink != nil {
		core.ForwardStatus(exec.EventBus(), opts.Sink)
	}
	if opts.Metrics != nil {
		defer opts.Metrics.Subscribe(exec.EventBus())()
	}

	result := exec.Run(ctx, p.Sequence)

	if dry, ok := r.env.FS.(*filesystem.DryRunFS); ok {
		r.logger.Info().
			Strs("written", dry.Written()).
			Strs("removed", dry.Removed()).
			Msg("dry run left the filesystem untouched")
	}

	if opts.Metrics != nil {
		for _, step := range result.Steps {
			if step.Status == core.StatusSkipped {
				opts.Metrics.Skipped(step.Type)
			}
		}
		if r.cfg.MetricsFile != "" {
			if err := opts.Metrics.WriteTextfile(r.cfg.MetricsFile); err != nil {
				r.logger.Warn().Err(err).Msg("cannot write metrics")
			}
		}
	}
	return result, result.Err
}
