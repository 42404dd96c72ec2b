package operations_test

import (
	"context"
	"time"

	"github.com/arthur-debert/flashtool/pkg/flashtool/core"
	"github.com/arthur-debert/flashtool/pkg/flashtool/filesystem"
	"github.com/arthur-debert/flashtool/pkg/flashtool/operations"
	"github.com/arthur-debert/flashtool/pkg/flashtool/proc"
	"github.com/arthur-debert/flashtool/pkg/flashtool/system"
)

type testEnv struct {
	*operations.Env
	fs     *filesystem.TestFileSystem
	runner *proc.FakeRunner
	syncer *system.CountingSyncer
	slept  []time.Duration
}

func newTestEnv() *testEnv {
	te := &testEnv{
		fs:     filesystem.NewTestFileSystem().AddDir("/tmp"),
		runner: proc.NewFakeRunner(),
		syncer: &system.CountingSyncer{},
	}
	te.Env = &operations.Env{
		FS:         te.fs,
		Runner:     te.runner,
		Syncer:     te.syncer,
		Tools:      operations.DefaultTools(),
		Paths:      operations.DefaultPaths(),
		Settle:     5 * time.Second,
		DeviceWait: 10 * time.Second,
		Sleep: func(_ context.Context, d time.Duration) error {
			te.slept = append(te.slept, d)
			return nil
		},
	}
	return te
}

func execCtx() *core.ExecutionContext {
	return &core.ExecutionContext{Logger: core.NopLogger}
}
