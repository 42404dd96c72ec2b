package core_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/arthur-debert/flashtool/pkg/flashtool/core"
)

type kinded struct{}

func (kinded) Error() string             { return "rejected" }
func (kinded) ErrorKind() core.ErrorKind { return core.KindConfiguration }

func TestMemoryEventBus(t *testing.T) {
	ctx := context.Background()
	bus := core.NewMemoryEventBus(nil)

	var got []string
	record := func(name string) core.EventHandler {
		return core.EventHandlerFunc(func(_ context.Context, e core.Event) error {
			got = append(got, name+":"+e.Type())
			return nil
		})
	}

	data := core.OperationEventData{OperationID: "000-dd", OperationType: "dd", Index: 1, Total: 1}
	bus.Subscribe(core.EventOperationStarted, core.EventHandlerFunc(func(context.Context, core.Event) error {
		return errors.New("handler broke")
	}))
	started := bus.Subscribe(core.EventOperationStarted, record("started"))
	bus.Subscribe(core.AllEvents, record("all"))

	bus.Publish(ctx, core.NewOperationStartedEvent(data))
	bus.Publish(ctx, core.NewOperationCompletedEvent(data, time.Second))
	assert.Equal(t, []string{
		"started:operation.started",
		"all:operation.started",
		"all:operation.completed",
	}, got)

	got = nil
	bus.Unsubscribe(started)
	bus.Unsubscribe("sub_unknown")
	bus.Publish(ctx, core.NewOperationStartedEvent(data))
	assert.Equal(t, []string{"all:operation.started"}, got)
}

func TestEvents(t *testing.T) {
	data := core.OperationEventData{OperationID: "003-mkfs", OperationType: "mkfs", Path: "/dev/sda2", Index: 4, Total: 9}
	boom := errors.New("boom")

	failed := core.NewOperationFailedEvent(data, boom, 2*time.Second)
	assert.Equal(t, core.EventOperationFailed, failed.Type())
	assert.Equal(t, data, failed.Data())
	assert.Equal(t, boom, failed.Error)
	assert.False(t, failed.Timestamp().IsZero())

	finished := core.NewSequenceFinishedEvent(true, time.Minute)
	assert.Equal(t, core.EventSequenceFinished, finished.Type())
	assert.True(t, finished.Success)

	status := core.NewStatusEvent(core.Status{Message: "Formatting filesystem...", Busy: true})
	assert.Equal(t, core.EventStatus, status.Type())
}

func TestOperationError(t *testing.T) {
	err := core.ToolError("  mkfs: device busy\n", "failed to create filesystem on %s", "/dev/sda2")
	assert.Equal(t, "tool_execution: failed to create filesystem on /dev/sda2 (output: mkfs: device busy)", err.Error())

	cause := errors.New("permission denied")
	wrapped := &core.OperationError{Kind: core.KindPrecondition, Message: "cannot launch /sbin/fdisk", Cause: cause}
	assert.Equal(t, "precondition: cannot launch /sbin/fdisk: permission denied", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)

	tests := []struct {
		name string
		err  error
		want core.ErrorKind
	}{
		{"configuration", core.ConfigurationError("bad"), core.KindConfiguration},
		{"precondition", core.PreconditionError("missing %s", "/dev/sda"), core.KindPrecondition},
		{"verification", core.VerificationError("mismatch"), core.KindVerification},
		{"wrapped", fmt.Errorf("step 3: %w", core.ToolError("", "exit 1")), core.KindToolExecution},
		{"kinded", kinded{}, core.KindConfiguration},
		{"parse", &core.ParseError{What: "MTD number", Input: "/dev/sda"}, core.KindConfiguration},
		{"plain", errors.New("plain"), ""},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, core.KindOf(tt.err))
		})
	}
}

func TestParseError(t *testing.T) {
	cause := errors.New("invalid syntax")
	err := &core.ParseError{What: "volume id", Input: "/dev/ubi0_x", Cause: cause}
	assert.Equal(t, `cannot parse volume id from "/dev/ubi0_x": invalid syntax`, err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, `cannot parse MTD number from "/dev/sda"`, (&core.ParseError{What: "MTD number", Input: "/dev/sda"}).Error())
}

func TestFailureStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"operation error", core.ToolError("", "failed to format %s", "/dev/sda2"), "Failed: tool_execution, failed to format /dev/sda2."},
		{"tool output first line", core.ToolError("\n  fdisk: cannot open /dev/sda: Permission denied\nmore\n", "failed to write partition table"), "Failed: tool_execution, failed to write partition table: fdisk: cannot open /dev/sda: Permission denied."},
		{"wrapped operation error", fmt.Errorf("x: %w", core.PreconditionError("/ramdisk/boot/a.img is missing")), "Failed: precondition, /ramdisk/boot/a.img is missing."},
		{"operation error without message", &core.OperationError{Kind: core.KindVerification}, core.MessageGenericFailure},
		{"kinded", kinded{}, "Failed: configuration, rejected."},
		{"plain", errors.New("context canceled"), "Failed: context canceled."},
		{"nil", nil, core.MessageGenericFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := core.FailureStatus(tt.err)
			assert.Equal(t, tt.want, s.Message)
			assert.Equal(t, core.IconError, s.Icon)
			assert.False(t, s.Busy)
		})
	}
}

func TestForwardStatus(t *testing.T) {
	ctx := context.Background()
	bus := core.NewMemoryEventBus(core.NopLogger)
	var got []core.Status
	id := core.ForwardStatus(bus, core.StatusSinkFunc(func(s core.Status) { got = append(got, s) }))

	bus.Publish(ctx, core.NewStatusEvent(core.Status{Message: "Erasing flash...", Busy: true}))
	bus.Publish(ctx, core.NewSequenceFinishedEvent(true, 0))
	bus.Unsubscribe(id)
	bus.Publish(ctx, core.NewStatusEvent(core.Status{Message: "late"}))

	assert.Equal(t, []core.Status{{Message: "Erasing flash...", Busy: true}}, got)
}

func TestOrNop(t *testing.T) {
	assert.Equal(t, core.NopLogger, core.OrNop(nil))
	core.OrNop(nil).Info().Str("k", "v").Strs("a", []string{"b"}).Int("n", 1).Bool("b", true).
		Dur("d", time.Second).Interface("i", nil).Err(nil).Msg("discarded")
}
