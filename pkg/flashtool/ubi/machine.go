package ubi

import (
	"context"
	"fmt"
	"strconv"

	"github.com/arthur-debert/flashtool/pkg/flashtool/core"
	"github.com/arthur-debert/flashtool/pkg/flashtool/operations"
	"github.com/arthur-debert/flashtool/pkg/flashtool/proc"
)

// State is a step of the volume lifecycle.
type State int

// Volume lifecycle states. MTDAttach and MTDDetach are only entered when the
// parent device was not attached yet; VolumeEnsure only when the volume
// node is missing.
const (
	StateInit State = iota
	StateMTDAttach
	StateVolumeEnsure
	StateUpdate
	StateMTDDetach
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateInit:         "init",
	StateMTDAttach:    "mtd_attach",
	StateVolumeEnsure: "volume_ensure",
	StateUpdate:       "update",
	StateMTDDetach:    "mtd_detach",
	StateDone:         "done",
	StateFailed:       "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Transition records one state change.
type Transition struct {
	From State
	To   State
	Note string
}

// Snapshot is an immutable view of a machine.
type Snapshot struct {
	State      State
	Topology   Topology
	NeedDetach bool
	Trace      []Transition
	Err        error
}

// Visited returns the states the machine has been in, in order.
func (s Snapshot) Visited() []State {
	out := []State{StateInit}
	for _, t := range s.Trace {
		out = append(out, t.To)
	}
	return out
}

// VolumeMachine makes a UBI volume ready and writes an image to it, only
// attaching and creating what is missing and detaching what it attached.
// A machine is driven by a single goroutine and runs once.
type VolumeMachine struct {
	env    *operations.Env
	logger core.Logger
	params operations.Params

	state      State
	topo       Topology
	needDetach bool
	detached   bool
	trace      []Transition
	err        error
}

// NewVolumeMachine creates a machine in StateInit for a ubiupdatevol action.
// Parameters: target, parent_device, source, name, size, immutable.
func NewVolumeMachine(env *operations.Env, params operations.Params, logger core.Logger) *VolumeMachine {
	return &VolumeMachine{
		env:    env,
		logger: core.OrNop(logger),
		params: params,
		state:  StateInit,
	}
}

// Run drives the machine to a terminal state and returns its outcome.
func (m *VolumeMachine) Run(ctx context.Context) error {
	for !m.state.Terminal() {
		switch m.state {
		case StateInit:
			m.init()
		case StateMTDAttach:
			m.attach(ctx)
		case StateVolumeEnsure:
			m.ensureVolume(ctx)
		case StateUpdate:
			m.update(ctx)
		case StateMTDDetach:
			m.detach(ctx)
		}
	}
	if m.state == StateFailed {
		m.cleanup(context.WithoutCancel(ctx))
	}
	return m.err
}

// Snapshot returns a copy of the machine's current state.
func (m *VolumeMachine) Snapshot() Snapshot {
	return Snapshot{
		State:      m.state,
		Topology:   m.topo,
		NeedDetach: m.needDetach,
		Trace:      append([]Transition(nil), m.trace...),
		Err:        m.err,
	}
}

func (m *VolumeMachine) moveTo(next State, note string) {
	m.logger.Debug().
		Str("from", m.state.String()).
		Str("to", next.String()).
		Str("note", note).
		Msg("ubi volume transition")
	m.trace = append(m.trace, Transition{From: m.state, To: next, Note: note})
	m.state = next
}

func (m *VolumeMachine) fail(err error) {
	m.err = err
	m.moveTo(StateFailed, err.Error())
}

func (m *VolumeMachine) init() {
	p := m.params
	m.topo = Topology{
		VolumePath: p.String("target"),
		Name:       p.String("name"),
		Immutable:  p.Bool("immutable", false),
		Image:      p.String("source"),
	}

	mtd, err := ParseMTD(p.String("parent_device"))
	if err != nil {
		m.fail(&core.OperationError{Kind: core.KindConfiguration, Message: "cannot identify MTD number", Cause: err})
		return
	}
	m.topo.ParentMTD = mtd

	size, err := p.Int("size", 0)
	if err != nil {
		m.fail(&core.OperationError{Kind: core.KindConfiguration, Message: "invalid volume size", Cause: err})
		return
	}
	if size < 1 {
		m.fail(core.ConfigurationError("size in MiB cannot be less than 1, got %d", size))
		return
	}
	m.topo.SizeMiB = size

	if m.topo.Image != "" && !m.env.Exists(m.topo.Image) {
		m.fail(core.PreconditionError("image file %s does not exist", m.topo.Image))
		return
	}

	parent, err := ParseParentUBI(m.topo.VolumePath)
	if err != nil {
		m.fail(&core.OperationError{Kind: core.KindConfiguration, Message: "not a valid UBI volume path", Cause: err})
		return
	}
	m.topo.ParentUBI = parent

	if m.env.Exists(parent) {
		m.toVolume("parent already attached")
		return
	}
	m.moveTo(StateMTDAttach, parent+" missing")
}

// toVolume skips volume creation when the volume node already exists.
func (m *VolumeMachine) toVolume(note string) {
	if m.env.Exists(m.topo.VolumePath) {
		m.moveTo(StateUpdate, note+", volume exists")
		return
	}
	m.moveTo(StateVolumeEnsure, note)
}

func (m *VolumeMachine) attach(ctx context.Context) {
	mtd := strconv.Itoa(m.topo.ParentMTD)
	_, err := m.env.RunTool(ctx, proc.Command{Path: m.env.Tools.Ubiattach, Args: []string{"-m", mtd}},
		fmt.Sprintf("failed to attach MTD %s", mtd))
	if err != nil {
		m.fail(err)
		return
	}
	m.needDetach = true
	m.toVolume("attached mtd" + mtd)
}

func (m *VolumeMachine) ensureVolume(ctx context.Context) {
	id, err := ParseVolumeID(m.topo.VolumePath, m.topo.ParentUBI)
	if err != nil {
		m.fail(&core.OperationError{Kind: core.KindConfiguration, Message: "cannot identify UBI volume id", Cause: err})
		return
	}
	m.topo.VolumeID = id

	args := []string{
		m.topo.ParentUBI,
		"-N", m.topo.Label(),
		"-n", strconv.Itoa(id),
		"-s", strconv.FormatInt(m.topo.SizeMiB, 10) + "MiB",
		"-t", m.topo.VolumeType(),
	}
	if _, err := m.env.RunTool(ctx, proc.Command{Path: m.env.Tools.Ubimkvol, Args: args},
		"failed to create volume "+m.topo.VolumePath); err != nil {
		m.fail(err)
		return
	}
	m.moveTo(StateUpdate, "volume created")
}

func (m *VolumeMachine) update(ctx context.Context) {
	args := []string{m.topo.VolumePath}
	if m.topo.Image != "" {
		args = append(args, m.topo.Image)
	}
	if _, err := m.env.RunTool(ctx, proc.Command{Path: m.env.Tools.Ubiupdatevol, Args: args},
		"failed to update volume "+m.topo.VolumePath); err != nil {
		m.fail(err)
		return
	}
	m.env.Flush()
	if m.needDetach {
		m.moveTo(StateMTDDetach, "volume updated")
		return
	}
	m.moveTo(StateDone, "volume updated")
}

func (m *VolumeMachine) detach(ctx context.Context) {
	m.runDetach(ctx)
	m.moveTo(StateDone, "detached")
}

// cleanup leaves the parent device detached again after a failure. Its own
// outcome never replaces the failure.
func (m *VolumeMachine) cleanup(ctx context.Context) {
	if m.needDetach && !m.detached {
		m.runDetach(ctx)
	}
}

func (m *VolumeMachine) runDetach(ctx context.Context) {
	m.detached = true
	mtd := strconv.Itoa(m.topo.ParentMTD)
	res, err := m.env.Launch(ctx, proc.Command{Path: m.env.Tools.Ubidetach, Args: []string{"-m", mtd}})
	if err != nil || !res.Success() {
		m.logger.Warn().
			Str("mtd", mtd).
			Int("exit_code", res.ExitCode).
			Str("output", res.Output()).
			Err(err).
			Msg("detaching MTD failed")
	}
}
