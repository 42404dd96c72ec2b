// Package execution runs a compiled sequence of operations strictly in
// order, stopping at the first failure.
package execution

import (
	"fmt"
	"sync"

	"github.com/gammazero/toposort"

	"github.com/arthur-debert/flashtool/pkg/flashtool/core"
)

// StepState is the lifecycle of one step.
type StepState int

// Step lifecycle
const (
	StepCreated StepState = iota
	StepRunning
	StepFinished
)

func (s StepState) String() string {
	switch s {
	case StepCreated:
		return "created"
	case StepRunning:
		return "running"
	case StepFinished:
		return "finished"
	}
	return fmt.Sprintf("step_state(%d)", int(s))
}

// StepSnapshot is an immutable view of a step.
type StepSnapshot struct {
	ID    core.OperationID
	Type  string
	Path  string
	State StepState
	// Status is only meaningful once State is StepFinished, or for steps
	// that were skipped after an earlier failure.
	Status core.OperationStatus
	Err    error
}

type step struct {
	op     core.Operation
	state  StepState
	status core.OperationStatus
	err    error
}

// Sequence is an ordered list of operations and the cursor of the one
// currently running. Every operation depends on the one added before it,
// which keeps execution in settings order. Operations may declare further
// dependencies of their own, such as a flash write on the erase that
// prepares its device; Resolve rejects any that point at a missing or
// later step.
type Sequence struct {
	mu      sync.Mutex
	steps   []*step
	idIndex map[core.OperationID]int
	cursor  int
	logger  core.Logger
}

// NewSequence creates an empty sequence.
func NewSequence(logger core.Logger) *Sequence {
	return &Sequence{
		idIndex: make(map[core.OperationID]int),
		cursor:  -1,
		logger:  core.OrNop(logger),
	}
}

// Add appends operations in order.
func (s *Sequence) Add(ops ...core.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range ops {
		if op == nil {
			return fmt.Errorf("cannot add nil operation to sequence")
		}
		if _, exists := s.idIndex[op.ID()]; exists {
			return fmt.Errorf("operation with ID %s already exists in sequence", op.ID())
		}
		if n := len(s.steps); n > 0 {
			op.AddDependency(s.steps[n-1].op.ID())
		}
		s.idIndex[op.ID()] = len(s.steps)
		s.steps = append(s.steps, &step{op: op, state: StepCreated})
	}
	return nil
}

// Len returns the number of operations.
func (s *Sequence) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}

// Operations returns the operations in run order.
func (s *Sequence) Operations() []core.Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Operation, len(s.steps))
	for i, st := range s.steps {
		out[i] = st.op
	}
	return out
}

// Resolve orders the operations by their dependencies. Dependencies on
// operations outside the sequence and cycles are errors.
func (s *Sequence) Resolve() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	edges := make([]toposort.Edge, 0, len(s.steps))
	for _, st := range s.steps {
		for _, depID := range st.op.Dependencies() {
			if _, exists := s.idIndex[depID]; !exists {
				return fmt.Errorf("operation %s depends on unknown operation %s", st.op.ID(), depID)
			}
			edges = append(edges, toposort.Edge{string(depID), string(st.op.ID())})
		}
	}

	sortedIDs, err := toposort.Toposort(edges)
	if err != nil {
		s.logger.Info().Err(err).Msg("topological sort failed - circular dependency detected")
		return fmt.Errorf("circular dependency detected: %w", err)
	}

	resolved := make([]*step, 0, len(s.steps))
	newIndex := make(map[core.OperationID]int, len(s.steps))
	for _, idInterface := range sortedIDs {
		idStr, ok := idInterface.(string)
		if !ok {
			return fmt.Errorf("unexpected type in topological sort result: %T", idInterface)
		}
		id := core.OperationID(idStr)
		if _, seen := newIndex[id]; seen {
			continue
		}
		newIndex[id] = len(resolved)
		resolved = append(resolved, s.steps[s.idIndex[id]])
	}
	// operations outside the graph keep their relative order at the end
	for _, st := range s.steps {
		if _, seen := newIndex[st.op.ID()]; !seen {
			newIndex[st.op.ID()] = len(resolved)
			resolved = append(resolved, st)
		}
	}

	s.steps = resolved
	s.idIndex = newIndex
	s.logger.Debug().Int("dependency_edges", len(edges)).Msg("sequence resolved")
	return nil
}

// Cursor returns the index of the running operation, or -1.
func (s *Sequence) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Snapshot returns the state of every step.
func (s *Sequence) Snapshot() []StepSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StepSnapshot, len(s.steps))
	for i, st := range s.steps {
		desc := st.op.Describe()
		out[i] = StepSnapshot{
			ID:     st.op.ID(),
			Type:   desc.Type,
			Path:   desc.Path,
			State:  st.state,
			Status: st.status,
			Err:    st.err,
		}
	}
	return out
}

func (s *Sequence) start(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = i
	s.steps[i].state = StepRunning
}

func (s *Sequence) finish(i int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.steps[i]
	st.state = StepFinished
	st.err = err
	st.status = core.StatusSuccess
	if err != nil {
		st.status = core.StatusFailure
	}
	s.cursor = -1
}

func (s *Sequence) skipFrom(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ; i < len(s.steps); i++ {
		s.steps[i].status = core.StatusSkipped
	}
}
