// Package compiler turns the declarative action list of a settings
// document into an ordered list of operations.
package compiler

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/arthur-debert/flashtool/pkg/flashtool/operations"
)

// ExecutionMode is chosen once per run from the partial-flash marker.
type ExecutionMode int

// Execution modes
const (
	FullFlash ExecutionMode = iota
	PartialFlash
)

func (m ExecutionMode) String() string {
	switch m {
	case FullFlash:
		return "full_flash"
	case PartialFlash:
		return "partial_flash"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// InstallMediaType tells where the installer was booted from.
type InstallMediaType int

// Install media types
const (
	MediaOther InstallMediaType = iota
	MediaRecoveryPartition
)

func (m InstallMediaType) String() string {
	switch m {
	case MediaOther:
		return "other"
	case MediaRecoveryPartition:
		return "recovery_partition"
	}
	return fmt.Sprintf("media(%d)", int(m))
}

// Action is one step of the plan. Actions are flat JSON objects: everything
// besides the filter flags is handed to the operation as its parameters.
type Action struct {
	Type              string
	Target            string
	Source            string
	RunOnFullFlash    bool
	RunOnPartialFlash bool
	RunInRecoveryMode bool
	Params            operations.Params
}

// NewAction reads the well-known fields and filter flags of params.
func NewAction(params operations.Params) Action {
	if params == nil {
		params = operations.Params{}
	}
	return Action{
		Type:              params.String("type"),
		Target:            params.String("target"),
		Source:            params.String("source"),
		RunOnFullFlash:    params.Bool("run_on_full_flash", true),
		RunOnPartialFlash: params.Bool("run_on_partial_flash", false),
		RunInRecoveryMode: params.Bool("run_in_recovery_mode", true),
		Params:            params,
	}
}

// UnmarshalJSON implements json.Unmarshaler. Numbers are kept as
// json.Number so sizes and offsets never lose precision.
func (a *Action) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("action: %w", err)
	}
	*a = NewAction(raw)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}(a.Params))
}

// Selected reports whether the action runs under mode and media.
func (a Action) Selected(mode ExecutionMode, media InstallMediaType) bool {
	switch mode {
	case FullFlash:
		if !a.RunOnFullFlash {
			return false
		}
	case PartialFlash:
		if !a.RunOnPartialFlash {
			return false
		}
	}
	if media == MediaRecoveryPartition && !a.RunInRecoveryMode {
		return false
	}
	return true
}
