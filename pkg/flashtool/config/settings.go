package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"github.com/arthur-debert/flashtool/pkg/flashtool/compiler"
	"github.com/arthur-debert/flashtool/pkg/flashtool/core"
	"github.com/arthur-debert/flashtool/pkg/flashtool/filesystem"
	"github.com/arthur-debert/flashtool/pkg/flashtool/operations"
)

// RollingVersion disables version bookkeeping beyond recording it.
const RollingVersion = "rolling"

// ErrEmptySettings is returned for a settings document without any key.
var ErrEmptySettings = errors.New("settings document is empty")

// Settings is the declarative description of one installation.
type Settings struct {
	Actions             []compiler.Action   `json:"actions"`
	Scripts             []operations.Params `json:"scripts"`
	HasRecovery         bool                `json:"has_recovery"`
	RecoveryDevice      string              `json:"recovery_device"`
	RecoveryDeviceLabel string              `json:"recovery_device_filesystem_label"`
	ApplianceVersion    string              `json:"appliance_version"`
}

// ParseSettings decodes a settings document.
func ParseSettings(data []byte) (*Settings, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("parsing settings: %w", err)
	}
	if len(keys) == 0 {
		return nil, ErrEmptySettings
	}
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing settings: %w", err)
	}
	if s.ApplianceVersion == "" {
		s.ApplianceVersion = RollingVersion
	}
	return &s, nil
}

// LoadSettings reads and decodes the settings document at name.
func LoadSettings(fsys filesystem.ReadFS, name string) (*Settings, error) {
	data, err := fsys.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}
	s, err := ParseSettings(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return s, nil
}

// DetectMode returns PartialFlash when the marker file is present.
func DetectMode(fsys filesystem.ReadFS, marker string) compiler.ExecutionMode {
	if filesystem.Exists(fsys, marker) {
		return compiler.PartialFlash
	}
	return compiler.FullFlash
}

// SameDeviceFunc reports whether the filesystem mounted at mounted lives on
// the block device device. system.SameDevice is the real implementation.
type SameDeviceFunc func(mounted, device string) (bool, error)

// DetectMedia returns MediaRecoveryPartition when the settings declare a
// recovery partition and the boot medium is mounted from it, identified
// either by its device path or by its filesystem label.
func DetectMedia(s *Settings, bootMedium, byLabelDir string, same SameDeviceFunc, logger core.Logger) compiler.InstallMediaType {
	logger = core.OrNop(logger)
	if s == nil || !s.HasRecovery || same == nil {
		return compiler.MediaOther
	}

	var candidates []string
	if s.RecoveryDevice != "" {
		candidates = append(candidates, s.RecoveryDevice)
	}
	if s.RecoveryDeviceLabel != "" {
		candidates = append(candidates, path.Join(byLabelDir, s.RecoveryDeviceLabel))
	}
	for _, dev := range candidates {
		ok, err := same(bootMedium, dev)
		if err != nil {
			logger.Debug().Str("device", dev).Err(err).Msg("cannot compare boot medium with recovery device")
			continue
		}
		if ok {
			logger.Info().Str("device", dev).Msg("detected installation from recovery partition")
			return compiler.MediaRecoveryPartition
		}
	}
	return compiler.MediaOther
}
