// Package ubi prepares UBI volumes on raw NAND and writes images to them.
package ubi

import (
	"path"
	"strconv"
	"strings"

	"github.com/arthur-debert/flashtool/pkg/flashtool/core"
)

// ParseMTD returns N for an MTD device path such as /dev/mtdN.
func ParseMTD(parentDevice string) (int, error) {
	base := path.Base(parentDevice)
	digits, ok := strings.CutPrefix(base, "mtd")
	if !ok || digits == "" {
		return 0, &core.ParseError{What: "MTD number", Input: parentDevice}
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 {
		return 0, &core.ParseError{What: "MTD number", Input: parentDevice, Cause: err}
	}
	return n, nil
}

// ParseParentUBI returns the UBI device a per-volume node belongs to:
// /dev/ubi0 for /dev/ubi0_3.
func ParseParentUBI(volumePath string) (string, error) {
	i := strings.LastIndex(volumePath, "_")
	if i <= 0 {
		return "", &core.ParseError{What: "parent UBI device", Input: volumePath}
	}
	return volumePath[:i], nil
}

// ParseVolumeID returns the volume id that follows parentUBI + "_" in volumePath.
func ParseVolumeID(volumePath, parentUBI string) (int, error) {
	suffix, ok := strings.CutPrefix(volumePath, parentUBI+"_")
	if !ok || suffix == "" {
		return 0, &core.ParseError{What: "UBI volume id", Input: volumePath}
	}
	id, err := strconv.Atoi(suffix)
	if err != nil || id < 0 {
		return 0, &core.ParseError{What: "UBI volume id", Input: volumePath, Cause: err}
	}
	return id, nil
}

// Topology describes where a volume lives and how it should be created.
type Topology struct {
	ParentMTD  int
	ParentUBI  string
	VolumePath string
	// VolumeID is only known once the volume has to be created.
	VolumeID  int
	Name      string
	SizeMiB   int64
	Immutable bool
	// Image is empty for a size-only update.
	Image string
}

// Label returns the volume name, or vol<id> when none was requested.
func (t Topology) Label() string {
	if t.Name != "" {
		return t.Name
	}
	return "vol" + strconv.Itoa(t.VolumeID)
}

// VolumeType is the ubimkvol -t argument.
func (t Topology) VolumeType() string {
	if t.Immutable {
		return "static"
	}
	return "dynamic"
}
