// Package partition turns a declarative partition layout into the command
// script fdisk or gdisk expect on their standard input.
package partition

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/arthur-debert/flashtool/pkg/flashtool/core"
	"github.com/arthur-debert/flashtool/pkg/flashtool/operations"
)

// Table types
const (
	TableMBR   = "mbr"
	TableMSDOS = "msdos"
	TableGPT   = "gpt"
)

// TypeExtended marks the MBR extended container partition.
const TypeExtended = "msdos_extended"

// maxPrimaries is the MBR limit on primary (including extended) partitions.
const maxPrimaries = 4

// PartitionSpec is one entry of a layout.
type PartitionSpec struct {
	Target  string
	SizeMiB int64
	// StartSector is nil when the tool should pick the first free sector.
	StartSector *int64
	// Type is empty, TypeExtended, or a type code passed to the tool verbatim.
	Type string
}

// TableSpec is a full partition layout for one disk.
type TableSpec struct {
	Device     string
	TableType  string
	Partitions []PartitionSpec
}

// IsMBR reports whether the table is a DOS partition table.
func (s TableSpec) IsMBR() bool {
	return s.TableType == TableMBR || s.TableType == TableMSDOS
}

// ParseTableSpec reads a layout from a partition_table action.
func ParseTableSpec(p operations.Params) (TableSpec, error) {
	spec := TableSpec{Device: p.String("target"), TableType: p.String("table_type")}
	for i, part := range p.List("partitions") {
		size, err := part.Int("size", 0)
		if err != nil {
			return TableSpec{}, fmt.Errorf("partition %d: %w", i, err)
		}
		ps := PartitionSpec{
			Target:  part.String("target"),
			SizeMiB: size,
			Type:    part.String("partition_type"),
		}
		if part.Has("start_sector") {
			start, err := part.Int("start_sector", 0)
			if err != nil {
				return TableSpec{}, fmt.Errorf("partition %d: %w", i, err)
			}
			ps.StartSector = &start
		}
		spec.Partitions = append(spec.Partitions, ps)
	}
	return spec, nil
}

// ParsePartitionNumber returns the partition number at the end of a device
// path, e.g. 3 for /dev/sda3 or /dev/mmcblk0p3.
func ParsePartitionNumber(target string) (int, error) {
	base := path.Base(target)
	i := len(base)
	for i > 0 && base[i-1] >= '0' && base[i-1] <= '9' {
		i--
	}
	if i == len(base) || target == "" {
		return 0, &core.ParseError{What: "partition number", Input: target}
	}
	n, err := strconv.Atoi(base[i:])
	if err != nil {
		return 0, &core.ParseError{What: "partition number", Input: target, Cause: err}
	}
	return n, nil
}

// Synthesize produces the command lines, in prompt order, that create the
// layout in an empty table and write it. Lines carry no trailing newline.
func Synthesize(spec TableSpec) ([]string, error) {
	if !spec.IsMBR() && spec.TableType != TableGPT {
		return nil, fmt.Errorf("partition table type %q is not supported", spec.TableType)
	}

	cmds := []string{"o"}
	extendedCreated := false
	primaries := 0

	for i, part := range spec.Partitions {
		if part.SizeMiB < 1 {
			return nil, fmt.Errorf("partition %d (%s): size must be at least 1 MiB", i, part.Target)
		}
		cmds = append(cmds, "n")

		if spec.IsMBR() {
			switch {
			case part.Type == TypeExtended:
				cmds = append(cmds, "e")
				if primaries < maxPrimaries-1 {
					// the tool picks the number of the container
					cmds = append(cmds, "")
				}
				primaries++
				extendedCreated = true
			case !extendedCreated:
				cmds = append(cmds, "p")
				if primaries < maxPrimaries-1 {
					n, err := ParsePartitionNumber(part.Target)
					if err != nil {
						return nil, err
					}
					cmds = append(cmds, strconv.Itoa(n))
				}
				primaries++
			default:
				// once every primary slot is used the tool stops asking for
				// the type; logical numbers are never asked for
				if primaries < maxPrimaries {
					cmds = append(cmds, "l")
				}
			}
		}

		start := ""
		if part.StartSector != nil {
			start = strconv.FormatInt(*part.StartSector, 10)
		}
		cmds = append(cmds, start, fmt.Sprintf("+%dM", part.SizeMiB))

		switch {
		case spec.TableType == TableGPT:
			// TODO: pass the GPT type code once gdisk's type prompt is scripted.
			cmds = append(cmds, "")
		case part.Type != "" && part.Type != TypeExtended:
			cmds = append(cmds, "t")
			// with a single partition the tool does not ask which one
			if created := i + 1; created > 1 {
				n, err := ParsePartitionNumber(part.Target)
				if err != nil {
					return nil, err
				}
				cmds = append(cmds, strconv.Itoa(n))
			}
			cmds = append(cmds, part.Type)
		}
	}
	return append(cmds, "w"), nil
}

// Script joins the command lines, each newline-terminated.
func Script(cmds []string) string {
	var b strings.Builder
	for _, c := range cmds {
		b.WriteString(c)
		b.WriteByte('\n')
	}
	return b.String()
}

// ToolFor returns the partitioning program for a table type.
func ToolFor(tableType string, tools operations.Tools) (string, error) {
	switch tableType {
	case TableMBR, TableMSDOS:
		return tools.Fdisk, nil
	case TableGPT:
		return tools.Gdisk, nil
	}
	return "", fmt.Errorf("partition table type %q is not supported", tableType)
}
