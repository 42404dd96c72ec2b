package operations

import (
	"context"
	"fmt"
	"time"

	"github.com/arthur-debert/flashtool/pkg/flashtool/core"
	"github.com/arthur-debert/flashtool/pkg/flashtool/filesystem"
	"github.com/arthur-debert/flashtool/pkg/flashtool/proc"
	"github.com/arthur-debert/flashtool/pkg/flashtool/system"
)

// Tools holds the paths of every external program an operation may launch.
type Tools struct {
	Fdisk        string `mapstructure:"fdisk"`
	Gdisk        string `mapstructure:"gdisk"`
	DD           string `mapstructure:"dd"`
	Bunzip2      string `mapstructure:"bunzip2"`
	MkfsPrefix   string `mapstructure:"mkfs_prefix"`
	Mount        string `mapstructure:"mount"`
	Umount       string `mapstructure:"umount"`
	FlashErase   string `mapstructure:"flash_erase"`
	KobsNG       string `mapstructure:"kobs_ng"`
	Nandwrite    string `mapstructure:"nandwrite"`
	Ubiformat    string `mapstructure:"ubiformat"`
	Ubiattach    string `mapstructure:"ubiattach"`
	Ubidetach    string `mapstructure:"ubidetach"`
	Ubimkvol     string `mapstructure:"ubimkvol"`
	Ubiupdatevol string `mapstructure:"ubiupdatevol"`
	FwSetenv     string `mapstructure:"fw_setenv"`
	FwPrintenv   string `mapstructure:"fw_printenv"`
	FwEnvConfig  string `mapstructure:"fw_env_config"`
}

// DefaultTools returns the tool locations of the installer image.
func DefaultTools() Tools {
	return Tools{
		Fdisk:        "/sbin/fdisk",
		Gdisk:        "/sbin/gdisk",
		DD:           "/bin/dd",
		Bunzip2:      "/usr/bin/bunzip2",
		MkfsPrefix:   "/sbin/mkfs.",
		Mount:        "/bin/mount",
		Umount:       "/bin/umount",
		FlashErase:   "/usr/sbin/flash_erase",
		KobsNG:       "/usr/bin/kobs-ng",
		Nandwrite:    "/usr/sbin/nandwrite",
		Ubiformat:    "/usr/sbin/ubiformat",
		Ubiattach:    "/usr/sbin/ubiattach",
		Ubidetach:    "/usr/sbin/ubidetach",
		Ubimkvol:     "/usr/sbin/ubimkvol",
		Ubiupdatevol: "/usr/sbin/ubiupdatevol",
		FwSetenv:     "/usr/sbin/fw_setenv",
		FwPrintenv:   "/usr/sbin/fw_printenv",
		FwEnvConfig:  "/etc/fw_env.config",
	}
}

// Paths holds the well-known locations on the installer image.
type Paths struct {
	// BootMedium is where the installation media is mounted.
	BootMedium string `mapstructure:"boot_medium"`
	// RecoveryMount is the mountpoint used while populating a recovery partition.
	RecoveryMount string `mapstructure:"recovery_mount"`
	TempDir       string `mapstructure:"temp_dir"`
	// StateDir receives the installed-version records.
	StateDir    string `mapstructure:"state_dir"`
	UBootBackup string `mapstructure:"uboot_backup"`
}

// DefaultPaths returns the locations used on the installer image.
func DefaultPaths() Paths {
	return Paths{
		BootMedium:    "/ramdisk/boot",
		RecoveryMount: "/tmp/recovery",
		TempDir:       "/tmp",
		StateDir:      "/var/lib/flashtool",
		UBootBackup:   "/tmp/u-boot_backup",
	}
}

// Env is everything an operation needs from the host.
type Env struct {
	FS     filesystem.FileSystem
	Runner proc.Runner
	Syncer system.Syncer
	Tools  Tools
	Paths  Paths
	// Settle is waited after raw writes so device nodes can be re-enumerated.
	Settle time.Duration
	// DeviceWait is waited once for a device node that is not there yet.
	DeviceWait time.Duration
	// Sleep replaces the real clock in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Flush issues the durability barrier.
func (e *Env) Flush() {
	if e.Syncer != nil {
		e.Syncer.Sync()
	}
}

// Wait blocks for d or until ctx is done.
func (e *Env) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Exists reports whether name is present on the environment's filesystem.
func (e *Env) Exists(name string) bool {
	return filesystem.Exists(e.FS, name)
}

// Launch runs cmd and turns a launch failure into a precondition error.
func (e *Env) Launch(ctx context.Context, cmd proc.Command) (proc.Result, error) {
	res, err := e.Runner.Run(ctx, cmd)
	if err != nil {
		return res, &core.OperationError{
			Kind:    core.KindPrecondition,
			Message: fmt.Sprintf("cannot launch %s", cmd.Path),
			Cause:   err,
		}
	}
	return res, nil
}

// RunTool runs cmd and reports any abnormal or non-zero exit as a tool
// execution error with failure as its message.
func (e *Env) RunTool(ctx context.Context, cmd proc.Command, failure string) (proc.Result, error) {
	res, err := e.Launch(ctx, cmd)
	if err != nil {
		return res, err
	}
	if !res.Success() {
		return res, core.ToolError(res.Output(), "%s", failure)
	}
	return res, nil
}
