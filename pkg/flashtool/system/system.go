// Package system wraps the few kernel calls the installer needs directly.
package system

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Syncer flushes filesystem buffers to stable storage.
type Syncer interface {
	Sync()
}

// SyncFunc is a function adapter for Syncer
type SyncFunc func()

// Sync implements Syncer
func (f SyncFunc) Sync() { f() }

// KernelSync commits all buffered writes with sync(2).
var KernelSync Syncer = SyncFunc(unix.Sync)

// Rebooter restarts the machine.
type Rebooter interface {
	Reboot() error
}

// RebootFunc is a function adapter for Rebooter
type RebootFunc func() error

// Reboot implements Rebooter
func (f RebootFunc) Reboot() error { return f() }

// KernelReboot restarts the machine immediately. Callers flush first.
var KernelReboot Rebooter = RebootFunc(func() error {
	if err := unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART); err != nil {
		return fmt.Errorf("reboot: %w", err)
	}
	return nil
})

// CountingSyncer records how often Sync was called.
type CountingSyncer struct {
	Calls int
}

// Sync implements Syncer
func (c *CountingSyncer) Sync() { c.Calls++ }

// SameDevice reports whether the filesystem mounted at mountedPath lives on
// the block device devicePath. devicePath may be a symlink such as
// /dev/disk/by-label/recovery.
func SameDevice(mountedPath, devicePath string) (bool, error) {
	var mounted unix.Stat_t
	if err := unix.Stat(mountedPath, &mounted); err != nil {
		return false, &os.PathError{Op: "stat", Path: mountedPath, Err: err}
	}
	resolved, err := filepath.EvalSymlinks(devicePath)
	if err != nil {
		return false, err
	}
	var dev unix.Stat_t
	if err := unix.Stat(resolved, &dev); err != nil {
		return false, &os.PathError{Op: "stat", Path: resolved, Err: err}
	}
	if dev.Mode&unix.S_IFMT != unix.S_IFBLK {
		return false, nil
	}
	return uint64(mounted.Dev) == uint64(dev.Rdev), nil
}
