package ubi_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arthur-debert/flashtool/pkg/flashtool/core"
	"github.com/arthur-debert/flashtool/pkg/flashtool/filesystem"
	"github.com/arthur-debert/flashtool/pkg/flashtool/operations"
	"github.com/arthur-debert/flashtool/pkg/flashtool/proc"
	"github.com/arthur-debert/flashtool/pkg/flashtool/system"
	"github.com/arthur-debert/flashtool/pkg/flashtool/ubi"
)

type fixture struct {
	env    *operations.Env
	fs     *filesystem.TestFileSystem
	runner *proc.FakeRunner
	syncer *system.CountingSyncer
}

func newFixture() *fixture {
	f := &fixture{
		fs:     filesystem.NewTestFileSystem(),
		runner: proc.NewFakeRunner(),
		syncer: &system.CountingSyncer{},
	}
	f.env = &operations.Env{
		FS:     f.fs,
		Runner: f.runner,
		Syncer: f.syncer,
		Tools:  operations.DefaultTools(),
		Paths:  operations.DefaultPaths(),
	}
	return f
}

func volumeParams() operations.Params {
	return operations.Params{
		"type":          "ubiupdatevol",
		"target":        "/dev/ubi0_1",
		"parent_device": "/dev/mtd5",
		"source":        "/ramdisk/boot/rootfs.ubifs",
		"name":          "rootfs",
		"size":          120,
	}
}

func execCtx() *core.ExecutionContext {
	return &core.ExecutionContext{Logger: core.NopLogger}
}

func TestParsers(t *testing.T) {
	t.Run("ParseMTD", func(t *testing.T) {
		n, err := ubi.ParseMTD("/dev/mtd12")
		require.NoError(t, err)
		assert.Equal(t, 12, n)

		for _, bad := range []string{"", "/dev/mtd", "/dev/mtdblock3", "/dev/ubi0", "/dev/mtd-1"} {
			_, err := ubi.ParseMTD(bad)
			var pe *core.ParseError
			assert.True(t, errors.As(err, &pe), bad)
		}
	})

	t.Run("ParseParentUBI uses the last underscore", func(t *testing.T) {
		parent, err := ubi.ParseParentUBI("/dev/ubi0_3")
		require.NoError(t, err)
		assert.Equal(t, "/dev/ubi0", parent)

		parent, err = ubi.ParseParentUBI("/dev/my_ubi0_3")
		require.NoError(t, err)
		assert.Equal(t, "/dev/my_ubi0", parent)

		_, err = ubi.ParseParentUBI("/dev/ubi0")
		assert.Equal(t, core.KindConfiguration, core.KindOf(err))
	})

	t.Run("ParseVolumeID", func(t *testing.T) {
		id, err := ubi.ParseVolumeID("/dev/ubi0_3", "/dev/ubi0")
		require.NoError(t, err)
		assert.Equal(t, 3, id)

		_, err = ubi.ParseVolumeID("/dev/ubi0_x", "/dev/ubi0")
		assert.Error(t, err)
		_, err = ubi.ParseVolumeID("/dev/ubi0_", "/dev/ubi0")
		assert.Error(t, err)
	})

	t.Run("Topology defaults", func(t *testing.T) {
		topo := ubi.Topology{VolumeID: 4}
		assert.Equal(t, "vol4", topo.Label())
		assert.Equal(t, "dynamic", topo.VolumeType())
		topo.Immutable = true
		topo.Name = "boot"
		assert.Equal(t, "boot", topo.Label())
		assert.Equal(t, "static", topo.VolumeType())
	})
}

func TestVolumeMachine(t *testing.T) {
	ctx := context.Background()

	t.Run("existing volume only runs the update", func(t *testing.T) {
		f := newFixture()
		f.fs.AddDevice("/dev/ubi0").AddDevice("/dev/ubi0_1").AddFile("/ramdisk/boot/rootfs.ubifs", []byte("fs"))

		m := ubi.NewVolumeMachine(f.env, volumeParams(), nil)
		require.NoError(t, m.Run(ctx))

		snap := m.Snapshot()
		assert.Equal(t, ubi.StateDone, snap.State)
		assert.Equal(t, []ubi.State{ubi.StateInit, ubi.StateUpdate, ubi.StateDone}, snap.Visited())
		assert.False(t, snap.NeedDetach)
		if diff := cmp.Diff([][]string{{"/usr/sbin/ubiupdatevol", "/dev/ubi0_1", "/ramdisk/boot/rootfs.ubifs"}}, f.runner.Argvs()); diff != "" {
			t.Errorf("argv mismatch (-want +got):\n%s", diff)
		}
		assert.Equal(t, 1, f.syncer.Calls)
	})

	t.Run("attaches, creates, updates and detaches", func(t *testing.T) {
		f := newFixture()
		f.fs.AddFile("/ramdisk/boot/rootfs.ubifs", []byte("fs"))
		params := volumeParams()
		params["immutable"] = true
		delete(params, "name")

		m := ubi.NewVolumeMachine(f.env, params, nil)
		require.NoError(t, m.Run(ctx))

		snap := m.Snapshot()
		assert.Equal(t, []ubi.State{
			ubi.StateInit, ubi.StateMTDAttach, ubi.StateVolumeEnsure, ubi.StateUpdate, ubi.StateMTDDetach, ubi.StateDone,
		}, snap.Visited())
		want := [][]string{
			{"/usr/sbin/ubiattach", "-m", "5"},
			{"/usr/sbin/ubimkvol", "/dev/ubi0", "-N", "vol1", "-n", "1", "-s", "120MiB", "-t", "static"},
			{"/usr/sbin/ubiupdatevol", "/dev/ubi0_1", "/ramdisk/boot/rootfs.ubifs"},
			{"/usr/sbin/ubidetach", "-m", "5"},
		}
		if diff := cmp.Diff(want, f.runner.Argvs()); diff != "" {
			t.Errorf("argv mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("attached parent with missing volume creates it without detaching", func(t *testing.T) {
		f := newFixture()
		f.fs.AddDevice("/dev/ubi0")
		params := volumeParams()
		delete(params, "source")

		m := ubi.NewVolumeMachine(f.env, params, nil)
		require.NoError(t, m.Run(ctx))
		assert.Equal(t, []string{"/usr/sbin/ubimkvol", "/usr/sbin/ubiupdatevol"}, f.runner.Paths())
		assert.Equal(t, []string{"/usr/sbin/ubiupdatevol", "/dev/ubi0_1"}, f.runner.Argvs()[1])
	})

	t.Run("creation failure detaches and reports the creation error", func(t *testing.T) {
		f := newFixture()
		f.fs.AddFile("/ramdisk/boot/rootfs.ubifs", []byte("fs"))
		f.runner.Fail("/usr/sbin/ubimkvol", 1, "ubimkvol: error!: not enough space")
		f.runner.Fail("/usr/sbin/ubidetach", 1, "ubidetach: error!: device busy")

		m := ubi.NewVolumeMachine(f.env, volumeParams(), nil)
		err := m.Run(ctx)
		require.Error(t, err)
		assert.Equal(t, core.KindToolExecution, core.KindOf(err))
		assert.Contains(t, err.Error(), "failed to create volume /dev/ubi0_1")
		assert.Contains(t, err.Error(), "not enough space")
		assert.NotContains(t, err.Error(), "device busy")

		assert.Equal(t, []string{"/usr/sbin/ubiattach", "/usr/sbin/ubimkvol", "/usr/sbin/ubidetach"}, f.runner.Paths())
		snap := m.Snapshot()
		assert.Equal(t, ubi.StateFailed, snap.State)
		assert.Equal(t, err, snap.Err)
	})

	t.Run("attach failure does not detach", func(t *testing.T) {
		f := newFixture()
		f.fs.AddFile("/ramdisk/boot/rootfs.ubifs", []byte("fs"))
		f.runner.Fail("/usr/sbin/ubiattach", 1, "ubiattach: error!: cannot attach mtd5")

		err := ubi.NewVolumeMachine(f.env, volumeParams(), nil).Run(ctx)
		assert.Equal(t, core.KindToolExecution, core.KindOf(err))
		assert.Equal(t, []string{"/usr/sbin/ubiattach"}, f.runner.Paths())
	})

	t.Run("detach failure after a successful update is not an error", func(t *testing.T) {
		f := newFixture()
		f.fs.AddFile("/ramdisk/boot/rootfs.ubifs", []byte("fs"))
		f.runner.Fail("/usr/sbin/ubidetach", 1, "busy")

		m := ubi.NewVolumeMachine(f.env, volumeParams(), nil)
		require.NoError(t, m.Run(ctx))
		assert.Equal(t, ubi.StateDone, m.Snapshot().State)
	})

	t.Run("update failure still detaches once", func(t *testing.T) {
		f := newFixture()
		f.fs.AddFile("/ramdisk/boot/rootfs.ubifs", []byte("fs"))
		f.runner.Fail("/usr/sbin/ubiupdatevol", 1, "ubiupdatevol: error!: cannot write")

		err := ubi.NewVolumeMachine(f.env, volumeParams(), nil).Run(ctx)
		assert.Equal(t, core.KindToolExecution, core.KindOf(err))
		assert.Equal(t, []string{"/usr/sbin/ubiattach", "/usr/sbin/ubimkvol", "/usr/sbin/ubiupdatevol", "/usr/sbin/ubidetach"}, f.runner.Paths())
	})

	t.Run("invalid configuration fails in init without running anything", func(t *testing.T) {
		tests := []struct {
			name   string
			mutate func(operations.Params)
			kind   core.ErrorKind
		}{
			{"unparsable MTD", func(p operations.Params) { p["parent_device"] = "/dev/nand" }, core.KindConfiguration},
			{"no underscore", func(p operations.Params) { p["target"] = "/dev/ubi0" }, core.KindConfiguration},
			{"size below one", func(p operations.Params) { p["size"] = 0 }, core.KindConfiguration},
			{"missing image", func(p operations.Params) { p["source"] = "/nope.ubifs" }, core.KindPrecondition},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				f := newFixture()
				f.fs.AddFile("/ramdisk/boot/rootfs.ubifs", []byte("fs"))
				params := volumeParams()
				tt.mutate(params)

				m := ubi.NewVolumeMachine(f.env, params, nil)
				err := m.Run(ctx)
				assert.Equal(t, tt.kind, core.KindOf(err))
				assert.Equal(t, []ubi.State{ubi.StateInit, ubi.StateFailed}, m.Snapshot().Visited())
				assert.Empty(t, f.runner.Calls())
			})
		}
	})

	t.Run("unparsable volume id after attach detaches", func(t *testing.T) {
		f := newFixture()
		params := volumeParams()
		delete(params, "source")
		params["target"] = "/dev/ubi0_rootfs"

		err := ubi.NewVolumeMachine(f.env, params, nil).Run(ctx)
		assert.Equal(t, core.KindConfiguration, core.KindOf(err))
		assert.Equal(t, []string{"/usr/sbin/ubiattach", "/usr/sbin/ubidetach"}, f.runner.Paths())
	})
}

func TestUpdateVolOperation(t *testing.T) {
	f := newFixture()
	f.fs.AddDevice("/dev/ubi0").AddDevice("/dev/ubi0_1").AddFile("/ramdisk/boot/rootfs.ubifs", nil)

	op := ubi.NewUpdateVolOperation("vol", volumeParams(), f.env)
	_, ran := op.LastRun()
	assert.False(t, ran)

	require.NoError(t, op.Execute(context.Background(), execCtx()))
	snap, ran := op.LastRun()
	require.True(t, ran)
	assert.Equal(t, ubi.StateDone, snap.State)
	assert.Equal(t, "/dev/ubi0", snap.Topology.ParentUBI)
	assert.Equal(t, "ubiupdatevol", op.Describe().Type)
	assert.Equal(t, "/dev/ubi0_1", op.Describe().Path)
}

func TestAttachDetachOperation(t *testing.T) {
	ctx := context.Background()

	f := newFixture()
	require.NoError(t, ubi.NewAttachDetachOperation("a", ubi.ModeAttach, operations.Params{"parent_device": "/dev/mtd3"}, f.env).Execute(ctx, execCtx()))
	require.NoError(t, ubi.NewAttachDetachOperation("d", ubi.ModeDetach, operations.Params{"parent_device": "/dev/mtd3"}, f.env).Execute(ctx, execCtx()))
	assert.Equal(t, [][]string{
		{"/usr/sbin/ubiattach", "-m", "3"},
		{"/usr/sbin/ubidetach", "-m", "3"},
	}, f.runner.Argvs())

	t.Run("failure maps the exit status", func(t *testing.T) {
		f := newFixture()
		f.runner.Fail("/usr/sbin/ubiattach", 1, "")
		err := ubi.NewAttachDetachOperation("a", ubi.ModeAttach, operations.Params{"parent_device": "/dev/mtd3"}, f.env).Execute(ctx, execCtx())
		assert.Equal(t, core.KindToolExecution, core.KindOf(err))
		assert.Contains(t, err.Error(), "failed to attach MTD (3)")
	})

	t.Run("bad parent device", func(t *testing.T) {
		f := newFixture()
		err := ubi.NewAttachDetachOperation("d", ubi.ModeDetach, operations.Params{"parent_device": "mtd"}, f.env).Execute(ctx, execCtx())
		assert.Equal(t, core.KindConfiguration, core.KindOf(err))
		assert.Empty(t, f.runner.Calls())
	})
}
