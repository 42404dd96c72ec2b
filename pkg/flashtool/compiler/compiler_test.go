package compiler_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arthur-debert/flashtool/pkg/flashtool/compiler"
	"github.com/arthur-debert/flashtool/pkg/flashtool/core"
	"github.com/arthur-debert/flashtool/pkg/flashtool/filesystem"
	"github.com/arthur-debert/flashtool/pkg/flashtool/operations"
	"github.com/arthur-debert/flashtool/pkg/flashtool/proc"
	"github.com/arthur-debert/flashtool/pkg/flashtool/system"
)

func newCompiler() (*compiler.Compiler, *filesystem.TestFileSystem) {
	fs := filesystem.NewTestFileSystem()
	env := &operations.Env{
		FS:     fs,
		Runner: proc.NewFakeRunner(),
		Syncer: &system.CountingSyncer{},
		Tools:  operations.DefaultTools(),
		Paths:  operations.DefaultPaths(),
	}
	return compiler.New(env, nil), fs
}

func decodeActions(t *testing.T, raw string) []compiler.Action {
	t.Helper()
	var actions []compiler.Action
	require.NoError(t, json.Unmarshal([]byte(raw), &actions))
	return actions
}

func types(ops []core.Operation) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.Describe().Type
	}
	return out
}

func messagesOf(t *testing.T, op core.Operation) core.Messages {
	t.Helper()
	a, ok := op.(core.Announcer)
	require.True(t, ok, "%s does not announce", op.ID())
	return a.Messages()
}

func TestAction(t *testing.T) {
	actions := decodeActions(t, `[
		{"type": "dd", "target": "/dev/sda1", "source": "/ramdisk/boot/boot.img", "size": 123456789012},
		{"type": "mkfs", "run_on_full_flash": false, "run_on_partial_flash": true, "run_in_recovery_mode": false}
	]`)
	require.Len(t, actions, 2)

	dd := actions[0]
	assert.Equal(t, "dd", dd.Type)
	assert.Equal(t, "/dev/sda1", dd.Target)
	assert.Equal(t, "/ramdisk/boot/boot.img", dd.Source)
	assert.True(t, dd.RunOnFullFlash)
	assert.False(t, dd.RunOnPartialFlash)
	assert.True(t, dd.RunInRecoveryMode)
	size, err := dd.Params.Int("size", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(123456789012), size)

	mkfs := actions[1]
	assert.False(t, mkfs.RunOnFullFlash)
	assert.True(t, mkfs.RunOnPartialFlash)
	assert.False(t, mkfs.RunInRecoveryMode)

	out, err := json.Marshal(dd)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"size":123456789012`)

	var bad compiler.Action
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &bad))
}

func TestSelected(t *testing.T) {
	tests := []struct {
		name   string
		action compiler.Action
		mode   compiler.ExecutionMode
		media  compiler.InstallMediaType
		want   bool
	}{
		{"defaults run on full flash", compiler.NewAction(nil), compiler.FullFlash, compiler.MediaOther, true},
		{"defaults skip partial flash", compiler.NewAction(nil), compiler.PartialFlash, compiler.MediaOther, false},
		{"opted into partial flash", compiler.NewAction(operations.Params{"run_on_partial_flash": true}), compiler.PartialFlash, compiler.MediaOther, true},
		{"opted out of full flash", compiler.NewAction(operations.Params{"run_on_full_flash": false}), compiler.FullFlash, compiler.MediaOther, false},
		{"recovery flag ignored on other media", compiler.NewAction(operations.Params{"run_in_recovery_mode": false}), compiler.FullFlash, compiler.MediaOther, true},
		{"recovery flag honoured on recovery media", compiler.NewAction(operations.Params{"run_in_recovery_mode": false}), compiler.FullFlash, compiler.MediaRecoveryPartition, false},
		{"recovery default runs", compiler.NewAction(nil), compiler.FullFlash, compiler.MediaRecoveryPartition, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.action.Selected(tt.mode, tt.media))
		})
	}
}

func TestCompileFilters(t *testing.T) {
	c, _ := newCompiler()
	actions := decodeActions(t, `[
		{"type": "mkfs", "target": "/dev/sda1", "filesystem": "ext4"},
		{"type": "mkfs", "target": "/dev/sda2", "filesystem": "ext4", "run_on_partial_flash": true},
		{"type": "mkfs", "target": "/dev/sda3", "filesystem": "ext4", "run_on_full_flash": false, "run_on_partial_flash": true},
		{"type": "mkfs", "target": "/dev/sda4", "filesystem": "ext4", "run_in_recovery_mode": false}
	]`)

	paths := func(ops []core.Operation) []string {
		out := []string{}
		for _, op := range ops {
			out = append(out, op.Describe().Path)
		}
		return out
	}

	ops, err := c.Compile(actions, compiler.FullFlash, compiler.MediaOther)
	require.NoError(t, err)
	assert.Equal(t, []string{"/dev/sda1", "/dev/sda2", "/dev/sda4"}, paths(ops))

	ops, err = c.Compile(actions, compiler.PartialFlash, compiler.MediaOther)
	require.NoError(t, err)
	assert.Equal(t, []string{"/dev/sda2", "/dev/sda3"}, paths(ops))

	ops, err = c.Compile(actions, compiler.FullFlash, compiler.MediaRecoveryPartition)
	require.NoError(t, err)
	assert.Equal(t, []string{"/dev/sda1", "/dev/sda2"}, paths(ops))
}

func TestCompileUnknownTypeRejectsPlan(t *testing.T) {
	c, _ := newCompiler()
	actions := decodeActions(t, `[
		{"type": "dd", "target": "/dev/sda1", "source": "/a.img"},
		{"type": "format_everything"},
		{"type": "mkfs", "target": "/dev/sda2", "filesystem": "vfat"}
	]`)

	ops, err := c.Compile(actions, compiler.FullFlash, compiler.MediaOther)
	assert.Nil(t, ops)
	var ce *compiler.CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 1, ce.Index)
	assert.Equal(t, "format_everything", ce.Type)
	assert.Equal(t, core.KindConfiguration, core.KindOf(err))

	seq, err := c.Build(actions, nil, "1.0", compiler.FullFlash, compiler.MediaOther)
	assert.Nil(t, seq)
	assert.Error(t, err)

	t.Run("filtered out unknown types are not looked at", func(t *testing.T) {
		actions := decodeActions(t, `[{"type": "format_everything", "run_on_full_flash": false}]`)
		ops, err := c.Compile(actions, compiler.FullFlash, compiler.MediaOther)
		assert.NoError(t, err)
		assert.Empty(t, ops)
	})
}

func TestCompileMessages(t *testing.T) {
	c, _ := newCompiler()
	for _, typ := range compiler.Types() {
		if typ == "nandwrite" || typ == "flash_kobs" || typ == "tool" {
			continue
		}
		t.Run(typ, func(t *testing.T) {
			ops, err := c.Compile([]compiler.Action{compiler.NewAction(operations.Params{"type": typ, "target": "/dev/x"})},
				compiler.FullFlash, compiler.MediaOther)
			require.NoError(t, err)
			require.Len(t, ops, 1)
			m := messagesOf(t, ops[0])
			assert.NotEmpty(t, m.Progress)
			assert.NotEmpty(t, m.Success)
		})
	}

	ops, err := c.Compile(decodeActions(t, `[{"type": "dd"}, {"type": "checksum"}]`), compiler.FullFlash, compiler.MediaOther)
	require.NoError(t, err)
	assert.Equal(t, core.Messages{Progress: "Writing image to memory...", Success: "Image written successfully.", SuccessBusy: true}, messagesOf(t, ops[0]))
	assert.Equal(t, core.Messages{Progress: "Verifying image checksum...", Success: "Checksum verified successfully."}, messagesOf(t, ops[1]))
}

func TestCompileRestoreUsesBackupFile(t *testing.T) {
	c, _ := newCompiler()
	ops, err := c.Compile(decodeActions(t, `[{"type": "restore_u-boot_environment"}]`), compiler.FullFlash, compiler.MediaOther)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "u-boot_env_update", ops[0].Describe().Type)
	assert.Equal(t, "/tmp/u-boot_backup", ops[0].Describe().Details["file"])
	assert.Equal(t, "Restoring boot environment...", messagesOf(t, ops[0]).Progress)
}

func TestCompileNandWrite(t *testing.T) {
	t.Run("with start erases the image's blocks", func(t *testing.T) {
		c, fs := newCompiler()
		fs.AddFile("/ramdisk/boot/spl.bin", make([]byte, 300000))
		ops, err := c.Compile(decodeActions(t, `[{
			"type": "nandwrite", "target": "/dev/mtd0", "source": "/ramdisk/boot/spl.bin",
			"start": "0x40000", "logical_eraseblock_size": 131072
		}]`), compiler.FullFlash, compiler.MediaOther)
		require.NoError(t, err)
		require.Equal(t, []string{"flash_erase", "nandwrite"}, types(ops))

		erase := ops[0].(*operations.FlashEraseOperation)
		cmd, err := erase.Command()
		require.NoError(t, err)
		assert.Equal(t, []string{"/usr/sbin/flash_erase", "/dev/mtd0", "0x40000", "3"}, cmd.Argv())
		assert.Equal(t, core.Messages{Progress: "Erasing flash...", Success: "Flash erased successfully."}, messagesOf(t, erase))

		write := ops[1].(*operations.NandWriteOperation)
		assert.Equal(t, []string{"/usr/sbin/nandwrite", "-p", "/dev/mtd0", "-s", "0x40000", "/ramdisk/boot/spl.bin"}, write.Command().Argv())
		assert.Equal(t, "Writing image to NAND...", messagesOf(t, write).Progress)
		assert.Equal(t, []core.OperationID{erase.ID()}, write.Dependencies())
	})

	t.Run("exact multiple of the block size", func(t *testing.T) {
		c, fs := newCompiler()
		fs.AddFile("/img", make([]byte, 4096))
		ops, err := c.Compile(decodeActions(t, `[{"type": "nandwrite", "target": "/dev/mtd1", "source": "/img", "start": "0", "logical_eraseblock_size": 1024}]`),
			compiler.FullFlash, compiler.MediaOther)
		require.NoError(t, err)
		cmd, err := ops[0].(*operations.FlashEraseOperation).Command()
		require.NoError(t, err)
		assert.Equal(t, "4", cmd.Args[len(cmd.Args)-1])
	})

	t.Run("without start erases everything", func(t *testing.T) {
		c, _ := newCompiler()
		ops, err := c.Compile(decodeActions(t, `[{"type": "nandwrite", "target": "/dev/mtd1", "source": "/missing.img"}]`),
			compiler.FullFlash, compiler.MediaOther)
		require.NoError(t, err)
		require.Len(t, ops, 2)
		cmd, err := ops[0].(*operations.FlashEraseOperation).Command()
		require.NoError(t, err)
		assert.Equal(t, []string{"/usr/sbin/flash_erase", "/dev/mtd1", "0", "0"}, cmd.Argv())
		assert.Equal(t, []string{"/usr/sbin/nandwrite", "-p", "/dev/mtd1", "/missing.img"}, ops[1].(*operations.NandWriteOperation).Command().Argv())
	})

	t.Run("start with an unreadable image rejects the plan", func(t *testing.T) {
		c, _ := newCompiler()
		_, err := c.Compile(decodeActions(t, `[{"type": "nandwrite", "target": "/dev/mtd1", "source": "/missing.img", "start": "0", "logical_eraseblock_size": 1024}]`),
			compiler.FullFlash, compiler.MediaOther)
		assert.Equal(t, core.KindConfiguration, core.KindOf(err))
	})

	t.Run("start without a block size rejects the plan", func(t *testing.T) {
		c, fs := newCompiler()
		fs.AddFile("/img", []byte("x"))
		_, err := c.Compile(decodeActions(t, `[{"type": "nandwrite", "target": "/dev/mtd1", "source": "/img", "start": "0"}]`),
			compiler.FullFlash, compiler.MediaOther)
		var ce *compiler.CompileError
		assert.True(t, errors.As(err, &ce))
	})
}

func TestCompileFlashKobs(t *testing.T) {
	raw := `[{"type": "flash_kobs", "target": "/dev/mtd0", "source": "/ramdisk/boot/u-boot.sb"}]`

	t.Run("missing source drops the action", func(t *testing.T) {
		c, _ := newCompiler()
		ops, err := c.Compile(decodeActions(t, raw), compiler.FullFlash, compiler.MediaOther)
		require.NoError(t, err)
		assert.Empty(t, ops)
	})

	t.Run("present source wipes then writes", func(t *testing.T) {
		c, fs := newCompiler()
		fs.AddFile("/ramdisk/boot/u-boot.sb", []byte("sb"))
		ops, err := c.Compile(decodeActions(t, raw), compiler.FullFlash, compiler.MediaOther)
		require.NoError(t, err)
		require.Equal(t, []string{"flash_erase", "flash_kobs"}, types(ops))
		cmd, err := ops[0].(*operations.FlashEraseOperation).Command()
		require.NoError(t, err)
		assert.Equal(t, []string{"/usr/sbin/flash_erase", "/dev/mtd0", "0", "0"}, cmd.Argv())
		assert.Equal(t, "Writing First-level Bootloader...", messagesOf(t, ops[1]).Progress)
		assert.Equal(t, []core.OperationID{ops[0].ID()}, ops[1].Dependencies())
	})
}

func TestBuild(t *testing.T) {
	c, _ := newCompiler()
	actions := decodeActions(t, `[
		{"type": "mkfs", "target": "/dev/sda1", "filesystem": "ext4"},
		{"type": "tool", "path": "/usr/bin/true", "message": "Doing nothing..."}
	]`)
	var scripts []operations.Params
	require.NoError(t, json.Unmarshal([]byte(`[{"message": "Running post-install...", "path": "/usr/bin/post-install", "args": ["--quiet"]}]`), &scripts))

	seq, err := c.Build(actions, scripts, "2.3.1", compiler.FullFlash, compiler.MediaOther)
	require.NoError(t, err)

	ops := seq.Operations()
	assert.Equal(t, []string{"mkfs", "tool", "tool", "system_config", "system_config"}, types(ops))
	assert.Equal(t, core.Messages{Progress: "Doing nothing...", Success: "OK"}, messagesOf(t, ops[1]))
	assert.Equal(t, core.Messages{Progress: "Running post-install...", Success: "OK"}, messagesOf(t, ops[2]))
	assert.Equal(t, "/usr/bin/post-install", ops[2].Describe().Path)
	assert.True(t, strings.HasSuffix(ops[3].Describe().Path, "/"+compiler.KeyApplianceVersion))
	assert.True(t, strings.HasSuffix(ops[4].Describe().Path, "/"+compiler.KeyRecoveryBoot))

	for i := 1; i < len(ops); i++ {
		assert.Equal(t, []core.OperationID{ops[i-1].ID()}, ops[i].Dependencies())
	}

	t.Run("flash writes depend on their erase", func(t *testing.T) {
		seq, err := c.Build(decodeActions(t, `[
			{"type": "mkfs", "target": "/dev/sda1", "filesystem": "ext4"},
			{"type": "nandwrite", "target": "/dev/mtd1", "source": "/img"}
		]`), nil, "2.3.1", compiler.FullFlash, compiler.MediaOther)
		require.NoError(t, err)
		ops := seq.Operations()
		require.Equal(t, []string{"mkfs", "flash_erase", "nandwrite", "system_config", "system_config"}, types(ops))
		assert.Equal(t, []core.OperationID{ops[1].ID()}, ops[2].Dependencies())
		assert.True(t, strings.HasSuffix(string(ops[1].ID()), "-erase"))

		require.NoError(t, seq.Resolve())
		assert.Equal(t, types(ops), types(seq.Operations()))
	})

	t.Run("nothing selected means nothing to run", func(t *testing.T) {
		seq, err := c.Build(actions, scripts, "2.3.1", compiler.PartialFlash, compiler.MediaOther)
		require.NoError(t, err)
		assert.Zero(t, seq.Len())
	})
}
