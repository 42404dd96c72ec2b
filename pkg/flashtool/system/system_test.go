package system_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arthur-debert/flashtool/pkg/flashtool/system"
)

func TestCountingSyncer(t *testing.T) {
	var s system.Syncer = &system.CountingSyncer{}
	s.Sync()
	s.Sync()
	assert.Equal(t, 2, s.(*system.CountingSyncer).Calls)
}

func TestSameDevice(t *testing.T) {
	dir := t.TempDir()

	t.Run("a regular file is never the backing device", func(t *testing.T) {
		file := filepath.Join(dir, "image")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
		same, err := system.SameDevice(dir, file)
		require.NoError(t, err)
		assert.False(t, same)
	})

	t.Run("missing device is an error", func(t *testing.T) {
		_, err := system.SameDevice(dir, filepath.Join(dir, "nope"))
		assert.Error(t, err)
	})

	t.Run("missing mountpoint is an error", func(t *testing.T) {
		_, err := system.SameDevice(filepath.Join(dir, "nope"), dir)
		assert.Error(t, err)
	})
}
