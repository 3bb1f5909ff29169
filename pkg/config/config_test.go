package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("GROVE_THROTTLE_LIMIT", "")
	os.Unsetenv("GROVE_THROTTLE_LIMIT")

	got, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), got)
}

func TestLoad_ParsesYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grove.yaml")
	require.NoError(t, os.WriteFile(path, []byte("throttle_limit: 8\nbackup_log_count: 5\n"), 0o644))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, got.ThrottleLimit)
	assert.Equal(t, 5, got.BackupLogCount)
	assert.Equal(t, Default().EventLogMaxSizeKB, got.EventLogMaxSizeKB)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grove.yaml")
	require.NoError(t, os.WriteFile(path, []byte("throttle_limit: 8\n"), 0o644))
	t.Setenv("GROVE_THROTTLE_LIMIT", "20")

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 20, got.ThrottleLimit)
}
