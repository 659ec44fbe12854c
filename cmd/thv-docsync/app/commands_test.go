package app

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/toolhive-docsync/internal/config"
)

func TestVersionCommand_JSON(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	require.NoError(t, versionCmd.Flags().Set("format", "json"))
	t.Cleanup(func() { _ = versionCmd.Flags().Set("format", "") })

	require.NoError(t, versionCmd.RunE(versionCmd, nil))

	var info map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &info))
	assert.Contains(t, info, "version")
	assert.Contains(t, info, "go_version")
}

func TestLoadServeConfig(t *testing.T) {
	t.Parallel()

	cfg, err := loadServeConfig("")
	require.NoError(t, err)
	assert.Equal(t, config.StoreTypeMemory, cfg.Store.GetType())

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  type: rest\n  rest:\n    endpoint: http://docs:8081\n"), 0o600))
	cfg, err = loadServeConfig(path)
	require.NoError(t, err)
	assert.Equal(t, config.StoreTypeREST, cfg.Store.GetType())

	_, err = loadServeConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestMigrateDown_RequiresSteps(t *testing.T) {
	require.NoError(t, migrateDownCmd.Flags().Set("num-steps", "0"))
	err := migrateDownCmd.RunE(migrateDownCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "num-steps")
}
