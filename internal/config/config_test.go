// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabasePathConfiguration(t *testing.T) {
	tests := []struct {
		name           string
		configContent  string
		envVar         string
		expectedInPath string
	}{
		{
			name: "default_next_to_config",
			configContent: `
host = "localhost"
port = 8080
sessionSecret = "test-secret"`,
			expectedInPath: "mlm.db",
		},
		{
			name: "explicit_in_config",
			configContent: `
host = "localhost"
port = 8080
sessionSecret = "test-secret"
databasePath = "/custom/path.db"`,
			expectedInPath: "/custom/path.db",
		},
		{
			name: "env_var_override",
			configContent: `
host = "localhost"
port = 8080
sessionSecret = "test-secret"
databasePath = "/config/path.db"`,
			envVar:         "/env/override.db",
			expectedInPath: "/env/override.db",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "config.toml")
			err := os.WriteFile(configPath, []byte(tt.configContent), 0644)
			require.NoError(t, err)

			if tt.envVar != "" {
				t.Setenv(envDatabasePathOverride, tt.envVar)
			}

			m, err := New(configPath)
			require.NoError(t, err)

			dbPath := m.GetDatabasePath()
			if filepath.IsAbs(tt.expectedInPath) {
				assert.Equal(t, tt.expectedInPath, dbPath)
			} else {
				assert.Contains(t, dbPath, tt.expectedInPath)
			}
		})
	}
}

func TestBackwardCompatibility(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	configContent := `
host = "localhost"
port = 8080
sessionSecret = "existing-secret"`

	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	m, err := New(configPath)
	require.NoError(t, err)

	dbPath := m.GetDatabasePath()
	expectedPath := filepath.Join(tmpDir, "mlm.db")
	assert.Equal(t, expectedPath, dbPath)
}

func TestEnvironmentVariablePrecedence(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	configContent := `
host = "localhost"
port = 8080
sessionSecret = "test-secret"
databasePath = "/config/file/path.db"`

	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	t.Setenv(envDatabasePathOverride, "/env/var/path.db")

	m, err := New(configPath)
	require.NoError(t, err)

	assert.Equal(t, "/env/var/path.db", m.GetDatabasePath())
}

func TestNewCreatesDefaultConfigFileWhenMissing(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	_, err := New(configPath)
	require.NoError(t, err)

	content, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "Auto-generated on first run")
}

func TestReloadPicksUpChangedValues(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(`min_ratio = 1.5`), 0644))

	m, err := New(configPath)
	require.NoError(t, err)
	assert.Equal(t, 1.5, m.Current().MinRatio)

	require.NoError(t, os.WriteFile(configPath, []byte(`min_ratio = 3.0`), 0644))
	require.NoError(t, m.Reload())
	assert.Equal(t, 3.0, m.Current().MinRatio)
}

func TestReloadRejectsInvalidConfigKeepingPreviousSnapshot(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(`unsat_buffer = 5`), 0644))

	m, err := New(configPath)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(configPath, []byte(`unsat_buffer = -1`), 0644))
	err = m.Reload()
	assert.Error(t, err)
	assert.Equal(t, 5, m.Current().UnsatBuffer)
}
