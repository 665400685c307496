package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarluq/flow-relay/internal/config"
)

// newMockInitCmd creates a command carrying the init flags.
func newMockInitCmd(args ...string) *cobra.Command {
	cmd := &cobra.Command{Use: "init"}
	cmd.Flags().StringP("output", "o", "", "output path")
	cmd.Flags().Bool("force", false, "overwrite existing")
	cmd.SetOut(&strings.Builder{})
	if err := cmd.Flags().Parse(args); err != nil {
		panic(err)
	}
	return cmd
}

func TestRunConfigInitWritesLoadableYAML(t *testing.T) {
	t.Parallel()

	output := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, runConfigInit(newMockInitCmd("--output", output), nil))

	cfg, err := config.Load(output)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultListen, cfg.Server.Listen)

	info, err := os.Stat(output)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestRunConfigInitWritesTOML(t *testing.T) {
	t.Parallel()

	output := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, runConfigInit(newMockInitCmd("-o", output), nil))

	data, err := os.ReadFile(filepath.Clean(output))
	require.NoError(t, err)
	assert.Contains(t, string(data), "[server]")

	_, err = config.Load(output)
	require.NoError(t, err)
}

func TestRunConfigInitRefusesOverwrite(t *testing.T) {
	t.Parallel()

	output := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, output, "existing: content")

	err := runConfigInit(newMockInitCmd("--output", output), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	data, readErr := os.ReadFile(filepath.Clean(output))
	require.NoError(t, readErr)
	assert.Equal(t, "existing: content", string(data))
}

func TestRunConfigInitForceOverwrites(t *testing.T) {
	t.Parallel()

	output := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, output, "existing: content")

	require.NoError(t, runConfigInit(newMockInitCmd("--output", output, "--force"), nil))

	data, err := os.ReadFile(filepath.Clean(output))
	require.NoError(t, err)
	assert.Contains(t, string(data), "server:")
}

func TestRunConfigInitRejectsUnknownExtension(t *testing.T) {
	t.Parallel()

	output := filepath.Join(t.TempDir(), "config.json")
	err := runConfigInit(newMockInitCmd("--output", output), nil)
	require.ErrorIs(t, err, config.ErrUnknownFormat)
	assert.NoFileExists(t, output)
}
