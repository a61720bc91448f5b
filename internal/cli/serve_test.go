package cli

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeStopsOnCancel(t *testing.T) {
	opts := testRootOptions(t, "text")
	dir := writeProtocolDir(t, shortProtocol)
	db := filepath.Join(t.TempDir(), "serve.db")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cmd := NewServeCommand(opts)
	cmd.SetArgs([]string{"--protocol", dir, "--listen", "127.0.0.1:0", "--db", db})
	require.NoError(t, cmd.ExecuteContext(ctx))
	assert.FileExists(t, db)
}

func TestServeBadProtocol(t *testing.T) {
	opts := testRootOptions(t, "text")

	cmd := NewServeCommand(opts)
	cmd.SetArgs([]string{"--protocol", "/nonexistent/protocol", "--listen", "127.0.0.1:0"})
	err := cmd.Execute()

	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "protocol failed to load")
}

func TestServeBadListenAddr(t *testing.T) {
	opts := testRootOptions(t, "text")
	dir := writeProtocolDir(t, shortProtocol)

	cmd := NewServeCommand(opts)
	cmd.SetArgs([]string{"--protocol", dir, "--listen", "256.0.0.1:99999"})
	err := cmd.Execute()

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
