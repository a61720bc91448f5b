package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pitchtime/internal/blob"
	"github.com/roach88/pitchtime/internal/blob/fs"
	"github.com/roach88/pitchtime/internal/config"
	"github.com/roach88/pitchtime/internal/schedule"
)

// shortProtocol pins 2 blocks of 6 trials for participants 1..3, which is
// what schedule generation yields with one repetition.
const shortProtocol = `package study

protocol: {
	participants: {min_id: 1, max_id: 3}
	blocks:           2
	trials_per_block: 6
}
`

// testRootOptions returns options whose stores live in a temp dir.
func testRootOptions(t *testing.T, format string) *RootOptions {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewDefaultConfig()
	cfg.Blob = blob.Config{Driver: blob.DriverFilesystem, Root: filepath.Join(dir, "blobs")}
	cfg.Store.Path = filepath.Join(dir, "sessions.db")
	return &RootOptions{Format: format, Config: cfg}
}

func writeProtocolDir(t *testing.T, source string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "protocol.cue"), []byte(source), 0o644))
	return dir
}

// writeSchedules generates 2×6 schedules for ids into the options' blob root.
func writeSchedules(t *testing.T, opts *RootOptions, ids ...int) {
	t.Helper()
	store, err := fs.New(opts.Config.Blob.Root)
	require.NoError(t, err)
	gen := schedule.DefaultGenerateOptions()
	gen.Repetitions = 1
	gen.Blocks = 2
	w := schedule.NewWriter(store, opts.Config.Schedules.Prefix)
	require.NoError(t, w.WriteAll(context.Background(), ids, gen, 1))
}

// writeStimuli creates every audio file the default pattern produces for
// the generated conditions.
func writeStimuli(t *testing.T, opts *RootOptions) {
	t.Helper()
	dir := filepath.Join(opts.Config.Blob.Root, opts.Config.Stimuli.Prefix)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, shift := range []string{"+", "-"} {
		for _, offset := range []string{"-75", "0", "75"} {
			name := "sequence_A4" + shift + "_500_" + offset + ".wav"
			require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("RIFF"), 0o644))
		}
	}
}

type cmdOutput struct {
	out *bytes.Buffer
	err *bytes.Buffer
}

func execute(cmd *cobra.Command, args ...string) (cmdOutput, error) {
	o := cmdOutput{out: &bytes.Buffer{}, err: &bytes.Buffer{}}
	cmd.SetOut(o.out)
	cmd.SetErr(o.err)
	cmd.SetArgs(args)
	return o, cmd.Execute()
}
