package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pitchtime/internal/schedule"
	"github.com/roach88/pitchtime/internal/timeline"
)

func TestBuildFromBlobStore(t *testing.T) {
	opts := testRootOptions(t, "text")
	dir := writeProtocolDir(t, shortProtocol)
	writeSchedules(t, opts, 2)

	o, err := execute(NewBuildCommand(opts), "--protocol", dir, "--participant", "2")
	require.NoError(t, err)

	var exp timeline.Experiment
	require.NoError(t, json.Unmarshal(o.out.Bytes(), &exp))
	assert.Equal(t, 2, exp.Properties.Subject)
	assert.Len(t, exp.Preload, 6)
	assert.Equal(t, timeline.EventDebrief, exp.Events()[len(exp.Timeline)-1])
	assert.Contains(t, o.out.String(), "<p>", "HTML must not be escaped")
}

func TestBuildFromScheduleFile(t *testing.T) {
	opts := testRootOptions(t, "json")
	dir := writeProtocolDir(t, shortProtocol)

	sched, err := schedule.Generate(schedule.GenerateOptions{
		Octaves: []int{4}, Shifts: []schedule.Shift{schedule.ShiftUp, schedule.ShiftDown},
		Offsets: []int{-75, 0, 75}, Repetitions: 1, Blocks: 2,
	}, schedule.NewRand(9))
	require.NoError(t, err)
	data, err := sched.Marshal()
	require.NoError(t, err)
	schedFile := filepath.Join(t.TempDir(), "session1.json")
	require.NoError(t, os.WriteFile(schedFile, data, 0o644))

	o, err := execute(NewBuildCommand(opts), "--protocol", dir, "--participant", "1", "--schedule", schedFile)
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   BuildResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(o.out.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Subject)
	assert.False(t, resp.Data.Assigned)
	require.NotNil(t, resp.Data.Experiment)
	assert.Equal(t, resp.Data.Records, len(resp.Data.Experiment.Timeline))
	assert.Len(t, resp.Data.TimelineHash, 64)
}

func TestBuildToFile(t *testing.T) {
	opts := testRootOptions(t, "text")
	dir := writeProtocolDir(t, shortProtocol)
	writeSchedules(t, opts, 1, 2, 3)
	outFile := filepath.Join(t.TempDir(), "exp.json")

	o, err := execute(NewBuildCommand(opts), "--protocol", dir, "--participant", "xyz", "-o", outFile)
	require.NoError(t, err)
	assert.Contains(t, o.out.String(), "✓ Built participant ")
	assert.Contains(t, o.out.String(), "6 audio files")

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	var exp timeline.Experiment
	require.NoError(t, json.Unmarshal(data, &exp))
	assert.True(t, exp.Properties.Subject >= 1 && exp.Properties.Subject <= 3)
}

func TestBuildAssignmentIsSeeded(t *testing.T) {
	dir := writeProtocolDir(t, shortProtocol)
	subjects := make([]int, 2)
	for i := range subjects {
		opts := testRootOptions(t, "json")
		writeSchedules(t, opts, 1, 2, 3)
		o, err := execute(NewBuildCommand(opts), "--protocol", dir, "--participant", "", "--seed", "5")
		require.NoError(t, err)
		var resp struct {
			Data BuildResult `json:"data"`
		}
		require.NoError(t, json.Unmarshal(o.out.Bytes(), &resp))
		assert.True(t, resp.Data.Assigned)
		subjects[i] = resp.Data.Subject
	}
	assert.Equal(t, subjects[0], subjects[1])
}

func TestBuildMissingSchedule(t *testing.T) {
	opts := testRootOptions(t, "text")
	dir := writeProtocolDir(t, shortProtocol)

	o, err := execute(NewBuildCommand(opts), "--protocol", dir, "--participant", "3")

	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, o.out.String(), "Error [E201]: participant 3")
}

func TestBuildMismatchedSchedule(t *testing.T) {
	opts := testRootOptions(t, "text")
	dir := writeProtocolDir(t, `package study

protocol: {
	participants: {min_id: 1, max_id: 3}
	blocks:           2
	trials_per_block: 12
}
`)
	writeSchedules(t, opts, 1)

	o, err := execute(NewBuildCommand(opts), "--protocol", dir, "--participant", "1")

	require.Error(t, err)
	assert.Contains(t, o.out.String(), "Error [E203]")
}

func TestBuildBadProtocol(t *testing.T) {
	opts := testRootOptions(t, "text")
	o, err := execute(NewBuildCommand(opts), "--protocol", t.TempDir(), "--participant", "1")

	require.Error(t, err)
	assert.Contains(t, o.out.String(), "[E003]")
}

func TestBuildFileMatchesStdout(t *testing.T) {
	opts := testRootOptions(t, "text")
	dir := writeProtocolDir(t, shortProtocol)
	writeSchedules(t, opts, 2)
	outFile := filepath.Join(t.TempDir(), "exp.json")

	stdout, err := execute(NewBuildCommand(opts), "--protocol", dir, "--participant", "2")
	require.NoError(t, err)
	_, err = execute(NewBuildCommand(opts), "--protocol", dir, "--participant", "2", "-o", outFile)
	require.NoError(t, err)

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<p>")
	assert.NotContains(t, string(data), `\u003c`)
	assert.Equal(t, stdout.out.String(), string(data))
}
