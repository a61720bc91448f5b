package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/pitchtime/internal/blob/factory"
	"github.com/roach88/pitchtime/internal/participant"
	"github.com/roach88/pitchtime/internal/protocol"
	"github.com/roach88/pitchtime/internal/schedule"
	"github.com/roach88/pitchtime/internal/timeline"
)

// BuildOptions holds flags for the build command.
type BuildOptions struct {
	*RootOptions
	Participant  string
	ScheduleFile string
	ProtocolDir  string
	OutputFile   string
	Seed         uint64
}

// BuildResult is the JSON payload of a successful build.
type BuildResult struct {
	Subject      int                  `json:"subject"`
	Assigned     bool                 `json:"assigned"`
	TimelineHash string               `json:"timeline_hash"`
	Records      int                  `json:"records"`
	Preload      int                  `json:"preload_audio"`
	Output       string               `json:"output,omitempty"`
	Experiment   *timeline.Experiment `json:"experiment,omitempty"`
}

// NewBuildCommand creates the build command.
func NewBuildCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BuildOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "build",
		Short:         "Build one participant's experiment offline",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `Build the experiment a participant would be served, without recording a
session. The schedule is read from --schedule, or from the configured blob
store when omitted.

The experiment JSON is written to --output, or stdout.`,
		Example: `  pitchtime build --participant 17
  pitchtime build --participant 17 --schedule schedules/17.json -o 17.json
  pitchtime build --participant "" --seed 3 --protocol ./protocol`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Participant, "participant", "", "raw participant identifier")
	cmd.Flags().StringVar(&opts.ScheduleFile, "schedule", "", "schedule JSON file (default: blob store)")
	cmd.Flags().StringVar(&opts.ProtocolDir, "protocol", "", "CUE protocol directory (default: config protocol.dir)")
	cmd.Flags().StringVarP(&opts.OutputFile, "output", "o", "", "output file (default: stdout)")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 0, "seed for assigning an identifier when --participant is invalid")

	return cmd
}

func runBuild(ctx context.Context, cmd *cobra.Command, opts *BuildOptions) error {
	out := opts.formatter(cmd)
	cfg := opts.config()

	dir := opts.ProtocolDir
	if dir == "" {
		dir = cfg.Protocol.Dir
	}
	p, loadErrs := loadProtocol(dir, protocol.LoadModeFailFast)
	if len(loadErrs) > 0 {
		le := loadErrs[0]
		out.Error(le.Code, le.Describe(), nil)
		return NewExitError(ExitFailure, "protocol failed to load")
	}

	res := participant.Resolve(opts.Participant, p.Participants, participant.SeededSource(opts.Seed))
	out.VerboseLog("participant %q resolved to %d (assigned=%t)", res.Raw, res.ID, res.Assigned)

	sched, err := buildSchedule(ctx, opts, res.ID)
	if err != nil {
		le := scheduleError(res.ID, err)
		out.Error(le.Code, le.Message, nil)
		return NewExitError(ExitFailure, "schedule unavailable")
	}

	exp, err := timeline.Build(p, sched, res.ID)
	if err != nil {
		le := scheduleError(res.ID, err)
		out.Error(le.Code, le.Message, nil)
		return NewExitError(ExitFailure, "timeline build failed")
	}
	hash, err := exp.Hash()
	if err != nil {
		return WrapExitError(ExitCommandError, "hash timeline", err)
	}
	opts.logger().Debug("timeline built",
		zap.Int("subject", res.ID),
		zap.Int("records", len(exp.Timeline)),
		zap.String("timeline_hash", hash))

	result := BuildResult{
		Subject:      res.ID,
		Assigned:     res.Assigned,
		TimelineHash: hash,
		Records:      len(exp.Timeline),
		Preload:      len(exp.Preload),
		Output:       opts.OutputFile,
	}

	if opts.OutputFile == "" && out.JSON() {
		result.Experiment = exp
		return out.Success(result)
	}

	data, err := encodeExperiment(exp)
	if err != nil {
		return WrapExitError(ExitCommandError, "encode experiment", err)
	}
	if opts.OutputFile == "" {
		_, err := out.Writer.Write(data)
		return err
	}
	if err := os.WriteFile(opts.OutputFile, data, 0o644); err != nil {
		return WrapExitError(ExitCommandError, "write output", err)
	}
	if out.JSON() {
		return out.Success(result)
	}
	fmt.Fprintf(out.Writer, "✓ Built participant %d: %d records, %d audio files\n",
		result.Subject, result.Records, result.Preload)
	fmt.Fprintf(out.Writer, "  Output: %s\n", opts.OutputFile)
	return nil
}

// encodeExperiment renders exp as indented JSON with HTML left unescaped,
// the same bytes on stdout and in --output files.
func encodeExperiment(exp *timeline.Experiment) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(exp); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func buildSchedule(ctx context.Context, opts *BuildOptions, id int) (schedule.Schedule, error) {
	if opts.ScheduleFile != "" {
		data, err := os.ReadFile(opts.ScheduleFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", schedule.ErrScheduleNotFound, err)
		}
		return schedule.Parse(data)
	}
	cfg := opts.config()
	store, err := factory.Open(ctx, cfg.Blob)
	if err != nil {
		return nil, err
	}
	return schedule.NewSource(store, cfg.Schedules.Prefix).Fetch(ctx, id)
}
