package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/pitchtime/internal/blob"
	"github.com/roach88/pitchtime/internal/blob/factory"
	"github.com/roach88/pitchtime/internal/participant"
	"github.com/roach88/pitchtime/internal/protocol"
	"github.com/roach88/pitchtime/internal/schedule"
)

// NewScheduleCommand creates the schedule command group.
func NewScheduleCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "schedule",
		Short:         "Generate and inspect participant schedules",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newScheduleGenerateCommand(rootOpts))
	cmd.AddCommand(newScheduleShowCommand(rootOpts))
	return cmd
}

// ScheduleGenerateOptions holds flags for schedule generate.
type ScheduleGenerateOptions struct {
	*RootOptions
	ProtocolDir string
	OutDir      string
	From        int
	To          int
	Seed        uint64
	Repetitions int
	Blocks      int
	Overwrite   bool
	Concurrency int
}

// GenerateResult is the JSON payload of schedule generate.
type GenerateResult struct {
	Count          int    `json:"count"`
	From           int    `json:"from"`
	To             int    `json:"to"`
	Blocks         int    `json:"blocks"`
	TrialsPerBlock int    `json:"trials_per_block"`
	Seed           uint64 `json:"seed"`
	FirstKey       string `json:"first_key"`
}

func newScheduleGenerateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScheduleGenerateOptions{RootOptions: rootOpts}
	defaults := schedule.DefaultGenerateOptions()

	cmd := &cobra.Command{
		Use:           "generate",
		Short:         "Write one balanced schedule per participant",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `Write one schedule file per participant identifier. Every block holds
each pitch condition --repetitions times, shuffled per block. Participant N
is seeded with seed+N, so a single file can be regenerated on its own.

Files are written to the configured blob store, or to --out as a local
directory. Existing files are kept unless --overwrite is set.`,
		Example: `  pitchtime schedule generate --out ./data --seed 42
  pitchtime schedule generate --from 1 --to 20 --blocks 2 --repetitions 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduleGenerate(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.ProtocolDir, "protocol", "", "CUE protocol directory (default: config protocol.dir)")
	cmd.Flags().StringVar(&opts.OutDir, "out", "", "write to this local directory instead of the blob store")
	cmd.Flags().IntVar(&opts.From, "from", 0, "first participant (default: protocol min_id)")
	cmd.Flags().IntVar(&opts.To, "to", 0, "last participant (default: protocol max_id)")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 1, "base random seed")
	cmd.Flags().IntVar(&opts.Repetitions, "repetitions", defaults.Repetitions, "copies of every condition per block")
	cmd.Flags().IntVar(&opts.Blocks, "blocks", 0, "number of blocks (default: protocol blocks, else 4)")
	cmd.Flags().BoolVar(&opts.Overwrite, "overwrite", false, "replace existing schedule files")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 8, "files written in parallel")

	return cmd
}

func runScheduleGenerate(ctx context.Context, cmd *cobra.Command, opts *ScheduleGenerateOptions) error {
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

	ids := participant.Range{MinID: p.Participants.MinID, MaxID: p.Participants.MaxID}
	if opts.From != 0 {
		ids.MinID = opts.From
	}
	if opts.To != 0 {
		ids.MaxID = opts.To
	}
	if err := ids.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid --from/--to", err)
	}

	gen := schedule.DefaultGenerateOptions()
	gen.Repetitions = opts.Repetitions
	gen.Blocks = opts.Blocks
	if gen.Blocks == 0 && p.Blocks > 0 {
		gen.Blocks = p.Blocks
	}
	if gen.Blocks == 0 {
		gen.Blocks = schedule.DefaultGenerateOptions().Blocks
	}
	// A generated file the protocol would reject is never useful.
	if p.TrialsPerBlock > 0 && gen.TrialsPerBlock() != p.TrialsPerBlock {
		return NewExitError(ExitCommandError, fmt.Sprintf(
			"--repetitions %d gives %d trials per block, protocol requires %d",
			gen.Repetitions, gen.TrialsPerBlock(), p.TrialsPerBlock))
	}

	blobCfg := cfg.Blob
	if opts.OutDir != "" {
		blobCfg = blob.Config{Driver: blob.DriverFilesystem, Root: opts.OutDir}
	}
	store, err := factory.Open(ctx, blobCfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "open blob store", err)
	}

	w := schedule.NewWriter(store, cfg.Schedules.Prefix,
		schedule.WithConcurrency(opts.Concurrency),
		schedule.WithOverwrite(opts.Overwrite),
		schedule.WithLogger(opts.logger()))
	if err := w.WriteAll(ctx, ids.IDs(), gen, opts.Seed); err != nil {
		out.Error(ErrCodeScheduleMalformed, err.Error(), nil)
		return WrapExitError(ExitFailure, "schedule generation failed", err)
	}

	result := GenerateResult{
		Count:          ids.Size(),
		From:           ids.MinID,
		To:             ids.MaxID,
		Blocks:         gen.Blocks,
		TrialsPerBlock: gen.TrialsPerBlock(),
		Seed:           opts.Seed,
		FirstKey:       schedule.NewSource(store, cfg.Schedules.Prefix).Key(ids.MinID),
	}
	if out.JSON() {
		return out.Success(result)
	}
	fmt.Fprintf(out.Writer, "✓ Wrote %d schedules (participants %d-%d)\n", result.Count, result.From, result.To)
	fmt.Fprintf(out.Writer, "  %d blocks × %d trials, seed %d\n", result.Blocks, result.TrialsPerBlock, result.Seed)
	return nil
}

func newScheduleShowCommand(rootOpts *RootOptions) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:           "show PARTICIPANT",
		Short:         "Print a participant's stored schedule",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			cfg := rootOpts.config()
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "participant must be an integer", err)
			}
			blobCfg := cfg.Blob
			if outDir != "" {
				blobCfg = blob.Config{Driver: blob.DriverFilesystem, Root: outDir}
			}
			store, err := factory.Open(cmd.Context(), blobCfg)
			if err != nil {
				return WrapExitError(ExitCommandError, "open blob store", err)
			}
			sched, err := schedule.NewSource(store, cfg.Schedules.Prefix).Fetch(cmd.Context(), id)
			if err != nil {
				le := scheduleError(id, err)
				out.Error(le.Code, le.Message, nil)
				return NewExitError(ExitFailure, "schedule unavailable")
			}
			if out.JSON() {
				return out.Success(sched)
			}
			blocks, width := sched.Dimensions()
			fmt.Fprintf(out.Writer, "Participant %d: %d blocks × %d trials\n", id, blocks, width)
			for i, block := range sched {
				fmt.Fprintf(out.Writer, "Block %d:\n", i+1)
				for _, t := range block {
					fmt.Fprintf(out.Writer, "  %s\n", t)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "dir", "", "read from this local directory instead of the blob store")
	return cmd
}
