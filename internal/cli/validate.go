package cli

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/pitchtime/internal/blob"
	"github.com/roach88/pitchtime/internal/blob/factory"
	"github.com/roach88/pitchtime/internal/protocol"
	"github.com/roach88/pitchtime/internal/schedule"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	ProtocolDir string
	Schedules   bool
	Stimuli     bool
}

// ValidateResult is the JSON payload of a successful validation.
type ValidateResult struct {
	Valid        bool   `json:"valid"`
	ProtocolHash string `json:"protocol_hash"`
	Participants int    `json:"participants"`
	Schedules    int    `json:"schedules_checked,omitempty"`
	Stimuli      int    `json:"stimuli_checked,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "validate",
		Short:         "Check the protocol, schedules and stimuli before a study",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `Validate the protocol definition and report every problem found.

With --schedules, every participant's schedule is fetched from the blob
store and checked against the protocol's block dimensions. With --stimuli,
every audio file those schedules reference must exist as well (implies
--schedules).`,
		Example: `  pitchtime validate --protocol ./protocol
  pitchtime validate --schedules --stimuli
  pitchtime validate --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.ProtocolDir, "protocol", "", "CUE protocol directory (default: config protocol.dir)")
	cmd.Flags().BoolVar(&opts.Schedules, "schedules", false, "check every participant's schedule")
	cmd.Flags().BoolVar(&opts.Stimuli, "stimuli", false, "check every referenced audio file exists")

	return cmd
}

func runValidate(ctx context.Context, cmd *cobra.Command, opts *ValidateOptions) error {
	out := opts.formatter(cmd)
	cfg := opts.config()

	dir := opts.ProtocolDir
	if dir == "" {
		dir = cfg.Protocol.Dir
	}
	out.VerboseLog("Validating protocol %q", dir)

	p, loadErrs := loadProtocol(dir, protocol.LoadModeCollectAll)
	if len(loadErrs) > 0 {
		return outputValidationErrors(out, loadErrs)
	}
	hash, err := p.Hash()
	if err != nil {
		return WrapExitError(ExitCommandError, "hash protocol", err)
	}
	result := ValidateResult{Valid: true, ProtocolHash: hash, Participants: p.Participants.Size()}

	if opts.Schedules || opts.Stimuli {
		store, err := factory.Open(ctx, cfg.Blob)
		if err != nil {
			out.Error(ErrCodeCompile, fmt.Sprintf("open blob store: %v", err), nil)
			return WrapExitError(ExitCommandError, "open blob store", err)
		}
		errs, stats, err := checkStudyFiles(ctx, p, store, cfg.Schedules.Prefix, cfg.Stimuli.Prefix, opts.Stimuli)
		if err != nil {
			return WrapExitError(ExitCommandError, "check study files", err)
		}
		if len(errs) > 0 {
			return outputValidationErrors(out, errs)
		}
		result.Schedules = stats.schedules
		result.Stimuli = stats.stimuli
	}

	if out.JSON() {
		return out.Success(result)
	}
	fmt.Fprintf(out.Writer, "✓ Protocol is valid (%d participants)\n", result.Participants)
	if result.Schedules > 0 {
		fmt.Fprintf(out.Writer, "✓ %d schedules match %s\n", result.Schedules, describeDims(p))
	}
	if result.Stimuli > 0 {
		fmt.Fprintf(out.Writer, "✓ %d audio files present\n", result.Stimuli)
	}
	if out.Verbose {
		fmt.Fprintf(out.Writer, "  Hash: %s\n", hash)
	}
	return nil
}

type fileStats struct {
	schedules int
	stimuli   int
}

// checkStudyFiles fetches every participant's schedule and, when stimuli is
// set, heads every distinct audio file they and the practice trials
// reference. Problems are
// collected; only context cancellation aborts the walk.
func checkStudyFiles(ctx context.Context, p *protocol.Protocol, store blob.Store, schedPrefix, stimPrefix string, stimuli bool) ([]*LoadError, fileStats, error) {
	var (
		errs  []*LoadError
		stats fileStats
		seen  = map[string]bool{}
	)
	// head reports whether the audio for t exists; a missing file is
	// recorded against owner.
	head := func(owner string, t schedule.Trial) error {
		sp, err := p.StimulusPath(t)
		if err != nil {
			errs = append(errs, &LoadError{Code: ErrCodeStimulus, Message: err.Error()})
			return nil
		}
		if seen[sp] {
			return nil
		}
		seen[sp] = true
		key := stimulusKey(p.Stimulus.Dir, stimPrefix, sp)
		if _, err := store.Head(ctx, key); err != nil {
			if !errors.Is(err, blob.ErrNotFound) {
				return err
			}
			errs = append(errs, &LoadError{
				Code:    ErrCodeStimulusMissing,
				Message: fmt.Sprintf("%s: audio file %s not found (key %s)", owner, sp, key),
			})
			return nil
		}
		stats.stimuli++
		return nil
	}

	if stimuli {
		for _, pt := range p.Practice.Trials {
			if err := head("practice", pt.Trial()); err != nil {
				return nil, stats, err
			}
		}
	}

	src := schedule.NewSource(store, schedPrefix)
	for _, id := range p.Participants.IDs() {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		sched, err := src.Fetch(ctx, id)
		if err == nil {
			err = p.CheckSchedule(sched)
		}
		if err != nil {
			errs = append(errs, scheduleError(id, err))
			continue
		}
		stats.schedules++
		if !stimuli {
			continue
		}
		owner := fmt.Sprintf("participant %d", id)
		for _, block := range sched {
			for _, t := range block {
				if err := head(owner, t); err != nil {
					return nil, stats, err
				}
			}
		}
	}
	return errs, stats, nil
}

// stimulusKey maps a runner-facing path such as "stimuli/x.wav" to its blob
// key under the stimuli prefix.
func stimulusKey(dir, prefix, stimulusPath string) string {
	rel := strings.TrimPrefix(stimulusPath, strings.TrimSuffix(dir, "/")+"/")
	return path.Join(prefix, rel)
}

func describeDims(p *protocol.Protocol) string {
	blocks, width := "any", "any"
	if p.Blocks > 0 {
		blocks = fmt.Sprint(p.Blocks)
	}
	if p.TrialsPerBlock > 0 {
		width = fmt.Sprint(p.TrialsPerBlock)
	}
	return blocks + " blocks × " + width + " trials"
}

// outputValidationErrors prints all collected errors.
func outputValidationErrors(out *OutputFormatter, errs []*LoadError) error {
	if out.JSON() {
		details := make([]map[string]any, len(errs))
		for i, e := range errs {
			d := map[string]any{"code": e.Code, "message": e.Message}
			if e.Pos.IsValid() {
				d["file"] = e.Pos.Filename()
				d["line"] = e.Pos.Line()
				d["column"] = e.Pos.Column()
			}
			details[i] = d
		}
		out.Error(errs[0].Code, fmt.Sprintf("validation failed with %d error(s)", len(errs)), details)
		return NewExitError(ExitFailure, "validation failed")
	}

	fmt.Fprintf(out.Writer, "✗ Validation failed (%d errors):\n", len(errs))
	for _, e := range errs {
		fmt.Fprintf(out.Writer, "  %s\n", e.Error())
	}
	return NewExitError(ExitFailure, "validation failed")
}
