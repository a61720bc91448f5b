package schedule

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/pitchtime/internal/blob"
)

// GenerateOptions describes the condition set of a generated schedule.
type GenerateOptions struct {
	Octaves     []int
	Shifts      []Shift
	Offsets     []int
	Repetitions int // copies of every condition per block
	Blocks      int
}

// DefaultGenerateOptions yields 4 blocks of 60 trials: one octave, two
// shifts, three offsets, ten repetitions.
func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{
		Octaves:     []int{4},
		Shifts:      []Shift{ShiftUp, ShiftDown},
		Offsets:     []int{-75, 0, 75},
		Repetitions: 10,
		Blocks:      4,
	}
}

// Conditions returns the Cartesian product octaves × shifts × offsets.
func (o GenerateOptions) Conditions() []Trial {
	out := make([]Trial, 0, len(o.Octaves)*len(o.Shifts)*len(o.Offsets))
	for _, oct := range o.Octaves {
		for _, sh := range o.Shifts {
			for _, off := range o.Offsets {
				out = append(out, Trial{Octave: oct, Shift: sh, Offset: off})
			}
		}
	}
	return out
}

// TrialsPerBlock is the block length the options produce.
func (o GenerateOptions) TrialsPerBlock() int {
	return len(o.Octaves) * len(o.Shifts) * len(o.Offsets) * o.Repetitions
}

func (o GenerateOptions) validate() error {
	switch {
	case len(o.Octaves) == 0 || len(o.Shifts) == 0 || len(o.Offsets) == 0:
		return fmt.Errorf("octaves, shifts and offsets must be non-empty")
	case o.Repetitions < 1:
		return fmt.Errorf("repetitions must be >= 1, got %d", o.Repetitions)
	case o.Blocks < 1:
		return fmt.Errorf("blocks must be >= 1, got %d", o.Blocks)
	}
	for _, sh := range o.Shifts {
		if !sh.Valid() {
			return fmt.Errorf("invalid pitch shift %q", sh)
		}
	}
	return nil
}

// Generate builds a schedule where every block holds Repetitions copies of
// each condition, shuffled independently per block.
func Generate(opts GenerateOptions, rng *rand.Rand) (Schedule, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	conds := opts.Conditions()
	sched := make(Schedule, opts.Blocks)
	for b := range sched {
		block := make([]Trial, 0, len(conds)*opts.Repetitions)
		for range opts.Repetitions {
			block = append(block, conds...)
		}
		rng.Shuffle(len(block), func(i, j int) { block[i], block[j] = block[j], block[i] })
		sched[b] = block
	}
	return sched, nil
}

// SeedFor returns the generator seed for participant id.
func SeedFor(seed uint64, id int) uint64 { return seed + uint64(id) }

// NewRand returns the deterministic generator used for seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Writer generates schedule files into a blob store.
type Writer struct {
	store       blob.Store
	prefix      string
	concurrency int
	overwrite   bool
	logger      *zap.Logger
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithConcurrency bounds the number of schedules written at once.
func WithConcurrency(n int) WriterOption {
	return func(w *Writer) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithOverwrite replaces existing schedule files.
func WithOverwrite(overwrite bool) WriterOption {
	return func(w *Writer) { w.overwrite = overwrite }
}

// WithLogger sets the writer's logger.
func WithLogger(l *zap.Logger) WriterOption {
	return func(w *Writer) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWriter returns a Writer storing files under prefix.
func NewWriter(store blob.Store, prefix string, opts ...WriterOption) *Writer {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	w := &Writer{store: store, prefix: prefix, concurrency: 8, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WriteAll generates and stores one schedule per id. Each file is seeded with
// SeedFor(seed, id), so a single participant can be regenerated alone.
func (w *Writer) WriteAll(ctx context.Context, ids []int, opts GenerateOptions, seed uint64) error {
	if err := opts.validate(); err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return w.write(ctx, id, opts, SeedFor(seed, id))
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	w.logger.Info("schedules written",
		zap.Int("count", len(ids)),
		zap.String("prefix", w.prefix),
		zap.Uint64("seed", seed))
	return nil
}

func (w *Writer) write(ctx context.Context, id int, opts GenerateOptions, seed uint64) error {
	sched, err := Generate(opts, NewRand(seed))
	if err != nil {
		return err
	}
	data, err := sched.Marshal()
	if err != nil {
		return err
	}
	key := Key(w.prefix, id)
	_, err = w.store.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"participant": fmt.Sprint(id), "seed": fmt.Sprint(seed)},
		Overwrite:   w.overwrite,
	})
	if err != nil {
		return fmt.Errorf("write schedule for participant %d: %w", id, err)
	}
	w.logger.Debug("schedule written", zap.Int("participant", id), zap.String("key", key))
	return nil
}
