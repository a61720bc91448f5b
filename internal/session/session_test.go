package session

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/roach88/pitchtime/internal/blob"
	"github.com/roach88/pitchtime/internal/blob/memory"
	"github.com/roach88/pitchtime/internal/participant"
	"github.com/roach88/pitchtime/internal/protocol"
	"github.com/roach88/pitchtime/internal/schedule"
	"github.com/roach88/pitchtime/internal/store"
	"github.com/roach88/pitchtime/internal/testutil"
	"github.com/roach88/pitchtime/internal/timeline"
)

type fixture struct {
	svc   *Service
	blobs *memory.Store
	store *store.Store
	logs  *observer.ObservedLogs
}

// newFixture serves participants 1..5 with two blocks of six trials. Only
// the ids in withSchedules have schedule files.
func newFixture(t *testing.T, src participant.Source, tokens TokenGenerator, withSchedules ...int) fixture {
	t.Helper()
	ctx := context.Background()

	p := protocol.Default()
	p.Participants = participant.Range{MinID: 1, MaxID: 5}
	p.Blocks, p.TrialsPerBlock = 2, 6
	require.NoError(t, p.Validate())

	blobs := memory.New()
	opts := schedule.DefaultGenerateOptions()
	opts.Blocks, opts.Repetitions = 2, 1
	require.NoError(t, schedule.NewWriter(blobs, "").WriteAll(ctx, withSchedules, opts, 99))

	st, err := store.Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	core, logs := observer.New(zapcore.DebugLevel)
	svc, err := New(p, schedule.NewSource(blobs, ""), st,
		WithRandomSource(src),
		WithTokenGenerator(tokens),
		WithLogger(zap.New(core)))
	require.NoError(t, err)
	return fixture{svc: svc, blobs: blobs, store: st, logs: logs}
}

func TestStart_ValidParticipant(t *testing.T) {
	src := testutil.NewScriptedSource(4)
	f := newFixture(t, src, NewFixedGenerator("s-1"), 3)

	started, err := f.svc.Start(context.Background(), "3")
	require.NoError(t, err)

	assert.Equal(t, 3, started.Resolution.ID)
	assert.False(t, started.Resolution.Assigned)
	assert.Empty(t, src.Calls(), "valid identifier must not draw randomness")

	sess := started.Session
	assert.Equal(t, "s-1", sess.Token)
	assert.Equal(t, 3, sess.Subject)
	assert.Equal(t, store.StatusStarted, sess.Status)
	assert.Equal(t, 12, sess.Trials)
	assert.Equal(t, "IP", sess.Experiment)
	assert.Equal(t, 3, started.Experiment.Properties.Subject)

	wantHash, err := started.Experiment.Hash()
	require.NoError(t, err)
	assert.Equal(t, wantHash, sess.TimelineHash)

	stored, err := f.svc.Get(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, sess, stored)
	assert.Zero(t, f.logs.FilterMessage("participant identifier assigned").Len())
}

func TestStart_AssignsOutOfRangeParticipant(t *testing.T) {
	// IntN(5) -> 1, so the assigned id is MinID+1 = 2.
	src := testutil.NewScriptedSource(1)
	f := newFixture(t, src, NewFixedGenerator("s-1"), 2)

	started, err := f.svc.Start(context.Background(), "999")
	require.NoError(t, err)

	assert.Equal(t, 2, started.Session.Subject)
	assert.True(t, started.Session.Assigned)
	assert.Equal(t, "999", started.Session.RawParticipant)
	assert.Equal(t, []int{5}, src.Calls())

	entries := f.logs.FilterMessage("participant identifier assigned").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "999", entries[0].ContextMap()["raw"])
}

func TestStart_MissingScheduleWritesNothing(t *testing.T) {
	f := newFixture(t, testutil.NewScriptedSource(), NewFixedGenerator("s-1"))

	_, err := f.svc.Start(context.Background(), "1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrScheduleUnavailable))
	assert.True(t, errors.Is(err, schedule.ErrScheduleNotFound))

	sessions, err := f.svc.List(context.Background(), store.Filter{})
	require.NoError(t, err)
	assert.Empty(t, sessions)
	assert.Equal(t, 1, f.logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestStart_MismatchedScheduleWritesNothing(t *testing.T) {
	f := newFixture(t, testutil.NewScriptedSource(), NewFixedGenerator("s-1"))
	_, err := f.blobs.Put(context.Background(), schedule.Key(schedule.DefaultPrefix, 1),
		bytes.NewReader([]byte(`[[[4,"+",0]]]`)), blob.PutOptions{})
	require.NoError(t, err)

	_, err = f.svc.Start(context.Background(), "1")
	require.ErrorIs(t, err, ErrScheduleUnavailable)

	sessions, err := f.svc.List(context.Background(), store.Filter{})
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestFinish(t *testing.T) {
	f := newFixture(t, testutil.NewScriptedSource(), NewFixedGenerator("s-1"), 1)
	ctx := context.Background()
	_, err := f.svc.Start(ctx, "1")
	require.NoError(t, err)

	changed, err := f.svc.Finish(ctx, "s-1")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = f.svc.Finish(ctx, "s-1")
	require.NoError(t, err)
	assert.False(t, changed, "second finish is a no-op")

	sess, err := f.svc.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusFinished, sess.Status)

	events, err := f.svc.Events(ctx, "s-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, store.EventStarted, events[0].Kind)
	assert.Equal(t, store.EventFinished, events[1].Kind)
}

func TestUnknownToken(t *testing.T) {
	f := newFixture(t, testutil.NewScriptedSource(), NewFixedGenerator())
	ctx := context.Background()

	_, err := f.svc.Finish(ctx, "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = f.svc.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = f.svc.Events(ctx, "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStart_SameParticipantSameTimeline(t *testing.T) {
	f := newFixture(t, testutil.NewScriptedSource(), NewFixedGenerator("s-1", "s-2"), 4)
	ctx := context.Background()

	a, err := f.svc.Start(ctx, "4")
	require.NoError(t, err)
	b, err := f.svc.Start(ctx, "4")
	require.NoError(t, err)

	assert.Equal(t, a.Session.TimelineHash, b.Session.TimelineHash)
	assert.Less(t, a.Session.Seq, b.Session.Seq)
	events := a.Experiment.Events()
	assert.Equal(t, timeline.EventDebrief, events[len(events)-1])
}

func TestUUIDv7Generator(t *testing.T) {
	g := UUIDv7Generator{}
	a, b := g.Generate(), g.Generate()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}

func TestFixedGenerator_Exhausted(t *testing.T) {
	g := NewFixedGenerator("only")
	assert.Equal(t, "only", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}
