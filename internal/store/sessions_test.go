package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGetSession(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	sess := createTestSession("tok-1", 17)
	sess.RawParticipant = "abc"
	sess.Assigned = true
	require.NoError(t, s.CreateSession(ctx, sess))
	assert.Equal(t, StatusStarted, sess.Status)
	assert.EqualValues(t, 1, sess.Seq)

	got, err := s.GetSession(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, *sess, got)
}

func TestCreateSession_DuplicateToken(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	require.NoError(t, s.CreateSession(ctx, createTestSession("dup", 1)))
	assert.Error(t, s.CreateSession(ctx, createTestSession("dup", 2)))

	// The failed insert left no partial rows behind.
	events, err := s.ListEvents(ctx, "dup")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestGetSession_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.GetSession(t.Context(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestFinishSession(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	require.NoError(t, s.CreateSession(ctx, createTestSession("tok", 3)))

	changed, err := s.FinishSession(ctx, "tok")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.FinishSession(ctx, "tok")
	require.NoError(t, err)
	assert.False(t, changed, "second finish is a no-op")

	got, err := s.GetSession(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, got.Status)
	assert.EqualValues(t, 2, got.FinishedSeq)

	_, err = s.FinishSession(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSessions(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	for _, tc := range []struct {
		token   string
		subject int
	}{
		{"c", 5}, {"a", 7}, {"b", 5},
	} {
		require.NoError(t, s.CreateSession(ctx, createTestSession(tc.token, tc.subject)))
	}
	_, err := s.FinishSession(ctx, "a")
	require.NoError(t, err)

	tokens := func(list []Session) []string {
		out := make([]string, len(list))
		for i, sess := range list {
			out[i] = sess.Token
		}
		return out
	}

	all, err := s.ListSessions(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, tokens(all), "ordered by seq, not token")

	bySubject, err := s.ListSessions(ctx, Filter{Subject: 5})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, tokens(bySubject))

	finished, err := s.ListSessions(ctx, Filter{Status: StatusFinished})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, tokens(finished))

	limited, err := s.ListSessions(ctx, Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	none, err := s.ListSessions(ctx, Filter{Subject: 300})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestEvents(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	require.NoError(t, s.CreateSession(ctx, createTestSession("tok", 9)))

	ev, err := s.AppendEvent(ctx, Event{Token: "tok", Kind: "preload_failed", Detail: map[string]any{"path": "stimuli/x.wav"}})
	require.NoError(t, err)
	assert.Equal(t, "tok:2", ev.ID)

	_, err = s.FinishSession(ctx, "tok")
	require.NoError(t, err)

	events, err := s.ListEvents(ctx, "tok")
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, EventStarted, events[0].Kind)
	assert.Equal(t, map[string]any{"subject": float64(9), "assigned": false}, events[0].Detail)
	assert.Equal(t, "preload_failed", events[1].Kind)
	assert.Equal(t, "stimuli/x.wav", events[1].Detail["path"])
	assert.Equal(t, EventFinished, events[2].Kind)
	assert.Nil(t, events[2].Detail)
	assert.Less(t, events[0].Seq, events[1].Seq)
	assert.Less(t, events[1].Seq, events[2].Seq)
}

func TestAppendEvent_UnknownSession(t *testing.T) {
	s := createTestStore(t)
	_, err := s.AppendEvent(t.Context(), Event{Token: "ghost", Kind: "x"})
	assert.Error(t, err, "foreign key rejects events for unknown sessions")
}
