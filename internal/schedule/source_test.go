package schedule

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pitchtime/internal/blob"
	"github.com/roach88/pitchtime/internal/blob/memory"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "schedules/session17.json", Key("schedules", 17))
	assert.Equal(t, "exp/E1/schedules/session1.json", Key("exp/E1/schedules/", 1))
	assert.Equal(t, "schedules/session3.json", NewSource(memory.New(), "").Key(3))
}

func TestSource_Fetch(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	_, err := st.Put(ctx, "schedules/session7.json", bytes.NewReader([]byte(`[[[4,"+",0]]]`)), blob.PutOptions{})
	require.NoError(t, err)

	sched, err := NewSource(st, "schedules").Fetch(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, Schedule{{{4, ShiftUp, 0}}}, sched)
}

func TestSource_FetchMissing(t *testing.T) {
	_, err := NewSource(memory.New(), "schedules").Fetch(context.Background(), 12)
	require.ErrorIs(t, err, ErrScheduleNotFound)
	assert.Contains(t, err.Error(), "schedules/session12.json")
}

func TestSource_FetchMalformed(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	_, err := st.Put(ctx, "schedules/session1.json", bytes.NewReader([]byte(`<html>404</html>`)), blob.PutOptions{})
	require.NoError(t, err)

	_, err = NewSource(st, "").Fetch(ctx, 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrScheduleNotFound)
	assert.Contains(t, err.Error(), "parse schedule")
}

type brokenStore struct{ blob.Store }

func (brokenStore) Get(context.Context, string) (blob.Info, io.ReadCloser, error) {
	return blob.Info{}, nil, errors.New("connection reset")
}

func TestSource_FetchBackendError(t *testing.T) {
	_, err := NewSource(brokenStore{memory.New()}, "").Fetch(context.Background(), 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrScheduleNotFound)
	assert.Contains(t, err.Error(), "connection reset")
}
