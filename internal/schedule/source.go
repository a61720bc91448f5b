package schedule

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/roach88/pitchtime/internal/blob"
)

// DefaultPrefix is the key prefix under which schedule files live.
const DefaultPrefix = "schedules"

// ErrScheduleNotFound is returned when no schedule file exists for a participant.
var ErrScheduleNotFound = errors.New("schedule not found")

// Key returns the blob key for participant id.
func Key(prefix string, id int) string {
	return path.Join(prefix, fmt.Sprintf("session%d.json", id))
}

// Source reads schedule files from a blob store.
type Source struct {
	store  blob.Store
	prefix string
}

// NewSource returns a Source reading "<prefix>/session{ID}.json".
func NewSource(store blob.Store, prefix string) *Source {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Source{store: store, prefix: prefix}
}

// Key returns the blob key for participant id.
func (s *Source) Key(id int) string { return Key(s.prefix, id) }

// Fetch loads and parses the schedule for participant id. There is no
// fallback: a missing or unreadable file is an error the caller must stop on.
func (s *Source) Fetch(ctx context.Context, id int) (Schedule, error) {
	key := s.Key(id)
	_, rc, err := s.store.Get(ctx, key)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, fmt.Errorf("participant %d (%s): %w", id, key, ErrScheduleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	sched, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return sched, nil
}
