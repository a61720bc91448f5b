package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/pitchtime/internal/canonical"
)

// Event is an entry in a session's lifecycle log.
type Event struct {
	ID     string         `json:"id"`
	Token  string         `json:"token"`
	Kind   string         `json:"kind"`
	Detail map[string]any `json:"detail,omitempty"`
	Seq    int64          `json:"seq"`
}

type dbExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// eventID derives the event key from its session and seq, which is unique
// because seq is.
func eventID(token string, seq int64) string {
	return fmt.Sprintf("%s:%d", token, seq)
}

// AppendEvent records ev against an existing session. A zero Seq is
// assigned from the store clock. The detail is stored as canonical JSON.
func (s *Store) AppendEvent(ctx context.Context, ev Event) (Event, error) {
	if ev.Seq == 0 {
		ev.Seq = s.NextSeq()
	}
	if err := insertEvent(ctx, s.db, ev); err != nil {
		return Event{}, fmt.Errorf("append event: %w", err)
	}
	ev.ID = eventID(ev.Token, ev.Seq)
	return ev, nil
}

func insertEvent(ctx context.Context, db dbExecer, ev Event) error {
	detail := ev.Detail
	if detail == nil {
		detail = map[string]any{}
	}
	data, err := canonical.Marshal(detail)
	if err != nil {
		return fmt.Errorf("marshal detail: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO session_events (id, token, kind, detail, seq)
		VALUES (?, ?, ?, ?, ?)
	`, eventID(ev.Token, ev.Seq), ev.Token, ev.Kind, string(data), ev.Seq)
	return err
}

// ListEvents returns a session's events ordered by seq ASC, id ASC.
func (s *Store) ListEvents(ctx context.Context, token string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, token, kind, detail, seq
		FROM session_events
		WHERE token = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, token)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			ev     Event
			detail string
		)
		if err := rows.Scan(&ev.ID, &ev.Token, &ev.Kind, &detail, &ev.Seq); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if detail != "{}" {
			if err := json.Unmarshal([]byte(detail), &ev.Detail); err != nil {
				return nil, fmt.Errorf("decode event %s: %w", ev.ID, err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
