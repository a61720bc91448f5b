package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Session status values.
const (
	StatusStarted  = "started"
	StatusFinished = "finished"
)

// Event kinds written by the store itself.
const (
	EventStarted  = "started"
	EventFinished = "finished"
)

// ErrNotFound is returned when a session token is unknown.
var ErrNotFound = errors.New("session not found")

// Session is one served timeline.
type Session struct {
	Token          string `json:"token"`
	Subject        int    `json:"subject"`
	RawParticipant string `json:"raw_participant,omitempty"`
	Assigned       bool   `json:"assigned"`
	Status         string `json:"status"`
	Experiment     string `json:"experiment"`
	CodeVersion    string `json:"code_version"`
	ProtocolHash   string `json:"protocol_hash"`
	TimelineHash   string `json:"timeline_hash"`
	Trials         int    `json:"trials"`
	Seq            int64  `json:"seq"`
	FinishedSeq    int64  `json:"finished_seq,omitempty"`
}

// Filter narrows ListSessions. Zero values match everything.
type Filter struct {
	Subject int
	Status  string
	Limit   int
}

// CreateSession inserts a started session and its "started" event. The
// session's Seq is assigned from the store clock.
func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	sess.Status = StatusStarted
	sess.Seq = s.NextSeq()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions
		(token, subject, raw_participant, assigned, status, experiment, code_version,
		 protocol_hash, timeline_hash, trials, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sess.Token,
		sess.Subject,
		sess.RawParticipant,
		sess.Assigned,
		sess.Status,
		sess.Experiment,
		sess.CodeVersion,
		sess.ProtocolHash,
		sess.TimelineHash,
		sess.Trials,
		sess.Seq,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	ev := Event{Token: sess.Token, Kind: EventStarted, Seq: sess.Seq, Detail: map[string]any{
		"subject":  sess.Subject,
		"assigned": sess.Assigned,
	}}
	if err := insertEvent(ctx, tx, ev); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return tx.Commit()
}

// FinishSession marks a session finished. It reports whether the status
// changed; finishing an already finished session is not an error.
func (s *Store) FinishSession(ctx context.Context, token string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("finish session: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM sessions WHERE token = ?`, token).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("finish %s: %w", token, ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("finish session: %w", err)
	}
	if status == StatusFinished {
		return false, nil
	}

	seq := s.NextSeq()
	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET status = ?, finished_seq = ? WHERE token = ?
	`, StatusFinished, seq, token); err != nil {
		return false, fmt.Errorf("finish session: %w", err)
	}
	if err := insertEvent(ctx, tx, Event{Token: token, Kind: EventFinished, Seq: seq}); err != nil {
		return false, fmt.Errorf("finish session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("finish session: %w", err)
	}
	return true, nil
}

const sessionColumns = `token, subject, raw_participant, assigned, status, experiment, code_version,
	protocol_hash, timeline_hash, trials, seq, finished_seq`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		sess     Session
		finished sql.NullInt64
	)
	err := row.Scan(
		&sess.Token,
		&sess.Subject,
		&sess.RawParticipant,
		&sess.Assigned,
		&sess.Status,
		&sess.Experiment,
		&sess.CodeVersion,
		&sess.ProtocolHash,
		&sess.TimelineHash,
		&sess.Trials,
		&sess.Seq,
		&finished,
	)
	if err != nil {
		return Session{}, err
	}
	sess.FinishedSeq = finished.Int64
	return sess, nil
}

// GetSession returns the session for token.
func (s *Store) GetSession(ctx context.Context, token string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE token = ?`, token)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("get %s: %w", token, ErrNotFound)
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns matching sessions ordered by seq ASC, token ASC.
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) ListSessions(ctx context.Context, f Filter) ([]Session, error) {
	var (
		where []string
		args  []any
	)
	if f.Subject != 0 {
		where = append(where, "subject = ?")
		args = append(args, f.Subject)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC, token COLLATE BINARY ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}
