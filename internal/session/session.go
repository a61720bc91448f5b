// Package session ties one participant visit together: resolve the
// identifier, fetch that participant's schedule, build the timeline and
// record the session so the finish signal can be matched to it later.
package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/pitchtime/internal/participant"
	"github.com/roach88/pitchtime/internal/protocol"
	"github.com/roach88/pitchtime/internal/schedule"
	"github.com/roach88/pitchtime/internal/store"
	"github.com/roach88/pitchtime/internal/timeline"
)

var (
	// ErrSessionNotFound is returned for an unknown session token.
	ErrSessionNotFound = errors.New("session not found")

	// ErrScheduleUnavailable wraps any failure to obtain a usable schedule.
	// No session is recorded and nothing may be served.
	ErrScheduleUnavailable = errors.New("schedule unavailable")
)

// Started is the result of a successful Start.
type Started struct {
	Session    store.Session
	Experiment *timeline.Experiment
	Resolution participant.Resolution
}

// Service starts and finishes sessions.
//
// Thread-safety: Service holds no mutable state of its own; the store and
// token generator it wraps are safe for concurrent use.
type Service struct {
	protocol     *protocol.Protocol
	protocolHash string
	schedules    *schedule.Source
	store        *store.Store
	random       participant.Source
	tokens       TokenGenerator
	logger       *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithRandomSource sets the source used to assign identifiers to visitors
// without a valid one. Default: participant.DefaultSource().
func WithRandomSource(src participant.Source) Option {
	return func(s *Service) {
		if src != nil {
			s.random = src
		}
	}
}

// WithTokenGenerator sets the session token generator. Default: UUIDv7Generator.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(s *Service) {
		if g != nil {
			s.tokens = g
		}
	}
}

// WithLogger sets the logger. Default: no-op.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Service. The protocol is hashed once here.
func New(p *protocol.Protocol, schedules *schedule.Source, st *store.Store, opts ...Option) (*Service, error) {
	hash, err := p.Hash()
	if err != nil {
		return nil, fmt.Errorf("hash protocol: %w", err)
	}
	s := &Service{
		protocol:     p,
		protocolHash: hash,
		schedules:    schedules,
		store:        st,
		random:       participant.DefaultSource(),
		tokens:       UUIDv7Generator{},
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("session")
	return s, nil
}

// Protocol returns the protocol sessions are built from.
func (s *Service) Protocol() *protocol.Protocol { return s.protocol }

// Start resolves rawParticipant, loads the schedule for the resolved
// identifier, builds the timeline and records a started session.
//
// A schedule that cannot be fetched, parsed or matched to the protocol
// halts the start with ErrScheduleUnavailable; no session row is written.
func (s *Service) Start(ctx context.Context, rawParticipant string) (*Started, error) {
	res := participant.Resolve(rawParticipant, s.protocol.Participants, s.random)
	if res.Assigned {
		s.logger.Info("participant identifier assigned",
			zap.String("raw", rawParticipant),
			zap.Int("subject", res.ID))
	}

	sched, err := s.schedules.Fetch(ctx, res.ID)
	if err == nil {
		err = s.protocol.CheckSchedule(sched)
	}
	if err != nil {
		s.logger.Error("schedule unavailable",
			zap.Int("subject", res.ID),
			zap.String("key", s.schedules.Key(res.ID)),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrScheduleUnavailable, err)
	}

	exp, err := timeline.Build(s.protocol, sched, res.ID)
	if err != nil {
		return nil, fmt.Errorf("build timeline: %w", err)
	}
	timelineHash, err := exp.Hash()
	if err != nil {
		return nil, fmt.Errorf("hash timeline: %w", err)
	}

	sess := store.Session{
		Token:          s.tokens.Generate(),
		Subject:        res.ID,
		RawParticipant: rawParticipant,
		Assigned:       res.Assigned,
		Experiment:     s.protocol.Name,
		CodeVersion:    s.protocol.CodeVersion,
		ProtocolHash:   s.protocolHash,
		TimelineHash:   timelineHash,
		Trials:         sched.TotalTrials(),
	}
	if err := s.store.CreateSession(ctx, &sess); err != nil {
		return nil, err
	}
	s.logger.Debug("session started",
		zap.String("token", sess.Token),
		zap.Int("subject", sess.Subject),
		zap.Int64("seq", sess.Seq))

	return &Started{Session: sess, Experiment: exp, Resolution: res}, nil
}

// Finish marks a session finished. It reports whether this call changed the
// status; repeating a finish is not an error.
func (s *Service) Finish(ctx context.Context, token string) (bool, error) {
	changed, err := s.store.FinishSession(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("%w: %s", ErrSessionNotFound, token)
	}
	if err != nil {
		return false, err
	}
	if changed {
		s.logger.Debug("session finished", zap.String("token", token))
	}
	return changed, nil
}

// Get returns one session.
func (s *Service) Get(ctx context.Context, token string) (store.Session, error) {
	sess, err := s.store.GetSession(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return store.Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, token)
	}
	return sess, err
}

// List returns sessions matching f in seq order.
func (s *Service) List(ctx context.Context, f store.Filter) ([]store.Session, error) {
	return s.store.ListSessions(ctx, f)
}

// Events returns a session's lifecycle log.
func (s *Service) Events(ctx context.Context, token string) ([]store.Event, error) {
	if _, err := s.Get(ctx, token); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, token)
}
