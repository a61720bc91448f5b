package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/roach88/pitchtime/internal/blob"
	"github.com/roach88/pitchtime/internal/session"
	"github.com/roach88/pitchtime/internal/store"
	"github.com/roach88/pitchtime/internal/timeline"
)

// ExperimentResponse is everything the browser runner needs to start.
type ExperimentResponse struct {
	Session    string              `json:"session"`
	Subject    int                 `json:"subject"`
	Assigned   bool                `json:"assigned"`
	Timeline   []timeline.Record   `json:"timeline"`
	Preload    []string            `json:"preload_audio"`
	Properties timeline.Properties `json:"properties"`
	Settings   timeline.Settings   `json:"settings"`
}

// FinishResponse reports the state after a finish signal.
type FinishResponse struct {
	Session string `json:"session"`
	Status  string `json:"status"`
	Changed bool   `json:"changed"`
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.respondWithError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "OK")
}

// handleExperiment starts a session. A missing or unusable schedule is a
// 503 and the runner must not start.
func (s *Server) handleExperiment(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		s.respondWithError(w, http.StatusTooManyRequests, "too many session starts")
		return
	}
	started, err := s.sessions.Start(r.Context(), r.URL.Query().Get("participant"))
	if errors.Is(err, session.ErrScheduleUnavailable) {
		s.metrics.sessionsFailed.Inc()
		s.respondWithError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("start session", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "could not start session")
		return
	}
	s.metrics.sessionsStarted.WithLabelValues(strconv.FormatBool(started.Session.Assigned)).Inc()

	exp := started.Experiment
	s.respondJSON(w, http.StatusOK, ExperimentResponse{
		Session:    started.Session.Token,
		Subject:    started.Session.Subject,
		Assigned:   started.Session.Assigned,
		Timeline:   exp.Timeline,
		Preload:    exp.Preload,
		Properties: exp.Properties,
		Settings:   exp.Settings,
	})
}

func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	changed, err := s.sessions.Finish(r.Context(), token)
	if errors.Is(err, session.ErrSessionNotFound) {
		s.respondWithError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("finish session", zap.String("token", token), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "could not finish session")
		return
	}
	if changed {
		s.metrics.sessionsDone.Inc()
	}
	s.respondJSON(w, http.StatusOK, FinishResponse{Session: token, Status: store.StatusFinished, Changed: changed})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	sess, err := s.sessions.Get(r.Context(), token)
	if errors.Is(err, session.ErrSessionNotFound) {
		s.respondWithError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("get session", zap.String("token", token), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "could not read session")
		return
	}
	s.respondJSON(w, http.StatusOK, sess)
}

// handleStimulus serves an audio file. Drivers that can presign redirect the
// browser to the object; the rest are streamed through.
func (s *Server) handleStimulus(w http.ResponseWriter, r *http.Request) {
	rel := chi.URLParam(r, "*")
	if rel == "" || strings.Contains(rel, "..") {
		s.respondWithError(w, http.StatusBadRequest, "invalid stimulus path")
		return
	}
	key := path.Join(s.stimulusPrefix, rel)

	if s.blobs.Driver() == blob.DriverS3 {
		url, err := s.blobs.PresignURL(r.Context(), key, blob.SignedURLOptions{Method: http.MethodGet, Expiry: s.presignExpiry})
		if err == nil {
			http.Redirect(w, r, url, http.StatusFound)
			return
		}
		if !errors.Is(err, blob.ErrUnsupported) {
			s.logger.Error("presign stimulus", zap.String("key", key), zap.Error(err))
			s.respondWithError(w, http.StatusBadGateway, "could not sign stimulus url")
			return
		}
	}

	info, rc, err := s.blobs.Get(r.Context(), key)
	if errors.Is(err, blob.ErrNotFound) {
		s.respondWithError(w, http.StatusNotFound, "stimulus not found")
		return
	}
	if err != nil {
		s.logger.Error("read stimulus", zap.String("key", key), zap.Error(err))
		s.respondWithError(w, http.StatusBadGateway, "could not read stimulus")
		return
	}
	defer rc.Close()

	if info.ContentType != "" {
		w.Header().Set("Content-Type", info.ContentType)
	}
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	if info.ETag != "" {
		w.Header().Set("ETag", strconv.Quote(info.ETag))
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	n, err := io.Copy(w, rc)
	s.metrics.stimulusBytes.Add(float64(n))
	if err != nil {
		s.logger.Warn("stream stimulus interrupted", zap.String("key", key), zap.Error(err))
	}
}

func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondJSON(w, code, ErrorResponse{Error: message})
}

func (s *Server) respondJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("encode response", zap.Error(err))
	}
}
