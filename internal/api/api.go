// Package api exposes the scoring engine over HTTP.
//
//	POST /v1/score   multipart form: expected, aligned, hypothesis, debug, audio (WAV file)
//	GET  /healthz    liveness
//	GET  /readyz     readiness
//	GET  /metrics    Prometheus scrape endpoint (optional)
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/speakwell/internal/health"
	"github.com/MrWong99/speakwell/internal/hypothesis"
	"github.com/MrWong99/speakwell/internal/observe"
	"github.com/MrWong99/speakwell/internal/scorer"
	"github.com/MrWong99/speakwell/pkg/audio"
	"github.com/MrWong99/speakwell/pkg/types"
)

// maxFormMemory is the part of a multipart request kept in memory; larger
// uploads spill to temporary files.
const maxFormMemory = 8 << 20

// Scorer scores one utterance.
type Scorer interface {
	Score(ctx context.Context, req scorer.Request) (*types.ScoringResult, error)
}

// scorerRef lets atomic.Pointer hold an interface value.
type scorerRef struct{ Scorer }

// Server handles scoring requests. The scorer can be replaced while the
// server is running, e.g. after a config reload.
type Server struct {
	scorer     atomic.Pointer[scorerRef]
	maxUpload  int64
	metrics    *observe.Metrics
	checkers   []health.Checker
	prometheus bool
}

// Option configures a [Server].
type Option func(*Server)

// WithMaxUploadBytes caps the request body size. Default: 32 MiB.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithCheckers adds readiness checks served on /readyz.
func WithCheckers(checkers ...health.Checker) Option {
	return func(s *Server) {
		s.checkers = append(s.checkers, checkers...)
	}
}

// WithPrometheus mounts the Prometheus handler on /metrics.
func WithPrometheus(enabled bool) Option {
	return func(s *Server) {
		s.prometheus = enabled
	}
}

// New creates a [Server] backed by sc.
func New(sc Scorer, opts ...Option) *Server {
	s := &Server{maxUpload: 32 << 20}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.SetScorer(sc)
	return s
}

// SetScorer atomically replaces the scorer used for new requests.
func (s *Server) SetScorer(sc Scorer) {
	s.scorer.Store(&scorerRef{sc})
}

// Handler returns the HTTP handler serving every route, wrapped in the
// tracing and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/score", s.handleScore)
	health.New(s.checkers...).Register(mux)
	if s.prometheus {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	return observe.Middleware(s.metrics)(mux)
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleScore handles POST /v1/score.
func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.reject(ctx, w, http.StatusRequestEntityTooLarge, "too_large", "request body too large")
			return
		}
		s.reject(ctx, w, http.StatusBadRequest, "invalid_form", "invalid multipart form: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	req := scorer.Request{
		ExpectedText: r.FormValue("expected"),
		Hypothesis:   r.FormValue("hypothesis"),
	}
	aligned := r.FormValue("aligned")
	if aligned == "" {
		s.reject(ctx, w, http.StatusBadRequest, "missing_aligned", "aligned is required")
		return
	}
	req.Aligned = json.RawMessage(aligned)

	if v := r.FormValue("debug"); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			s.reject(ctx, w, http.StatusBadRequest, "invalid_form", "debug must be a boolean")
			return
		}
		req.Debug = debug
	}

	file, _, err := r.FormFile("audio")
	if err != nil {
		s.reject(ctx, w, http.StatusBadRequest, "missing_audio", "audio file is required")
		return
	}
	defer file.Close()

	wave, err := audio.DecodeWAV(file)
	if err != nil {
		s.reject(ctx, w, http.StatusBadRequest, "invalid_wav", "invalid audio: "+err.Error())
		return
	}
	req.Audio = wave

	res, err := s.scorer.Load().Score(ctx, req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, scorer.ErrAudioTooLong):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: err.Error()})
	case errors.Is(err, scorer.ErrSampleRateMismatch):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	case errors.Is(err, hypothesis.ErrInvalidAligned), errors.Is(err, scorer.ErrInvalidAudio):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		log.Error("api: scoring failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "scoring failed"})
	}
}

// reject counts an input error and writes it as a JSON error response.
func (s *Server) reject(ctx context.Context, w http.ResponseWriter, status int, kind, msg string) {
	s.metrics.RecordInputError(ctx, kind)
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
