// Package api exposes a feed to presentation clients over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"weatherfeed/internal/feed"
	"weatherfeed/internal/storage"
)

// Feed is the read/refresh surface of feed.Service.
type Feed interface {
	FeedKey() string
	Current() feed.Snapshot
	Refresh(ctx context.Context) (feed.Snapshot, error)
}

// History lists persisted snapshots. storage.Store satisfies it.
type History interface {
	ListSnapshots(ctx context.Context, feedKey string, limit int) ([]storage.SnapshotRecord, error)
}

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 500
)

type Option func(*Server)

func WithHistory(h History) Option { return func(s *Server) { s.history = h } }

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRefreshTimeout bounds POST /api/weather/refresh.
func WithRefreshTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.refreshTimeout = d
		}
	}
}

type Server struct {
	feed           Feed
	history        History
	logger         *slog.Logger
	refreshTimeout time.Duration
	now            func() time.Time
}

func New(f Feed, opts ...Option) *Server {
	s := &Server{feed: f, logger: slog.Default(), refreshTimeout: 15 * time.Second, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(instrument)
	r.Use(withCORS)

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(withJSONHeaders, withGzip, limitBody)
		r.Get("/healthz", s.handleHealth)
		r.Get("/api/weather", s.handleCurrent)
		r.Post("/api/weather/refresh", s.handleRefresh)
		r.Get("/api/weather/history", s.handleHistory)
	})
	return r
}

type snapshotResponse struct {
	Feed       string         `json:"feed"`
	Snapshot   *feed.Snapshot `json:"snapshot"`
	AgeSeconds float64        `json:"age_sec,omitempty"`
	Error      string         `json:"error,omitempty"`
}

type healthResponse struct {
	Status  string `json:"status"`
	HasData bool   `json:"has_data"`
	Version uint64 `json:"version"`
}

type historyResponse struct {
	Feed      string            `json:"feed"`
	Snapshots []json.RawMessage `json:"snapshots"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	cur := s.feed.Current()
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", HasData: !cur.IsEmpty(), Version: cur.Version})
}

func (s *Server) handleCurrent(w http.ResponseWriter, _ *http.Request) {
	cur := s.feed.Current()
	if cur.IsEmpty() {
		writeJSON(w, http.StatusServiceUnavailable, snapshotResponse{Feed: s.feed.FeedKey(), Error: "no observation available yet"})
		return
	}
	writeJSON(w, http.StatusOK, s.snapshotBody(cur, ""))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.refreshTimeout)
	defer cancel()

	snap, err := s.feed.Refresh(ctx)
	if err == nil {
		writeJSON(w, http.StatusOK, s.snapshotBody(snap, ""))
		return
	}
	s.logger.Warn("api: refresh failed", "request_id", middleware.GetReqID(r.Context()), "error", err)

	status := http.StatusBadGateway
	if errors.Is(err, feed.ErrClosed) {
		status = http.StatusServiceUnavailable
	}
	// Last good data still goes out alongside the failure.
	stale := s.feed.Current()
	if stale.IsEmpty() {
		writeJSON(w, status, snapshotResponse{Feed: s.feed.FeedKey(), Error: err.Error()})
		return
	}
	writeJSON(w, status, s.snapshotBody(stale, err.Error()))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "history is not enabled"})
		return
	}
	limit := DefaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, MaxHistoryLimit)
	}
	recs, err := s.history.ListSnapshots(r.Context(), s.feed.FeedKey(), limit)
	if err != nil {
		s.logger.Error("api: list snapshots", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "history unavailable"})
		return
	}
	out := historyResponse{Feed: s.feed.FeedKey(), Snapshots: make([]json.RawMessage, 0, len(recs))}
	for _, rec := range recs {
		if !json.Valid(rec.Payload) {
			s.logger.Warn("api: skipping undecodable snapshot", "version", rec.Version)
			continue
		}
		out.Snapshots = append(out.Snapshots, json.RawMessage(rec.Payload))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) snapshotBody(snap feed.Snapshot, errMsg string) snapshotResponse {
	return snapshotResponse{
		Feed:       s.feed.FeedKey(),
		Snapshot:   &snap,
		AgeSeconds: snap.Age(s.now()).Seconds(),
		Error:      errMsg,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
