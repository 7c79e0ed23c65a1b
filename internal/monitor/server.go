// Package monitor exposes the daemon's HTTP surface: health probes,
// Prometheus metrics, JSON accessors for session state and audio levels,
// lifecycle control, and a WebSocket feed pushing live status.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mwidmann/capstan/internal/config"
	"github.com/mwidmann/capstan/internal/health"
	"github.com/mwidmann/capstan/internal/ledger"
	"github.com/mwidmann/capstan/internal/observe"
	"github.com/mwidmann/capstan/internal/recorder"
	"github.com/mwidmann/capstan/pkg/capture"
)

const (
	// shutdownTimeout bounds graceful HTTP shutdown when Run's context ends.
	shutdownTimeout = 10 * time.Second

	// livePushInterval is how often /v1/live pushes a status frame.
	livePushInterval = 250 * time.Millisecond

	// defaultRecentLimit is the /v1/recordings page size when the client
	// does not pass ?limit=.
	defaultRecentLimit = 20

	maxRecentLimit = 500
)

// Options carries the collaborators the monitor server exposes.
type Options struct {
	// Recorder is the session lifecycle owner. Required.
	Recorder *recorder.Recorder

	// Ledger serves /v1/recordings. Optional; nil returns empty lists.
	Ledger ledger.Ledger

	// Metrics instruments the HTTP middleware. Default: [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Snapshot returns the current daemon configuration. Session start
	// requests derive their capture geometry and filter from it, so a
	// hot-reloaded config applies to the next start without a restart.
	Snapshot func() *config.Config

	// Checkers feed /readyz.
	Checkers []health.Checker
}

// Server is the monitor HTTP server.
type Server struct {
	cfg  config.ServerConfig
	opts Options
	srv  *http.Server
}

// New builds a monitor server listening per cfg.
func New(cfg config.ServerConfig, opts Options) *Server {
	if opts.Metrics == nil {
		opts.Metrics = observe.DefaultMetrics()
	}
	s := &Server{cfg: cfg, opts: opts}
	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the full route tree wrapped in the observability
// middleware. Exposed separately so tests can drive it through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	health.New(s.opts.Checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/session", s.handleSession)
	mux.HandleFunc("POST /v1/session/start", s.handleStart)
	mux.HandleFunc("POST /v1/session/stop", s.handleStop)
	mux.HandleFunc("GET /v1/levels", s.handleLevels)
	mux.HandleFunc("GET /v1/recordings", s.handleRecordings)
	mux.HandleFunc("GET /v1/live", s.handleLive)

	return observe.Middleware(s.opts.Metrics)(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully. A nil
// return means the server stopped because ctx ended.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.cfg.TLS != nil {
			err = s.srv.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = s.srv.ListenAndServe()
		}
		errCh <- err
	}()

	slog.Info("monitor server listening", "addr", s.cfg.ListenAddr, "tls", s.cfg.TLS != nil)

	select {
	case err := <-errCh:
		return fmt.Errorf("monitor: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("monitor: shutdown: %w", err)
	}
	return nil
}

// ── JSON shapes ───────────────────────────────────────────────────────────────

type sessionResponse struct {
	State         string                 `json:"state"`
	SessionID     string                 `json:"session_id,omitempty"`
	StartedAt     *time.Time             `json:"started_at,omitempty"`
	Configuration *configurationResponse `json:"configuration,omitempty"`
	Filter        *filterResponse        `json:"filter,omitempty"`
}

type configurationResponse struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	FrameRate   int    `json:"frame_rate"`
	PixelFormat string `json:"pixel_format"`
	Channels    string `json:"channels"`
}

type filterResponse struct {
	Display     string   `json:"display"`
	ExcludeApps []string `json:"exclude_apps,omitempty"`
}

type levelsResponse struct {
	AverageDB float64 `json:"average_db"`
	PeakDB    float64 `json:"peak_db"`
}

type recordingResponse struct {
	ID        string    `json:"id"`
	Location  string    `json:"location,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// liveFrame is one /v1/live push.
type liveFrame struct {
	State     string  `json:"state"`
	SessionID string  `json:"session_id,omitempty"`
	AverageDB float64 `json:"average_db"`
	PeakDB    float64 `json:"peak_db"`
}

// ── Handlers ──────────────────────────────────────────────────────────────────

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessionStatus())
}

func (s *Server) sessionStatus() sessionResponse {
	resp := sessionResponse{State: s.opts.Recorder.State().String()}
	info, ok := s.opts.Recorder.Info()
	if !ok {
		return resp
	}
	started := info.StartedAt
	resp.SessionID = info.ID
	resp.StartedAt = &started
	resp.Configuration = &configurationResponse{
		Width:       info.Configuration.Width,
		Height:      info.Configuration.Height,
		FrameRate:   info.Configuration.FrameRate,
		PixelFormat: string(info.Configuration.PixelFormat),
		Channels:    channelNames(info.Configuration.Channels),
	}
	resp.Filter = &filterResponse{
		Display:     info.Filter.Display,
		ExcludeApps: info.Filter.ExcludedApps,
	}
	return resp
}

// startRequest optionally overrides the configured filter for one session.
type startRequest struct {
	Display     string   `json:"display"`
	ExcludeApps []string `json:"exclude_apps"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	cfg := s.opts.Snapshot()
	captureCfg := cfg.Capture.Configuration()
	filter := cfg.Filter.Filter()

	if r.ContentLength > 0 {
		var req startRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
			return
		}
		if req.Display != "" {
			filter.Display = req.Display
		}
		if req.ExcludeApps != nil {
			filter.ExcludedApps = req.ExcludeApps
		}
	}

	stream, err := s.opts.Recorder.Start(r.Context(), captureCfg, filter)
	switch {
	case errors.Is(err, recorder.ErrSessionActive):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	// A closed stream here means attach or delivery start failed; the
	// recorder is already back to idle.
	if err := stream.Err(); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	// The monitor surface has no frame consumer; drain the stream so the
	// session keeps its drop accounting without unbounded growth.
	go func() {
		for range stream.Frames() {
		}
	}()

	writeJSON(w, http.StatusCreated, s.sessionStatus())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Recorder.Stop(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.sessionStatus())
}

func (s *Server) handleLevels(w http.ResponseWriter, r *http.Request) {
	lv := s.opts.Recorder.Levels()
	writeJSON(w, http.StatusOK, levelsResponse{AverageDB: lv.AverageDB, PeakDB: lv.PeakDB})
}

func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRecentLimit)
	}

	resp := []recordingResponse{}
	if s.opts.Ledger != nil {
		recs, err := s.opts.Ledger.Recent(r.Context(), limit)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
			return
		}
		for _, rec := range recs {
			resp = append(resp, recordingResponse{
				ID:        rec.ID,
				Location:  rec.Location,
				StartedAt: rec.StartedAt,
				EndedAt:   rec.EndedAt,
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleLive upgrades to WebSocket and pushes a [liveFrame] every
// [livePushInterval] until the client disconnects.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("live feed accept", "err", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// The feed is push-only; CloseRead surfaces client disconnects through
	// the returned context.
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(livePushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame := liveFrame{State: s.opts.Recorder.State().String()}
			if info, ok := s.opts.Recorder.Info(); ok {
				frame.SessionID = info.ID
			}
			lv := s.opts.Recorder.Levels()
			frame.AverageDB = lv.AverageDB
			frame.PeakDB = lv.PeakDB

			data, err := json.Marshal(frame)
			if err != nil {
				slog.Warn("live feed marshal", "err", err)
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, livePushInterval)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// channelNames renders a channel set for API responses.
func channelNames(set capture.ChannelSet) string {
	switch {
	case set.Has(capture.SampleVideo) && set.Has(capture.SampleAudio):
		return "video+audio"
	case set.Has(capture.SampleVideo):
		return "video"
	case set.Has(capture.SampleAudio):
		return "audio"
	default:
		return "none"
	}
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode", "err", err)
	}
}
