// Package control serves the earshot HTTP control API: capture start and
// stop, the accumulated transcript, device listing and mode switching.
//
// Routes:
//
//	GET    /v1/listener            capture state, mode and counters
//	POST   /v1/listener/start      start capture
//	POST   /v1/listener/stop       stop capture
//	POST   /v1/listener/toggle     start or stop capture
//	GET    /v1/transcript          entries since the last drain
//	GET    /v1/transcript/last     most recent entry
//	POST   /v1/transcript/drain    return and clear pending entries
//	DELETE /v1/transcript          clear pending entries
//	GET    /v1/devices             capture devices
//	PUT    /v1/mode                switch transcription mode
//
// Health and metrics routes are mounted when configured.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/MrWong99/earshot/internal/dispatch"
	"github.com/MrWong99/earshot/internal/health"
	"github.com/MrWong99/earshot/internal/listener"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/transcript"
	"github.com/MrWong99/earshot/pkg/audio/capture"
)

// Controller is the application surface driven by the API.
type Controller interface {
	Start(ctx context.Context) error
	Stop() error
	Toggle(ctx context.Context) (bool, error)
	Running() bool
	Device() string
	Stats() listener.Stats
	Mode() dispatch.Mode
	SetMode(m dispatch.Mode) error
	Devices(ctx context.Context) ([]capture.Device, error)
}

// Config wires a Server.
type Config struct {
	// Controller drives capture. Required.
	Controller Controller

	// Transcripts is the transcript log. Required.
	Transcripts transcript.Log

	// Health mounts /healthz and /readyz when set.
	Health *health.Handler

	// MetricsHandler is mounted on /metrics when set.
	MetricsHandler http.Handler

	// Metrics is used by the request middleware. Nil uses
	// observe.DefaultMetrics().
	Metrics *observe.Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server is the control API.
type Server struct {
	cfg     Config
	log     *slog.Logger
	handler http.Handler
}

// New builds the route table.
func New(cfg Config) (*Server, error) {
	if cfg.Controller == nil || cfg.Transcripts == nil {
		return nil, errors.New("control: controller and transcript log are required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	s := &Server{cfg: cfg, log: cfg.Logger}
	if s.log == nil {
		s.log = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/listener", s.handleListener)
	mux.HandleFunc("POST /v1/listener/start", s.handleStart)
	mux.HandleFunc("POST /v1/listener/stop", s.handleStop)
	mux.HandleFunc("POST /v1/listener/toggle", s.handleToggle)
	mux.HandleFunc("GET /v1/transcript", s.handlePending)
	mux.HandleFunc("GET /v1/transcript/last", s.handleLast)
	mux.HandleFunc("POST /v1/transcript/drain", s.handleDrain)
	mux.HandleFunc("DELETE /v1/transcript", s.handleClear)
	mux.HandleFunc("GET /v1/devices", s.handleDevices)
	mux.HandleFunc("PUT /v1/mode", s.handleMode)
	if cfg.Health != nil {
		cfg.Health.Register(mux)
	}
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}
	s.handler = observe.Middleware(cfg.Metrics)(mux)
	return s, nil
}

// Handler returns the API handler with tracing and request metrics.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves the API on addr until ctx is cancelled, then shuts
// the server down gracefully within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("control: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln, shutdownTimeout)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("control api listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("control: serve: %w", err)
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("control: shutdown: %w", err)
	}
	return nil
}

// ─── Payloads ────────────────────────────────────────────────────────────────

type listenerResponse struct {
	Running bool          `json:"running"`
	Device  string        `json:"device,omitempty"`
	Mode    dispatch.Mode `json:"mode"`
	Stats   statsResponse `json:"stats"`
}

type statsResponse struct {
	BlocksReceived     uint64 `json:"blocks_received"`
	BlocksDropped      uint64 `json:"blocks_dropped"`
	Overruns           uint64 `json:"overruns"`
	Frames             uint64 `json:"frames"`
	SpeechFrames       uint64 `json:"speech_frames"`
	SegmentsDispatched uint64 `json:"segments_dispatched"`
	SegmentsDiscarded  uint64 `json:"segments_discarded"`
	SegmentsRejected   uint64 `json:"segments_rejected"`
	AnalysisErrors     uint64 `json:"analysis_errors"`
}

type entryResponse struct {
	Seq             uint64    `json:"seq"`
	Text            string    `json:"text"`
	Mode            string    `json:"mode,omitempty"`
	Provider        string    `json:"provider,omitempty"`
	At              time.Time `json:"at"`
	AudioDurationMS int64     `json:"audio_duration_ms"`
}

type transcriptResponse struct {
	Text    string          `json:"text"`
	Entries []entryResponse `json:"entries"`
}

type deviceResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Default bool   `json:"default"`
}

type modeRequest struct {
	Mode dispatch.Mode `json:"mode"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ─── Handlers ────────────────────────────────────────────────────────────────

func (s *Server) handleListener(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.listenerState())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Controller.Start(r.Context()); err != nil {
		s.fail(w, r, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, s.listenerState())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Controller.Stop(); err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, s.listenerState())
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	if _, err := s.cfg.Controller.Toggle(r.Context()); err != nil {
		s.fail(w, r, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, s.listenerState())
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	entries, err := s.cfg.Transcripts.Pending(r.Context())
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, newTranscriptResponse(entries))
}

func (s *Server) handleLast(w http.ResponseWriter, r *http.Request) {
	e, err := s.cfg.Transcripts.Last(r.Context())
	if errors.Is(err, transcript.ErrNotFound) {
		s.fail(w, r, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, newEntryResponse(e))
}

func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	entries, err := s.cfg.Transcripts.Drain(r.Context())
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, newTranscriptResponse(entries))
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Transcripts.Clear(r.Context()); err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.cfg.Controller.Devices(r.Context())
	if err != nil {
		s.fail(w, r, http.StatusBadGateway, err)
		return
	}
	out := make([]deviceResponse, len(devices))
	for i, d := range devices {
		out[i] = deviceResponse{ID: d.ID, Name: d.Name, Default: d.Default}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		s.fail(w, r, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if !req.Mode.IsValid() {
		s.fail(w, r, http.StatusBadRequest, fmt.Errorf("invalid mode %q; valid values: local, cloud", req.Mode))
		return
	}
	if err := s.cfg.Controller.SetMode(req.Mode); err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.listenerState())
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func (s *Server) listenerState() listenerResponse {
	c := s.cfg.Controller
	st := c.Stats()
	return listenerResponse{
		Running: c.Running(),
		Device:  c.Device(),
		Mode:    c.Mode(),
		Stats: statsResponse{
			BlocksReceived:     st.BlocksReceived,
			BlocksDropped:      st.BlocksDropped,
			Overruns:           st.Overruns,
			Frames:             st.Frames,
			SpeechFrames:       st.SpeechFrames,
			SegmentsDispatched: st.SegmentsDispatched,
			SegmentsDiscarded:  st.SegmentsDiscarded,
			SegmentsRejected:   st.SegmentsRejected,
			AnalysisErrors:     st.AnalysisErrors,
		},
	}
}

func newEntryResponse(e transcript.Entry) entryResponse {
	return entryResponse{
		Seq:             e.Seq,
		Text:            e.Text,
		Mode:            e.Mode,
		Provider:        e.Provider,
		At:              e.At,
		AudioDurationMS: e.AudioDuration.Milliseconds(),
	}
}

func newTranscriptResponse(entries []transcript.Entry) transcriptResponse {
	out := transcriptResponse{
		Text:    transcript.Join(entries),
		Entries: make([]entryResponse, len(entries)),
	}
	for i, e := range entries {
		out.Entries[i] = newEntryResponse(e)
	}
	return out
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		observe.WithTrace(r.Context(), s.log).Warn("control request failed",
			"method", r.Method, "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
