// Package server exposes a compiled graph over HTTP.
//
// Routes:
//
//	POST /invoke                      run to completion, return the final state
//	POST /stream                      run to completion, return every snapshot
//	GET  /threads/{threadID}/history  checkpoints of a thread
//	GET  /graph                       Mermaid diagram (?format=json for topology)
//	GET  /healthz                     liveness
//	GET  /metrics                     Prometheus metrics, when configured
//
// Failures are JSON bodies of the form {"error": "..."}.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/randalmurphal/stategraph/pkg/stategraph"
	"github.com/randalmurphal/stategraph/pkg/stategraph/checkpoint"
	"github.com/randalmurphal/stategraph/pkg/stategraph/diagram"
	"github.com/randalmurphal/stategraph/pkg/stategraph/observability"
	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

// Server serves one compiled graph.
type Server struct {
	graph   *stategraph.CompiledGraph
	logger  *slog.Logger
	metrics *observability.PrometheusRecorder
	runOpts []stategraph.RunOption
	timeout time.Duration
	router  chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request and run logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPrometheus records run metrics into rec and serves them on /metrics.
func WithPrometheus(rec *observability.PrometheusRecorder) Option {
	return func(s *Server) { s.metrics = rec }
}

// WithRunOptions applies opts to every run, before per-request options.
func WithRunOptions(opts ...stategraph.RunOption) Option {
	return func(s *Server) { s.runOpts = append(s.runOpts, opts...) }
}

// WithRunTimeout bounds each run. Zero means runs are bounded only by the
// request context.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// New creates a server for graph.
func New(graph *stategraph.CompiledGraph, opts ...Option) *Server {
	s := &Server{
		graph:  graph,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Post("/invoke", s.handleInvoke)
	r.Post("/stream", s.handleStream)
	r.Get("/threads/{threadID}/history", s.handleHistory)
	r.Get("/graph", s.handleGraph)
	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", float64(time.Since(start).Microseconds())/1000,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// RunRequest is the body of /invoke and /stream.
type RunRequest struct {
	State      state.Map      `json:"state"`
	ThreadID   string         `json:"thread_id,omitempty"`
	ResumeFrom *ResumeRequest `json:"resume_from,omitempty"`
	Values     map[string]any `json:"values,omitempty"`
}

// ResumeRequest names the node and state to resume from.
type ResumeRequest struct {
	Node  string    `json:"node"`
	State state.Map `json:"state"`
}

// InvokeResponse is the body returned by /invoke.
type InvokeResponse struct {
	RunID     string    `json:"run_id"`
	State     state.Map `json:"state"`
	Truncated bool      `json:"truncated"`
}

// SnapshotResponse is one step in the body returned by /stream.
type SnapshotResponse struct {
	Node  string    `json:"node"`
	Step  int       `json:"step"`
	State state.Map `json:"state"`
}

// StreamResponse is the body returned by /stream.
type StreamResponse struct {
	RunID     string             `json:"run_id"`
	Snapshots []SnapshotResponse `json:"snapshots"`
}

// HistoryResponse is the body returned by the history route.
type HistoryResponse struct {
	ThreadID    string                  `json:"thread_id"`
	Checkpoints []checkpoint.Checkpoint `json:"checkpoints"`
}

// TopologyResponse is the JSON form of /graph.
type TopologyResponse struct {
	EntryPoint string            `json:"entry_point"`
	Nodes      []string          `json:"nodes"`
	Edges      []stategraph.Edge `json:"edges"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRun(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.runContext(r.Context())
	defer cancel()

	runID := uuid.NewString()
	out, err := s.graph.Invoke(ctx, req.State, s.options(req, runID)...)
	if err != nil {
		s.writeRunError(w, runID, err)
		return
	}

	writeJSON(w, http.StatusOK, InvokeResponse{
		RunID:     runID,
		State:     out,
		Truncated: out.Truncated(),
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRun(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.runContext(r.Context())
	defer cancel()

	runID := uuid.NewString()
	snapshots, err := s.graph.Stream(ctx, req.State, s.options(req, runID)...)
	if err != nil {
		s.writeRunError(w, runID, err)
		return
	}

	resp := StreamResponse{RunID: runID, Snapshots: make([]SnapshotResponse, 0, len(snapshots))}
	for _, snap := range snapshots {
		resp.Snapshots = append(resp.Snapshots, SnapshotResponse{Node: snap.Node, Step: snap.Step, State: snap.State})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	cp := s.graph.Checkpointer()
	if cp == nil {
		writeError(w, http.StatusNotFound, errors.New("graph has no checkpointer"))
		return
	}

	threadID := chi.URLParam(r, "threadID")
	history, err := cp.History(r.Context(), threadID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, checkpoint.ErrInvalidThreadID) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{ThreadID: threadID, Checkpoints: history})
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, http.StatusOK, TopologyResponse{
			EntryPoint: s.graph.EntryPoint(),
			Nodes:      s.graph.Nodes(),
			Edges:      s.graph.Edges(),
		})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(diagram.Mermaid(s.graph)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) decodeRun(w http.ResponseWriter, r *http.Request) (RunRequest, bool) {
	var req RunRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 10<<20))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return RunRequest{}, false
	}
	if req.State == nil {
		req.State = state.Map{}
	}
	if req.ResumeFrom != nil && req.ResumeFrom.Node == "" {
		writeError(w, http.StatusBadRequest, errors.New("resume_from requires a node"))
		return RunRequest{}, false
	}
	return req, true
}

func (s *Server) options(req RunRequest, runID string) []stategraph.RunOption {
	opts := append([]stategraph.RunOption(nil), s.runOpts...)
	opts = append(opts,
		stategraph.WithRunID(runID),
		stategraph.WithRunLogger(s.logger),
	)
	if s.metrics != nil {
		opts = append(opts, stategraph.WithMetrics(s.metrics))
	}
	if req.ThreadID != "" {
		opts = append(opts, stategraph.WithThreadID(req.ThreadID))
	}
	if req.ResumeFrom != nil {
		opts = append(opts, stategraph.WithResumeFrom(req.ResumeFrom.Node, req.ResumeFrom.State))
	}
	if len(req.Values) > 0 {
		opts = append(opts, stategraph.WithConfigValues(req.Values))
	}
	return opts
}

func (s *Server) runContext(parent context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(parent, s.timeout)
	}
	return context.WithCancel(parent)
}

func (s *Server) writeRunError(w http.ResponseWriter, runID string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, checkpoint.ErrInvalidThreadID),
		errors.Is(err, stategraph.ErrInvalidResumeNode):
		status = http.StatusBadRequest
	}
	s.logger.Warn("run failed", "run_id", runID, "status", status, "error", err)
	writeError(w, status, err)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
