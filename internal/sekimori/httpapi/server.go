// Package httpapi exposes the Sekimori approval engine over HTTP: the
// JSON request/decision surface under /api/v1/, the SSE push channel at
// /api/v1/events, and the /health and /status probes.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bdobrica/Sekimori/common/trace"
	"github.com/bdobrica/Sekimori/common/version"
	"github.com/bdobrica/Sekimori/internal/sekimori/approvals"
	"github.com/bdobrica/Sekimori/internal/sekimori/notify"
	"github.com/bdobrica/Sekimori/internal/sekimori/oracle"
	"github.com/bdobrica/Sekimori/internal/sekimori/policy"
	"github.com/bdobrica/Sekimori/internal/sekimori/store"
)

// maxBodyBytes caps inbound request bodies.
const maxBodyBytes = 1 * 1024 * 1024 // 1 MiB

// prefStore is the minimal interface the server needs for preferences.
type prefStore interface {
	UpsertPreferences(ctx context.Context, p *policy.Preferences) error
	GetPreferences(ctx context.Context, userID string) (*policy.Preferences, error)
}

// auditReader is the minimal interface the server needs for the audit log.
type auditReader interface {
	GetAuditLog(ctx context.Context, limit int) ([]*store.AuditEntry, error)
}

// Config holds the server's collaborators.
type Config struct {
	Addr   string
	Ledger *approvals.Ledger
	Oracle oracle.Provider
	Prefs  prefStore
	Audit  auditReader
	// Events feeds the SSE push channel.  May be nil; the /events endpoint
	// then reports 503.
	Events *notify.Fanout
}

// Server is the Sekimori HTTP front end.
type Server struct {
	addr      string
	ledger    *approvals.Ledger
	oracle    oracle.Provider
	prefs     prefStore
	audit     auditReader
	events    *notify.Fanout
	startedAt time.Time
	mux       *http.ServeMux
	server    *http.Server
}

// New creates and configures the server (does not start it).
func New(cfg Config) *Server {
	s := &Server{
		addr:      cfg.Addr,
		ledger:    cfg.Ledger,
		oracle:    cfg.Oracle,
		prefs:     cfg.Prefs,
		audit:     cfg.Audit,
		events:    cfg.Events,
		startedAt: time.Now(),
		mux:       http.NewServeMux(),
	}

	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/status", s.handleStatus)

	s.mux.HandleFunc("/api/v1/assess", s.handleAssess)
	s.mux.HandleFunc("/api/v1/requests", s.handleRequests)
	s.mux.HandleFunc("/api/v1/requests/", s.handleRequestByID)
	s.mux.HandleFunc("/api/v1/decisions", s.handleDecisions)
	s.mux.HandleFunc("/api/v1/decisions/", s.handleDecisionByID)
	s.mux.HandleFunc("/api/v1/recommendation", s.handleRecommendation)
	s.mux.HandleFunc("/api/v1/pending", s.handlePending)
	s.mux.HandleFunc("/api/v1/users/", s.handleUserRequests)
	s.mux.HandleFunc("/api/v1/stats", s.handleStats)
	s.mux.HandleFunc("/api/v1/preferences", s.handlePreferences)
	s.mux.HandleFunc("/api/v1/preferences/", s.handlePreferencesByUser)
	s.mux.HandleFunc("/api/v1/audit", s.handleAudit)
	s.mux.HandleFunc("/api/v1/events", s.handleEvents)

	return s
}

// ServeHTTP implements http.Handler so the server can be tested with
// httptest without a live listener.  Every request gets a trace ID,
// echoed back in X-Trace-Id.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	traceID := r.Header.Get("X-Trace-Id")
	if traceID == "" {
		traceID = trace.GenerateID()
	}
	w.Header().Set("X-Trace-Id", traceID)
	r = r.WithContext(trace.WithTraceID(r.Context(), traceID))
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	slog.Debug("http request", "method", r.Method, "path", r.URL.Path, "trace", traceID)
	s.mux.ServeHTTP(w, r)
}

// Start begins listening in the background.  Blocks until the listener is
// established so the caller knows the port is open before returning.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("http server: listen %s: %w", s.addr, err)
	}

	s.server = &http.Server{
		Handler:     s,
		ReadTimeout: 5 * time.Second,
		// No WriteTimeout: the SSE channel holds responses open indefinitely.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("http server listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server stopped", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Stop shuts down the HTTP server.
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		slog.Warn("http server shutdown error", "err", err)
	}
}

// --- probes ---

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

type statusResponse struct {
	Status      string    `json:"status"`
	Version     string    `json:"version"`
	Commit      string    `json:"commit"`
	BuildTime   string    `json:"build_time"`
	StartedAt   time.Time `json:"started_at"`
	UptimeSecs  float64   `json:"uptime_seconds"`
	Pending     int       `json:"pending_requests"`
	Subscribers int       `json:"event_subscribers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: version.Version,
		Commit:  version.GitCommit,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	pending := 0
	if reqs, err := s.ledger.ListPending(r.Context()); err == nil {
		pending = len(reqs)
	}
	subscribers := 0
	if s.events != nil {
		subscribers = s.events.Subscribers()
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Status:      "ok",
		Version:     version.Version,
		Commit:      version.GitCommit,
		BuildTime:   version.BuildTime,
		StartedAt:   s.startedAt,
		UptimeSecs:  time.Since(s.startedAt).Seconds(),
		Pending:     pending,
		Subscribers: subscribers,
	})
}

// --- assess ---

type assessRequest struct {
	Action      string         `json:"action"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Context     map[string]any `json:"context"`
}

// handleAssess scores an action without admitting it into the ledger.
func (s *Server) handleAssess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body assessRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(body.Action) == "" {
		writeError(w, http.StatusBadRequest, "action is required")
		return
	}

	assessment, err := s.oracle.Assess(r.Context(), oracle.AssessInput{
		Action:      body.Action,
		Description: body.Description,
		Parameters:  body.Parameters,
		Context:     body.Context,
	})
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assessment)
}

// --- requests ---

type createRequest struct {
	Action      string         `json:"action"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Context     map[string]any `json:"context"`
	UserID      string         `json:"user_id"`
	DeviceID    string         `json:"device_id"`
}

func (s *Server) handleRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body createRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req, err := s.ledger.Create(r.Context(), approvals.CreateInput{
		Action:      body.Action,
		Description: body.Description,
		Parameters:  body.Parameters,
		Context:     body.Context,
		UserID:      body.UserID,
		DeviceID:    body.DeviceID,
	})
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// handleRequestByID serves GET /api/v1/requests/{id} and
// POST /api/v1/requests/{id}/cancel.
func (s *Server) handleRequestByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/requests/")
	if path == "" {
		writeError(w, http.StatusNotFound, "request id required")
		return
	}

	if id, ok := strings.CutSuffix(path, "/cancel"); ok {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		req, err := s.ledger.Cancel(r.Context(), id, r.URL.Query().Get("user_id"))
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, req)
		return
	}

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if strings.Contains(path, "/") {
		writeError(w, http.StatusNotFound, "invalid path")
		return
	}
	req, err := s.ledger.Get(r.Context(), path)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// --- decisions ---

type decideRequest struct {
	RequestID              string         `json:"request_id"`
	Decision               string         `json:"decision"`
	Reason                 string         `json:"reason"`
	UserID                 string         `json:"user_id"`
	SuggestedModifications map[string]any `json:"suggested_modifications"`
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body decideRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	verdict, ok := policy.ParseVerdict(body.Decision)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown decision %q", body.Decision))
		return
	}

	dec, err := s.ledger.Decide(r.Context(), approvals.DecideInput{
		RequestID:              body.RequestID,
		Verdict:                verdict,
		Reason:                 body.Reason,
		UserID:                 body.UserID,
		SuggestedModifications: body.SuggestedModifications,
	})
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dec)
}

// handleDecisionByID serves GET /api/v1/decisions/{requestID}: the latest
// decision recorded for that request.
func (s *Server) handleDecisionByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/decisions/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "invalid path")
		return
	}
	dec, err := s.ledger.GetDecision(r.Context(), id)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dec)
}

// --- recommendation ---

type recommendRequest struct {
	RequestID string `json:"request_id"`
}

func (s *Server) handleRecommendation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body recommendRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.RequestID == "" {
		writeError(w, http.StatusBadRequest, "request_id is required")
		return
	}

	rec, err := s.ledger.Recommend(r.Context(), body.RequestID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// --- listings ---

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	reqs, err := s.ledger.ListPending(r.Context())
	if err != nil {
		writeMappedError(w, err)
		return
	}
	if reqs == nil {
		reqs = []*approvals.Request{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

// handleUserRequests serves GET /api/v1/users/{id}/requests.
func (s *Server) handleUserRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/users/")
	userID, ok := strings.CutSuffix(path, "/requests")
	if !ok || userID == "" || strings.Contains(userID, "/") {
		writeError(w, http.StatusNotFound, "invalid path: expected /api/v1/users/{id}/requests")
		return
	}
	reqs, err := s.ledger.ListByUser(r.Context(), userID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	if reqs == nil {
		reqs = []*approvals.Request{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	st, err := s.ledger.Stats(r.Context())
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// --- preferences ---

func (s *Server) handlePreferences(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var prefs policy.Preferences
	if err := decodeBody(r, &prefs); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	prefs.ApplyDefaults()
	if err := prefs.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.prefs.UpsertPreferences(r.Context(), &prefs); err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &prefs)
}

func (s *Server) handlePreferencesByUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID := strings.TrimPrefix(r.URL.Path, "/api/v1/preferences/")
	if userID == "" || strings.Contains(userID, "/") {
		writeError(w, http.StatusNotFound, "invalid path")
		return
	}
	prefs, err := s.prefs.GetPreferences(r.Context(), userID)
	if errors.Is(err, store.ErrNoPreferences) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

// --- audit ---

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := s.audit.GetAuditLog(r.Context(), limit)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	if entries == nil {
		entries = []*store.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- plumbing ---

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

// writeMappedError translates domain errors into the HTTP taxonomy:
// caller mistakes are 400, unknown IDs 404, lost races 409, oracle
// rate limits 503, other oracle failures 502, everything else 500.
func writeMappedError(w http.ResponseWriter, err error) {
	var stateErr *approvals.InvalidStateError
	switch {
	case errors.Is(err, approvals.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, approvals.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &stateErr):
		writeError(w, http.StatusConflict, stateErr.Error())
	case errors.Is(err, oracle.ErrRateLimited):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case oracle.IsOracleError(err):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		slog.Error("http: internal error", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("http: failed to encode JSON response", "err", err)
	}
}
