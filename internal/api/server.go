package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/clawinfra/toolgate/internal/audit"
	"github.com/clawinfra/toolgate/internal/batch"
	"github.com/clawinfra/toolgate/internal/breaker"
	"github.com/clawinfra/toolgate/internal/gateway"
	"github.com/clawinfra/toolgate/internal/profile"
	"github.com/clawinfra/toolgate/internal/request"
	"github.com/clawinfra/toolgate/internal/security"
)

// maxRequestBody caps authorize payloads. File contents travel inside them.
const maxRequestBody = 8 << 20

// operatorContextKeys are request context flags that waive a check. Only
// operator tokens may set them.
var operatorContextKeys = []string{batch.ConfirmedKey, breaker.AutonomousKey}

// BreakerControl is the administrative surface of the circuit breaker.
type BreakerControl interface {
	Name() string
	State() breaker.State
	Threshold() int
	Reset(ctx context.Context, operator string) breaker.State
}

// BatchConfirmer grants bulk-use confirmations.
type BatchConfirmer interface {
	Confirm(ctx context.Context, caller, tool string) (bool, error)
}

// Options wires the server to the gateway and its stateful components.
// Breaker and Batch may be nil when those layers are not configured.
type Options struct {
	Port      int
	Gateway   *gateway.Gateway
	Profiles  *profile.Store
	Breaker   BreakerControl
	Batch     BatchConfirmer
	AuditPath string
	JWTSecret []byte
	Logger    *slog.Logger
}

// Server is the HTTP API server
type Server struct {
	port       int
	gateway    *gateway.Gateway
	profiles   *profile.Store
	breaker    BreakerControl
	batch      BatchConfirmer
	auditPath  string
	jwtSecret  []byte
	logger     *slog.Logger
	httpServer *http.Server
	startedAt  time.Time
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		port:      opts.Port,
		gateway:   opts.Gateway,
		profiles:  opts.Profiles,
		breaker:   opts.Breaker,
		batch:     opts.Batch,
		auditPath: opts.AuditPath,
		jwtSecret: opts.JWTSecret,
		logger:    opts.Logger.With("component", "api"),
		startedAt: time.Now(),
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	authed := http.NewServeMux()
	authed.HandleFunc("/v1/authorize", s.handleAuthorize)
	authed.HandleFunc("/v1/breaker", s.handleBreaker)
	authed.HandleFunc("/v1/breaker/reset", s.handleBreakerReset)
	authed.HandleFunc("/v1/batch/confirm", s.handleBatchConfirm)
	authed.HandleFunc("/v1/audit/summary", s.handleAuditSummary)
	authed.HandleFunc("/v1/profile", s.handleProfile)
	authed.HandleFunc("/v1/profile/reload", s.handleProfileReload)

	protected := security.AuthMiddleware(s.jwtSecret)(security.RequirePermission()(authed))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	// The stream authenticates with ?token= because browsers cannot set
	// headers on a websocket upgrade.
	mux.HandleFunc("/v1/decisions/stream", s.handleDecisionStream)
	mux.Handle("/v1/", protected)

	return s.loggingMiddleware(mux)
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "port", s.port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	}
	if s.gateway != nil {
		status["layers"] = s.gateway.Layers()
	}
	writeJSON(w, http.StatusOK, status)
}

// handleAuthorize decides one tool request. An authenticated caller
// overrides the caller named in the body, and non-operator tokens cannot
// set the operatorContextKeys flags.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req request.ToolRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if claims, err := security.GetClaims(r); err == nil {
		if claims.Caller != "" {
			req.Caller = claims.Caller
		}
		if !claims.IsOperator() {
			s.stripOperatorFlags(&req, claims)
		}
	}
	writeJSON(w, http.StatusOK, s.gateway.Authorize(r.Context(), req))
}

func (s *Server) stripOperatorFlags(req *request.ToolRequest, claims *security.Claims) {
	for _, key := range operatorContextKeys {
		if _, ok := req.Context[key]; !ok {
			continue
		}
		delete(req.Context, key)
		s.logger.Warn("ignoring operator-only context flag", "flag", key, "caller", claims.Caller, "role", claims.Role)
	}
}

type breakerStatus struct {
	State     breaker.State `json:"state"`
	Threshold int           `json:"threshold"`
	Enabled   bool          `json:"enabled"`
}

func (s *Server) breakerEnabled() bool {
	if s.gateway == nil {
		return false
	}
	for _, name := range s.gateway.Layers() {
		if name == s.breaker.Name() {
			return true
		}
	}
	return false
}

func (s *Server) handleBreaker(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.breaker == nil {
		writeError(w, http.StatusNotFound, "circuit breaker not configured")
		return
	}
	writeJSON(w, http.StatusOK, breakerStatus{
		State:     s.breaker.State(),
		Threshold: s.breaker.Threshold(),
		Enabled:   s.breakerEnabled(),
	})
}

func (s *Server) handleBreakerReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.breaker == nil {
		writeError(w, http.StatusNotFound, "circuit breaker not configured")
		return
	}
	prev := s.breaker.Reset(r.Context(), operatorName(r))
	writeJSON(w, http.StatusOK, map[string]any{
		"previous": prev,
		"state":    s.breaker.State(),
	})
}

type confirmRequest struct {
	Caller string `json:"caller"`
	Tool   string `json:"tool"`
}

func (s *Server) handleBatchConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.batch == nil {
		writeError(w, http.StatusNotFound, "batch classifier not configured")
		return
	}
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Tool == "" || req.Caller == "" {
		writeError(w, http.StatusBadRequest, "caller and tool are required")
		return
	}
	ok, err := s.batch.Confirm(r.Context(), req.Caller, req.Tool)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no batch rule matches %q", req.Tool))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"confirmed": true, "caller": req.Caller, "tool": req.Tool})
}

func (s *Server) handleAuditSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	entries, err := audit.Read(s.auditPath)
	if err != nil {
		s.logger.Error("failed to read audit log", "path", s.auditPath, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read audit log")
		return
	}
	writeJSON(w, http.StatusOK, audit.Summarize(entries))
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.profiles == nil {
		writeError(w, http.StatusNotFound, "profile store not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.profiles.Active())
}

func (s *Server) handleProfileReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.profiles == nil {
		writeError(w, http.StatusNotFound, "profile store not configured")
		return
	}
	snap := s.profiles.Reload(r.Context())
	s.logger.Info("profile reloaded via API", "operator", operatorName(r), "source", snap.Source, "fallback", snap.Fallback)
	writeJSON(w, http.StatusOK, snap)
}

func operatorName(r *http.Request) string {
	if claims, err := security.GetClaims(r); err == nil && claims.Caller != "" {
		return claims.Caller
	}
	return "anonymous"
}
