// Package server exposes the agent loop over HTTP and on AWS Lambda.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

const (
	// DefaultRunPath is where run requests are accepted.
	DefaultRunPath = "/run"
	// DefaultHealthPath answers liveness probes.
	DefaultHealthPath = "/healthz"

	defaultMaxBodyBytes = 1 << 20
)

// Runner runs one conversation. *promptloop.Agent implements it.
type Runner interface {
	Run(ctx context.Context, input, config string) string
}

// RunnerFunc is an adapter to allow the use of ordinary functions as Runners
type RunnerFunc func(ctx context.Context, input, config string) string

// Run implements Runner
func (f RunnerFunc) Run(ctx context.Context, input, config string) string {
	return f(ctx, input, config)
}

// RunRequest is the body of a run request. Config may be a JSON object or a
// string holding the configuration text.
type RunRequest struct {
	Input  string          `json:"input"`
	Config json.RawMessage `json:"config"`
}

// ConfigText returns the configuration text carried by the request.
func (r *RunRequest) ConfigText() (string, error) {
	raw := bytes.TrimSpace(r.Config)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", errors.New("config is required")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("invalid config string: %w", err)
		}
		return s, nil
	}
	return string(raw), nil
}

// RunResponse is the body of a run response.
type RunResponse struct {
	Output string `json:"output"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// HandlerOption configures a Handler
type HandlerOption func(*Handler)

// WithAuthenticator sets the authenticator for run requests
func WithAuthenticator(auth Authenticator) HandlerOption {
	return func(h *Handler) {
		h.authenticator = auth
	}
}

// WithLogger sets the logger for the handler
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithRunPath sets the path that accepts run requests
func WithRunPath(path string) HandlerOption {
	return func(h *Handler) {
		h.runPath = path
	}
}

// WithMaxBodyBytes limits the size of run request bodies
func WithMaxBodyBytes(n int64) HandlerOption {
	return func(h *Handler) {
		h.maxBodyBytes = n
	}
}

// Handler serves run requests and health checks.
type Handler struct {
	runner        Runner
	authenticator Authenticator
	logger        *slog.Logger
	runPath       string
	maxBodyBytes  int64
	mux           *http.ServeMux
}

// NewHandler creates a Handler for runner.
func NewHandler(runner Runner, options ...HandlerOption) *Handler {
	h := &Handler{
		runner:       runner,
		logger:       slog.Default(),
		runPath:      DefaultRunPath,
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range options {
		opt(h)
	}
	h.mux = http.NewServeMux()
	h.mux.HandleFunc("POST "+h.runPath, h.handleRun)
	h.mux.HandleFunc("GET "+DefaultHealthPath, h.handleHealth)
	return h
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	if h.authenticator != nil {
		newReq, err := h.authenticator.Authenticate(r.Context(), r)
		if err != nil {
			h.writeAuthError(w, r, err)
			return
		}
		r = newReq
	}

	var req RunRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return
	}
	config, err := req.ConfigText()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	subject, _ := GetJWTSubject(r.Context())
	h.logger.InfoContext(r.Context(), "run request", "input_length", len(req.Input), "subject", subject)
	output := h.runner.Run(r.Context(), req.Input, config)
	writeJSON(w, http.StatusOK, RunResponse{Output: output})
}

func (h *Handler) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.DebugContext(r.Context(), "authentication failed", "error", err)
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "authentication failed"})
		return
	}
	if authErr.Scheme == "bearer" {
		w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer error="invalid_token", error_description=%q`, authErr.Message))
	}
	writeJSON(w, http.StatusUnauthorized, errorResponse{Error: authErr.Message, Code: authErr.Code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

// decodeRunRequest parses a direct invocation payload.
func decodeRunRequest(payload []byte) (*RunRequest, string, error) {
	var req RunRequest
	dec := json.NewDecoder(bytes.NewReader(payload))
	if err := dec.Decode(&req); err != nil {
		return nil, "", fmt.Errorf("invalid payload: %w", err)
	}
	config, err := req.ConfigText()
	if err != nil {
		return nil, "", err
	}
	if strings.TrimSpace(config) == "" {
		return nil, "", errors.New("config is required")
	}
	return &req, config, nil
}
