package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/fujiwara/ridge"
)

// Server serves a Runner over HTTP, or on AWS Lambda when ridge detects the
// Lambda runtime.
type Server struct {
	// Addr specifies the TCP address for the server to listen on (default ":8080").
	Addr string

	// Runner is required.
	Runner Runner

	// Authenticator protects run requests. If nil, no authentication is required.
	Authenticator Authenticator

	Logger *slog.Logger

	LambdaOptions []lambda.Option // Options for AWS Lambda integration

	// ShutdownTimeout bounds graceful shutdown (default 30s).
	ShutdownTimeout time.Duration

	handler    *Handler
	httpServer *http.Server
	mu         sync.Mutex
}

// Run starts the server and blocks until the server shuts down.
func (s *Server) Run() error {
	return s.RunWithContext(context.Background())
}

// RunWithContext starts the server with the given context and blocks until
// the server shuts down or the context is cancelled.
func (s *Server) RunWithContext(ctx context.Context) error {
	if err := s.initialize(); err != nil {
		return err
	}
	if ridge.OnLambdaRuntime() {
		return s.runOnLambdaRuntime(ctx)
	}

	errChan := make(chan error, 1)
	go func() {
		s.Logger.InfoContext(ctx, "listening", "addr", s.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// Handler returns the HTTP handler, initializing the server if needed.
func (s *Server) Handler() (http.Handler, error) {
	if err := s.initialize(); err != nil {
		return nil, err
	}
	return s.handler, nil
}

func (s *Server) initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Runner == nil {
		return errors.New("Runner field is required and cannot be nil")
	}
	if s.Addr == "" {
		s.Addr = ":8080"
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	if s.ShutdownTimeout <= 0 {
		s.ShutdownTimeout = 30 * time.Second
	}
	if s.handler == nil {
		opts := []HandlerOption{WithLogger(s.Logger)}
		if s.Authenticator != nil {
			opts = append(opts, WithAuthenticator(s.Authenticator))
		}
		s.handler = NewHandler(s.Runner, opts...)
	}
	if s.httpServer == nil {
		s.httpServer = &http.Server{
			Addr:              s.Addr,
			Handler:           s.handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	return nil
}

func (s *Server) runOnLambdaRuntime(ctx context.Context) error {
	opts := append([]lambda.Option{
		lambda.WithContext(ctx),
	}, s.LambdaOptions...)
	lambda.StartWithOptions(s.handleEvent, opts...)
	return nil
}

// handleEvent serves HTTP events (function URLs, API Gateway, ALB) through
// the handler and runs direct invocations with a RunRequest payload.
func (s *Server) handleEvent(ctx context.Context, event json.RawMessage) (any, error) {
	if req, err := ridge.NewRequest(event); err == nil && req.Method != "" && req.URL != nil && req.URL.Path != "" {
		w := ridge.NewResponseWriter()
		s.handler.ServeHTTP(w, req.WithContext(ctx))
		return w.Response(), nil
	}
	runReq, config, err := decodeRunRequest(event)
	if err != nil {
		s.Logger.ErrorContext(ctx, "failed to parse event", "error", err, "payload", string(event))
		return nil, fmt.Errorf("failed to parse event: %w", err)
	}
	return RunResponse{Output: s.Runner.Run(ctx, runReq.Input, config)}, nil
}

// Shutdown gracefully shuts down the server without interrupting any
// active connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}
	return nil
}
