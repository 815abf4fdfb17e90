package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"claude-code-proxy/internal/config"
	"claude-code-proxy/internal/metrics"
	"claude-code-proxy/internal/modelmap"
	"claude-code-proxy/internal/translator"
	"claude-code-proxy/internal/upstream"
)

const (
	maxBodyBytes        = 1 << 20 // 1 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	idleTimeout         = 120 * time.Second

	serviceName = "claude-code-proxy"
)

type Server struct {
	cfg      config.Config
	resolver *modelmap.Resolver
	upstream *upstream.Client
	metrics  *metrics.Metrics
	app      *echo.Echo
	address  string
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, resolver *modelmap.Resolver, client *upstream.Client, m *metrics.Metrics) (*Server, error) {
	if resolver == nil {
		return nil, errors.New("resolver must not be nil")
	}
	if client == nil {
		return nil, errors.New("upstream client must not be nil")
	}
	if m == nil {
		return nil, errors.New("metrics must not be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = anthropicErrorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"error", v.Error,
			)
			return nil
		},
	}))

	srv := &Server{
		cfg:      cfg,
		resolver: resolver,
		upstream: client,
		metrics:  m,
		app:      e,
		address:  fmt.Sprintf(":%d", cfg.Port),
	}

	srv.registerRoutes()

	return srv, nil
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	printStartupBanner(s.cfg)
	slog.Info("starting server", "addr", s.address)

	httpServer := &http.Server{
		Addr:        s.address,
		Handler:     s.app,
		ReadTimeout: readTimeout,
		IdleTimeout: idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		slog.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

// Handler exposes the HTTP handler for tests.
func (s *Server) Handler() http.Handler {
	return s.app
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)
	s.app.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})))
	s.app.POST("/v1/messages", s.handleMessages)
	s.app.POST("/anthropic/v1/messages", s.handleMessages)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": serviceName,
	})
}

// handleMessages is the dispatcher: validate, translate, call upstream, then
// branch on the inbound stream flag to pick the response path.
func (s *Server) handleMessages(c echo.Context) error {
	var req translator.MessageRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	if !req.HasMessages() {
		return requestError{
			Status:  http.StatusBadRequest,
			Type:    "invalid_request_error",
			Message: "Missing required field: messages",
		}
	}

	chatReq := translator.TranslateRequest(req, s.resolver)
	slog.Debug("translated request",
		"model", req.EchoModel(),
		"upstream_model", chatReq.Model,
		"stream", req.WantsStream(),
		"messages", len(chatReq.Messages),
	)

	mode := metrics.ModeSync
	if req.WantsStream() {
		mode = metrics.ModeStream
	}

	// Streaming keeps the upstream call open well past the dial; the fixed
	// deadline applies to synchronous calls only.
	ctx := c.Request().Context()
	if !req.WantsStream() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.upstream.Timeout())
		defer cancel()
	}

	resp, err := s.upstream.ChatCompletion(ctx, chatReq)
	if err != nil {
		s.metrics.ObserveRequest(mode, metrics.OutcomeError)
		var apiErr *upstream.APIError
		if errors.As(err, &apiErr) {
			s.metrics.ObserveUpstreamError(apiErr.StatusCode)
		}
		slog.Error("upstream call failed", "err", err)
		return translateError(err)
	}

	if req.WantsStream() {
		return s.writeMessageStream(c, resp.Body, req.EchoModel())
	}

	defer resp.Body.Close()

	upstreamResp, err := translator.DecodeResponse(resp.Body)
	if err != nil {
		s.metrics.ObserveRequest(mode, metrics.OutcomeError)
		slog.Error("upstream response unusable", "err", err)
		return translateError(err)
	}

	msg, err := translator.TranslateResponse(upstreamResp, req.EchoModel())
	if err != nil {
		s.metrics.ObserveRequest(mode, metrics.OutcomeError)
		slog.Error("upstream response unusable", "err", err)
		return translateError(err)
	}

	s.metrics.ObserveRequest(mode, metrics.OutcomeOK)
	return c.JSON(http.StatusOK, msg)
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError{
				Status:  http.StatusBadRequest,
				Type:    "invalid_request_error",
				Message: "request body is required",
			}
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Type:    "invalid_request_error",
			Message: fmt.Sprintf("invalid JSON payload: %v", err),
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Type:    "invalid_request_error",
			Message: "request body must contain a single JSON object",
		}
	}
	return nil
}

type requestError struct {
	Status  int
	Type    string
	Message string
}

func (e requestError) Error() string {
	return e.Message
}

type errorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(c echo.Context, status int, errType, message string) error {
	var payload errorBody
	payload.Error.Type = errType
	payload.Error.Message = message
	return c.JSON(status, payload)
}

// anthropicErrorHandler is the outermost boundary: every error leaving a
// handler, including recovered panics, becomes an Anthropic-style error body.
func anthropicErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = writeError(c, reqErr.Status, reqErr.Type, reqErr.Message)
		return
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		_ = writeError(c, httpErr.Code, "invalid_request_error", fmt.Sprintf("%v", httpErr.Message))
		return
	}

	_ = writeError(c, http.StatusInternalServerError, "internal_error",
		fmt.Sprintf("Internal server error: %v", err))
}

// translateError maps failure kinds onto HTTP statuses: upstream statuses
// are forwarded, embedded payload errors report 400, unusable payloads
// report 500, everything else is internal.
func translateError(err error) error {
	var apiErr *upstream.APIError
	if errors.As(err, &apiErr) {
		return requestError{
			Status:  apiErr.StatusCode,
			Type:    apiErr.Type,
			Message: apiErr.Error(),
		}
	}

	var payloadErr *translator.UpstreamPayloadError
	if errors.As(err, &payloadErr) {
		return requestError{
			Status:  http.StatusBadRequest,
			Type:    "api_error",
			Message: payloadErr.Error(),
		}
	}

	var malformedErr *translator.MalformedUpstreamError
	if errors.As(err, &malformedErr) {
		return requestError{
			Status:  http.StatusInternalServerError,
			Type:    "api_error",
			Message: malformedErr.Error(),
		}
	}

	return requestError{
		Status:  http.StatusInternalServerError,
		Type:    "internal_error",
		Message: fmt.Sprintf("Internal server error: %v", err),
	}
}

func printStartupBanner(cfg config.Config) {
	fmt.Println()
	fmt.Println("claude-code-proxy ready")
	fmt.Printf("Listening on http://127.0.0.1:%d\n", cfg.Port)
	fmt.Println("Endpoints:")
	fmt.Println("  GET  /health")
	fmt.Println("  GET  /metrics")
	fmt.Println("  POST /v1/messages")
	fmt.Println("  POST /anthropic/v1/messages")
	fmt.Printf("Default model: %s\n", modelmap.DefaultModel)
	fmt.Printf("Set %s=true for detailed logs.\n\n", config.EnvVerbose)
}
