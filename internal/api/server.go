package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/go-github/v68/github"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autodev/internal/config"
	"github.com/autodev/internal/dispatch"
)

// EventHandler acts on a verified, parsed delivery. *dispatch.Dispatcher
// implements it.
type EventHandler interface {
	Handle(ctx context.Context, eventName string, payload interface{}, deliveryID string) (dispatch.Decision, error)
}

// Server represents the webhook server
type Server struct {
	echo     *echo.Echo
	addr     string
	secret   config.Secret
	maxBody  int64
	handler  EventHandler
	limiters *ipLimiters
	logger   zerolog.Logger
}

// NewServer creates a new webhook server. gatherer may be nil to omit /metrics.
func NewServer(cfg *config.Config, handler EventHandler, gatherer prometheus.Gatherer) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.Server.ReadTimeout

	logger := log.With().Str("component", "api").Logger()

	// Middleware
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))
	e.Use(middleware.Recover())

	maxBody := cfg.Server.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}

	server := &Server{
		echo:     e,
		addr:     cfg.Server.Addr,
		secret:   cfg.GitHub.WebhookSecret,
		maxBody:  maxBody,
		handler:  handler,
		limiters: newIPLimiters(cfg.Server.RateLimit, cfg.Server.RateBurst),
		logger:   logger,
	}

	// Setup routes
	server.setupRoutes(gatherer)

	return server
}

// setupRoutes configures all endpoints
func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	// Health check endpoint
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	s.echo.POST("/webhook", s.handleWebhook)

	if gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}

// ServeHTTP lets tests drive the router directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("Webhook server listening")
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Shutting down webhook server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(shutdownCtx)
}

func (s *Server) handleWebhook(c echo.Context) error {
	ip := c.RealIP()
	if !s.limiters.get(ip).Allow() {
		s.logger.Warn().Str("ip", ip).Msg("Rate limit exceeded")
		return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
	}

	r := c.Request()
	r.Body = http.MaxBytesReader(c.Response(), r.Body, s.maxBody)

	payload, err := github.ValidatePayload(r, []byte(s.secret.Value()))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "payload too large"})
		}
		s.logger.Warn().Err(err).Str("ip", ip).Msg("Invalid webhook signature")
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
	}

	eventName := github.WebHookType(r)
	deliveryID := github.DeliveryID(r)
	if github.EventForType(eventName) == nil {
		s.logger.Debug().Str("event", eventName).Msg("Ignoring unknown event type")
		return c.JSON(http.StatusOK, map[string]string{"status": string(dispatch.StatusIgnored)})
	}

	event, err := github.ParseWebHook(eventName, payload)
	if err != nil {
		s.logger.Warn().Err(err).Str("event", eventName).Msg("Failed to parse webhook")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}

	dec, err := s.handler.Handle(r.Context(), eventName, event, deliveryID)
	switch {
	case errors.Is(err, dispatch.ErrAuth):
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "auth failed"})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "launch failed"})
	case dec.Status == dispatch.StatusIgnored:
		return c.JSON(http.StatusOK, map[string]string{"status": string(dispatch.StatusIgnored)})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status":  string(dispatch.StatusAccepted),
		"role":    string(dec.Role),
		"task_id": dec.TaskID,
	})
}
