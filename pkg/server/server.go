// Package server exposes the balancer over HTTP: the proxy surface
// that forwards conversation traffic to the selected endpoint, plus
// the health, status, endpoint-administration and metrics routes.
package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"convoproxy/pkg/balancer"
	"convoproxy/pkg/health"
	"convoproxy/pkg/log"
	"convoproxy/pkg/metrics"
	"convoproxy/pkg/registry"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 10 * time.Second

// Server is the HTTP front of the balancer.
type Server struct {
	echo       *echo.Echo
	registry   *registry.Registry
	monitor    *health.Monitor
	collector  *metrics.Collector
	dispatcher *balancer.Dispatcher
	selector   *balancer.Selector
}

// Options carry the service-boundary settings.
type Options struct {
	APIKey         string
	RateLimitRPS   float64
	RateLimitBurst int
	PromGatherer   prometheus.Gatherer
}

// New wires the server over an assembled balancer core.
func New(reg *registry.Registry, monitor *health.Monitor, collector *metrics.Collector,
	selector *balancer.Selector, dispatcher *balancer.Dispatcher, opts Options) *Server {

	s := &Server{
		echo:       echo.New(),
		registry:   reg,
		monitor:    monitor,
		collector:  collector,
		dispatcher: dispatcher,
		selector:   selector,
	}
	s.setupRoutes(opts)
	return s
}

// Start runs the monitor, the metrics collector and the HTTP listener,
// then blocks until an interrupt triggers graceful shutdown.
func (s *Server) Start(addr string) error {
	s.collector.Start()
	s.monitor.Start()

	go func() {
		log.Info().Str("addr", addr).Msg("Starting conversation balancer")
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	return s.Shutdown()
}

// Shutdown stops the listener, the monitor and the collector.
func (s *Server) Shutdown() error {
	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := s.echo.Shutdown(ctx)
	s.monitor.Stop()
	s.collector.Stop()
	return err
}

func (s *Server) setupRoutes(opts Options) {
	s.echo.HideBanner = true
	s.echo.HidePort = true

	s.echo.Use(middleware.Recover())
	s.echo.Use(rateLimitMiddleware(opts.RateLimitRPS, opts.RateLimitBurst))
	s.echo.Use(apiKeyMiddleware(opts.APIKey))

	s.echo.GET("/healthz", s.HealthzHandler)
	if opts.PromGatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(
			promhttp.HandlerFor(opts.PromGatherer, promhttp.HandlerOpts{})))
	}

	s.echo.GET("/status", s.StatusHandler)
	s.echo.GET("/endpoints", s.ListEndpointsHandler)
	s.echo.POST("/endpoints", s.AddEndpointHandler)
	s.echo.DELETE("/endpoints/:id", s.RemoveEndpointHandler)

	s.echo.Any("/*", s.ProxyHandler)
}

// HealthzHandler reports service liveness.
func (s *Server) HealthzHandler(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]bool{"ok": true})
}
