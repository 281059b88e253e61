package server

import (
	"net/http"

	"convoproxy/pkg/metrics"
	"convoproxy/pkg/models"

	"github.com/labstack/echo/v4"
)

// StatusResponse is the balancer snapshot returned by /status.
type StatusResponse struct {
	Strategy  string                           `json:"strategy"`
	Endpoints []models.EndpointView            `json:"endpoints"`
	Window    map[string]metrics.EndpointStats `json:"window"`
}

// StatusHandler returns a read-only snapshot of the pool and the
// metrics window.
func (s *Server) StatusHandler(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, StatusResponse{
		Strategy:  s.selector.Strategy().Name(),
		Endpoints: s.registry.Views(),
		Window:    s.collector.Snapshot(),
	})
}
