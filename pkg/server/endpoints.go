package server

import (
	"errors"
	"net/http"
	"strings"

	"convoproxy/pkg/models"
	"convoproxy/pkg/registry"

	"github.com/labstack/echo/v4"
)

// AddEndpointRequest is the body of POST /endpoints.
type AddEndpointRequest struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Weight  *int   `json:"weight"`
}

// ListEndpointsHandler returns all registered endpoints.
func (s *Server) ListEndpointsHandler(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, s.registry.Views())
}

// AddEndpointHandler registers a new endpoint at runtime.
func (s *Server) AddEndpointHandler(ctx echo.Context) error {
	var req AddEndpointRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}

	req.Address = strings.TrimRight(strings.TrimSpace(req.Address), "/")
	if req.ID == "" || req.Address == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{
			"error": "id and address are required",
		})
	}
	if !strings.HasPrefix(req.Address, "http://") && !strings.HasPrefix(req.Address, "https://") {
		return ctx.JSON(http.StatusBadRequest, map[string]string{
			"error": "address must start with http:// or https://",
		})
	}

	weight := 1
	if req.Weight != nil {
		weight = *req.Weight
	}
	if weight < 0 {
		return ctx.JSON(http.StatusBadRequest, map[string]string{
			"error": "weight must be >= 0",
		})
	}

	ep := models.NewEndpoint(req.ID, req.Address, weight)
	if err := s.registry.Add(ep); err != nil {
		if errors.Is(err, registry.ErrDuplicateEndpoint) {
			return ctx.JSON(http.StatusConflict, map[string]string{
				"error": "endpoint already registered: " + req.ID,
			})
		}
		return ctx.JSON(http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
	}

	return ctx.JSON(http.StatusCreated, ep.View())
}

// RemoveEndpointHandler deregisters an endpoint. Removal is
// idempotent: an unknown identifier still answers 204.
func (s *Server) RemoveEndpointHandler(ctx echo.Context) error {
	id := ctx.Param("id")
	s.registry.Remove(id)
	s.collector.Forget(id)
	return ctx.NoContent(http.StatusNoContent)
}
