package server

import (
	"errors"
	"io"
	"net/http"

	"convoproxy/pkg/balancer"
	"convoproxy/pkg/log"

	"github.com/labstack/echo/v4"
)

// routeKeyHeader carries the optional affinity key, e.g. a
// conversation identifier that should keep hitting the same endpoint.
const routeKeyHeader = "X-Route-Key"

// hop-by-hop and boundary headers that must not be forwarded upstream.
var skipHeaders = map[string]bool{
	"Connection": true,
	"Keep-Alive": true,
	"X-Api-Key":  true,
}

// ProxyHandler forwards the inbound request to the endpoint chosen by
// the selection policy and relays the upstream response verbatim.
// Upstream application errors pass through untouched; only transport
// failures are translated, into 503.
func (s *Server) ProxyHandler(ctx echo.Context) error {
	inbound := ctx.Request()

	body, err := io.ReadAll(inbound.Body)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
	}

	header := make(http.Header, len(inbound.Header))
	for name, values := range inbound.Header {
		if skipHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		header[name] = values
	}

	result, err := s.dispatcher.Dispatch(inbound.Context(), &balancer.Request{
		Method:   inbound.Method,
		Path:     inbound.URL.Path,
		RawQuery: inbound.URL.RawQuery,
		Header:   header,
		Body:     body,
		RouteKey: inbound.Header.Get(routeKeyHeader),
	})
	if err != nil {
		var dispErr *balancer.DispatchError
		if errors.As(err, &dispErr) {
			log.Warn().
				Str("kind", dispErr.Kind.String()).
				Str("path", inbound.URL.Path).
				Msg("Dispatch failed")
		}
		return ctx.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "no backend could serve the request",
		})
	}

	log.Debug().
		Str("endpoint", result.EndpointID).
		Str("strategy", result.Decision.Strategy).
		Int("status", result.StatusCode).
		Int("attempts", result.Attempts).
		Msg("Request proxied")

	for name, values := range result.Header {
		// Blob sets Content-Type itself; Content-Length changes with relaying
		if name == echo.HeaderContentType || name == echo.HeaderContentLength {
			continue
		}
		for _, v := range values {
			ctx.Response().Header().Add(name, v)
		}
	}
	return ctx.Blob(result.StatusCode, result.Header.Get(echo.HeaderContentType), result.Body)
}
