package server

import (
	"crypto/hmac"
	"net/http"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// openPaths are reachable without the API key.
var openPaths = map[string]bool{
	"/healthz": true,
	"/metrics": true,
}

// apiKeyMiddleware requires the shared key in the x-api-key header on
// every route except the open ones. Comparison is constant-time. An
// empty configured key disables the check.
func apiKeyMiddleware(key string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if key == "" || openPaths[ctx.Path()] {
				return next(ctx)
			}
			presented := ctx.Request().Header.Get("x-api-key")
			if presented == "" || !hmac.Equal([]byte(presented), []byte(key)) {
				return ctx.JSON(http.StatusUnauthorized, map[string]string{
					"error": "missing or invalid API key",
				})
			}
			return next(ctx)
		}
	}
}

// rateLimitMiddleware applies a process-wide token bucket to inbound
// traffic. A non-positive rate disables limiting.
func rateLimitMiddleware(rps float64, burst int) echo.MiddlewareFunc {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if rps <= 0 {
				return next(ctx)
			}
			if !limiter.Allow() {
				return ctx.JSON(http.StatusTooManyRequests, map[string]string{
					"error": "rate limit exceeded",
				})
			}
			return next(ctx)
		}
	}
}
