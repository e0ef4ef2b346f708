package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// TokenHeader carries the long-term token on every protected request.
const TokenHeader = "X-Long-Term-Token"

// identityKey is the echo context key for the authenticated identity.
const identityKey = "authenticated_identity"

// IdentityFrom returns the identity set by Middleware, if any.
func IdentityFrom(c echo.Context) (Identity, bool) {
	id, ok := c.Get(identityKey).(Identity)
	return id, ok
}

// Middleware returns an echo middleware that validates the long-term token
// before any handler runs. Paths in skip bypass validation entirely.
//
// A failure here short-circuits the request: no algorithm parsing and no
// store operation happens for an unauthenticated caller. Responses are
// 401 with a structured error body for every failure class; the body
// message distinguishes the classes for legitimate clients.
func Middleware(svc *Service, logger *zap.Logger, skip ...string) echo.MiddlewareFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	skipped := make(map[string]bool, len(skip))
	for _, path := range skip {
		skipped[path] = true
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipped[c.Path()] {
				return next(c)
			}

			identity, err := svc.Validate(c.Request().Header.Get(TokenHeader))
			if err != nil {
				logger.Warn("request rejected",
					zap.String("path", c.Path()),
					zap.Error(err),
				)
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"status":  "error",
					"message": err.Error(),
				})
			}

			c.Set(identityKey, identity)
			return next(c)
		}
	}
}
