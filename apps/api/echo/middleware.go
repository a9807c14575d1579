package echoapi

import (
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

// adminMiddleware only lets admins through.
func adminMiddleware() echo.MiddlewareFunc {
	return roleMiddleware()
}

// roleMiddleware lets admins through, plus any user whose roles match
// one of the given prefixes.
func roleMiddleware(rolePrefixes ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.IsAdmin || claimsHaveAnyRolePrefix(claims, rolePrefixes) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

func claimsHaveAnyRolePrefix(claims Claims, prefixes []string) bool {
	for _, prefix := range prefixes {
		for _, role := range claims.Roles {
			if strings.HasPrefix(role, prefix) {
				return true
			}
		}
	}
	return false
}
