package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/planner/core/auth"
)

// sessionMiddleware only lets through tokens of the current sign-in of the authorized principal.
// Signing out, or signing in again, invalidates every token issued before.
func sessionMiddleware(svc *auth.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if !svc.IsAuthorized(claims.Email) {
				return errHttpForbidden
			}
			current := svc.Current()
			if current == nil || current.Email != claims.Email || current.SignedInAt.UnixNano() != claims.SignedInAt {
				return errSessionEnded
			}
			ctx.Set(contextPrincipalKey, *current)
			return next(ctx)
		}
	}
}

func getContextPrincipal(ctx echo.Context) (auth.Principal, bool) {
	p, ok := ctx.Get(contextPrincipalKey).(auth.Principal)
	return p, ok
}
