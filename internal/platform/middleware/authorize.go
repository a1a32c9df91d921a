package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/carebridge/carebridge/internal/platform/auth"
	"github.com/carebridge/carebridge/internal/platform/authz"
)

// Authorize returns middleware that runs the access decision for the
// operation before the handler executes. It must sit inside Authenticate.
func Authorize(engine *authz.Engine, op Operation) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			actor := auth.ActorFromContext(ctx)

			ref := authz.Ref{ResourceType: op.ResourceType}
			if op.ResourceParam != "" {
				ref.ResourceID = c.Param(op.ResourceParam)
			}

			if err := engine.Authorize(ctx, actor, op.Action, ref); err != nil {
				return err
			}
			return next(c)
		}
	}
}
