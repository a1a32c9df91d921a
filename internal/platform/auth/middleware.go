package auth

import (
	"github.com/labstack/echo/v4"
)

// Authenticate returns middleware that resolves the bearer credential into an
// Actor and stores it on the request context. It must run before any
// authorization-dependent middleware or handler; requests without a valid
// credential never reach inner layers.
func Authenticate(resolver *Resolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor, err := resolver.Resolve(
				c.Request().Context(),
				c.Request().Header.Get("Authorization"),
			)
			if err != nil {
				return err
			}

			ctx := ContextWithActor(c.Request().Context(), actor)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
