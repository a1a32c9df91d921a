package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/carebridge/carebridge/internal/platform/audit"
	"github.com/carebridge/carebridge/internal/platform/auth"
	"github.com/carebridge/carebridge/internal/platform/authz"
)

// Operation describes one mediated endpoint: what it does, to which resource
// type, and whether it touches protected health information. The pipeline is
// built from this metadata once, at route registration, not per request.
type Operation struct {
	// Name identifies the operation in the audit trail, e.g. "client.read".
	Name         string
	ResourceType string
	Action       authz.Action
	// ResourceParam is the path parameter carrying the resource identifier,
	// empty for collection operations.
	ResourceParam string
	// PHI marks operations whose responses may carry protected health
	// information; their audit entries are flagged accordingly.
	PHI bool
}

// Compose wraps the handler in the given middleware, first one outermost:
// Compose(h, m1, m2, m3) executes m1 then m2 then m3 then h.
func Compose(h echo.HandlerFunc, mw ...echo.MiddlewareFunc) echo.HandlerFunc {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// Pipeline assembles the per-operation chain from the shared platform pieces.
type Pipeline struct {
	Resolver *auth.Resolver
	Engine   *authz.Engine
	Recorder *audit.Recorder
}

// Endpoint builds the mediated handler for one operation. The order is fixed:
// authentication, then the audit wrap, then authorization, so authorization
// and handler failures complete inside the audit scope while authentication
// failures surface to the error responder.
func (p *Pipeline) Endpoint(op Operation, h echo.HandlerFunc) echo.HandlerFunc {
	return Compose(h,
		auth.Authenticate(p.Resolver),
		Audit(p.Recorder, op),
		Authorize(p.Engine, op),
	)
}
