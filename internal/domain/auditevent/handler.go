package auditevent

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/carebridge/carebridge/internal/platform/authz"
	"github.com/carebridge/carebridge/internal/platform/middleware"
)

// Handler provides the admin-only audit trail query endpoint.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group, p *middleware.Pipeline) {
	api.GET("/audit-entries", p.Endpoint(middleware.Operation{
		Name: "audit.search", ResourceType: "AuditEntry", Action: authz.ActionSearch,
	}, h.Search))
}

func (h *Handler) Search(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	f := Filter{
		ActorID:      c.QueryParam("actor_id"),
		ResourceType: c.QueryParam("resource_type"),
		ResourceID:   c.QueryParam("resource_id"),
		PHIOnly:      c.QueryParam("phi_only") == "true",
		Outcome:      c.QueryParam("outcome"),
		From:         c.QueryParam("from"),
		To:           c.QueryParam("to"),
		Cursor:       c.QueryParam("cursor"),
		Limit:        limit,
	}

	page, err := h.svc.Search(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"entries":     page.Entries,
		"next_cursor": page.NextCursor,
	})
}
