package record

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carebridge/carebridge/internal/platform/authz"
	"github.com/carebridge/carebridge/internal/platform/errs"
	"github.com/carebridge/carebridge/internal/platform/middleware"
	"github.com/carebridge/carebridge/pkg/pagination"
)

// Handler provides HTTP handlers for the clinical record domain.
type Handler struct {
	svc *Service
}

// NewHandler creates a new clinical record handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers the clinical record routes. Listing hangs off the
// owning client so the ownership and delegation exceptions apply to it.
func (h *Handler) RegisterRoutes(api *echo.Group, p *middleware.Pipeline) {
	api.GET("/clients/:id/records", p.Endpoint(middleware.Operation{
		Name: "record.list", ResourceType: "Client", Action: authz.ActionRead,
		ResourceParam: "id", PHI: true,
	}, h.ListByClient))

	api.POST("/records", p.Endpoint(middleware.Operation{
		Name: "record.create", ResourceType: "ClinicalRecord", Action: authz.ActionCreate, PHI: true,
	}, h.Create))
	api.GET("/records/:id", p.Endpoint(middleware.Operation{
		Name: "record.read", ResourceType: "ClinicalRecord", Action: authz.ActionRead,
		ResourceParam: "id", PHI: true,
	}, h.Get))
	api.PUT("/records/:id", p.Endpoint(middleware.Operation{
		Name: "record.update", ResourceType: "ClinicalRecord", Action: authz.ActionUpdate,
		ResourceParam: "id", PHI: true,
	}, h.Update))
	api.DELETE("/records/:id", p.Endpoint(middleware.Operation{
		Name: "record.delete", ResourceType: "ClinicalRecord", Action: authz.ActionDelete,
		ResourceParam: "id",
	}, h.Delete))
	api.GET("/records/:id/history", p.Endpoint(middleware.Operation{
		Name: "record.history", ResourceType: "ClinicalRecord", Action: authz.ActionRead,
		ResourceParam: "id",
	}, h.History))
}

func (h *Handler) Create(c echo.Context) error {
	var in Record
	if err := c.Bind(&in); err != nil {
		return errs.Validation("malformed request body", nil)
	}
	view, err := h.svc.Create(c.Request().Context(), &in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, view)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c.Param("id"))
	if err != nil {
		return err
	}
	view, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := parseID(c.Param("id"))
	if err != nil {
		return err
	}
	var in Record
	if err := c.Bind(&in); err != nil {
		return errs.Validation("malformed request body", nil)
	}
	in.ID = id
	view, err := h.svc.Update(c.Request().Context(), &in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := parseID(c.Param("id"))
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListByClient(c echo.Context) error {
	clientID, err := parseID(c.Param("id"))
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	views, total, err := h.svc.ListByClient(c.Request().Context(), clientID, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(views, total, pg.Limit, pg.Offset))
}

func (h *Handler) History(c echo.Context) error {
	id, err := parseID(c.Param("id"))
	if err != nil {
		return err
	}
	revs, err := h.svc.History(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, revs)
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errs.Validation("invalid id", map[string]string{"id": "must be a UUID"})
	}
	return id, nil
}
