package client

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carebridge/carebridge/internal/platform/authz"
	"github.com/carebridge/carebridge/internal/platform/errs"
	"github.com/carebridge/carebridge/internal/platform/middleware"
	"github.com/carebridge/carebridge/pkg/pagination"
)

// Handler provides HTTP handlers for the client domain.
type Handler struct {
	svc *Service
}

// NewHandler creates a new client domain handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers the client routes, each wrapped in the mediation
// pipeline built once per operation.
func (h *Handler) RegisterRoutes(api *echo.Group, p *middleware.Pipeline) {
	api.GET("/clients", p.Endpoint(middleware.Operation{
		Name: "client.list", ResourceType: "Client", Action: authz.ActionSearch, PHI: true,
	}, h.List))
	api.POST("/clients", p.Endpoint(middleware.Operation{
		Name: "client.create", ResourceType: "Client", Action: authz.ActionCreate, PHI: true,
	}, h.Create))
	api.GET("/clients/search", p.Endpoint(middleware.Operation{
		Name: "client.search_ssn", ResourceType: "Client", Action: authz.ActionSearch, PHI: true,
	}, h.FindBySSN))
	api.GET("/clients/:id", p.Endpoint(middleware.Operation{
		Name: "client.read", ResourceType: "Client", Action: authz.ActionRead,
		ResourceParam: "id", PHI: true,
	}, h.Get))
	api.PUT("/clients/:id", p.Endpoint(middleware.Operation{
		Name: "client.update", ResourceType: "Client", Action: authz.ActionUpdate,
		ResourceParam: "id", PHI: true,
	}, h.Update))
	api.DELETE("/clients/:id", p.Endpoint(middleware.Operation{
		Name: "client.delete", ResourceType: "Client", Action: authz.ActionDelete,
		ResourceParam: "id",
	}, h.Delete))
	api.GET("/clients/:id/ssn", p.Endpoint(middleware.Operation{
		Name: "client.reveal_ssn", ResourceType: "Client", Action: authz.ActionRead,
		ResourceParam: "id", PHI: true,
	}, h.RevealSSN))

	api.GET("/clients/:id/guardians", p.Endpoint(middleware.Operation{
		Name: "client.guardians.list", ResourceType: "Client", Action: authz.ActionRead,
		ResourceParam: "id",
	}, h.ListGuardians))
	api.POST("/clients/:id/guardians", p.Endpoint(middleware.Operation{
		Name: "client.guardians.link", ResourceType: "Client", Action: authz.ActionUpdate,
		ResourceParam: "id",
	}, h.LinkGuardian))
	api.DELETE("/clients/:id/guardians/:linkId", p.Endpoint(middleware.Operation{
		Name: "client.guardians.revoke", ResourceType: "Client", Action: authz.ActionUpdate,
		ResourceParam: "id",
	}, h.RevokeGuardian))
}

func (h *Handler) Create(c echo.Context) error {
	var in Client
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

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	views, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(views, total, pg.Limit, pg.Offset))
}

func (h *Handler) Update(c echo.Context) error {
	id, err := parseID(c.Param("id"))
	if err != nil {
		return err
	}
	var in Client
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

func (h *Handler) FindBySSN(c echo.Context) error {
	ssn := c.QueryParam("ssn")
	if ssn == "" {
		return errs.Validation("ssn query parameter is required", map[string]string{"ssn": "required"})
	}
	view, err := h.svc.FindBySSN(c.Request().Context(), ssn)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) RevealSSN(c echo.Context) error {
	id, err := parseID(c.Param("id"))
	if err != nil {
		return err
	}
	ssn, err := h.svc.RevealSSN(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"ssn": ssn})
}

func (h *Handler) ListGuardians(c echo.Context) error {
	id, err := parseID(c.Param("id"))
	if err != nil {
		return err
	}
	links, err := h.svc.ListGuardianLinks(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, links)
}

func (h *Handler) LinkGuardian(c echo.Context) error {
	id, err := parseID(c.Param("id"))
	if err != nil {
		return err
	}
	var link GuardianLink
	if err := c.Bind(&link); err != nil {
		return errs.Validation("malformed request body", nil)
	}
	link.ClientID = id
	if err := h.svc.LinkGuardian(c.Request().Context(), &link); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, link)
}

func (h *Handler) RevokeGuardian(c echo.Context) error {
	linkID, err := uuid.Parse(c.Param("linkId"))
	if err != nil {
		return errs.Validation("invalid link id", map[string]string{"linkId": "must be a UUID"})
	}
	if err := h.svc.RevokeGuardianLink(c.Request().Context(), linkID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errs.Validation("invalid id", map[string]string{"id": "must be a UUID"})
	}
	return id, nil
}
