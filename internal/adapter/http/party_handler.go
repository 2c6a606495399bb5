package http

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"p2plend/internal/usecase/identity"
)

type PartyHandler struct{ resolver *identity.Resolver }

func NewPartyHandler(r *identity.Resolver) *PartyHandler { return &PartyHandler{resolver: r} }

// Register stores the caller's own profile.
func (h *PartyHandler) Register(c echo.Context) error {
	who, err := caller(c)
	if err != nil {
		return writeError(c, err)
	}
	var req identity.RegisterInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}
	if strings.TrimSpace(req.Address) == "" {
		req.Address = who
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "validation failed",
			Details: ToFieldErrors(err),
		})
	}
	if !strings.EqualFold(strings.TrimSpace(req.Address), who) {
		return c.JSON(http.StatusForbidden, ErrorResponse{Error: "a wallet may only register its own profile"})
	}
	p, err := h.resolver.Register(c.Request().Context(), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, identity.ToDTO(p))
}

func (h *PartyHandler) GetParty(c echo.Context) error {
	p, err := h.resolver.Resolve(c.Request().Context(), c.Param("address"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, identity.ToDTO(p))
}
