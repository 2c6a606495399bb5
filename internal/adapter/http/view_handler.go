package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"p2plend/internal/adapter/middleware"
	"p2plend/internal/usecase/matching"
)

type ViewHandler struct{ engine *matching.Engine }

func NewViewHandler(engine *matching.Engine) *ViewHandler { return &ViewHandler{engine: engine} }

type viewResp struct {
	View  matching.View      `json:"view"`
	Count int                `json:"count"`
	Items []matching.Listing `json:"items"`
}

// View serves GET /views/:view. The viewer is optional for the open views.
func (h *ViewHandler) View(c echo.Context) error {
	viewer, err := middleware.CallerWallet(c)
	if err != nil && !errors.Is(err, middleware.ErrMissingWallet) {
		return writeError(c, requestError{http.StatusBadRequest, "invalid " + middleware.HeaderWalletAddress})
	}
	name := matching.View(c.Param("view"))
	items, err := h.engine.View(c.Request().Context(), name, viewer)
	if err != nil {
		return writeError(c, err)
	}
	if items == nil {
		items = []matching.Listing{}
	}
	return c.JSON(http.StatusOK, viewResp{View: name, Count: len(items), Items: items})
}

// Views lists the view names.
func (h *ViewHandler) Views(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"views": matching.Views})
}
