package endpoints

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler serves endpoint lookups for launch pages.
type Handler struct {
	dir *Directory
}

// NewHandler creates a new endpoint directory handler.
func NewHandler(dir *Directory) *Handler {
	return &Handler{dir: dir}
}

// RegisterRoutes registers the directory endpoints on the provided group.
//
//	GET /endpoints?q=<label fragment>
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/endpoints", h.Search)
}

// Search handles GET /endpoints. A short or missing query returns an empty
// array rather than an error.
func (h *Handler) Search(c echo.Context) error {
	return c.JSON(http.StatusOK, h.dir.Filter(c.QueryParam("q")))
}
