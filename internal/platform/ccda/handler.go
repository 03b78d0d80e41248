package ccda

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

// maxDocumentSize bounds request bodies for the CDA endpoints.
const maxDocumentSize = 20 << 20

// Handler provides HTTP endpoints for CDA rendering and parsing.
type Handler struct {
	renderer *Renderer
}

// NewHandler creates a new CDA handler.
func NewHandler(renderer *Renderer) *Handler {
	return &Handler{renderer: renderer}
}

// RegisterRoutes registers CDA endpoints on the provided route group.
//
//	POST /api/v1/ccda/render - Render a CDA document to HTML
//	POST /api/v1/ccda/parse  - Return the document header and sections as JSON
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/ccda/render", h.Render)
	g.POST("/ccda/parse", h.Parse)
}

// Render handles POST /api/v1/ccda/render.
func (h *Handler) Render(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
	}

	out, err := h.renderer.Transform(c.Request().Context(), body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to render CDA: " + err.Error(),
		})
	}
	return c.HTML(http.StatusOK, out)
}

// Parse handles POST /api/v1/ccda/parse.
func (h *Handler) Parse(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
	}

	parsed, err := h.renderer.Parser().Parse(body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to parse CDA: " + err.Error(),
		})
	}
	return c.JSON(http.StatusOK, parsed)
}

func readBody(c echo.Context) ([]byte, error) {
	return io.ReadAll(io.LimitReader(c.Request().Body, maxDocumentSize))
}
