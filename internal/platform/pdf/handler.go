package pdf

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// maxRequestSize bounds the base64 body accepted by POST /pdf.
const maxRequestSize = 48 << 20

// Handler exposes the local converter over HTTP so that other readers can
// use it as their conversion endpoint.
type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

// NewHandler creates a PDF conversion handler.
func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes registers the conversion endpoint.
//
//	POST /pdf - base64 PDF in, text/html out
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/pdf", h.Convert)
}

// Convert handles POST /pdf.
func (h *Handler) Convert(c echo.Context) error {
	body := io.LimitReader(c.Request().Body, maxRequestSize)
	html, err := h.svc.ConvertToHTML(c.Request().Context(), body)
	if err != nil {
		if errors.Is(err, ErrEmptyInput) {
			return c.String(http.StatusBadRequest, err.Error())
		}
		h.logger.Error().Err(err).Msg("pdf conversion failed")
		return c.String(http.StatusInternalServerError, "pdf conversion failed")
	}
	return c.HTMLBlob(http.StatusOK, html)
}
