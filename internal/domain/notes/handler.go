package notes

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/notes/internal/platform/fhir"
	"github.com/ehr/notes/pkg/pagination"
)

var resourceTypePattern = regexp.MustCompile(`^[A-Z][A-Za-z]+$`)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/resources/:type", h.ListResources)
	api.GET("/documents/:id", h.GetDocument)
	api.GET("/documents/:id/attachments", h.ListAttachments)
	api.GET("/documents/:id/render", h.RenderDocument)
}

// ListResources searches the FHIR server and returns one page of summaries.
// Query parameters: encounter, filter, _count, _offset.
func (h *Handler) ListResources(c echo.Context) error {
	resourceType := c.Param("type")
	if !resourceTypePattern.MatchString(resourceType) {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(fhir.IssueTypeProcessing, "invalid resource type: "+resourceType))
	}

	q := fhir.ResourceQuery{
		ResourceType: resourceType,
		Filter:       c.QueryParam("filter"),
		Encounter:    strings.TrimSpace(c.QueryParam("encounter")),
	}
	items, err := h.svc.ListResources(c.Request().Context(), q)
	if err != nil {
		return errorResponse(c, err)
	}

	pg := pagination.FromContext(c)
	window := pagination.Slice(items, pg)
	summaries := make([]ResourceSummary, len(window))
	for i, r := range window {
		summaries[i] = Summarize(r)
	}
	links := pg.Links(c.Request().URL.Path, c.QueryParams(), len(items))
	return c.JSON(http.StatusOK, pagination.NewResponse(summaries, len(items), pg).WithLinks(links))
}

func (h *Handler) GetDocument(c echo.Context) error {
	r, err := h.svc.GetDocument(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ListAttachments(c echo.Context) error {
	candidates, err := h.svc.Candidates(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, candidates)
}

// RenderDocument returns the rendered markup as text/html, or as JSON when
// the client asks for application/json.
func (h *Handler) RenderDocument(c echo.Context) error {
	doc, err := h.svc.RenderDocument(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	if strings.Contains(c.Request().Header.Get(echo.HeaderAccept), echo.MIMEApplicationJSON) {
		return c.JSON(http.StatusOK, doc)
	}
	c.Response().Header().Set("X-Source-Content-Type", doc.SourceContentType)
	return c.HTML(http.StatusOK, doc.Markup)
}

// errorResponse maps pipeline errors onto an HTTP status and an
// OperationOutcome body.
func errorResponse(c echo.Context, err error) error {
	status, code := http.StatusInternalServerError, fhir.IssueTypeException
	var fe *fhir.FetchError

	switch {
	case errors.Is(err, fhir.ErrNoData):
		status, code = http.StatusNotFound, fhir.IssueTypeNotFound
	case errors.Is(err, ErrNoRenderableAttachment):
		status, code = http.StatusUnprocessableEntity, fhir.IssueTypeNotSupported
	case errors.Is(err, ErrUnsupportedContentType):
		status, code = http.StatusInternalServerError, fhir.IssueTypeException
	case errors.Is(err, ErrAttachmentResolution):
		status, code = http.StatusBadGateway, fhir.IssueTypeProcessing
	case errors.Is(err, ErrConversionFailed):
		status, code = http.StatusBadGateway, fhir.IssueTypeException
	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, fhir.IssueTypeTimeout
	case errors.As(err, &fe):
		status, code = http.StatusBadGateway, fhir.IssueTypeTransient
		if fe.StatusCode == http.StatusNotFound || fe.StatusCode == http.StatusGone {
			status, code = http.StatusNotFound, fhir.IssueTypeNotFound
		}
	}
	return c.JSON(status, fhir.ErrorOutcome(code, err.Error()))
}
