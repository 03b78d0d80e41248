package ccda

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestHandler(t *testing.T) (*Handler, *echo.Echo) {
	t.Helper()
	return NewHandler(newTestRenderer(t)), echo.New()
}

func TestHandler_Render_Success(t *testing.T) {
	h, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ccda/render", strings.NewReader(sampleCCD))
	req.Header.Set("Content-Type", "application/xml")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Render(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Errorf("expected text/html, got %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "John Q Doe Jr") {
		t.Error("expected patient name in response body")
	}
}

func TestHandler_Render_InvalidXML(t *testing.T) {
	h, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ccda/render", strings.NewReader("not xml"))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Render(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_Parse_Success(t *testing.T) {
	h, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ccda/parse", strings.NewReader(sampleCCD))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Parse(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse response JSON: %v", err)
	}
	if result["title"] != "Continuity of Care Document" {
		t.Errorf("unexpected title %v", result["title"])
	}
	patient, ok := result["patient"].(map[string]interface{})
	if !ok || patient["name"] != "John Q Doe Jr" {
		t.Errorf("unexpected patient %v", result["patient"])
	}
	sections, ok := result["sections"].([]interface{})
	if !ok || len(sections) != 2 {
		t.Errorf("expected 2 sections, got %v", result["sections"])
	}
}

func TestHandler_Parse_EmptyBody(t *testing.T) {
	h, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ccda/parse", strings.NewReader(""))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Parse(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	var result map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse response JSON: %v", err)
	}
	if !strings.Contains(result["error"], "empty") {
		t.Errorf("unexpected error message %q", result["error"])
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, e := newTestHandler(t)
	h.RegisterRoutes(e.Group("/api/v1"))

	routes := map[string]bool{}
	for _, r := range e.Routes() {
		routes[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{"POST /api/v1/ccda/render", "POST /api/v1/ccda/parse"} {
		if !routes[want] {
			t.Errorf("expected route %s", want)
		}
	}
}
