package integration

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/notes/internal/domain/notes"
	"github.com/ehr/notes/internal/platform/ccda"
	"github.com/ehr/notes/internal/platform/fhir"
	"github.com/ehr/notes/internal/platform/rendercache"
)

const visitCDA = `<?xml version="1.0"?>
<ClinicalDocument xmlns="urn:hl7-org:v3">
  <title>Progress Note</title>
  <effectiveTime value="20240102"/>
  <component><structuredBody>
    <component><section>
      <title>Assessment</title>
      <text><paragraph>Improving.</paragraph></text>
    </section></component>
  </structuredBody></component>
</ClinicalDocument>`

// fhirServer serves one encounter's notes. The CDA note lives in a Binary.
func fhirServer(t *testing.T, binaryHits *int32) *httptest.Server {
	t.Helper()
	cda := base64.StdEncoding.EncodeToString([]byte(visitCDA))

	mux := http.NewServeMux()
	mux.HandleFunc("/DocumentReference", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/fhir+json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"resourceType": "Bundle",
			"type":         "searchset",
			"entry": []map[string]interface{}{
				{"resource": map[string]interface{}{
					"resourceType": "DocumentReference", "id": "n1",
					"date":    "2024-01-02T10:00:00Z",
					"type":    map[string]interface{}{"text": "Progress Note"},
					"context": map[string]interface{}{"encounter": []map[string]interface{}{{"reference": "Encounter/e1"}}},
				}},
			},
		})
	})
	mux.HandleFunc("/DocumentReference/n1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/fhir+json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"resourceType": "DocumentReference", "id": "n1",
			"content": []map[string]interface{}{
				{"attachment": map[string]interface{}{"contentType": "application/pdf", "url": "Binary/pdf1"}},
				{
					"attachment": map[string]interface{}{"contentType": "application/xml", "url": "Binary/cda1"},
					"format":     map[string]interface{}{"code": "urn:hl7-org:sdwg:ccda-structuredBody:2.1"},
				},
			},
		})
	})
	mux.HandleFunc("/Binary/cda1", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(binaryHits, 1)
		w.Header().Set("Content-Type", "application/fhir+json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"resourceType": "Binary", "contentType": "application/xml", "data": cda,
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestPipeline_RenderCDANoteWithPostgresCache(t *testing.T) {
	ctx := context.Background()
	resetCache(t, ctx)

	var binaryHits int32
	srv := fhirServer(t, &binaryHits)

	client, err := fhir.NewClient(srv.URL, fhir.WithHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	cda, err := ccda.NewRenderer()
	if err != nil {
		t.Fatalf("new ccda renderer: %v", err)
	}
	pg := rendercache.NewPGStore(globalDB.Pool, time.Hour)
	if err := pg.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	logger := zerolog.Nop()
	fetcher := fhir.NewFetcher(client, fhir.BackendGeneric, logger)
	svc := notes.NewService(fetcher, notes.NewRenderer(client, cda, nil, logger), pg, logger)

	docs, err := svc.ListDocuments(ctx, "e1")
	if err != nil {
		t.Fatalf("list documents: %v", err)
	}
	if len(docs) != 1 || docs[0].ID() != "n1" {
		t.Fatalf("unexpected documents %v", docs)
	}

	out, err := svc.RenderDocument(ctx, "n1")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out.SourceContentType != "application/xml" || out.Cached {
		t.Errorf("unexpected first render %+v", out)
	}
	for _, want := range []string{"Progress Note", "Assessment", "<p>Improving.</p>"} {
		if !strings.Contains(out.Markup, want) {
			t.Errorf("markup missing %q", want)
		}
	}

	again, err := svc.RenderDocument(ctx, "n1")
	if err != nil {
		t.Fatalf("second render: %v", err)
	}
	if !again.Cached || again.Markup != out.Markup {
		t.Errorf("expected cached identical markup, cached=%v", again.Cached)
	}
	if got := atomic.LoadInt32(&binaryHits); got != 1 {
		t.Errorf("expected the Binary to be read once, got %d", got)
	}
}
