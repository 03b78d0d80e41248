package notes

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/notes/internal/platform/fhir"
	"github.com/ehr/notes/internal/platform/rendercache"
	"github.com/ehr/notes/pkg/fhirmodels"
)

// ResourceSummary is the list view of a resource.
type ResourceSummary struct {
	ResourceType string        `json:"resource_type"`
	ID           string        `json:"id"`
	Primary      string        `json:"primary"`
	Secondary    []string      `json:"secondary,omitempty"`
	Resource     fhir.Resource `json:"resource,omitempty"`
}

func Summarize(r fhir.Resource) ResourceSummary {
	return ResourceSummary{
		ResourceType: r.ResourceType(),
		ID:           r.ID(),
		Primary:      fhir.PrimaryText(r),
		Secondary:    fhir.SecondaryTexts(r),
		Resource:     r,
	}
}

// RenderObserver is told about every render attempt. outcome is one of
// "rendered", "cached" or "error".
type RenderObserver interface {
	ObserveRender(contentType, outcome string, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveRender(string, string, time.Duration) {}

// Service composes the fetcher, selector and renderer.
type Service struct {
	fetcher  *fhir.Fetcher
	renderer *Renderer
	cache    rendercache.Store
	observer RenderObserver
	logger   zerolog.Logger
}

// NewService creates the notes service. cache may be nil.
func NewService(fetcher *fhir.Fetcher, renderer *Renderer, cache rendercache.Store, logger zerolog.Logger) *Service {
	return &Service{fetcher: fetcher, renderer: renderer, cache: cache, observer: nopObserver{}, logger: logger}
}

// SetObserver installs o as the render observer. nil restores the no-op.
func (s *Service) SetObserver(o RenderObserver) {
	if o == nil {
		o = nopObserver{}
	}
	s.observer = o
}

// ListResources runs a full search and returns the results in display order.
func (s *Service) ListResources(ctx context.Context, q fhir.ResourceQuery) ([]fhir.Resource, error) {
	rs, err := s.fetcher.FetchAll(ctx, q)
	if err != nil {
		return nil, err
	}
	fhir.SortResources(rs)
	return rs, nil
}

// ListDocuments lists the DocumentReferences of one encounter, or all of
// them when encounterID is empty.
func (s *Service) ListDocuments(ctx context.Context, encounterID string) ([]fhir.Resource, error) {
	return s.ListResources(ctx, fhir.ResourceQuery{
		ResourceType: fhirmodels.ResourceTypeDocumentReference,
		Encounter:    encounterID,
	})
}

// GetDocument reads one DocumentReference.
func (s *Service) GetDocument(ctx context.Context, id string) (fhir.Resource, error) {
	return s.fetcher.Client().Read(ctx, fhirmodels.ResourceTypeDocumentReference, id)
}

// Candidates reads a document and scores each of its attachments.
func (s *Service) Candidates(ctx context.Context, id string) ([]ScoredCandidate, error) {
	r, err := s.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	doc, err := fhir.AsDocumentReference(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fhir.ErrMalformedResponse, err)
	}
	return ScoreCandidates(doc), nil
}

// RenderDocument reads a document and renders its best attachment.
func (s *Service) RenderDocument(ctx context.Context, id string) (*RenderedDocument, error) {
	r, err := s.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	doc, err := fhir.AsDocumentReference(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fhir.ErrMalformedResponse, err)
	}
	return s.RenderDocumentReference(ctx, doc)
}

// RenderDocumentReference selects and renders the best attachment of doc.
// ErrNoRenderableAttachment is returned without calling the renderer when
// nothing qualifies.
func (s *Service) RenderDocumentReference(ctx context.Context, doc *fhir.DocumentReference) (*RenderedDocument, error) {
	att, ok := SelectBestAttachment(doc)
	if !ok {
		return nil, ErrNoRenderableAttachment
	}

	start := time.Now()
	key := rendercache.Key(s.fetcher.Client().BaseURL(), *att)
	if s.cache != nil {
		e, hit, err := s.cache.Get(ctx, key)
		if err != nil {
			s.logger.Warn().Err(err).Str("document_id", doc.ID).Msg("render cache read failed")
		} else if hit {
			s.observer.ObserveRender(e.ContentType, "cached", time.Since(start))
			return &RenderedDocument{Markup: e.Markup, SourceContentType: e.ContentType, Cached: true}, nil
		}
	}

	out, err := s.renderer.Render(ctx, att)
	if err != nil {
		s.observer.ObserveRender(att.ContentType, "error", time.Since(start))
		return nil, err
	}
	s.observer.ObserveRender(out.SourceContentType, "rendered", time.Since(start))
	s.logger.Debug().
		Str("document_id", doc.ID).
		Str("content_type", out.SourceContentType).
		Dur("latency", time.Since(start)).
		Msg("document rendered")

	if s.cache != nil {
		entry := &rendercache.Entry{Key: key, ContentType: out.SourceContentType, Markup: out.Markup}
		if err := s.cache.Put(ctx, entry); err != nil {
			s.logger.Warn().Err(err).Str("document_id", doc.ID).Msg("render cache write failed")
		}
	}
	return out, nil
}
