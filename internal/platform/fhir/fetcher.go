package fhir

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

const (
	// PageSize is the _count requested on every search page.
	PageSize = 100
	// MaxResults caps the entries accumulated by one FetchAll call.
	MaxResults = 500
	// MaxPages bounds the pages one FetchAll call requests. Pages that each
	// keep one entry still reach MaxResults within it; the bound stops servers
	// whose pages keep arriving while the local encounter check or the type
	// filter discards every entry.
	MaxPages = 500
)

// ResourceQuery describes one search. Filter is appended to the query string
// verbatim; escaping it for the target server is the caller's job.
type ResourceQuery struct {
	ResourceType string
	Filter       string
	// Encounter restricts results to one encounter. The search parameter is
	// built with the backend's reference convention and the results are
	// re-checked locally against context.encounter.
	Encounter string
}

func (q ResourceQuery) searchURL(backend Backend) string {
	var sb strings.Builder
	sb.WriteString(q.ResourceType)
	sb.WriteString("?_count=")
	sb.WriteString(strconv.Itoa(PageSize))
	if q.Encounter != "" {
		sb.WriteString("&")
		sb.WriteString(EncounterFilter(backend, q.Encounter))
	}
	if f := strings.TrimLeft(q.Filter, "&?"); f != "" {
		sb.WriteString("&")
		sb.WriteString(f)
	}
	return sb.String()
}

// Fetcher runs paginated searches. Pages are requested strictly one after
// another; nothing is cached between calls.
type Fetcher struct {
	client     *Client
	backend    Backend
	maxResults int
	maxPages   int
	logger     zerolog.Logger
}

// NewFetcher creates a fetcher. backend selects the encounter reference
// convention.
func NewFetcher(client *Client, backend Backend, logger zerolog.Logger) *Fetcher {
	return &Fetcher{
		client:     client,
		backend:    backend,
		maxResults: MaxResults,
		maxPages:   MaxPages,
		logger:     logger,
	}
}

// Backend returns the server convention this fetcher was configured with.
func (f *Fetcher) Backend() Backend { return f.backend }

// Client returns the underlying FHIR client.
func (f *Fetcher) Client() *Client { return f.client }

// FetchPage requests one search page and keeps only entries of resourceType.
// A body that is not a Bundle is a *FetchError wrapping ErrMalformedResponse.
func (f *Fetcher) FetchPage(ctx context.Context, ref, resourceType string) (*ResourcePage, int, error) {
	var bundle Bundle
	if err := f.client.Get(ctx, ref, &bundle); err != nil {
		return nil, 0, err
	}
	if bundle.ResourceType != "Bundle" {
		return nil, 0, &FetchError{URL: ref, Err: fmt.Errorf("%w: expected Bundle, got %q", ErrMalformedResponse, bundle.ResourceType)}
	}

	resources, err := bundle.Resources()
	if err != nil {
		return nil, 0, &FetchError{URL: ref, Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}

	page := &ResourcePage{
		Entries: make([]Resource, 0, len(resources)),
		Next:    bundle.NextLink(),
	}
	for _, r := range resources {
		if r.ResourceType() != resourceType {
			continue
		}
		page.Entries = append(page.Entries, r)
	}
	if dropped := len(resources) - len(page.Entries); dropped > 0 {
		f.logger.Debug().Int("dropped", dropped).Str("resource_type", resourceType).Msg("dropped mismatched bundle entries")
	}
	return page, len(resources), nil
}

// FetchAll follows next links until the server stops paging or MaxResults
// entries have been gathered; the result never exceeds MaxResults. A first
// page that is missing or not a Bundle yields ErrNoData. A search that
// legitimately matches nothing returns an empty, non-nil slice.
func (f *Fetcher) FetchAll(ctx context.Context, q ResourceQuery) ([]Resource, error) {
	if q.ResourceType == "" {
		return nil, fmt.Errorf("fhir: resource type is required")
	}

	entries := make([]Resource, 0)
	seen := make(map[string]bool)
	next := q.searchURL(f.backend)
	pages := 0

	for next != "" && len(entries) < f.maxResults {
		if seen[next] {
			f.logger.Warn().Str("url", next).Msg("next link repeats an earlier page; stopping")
			break
		}
		if pages >= f.maxPages {
			f.logger.Warn().Int("pages", pages).Msg("page limit reached; stopping")
			break
		}
		seen[next] = true

		page, received, err := f.FetchPage(ctx, next, q.ResourceType)
		if err != nil {
			if pages == 0 && errors.Is(err, ErrMalformedResponse) {
				return nil, ErrNoData
			}
			return nil, err
		}
		pages++

		if received == 0 {
			break
		}
		for _, r := range page.Entries {
			if q.Encounter != "" && !MentionsEncounter(r, q.Encounter) {
				continue
			}
			entries = append(entries, r)
		}
		next = page.Next
	}

	if len(entries) > f.maxResults {
		entries = entries[:f.maxResults]
	}

	f.logger.Debug().
		Str("resource_type", q.ResourceType).
		Int("pages", pages).
		Int("entries", len(entries)).
		Msg("search complete")
	return entries, nil
}

// MentionsEncounter reports whether r belongs to encounter id according to
// its context.encounter references. Resources without encounter context
// are kept.
func MentionsEncounter(r Resource, id string) bool {
	ctx, ok := r["context"].(map[string]interface{})
	if !ok {
		return true
	}
	refs, ok := ctx["encounter"].([]interface{})
	if !ok || len(refs) == 0 {
		return true
	}
	for _, raw := range refs {
		ref, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if s, _ := ref["reference"].(string); s != "" && strings.Contains(s, id) {
			return true
		}
	}
	return false
}
