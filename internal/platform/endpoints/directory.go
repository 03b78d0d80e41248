// Package endpoints holds the directory of FHIR servers a reader can
// connect to, searchable by label.
package endpoints

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ehr/notes/internal/platform/fhir"
)

// DefaultGramLength is the n-gram size used to index labels.
const DefaultGramLength = 4

// EHR vendor types.
const (
	TypeEpic   = "epic"
	TypeAthena = "athena"
	TypeCerner = "cerner"
	TypeSMART  = "smart"
)

// Endpoint is a FHIR server the reader can launch against.
type Endpoint struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
	Label    string `json:"label"`
	ISS      string `json:"iss"`
}

// Directory indexes endpoints by the lower-case n-grams of their labels.
// It is read-only after construction and safe for concurrent use.
type Directory struct {
	gramLen   int
	endpoints []Endpoint
	grams     map[string][]int
}

// NewDirectory indexes eps. Labels shorter than gramLen cannot be matched
// and are skipped. gramLen <= 0 selects DefaultGramLength.
func NewDirectory(eps []Endpoint, gramLen int, logger zerolog.Logger) *Directory {
	if gramLen <= 0 {
		gramLen = DefaultGramLength
	}
	d := &Directory{gramLen: gramLen, grams: make(map[string][]int)}

	for _, e := range eps {
		lower := []rune(strings.ToLower(e.Label))
		if len(lower) < gramLen {
			logger.Warn().Str("label", e.Label).Int("gram_length", gramLen).Msg("skipping endpoint shorter than gram length")
			continue
		}
		idx := len(d.endpoints)
		d.endpoints = append(d.endpoints, e)

		seen := make(map[string]bool)
		for i := 0; i+gramLen <= len(lower); i++ {
			g := string(lower[i : i+gramLen])
			if seen[g] {
				continue
			}
			seen[g] = true
			d.grams[g] = append(d.grams[g], idx)
		}
	}

	logger.Info().Int("grams", len(d.grams)).Int("gram_length", gramLen).Int("endpoints", len(eps)).Msg("endpoint directory indexed")
	return d
}

// Len returns the number of indexed endpoints.
func (d *Directory) Len() int { return len(d.endpoints) }

// GramLength returns the minimum query length.
func (d *Directory) GramLength() int { return d.gramLen }

// Filter returns the endpoints whose label contains input, ignoring case,
// in directory order. Inputs shorter than the gram length match nothing.
// The result is never nil.
func (d *Directory) Filter(input string) []Endpoint {
	out := []Endpoint{}
	lower := strings.ToLower(input)
	runes := []rune(lower)
	if len(runes) < d.gramLen {
		return out
	}
	for _, idx := range d.grams[string(runes[:d.gramLen])] {
		e := d.endpoints[idx]
		if strings.Contains(strings.ToLower(e.Label), lower) {
			out = append(out, e)
		}
	}
	return out
}

// SortAndUnique sorts endpoints by label and drops entries whose label
// repeats the previous one, ignoring case. The input slice is reordered.
func SortAndUnique(eps []Endpoint) []Endpoint {
	sort.SliceStable(eps, func(i, j int) bool {
		return strings.ToLower(eps[i].Label) < strings.ToLower(eps[j].Label)
	})
	out := make([]Endpoint, 0, len(eps))
	last := ""
	for i, e := range eps {
		label := strings.ToLower(e.Label)
		if i > 0 && label == last {
			continue
		}
		out = append(out, e)
		last = label
	}
	return out
}

// Parse decodes a JSON array of endpoints.
func Parse(r io.Reader) ([]Endpoint, error) {
	var eps []Endpoint
	if err := json.NewDecoder(r).Decode(&eps); err != nil {
		return nil, fmt.Errorf("endpoints: decode: %w", err)
	}
	return eps, nil
}

// Load reads endpoints from a file path or an http(s) URL.
func Load(ctx context.Context, source string) ([]Endpoint, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, fmt.Errorf("endpoints: %w", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("endpoints: fetch %s: %w", source, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("endpoints: fetch %s: status %d", source, resp.StatusCode)
		}
		return Parse(resp.Body)
	}

	f, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("endpoints: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// FromBundle converts the Endpoint resources of a published FHIR endpoint
// list (such as a vendor's R4 directory Bundle) into directory entries.
// Resources without a name or address are skipped.
func FromBundle(b *fhir.Bundle, ehrType, clientID string) ([]Endpoint, error) {
	resources, err := b.Resources()
	if err != nil {
		return nil, fmt.Errorf("endpoints: %w", err)
	}
	var out []Endpoint
	for _, r := range resources {
		if r.ResourceType() != "Endpoint" {
			continue
		}
		name, _ := r["name"].(string)
		address, _ := r["address"].(string)
		if strings.TrimSpace(name) == "" || strings.TrimSpace(address) == "" {
			continue
		}
		out = append(out, Endpoint{Type: ehrType, ClientID: clientID, Label: name, ISS: address})
	}
	return out, nil
}
