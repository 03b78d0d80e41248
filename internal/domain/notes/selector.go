package notes

import (
	"mime"
	"strings"

	"github.com/ehr/notes/internal/platform/fhir"
	"github.com/ehr/notes/pkg/fhirmodels"
)

// Tier is the display priority of an attachment. Higher is better.
type Tier int

// TierUnsupported sits below every real tier and marks an attachment the
// renderer cannot display.
const TierUnsupported Tier = -1

const (
	TierText Tier = 10
	TierPDF  Tier = 25
	TierCDA  Tier = 50
	TierHTML Tier = 100
)

func (t Tier) String() string {
	switch t {
	case TierHTML:
		return "html"
	case TierCDA:
		return "cda"
	case TierPDF:
		return "pdf"
	case TierText:
		return "text"
	}
	return "unsupported"
}

type scoringRule struct {
	contentType  string
	formatPrefix string
	tier         Tier
}

// scoringRules is checked top to bottom; the first matching rule decides.
// A rule with a formatPrefix only matches when the content's format code
// starts with it.
var scoringRules = []scoringRule{
	{contentType: fhirmodels.ContentTypeHTML, tier: TierHTML},
	{contentType: fhirmodels.ContentTypeXML, formatPrefix: fhirmodels.CCDAStructuredBodyPrefix, tier: TierCDA},
	{contentType: fhirmodels.ContentTypePDF, tier: TierPDF},
	{contentType: fhirmodels.ContentTypeText, tier: TierText},
}

// NormalizeContentType lower-cases a media type and strips its parameters,
// so "Text/HTML; charset=utf-8" becomes "text/html".
func NormalizeContentType(ct string) string {
	ct = strings.TrimSpace(ct)
	if ct == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// Score returns the tier of one DocumentReference content entry.
func Score(content fhir.DocumentReferenceContent) Tier {
	ct := NormalizeContentType(content.Attachment.ContentType)
	format := content.FormatCode()
	for _, rule := range scoringRules {
		if rule.contentType != ct {
			continue
		}
		if rule.formatPrefix != "" && !strings.HasPrefix(format, rule.formatPrefix) {
			continue
		}
		return rule.tier
	}
	return TierUnsupported
}

// ScoredCandidate pairs an attachment with its tier and its position in
// DocumentReference.content.
type ScoredCandidate struct {
	Attachment fhir.Attachment `json:"attachment"`
	Format     string          `json:"format,omitempty"`
	Tier       Tier            `json:"tier"`
	Index      int             `json:"index"`
}

// ScoreCandidates scores every content entry in list order.
func ScoreCandidates(doc *fhir.DocumentReference) []ScoredCandidate {
	if doc == nil {
		return nil
	}
	out := make([]ScoredCandidate, 0, len(doc.Content))
	for i, content := range doc.Content {
		out = append(out, ScoredCandidate{
			Attachment: content.Attachment,
			Format:     content.FormatCode(),
			Tier:       Score(content),
			Index:      i,
		})
	}
	return out
}

// SelectBestCandidate returns the highest scoring candidate; the earliest
// wins ties. ok is false when every candidate is unsupported.
func SelectBestCandidate(doc *fhir.DocumentReference) (best ScoredCandidate, ok bool) {
	best.Tier = TierUnsupported
	for _, c := range ScoreCandidates(doc) {
		if c.Tier > best.Tier {
			best = c
		}
	}
	return best, best.Tier != TierUnsupported
}

// SelectBestAttachment returns the attachment the renderer should display,
// or false when the document has nothing renderable.
func SelectBestAttachment(doc *fhir.DocumentReference) (*fhir.Attachment, bool) {
	best, ok := SelectBestCandidate(doc)
	if !ok {
		return nil, false
	}
	att := best.Attachment
	return &att, true
}
