package notes

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/ehr/notes/internal/platform/fhir"
	"github.com/ehr/notes/pkg/fhirmodels"
)

// BinaryReader dereferences Binary URLs. *fhir.Client satisfies it.
type BinaryReader interface {
	ReadBinary(ctx context.Context, ref string) (*fhir.Binary, error)
}

// Transformer turns a CDA document into HTML. *ccda.Renderer satisfies it.
type Transformer interface {
	Transform(ctx context.Context, document []byte) (string, error)
}

// Converter turns a base64-encoded PDF into HTML. *pdf.Client satisfies it.
type Converter interface {
	Convert(ctx context.Context, base64PDF string) (string, error)
}

// RenderedDocument is display-ready markup and the content type it came from.
type RenderedDocument struct {
	Markup            string `json:"markup"`
	SourceContentType string `json:"source_content_type"`
	Cached            bool   `json:"cached,omitempty"`
}

const (
	preOpen  = "<pre><code>"
	preClose = "</code></pre>"
)

// Renderer converts a selected attachment into markup. Each call is
// independent; the renderer holds no per-document state.
type Renderer struct {
	binaries BinaryReader
	cda      Transformer
	pdf      Converter
	logger   zerolog.Logger
}

func NewRenderer(binaries BinaryReader, cda Transformer, pdf Converter, logger zerolog.Logger) *Renderer {
	return &Renderer{binaries: binaries, cda: cda, pdf: pdf, logger: logger}
}

// ResolvePayload returns the attachment's base64 payload, reading the
// referenced Binary when the attachment has no inline data.
func (r *Renderer) ResolvePayload(ctx context.Context, att *fhir.Attachment) (string, error) {
	if att == nil {
		return "", fmt.Errorf("%w: no attachment", ErrAttachmentResolution)
	}
	if att.Data != "" {
		return att.Data, nil
	}
	if att.URL == "" || !fhir.IsBinaryReference(att.URL) {
		return "", fmt.Errorf("%w: attachment needs inline data or a valid binary reference (url %q)", ErrAttachmentResolution, att.URL)
	}
	if r.binaries == nil {
		return "", fmt.Errorf("%w: no binary reader configured", ErrAttachmentResolution)
	}
	bin, err := r.binaries.ReadBinary(ctx, att.URL)
	if err != nil {
		return "", err
	}
	if bin.Data == "" {
		return "", fmt.Errorf("%w: binary %s has no data", ErrAttachmentResolution, att.URL)
	}
	return bin.Data, nil
}

// Decode turns a base64 payload into text. Embedded whitespace and missing
// padding are tolerated; invalid UTF-8 sequences become U+FFFD.
func Decode(payload string) (string, error) {
	clean := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, payload)

	raw, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(clean, "="))
	}
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(clean, "="))
	}
	if err != nil {
		return "", fmt.Errorf("%w: payload is not base64: %v", ErrAttachmentResolution, err)
	}
	if !utf8.Valid(raw) {
		return strings.ToValidUTF8(string(raw), "\uFFFD"), nil
	}
	return string(raw), nil
}

// WrapPlainText places text, unchanged, in the preformatted block used for
// text/plain attachments. Like HTML markup it is not escaped; rendered
// documents are served under a script-blocking CSP.
func WrapPlainText(text string) string {
	return preOpen + text + preClose
}

// Render resolves, decodes and converts att according to its content type.
func (r *Renderer) Render(ctx context.Context, att *fhir.Attachment) (*RenderedDocument, error) {
	if att == nil {
		return nil, fmt.Errorf("%w: no attachment", ErrAttachmentResolution)
	}
	ct := NormalizeContentType(att.ContentType)
	switch ct {
	case fhirmodels.ContentTypeHTML, fhirmodels.ContentTypeText, fhirmodels.ContentTypeXML, fhirmodels.ContentTypePDF:
	default:
		r.logger.Error().
			Bool("assertion", true).
			Str("content_type", att.ContentType).
			Msg("render reached with a content type the selector rejects")
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedContentType, att.ContentType)
	}

	payload, err := r.ResolvePayload(ctx, att)
	if err != nil {
		return nil, err
	}

	if ct == fhirmodels.ContentTypePDF {
		if r.pdf == nil {
			return nil, fmt.Errorf("%w: no PDF converter configured", ErrConversionFailed)
		}
		markup, err := r.pdf.Convert(ctx, payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConversionFailed, err)
		}
		return &RenderedDocument{Markup: markup, SourceContentType: ct}, nil
	}

	text, err := Decode(payload)
	if err != nil {
		return nil, err
	}

	var markup string
	switch ct {
	case fhirmodels.ContentTypeHTML:
		markup = text
	case fhirmodels.ContentTypeText:
		markup = WrapPlainText(text)
	case fhirmodels.ContentTypeXML:
		if r.cda == nil {
			return nil, fmt.Errorf("%w: no CDA transformer configured", ErrConversionFailed)
		}
		markup, err = r.cda.Transform(ctx, []byte(text))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConversionFailed, err)
		}
	}
	return &RenderedDocument{Markup: markup, SourceContentType: ct}, nil
}
