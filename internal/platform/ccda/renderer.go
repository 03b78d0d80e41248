package ccda

import (
	"bytes"
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"html/template"
	"os"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

//go:embed stylesheets/*.tmpl
var stylesheets embed.FS

// DefaultStylesheet is the embedded stylesheet name.
const DefaultStylesheet = "stylesheets/cda.html.tmpl"

// StylesheetLoader returns the stylesheet source. It is called on every
// transform so that an edited stylesheet file takes effect without a
// restart.
type StylesheetLoader interface {
	Load(ctx context.Context) ([]byte, error)
}

// StylesheetFunc adapts a function to StylesheetLoader.
type StylesheetFunc func(ctx context.Context) ([]byte, error)

func (f StylesheetFunc) Load(ctx context.Context) ([]byte, error) { return f(ctx) }

// EmbeddedStylesheet loads the stylesheet compiled into the binary.
func EmbeddedStylesheet() StylesheetLoader {
	return StylesheetFunc(func(context.Context) ([]byte, error) {
		return stylesheets.ReadFile(DefaultStylesheet)
	})
}

// FileStylesheet loads the stylesheet from path.
func FileStylesheet(path string) StylesheetLoader {
	return StylesheetFunc(func(context.Context) ([]byte, error) {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("ccda: load stylesheet: %w", err)
		}
		return b, nil
	})
}

// RendererOption configures a Renderer.
type RendererOption func(*Renderer)

// WithLoader overrides the embedded stylesheet.
func WithLoader(l StylesheetLoader) RendererOption {
	return func(r *Renderer) { r.loader = l }
}

// WithSrcdocLinks rewrites in-document links to about:srcdoc#..., which is
// what they must look like when the markup is shown in an iframe srcdoc.
func WithSrcdocLinks(on bool) RendererOption {
	return func(r *Renderer) { r.srcdocLinks = on }
}

// WithCacheSize sets how many parsed stylesheets are kept.
func WithCacheSize(n int) RendererOption {
	return func(r *Renderer) { r.cacheSize = n }
}

// WithLogger sets the renderer logger.
func WithLogger(l zerolog.Logger) RendererOption {
	return func(r *Renderer) { r.logger = l }
}

// Renderer transforms CDA XML to HTML through an html/template stylesheet.
type Renderer struct {
	parser      *Parser
	loader      StylesheetLoader
	srcdocLinks bool
	cacheSize   int
	templates   *lru.Cache[string, *template.Template]
	logger      zerolog.Logger
}

// NewRenderer creates a Renderer using the embedded stylesheet unless
// WithLoader is given.
func NewRenderer(opts ...RendererOption) (*Renderer, error) {
	r := &Renderer{
		parser:    NewParser(),
		loader:    EmbeddedStylesheet(),
		cacheSize: 8,
		logger:    zerolog.Nop(),
	}
	for _, o := range opts {
		o(r)
	}
	cache, err := lru.New[string, *template.Template](r.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("ccda: stylesheet cache: %w", err)
	}
	r.templates = cache
	return r, nil
}

// Parser returns the parser used to build the document view.
func (r *Renderer) Parser() *Parser {
	return r.parser
}

// Transform renders a CDA document to HTML.
func (r *Renderer) Transform(ctx context.Context, document []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	view, err := r.parser.Parse(document)
	if err != nil {
		return "", err
	}

	tmpl, err := r.stylesheet(ctx)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("ccda: execute stylesheet: %w", err)
	}

	out := buf.String()
	if r.srcdocLinks {
		out = strings.ReplaceAll(out, `href="#`, `href="about:srcdoc#`)
	}
	return out, nil
}

func (r *Renderer) stylesheet(ctx context.Context) (*template.Template, error) {
	src, err := r.loader.Load(ctx)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(src)
	key := hex.EncodeToString(sum[:])
	if tmpl, ok := r.templates.Get(key); ok {
		return tmpl, nil
	}

	tmpl, err := template.New("cda").Funcs(template.FuncMap{
		"join": strings.Join,
	}).Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("ccda: parse stylesheet: %w", err)
	}
	r.templates.Add(key, tmpl)
	r.logger.Debug().Str("digest", key[:12]).Msg("stylesheet parsed")
	return tmpl, nil
}
