package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	// apiPolicy applies to JSON and error responses.
	apiPolicy = "default-src 'none'; frame-ancestors 'none'"
	// documentPolicy applies to rendered notes. The markup carries its own
	// <style> block and pdftohtml inlines page images as data: URLs.
	documentPolicy = "default-src 'none'; style-src 'unsafe-inline'; img-src data:; font-src data:; base-uri 'none'; form-action 'none'"
)

// SecurityConfig controls SecurityHeaders.
type SecurityConfig struct {
	// FrameAncestors lists the origins allowed to embed rendered HTML.
	// When empty, rendered HTML may only be framed by the same origin.
	FrameAncestors []string
	// HSTS enables Strict-Transport-Security.
	HSTS bool
}

// SecurityHeaders sets response headers suitable for a service that returns
// PHI. HTML responses get a document policy that lets a launching app show
// the note in an iframe but still blocks scripts, plugins and remote loads.
func SecurityHeaders(cfg SecurityConfig) echo.MiddlewareFunc {
	ancestors := "'self'"
	if len(cfg.FrameAncestors) > 0 {
		ancestors = "'self' " + strings.Join(cfg.FrameAncestors, " ")
	}
	htmlPolicy := documentPolicy + "; frame-ancestors " + ancestors

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			res := c.Response()
			h := res.Header()

			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-XSS-Protection", "0")
			h.Set("Content-Security-Policy", apiPolicy)
			if cfg.HSTS {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			h.Set("Cache-Control", "no-store")

			res.Before(func() {
				if !strings.HasPrefix(h.Get(echo.HeaderContentType), echo.MIMETextHTML) {
					return
				}
				h.Set("Content-Security-Policy", htmlPolicy)
				// frame-ancestors supersedes it in current browsers.
				h.Del("X-Frame-Options")
			})

			return next(c)
		}
	}
}
