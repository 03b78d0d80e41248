package pdf

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultCommand runs poppler's pdftohtml; %s is the input PDF path.
	DefaultCommand = "pdftohtml -dataurls -c -s %s"
	// DefaultOutputSuffix replaces ".pdf" on the input path to find the
	// single-page output pdftohtml writes with -s.
	DefaultOutputSuffix = "-html.html"
)

// ErrEmptyInput is returned when the request carries no PDF data.
var ErrEmptyInput = errors.New("pdf: empty input")

// Config configures the local converter.
type Config struct {
	Command       string
	OutputSuffix  string
	MaxConcurrent int64
	TempDir       string
}

// Service converts PDFs by running a command line tool on a temporary copy.
type Service struct {
	args   []string
	suffix string
	tmp    string
	sem    *semaphore.Weighted
	logger zerolog.Logger
}

// NewService validates cfg and creates a Service.
func NewService(cfg Config, logger zerolog.Logger) (*Service, error) {
	if cfg.Command == "" {
		cfg.Command = DefaultCommand
	}
	if cfg.OutputSuffix == "" {
		cfg.OutputSuffix = DefaultOutputSuffix
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	args := strings.Fields(cfg.Command)
	if len(args) == 0 {
		return nil, fmt.Errorf("pdf: command is empty")
	}
	found := false
	for _, a := range args {
		if strings.Contains(a, "%s") {
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("pdf: command %q has no %%s placeholder for the input file", cfg.Command)
	}
	return &Service{
		args:   args,
		suffix: cfg.OutputSuffix,
		tmp:    cfg.TempDir,
		sem:    semaphore.NewWeighted(cfg.MaxConcurrent),
		logger: logger,
	}, nil
}

// Convert implements the same contract as Client.Convert so the service
// can be used in-process.
func (s *Service) Convert(ctx context.Context, base64PDF string) (string, error) {
	out, err := s.ConvertToHTML(ctx, strings.NewReader(base64PDF))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// ConvertToHTML decodes a base64 PDF from r, runs the converter and returns
// the HTML it produced. Temporary files are removed before returning.
func (s *Service) ConvertToHTML(ctx context.Context, r io.Reader) ([]byte, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	dir, err := os.MkdirTemp(s.tmp, "pdf-*")
	if err != nil {
		return nil, fmt.Errorf("pdf: create temp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn().Err(err).Str("dir", dir).Msg("failed to remove temp dir")
		}
	}()

	input := filepath.Join(dir, "input.pdf")
	n, err := decodeToFile(input, r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrEmptyInput
	}

	args := make([]string, len(s.args))
	for i, a := range s.args {
		args[i] = strings.ReplaceAll(a, "%s", input)
	}

	var output bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Stdout = &output
	cmd.Stderr = &output
	runErr := cmd.Run()

	htmlPath := strings.TrimSuffix(input, filepath.Ext(input)) + s.suffix
	html, err := os.ReadFile(htmlPath)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		msg := strings.TrimSpace(output.String())
		if runErr != nil {
			return nil, fmt.Errorf("pdf: %s failed: %w; output: %s", args[0], runErr, msg)
		}
		return nil, fmt.Errorf("pdf: %s produced no output; output: %s", args[0], msg)
	}

	s.logger.Debug().Int64("pdf_bytes", n).Int("html_bytes", len(html)).Msg("pdf converted")
	return html, nil
}

func decodeToFile(path string, r io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("pdf: create temp file: %w", err)
	}
	defer f.Close()

	dec := base64.NewDecoder(base64.StdEncoding, newlineFilter{r})
	n, err := io.Copy(f, dec)
	if err != nil {
		return 0, fmt.Errorf("pdf: decode input: %w", err)
	}
	return n, f.Close()
}

// newlineFilter drops whitespace so that wrapped base64 decodes.
type newlineFilter struct {
	r io.Reader
}

func (f newlineFilter) Read(p []byte) (int, error) {
	n, err := f.r.Read(p)
	j := 0
	for i := 0; i < n; i++ {
		switch p[i] {
		case ' ', '\t', '\r', '\n':
			continue
		}
		p[j] = p[i]
		j++
	}
	return j, err
}
