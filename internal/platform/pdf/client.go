// Package pdf converts base64-encoded PDF documents to standalone HTML,
// either by calling a remote conversion endpoint (Client) or by running a
// local converter command (Service).
package pdf

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxHTMLSize bounds a converted document; pdftohtml inlines images as
// data URLs so pages can be large.
const maxHTMLSize = 64 << 20

// ConversionError is a non-200 answer from the conversion endpoint.
type ConversionError struct {
	StatusCode int
	Body       string
}

func (e *ConversionError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("pdf: conversion failed: status %d", e.StatusCode)
	}
	return fmt.Sprintf("pdf: conversion failed: status %d: %s", e.StatusCode, e.Body)
}

// Client posts base64 PDF payloads to a conversion endpoint.
type Client struct {
	url  string
	http *http.Client
}

// NewClient creates a Client for the endpoint at url. A nil httpClient
// gets a two-minute timeout.
func NewClient(url string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Client{url: url, http: httpClient}
}

// Convert sends the still-encoded payload as text/plain and returns the
// HTML response body.
func (c *Client) Convert(ctx context.Context, base64PDF string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(base64PDF))
	if err != nil {
		return "", fmt.Errorf("pdf: build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("pdf: POST %s: %w", c.url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHTMLSize))
	if err != nil {
		return "", fmt.Errorf("pdf: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return "", &ConversionError{StatusCode: resp.StatusCode, Body: msg}
	}
	return string(body), nil
}
