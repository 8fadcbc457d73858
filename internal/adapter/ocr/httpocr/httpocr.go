// Package httpocr talks to an OCR sidecar over HTTP. The engine is a black
// box: the file is PUT to /ocr with Accept: text/plain and the raw extracted
// text comes back. CPU and GPU deployments expose the same API on different
// endpoints; fallback between them is decided by the worker, not here.
package httpocr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/filot/docverify/internal/domain"
)

// Engine implements domain.OCREngine against one OCR endpoint.
type Engine struct {
	name       string
	baseURL    string
	httpClient *http.Client
}

// New constructs an OCR client. name distinguishes the cpu and gpu engines
// in logs and metrics.
func New(name, baseURL string) *Engine {
	return &Engine{
		name:    name,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   2 * time.Minute,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Name returns the engine name (cpu or gpu).
func (e *Engine) Name() string { return e.name }

// Extract uploads the file at path and returns the raw OCR text.
func (e *Engine) Extract(ctx domain.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("op=ocr.read: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, e.baseURL+"/ocr", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("op=ocr.request: %w", err)
	}
	req.Header.Set("Accept", "text/plain")
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("op=ocr.extract engine=%s: %w", e.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("op=ocr.extract engine=%s: %w", e.name, domain.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("op=ocr.extract engine=%s: status %d", e.name, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("op=ocr.extract engine=%s: %w", e.name, err)
	}
	return string(body), nil
}

// Healthy probes the sidecar's /health endpoint.
func (e *Engine) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ocr %s status %d", e.name, resp.StatusCode)
	}
	return nil
}
