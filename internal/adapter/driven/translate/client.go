// Package translate provides text-translation capability adapters: an HTTP
// client for a LibreTranslate-compatible endpoint and a dictionary stub for
// tests.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/paircall/paircall/internal/core/domain"
)

// HTTPConfig points at the translation endpoint.
type HTTPConfig struct {
	// URL is the translate endpoint, e.g. "http://127.0.0.1:5000/translate".
	URL string
	// APIKey is sent when the endpoint requires one.
	APIKey string
	// Timeout is the per-request bound used when the caller's context has
	// no earlier deadline.
	Timeout time.Duration
}

func (c HTTPConfig) withDefaults() HTTPConfig {
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// HTTPTranslator calls a LibreTranslate-compatible JSON API.
type HTTPTranslator struct {
	cfg    HTTPConfig
	client *http.Client
}

func NewHTTP(cfg HTTPConfig) *HTTPTranslator {
	cfg = cfg.withDefaults()
	return &HTTPTranslator{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type translateRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

type translateResponse struct {
	TranslatedText string `json:"translatedText"`
	Error          string `json:"error,omitempty"`
}

func (t *HTTPTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if t.cfg.URL == "" {
		return "", fmt.Errorf("%w: no translation endpoint configured", domain.ErrTranslationFailure)
	}
	body, err := json.Marshal(translateRequest{
		Q:      text,
		Source: sourceLang,
		Target: targetLang,
		Format: "text",
		APIKey: t.cfg.APIKey,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrTranslationFailure, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", domain.ErrTranslationFailure, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: endpoint returned %d", domain.ErrTranslationFailure, resp.StatusCode)
	}
	var out translateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%w: malformed response: %v", domain.ErrTranslationFailure, err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("%w: %s", domain.ErrTranslationFailure, out.Error)
	}
	if out.TranslatedText == "" {
		return "", fmt.Errorf("%w: empty translation", domain.ErrTranslationFailure)
	}
	return out.TranslatedText, nil
}
