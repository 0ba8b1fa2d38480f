// Package azure provides a translation provider backed by the Azure
// Translator REST API (v3.0). It implements the translate.Provider interface.
package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/interpres-live/interpres/pkg/provider/translate"
)

const (
	defaultEndpoint = "https://api.cognitive.microsofttranslator.com"
	apiVersion      = "3.0"
)

// Option is a functional option for configuring the Azure Provider.
type Option func(*Provider)

// WithEndpoint overrides the default Translator endpoint. Useful for
// sovereign clouds and for tests pointed at an httptest server.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = strings.TrimRight(endpoint, "/")
	}
}

// WithRegion sets the Ocp-Apim-Subscription-Region header required by
// regional Translator resources.
func WithRegion(region string) Option {
	return func(p *Provider) {
		p.region = region
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements translate.Provider against Azure Translator v3.
type Provider struct {
	apiKey     string
	endpoint   string
	region     string
	httpClient *http.Client
}

// Compile-time assertion that Provider satisfies translate.Provider.
var _ translate.Provider = (*Provider)(nil)

// New creates a new Azure Translator provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("azure: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   defaultEndpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- wire types ----

// requestBody is one element of the JSON array POSTed to /translate.
type requestBody struct {
	Text string `json:"Text"`
}

// translationEntry is one target-language translation in the response.
type translationEntry struct {
	Text string `json:"text"`
	To   string `json:"to"`
}

// detectedLanguage reports the source language Azure inferred.
type detectedLanguage struct {
	Language string  `json:"language"`
	Score    float64 `json:"score"`
}

// translateResponse is one element of the JSON array returned by /translate.
type translateResponse struct {
	DetectedLanguage *detectedLanguage  `json:"detectedLanguage,omitempty"`
	Translations     []translationEntry `json:"translations"`
}

// errorResponse is the error envelope Azure returns on non-2xx statuses.
type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Translate implements translate.Provider using POST /translate.
func (p *Provider) Translate(ctx context.Context, req translate.Request) ([]translate.Result, error) {
	if len(req.TargetLangs) == 0 {
		return nil, errors.New("azure: at least one target language is required")
	}

	q := url.Values{}
	q.Set("api-version", apiVersion)
	if req.SrcLang != "" {
		q.Set("from", req.SrcLang)
	}
	for _, lang := range req.TargetLangs {
		q.Add("to", lang)
	}

	body, err := json.Marshal([]requestBody{{Text: req.Text}})
	if err != nil {
		return nil, fmt.Errorf("azure: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.endpoint+"/translate?"+q.Encode(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("azure: build request: %w", err)
	}
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", p.apiKey)
	if p.region != "" {
		httpReq.Header.Set("Ocp-Apim-Subscription-Region", p.region)
	}
	httpReq.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("azure: translate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var parsed []translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("azure: decode response: %w", err)
	}
	if len(parsed) == 0 {
		return nil, errors.New("azure: empty response")
	}

	return buildResults(req.TargetLangs, parsed[0])
}

// DetectLanguage implements translate.Provider using POST /detect.
func (p *Provider) DetectLanguage(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal([]requestBody{{Text: text}})
	if err != nil {
		return "", fmt.Errorf("azure: marshal detect request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.endpoint+"/detect?api-version="+apiVersion, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("azure: build detect request: %w", err)
	}
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", p.apiKey)
	if p.region != "" {
		httpReq.Header.Set("Ocp-Apim-Subscription-Region", p.region)
	}
	httpReq.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("azure: detect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", decodeError(resp)
	}

	var parsed []detectedLanguage
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("azure: decode detect response: %w", err)
	}
	if len(parsed) == 0 {
		return "", errors.New("azure: empty detect response")
	}
	return parsed[0].Language, nil
}

// buildResults maps the response translations onto the requested target
// order. Azure returns translations keyed by "to"; request order is restored
// here so callers never depend on provider ordering.
func buildResults(targets []string, resp translateResponse) ([]translate.Result, error) {
	byLang := make(map[string]string, len(resp.Translations))
	for _, tr := range resp.Translations {
		byLang[strings.ToLower(tr.To)] = tr.Text
	}

	detected := ""
	if resp.DetectedLanguage != nil {
		detected = resp.DetectedLanguage.Language
	}

	results := make([]translate.Result, 0, len(targets))
	for _, lang := range targets {
		text, ok := byLang[strings.ToLower(lang)]
		if !ok {
			// Azure normalises some tags (e.g. "fr-CA" → "fr"); retry on the
			// primary subtag before giving up.
			if base, _, found := strings.Cut(lang, "-"); found {
				text, ok = byLang[strings.ToLower(base)]
			}
		}
		if !ok {
			return nil, fmt.Errorf("azure: response is missing target %q", lang)
		}
		results = append(results, translate.Result{
			Lang:         lang,
			Text:         text,
			DetectedLang: detected,
		})
	}
	return results, nil
}

// decodeError turns a non-2xx response into an error carrying the status and
// Azure's error message when one is present.
func decodeError(resp *http.Response) error {
	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil && er.Error.Message != "" {
		return fmt.Errorf("azure: status %d: %s (code %d)", resp.StatusCode, er.Error.Message, er.Error.Code)
	}
	return fmt.Errorf("azure: unexpected status %d", resp.StatusCode)
}
