// Package gemini calls the generation backend. The rest of the service only
// depends on the Generator interface; the REST client here targets a
// Gemini-style generateContent endpoint.
package gemini

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ngqkhai/script-generator/internal/errs"
	"github.com/ngqkhai/script-generator/internal/jsoncodec"
	"github.com/ngqkhai/script-generator/internal/logging"
	"github.com/ngqkhai/script-generator/internal/script"
)

// Generator produces a script document for a generation request. Calls may
// take seconds and must honour the context.
type Generator interface {
	Generate(ctx context.Context, req script.Request) (script.Document, error)
}

// Client is the HTTP-backed Generator.
type Client struct {
	baseURL string
	model   string
	apiKey  string
	http    *http.Client
	log     logging.ServiceLogger
}

func NewClient(baseURL, model, apiKey string, log logging.ServiceLogger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 120 * time.Second},
		log:     log,
	}
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	TopK            int     `json:"topK"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Generate builds the prompt, calls the backend, and parses the structured
// script out of the model's text reply.
func (c *Client) Generate(ctx context.Context, req script.Request) (script.Document, error) {
	started := time.Now()

	payload := generateRequest{
		Contents: []content{{Parts: []part{{Text: script.BuildPrompt(req)}}}},
		GenerationConfig: generationConfig{
			Temperature:     0.7,
			TopP:            0.95,
			TopK:            40,
			MaxOutputTokens: 8192,
		},
	}

	body, err := jsoncodec.Marshal(payload)
	if err != nil {
		return script.Document{}, fmt.Errorf("%w: encode request: %v", errs.ErrGeneration, err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return script.Document{}, fmt.Errorf("%w: %v", errs.ErrGeneration, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return script.Document{}, fmt.Errorf("%w: %v", errs.ErrGeneration, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return script.Document{}, fmt.Errorf("%w: read response: %v", errs.ErrGeneration, err)
	}
	if resp.StatusCode != http.StatusOK {
		return script.Document{}, fmt.Errorf("%w: backend returned %d: %s",
			errs.ErrGeneration, resp.StatusCode, truncate(string(raw), 200))
	}

	var decoded generateResponse
	if err := jsoncodec.Unmarshal(raw, &decoded); err != nil {
		return script.Document{}, fmt.Errorf("%w: decode response: %v", errs.ErrGeneration, err)
	}
	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return script.Document{}, fmt.Errorf("%w: backend returned no candidates", errs.ErrGeneration)
	}

	doc, err := ParseScript(decoded.Candidates[0].Content.Parts[0].Text)
	if err != nil {
		return script.Document{}, err
	}
	doc.CreatedAt = time.Now().UTC()

	c.log.Info("script generated", logging.LogFields{
		"scenes":     len(doc.Scenes),
		"elapsed_ms": time.Since(started).Milliseconds(),
	})
	return doc, nil
}

// ParseScript extracts the structured script from a model text reply. Models
// sometimes wrap the JSON in markdown fences or prose; strip the fences first,
// then fall back to the outermost brace window.
func ParseScript(text string) (script.Document, error) {
	candidate := stripFences(text)

	var doc script.Document
	if err := jsoncodec.Unmarshal([]byte(candidate), &doc); err == nil && len(doc.Scenes) > 0 {
		return doc, nil
	}

	start := strings.Index(candidate, "{")
	end := strings.LastIndex(candidate, "}")
	if start < 0 || end <= start {
		return script.Document{}, fmt.Errorf("%w: no JSON object in response", errs.ErrGeneration)
	}
	if err := jsoncodec.Unmarshal([]byte(candidate[start:end+1]), &doc); err != nil {
		return script.Document{}, fmt.Errorf("%w: parse script structure: %v", errs.ErrGeneration, err)
	}
	return doc, nil
}

func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
