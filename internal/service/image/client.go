// Package image calls the remote image capability: one prompt in, inline
// image bytes out. No streaming, no retries.
package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNoInlineData reports a well-formed response that carries no image
// payload (typically a safety block). Callers must treat it exactly like a
// transport failure.
var ErrNoInlineData = errors.New("image response contained no inline data")

// Result is a successful generation: raw bytes plus the effective prompt.
type Result struct {
	MIMEType string
	Data     []byte
	Prompt   string
}

// DataURI renders the result as an inline data URI.
func (r *Result) DataURI() string {
	return fmt.Sprintf("data:%s;base64,%s", r.MIMEType, base64.StdEncoding.EncodeToString(r.Data))
}

// Generator is the image capability contract consumed by the image flow.
type Generator interface {
	Generate(ctx context.Context, prompt string) (*Result, error)
}

// Client talks to a generateContent-style provider endpoint requesting
// image output.
type Client struct {
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
}

// NewClient builds a provider client. timeout bounds the full request.
func NewClient(baseURL, model, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		model:      model,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type promptPart struct {
	Text string `json:"text"`
}

type promptContent struct {
	Parts []promptPart `json:"parts"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities"`
}

type generateRequest struct {
	Contents         []promptContent  `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text       string `json:"text,omitempty"`
				InlineData *struct {
					MIMEType string `json:"mimeType"`
					Data     string `json:"data"`
				} `json:"inlineData,omitempty"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason  string `json:"finishReason,omitempty"`
		SafetyRatings []struct {
			Category    string `json:"category"`
			Probability string `json:"probability"`
		} `json:"safetyRatings,omitempty"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate issues a single request and decodes the first inline image part.
// A 2xx response without inline data is a domain refusal and comes back as
// ErrNoInlineData (wrapped with the finish reason when present).
func (c *Client) Generate(ctx context.Context, prompt string) (*Result, error) {
	reqBody := generateRequest{
		Contents:         []promptContent{{Parts: []promptPart{{Text: prompt}}}},
		GenerationConfig: generationConfig{ResponseModalities: []string{"IMAGE", "TEXT"}},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build image request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("image request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read image response: %w", err)
	}

	var decoded generateResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode image response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if decoded.Error != nil && decoded.Error.Message != "" {
			return nil, fmt.Errorf("image provider returned %d: %s", resp.StatusCode, decoded.Error.Message)
		}
		return nil, fmt.Errorf("image provider returned %d", resp.StatusCode)
	}

	for _, candidate := range decoded.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("failed to decode inline image data: %w", err)
			}
			mime := part.InlineData.MIMEType
			if mime == "" {
				mime = "image/png"
			}
			return &Result{MIMEType: mime, Data: raw, Prompt: prompt}, nil
		}
	}

	if len(decoded.Candidates) > 0 && decoded.Candidates[0].FinishReason != "" {
		return nil, fmt.Errorf("%w (finish reason: %s)", ErrNoInlineData, decoded.Candidates[0].FinishReason)
	}
	return nil, ErrNoInlineData
}
