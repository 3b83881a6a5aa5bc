// Package client is the HTTP side of the terminal assistant: it speaks
// to a running proxy instead of calling providers directly, so API keys
// can stay on the server.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/liuwenjie/lumina/backend/internal/model/chat"
	imageservice "github.com/liuwenjie/lumina/backend/internal/service/image"
)

// Proxy calls the chat and image endpoints of a lumina proxy. It
// implements the streamer contract of the conversation session;
// ImageGenerator adapts it to the image flow.
type Proxy struct {
	baseURL    string
	httpClient *http.Client
}

// NewProxy builds a proxy client. Streaming responses have no overall
// deadline, so the HTTP client carries none; pass a context to cancel.
func NewProxy(baseURL string) *Proxy {
	return &Proxy{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

type chatRequest struct {
	History []chat.Turn `json:"history"`
	Message string      `json:"message"`
}

type streamEvent struct {
	Event    string `json:"event"`
	Content  string `json:"content,omitempty"`
	Finished bool   `json:"finished,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Stream opens the SSE chat endpoint and converts its delta events into
// a fragment stream.
func (p *Proxy) Stream(ctx context.Context, history []chat.Turn, query string) (*schema.StreamReader[*schema.Message], error) {
	body, err := json.Marshal(chatRequest{History: history, Message: query})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat/stream", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat stream request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeErrorBody(resp)
	}

	sr, sw := schema.Pipe[*schema.Message](8)
	go relayEvents(resp.Body, sw)
	return sr, nil
}

// relayEvents reads "data: " lines off the SSE body and forwards delta
// payloads as assistant message fragments until the end or error event.
func relayEvents(body io.ReadCloser, sw *schema.StreamWriter[*schema.Message]) {
	defer body.Close()
	defer sw.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			sw.Send(nil, fmt.Errorf("malformed stream event: %w", err))
			return
		}

		switch ev.Event {
		case "delta":
			if ev.Content != "" {
				sw.Send(schema.AssistantMessage(ev.Content, nil), nil)
			}
		case "error":
			sw.Send(nil, errors.New(ev.Error))
			return
		case "end":
			return
		}
	}
	if err := scanner.Err(); err != nil {
		sw.Send(nil, fmt.Errorf("chat stream interrupted: %w", err))
	}
}

// Generate asks the proxy for one complete reply.
func (p *Proxy) Generate(ctx context.Context, history []chat.Turn, query string) (string, error) {
	var out struct {
		Reply string `json:"reply"`
	}
	if err := p.postJSON(ctx, "/api/chat", chatRequest{History: history, Message: query}, &out); err != nil {
		return "", err
	}
	return out.Reply, nil
}

type imageRequest struct {
	Prompt string `json:"prompt"`
	Style  string `json:"style,omitempty"`
}

// GenerateImage asks the proxy for one image and unpacks the returned
// data URI. It satisfies the image generator contract.
func (p *Proxy) GenerateImage(ctx context.Context, prompt string) (*imageservice.Result, error) {
	var out struct {
		ImageURL string `json:"imageUrl"`
		Prompt   string `json:"prompt"`
	}
	if err := p.postJSON(ctx, "/api/image", imageRequest{Prompt: prompt}, &out); err != nil {
		return nil, err
	}
	return parseDataURI(out.ImageURL, out.Prompt)
}

// ImageGenerator adapts the proxy to the image generator contract.
func (p *Proxy) ImageGenerator() imageservice.Generator {
	return imageProxy{p: p}
}

type imageProxy struct {
	p *Proxy
}

func (g imageProxy) Generate(ctx context.Context, prompt string) (*imageservice.Result, error) {
	return g.p.GenerateImage(ctx, prompt)
}

// parseDataURI splits "data:<mime>;base64,<payload>" back into a result.
func parseDataURI(uri, prompt string) (*imageservice.Result, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, fmt.Errorf("unexpected image payload %q", truncate(uri, 40))
	}
	mimeType, encoded, ok := strings.Cut(rest, ";base64,")
	if !ok {
		return nil, fmt.Errorf("unexpected image payload %q", truncate(uri, 40))
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode image payload: %w", err)
	}
	return &imageservice.Result{MIMEType: mimeType, Data: data, Prompt: prompt}, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func (p *Proxy) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	ctx, cancel := context.WithTimeout(ctx, 90*time.Second)
	defer cancel()
	resp, err := p.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("proxy request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeErrorBody(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode proxy response: %w", err)
	}
	return nil
}

// decodeErrorBody surfaces the proxy's structured {error} payload when
// present, falling back to the status text.
func decodeErrorBody(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		return fmt.Errorf("proxy returned %d: %s", resp.StatusCode, payload.Error)
	}
	return fmt.Errorf("proxy returned %d", resp.StatusCode)
}
