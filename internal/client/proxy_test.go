package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/liuwenjie/lumina/backend/internal/model/chat"
)

func sseServer(t *testing.T, events []streamEvent) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat/stream" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, ev := range events {
			payload, _ := json.Marshal(ev)
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}))
}

func collect(t *testing.T, p *Proxy) (string, error) {
	t.Helper()
	stream, err := p.Stream(context.Background(), nil, "hello")
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			return sb.String(), nil
		}
		if recvErr != nil {
			return sb.String(), recvErr
		}
		sb.WriteString(chunk.Content)
	}
}

func TestStreamDeliversDeltas(t *testing.T) {
	srv := sseServer(t, []streamEvent{
		{Event: "delta", Content: "Hel"},
		{Event: "delta", Content: "lo"},
		{Event: "message", Content: "Hello"},
		{Event: "end", Finished: true},
	})
	defer srv.Close()

	got, err := collect(t, NewProxy(srv.URL))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got != "Hello" {
		t.Fatalf("expected Hello, got %q", got)
	}
}

func TestStreamSurfacesErrorEvent(t *testing.T) {
	srv := sseServer(t, []streamEvent{
		{Event: "delta", Content: "par"},
		{Event: "error", Error: "provider down"},
	})
	defer srv.Close()

	partial, err := collect(t, NewProxy(srv.URL))
	if err == nil || !strings.Contains(err.Error(), "provider down") {
		t.Fatalf("expected provider error, got %v", err)
	}
	if partial != "par" {
		t.Fatalf("expected partial fragments before failure, got %q", partial)
	}
}

func TestStreamRejectedWithStructuredError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded, try again later"})
	}))
	defer srv.Close()

	_, err := NewProxy(srv.URL).Stream(context.Background(), nil, "hello")
	if err == nil || !strings.Contains(err.Error(), "rate limit exceeded") {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}

func TestGenerateForwardsHistory(t *testing.T) {
	var seen chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&seen)
		json.NewEncoder(w).Encode(map[string]string{"reply": "hi"})
	}))
	defer srv.Close()

	history := []chat.Turn{{Role: chat.RoleUser, Text: "earlier"}}
	reply, err := NewProxy(srv.URL).Generate(context.Background(), history, "hello")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if reply != "hi" {
		t.Fatalf("unexpected reply %q", reply)
	}
	if len(seen.History) != 1 || seen.Message != "hello" {
		t.Fatalf("request not forwarded: %+v", seen)
	}
}

func TestGenerateImageUnpacksDataURI(t *testing.T) {
	raw := []byte("fake-png-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/image" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"imageUrl": "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw),
			"prompt":   "a cat",
		})
	}))
	defer srv.Close()

	result, err := NewProxy(srv.URL).ImageGenerator().Generate(context.Background(), "a cat")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if result.MIMEType != "image/png" || string(result.Data) != string(raw) {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Prompt != "a cat" {
		t.Fatalf("unexpected prompt %q", result.Prompt)
	}
}
