package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// startFrame opens a recognition session on the transcription relay.
type startFrame struct {
	Type       string `json:"type"`
	Language   string `json:"language"`
	ResultType string `json:"resultType"`
}

// WSRecognizer implements Recognizer over a websocket transcription
// endpoint speaking JSON transcript frames.
type WSRecognizer struct {
	url    string
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSRecognizer creates a recognizer for the given websocket URL.
func NewWSRecognizer(url string) *WSRecognizer {
	return &WSRecognizer{
		url: url,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 30 * time.Second,
		},
	}
}

// Start dials the endpoint, requests final-result-only recognition for the
// language tag, and returns the transcript channel. The channel closes
// when the remote side ends the session or an error occurs.
func (r *WSRecognizer) Start(ctx context.Context, language string) (<-chan Transcript, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		return nil, fmt.Errorf("recognition session already open")
	}

	conn, _, err := r.dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	start := startFrame{Type: "start", Language: language, ResultType: "final"}
	if err := conn.WriteJSON(start); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open recognition session: %w", err)
	}

	r.conn = conn
	results := make(chan Transcript, 8)
	go r.readLoop(conn, results)
	return results, nil
}

// Stop closes the session. Safe to call when no session is open.
func (r *WSRecognizer) Stop() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil {
		return nil
	}

	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return conn.Close()
}

func (r *WSRecognizer) readLoop(conn *websocket.Conn, results chan<- Transcript) {
	defer close(results)
	defer func() {
		r.mu.Lock()
		if r.conn == conn {
			r.conn = nil
		}
		r.mu.Unlock()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[voice] recognition stream closed: %v", err)
			}
			return
		}

		var tr Transcript
		if err := json.Unmarshal(payload, &tr); err != nil {
			log.Printf("[voice] malformed transcript frame: %v", err)
			continue
		}
		results <- tr
	}
}
