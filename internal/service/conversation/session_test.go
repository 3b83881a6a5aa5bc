package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/liuwenjie/lumina/backend/internal/model/chat"
)

// scriptedStreamer replays canned fragments, optionally ending in an error.
type scriptedStreamer struct {
	mu        sync.Mutex
	fragments []string
	failWith  error
	calls     int
	lastturns []chat.Turn
	block     chan struct{}
}

func (s *scriptedStreamer) Stream(_ context.Context, history []chat.Turn, _ string) (*schema.StreamReader[*schema.Message], error) {
	s.mu.Lock()
	s.calls++
	s.lastturns = history
	block := s.block
	s.mu.Unlock()

	sr, sw := schema.Pipe[*schema.Message](len(s.fragments) + 1)
	go func() {
		defer sw.Close()
		if block != nil {
			<-block
		}
		for _, frag := range s.fragments {
			sw.Send(schema.AssistantMessage(frag, nil), nil)
		}
		if s.failWith != nil {
			sw.Send(nil, s.failWith)
		}
	}()
	return sr, nil
}

func TestSendConcatenatesFragmentsInOrder(t *testing.T) {
	streamer := &scriptedStreamer{fragments: []string{"Hel", "lo"}}
	session := NewSession(streamer, nil, 1)

	var growths []string
	final, err := session.Send(context.Background(), "hi", func(full string) {
		growths = append(growths, full)
	})
	if err != nil {
		t.Fatalf("Send err: %v", err)
	}
	if final != "Hello" {
		t.Fatalf("expected final text Hello, got %q", final)
	}
	if len(growths) != 2 || growths[0] != "Hel" || growths[1] != "Hello" {
		t.Fatalf("expected exactly two growth updates, got %v", growths)
	}
}

func TestSendAccumulatesContextAcrossSends(t *testing.T) {
	streamer := &scriptedStreamer{fragments: []string{"sure"}}
	session := NewSession(streamer, []chat.Turn{{Role: chat.RoleUser, Text: "earlier"}}, 1)

	if _, err := session.Send(context.Background(), "first", nil); err != nil {
		t.Fatalf("first Send err: %v", err)
	}
	if _, err := session.Send(context.Background(), "second", nil); err != nil {
		t.Fatalf("second Send err: %v", err)
	}

	// Second call must see prior turn + first exchange.
	if len(streamer.lastturns) != 3 {
		t.Fatalf("expected 3 turns in window, got %d: %+v", len(streamer.lastturns), streamer.lastturns)
	}
}

func TestSendStreamFailureIsFlowError(t *testing.T) {
	streamer := &scriptedStreamer{
		fragments: []string{"par"},
		failWith:  errors.New("boom"),
	}
	session := NewSession(streamer, nil, 1)

	_, err := session.Send(context.Background(), "hi", nil)
	if err == nil {
		t.Fatal("expected stream failure")
	}
	var flowErr *chat.FlowError
	if !errors.As(err, &flowErr) {
		t.Fatalf("expected FlowError, got %T: %v", err, err)
	}
	if flowErr.Message == "" {
		t.Fatal("FlowError carries no human-readable message")
	}

	// The failed exchange must not enter the context window.
	if len(session.turns) != 0 {
		t.Fatalf("failed exchange leaked into context: %+v", session.turns)
	}
}

func TestSendRejectsConcurrentCalls(t *testing.T) {
	block := make(chan struct{})
	streamer := &scriptedStreamer{fragments: []string{"ok"}, block: block}
	session := NewSession(streamer, nil, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := session.Send(context.Background(), "first", nil); err != nil {
			t.Errorf("first Send err: %v", err)
		}
	}()

	// Wait until the first send is in flight, then try a second one.
	for !session.InFlight() {
		time.Sleep(time.Millisecond)
	}
	if _, err := session.Send(context.Background(), "second", nil); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	close(block)
	<-done

	if session.InFlight() {
		t.Fatal("in-flight flag not cleared after completion")
	}
}
