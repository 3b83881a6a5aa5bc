package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/liuwenjie/lumina/backend/internal/model/chat"
)

// ErrBusy rejects a send while another one is still in flight.
var ErrBusy = errors.New("a chat request is already in flight")

// Streamer abstracts the remote chat capability: given the context window
// and a new user turn, it yields an ordered stream of response fragments.
type Streamer interface {
	Stream(ctx context.Context, history []chat.Turn, query string) (*schema.StreamReader[*schema.Message], error)
}

// Session owns the remote context window for one conversation generation.
// It is recreated (with a bumped generation) whenever the log resets;
// between resets it persists across sends so the remote side keeps
// multi-turn context.
type Session struct {
	mu         sync.Mutex
	streamer   Streamer
	turns      []chat.Turn
	generation uint64
	inFlight   bool
}

// NewSession initializes the remote context from prior non-welcome,
// non-image turns.
func NewSession(streamer Streamer, prior []chat.Turn, generation uint64) *Session {
	return &Session{
		streamer:   streamer,
		turns:      append([]chat.Turn(nil), prior...),
		generation: generation,
	}
}

// Generation identifies which log generation this session belongs to.
func (s *Session) Generation() uint64 {
	return s.generation
}

// InFlight reports whether a send is currently active.
func (s *Session) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Send issues the user turn and consumes the fragment stream, invoking
// onGrowth with the concatenated text after every fragment. It blocks until
// the stream terminates and returns the final text.
//
// Only one send may be in flight at a time; a second call returns ErrBusy
// without touching the stream. Fragments arrive serially and in order. Any
// transport or provider failure aborts the stream and comes back as a
// *chat.FlowError; the partial text is discarded from the context window.
func (s *Session) Send(ctx context.Context, text string, onGrowth func(full string)) (string, error) {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return "", ErrBusy
	}
	s.inFlight = true
	window := append([]chat.Turn(nil), s.turns...)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	stream, err := s.streamer.Stream(ctx, window, text)
	if err != nil {
		return "", chat.NewFlowError("chat", fmt.Sprintf("chat request failed: %v", err), err)
	}
	defer stream.Close()

	var builder strings.Builder
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return "", chat.NewFlowError("chat", fmt.Sprintf("chat streaming failed: %v", recvErr), recvErr)
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		builder.WriteString(chunk.Content)
		if onGrowth != nil {
			onGrowth(builder.String())
		}
	}

	final := builder.String()

	s.mu.Lock()
	s.turns = append(s.turns,
		chat.Turn{Role: chat.RoleUser, Text: text},
		chat.Turn{Role: chat.RoleAssistant, Text: final},
	)
	s.mu.Unlock()

	return final, nil
}
