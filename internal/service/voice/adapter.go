// Package voice wraps an external continuous speech-to-text capability
// into a start/stop toggle feeding the composer.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
)

// ErrUnavailable reports that no recognition capability exists on this
// host. Callers surface it as an immediate user-visible notice; there is
// no fallback transcription.
var ErrUnavailable = errors.New("speech recognition is not available")

// Transcript is one recognition result. Only final results are delivered
// in this design: one result per utterance.
type Transcript struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// Recognizer is the external speech capability contract. Start opens one
// continuous recognition session; the returned channel closes on error or
// natural end. Stop tears the session down.
type Recognizer interface {
	Start(ctx context.Context, language string) (<-chan Transcript, error)
	Stop() error
}

// Adapter turns a Recognizer into a reentrant-safe listening toggle.
type Adapter struct {
	rec      Recognizer
	language string

	mu        sync.Mutex
	listening bool

	onTranscript func(text string)
	onState      func(listening bool)
}

// NewAdapter wires the adapter to a recognizer. A nil recognizer means the
// capability is absent on this host.
func NewAdapter(rec Recognizer, language string) *Adapter {
	return &Adapter{rec: rec, language: language}
}

// OnTranscript registers the callback receiving each final transcript.
func (a *Adapter) OnTranscript(fn func(text string)) {
	a.mu.Lock()
	a.onTranscript = fn
	a.mu.Unlock()
}

// OnState registers the callback observing listening transitions.
func (a *Adapter) OnState(fn func(listening bool)) {
	a.mu.Lock()
	a.onState = fn
	a.mu.Unlock()
}

// Listening reports whether a recognition session is active.
func (a *Adapter) Listening() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listening
}

// Start opens a recognition session. Calling it while already listening is
// a no-op; it never duplicates listeners. The listening state is claimed
// under the lock before the recognizer is invoked, so overlapping Start
// calls cannot both open a session regardless of how the recognizer
// behaves.
func (a *Adapter) Start(ctx context.Context) error {
	if a.rec == nil {
		return ErrUnavailable
	}

	a.mu.Lock()
	if a.listening {
		a.mu.Unlock()
		return nil
	}
	a.listening = true
	fn := a.onState
	a.mu.Unlock()
	if fn != nil {
		fn(true)
	}

	results, err := a.rec.Start(ctx, a.language)
	if err != nil {
		a.setListening(false)
		return fmt.Errorf("failed to start speech recognition: %w", err)
	}

	go a.consume(results)
	return nil
}

// Stop ends the session. It is idempotent and swallows errors from the
// underlying capability.
func (a *Adapter) Stop() {
	a.mu.Lock()
	listening := a.listening
	a.mu.Unlock()
	if !listening {
		return
	}

	if err := a.rec.Stop(); err != nil {
		log.Printf("[voice] recognizer stop: %v", err)
	}
}

// consume drains results until the capability ends the session, naturally
// or with an error. Either way the adapter stops listening.
func (a *Adapter) consume(results <-chan Transcript) {
	for tr := range results {
		if !tr.Final || tr.Text == "" {
			continue
		}
		a.mu.Lock()
		fn := a.onTranscript
		a.mu.Unlock()
		if fn != nil {
			fn(tr.Text)
		}
	}
	a.setListening(false)
}

func (a *Adapter) setListening(listening bool) {
	a.mu.Lock()
	changed := a.listening != listening
	a.listening = listening
	fn := a.onState
	a.mu.Unlock()
	if changed && fn != nil {
		fn(listening)
	}
}
