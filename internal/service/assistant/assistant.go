// Package assistant is the top-level conversation controller: it routes
// composer input through the intent classifier into either the streaming
// chat session or the image flow, and owns the last-error slot shown to
// the user.
package assistant

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/liuwenjie/lumina/backend/internal/analysis/intent"
	"github.com/liuwenjie/lumina/backend/internal/model/chat"
	"github.com/liuwenjie/lumina/backend/internal/service/conversation"
	"github.com/liuwenjie/lumina/backend/internal/service/imageflow"
	"github.com/liuwenjie/lumina/backend/internal/service/voice"
)

// ChatFailureText overwrites a partially streamed reply when the stream
// aborts; the log never keeps a half-written assistant message.
const ChatFailureText = "Sorry, something went wrong while answering. Please try again."

// Assistant owns the conversation state machine. All remote-call errors
// stop here: they become a log-visible message plus the last-error slot,
// and never propagate to callers as panics or unhandled failures.
type Assistant struct {
	msgLog   *conversation.Log
	streamer conversation.Streamer
	flow     *imageflow.Flow
	voice    *voice.Adapter

	mu         sync.Mutex
	session    *conversation.Session
	generation uint64
	composer   string
	lastErr    string
	onUpdate   func(chat.Message)
}

// New wires the controller. The session starts from whatever context the
// loaded log provides; voiceAdapter may be nil when the capability is
// absent.
func New(msgLog *conversation.Log, streamer conversation.Streamer, flow *imageflow.Flow, voiceAdapter *voice.Adapter) *Assistant {
	a := &Assistant{
		msgLog:   msgLog,
		streamer: streamer,
		flow:     flow,
		voice:    voiceAdapter,
	}
	a.session = conversation.NewSession(streamer, msgLog.Turns(), a.generation)

	if voiceAdapter != nil {
		voiceAdapter.OnTranscript(a.appendToComposer)
	}
	return a
}

// Log exposes the message log for rendering.
func (a *Assistant) Log() *conversation.Log {
	return a.msgLog
}

// OnUpdate registers a callback observing every appended or updated
// message, for incremental rendering.
func (a *Assistant) OnUpdate(fn func(chat.Message)) {
	a.mu.Lock()
	a.onUpdate = fn
	a.mu.Unlock()
}

// Composer returns the current draft input.
func (a *Assistant) Composer() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.composer
}

// SetComposer replaces the draft input.
func (a *Assistant) SetComposer(text string) {
	a.mu.Lock()
	a.composer = text
	a.mu.Unlock()
}

// appendToComposer space-joins recognized text onto the draft instead of
// replacing it.
func (a *Assistant) appendToComposer(text string) {
	a.mu.Lock()
	if a.composer == "" {
		a.composer = text
	} else {
		a.composer += " " + text
	}
	a.mu.Unlock()
}

// LastError returns the dismissible error banner text, empty when clear.
func (a *Assistant) LastError() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

// DismissError clears the banner.
func (a *Assistant) DismissError() {
	a.mu.Lock()
	a.lastErr = ""
	a.mu.Unlock()
}

// Busy reports whether a chat send or image generation is in flight. New
// submissions are rejected while true; an in-flight call cannot be
// aborted.
func (a *Assistant) Busy() bool {
	a.mu.Lock()
	session := a.session
	a.mu.Unlock()
	return session.InFlight() || a.flow.InFlight()
}

// Submit consumes the composer and runs the normal submit path:
// classifier, then session or image flow. Empty input is a no-op; while
// busy it returns conversation.ErrBusy without touching the log.
func (a *Assistant) Submit(ctx context.Context) error {
	text := strings.TrimSpace(a.Composer())
	if text == "" {
		return nil
	}
	if a.Busy() {
		return conversation.ErrBusy
	}
	a.SetComposer("")

	a.appendMessage(chat.NewMessage(chat.SenderUser, text))

	switch intent.Classify(text) {
	case intent.Image:
		return a.generateImage(ctx, text)
	default:
		return a.sendChat(ctx, text)
	}
}

// RetryLast re-populates the composer from the most recent user message
// and re-enters the normal submit path. This is a fresh submission, not a
// replay: classification and remote state may differ from the original
// attempt. With no prior user message it is a no-op.
func (a *Assistant) RetryLast(ctx context.Context) error {
	last, ok := a.msgLog.LastUserMessage()
	if !ok {
		return nil
	}
	a.SetComposer(last.Text)
	return a.Submit(ctx)
}

// ClearHistory resets the log to the welcome message and recreates the
// session under a new generation, dropping all remote context.
func (a *Assistant) ClearHistory() {
	a.msgLog.Reset()

	a.mu.Lock()
	a.generation++
	a.session = conversation.NewSession(a.streamer, nil, a.generation)
	a.mu.Unlock()
}

// Generation identifies the current session generation.
func (a *Assistant) Generation() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.generation
}

// Export serializes the full log as an indented JSON download.
func (a *Assistant) Export() (string, []byte, error) {
	return a.msgLog.ExportJSON()
}

// ImageProgress exposes the advisory progress value for display.
func (a *Assistant) ImageProgress() int {
	return a.flow.Progress()
}

// StartVoice toggles speech capture on. Without a recognition capability
// it returns voice.ErrUnavailable immediately.
func (a *Assistant) StartVoice(ctx context.Context) error {
	if a.voice == nil {
		return voice.ErrUnavailable
	}
	return a.voice.Start(ctx)
}

// StopVoice toggles speech capture off; safe to call at any time.
func (a *Assistant) StopVoice() {
	if a.voice != nil {
		a.voice.Stop()
	}
}

// Listening reports whether voice capture is active.
func (a *Assistant) Listening() bool {
	return a.voice != nil && a.voice.Listening()
}

// sendChat streams the reply into one pre-allocated assistant message,
// created empty so the UI can show a pending state before the first
// fragment arrives.
func (a *Assistant) sendChat(ctx context.Context, text string) error {
	pending := chat.NewMessage(chat.SenderAssistant, "")
	a.appendMessage(pending)

	session := a.currentSession()
	_, err := session.Send(ctx, text, func(full string) {
		a.updateMessage(pending.ID, full)
	})
	if err != nil {
		log.Printf("[assistant] chat send failed: %v", err)
		a.updateMessage(pending.ID, ChatFailureText)
		a.recordError(err)
		return nil
	}
	return nil
}

// generateImage runs the one-shot image cycle and appends its outcome
// message, success or failure alike.
func (a *Assistant) generateImage(ctx context.Context, text string) error {
	msg, err := a.flow.Generate(ctx, text)
	if errors.Is(err, imageflow.ErrBusy) {
		return err
	}
	if err != nil {
		log.Printf("[assistant] image generation failed: %v", err)
		a.recordError(err)
	}
	a.appendMessage(msg)
	return nil
}

func (a *Assistant) currentSession() *conversation.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

func (a *Assistant) appendMessage(msg chat.Message) {
	a.msgLog.Append(msg)
	a.notify(msg)
}

func (a *Assistant) updateMessage(id, text string) {
	a.msgLog.UpdateByID(id, func(m *chat.Message) { m.Text = text })
	for _, m := range a.msgLog.Messages() {
		if m.ID == id {
			a.notify(m)
			return
		}
	}
}

func (a *Assistant) recordError(err error) {
	a.mu.Lock()
	a.lastErr = err.Error()
	a.mu.Unlock()
}

func (a *Assistant) notify(msg chat.Message) {
	a.mu.Lock()
	fn := a.onUpdate
	a.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}
