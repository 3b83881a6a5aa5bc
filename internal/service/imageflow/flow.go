// Package imageflow runs the one-shot image generation cycle and the
// synthetic progress indicator that accompanies it.
package imageflow

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/liuwenjie/lumina/backend/internal/analysis/intent"
	"github.com/liuwenjie/lumina/backend/internal/model/chat"
	"github.com/liuwenjie/lumina/backend/internal/service/image"
)

// FailureCaption is the fixed log-visible text appended on any failure.
const FailureCaption = "Image generation failed."

// ErrBusy rejects a generation while another one is still in flight.
var ErrBusy = errors.New("an image generation is already in flight")

// Synthetic progress tuning. The indicator has no causal link to real
// completion: it climbs from a floor by random steps until the response
// arrives, then snaps to the terminal values.
const (
	progressFloor = 10
	progressCap   = 88
	arrivalValue  = 80
	doneValue     = 100
	maxStep       = 12
)

// Flow drives the image capability and exposes an advisory progress value.
type Flow struct {
	generator image.Generator

	mu       sync.Mutex
	progress int
	inFlight bool

	tick       time.Duration
	resetDelay time.Duration
}

// New wires a flow to the given capability.
func New(generator image.Generator) *Flow {
	return &Flow{
		generator:  generator,
		tick:       380 * time.Millisecond,
		resetDelay: 900 * time.Millisecond,
	}
}

// Progress returns the current advisory progress value (0–100).
func (f *Flow) Progress() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.progress
}

// InFlight reports whether a generation is currently active.
func (f *Flow) InFlight() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight
}

// Generate strips a leading command token from raw, calls the image
// capability once, and returns the assistant message to append: an inline
// image plus caption on success, the fixed failure caption otherwise. The
// error (when non-nil) is a *chat.FlowError; a refusal without inline data
// is indistinguishable from a transport failure.
func (f *Flow) Generate(ctx context.Context, raw string) (chat.Message, error) {
	f.mu.Lock()
	if f.inFlight {
		f.mu.Unlock()
		return chat.Message{}, ErrBusy
	}
	f.inFlight = true
	f.mu.Unlock()

	prompt := intent.StripCommand(raw)

	// The ticker races the real request; whatever the outcome, it is
	// cancelled before this function returns.
	tickerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go f.advance(tickerCtx)

	result, err := f.generator.Generate(ctx, prompt)
	cancel()

	f.mu.Lock()
	f.inFlight = false
	f.progress = arrivalValue
	f.mu.Unlock()

	if err != nil {
		f.scheduleReset()
		return chat.NewMessage(chat.SenderAssistant, FailureCaption),
			chat.NewFlowError("image", fmt.Sprintf("image generation failed: %v", err), err)
	}

	f.setProgress(doneValue)
	f.scheduleReset()

	msg := chat.NewMessage(chat.SenderAssistant, fmt.Sprintf("Here is your image for: %q", result.Prompt))
	msg.Image = result.DataURI()
	return msg, nil
}

// advance drives the synthetic indicator until cancelled.
func (f *Flow) advance(ctx context.Context) {
	f.setProgress(progressFloor)

	ticker := time.NewTicker(f.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.mu.Lock()
			if !f.inFlight {
				f.mu.Unlock()
				return
			}
			f.progress += rand.Intn(maxStep + 1)
			if f.progress > progressCap {
				f.progress = progressCap
			}
			f.mu.Unlock()
		}
	}
}

// scheduleReset clears the indicator shortly after completion, unless a
// new generation has already started.
func (f *Flow) scheduleReset() {
	time.AfterFunc(f.resetDelay, func() {
		f.mu.Lock()
		if !f.inFlight {
			f.progress = 0
		}
		f.mu.Unlock()
	})
}

func (f *Flow) setProgress(value int) {
	f.mu.Lock()
	f.progress = value
	f.mu.Unlock()
}
