// Package conversation owns the client-side conversation state: the
// ordered message log and the streaming session against the remote chat
// capability.
package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/liuwenjie/lumina/backend/internal/model/chat"
	"github.com/liuwenjie/lumina/backend/internal/service/history"
)

// historyKey is the persistence slot mirroring the log.
const historyKey = "messages"

// Log is the ordered, append/update message sequence. It is the single
// source of truth for rendering and for rebuilding remote context. Every
// mutation is mirrored into the history store; persistence failures are
// logged and swallowed, never surfaced to the caller.
type Log struct {
	mu    sync.RWMutex
	msgs  []chat.Message
	store history.Store
}

// NewLog loads the persisted snapshot, or seeds the welcome message when
// the snapshot is absent or unreadable. A nil store disables persistence.
func NewLog(store history.Store) *Log {
	l := &Log{store: store}
	l.msgs = l.load()
	return l
}

func (l *Log) load() []chat.Message {
	if l.store == nil {
		return []chat.Message{chat.Welcome()}
	}

	raw, err := l.store.Get(historyKey)
	if err != nil {
		if !errors.Is(err, history.ErrNotFound) {
			log.Printf("[conversation] failed to read history, reseeding: %v", err)
		}
		return []chat.Message{chat.Welcome()}
	}

	var msgs []chat.Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil || len(msgs) == 0 {
		log.Printf("[conversation] corrupt history snapshot, reseeding: %v", err)
		return []chat.Message{chat.Welcome()}
	}
	return msgs
}

// Append inserts a message at the end, preserving arrival order.
func (l *Log) Append(msg chat.Message) {
	l.mu.Lock()
	l.msgs = append(l.msgs, msg)
	l.persistLocked()
	l.mu.Unlock()
}

// UpdateByID applies mutate to the message with the given id. Missing ids
// are a no-op, so it is safe to call repeatedly for incremental streaming
// updates. Only Text is mutable: identity, sender, timestamp and image
// payload survive the mutator untouched, and image-bearing messages are
// never altered at all.
func (l *Log) UpdateByID(id string, mutate func(*chat.Message)) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.msgs {
		if l.msgs[i].ID != id {
			continue
		}
		if l.msgs[i].Image != "" {
			return
		}
		updated := l.msgs[i]
		mutate(&updated)
		updated.ID = l.msgs[i].ID
		updated.Sender = l.msgs[i].Sender
		updated.Image = l.msgs[i].Image
		updated.Timestamp = l.msgs[i].Timestamp
		l.msgs[i] = updated
		l.persistLocked()
		return
	}
}

// ReplaceAll swaps the entire log content. An empty replacement reseeds
// the welcome message so the log never becomes empty.
func (l *Log) ReplaceAll(msgs []chat.Message) {
	l.mu.Lock()
	if len(msgs) == 0 {
		l.msgs = []chat.Message{chat.Welcome()}
	} else {
		l.msgs = append([]chat.Message(nil), msgs...)
	}
	l.persistLocked()
	l.mu.Unlock()
}

// Reset returns the log to its single-welcome-message state and clears the
// persisted snapshot.
func (l *Log) Reset() {
	l.mu.Lock()
	l.msgs = []chat.Message{chat.Welcome()}
	if l.store != nil {
		if err := l.store.Remove(historyKey); err != nil {
			log.Printf("[conversation] failed to clear history: %v", err)
		}
	}
	l.mu.Unlock()
}

// Messages returns a copy of the current log.
func (l *Log) Messages() []chat.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	copied := make([]chat.Message, len(l.msgs))
	copy(copied, l.msgs)
	return copied
}

// Turns projects the log into the remote context window.
func (l *Log) Turns() []chat.Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return chat.TurnsFromMessages(l.msgs)
}

// LastUserMessage scans backward for the most recent user turn.
func (l *Log) LastUserMessage() (chat.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.msgs) - 1; i >= 0; i-- {
		if l.msgs[i].Sender == chat.SenderUser {
			return l.msgs[i], true
		}
	}
	return chat.Message{}, false
}

// ExportJSON serializes the full log as indented JSON together with a
// timestamped download filename.
func (l *Log) ExportJSON() (string, []byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	data, err := json.MarshalIndent(l.msgs, "", "  ")
	if err != nil {
		return "", nil, err
	}
	name := fmt.Sprintf("lumina-history-%s.json", time.Now().UTC().Format("20060102-150405"))
	return name, data, nil
}

// persistLocked mirrors the log into the store. Callers hold l.mu.
func (l *Log) persistLocked() {
	if l.store == nil {
		return
	}
	data, err := json.Marshal(l.msgs)
	if err != nil {
		log.Printf("[conversation] failed to encode history: %v", err)
		return
	}
	if err := l.store.Set(historyKey, string(data)); err != nil {
		log.Printf("[conversation] failed to persist history: %v", err)
	}
}
