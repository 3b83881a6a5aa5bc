package chat

import (
	"time"

	"github.com/google/uuid"
)

// Sender identifies which side of the conversation produced a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// WelcomeText is the fixed greeting seeded on fresh or cleared history.
const WelcomeText = `Hi, I'm Lumina! Ask me anything, or ask me to draw something. Try "/image a cat in a hat".`

// Message is one conversational turn in the local log.
//
// Image carries an inline data URI and is only set on assistant messages
// produced by the image flow; such messages are finalized at creation and
// never mutated afterwards. Timestamp is nil on the synthetic welcome
// message.
type Message struct {
	ID        string     `json:"id"`
	Sender    Sender     `json:"sender"`
	Text      string     `json:"text"`
	Image     string     `json:"image,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// NewMessage builds a timestamped message with a fresh identifier.
func NewMessage(sender Sender, text string) Message {
	now := time.Now().UTC()
	return Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Text:      text,
		Timestamp: &now,
	}
}

// Welcome returns the synthetic assistant greeting. It carries no timestamp
// so a reseeded log looks the same across restarts.
func Welcome() Message {
	return Message{
		ID:     uuid.NewString(),
		Sender: SenderAssistant,
		Text:   WelcomeText,
	}
}

// IsWelcome reports whether the message is the synthetic greeting.
func (m Message) IsWelcome() bool {
	return m.Sender == SenderAssistant && m.Timestamp == nil && m.Text == WelcomeText
}
