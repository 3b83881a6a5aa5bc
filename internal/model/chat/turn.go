package chat

// Role tags one side of the remote context window.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single role-tagged exchange as the remote capability sees it.
// The remote window only ever tracks plain text: image-bearing messages and
// the synthetic welcome never become turns.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// TurnsFromMessages projects a message log into the remote context window,
// dropping the welcome message and anything carrying an image.
func TurnsFromMessages(messages []Message) []Turn {
	turns := make([]Turn, 0, len(messages))
	for _, msg := range messages {
		if msg.IsWelcome() || msg.Image != "" {
			continue
		}
		role := RoleUser
		if msg.Sender == SenderAssistant {
			role = RoleAssistant
		}
		turns = append(turns, Turn{Role: role, Text: msg.Text})
	}
	return turns
}
