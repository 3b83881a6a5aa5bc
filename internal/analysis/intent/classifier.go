package intent

import "strings"

// Intent 表示一条用户输入应当走哪条处理链路。
type Intent string

const (
	Text  Intent = "text"
	Image Intent = "image"
)

// commands are explicit image triggers when they lead the trimmed input.
var commands = []string{"/image", "/img", "/photo"}

// keywords trigger the image flow on a bare substring match. Any hit wins,
// even in a clearly conversational sentence ("can you design a study
// plan?"): text is the fallback only.
var keywords = []string{
	"image", "picture", "draw", "photo", "illustrate",
	"design", "generate", "sketch", "paint", "art of",
}

// Classify maps free-form input to a processing intent. Pure and
// deterministic: lower-cases and trims, then checks command tokens and
// keyword substrings.
func Classify(raw string) Intent {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return Text
	}

	for _, cmd := range commands {
		if strings.HasPrefix(normalized, cmd) {
			return Image
		}
	}

	for _, word := range keywords {
		if strings.Contains(normalized, word) {
			return Image
		}
	}

	return Text
}

// StripCommand removes a leading command token (and following whitespace)
// from the prompt. When stripping leaves nothing, the original input is
// returned so the capability still receives a usable prompt.
func StripCommand(raw string) string {
	trimmed := strings.TrimSpace(raw)
	lowered := strings.ToLower(trimmed)

	for _, cmd := range commands {
		if !strings.HasPrefix(lowered, cmd) {
			continue
		}
		rest := strings.TrimSpace(trimmed[len(cmd):])
		if rest == "" {
			return raw
		}
		return rest
	}

	return trimmed
}
