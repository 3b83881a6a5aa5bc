package style

// Style describes an image generation preset exposed to the frontend.
type Style struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// PromptSuffix is appended to the user prompt before it reaches the
	// image capability.
	PromptSuffix string `json:"promptSuffix,omitempty"`
}

// Store exposes style retrieval for HTTP handlers.
type Store interface {
	List() []Style
	FindByID(id string) (Style, bool)
}

// MemoryStore implements Store with an in-memory slice, suitable for a
// fixed preset catalogue.
type MemoryStore struct {
	items []Style
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied styles.
func NewMemoryStore(items []Style) *MemoryStore {
	return &MemoryStore{items: append([]Style(nil), items...)}
}

// List returns the predefined style list.
func (s *MemoryStore) List() []Style {
	return append([]Style(nil), s.items...)
}

// FindByID looks up a style by identifier.
func (s *MemoryStore) FindByID(id string) (Style, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Style{}, false
}

// Seed provides the default style presets.
func Seed() []Style {
	return []Style{
		{
			ID:           "photo",
			Name:         "Photorealistic",
			Description:  "Natural lighting, high detail, shot on a full-frame camera.",
			PromptSuffix: "photorealistic, natural lighting, high detail",
		},
		{
			ID:           "illustration",
			Name:         "Illustration",
			Description:  "Flat colors and clean line work, editorial illustration feel.",
			PromptSuffix: "flat color illustration, clean line work",
		},
		{
			ID:           "watercolor",
			Name:         "Watercolor",
			Description:  "Soft washes and visible paper texture.",
			PromptSuffix: "watercolor painting, soft washes, paper texture",
		},
		{
			ID:          "none",
			Name:        "No styling",
			Description: "Send the prompt exactly as written.",
		},
	}
}
