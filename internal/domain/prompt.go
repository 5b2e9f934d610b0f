package domain

import "time"

// PromptVersion is one immutable revision of a named prompt.
type PromptVersion struct {
	Name      string    `json:"name"`
	Version   int       `json:"version"`
	Content   string    `json:"content"`
	Labels    []string  `json:"labels,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
