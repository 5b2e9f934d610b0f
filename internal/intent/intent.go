// Package intent classifies an incoming customer message into a routing label.
package intent

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/supportchat/internal/llm"
	"github.com/ashureev/supportchat/internal/prompt"
)

// Intent selects how a reply is composed.
type Intent string

// Labels emitted by the classifier model.
const (
	NoRAG  Intent = "НЕ_ИСПОЛЬЗОВАТЬ_RAG"
	UseRAG Intent = "ИСПОЛЬЗОВАТЬ_RAG"
	Lead   Intent = "ОЦЕНИТЬ_ЛИДА"
)

// Parse maps raw model output to an Intent. The negative marker is checked
// first since it contains the positive one. Anything else is Lead.
func Parse(raw string) Intent {
	switch {
	case strings.Contains(raw, string(NoRAG)):
		return NoRAG
	case strings.Contains(raw, string(UseRAG)):
		return UseRAG
	default:
		return Lead
	}
}

// PromptSource supplies the classifier instructions.
type PromptSource interface {
	Content(ctx context.Context, name, fallback string) (string, error)
}

// Classifier asks the model to label a message using the knowledge_base prompt.
type Classifier struct {
	model   llm.Invoker
	prompts PromptSource
}

// NewClassifier creates a classifier.
func NewClassifier(model llm.Invoker, prompts PromptSource) *Classifier {
	return &Classifier{model: model, prompts: prompts}
}

// Classify returns the intent for message.
func (c *Classifier) Classify(ctx context.Context, message string) (Intent, error) {
	instructions, err := c.prompts.Content(ctx, prompt.KnowledgeBase, prompt.DefaultSeeds[prompt.KnowledgeBase])
	if err != nil {
		return "", fmt.Errorf("load classifier prompt: %w", err)
	}

	raw, err := c.model.Invoke(ctx, []llm.Message{
		llm.System(instructions),
		llm.Human(message),
	})
	if err != nil {
		return "", fmt.Errorf("classify intent: %w", err)
	}
	return Parse(raw), nil
}
