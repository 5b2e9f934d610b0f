package chat

import (
	"github.com/ashureev/supportchat/internal/domain"
	"github.com/ashureev/supportchat/internal/intent"
	"github.com/ashureev/supportchat/internal/llm"
)

const (
	historySeparator    = ", История переписки: "
	contextSeparator    = ",контекст: "
	ragHistorySeparator = " , История переписки: "
)

// Prompts holds the prompt texts used to compose a request.
type Prompts struct {
	SystemMessage string
	LeadDiscovery string
}

// ComposeSystem builds the system message for a web chat turn.
func ComposeSystem(in intent.Intent, p Prompts, retrieved, history string) string {
	switch in {
	case intent.NoRAG:
		return p.SystemMessage + historySeparator + history
	case intent.UseRAG:
		return p.SystemMessage + contextSeparator + retrieved + ragHistorySeparator + history
	default:
		return p.LeadDiscovery + historySeparator + history
	}
}

// ComposeWeb returns the message list for a web chat turn.
func ComposeWeb(in intent.Intent, p Prompts, retrieved, history, message string) []llm.Message {
	return []llm.Message{
		llm.System(ComposeSystem(in, p, retrieved, history)),
		llm.Human(message),
	}
}

// ComposeTelegram returns the system prompt, the prior turns oldest first and
// the new user message.
func ComposeTelegram(systemPrompt string, newestFirst []*domain.TelegramMessage, message string) []llm.Message {
	turns := domain.Chronological(newestFirst)
	out := make([]llm.Message, 0, len(turns)+2)
	out = append(out, llm.System(systemPrompt))
	for _, t := range turns {
		role := llm.RoleUser
		if t.SenderType == domain.SenderTypeAssistant {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: t.Message})
	}
	return append(out, llm.Human(message))
}
