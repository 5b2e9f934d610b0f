// Package chat orchestrates a conversation turn: history lookup, intent
// classification, retrieval, prompt composition, the model call and persistence.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/supportchat/internal/domain"
	"github.com/ashureev/supportchat/internal/intent"
	"github.com/ashureev/supportchat/internal/llm"
	"github.com/ashureev/supportchat/internal/prompt"
	"github.com/ashureev/supportchat/internal/retrieval"
	"github.com/ashureev/supportchat/internal/store"
	"github.com/ashureev/supportchat/internal/telegram"
)

// ErrUpstream wraps failures of the model, retrieval or Telegram collaborators.
var ErrUpstream = errors.New("upstream service failed")

// Classifier labels a message.
type Classifier interface {
	Classify(ctx context.Context, message string) (intent.Intent, error)
}

// Deps are the collaborators of a Service. Retriever and Sender may be nil.
type Deps struct {
	Repo         store.Repository
	Model        llm.Invoker
	Classifier   Classifier
	Retriever    retrieval.Retriever
	Prompts      intent.PromptSource
	Sender       telegram.Sender
	HistoryLimit int
	Logger       *slog.Logger
}

// Service handles web and Telegram chat turns.
type Service struct {
	repo         store.Repository
	model        llm.Invoker
	classifier   Classifier
	retriever    retrieval.Retriever
	prompts      intent.PromptSource
	sender       telegram.Sender
	historyLimit int
	logger       *slog.Logger
}

// NewService creates a chat service.
func NewService(d Deps) *Service {
	if d.HistoryLimit <= 0 {
		d.HistoryLimit = store.DefaultRecentLimit
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Service{
		repo:         d.Repo,
		model:        d.Model,
		classifier:   d.Classifier,
		retriever:    d.Retriever,
		prompts:      d.Prompts,
		sender:       d.Sender,
		historyLimit: d.HistoryLimit,
		logger:       d.Logger,
	}
}

// WebRequest is one message from the web widget. History is the caller's own
// transcript, used only when the session has no stored messages yet.
type WebRequest struct {
	SessionID string
	Message   string
	History   string
}

// Reply is the model's answer and the intent that shaped it.
type Reply struct {
	Response string
	Intent   intent.Intent
}

// HandleWebChat answers a web chat message. The session and both messages are
// written together once the model has answered; a failed turn writes nothing.
func (s *Service) HandleWebChat(ctx context.Context, req WebRequest) (*Reply, error) {
	if req.SessionID == "" || req.Message == "" {
		return nil, fmt.Errorf("%w: session_id and message are required", store.ErrInvalidInput)
	}

	stored, err := s.repo.ListMessages(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	history := req.History
	if len(stored) > 0 {
		history = domain.Transcript(stored)
	}

	label, err := s.classifier.Classify(ctx, req.Message)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	prompts, err := s.loadPrompts(ctx)
	if err != nil {
		return nil, err
	}

	var retrieved string
	if label == intent.UseRAG {
		retrieved, err = s.retrieve(ctx, req.Message)
		if err != nil {
			return nil, err
		}
	}

	answer, err := s.model.Invoke(ctx, ComposeWeb(label, prompts, retrieved, history, req.Message))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	if err := s.repo.AppendTurn(ctx, req.SessionID, req.Message, answer); err != nil {
		return nil, fmt.Errorf("store chat turn: %w", err)
	}

	s.logger.Info("Web chat turn completed",
		"session_id", req.SessionID,
		"intent", string(label),
		"history_messages", len(stored))

	return &Reply{Response: answer, Intent: label}, nil
}

// HandleTelegram answers a validated Telegram message, records the turn and
// sends the reply. A failed send is logged; the turn stays recorded.
func (s *Service) HandleTelegram(ctx context.Context, in *telegram.Inbound) (*Reply, error) {
	recent, err := s.repo.RecentMessages(ctx, in.SenderID, s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load telegram history: %w", err)
	}

	system, err := s.prompts.Content(ctx, prompt.SystemMessage, prompt.DefaultSeeds[prompt.SystemMessage])
	if err != nil {
		return nil, fmt.Errorf("load system prompt: %w", err)
	}

	answer, err := s.model.Invoke(ctx, ComposeTelegram(system, recent, in.Text))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	if err := s.repo.RecordTurn(ctx, in.SenderID, in.Text, answer); err != nil {
		return nil, fmt.Errorf("record telegram turn: %w", err)
	}

	if s.sender != nil {
		if err := s.sender.SendMessage(ctx, in.ChatID, answer); err != nil {
			s.logger.Error("Failed to deliver telegram reply",
				"sender_id", in.SenderID,
				"chat_id", in.ChatID,
				"error", err)
		}
	}

	s.logger.Info("Telegram turn completed",
		"sender_id", in.SenderID,
		"history_messages", len(recent))

	return &Reply{Response: answer}, nil
}

func (s *Service) loadPrompts(ctx context.Context) (Prompts, error) {
	sys, err := s.prompts.Content(ctx, prompt.SystemMessage, prompt.DefaultSeeds[prompt.SystemMessage])
	if err != nil {
		return Prompts{}, fmt.Errorf("load system prompt: %w", err)
	}
	lead, err := s.prompts.Content(ctx, prompt.LeadDiscovery, prompt.DefaultSeeds[prompt.LeadDiscovery])
	if err != nil {
		return Prompts{}, fmt.Errorf("load lead discovery prompt: %w", err)
	}
	return Prompts{SystemMessage: sys, LeadDiscovery: lead}, nil
}

func (s *Service) retrieve(ctx context.Context, query string) (string, error) {
	if s.retriever == nil {
		s.logger.Warn("Retrieval requested but no vector store is configured")
		return "", nil
	}
	docs, err := s.retriever.Retrieve(ctx, query)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	return docs, nil
}
