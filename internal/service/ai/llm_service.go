package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/eigo-partner/backend/internal/config"
	"github.com/zhouzirui/eigo-partner/backend/internal/model/chat"
	"github.com/zhouzirui/eigo-partner/backend/internal/model/persona"
	"github.com/zhouzirui/eigo-partner/backend/internal/session"
)

// Service answers learner utterances in the tutor's voice.
type Service struct {
	persona      persona.Persona
	system       string
	historyLimit int
	chain        compose.Runnable[map[string]any, *schema.Message]
}

var _ session.ChatService = (*Service)(nil)

// NewService creates the chat model from cfg and wires it into a chain.
func NewService(ctx context.Context, tutor persona.Persona, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, tutor, chatModel, cfg.HistoryLimit)
}

// NewServiceWithModel builds the service around an existing chat model.
// historyLimit <= 0 sends the full transcript.
func NewServiceWithModel(ctx context.Context, tutor persona.Persona, chatModel model.BaseChatModel, historyLimit int) (*Service, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		persona:      tutor,
		system:       NewPersonaPromptManager().BuildSystemPrompt(&tutor),
		historyLimit: historyLimit,
		chain:        runnable,
	}, nil
}

// Send runs one chat turn. history is the transcript before the utterance.
func (s *Service) Send(ctx context.Context, utterance string, history chat.Transcript) (session.Reply, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return session.Reply{}, session.ErrEmptyInput
	}

	response, err := s.chain.Invoke(ctx, map[string]any{
		"system":  s.system,
		"history": s.buildHistoryMessages(history),
		"query":   utterance,
	})
	if err != nil {
		return session.Reply{}, fmt.Errorf("failed to run AI chain: %w", err)
	}

	text := strings.TrimSpace(response.Content)
	if text == "" {
		return session.Reply{}, errors.New("model returned an empty reply")
	}

	log.Printf("[ai] reply for persona=%s, history=%d, length=%d", s.persona.ID, len(history), len(text))
	return session.Reply{Text: text}, nil
}

// SystemPrompt returns the instruction sent with every turn.
func (s *Service) SystemPrompt() string { return s.system }

func (s *Service) buildHistoryMessages(messages chat.Transcript) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if s.historyLimit > 0 && len(messages) > s.historyLimit {
		startIdx = len(messages) - s.historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.Sender {
		case chat.SenderUser:
			history = append(history, schema.UserMessage(msg.Text))
		case chat.SenderAssistant:
			history = append(history, schema.AssistantMessage(msg.Text, nil))
		}
	}

	return history
}
