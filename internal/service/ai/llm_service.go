package ai

import (
	"context"
	"fmt"
	"log"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/liuwenjie/lumina/backend/internal/config"
	"github.com/liuwenjie/lumina/backend/internal/model/chat"
)

// systemPrompt is the assistant's fixed persona. The remote window carries
// conversation turns only; behavior lives here.
const systemPrompt = "You are Lumina, a friendly and concise conversational assistant. " +
	"Answer in the language the user writes in. When you are unsure, say so " +
	"instead of guessing."

// Service encapsulates the chat capability behind an eino chain.
type Service struct {
	chatModel model.ChatModel
	cfg       config.AIConfig
	chain     compose.Runnable[map[string]any, *schema.Message]
}

// NewService builds the prompt template + chat model chain.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
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

	return &Service{chatModel: chatModel, cfg: cfg, chain: runnable}, nil
}

// StreamingEnabled 指示是否开启 SSE 流式输出。
func (s *Service) StreamingEnabled() bool {
	return s.cfg.StreamResponse
}

// Generate produces one complete reply for the supplied context window.
func (s *Service) Generate(ctx context.Context, history []chat.Turn, query string) (string, error) {
	response, err := s.chain.Invoke(ctx, s.buildChainInput(history, query))
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}

	log.Printf("[ai] generated response, length=%d", len(response.Content))
	return response.Content, nil
}

// Stream yields the reply as an ordered fragment stream. It satisfies
// conversation.Streamer.
func (s *Service) Stream(ctx context.Context, history []chat.Turn, query string) (*schema.StreamReader[*schema.Message], error) {
	stream, err := s.chain.Stream(ctx, s.buildChainInput(history, query))
	if err != nil {
		return nil, fmt.Errorf("failed to stream AI chain output: %w", err)
	}
	return stream, nil
}

func (s *Service) buildChainInput(history []chat.Turn, query string) map[string]any {
	return map[string]any{
		"system":  systemPrompt,
		"history": buildHistoryMessages(history),
		"query":   query,
	}
}

// buildHistoryMessages maps turns into model messages. The provider accepts
// the list without requiring role alternation.
func buildHistoryMessages(history []chat.Turn) []*schema.Message {
	const historyLimit = 20

	if len(history) == 0 {
		return nil
	}

	startIdx := 0
	if len(history) > historyLimit {
		startIdx = len(history) - historyLimit
	}

	messages := make([]*schema.Message, 0, len(history)-startIdx)
	for _, turn := range history[startIdx:] {
		switch turn.Role {
		case chat.RoleUser:
			messages = append(messages, schema.UserMessage(turn.Text))
		case chat.RoleAssistant:
			messages = append(messages, schema.AssistantMessage(turn.Text, nil))
		}
	}

	return messages
}
