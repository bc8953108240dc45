package completion

import (
	"context"
	"fmt"
	"log"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/vehicast/relay/internal/config"
	"github.com/vehicast/relay/pkg/protocol"
)

// defaultSystemPrompt is used when no SYSTEM_PROMPT is configured.
const defaultSystemPrompt = "You are a helpful automotive expert assistant."

// Completer is the relay's view of the streaming completion API. Stream
// yields the response as ordered fragments; Generate waits for the full
// text. Closing the reader or cancelling ctx unsubscribes the provider
// stream.
type Completer interface {
	Stream(ctx context.Context, history []protocol.Turn, userMessage string) (*schema.StreamReader[*schema.Message], error)
	Generate(ctx context.Context, history []protocol.Turn, userMessage string) (*schema.Message, error)
}

// Service is the Ark-backed Completer.
type Service struct {
	cfg   config.AIConfig
	chain compose.Runnable[map[string]any, *schema.Message]
}

// NewService compiles the completion chain once at startup.
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
		return nil, fmt.Errorf("failed to compile completion chain: %w", err)
	}

	return &Service{cfg: cfg, chain: runnable}, nil
}

// Stream opens a streaming completion for one turn.
func (s *Service) Stream(ctx context.Context, history []protocol.Turn, userMessage string) (*schema.StreamReader[*schema.Message], error) {
	stream, err := s.chain.Stream(ctx, s.buildChainInput(history, userMessage))
	if err != nil {
		return nil, fmt.Errorf("failed to stream completion: %w", err)
	}
	return stream, nil
}

// Generate runs one turn without streaming.
func (s *Service) Generate(ctx context.Context, history []protocol.Turn, userMessage string) (*schema.Message, error) {
	response, err := s.chain.Invoke(ctx, s.buildChainInput(history, userMessage))
	if err != nil {
		return nil, fmt.Errorf("failed to run completion chain: %w", err)
	}

	log.Printf("[completion] generated response, length=%d", len(response.Content))
	return response, nil
}

func (s *Service) buildChainInput(history []protocol.Turn, userMessage string) map[string]any {
	system := s.cfg.SystemPrompt
	if system == "" {
		system = defaultSystemPrompt
	}

	return map[string]any{
		"system":  system,
		"history": s.buildHistoryMessages(history),
		"query":   userMessage,
	}
}

// buildHistoryMessages maps the transcript into provider messages,
// keeping only the most recent turns within the configured window.
func (s *Service) buildHistoryMessages(turns []protocol.Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	startIdx := 0
	if limit := s.cfg.HistoryLimit; limit > 0 && len(turns) > limit {
		startIdx = len(turns) - limit
	}

	history := make([]*schema.Message, 0, len(turns)-startIdx)
	for _, turn := range turns[startIdx:] {
		switch turn.Role {
		case protocol.RoleUser:
			history = append(history, schema.UserMessage(turn.Content))
		case protocol.RoleAssistant:
			history = append(history, schema.AssistantMessage(turn.Content, nil))
		}
	}

	return history
}
