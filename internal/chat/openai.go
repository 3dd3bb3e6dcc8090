package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/inboxflow/inboxflow/internal/channel"
)

const (
	replyMaxTokens   = 500
	replyTemperature = 0.7
)

// OpenAIResponder calls an OpenAI-compatible completion API.
type OpenAIResponder struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewOpenAIResponder creates a responder client. baseURL may point at any
// OpenAI-compatible endpoint; an empty model falls back to gpt-4o-mini.
func NewOpenAIResponder(log *slog.Logger, apiKey, baseURL, model string, timeout time.Duration) *OpenAIResponder {
	if log == nil {
		log = slog.Default()
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIResponder{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		timeout: timeout,
		logger:  log.With(slog.String("service", "responder")),
	}
}

// Reply generates one reply for the prompt context.
func (r *OpenAIResponder) Reply(ctx context.Context, prompt Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, 0, len(prompt.History)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: prompt.System,
	})
	for _, msg := range prompt.History {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt.Query,
	})

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       r.model,
		Messages:    messages,
		MaxTokens:   replyMaxTokens,
		Temperature: replyTemperature,
	})
	if err != nil {
		return "", mapResponderError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", channel.ErrDownstreamUnavailable)
	}
	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", fmt.Errorf("%w: blank completion", channel.ErrDownstreamUnavailable)
	}
	return reply, nil
}

func mapResponderError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", channel.ErrProviderTimeout, err)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return fmt.Errorf("%w: %v", channel.ErrProviderTimeout, err)
		case http.StatusServiceUnavailable, http.StatusBadGateway:
			return fmt.Errorf("%w: %v", channel.ErrDownstreamUnavailable, err)
		}
		return fmt.Errorf("%w: %v", channel.ErrProviderUnknown, err)
	}
	return fmt.Errorf("%w: %v", channel.ErrDownstreamUnavailable, err)
}
