// Package ai adapts completion providers to a single Complete call.
package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/zhouzirui/modechat/backend/internal/config"
)

// ErrEmptyCompletion is returned when the provider answers without content.
var ErrEmptyCompletion = errors.New("provider returned an empty completion")

// Provider turns a composed prompt into the assistant's reply.
type Provider interface {
	Complete(ctx context.Context, messages []*schema.Message) (string, error)
	Name() string
}

// NewProvider builds the provider selected by cfg.Provider.
func NewProvider(ctx context.Context, cfg config.AIConfig, logger *slog.Logger) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ai", "provider", cfg.Provider, "model", cfg.Model)

	switch cfg.Provider {
	case config.ProviderArk:
		chatModel, err := cfg.NewChatModel(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create chat model: %w", err)
		}
		return NewChatModelProvider(cfg.Provider, chatModel, logger), nil
	case config.ProviderGroq, config.ProviderOpenAI:
		opts := []openai.Option{
			openai.WithToken(cfg.APIKey),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create %s model: %w", cfg.Provider, err)
		}

		var callOpts []llms.CallOption
		if cfg.Temperature != nil {
			callOpts = append(callOpts, llms.WithTemperature(*cfg.Temperature))
		}
		if cfg.MaxTokens != nil {
			callOpts = append(callOpts, llms.WithMaxTokens(*cfg.MaxTokens))
		}
		return NewLangchainProvider(cfg.Provider, llm, logger, callOpts...), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

// ChatModelProvider calls an eino chat model such as Ark.
type ChatModelProvider struct {
	name      string
	chatModel model.BaseChatModel
	logger    *slog.Logger
}

// NewChatModelProvider wraps chatModel.
func NewChatModelProvider(name string, chatModel model.BaseChatModel, logger *slog.Logger) *ChatModelProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatModelProvider{name: name, chatModel: chatModel, logger: logger}
}

// Name returns the provider label.
func (p *ChatModelProvider) Name() string { return p.name }

// Complete runs a single non-streaming generation.
func (p *ChatModelProvider) Complete(ctx context.Context, messages []*schema.Message) (string, error) {
	response, err := p.chatModel.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	if response == nil || strings.TrimSpace(response.Content) == "" {
		return "", ErrEmptyCompletion
	}

	p.logger.Debug("generated response", "length", len(response.Content))
	return response.Content, nil
}

// LangchainProvider calls a langchaingo model, used for OpenAI-compatible
// endpoints like Groq.
type LangchainProvider struct {
	name     string
	llm      llms.Model
	callOpts []llms.CallOption
	logger   *slog.Logger
}

// NewLangchainProvider wraps llm; callOpts apply to every request.
func NewLangchainProvider(name string, llm llms.Model, logger *slog.Logger, callOpts ...llms.CallOption) *LangchainProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &LangchainProvider{name: name, llm: llm, callOpts: callOpts, logger: logger}
}

// Name returns the provider label.
func (p *LangchainProvider) Name() string { return p.name }

// Complete converts the composed messages and runs GenerateContent.
func (p *LangchainProvider) Complete(ctx context.Context, messages []*schema.Message) (string, error) {
	content, err := toMessageContent(messages)
	if err != nil {
		return "", err
	}

	response, err := p.llm.GenerateContent(ctx, content, p.callOpts...)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if response == nil || len(response.Choices) == 0 {
		return "", fmt.Errorf("%w: no response choices", ErrEmptyCompletion)
	}

	reply := response.Choices[0].Content
	if strings.TrimSpace(reply) == "" {
		return "", ErrEmptyCompletion
	}

	p.logger.Debug("generated response", "length", len(reply))
	return reply, nil
}

func toMessageContent(messages []*schema.Message) ([]llms.MessageContent, error) {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		var role llms.ChatMessageType
		switch msg.Role {
		case schema.System:
			role = llms.ChatMessageTypeSystem
		case schema.User:
			role = llms.ChatMessageTypeHuman
		case schema.Assistant:
			role = llms.ChatMessageTypeAI
		default:
			return nil, fmt.Errorf("unsupported message role %q", msg.Role)
		}
		out = append(out, llms.TextParts(role, msg.Content))
	}
	return out, nil
}
