// Package prompt turns a mode, the prior transcript and a new user message
// into the message list sent to the completion provider.
package prompt

import (
	"context"
	"fmt"

	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/modechat/backend/internal/model/chat"
)

// DefaultHistoryLimit caps how many prior messages are replayed.
const DefaultHistoryLimit = 10

// Composer is stateless apart from its configuration; Compose is a pure
// function of its inputs.
type Composer struct {
	template     einoprompt.ChatTemplate
	historyLimit int
}

// NewComposer returns a composer replaying at most historyLimit prior
// messages. A limit of 0 replays the full transcript; negative values fall
// back to DefaultHistoryLimit.
func NewComposer(historyLimit int) *Composer {
	if historyLimit < 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Composer{
		template: einoprompt.FromMessages(
			schema.FString,
			schema.SystemMessage("{system}"),
			schema.MessagesPlaceholder("history", true),
			schema.UserMessage("{query}"),
		),
		historyLimit: historyLimit,
	}
}

// Compose builds [system, history..., user] for mode.
func (c *Composer) Compose(ctx context.Context, mode Mode, history []chat.Message, userMessage string) ([]*schema.Message, error) {
	if mode == nil {
		return nil, fmt.Errorf("%w: no mode", ErrInvalidMode)
	}

	messages, err := c.template.Format(ctx, map[string]any{
		"system":  mode.systemPrompt(),
		"history": c.historyMessages(history),
		"query":   userMessage,
	})
	if err != nil {
		return nil, fmt.Errorf("format %s prompt: %w", mode.Name(), err)
	}
	return messages, nil
}

// SystemPrompt exposes the instruction text of mode.
func SystemPrompt(mode Mode) string {
	return mode.systemPrompt()
}

func (c *Composer) historyMessages(messages []chat.Message) []*schema.Message {
	start := 0
	if c.historyLimit > 0 && len(messages) > c.historyLimit {
		start = len(messages) - c.historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-start)
	for _, msg := range messages[start:] {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}
