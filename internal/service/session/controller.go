// Package session runs one conversational turn: load or start a chat, build
// the prompt for the selected mode, call the completion provider and persist
// the exchange.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/modechat/backend/internal/model/chat"
	"github.com/zhouzirui/modechat/backend/internal/observability"
	"github.com/zhouzirui/modechat/backend/internal/service/prompt"
)

// DefaultTimeout bounds a provider call when none is configured.
const DefaultTimeout = 45 * time.Second

var (
	ErrEmptyMessage    = errors.New("message is required")
	ErrProvider        = errors.New("completion provider failed")
	ErrProviderTimeout = errors.New("completion provider timed out")
)

// Store is the subset of the chat store a turn needs.
type Store interface {
	Get(ctx context.Context, id string) (chat.Chat, error)
	Create(ctx context.Context, title string, initial ...chat.Message) (string, error)
	Append(ctx context.Context, id string, msgs ...chat.Message) error
}

// Completer produces the assistant reply for a composed prompt.
type Completer interface {
	Complete(ctx context.Context, messages []*schema.Message) (string, error)
}

// TurnInput is one user request. An empty ChatID starts a new chat.
type TurnInput struct {
	ChatID  string
	Mode    string
	Message string
}

// TurnOutput is the result of a completed turn.
type TurnOutput struct {
	ChatID string
	Mode   string
	Reply  string
}

// Controller orchestrates turns against an injected store and provider.
type Controller struct {
	store     Store
	composer  *prompt.Composer
	completer Completer
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewController builds a controller. timeout <= 0 selects DefaultTimeout.
func NewController(store Store, composer *prompt.Composer, completer Completer, timeout time.Duration, logger *slog.Logger) *Controller {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:     store,
		composer:  composer,
		completer: completer,
		timeout:   timeout,
		logger:    logger.With("component", "session"),
		now:       time.Now,
	}
}

// HandleTurn runs one turn end to end. The user message and the assistant
// reply are persisted together after the provider succeeds; any earlier
// failure leaves the store untouched. A new chat is only created at that
// point too, so a failed first turn leaves no empty record behind.
//
// The provider call and the final write are detached from ctx cancellation:
// a client that disconnects mid-turn still gets a consistent transcript, and
// the provider timeout bounds how long that work can run.
func (c *Controller) HandleTurn(ctx context.Context, in TurnInput) (TurnOutput, error) {
	text := strings.TrimSpace(in.Message)
	if text == "" {
		return TurnOutput{}, ErrEmptyMessage
	}

	log := observability.LoggerFromContext(ctx, c.logger).With("mode", in.Mode)
	if in.ChatID != "" {
		log = log.With("chat_id", in.ChatID)
	}

	var history []chat.Message
	if in.ChatID != "" {
		record, err := c.store.Get(ctx, in.ChatID)
		if err != nil {
			return TurnOutput{}, err
		}
		history = record.Messages
	}

	mode, err := prompt.ParseMode(in.Mode)
	if err != nil {
		return TurnOutput{}, err
	}

	messages, err := c.composer.Compose(ctx, mode, history, text)
	if err != nil {
		return TurnOutput{}, err
	}

	detached := context.WithoutCancel(ctx)
	reply, err := c.complete(detached, messages)
	if err != nil {
		log.Warn("provider call failed", "error", err)
		return TurnOutput{}, err
	}

	now := c.now()
	exchange := []chat.Message{
		chat.UserMessage(text, now),
		chat.AssistantMessage(reply, now),
	}

	chatID := in.ChatID
	if chatID == "" {
		chatID, err = c.store.Create(detached, chat.DeriveTitle(text), exchange...)
		if err != nil {
			return TurnOutput{}, fmt.Errorf("create chat: %w", err)
		}
		log = log.With("chat_id", chatID)
	} else if err := c.store.Append(detached, chatID, exchange...); err != nil {
		return TurnOutput{}, fmt.Errorf("append turn: %w", err)
	}

	log.Info("turn completed", "reply_length", len(reply))
	return TurnOutput{ChatID: chatID, Mode: mode.Name(), Reply: reply}, nil
}

func (c *Controller) complete(ctx context.Context, messages []*schema.Message) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reply, err := c.completer.Complete(callCtx, messages)
	switch {
	case err == nil && strings.TrimSpace(reply) == "":
		return "", fmt.Errorf("%w: empty reply", ErrProvider)
	case err == nil:
		return reply, nil
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return "", fmt.Errorf("%w after %s: %v", ErrProviderTimeout, c.timeout, err)
	default:
		return "", fmt.Errorf("%w: %v", ErrProvider, err)
	}
}
