package chat

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zhouzirui/modechat/backend/internal/model/chat"
)

var (
	ErrNotFound       = errors.New("chat not found")
	ErrCorruptStorage = errors.New("chat storage is corrupt")
	ErrInvalidMessage = errors.New("invalid message")
)

// Backend persists the id -> chat mapping.
//
// Save is called after every mutation while the service write lock is held.
// all is the complete mapping after the mutation and changed names the
// record that was created, appended to or, when absent from all, deleted.
// Implementations must leave the previous durable state intact when Save
// fails.
type Backend interface {
	Load(ctx context.Context) (map[string]chat.Chat, error)
	Save(ctx context.Context, all map[string]chat.Chat, changed string) error
	Close() error
}

// Service owns the chat records. A single process-wide lock serializes
// mutations and their durable writes, so appends to the same chat keep their
// order and concurrent full rewrites never interleave.
type Service struct {
	mu      sync.RWMutex
	chats   map[string]chat.Chat
	backend Backend
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires a store on top of backend. Call Load before serving.
func NewService(backend Backend, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		chats:   make(map[string]chat.Chat),
		backend: backend,
		logger:  logger.With("component", "chat-store"),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the in-memory view with the durable state. An unparseable
// backing store is returned as ErrCorruptStorage and the caller is expected
// to abort startup; history is never discarded silently.
func (s *Service) Load(ctx context.Context) error {
	loaded, err := s.backend.Load(ctx)
	if err != nil {
		return err
	}
	if loaded == nil {
		loaded = make(map[string]chat.Chat)
	}
	for id, c := range loaded {
		c.ID = id
		if c.Messages == nil {
			c.Messages = []chat.Message{}
		}
		loaded[id] = c
	}

	s.mu.Lock()
	s.chats = loaded
	s.mu.Unlock()

	s.logger.Info("chat store loaded", "chats", len(loaded))
	return nil
}

// Close releases the backend.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.Close()
}

// List returns every chat, most recently updated first. Ties fall back to the
// chat id so the order is stable between calls.
func (s *Service) List(_ context.Context) []chat.Summary {
	s.mu.RLock()
	out := make([]chat.Summary, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, c.Summary())
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b chat.Summary) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Get returns a copy of the chat identified by id.
func (s *Service) Get(_ context.Context, id string) (chat.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chats[id]
	if !ok {
		return chat.Chat{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c.Clone(), nil
}

// Create stores a new chat and returns its id. initial messages, if any, are
// written in the same durable write as the record itself.
func (s *Service) Create(ctx context.Context, title string, initial ...chat.Message) (string, error) {
	if err := validateMessages(initial); err != nil {
		return "", err
	}
	if title == "" {
		title = chat.DefaultTitle
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.newID()
	if _, exists := s.chats[id]; exists {
		return "", fmt.Errorf("chat id collision: %s", id)
	}

	now := s.now().UTC()
	record := chat.Chat{
		ID:        id,
		Title:     title,
		Messages:  append(make([]chat.Message, 0, len(initial)), initial...),
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.chats[id] = record
	if err := s.backend.Save(ctx, s.chats, id); err != nil {
		delete(s.chats, id)
		return "", fmt.Errorf("persist new chat: %w", err)
	}

	s.logger.Debug("chat created", "chat_id", id, "messages", len(initial))
	return id, nil
}

// Append adds msgs to the end of the chat in a single durable write: either
// all of them are persisted or none are. A chat still carrying the
// placeholder title takes its title from the first user message it receives.
func (s *Service) Append(ctx context.Context, id string, msgs ...chat.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := validateMessages(msgs); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous, ok := s.chats[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	updated := previous.Clone()
	if len(updated.Messages) == 0 && updated.Title == chat.DefaultTitle {
		for _, m := range msgs {
			if m.Role == chat.RoleUser {
				updated.Title = chat.DeriveTitle(m.Content)
				break
			}
		}
	}
	updated.Messages = append(updated.Messages, msgs...)
	updated.UpdatedAt = s.now().UTC()

	s.chats[id] = updated
	if err := s.backend.Save(ctx, s.chats, id); err != nil {
		s.chats[id] = previous
		return fmt.Errorf("persist chat %s: %w", id, err)
	}
	return nil
}

// Delete removes the chat identified by id.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, ok := s.chats[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	delete(s.chats, id)
	if err := s.backend.Save(ctx, s.chats, id); err != nil {
		s.chats[id] = previous
		return fmt.Errorf("persist chat deletion %s: %w", id, err)
	}

	s.logger.Info("chat deleted", "chat_id", id)
	return nil
}

func validateMessages(msgs []chat.Message) error {
	for _, m := range msgs {
		if !m.Role.Valid() {
			return fmt.Errorf("%w: unknown role %q", ErrInvalidMessage, m.Role)
		}
	}
	return nil
}
