package chat

import (
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultTitle labels a chat that has not received its first turn yet.
const DefaultTitle = "New Chat"

const maxTitleRunes = 40

// Chat is one persisted conversation. Messages are append-only and kept in
// chronological order.
type Chat struct {
	ID        string    `json:"-" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	Messages  []Message `json:"messages" yaml:"messages"`
	CreatedAt time.Time `json:"created_at,omitzero" yaml:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitzero" yaml:"updated_at,omitempty"`
}

// Summary is the listing view of a chat.
type Summary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// Summary returns the listing view of c.
func (c Chat) Summary() Summary {
	return Summary{ID: c.ID, Title: c.Title, UpdatedAt: c.UpdatedAt}
}

// Clone returns a copy of c that shares no memory with the original.
func (c Chat) Clone() Chat {
	out := c
	out.Messages = append([]Message(nil), c.Messages...)
	if out.Messages == nil {
		out.Messages = []Message{}
	}
	return out
}

// DeriveTitle turns the first line of text into a short label. Blank input
// yields DefaultTitle.
func DeriveTitle(text string) string {
	line := strings.TrimSpace(text)
	if idx := strings.IndexAny(line, "\r\n"); idx >= 0 {
		line = strings.TrimSpace(line[:idx])
	}
	if line == "" {
		return DefaultTitle
	}
	if utf8.RuneCountInString(line) <= maxTitleRunes {
		return line
	}
	runes := []rune(line)
	return strings.TrimSpace(string(runes[:maxTitleRunes]))
}
