package chat

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the persisted roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is a single entry in a chat transcript.
type Message struct {
	Role      Role      `json:"role" yaml:"role"`
	Content   string    `json:"content" yaml:"content"`
	CreatedAt time.Time `json:"created_at,omitzero" yaml:"created_at,omitempty"`
}

// UserMessage builds a user message stamped with now.
func UserMessage(content string, now time.Time) Message {
	return Message{Role: RoleUser, Content: content, CreatedAt: now.UTC()}
}

// AssistantMessage builds an assistant message stamped with now.
func AssistantMessage(content string, now time.Time) Message {
	return Message{Role: RoleAssistant, Content: content, CreatedAt: now.UTC()}
}
