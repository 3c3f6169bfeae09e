package chat

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn. While an assistant turn is still streaming,
// Content and Thinking grow append-only and IsStreaming is true; once the
// turn finishes the record is immutable.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Thinking       string    `json:"thinking,omitempty"`
	IsStreaming    bool      `json:"isStreaming"`
	CreatedAt      time.Time `json:"createdAt"`
}
