package chat

import "time"

// Conversation captures a transient anonymous chat session.
type Conversation struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}
