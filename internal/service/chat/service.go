package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tasknet/taskgraph/internal/model/chat"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrTurnInFlight         = errors.New("a response is still streaming for this conversation")
	ErrNoTurnInFlight       = errors.New("no streaming response to update")
)

// FailureNotice replaces the visible content of a turn that ended in a
// stream-level error. The partial draft is discarded from the visible
// channel; the turn itself stays in the transcript.
const FailureNotice = "Sorry, I ran into an error while generating this response."

// Service holds conversation transcripts in memory for the lifetime of
// the process. At most one message per conversation may be streaming at
// a time; finalized messages are immutable.
type Service struct {
	mu       sync.RWMutex
	convs    map[string]chat.Conversation
	messages map[string][]chat.Message
	inFlight map[string]int // conversation id -> index of the streaming message
}

// NewService bootstraps the in-memory transcript store.
func NewService() *Service {
	return &Service{
		convs:    make(map[string]chat.Conversation),
		messages: make(map[string][]chat.Message),
		inFlight: make(map[string]int),
	}
}

// CreateConversation provisions an empty transcript.
func (s *Service) CreateConversation(_ context.Context) (chat.Conversation, error) {
	conv := chat.Conversation{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.convs[conv.ID] = conv
	s.messages[conv.ID] = make([]chat.Message, 0, 16)
	s.mu.Unlock()

	return conv, nil
}

// GetConversation retrieves a conversation by identifier.
func (s *Service) GetConversation(_ context.Context, id string) (chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[id]
	if !ok {
		return chat.Conversation{}, ErrConversationNotFound
	}
	return conv, nil
}

// SaveMessage appends a finalized message to the transcript.
func (s *Service) SaveMessage(_ context.Context, message chat.Message) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.convs[message.ConversationID]; !ok {
		return chat.Message{}, ErrConversationNotFound
	}

	message.ID = uuid.NewString()
	message.IsStreaming = false
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	s.messages[message.ConversationID] = append(s.messages[message.ConversationID], message)
	return message, nil
}

// Transcript returns a copy of all messages for the conversation,
// including a still-streaming one.
func (s *Service) Transcript(_ context.Context, conversationID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages, ok := s.messages[conversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}

	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

// History returns only finalized messages, the slice sent upstream when
// opening an agent stream. Thinking text never leaves the process.
func (s *Service) History(_ context.Context, conversationID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages, ok := s.messages[conversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}

	history := make([]chat.Message, 0, len(messages))
	for _, m := range messages {
		if m.IsStreaming {
			continue
		}
		m.Thinking = ""
		history = append(history, m)
	}
	return history, nil
}

// BeginTurn records the submitted user message and opens the streaming
// assistant message in one step. It rejects the whole submission while a
// prior turn is still in flight; the caller must wait for the turn to
// finish or fail before submitting again.
func (s *Service) BeginTurn(_ context.Context, conversationID, userMessage string) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.convs[conversationID]; !ok {
		return chat.Message{}, ErrConversationNotFound
	}
	if _, busy := s.inFlight[conversationID]; busy {
		return chat.Message{}, ErrTurnInFlight
	}

	now := time.Now().UTC()
	s.messages[conversationID] = append(s.messages[conversationID], chat.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           chat.RoleUser,
		Content:        userMessage,
		CreatedAt:      now,
	})

	msg := chat.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           chat.RoleAssistant,
		IsStreaming:    true,
		CreatedAt:      now,
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	s.inFlight[conversationID] = len(s.messages[conversationID]) - 1
	return msg, nil
}

// AppendContent grows the in-flight message's visible text.
func (s *Service) AppendContent(_ context.Context, conversationID, fragment string) error {
	return s.mutateInFlight(conversationID, func(m *chat.Message) {
		m.Content += fragment
	})
}

// AppendThinking grows the in-flight message's reasoning channel,
// independent of visible content.
func (s *Service) AppendThinking(_ context.Context, conversationID, fragment string) error {
	return s.mutateInFlight(conversationID, func(m *chat.Message) {
		m.Thinking += fragment
	})
}

// ReplaceContent atomically swaps the visible text for a corrected full
// draft, discarding whatever streamed so far.
func (s *Service) ReplaceContent(_ context.Context, conversationID, content string) error {
	return s.mutateInFlight(conversationID, func(m *chat.Message) {
		m.Content = content
	})
}

// FinishTurn finalizes the in-flight message; it becomes immutable.
func (s *Service) FinishTurn(_ context.Context, conversationID string) (chat.Message, error) {
	return s.closeTurn(conversationID, func(m *chat.Message) {})
}

// FailTurn finalizes the in-flight message in the error state: the
// visible text becomes the fixed failure notice and the turn is kept in
// the transcript.
func (s *Service) FailTurn(_ context.Context, conversationID string) (chat.Message, error) {
	return s.closeTurn(conversationID, func(m *chat.Message) {
		m.Content = FailureNotice
		m.Thinking = ""
	})
}

func (s *Service) mutateInFlight(conversationID string, mutate func(*chat.Message)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.inFlight[conversationID]
	if !ok {
		return ErrNoTurnInFlight
	}
	mutate(&s.messages[conversationID][idx])
	return nil
}

func (s *Service) closeTurn(conversationID string, finalize func(*chat.Message)) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.inFlight[conversationID]
	if !ok {
		return chat.Message{}, ErrNoTurnInFlight
	}
	msg := &s.messages[conversationID][idx]
	finalize(msg)
	msg.IsStreaming = false
	delete(s.inFlight, conversationID)
	return *msg, nil
}
