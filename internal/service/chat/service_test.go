package chat_test

import (
	"context"
	"errors"
	"testing"

	model "github.com/tasknet/taskgraph/internal/model/chat"
	chat "github.com/tasknet/taskgraph/internal/service/chat"
)

func TestCreateAndGetConversation(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx)
	if err != nil {
		t.Fatalf("CreateConversation err: %v", err)
	}

	got, err := svc.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation err: %v", err)
	}
	if got.ID != conv.ID {
		t.Fatalf("unexpected conversation ID: got %s want %s", got.ID, conv.ID)
	}
}

func TestGetConversationNotFound(t *testing.T) {
	svc := chat.NewService()
	if _, err := svc.GetConversation(context.Background(), "missing"); !errors.Is(err, chat.ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestBeginTurnRecordsUserAndAssistant(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()
	conv, _ := svc.CreateConversation(ctx)

	msg, err := svc.BeginTurn(ctx, conv.ID, "break this down")
	if err != nil {
		t.Fatalf("BeginTurn err: %v", err)
	}
	if msg.Role != model.RoleAssistant || !msg.IsStreaming {
		t.Fatalf("unexpected assistant message: %+v", msg)
	}

	transcript, _ := svc.Transcript(ctx, conv.ID)
	if len(transcript) != 2 {
		t.Fatalf("expected user+assistant, got %d messages", len(transcript))
	}
	if transcript[0].Role != model.RoleUser || transcript[0].Content != "break this down" {
		t.Fatalf("unexpected user message: %+v", transcript[0])
	}
}

func TestBeginTurnRejectsWhileStreaming(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()
	conv, _ := svc.CreateConversation(ctx)

	if _, err := svc.BeginTurn(ctx, conv.ID, "first"); err != nil {
		t.Fatalf("BeginTurn err: %v", err)
	}

	if _, err := svc.BeginTurn(ctx, conv.ID, "second"); !errors.Is(err, chat.ErrTurnInFlight) {
		t.Fatalf("expected ErrTurnInFlight, got %v", err)
	}

	// The rejected submission must not leave a user message behind.
	transcript, _ := svc.Transcript(ctx, conv.ID)
	if len(transcript) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(transcript))
	}
}

func TestContentAndThinkingInterleave(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()
	conv, _ := svc.CreateConversation(ctx)
	svc.BeginTurn(ctx, conv.ID, "go")

	svc.AppendThinking(ctx, conv.ID, "planning... ")
	svc.AppendContent(ctx, conv.ID, "Step ")
	svc.AppendThinking(ctx, conv.ID, "more planning")
	svc.AppendContent(ctx, conv.ID, "one.")

	msg, err := svc.FinishTurn(ctx, conv.ID)
	if err != nil {
		t.Fatalf("FinishTurn err: %v", err)
	}
	if msg.Content != "Step one." {
		t.Fatalf("unexpected content: %q", msg.Content)
	}
	if msg.Thinking != "planning... more planning" {
		t.Fatalf("unexpected thinking: %q", msg.Thinking)
	}
	if msg.IsStreaming {
		t.Fatal("finished message must not be streaming")
	}
}

func TestReplaceDiscardsStreamedDraft(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()
	conv, _ := svc.CreateConversation(ctx)
	svc.BeginTurn(ctx, conv.ID, "go")

	svc.AppendContent(ctx, conv.ID, "Hel")
	svc.AppendContent(ctx, conv.ID, "lo")
	svc.ReplaceContent(ctx, conv.ID, "Goodbye")

	msg, _ := svc.FinishTurn(ctx, conv.ID)
	if msg.Content != "Goodbye" {
		t.Fatalf("replace must fully overwrite, got %q", msg.Content)
	}
}

func TestFailTurnReplacesVisibleText(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()
	conv, _ := svc.CreateConversation(ctx)
	svc.BeginTurn(ctx, conv.ID, "go")

	svc.AppendContent(ctx, conv.ID, "partial draft")
	svc.AppendThinking(ctx, conv.ID, "secret reasoning")

	msg, err := svc.FailTurn(ctx, conv.ID)
	if err != nil {
		t.Fatalf("FailTurn err: %v", err)
	}
	if msg.Content != chat.FailureNotice {
		t.Fatalf("expected failure notice, got %q", msg.Content)
	}
	if msg.Thinking != "" {
		t.Fatal("failed turn must not keep partial thinking")
	}

	// The turn is still recorded and the conversation accepts a new one.
	transcript, _ := svc.Transcript(ctx, conv.ID)
	if len(transcript) != 2 {
		t.Fatalf("expected failed turn kept, got %d messages", len(transcript))
	}
	if _, err := svc.BeginTurn(ctx, conv.ID, "retry"); err != nil {
		t.Fatalf("BeginTurn after failure err: %v", err)
	}
}

func TestHistoryExcludesInFlightAndThinking(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()
	conv, _ := svc.CreateConversation(ctx)

	svc.BeginTurn(ctx, conv.ID, "first question")
	svc.AppendContent(ctx, conv.ID, "answer")
	svc.AppendThinking(ctx, conv.ID, "hidden")
	svc.FinishTurn(ctx, conv.ID)

	svc.BeginTurn(ctx, conv.ID, "second question")

	history, err := svc.History(ctx, conv.ID)
	if err != nil {
		t.Fatalf("History err: %v", err)
	}
	// user, assistant, user; the in-flight assistant message is excluded.
	if len(history) != 3 {
		t.Fatalf("expected 3 history entries, got %d", len(history))
	}
	for _, m := range history {
		if m.Thinking != "" {
			t.Fatalf("thinking must never be exported: %+v", m)
		}
		if m.IsStreaming {
			t.Fatalf("streaming message leaked into history: %+v", m)
		}
	}
}

func TestMutationsRequireInFlightTurn(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()
	conv, _ := svc.CreateConversation(ctx)

	if err := svc.AppendContent(ctx, conv.ID, "x"); !errors.Is(err, chat.ErrNoTurnInFlight) {
		t.Fatalf("expected ErrNoTurnInFlight, got %v", err)
	}
	if _, err := svc.FinishTurn(ctx, conv.ID); !errors.Is(err, chat.ErrNoTurnInFlight) {
		t.Fatalf("expected ErrNoTurnInFlight, got %v", err)
	}
}
