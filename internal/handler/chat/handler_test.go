package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	model "github.com/tasknet/taskgraph/internal/model/chat"
	chatservice "github.com/tasknet/taskgraph/internal/service/chat"
)

func setupRouter() (*chi.Mux, *chatservice.Service) {
	chatSvc := chatservice.NewService()
	handler := New(chatSvc)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, chatSvc
}

func TestCreateConversation(t *testing.T) {
	r, _ := setupRouter()

	req := httptest.NewRequest(http.MethodPost, "/conversations", nil)
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}

	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.ID == "" {
		t.Fatal("expected a conversation id")
	}
}

func TestGetTranscript(t *testing.T) {
	r, chatSvc := setupRouter()
	ctx := context.Background()

	conv, _ := chatSvc.CreateConversation(ctx)
	chatSvc.BeginTurn(ctx, conv.ID, "hello")
	chatSvc.AppendContent(ctx, conv.ID, "hi there")
	chatSvc.FinishTurn(ctx, conv.ID)

	req := httptest.NewRequest(http.MethodGet, "/conversations/"+conv.ID+"/messages", nil)
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(body.Messages))
	}
	if body.Messages[1].Content != "hi there" {
		t.Fatalf("unexpected assistant content: %q", body.Messages[1].Content)
	}
}

func postJSON(r http.Handler, path string, payload any) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestImportMessage(t *testing.T) {
	r, chatSvc := setupRouter()
	ctx := context.Background()
	conv, _ := chatSvc.CreateConversation(ctx)

	resp := postJSON(r, "/conversations/"+conv.ID+"/messages", map[string]string{
		"role":    "user",
		"content": "restored from local storage",
	})

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body)
	}

	transcript, _ := chatSvc.Transcript(ctx, conv.ID)
	if len(transcript) != 1 {
		t.Fatalf("expected 1 message, got %d", len(transcript))
	}
	if transcript[0].Role != model.RoleUser || transcript[0].Content != "restored from local storage" {
		t.Fatalf("unexpected message: %+v", transcript[0])
	}
	if transcript[0].IsStreaming {
		t.Fatal("imported messages must be finalized")
	}
}

func TestImportMessageRejectsUnknownRole(t *testing.T) {
	r, chatSvc := setupRouter()
	conv, _ := chatSvc.CreateConversation(context.Background())

	resp := postJSON(r, "/conversations/"+conv.ID+"/messages", map[string]string{
		"role":    "system",
		"content": "nope",
	})

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestImportMessageUnknownConversation(t *testing.T) {
	r, _ := setupRouter()

	resp := postJSON(r, "/conversations/missing/messages", map[string]string{
		"role":    "user",
		"content": "hello",
	})

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestGetTranscriptUnknownConversation(t *testing.T) {
	r, _ := setupRouter()

	req := httptest.NewRequest(http.MethodGet, "/conversations/missing/messages", nil)
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}
