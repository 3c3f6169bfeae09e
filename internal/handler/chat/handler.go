package chat

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	model "github.com/tasknet/taskgraph/internal/model/chat"
	chatservice "github.com/tasknet/taskgraph/internal/service/chat"
	"github.com/tasknet/taskgraph/pkg/utils"
)

// Handler serves conversation and transcript endpoints.
type Handler struct {
	chatSvc  *chatservice.Service
	validate *validator.Validate
}

// New creates the chat handler.
func New(chatSvc *chatservice.Service) *Handler {
	return &Handler{
		chatSvc:  chatSvc,
		validate: validator.New(),
	}
}

// RegisterRoutes mounts the conversation routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/conversations", h.handleCreateConversation)
	r.Get("/conversations/{conversationID}", h.handleGetConversation)
	r.Get("/conversations/{conversationID}/messages", h.handleGetTranscript)
	r.Post("/conversations/{conversationID}/messages", h.handleImportMessage)
}

func (h *Handler) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.chatSvc.CreateConversation(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusCreated, conv)
}

func (h *Handler) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	conv, err := h.chatSvc.GetConversation(r.Context(), conversationID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "conversation not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, conv)
}

type importMessagePayload struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required"`
}

// handleImportMessage appends an already-finalized message, used by the
// browser to restore a transcript it held locally, the counterpart to
// seeding the graph mirror. Streamed turns never go through here.
func (h *Handler) handleImportMessage(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	var payload importMessagePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.chatSvc.SaveMessage(r.Context(), model.Message{
		ConversationID: conversationID,
		Role:           model.Role(payload.Role),
		Content:        payload.Content,
	})
	if err != nil {
		if errors.Is(err, chatservice.ErrConversationNotFound) {
			utils.RespondError(w, http.StatusNotFound, "conversation not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusCreated, msg)
}

func (h *Handler) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	messages, err := h.chatSvc.Transcript(r.Context(), conversationID)
	if err != nil {
		if errors.Is(err, chatservice.ErrConversationNotFound) {
			utils.RespondError(w, http.StatusNotFound, "conversation not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"messages": messages})
}
