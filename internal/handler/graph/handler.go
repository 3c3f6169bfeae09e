package graph

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	model "github.com/tasknet/taskgraph/internal/model/graph"
	graphservice "github.com/tasknet/taskgraph/internal/service/graph"
	"github.com/tasknet/taskgraph/internal/stream"
	"github.com/tasknet/taskgraph/pkg/utils"
)

// Handler exposes the reconciled graph over REST for initial loads and
// optimistic local edits made outside a streamed turn.
type Handler struct {
	reconciler *graphservice.Reconciler
	feed       *graphservice.Feed
	validate   *validator.Validate
}

// New creates the graph handler.
func New(reconciler *graphservice.Reconciler, feed *graphservice.Feed) *Handler {
	return &Handler{
		reconciler: reconciler,
		feed:       feed,
		validate:   validator.New(),
	}
}

// RegisterRoutes mounts the graph routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/graph", h.handleGetGraph)
	r.Put("/graph", h.handleResetGraph)
	r.Post("/graph/nodes", h.handleAddNode)
	r.Patch("/graph/nodes/{nodeID}", h.handleUpdateNode)
	r.Delete("/graph/nodes/{nodeID}", h.handleDeleteNode)
}

func (h *Handler) handleGetGraph(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.reconciler.Snapshot())
}

// handleResetGraph replaces the whole mirror with the client's snapshot,
// typically on page load when the browser owns newer local state.
func (h *Handler) handleResetGraph(w http.ResponseWriter, r *http.Request) {
	var g model.Graph
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	snapshot := h.reconciler.Reset(g)
	h.feed.Publish(snapshot)
	utils.RespondJSON(w, http.StatusOK, snapshot)
}

type addNodePayload struct {
	ID          string `json:"id"`
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	Status      string `json:"status" validate:"omitempty,oneof=notStarted inProgress completed"`
	ParentID    string `json:"parentId"`
}

func (h *Handler) handleAddNode(w http.ResponseWriter, r *http.Request) {
	var payload addNodePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}

	snapshot, err := h.reconciler.AddNode(model.Node{
		ID:          payload.ID,
		Name:        payload.Name,
		Description: payload.Description,
		Status:      model.Status(payload.Status),
	}, payload.ParentID)
	if err != nil {
		respondGraphError(w, err)
		return
	}

	h.feed.Publish(snapshot)
	utils.RespondJSON(w, http.StatusCreated, snapshot)
}

func (h *Handler) handleUpdateNode(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")

	var fields stream.NodeFields
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	snapshot, err := h.reconciler.UpdateNode(nodeID, fields)
	if err != nil {
		respondGraphError(w, err)
		return
	}

	h.feed.Publish(snapshot)
	utils.RespondJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")

	snapshot, removed, err := h.reconciler.DeleteNode(nodeID)
	if err != nil {
		respondGraphError(w, err)
		return
	}

	h.feed.Publish(snapshot)
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"graph":        snapshot,
		"deletedNodes": removed,
	})
}

func respondGraphError(w http.ResponseWriter, err error) {
	var refErr *graphservice.ReferenceError
	if errors.As(err, &refErr) {
		utils.RespondError(w, http.StatusNotFound, refErr.Error())
		return
	}
	var valErr *graphservice.ValidationError
	if errors.As(err, &valErr) {
		utils.RespondError(w, http.StatusBadRequest, valErr.Error())
		return
	}
	utils.RespondError(w, http.StatusInternalServerError, err.Error())
}
