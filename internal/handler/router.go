package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	chathandler "github.com/tasknet/taskgraph/internal/handler/chat"
	graphhandler "github.com/tasknet/taskgraph/internal/handler/graph"
	streamhandler "github.com/tasknet/taskgraph/internal/handler/stream"
	wshandler "github.com/tasknet/taskgraph/internal/handler/ws"
	middlewarePkg "github.com/tasknet/taskgraph/internal/middleware"
	chatservice "github.com/tasknet/taskgraph/internal/service/chat"
	graphservice "github.com/tasknet/taskgraph/internal/service/graph"
	"github.com/tasknet/taskgraph/internal/service/session"
	"github.com/tasknet/taskgraph/pkg/utils"
)

// Deps bundles everything the router wires together.
type Deps struct {
	ChatSvc        *chatservice.Service
	Reconciler     *graphservice.Reconciler
	Feed           *graphservice.Feed
	Runner         *session.Runner // nil when no agent endpoint is configured
	AllowedOrigins []string
	Log            *zap.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.AllowedOrigins))

	chatHandler := chathandler.New(deps.ChatSvc)
	graphHandler := graphhandler.New(deps.Reconciler, deps.Feed)
	wsHandler := wshandler.New(deps.Reconciler, deps.Feed, deps.AllowedOrigins, deps.Log)

	var streamHandler *streamhandler.Handler
	if deps.Runner != nil {
		streamHandler = streamhandler.New(deps.Runner, deps.Feed, deps.Log)
	}

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"message": "Task Graph API is running",
		})
	})

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
		graphHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)

		api.Get("/stream/{conversationID}", func(w http.ResponseWriter, r *http.Request) {
			conversationID := chi.URLParam(r, "conversationID")
			userMessage := r.URL.Query().Get("message")

			if streamHandler == nil {
				utils.RespondError(w, http.StatusServiceUnavailable, "agent streaming unavailable")
				return
			}
			if userMessage == "" {
				utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
				return
			}
			if _, err := deps.ChatSvc.GetConversation(r.Context(), conversationID); err != nil {
				utils.RespondError(w, http.StatusNotFound, "conversation not found")
				return
			}

			if err := streamHandler.HandleStreamRequest(r.Context(), w, conversationID, userMessage); err != nil {
				deps.Log.Warn("stream request failed",
					zap.String("conversation", conversationID),
					zap.Error(err))
			}
		})
	})

	return r
}
