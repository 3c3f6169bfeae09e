package ws

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	graphservice "github.com/tasknet/taskgraph/internal/service/graph"
)

const writeTimeout = 10 * time.Second

// Handler pushes reconciled graph snapshots to WebSocket clients so the
// visualization can follow patches applied during a streamed turn.
type Handler struct {
	reconciler *graphservice.Reconciler
	feed       *graphservice.Feed
	log        *zap.Logger
	upgrader   websocket.Upgrader
}

// New creates the WebSocket handler. The feed enforces the same origin
// policy as the REST surface; requests without an Origin header come
// from non-browser clients and are allowed through.
func New(reconciler *graphservice.Reconciler, feed *graphservice.Feed, allowedOrigins []string, log *zap.Logger) *Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}

	return &Handler{
		reconciler: reconciler,
		feed:       feed,
		log:        log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the graph feed route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/graph", h.handleGraphFeed)
}

func (h *Handler) handleGraphFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	snapshots, cancel := h.feed.Subscribe()
	defer cancel()

	// Read pump: the client sends nothing we care about, but reading is
	// required to notice the close frame.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Seed the client with the current state before following the feed.
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(h.reconciler.Snapshot()); err != nil {
		h.log.Warn("failed to send initial snapshot", zap.Error(err))
		return
	}

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case snapshot, ok := <-snapshots:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(snapshot); err != nil {
				h.log.Debug("graph feed client gone", zap.Error(err))
				return
			}
		}
	}
}
