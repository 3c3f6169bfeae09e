package stream

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/tasknet/taskgraph/internal/client/agent"
	graphmodel "github.com/tasknet/taskgraph/internal/model/graph"
	chatservice "github.com/tasknet/taskgraph/internal/service/chat"
	graphservice "github.com/tasknet/taskgraph/internal/service/graph"
	"github.com/tasknet/taskgraph/internal/service/session"
	streampkg "github.com/tasknet/taskgraph/internal/stream"
	"github.com/tasknet/taskgraph/pkg/utils"
)

// Handler runs streamed turns and relays them to the browser over SSE.
type Handler struct {
	runner *session.Runner
	feed   *graphservice.Feed
	log    *zap.Logger
}

// New creates the stream handler.
func New(runner *session.Runner, feed *graphservice.Feed, log *zap.Logger) *Handler {
	return &Handler{runner: runner, feed: feed, log: log}
}

// StreamChunk is one frame relayed to the browser.
type StreamChunk struct {
	Event          string            `json:"event"`
	ConversationID string            `json:"conversationId,omitempty"`
	Content        string            `json:"content,omitempty"`
	Graph          *graphmodel.Graph `json:"graph,omitempty"`
	Finished       bool              `json:"finished,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// HandleStreamRequest runs one turn for the conversation and re-emits
// every applied event as an SSE chunk. Closing the request aborts the
// upstream stream; state already committed stays committed.
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, conversationID, userMessage string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return errors.New("streaming unsupported")
	}

	utils.SetupSSEHeaders(w)

	utils.SendSSEChunk(w, flusher, StreamChunk{
		Event:          "start",
		ConversationID: conversationID,
	})

	sink := func(ev streampkg.Event, snapshot *graphmodel.Graph) {
		switch ev.Kind {
		case streampkg.KindToken:
			utils.SendSSEChunk(w, flusher, StreamChunk{Event: "token", ConversationID: conversationID, Content: ev.Text})
		case streampkg.KindThinking:
			utils.SendSSEChunk(w, flusher, StreamChunk{Event: "thinking", ConversationID: conversationID, Content: ev.Text})
		case streampkg.KindReplace:
			utils.SendSSEChunk(w, flusher, StreamChunk{Event: "replace", ConversationID: conversationID, Content: ev.Text})
		case streampkg.KindGraphPatch:
			if snapshot != nil {
				h.feed.Publish(*snapshot)
				utils.SendSSEChunk(w, flusher, StreamChunk{Event: "graph", ConversationID: conversationID, Graph: snapshot})
			}
		case streampkg.KindError:
			utils.SendSSEChunk(w, flusher, StreamChunk{Event: "error", ConversationID: conversationID, Error: ev.Message})
		}
	}

	msg, err := h.runner.RunTurn(ctx, conversationID, userMessage, sink)
	if err != nil {
		utils.SendSSEChunk(w, flusher, StreamChunk{
			Event:          "error",
			ConversationID: conversationID,
			Error:          failureLabel(err),
			Content:        msg.Content,
		})
		return err
	}

	utils.SendSSEChunk(w, flusher, StreamChunk{
		Event:          "end",
		ConversationID: conversationID,
		Content:        msg.Content,
		Finished:       true,
	})

	h.log.Info("stream completed",
		zap.String("conversation", conversationID),
		zap.Int("contentLen", len(msg.Content)))
	return nil
}

// failureLabel keeps internal detail out of the browser-facing frame;
// the full error is logged server-side.
func failureLabel(err error) string {
	var decodeErr *streampkg.DecodeError
	if errors.As(err, &decodeErr) {
		return "the response stream was malformed"
	}
	var transportErr *agent.TransportError
	if errors.As(err, &transportErr) {
		return "the connection to the agent was lost"
	}
	if errors.Is(err, context.Canceled) {
		return "the request was cancelled"
	}
	if errors.Is(err, chatservice.ErrTurnInFlight) {
		return chatservice.ErrTurnInFlight.Error()
	}
	return "streaming failed"
}
