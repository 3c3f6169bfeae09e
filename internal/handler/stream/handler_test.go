package stream

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/tasknet/taskgraph/internal/client/agent"
	chatmodel "github.com/tasknet/taskgraph/internal/model/chat"
	graphmodel "github.com/tasknet/taskgraph/internal/model/graph"
	chatservice "github.com/tasknet/taskgraph/internal/service/chat"
	graphservice "github.com/tasknet/taskgraph/internal/service/graph"
	"github.com/tasknet/taskgraph/internal/service/session"
	streampkg "github.com/tasknet/taskgraph/internal/stream"
)

type fakeSource struct {
	events   []streampkg.Event
	finalErr error
	pos      int
}

func (s *fakeSource) Next(context.Context) (streampkg.Event, error) {
	if s.pos < len(s.events) {
		ev := s.events[s.pos]
		s.pos++
		return ev, nil
	}
	if s.finalErr != nil {
		return streampkg.Event{}, s.finalErr
	}
	return streampkg.Event{}, io.EOF
}

func (s *fakeSource) Close() error { return nil }

type fakeStreamer struct {
	events   []streampkg.Event
	finalErr error
}

func (s *fakeStreamer) StreamTurn(context.Context, []chatmodel.Message, graphmodel.Graph) (agent.EventSource, error) {
	return &fakeSource{events: s.events, finalErr: s.finalErr}, nil
}

func setup(t *testing.T, streamer session.Streamer) (*Handler, string) {
	t.Helper()
	chatSvc := chatservice.NewService()
	reconciler := graphservice.NewReconciler(zap.NewNop())
	runner := session.NewRunner(chatSvc, reconciler, streamer, zap.NewNop())

	conv, err := chatSvc.CreateConversation(context.Background())
	if err != nil {
		t.Fatalf("CreateConversation err: %v", err)
	}
	return New(runner, graphservice.NewFeed(), zap.NewNop()), conv.ID
}

func decodeChunks(t *testing.T, body string) []StreamChunk {
	t.Helper()
	var chunks []StreamChunk
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var chunk StreamChunk
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk); err != nil {
			t.Fatalf("decode chunk %q: %v", line, err)
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

func TestHandleStreamRequestRelaysEvents(t *testing.T) {
	streamer := &fakeStreamer{events: []streampkg.Event{
		{Kind: streampkg.KindThinking, Text: "plan"},
		{Kind: streampkg.KindToken, Text: "Creating "},
		{Kind: streampkg.KindGraphPatch, Patch: &streampkg.Patch{
			Action: streampkg.ActionAdd,
			Node:   &streampkg.NodePayload{ID: "n1", Name: "Root"},
		}},
		{Kind: streampkg.KindToken, Text: "root."},
		{Kind: streampkg.KindDone},
	}}
	h, convID := setup(t, streamer)

	resp := httptest.NewRecorder()
	if err := h.HandleStreamRequest(context.Background(), resp, convID, "go"); err != nil {
		t.Fatalf("HandleStreamRequest err: %v", err)
	}

	if ct := resp.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	chunks := decodeChunks(t, resp.Body.String())
	var events []string
	for _, c := range chunks {
		events = append(events, c.Event)
	}

	want := []string{"start", "thinking", "token", "graph", "token", "end"}
	if strings.Join(events, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected event order: %v", events)
	}

	last := chunks[len(chunks)-1]
	if !last.Finished || last.Content != "Creating root." {
		t.Fatalf("unexpected final chunk: %+v", last)
	}

	var graphChunk *StreamChunk
	for i := range chunks {
		if chunks[i].Event == "graph" {
			graphChunk = &chunks[i]
		}
	}
	if graphChunk == nil || graphChunk.Graph == nil || len(graphChunk.Graph.Nodes) != 1 {
		t.Fatalf("graph chunk must carry the snapshot: %+v", graphChunk)
	}
}

func TestHandleStreamRequestTransportDrop(t *testing.T) {
	streamer := &fakeStreamer{
		events:   []streampkg.Event{{Kind: streampkg.KindToken, Text: "part"}},
		finalErr: io.ErrUnexpectedEOF,
	}
	h, convID := setup(t, streamer)

	resp := httptest.NewRecorder()
	err := h.HandleStreamRequest(context.Background(), resp, convID, "go")
	if err == nil {
		t.Fatal("expected an error for a dropped stream")
	}

	chunks := decodeChunks(t, resp.Body.String())
	last := chunks[len(chunks)-1]
	if last.Event != "error" || last.Error == "" {
		t.Fatalf("expected a final error chunk, got %+v", last)
	}
}

func TestHandleStreamRequestAgentErrorFrame(t *testing.T) {
	streamer := &fakeStreamer{events: []streampkg.Event{
		{Kind: streampkg.KindToken, Text: "half"},
		{Kind: streampkg.KindError, Message: "model overloaded"},
	}}
	h, convID := setup(t, streamer)

	resp := httptest.NewRecorder()
	if err := h.HandleStreamRequest(context.Background(), resp, convID, "go"); err != nil {
		t.Fatalf("an agent error frame is a normal outcome: %v", err)
	}

	chunks := decodeChunks(t, resp.Body.String())
	sawError := false
	for _, c := range chunks {
		if c.Event == "error" && c.Error == "model overloaded" {
			sawError = true
		}
	}
	if !sawError {
		t.Fatal("agent error frame must be relayed")
	}
	last := chunks[len(chunks)-1]
	if last.Event != "end" || !last.Finished {
		t.Fatalf("turn must still finish cleanly: %+v", last)
	}
}
