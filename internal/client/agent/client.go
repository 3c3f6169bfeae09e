// Package agent speaks to the external language-model agent service. The
// agent is opaque: this client only opens the per-turn stream and hands
// the decoded event sequence back to the session runner.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tasknet/taskgraph/internal/model/chat"
	"github.com/tasknet/taskgraph/internal/model/graph"
	"github.com/tasknet/taskgraph/internal/stream"
)

// TransportError reports a connection-level failure: the request could
// not be sent, the service answered non-200, or the stream dropped
// before a terminal frame.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("agent %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Config carries the agent endpoint settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client opens streaming turns against the agent service.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

// New builds a client. The timeout covers the whole turn including the
// streamed body, so it should be generous.
func New(cfg Config, log *zap.Logger) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.Timeout},
		log:     log,
	}
}

// wireMessage is the chat history entry shape the agent expects; the
// role travels under the legacy `type` key.
type wireMessage struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

type turnRequest struct {
	ChatHistory []wireMessage `json:"chatHistory"`
	Graph       graph.Graph   `json:"graph"`
}

// EventSource is the decoded, ordered event sequence for one turn.
type EventSource interface {
	Next(ctx context.Context) (stream.Event, error)
	Close() error
}

type bodySource struct {
	*stream.Decoder
	body io.Closer
}

func (s *bodySource) Close() error { return s.body.Close() }

// StreamTurn posts the finalized history and current graph snapshot and
// returns the event sequence for the turn. The caller owns Close.
func (c *Client) StreamTurn(ctx context.Context, history []chat.Message, snapshot graph.Graph) (EventSource, error) {
	req := turnRequest{
		ChatHistory: make([]wireMessage, 0, len(history)),
		Graph:       snapshot,
	}
	for _, m := range history {
		req.ChatHistory = append(req.ChatHistory, wireMessage{
			ID:        m.ID,
			Type:      string(m.Role),
			Content:   m.Content,
			Timestamp: m.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal turn request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat/stream", bytes.NewReader(payload))
	if err != nil {
		return nil, &TransportError{Op: "request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &TransportError{Op: "connect", Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(body))}
	}

	c.log.Debug("agent stream opened",
		zap.Int("history", len(req.ChatHistory)),
		zap.Int("nodes", len(snapshot.Nodes)))

	return &bodySource{Decoder: stream.NewDecoder(resp.Body), body: resp.Body}, nil
}
