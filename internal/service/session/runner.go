// Package session drives one streamed turn end to end: it opens the
// agent stream and folds the decoded events into the transcript and the
// graph mirror, in arrival order, on a single goroutine.
package session

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/tasknet/taskgraph/internal/client/agent"
	chatmodel "github.com/tasknet/taskgraph/internal/model/chat"
	graphmodel "github.com/tasknet/taskgraph/internal/model/graph"
	chatservice "github.com/tasknet/taskgraph/internal/service/chat"
	graphservice "github.com/tasknet/taskgraph/internal/service/graph"
	"github.com/tasknet/taskgraph/internal/stream"
)

// Streamer opens the per-turn event sequence. Satisfied by *agent.Client.
type Streamer interface {
	StreamTurn(ctx context.Context, history []chatmodel.Message, snapshot graphmodel.Graph) (agent.EventSource, error)
}

// Sink observes each applied event so the serving layer can re-stream it
// to the browser. Snapshot is non-nil only for applied graph patches. A
// nil Sink is allowed.
type Sink func(ev stream.Event, snapshot *graphmodel.Graph)

// Runner coordinates the transcript accumulator and graph reconciler for
// streamed turns.
type Runner struct {
	transcript *chatservice.Service
	reconciler *graphservice.Reconciler
	streamer   Streamer
	log        *zap.Logger
}

func NewRunner(transcript *chatservice.Service, reconciler *graphservice.Reconciler, streamer Streamer, log *zap.Logger) *Runner {
	return &Runner{
		transcript: transcript,
		reconciler: reconciler,
		streamer:   streamer,
		log:        log,
	}
}

// RunTurn records the user message, opens the agent stream and applies
// events until a terminal frame, a stream-level failure, or cancellation.
// Graph patches already applied are committed and never rolled back; the
// returned message is the finalized assistant turn, in the error state
// when the stream failed. The returned error is non-nil only for
// stream-level failures (decode, transport, cancellation); an error
// frame from the agent is a normal terminal outcome.
func (r *Runner) RunTurn(ctx context.Context, conversationID, userMessage string, sink Sink) (chatmodel.Message, error) {
	if _, err := r.transcript.BeginTurn(ctx, conversationID, userMessage); err != nil {
		return chatmodel.Message{}, err
	}

	// History excludes the in-flight assistant message but carries the
	// just-recorded user message, matching the upstream contract.
	history, err := r.transcript.History(ctx, conversationID)
	if err != nil {
		return r.fail(ctx, conversationID, err)
	}

	source, err := r.streamer.StreamTurn(ctx, history, r.reconciler.Snapshot())
	if err != nil {
		return r.fail(ctx, conversationID, err)
	}
	defer source.Close()

	for {
		ev, err := source.Next(ctx)
		if err != nil {
			return r.fail(ctx, conversationID, classify(err))
		}

		switch ev.Kind {
		case stream.KindToken:
			if err := r.transcript.AppendContent(ctx, conversationID, ev.Text); err != nil {
				return r.fail(ctx, conversationID, err)
			}
			r.notify(sink, ev, nil)

		case stream.KindThinking:
			if err := r.transcript.AppendThinking(ctx, conversationID, ev.Text); err != nil {
				return r.fail(ctx, conversationID, err)
			}
			r.notify(sink, ev, nil)

		case stream.KindReplace:
			if err := r.transcript.ReplaceContent(ctx, conversationID, ev.Text); err != nil {
				return r.fail(ctx, conversationID, err)
			}
			r.notify(sink, ev, nil)

		case stream.KindGraphPatch:
			snapshot, err := r.reconciler.Apply(ev.Patch)
			if err != nil {
				// Per-patch failures are isolated: later patches in the
				// same turn may be independently valid.
				r.log.Warn("graph patch rejected",
					zap.String("conversation", conversationID),
					zap.String("action", string(ev.Patch.Action)),
					zap.Error(err))
				continue
			}
			r.notify(sink, ev, &snapshot)

		case stream.KindDone:
			msg, err := r.transcript.FinishTurn(ctx, conversationID)
			if err != nil {
				return chatmodel.Message{}, err
			}
			r.log.Info("turn completed",
				zap.String("conversation", conversationID),
				zap.Int("contentLen", len(msg.Content)))
			return msg, nil

		case stream.KindError:
			r.log.Warn("agent reported error",
				zap.String("conversation", conversationID),
				zap.String("message", ev.Message))
			msg, err := r.transcript.FailTurn(ctx, conversationID)
			if err != nil {
				return chatmodel.Message{}, err
			}
			r.notify(sink, ev, nil)
			return msg, nil
		}
	}
}

// fail finalizes the in-flight message with the failure notice and
// surfaces cause to the caller. Uses a background context for the
// transcript write so a cancelled turn still lands in a committed state.
func (r *Runner) fail(ctx context.Context, conversationID string, cause error) (chatmodel.Message, error) {
	r.log.Warn("turn failed",
		zap.String("conversation", conversationID),
		zap.Error(cause))
	msg, err := r.transcript.FailTurn(context.WithoutCancel(ctx), conversationID)
	if err != nil && !errors.Is(err, chatservice.ErrNoTurnInFlight) {
		r.log.Error("failed to finalize turn", zap.Error(err))
	}
	return msg, cause
}

// classify maps raw stream failures onto the error taxonomy: an EOF or
// read error before a terminal frame is a transport drop, a decode
// failure and cancellation pass through unchanged.
func classify(err error) error {
	var decodeErr *stream.DecodeError
	if errors.As(err, &decodeErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return &agent.TransportError{Op: "recv", Err: err}
	}
	var transportErr *agent.TransportError
	if errors.As(err, &transportErr) {
		return err
	}
	return &agent.TransportError{Op: "recv", Err: err}
}

func (r *Runner) notify(sink Sink, ev stream.Event, snapshot *graphmodel.Graph) {
	if sink != nil {
		sink(ev, snapshot)
	}
}
