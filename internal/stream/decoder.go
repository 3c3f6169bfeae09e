package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// DecodeError reports a malformed frame. It is terminal: the decoder
// yields no further events and a new stream must be opened to retry.
type DecodeError struct {
	Frame string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame %q: %v", e.Frame, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// maxFrameSize bounds a single SSE frame; replace frames carry whole
// responses so this is generous.
const maxFrameSize = 1 << 20

// Decoder reassembles Server-Sent Event frames from r and yields typed
// events in arrival order. It performs no reordering and no buffering
// beyond frame reassembly.
type Decoder struct {
	scanner *bufio.Scanner
	err     error
	done    bool
}

// NewDecoder wraps a raw SSE byte stream, typically an HTTP response body.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxFrameSize)
	return &Decoder{scanner: scanner}
}

// Next returns the next event. After a done or error frame it returns
// io.EOF; after any failure it keeps returning that error. An EOF from
// the transport before a terminal frame surfaces as io.ErrUnexpectedEOF
// so callers can treat it as a connection drop.
func (d *Decoder) Next(ctx context.Context) (Event, error) {
	if d.err != nil {
		return Event{}, d.err
	}
	if d.done {
		return Event{}, io.EOF
	}
	if err := ctx.Err(); err != nil {
		d.err = err
		return Event{}, err
	}

	frame, err := d.nextFrame()
	if err != nil {
		// Prefer reporting cancellation over the read error it caused.
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		d.err = err
		return Event{}, err
	}

	ev, err := decodeEvent(frame)
	if err != nil {
		d.err = err
		return Event{}, err
	}

	if ev.Kind == KindDone || ev.Kind == KindError {
		d.done = true
	}
	return ev, nil
}

// nextFrame accumulates data: lines until a blank line completes the
// frame. Comment lines (leading ':') and non-data fields are ignored;
// the agent only ever sends data fields.
func (d *Decoder) nextFrame() ([]byte, error) {
	var data []string
	for d.scanner.Scan() {
		line := d.scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				return []byte(strings.Join(data, "\n")), nil
			}
		case strings.HasPrefix(line, ":"):
			// keep-alive comment
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := d.scanner.Err(); err != nil {
		return nil, err
	}
	if len(data) > 0 {
		return []byte(strings.Join(data, "\n")), nil
	}
	return nil, io.ErrUnexpectedEOF
}
