package stream

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates the frames the agent service emits.
type Kind string

const (
	KindToken      Kind = "token"
	KindThinking   Kind = "thinking"
	KindReplace    Kind = "replace"
	KindGraphPatch Kind = "graph_patch"
	KindDone       Kind = "done"
	KindError      Kind = "error"
)

// Event is one decoded frame. Exactly one payload field is populated
// depending on Kind: Text for token/thinking/replace, Patch for
// graph_patch, Message for error.
type Event struct {
	Kind    Kind
	Text    string
	Patch   *Patch
	Message string
}

// PatchAction discriminates graph_patch payloads.
type PatchAction string

const (
	ActionAdd    PatchAction = "add"
	ActionDelete PatchAction = "delete"
	ActionUpdate PatchAction = "update"
)

// NodePayload is the node carried by an add patch. Status stays a raw
// string here; the reconciler owns the enum validation.
type NodePayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status,omitempty"`
}

// NodeFields is the partial update carried by an update patch. Pointer
// fields distinguish "absent" from "set to empty"; HasParent records
// whether the parent key appeared at all, since an explicit null means
// "detach from the current parent".
type NodeFields struct {
	Name        *string
	Description *string
	Status      *string
	Parent      *string
	HasParent   bool
}

// UnmarshalJSON keeps key-presence information for the parent field.
func (f *NodeFields) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name        *string          `json:"name"`
		Description *string          `json:"description"`
		Status      *string          `json:"status"`
		Parent      *json.RawMessage `json:"parent"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.Name = raw.Name
	f.Description = raw.Description
	f.Status = raw.Status
	f.Parent = nil
	f.HasParent = raw.Parent != nil
	if raw.Parent != nil && string(*raw.Parent) != "null" {
		var parent string
		if err := json.Unmarshal(*raw.Parent, &parent); err != nil {
			return err
		}
		f.Parent = &parent
	}
	return nil
}

// Patch is one graph-mutating instruction.
type Patch struct {
	Action   PatchAction  `json:"action"`
	Node     *NodePayload `json:"node,omitempty"`
	ParentID string       `json:"parentId,omitempty"`
	NodeIDs  []string     `json:"nodeIds,omitempty"`
	NodeID   string       `json:"nodeId,omitempty"`
	Fields   *NodeFields  `json:"fields,omitempty"`
}

// envelope is the raw frame shape before kind-specific decoding.
type envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// decodeEvent turns one raw frame body into a typed Event. Decoding is
// purely syntactic: a well-formed patch with, say, an unknown status is
// forwarded and rejected downstream.
func decodeEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, &DecodeError{Frame: string(data), Err: err}
	}

	ev := Event{Kind: env.Kind}
	switch env.Kind {
	case KindToken, KindThinking, KindReplace:
		if err := json.Unmarshal(env.Payload, &ev.Text); err != nil {
			return Event{}, &DecodeError{Frame: string(data), Err: fmt.Errorf("%s payload: %w", env.Kind, err)}
		}
	case KindGraphPatch:
		patch := &Patch{}
		if err := json.Unmarshal(env.Payload, patch); err != nil {
			return Event{}, &DecodeError{Frame: string(data), Err: fmt.Errorf("graph_patch payload: %w", err)}
		}
		switch patch.Action {
		case ActionAdd, ActionDelete, ActionUpdate:
		default:
			return Event{}, &DecodeError{Frame: string(data), Err: fmt.Errorf("unknown patch action %q", patch.Action)}
		}
		ev.Patch = patch
	case KindDone:
	case KindError:
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &ev.Message); err != nil {
				return Event{}, &DecodeError{Frame: string(data), Err: fmt.Errorf("error payload: %w", err)}
			}
		}
	default:
		return Event{}, &DecodeError{Frame: string(data), Err: fmt.Errorf("unknown event kind %q", env.Kind)}
	}

	return ev, nil
}
