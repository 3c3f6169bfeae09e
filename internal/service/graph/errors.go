package graph

import "fmt"

// ReferenceError reports a patch that points at a node id the graph does
// not contain. The patch is rejected whole; the stream continues.
type ReferenceError struct {
	NodeID string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("node %q does not exist", e.NodeID)
}

// ValidationError reports a patch field outside its allowed domain.
type ValidationError struct {
	Field string
	Value string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s value %q", e.Field, e.Value)
}
