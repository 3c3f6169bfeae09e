package graph

// Status tracks how far along a task is.
type Status string

const (
	StatusNotStarted Status = "notStarted"
	StatusInProgress Status = "inProgress"
	StatusCompleted  Status = "completed"
)

// ParseStatus reports whether s names a known status.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusNotStarted, StatusInProgress, StatusCompleted:
		return Status(s), true
	}
	return "", false
}

// Node is a single task in the breakdown graph.
type Node struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      Status `json:"status"`
}

// Edge is a directed parent→child relation between two node ids.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Graph is the wire-level snapshot exchanged with clients and the agent.
// The `links` key matches the original force-graph payload shape.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Links []Edge `json:"links"`
}

// Clone returns a deep copy so callers can hold a snapshot while the
// reconciler keeps mutating its own state.
func (g Graph) Clone() Graph {
	out := Graph{
		Nodes: make([]Node, len(g.Nodes)),
		Links: make([]Edge, len(g.Links)),
	}
	copy(out.Nodes, g.Nodes)
	copy(out.Links, g.Links)
	return out
}
