package graph

import (
	"sync"

	"go.uber.org/zap"

	model "github.com/tasknet/taskgraph/internal/model/graph"
	"github.com/tasknet/taskgraph/internal/stream"
)

// Reconciler owns the authoritative client-side graph mirror and applies
// streamed patches atomically. Every mutation either completes whole or
// leaves the graph untouched, and no edge ever references a missing node.
type Reconciler struct {
	mu    sync.RWMutex
	nodes map[string]model.Node
	order []string
	edges []model.Edge
	log   *zap.Logger
}

// NewReconciler starts from an empty graph.
func NewReconciler(log *zap.Logger) *Reconciler {
	return &Reconciler{
		nodes: make(map[string]model.Node),
		log:   log,
	}
}

// Reset replaces the whole graph with a client-supplied snapshot. Edges
// whose endpoints are not in the node set are dropped rather than allowed
// to dangle.
func (r *Reconciler) Reset(g model.Graph) model.Graph {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nodes = make(map[string]model.Node, len(g.Nodes))
	r.order = r.order[:0]
	r.edges = r.edges[:0]

	for _, n := range g.Nodes {
		if n.Status == "" {
			n.Status = model.StatusNotStarted
		}
		if _, ok := r.nodes[n.ID]; !ok {
			r.order = append(r.order, n.ID)
		}
		r.nodes[n.ID] = n
	}
	for _, e := range g.Links {
		if _, ok := r.nodes[e.Source]; !ok {
			r.log.Warn("dropping edge with unknown source", zap.String("source", e.Source), zap.String("target", e.Target))
			continue
		}
		if _, ok := r.nodes[e.Target]; !ok {
			r.log.Warn("dropping edge with unknown target", zap.String("source", e.Source), zap.String("target", e.Target))
			continue
		}
		r.edges = append(r.edges, e)
	}
	return r.snapshotLocked()
}

// AddNode upserts a node and, when parentID is set, links it under that
// parent. Inserting an existing id replaces the node's fields
// (last-write-wins). An unknown parent rejects the patch whole.
func (r *Reconciler) AddNode(node model.Node, parentID string) (model.Graph, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if parentID != "" {
		if _, ok := r.nodes[parentID]; !ok {
			return model.Graph{}, &ReferenceError{NodeID: parentID}
		}
	}
	if node.Status == "" {
		node.Status = model.StatusNotStarted
	} else if _, ok := model.ParseStatus(string(node.Status)); !ok {
		return model.Graph{}, &ValidationError{Field: "status", Value: string(node.Status)}
	}

	if _, exists := r.nodes[node.ID]; !exists {
		r.order = append(r.order, node.ID)
	}
	r.nodes[node.ID] = node
	if parentID != "" && !r.hasEdge(parentID, node.ID) {
		r.edges = append(r.edges, model.Edge{Source: parentID, Target: node.ID})
	}
	return r.snapshotLocked(), nil
}

// DeleteNodes removes every node in ids together with every incident
// edge, in one step. It does not cascade: children of a removed node stay
// behind with their inbound edge gone. An empty set is a no-op.
func (r *Reconciler) DeleteNodes(ids []string) model.Graph {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteLocked(ids)
	return r.snapshotLocked()
}

// DeleteNode applies the interactive delete policy: a node with a parent
// is removed and its children reconnect to that parent; a root node takes
// its whole subtree with it. Returns the removed ids.
func (r *Reconciler) DeleteNode(id string) (model.Graph, []string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.nodes[id]; !ok {
		return model.Graph{}, nil, &ReferenceError{NodeID: id}
	}

	parentID := ""
	for _, e := range r.edges {
		if e.Target == id {
			parentID = e.Source
			break
		}
	}

	if parentID == "" {
		removed := r.descendantsLocked(id)
		r.deleteLocked(removed)
		return r.snapshotLocked(), removed, nil
	}

	var children []string
	for _, e := range r.edges {
		if e.Source == id {
			children = append(children, e.Target)
		}
	}
	r.deleteLocked([]string{id})
	for _, child := range children {
		if !r.hasEdge(parentID, child) {
			r.edges = append(r.edges, model.Edge{Source: parentID, Target: child})
		}
	}
	return r.snapshotLocked(), []string{id}, nil
}

// UpdateNode merges fields into an existing node. A parent change is a
// move: every inbound edge is dropped and at most one new edge from the
// new parent remains.
func (r *Reconciler) UpdateNode(id string, fields stream.NodeFields) (model.Graph, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[id]
	if !ok {
		return model.Graph{}, &ReferenceError{NodeID: id}
	}

	var status model.Status
	if fields.Status != nil {
		status, ok = model.ParseStatus(*fields.Status)
		if !ok {
			return model.Graph{}, &ValidationError{Field: "status", Value: *fields.Status}
		}
	}
	if fields.HasParent && fields.Parent != nil {
		if _, ok := r.nodes[*fields.Parent]; !ok {
			return model.Graph{}, &ReferenceError{NodeID: *fields.Parent}
		}
	}

	if fields.Name != nil && *fields.Name != "" {
		node.Name = *fields.Name
	}
	if fields.Description != nil {
		node.Description = *fields.Description
	}
	if fields.Status != nil {
		node.Status = status
	}
	r.nodes[id] = node

	if fields.HasParent {
		kept := r.edges[:0]
		for _, e := range r.edges {
			if e.Target != id {
				kept = append(kept, e)
			}
		}
		r.edges = kept
		if fields.Parent != nil {
			r.edges = append(r.edges, model.Edge{Source: *fields.Parent, Target: id})
		}
	}
	return r.snapshotLocked(), nil
}

// Apply routes a decoded graph_patch to the matching operation.
func (r *Reconciler) Apply(patch *stream.Patch) (model.Graph, error) {
	switch patch.Action {
	case stream.ActionAdd:
		if patch.Node == nil {
			return model.Graph{}, &ValidationError{Field: "node", Value: "<missing>"}
		}
		return r.AddNode(model.Node{
			ID:          patch.Node.ID,
			Name:        patch.Node.Name,
			Description: patch.Node.Description,
			Status:      model.Status(patch.Node.Status),
		}, patch.ParentID)
	case stream.ActionDelete:
		return r.DeleteNodes(patch.NodeIDs), nil
	case stream.ActionUpdate:
		if patch.Fields == nil {
			return model.Graph{}, &ValidationError{Field: "fields", Value: "<missing>"}
		}
		return r.UpdateNode(patch.NodeID, *patch.Fields)
	}
	return model.Graph{}, &ValidationError{Field: "action", Value: string(patch.Action)}
}

// Snapshot returns an independent copy of the current graph.
func (r *Reconciler) Snapshot() model.Graph {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Reconciler) snapshotLocked() model.Graph {
	g := model.Graph{
		Nodes: make([]model.Node, 0, len(r.order)),
		Links: make([]model.Edge, 0, len(r.edges)),
	}
	for _, id := range r.order {
		g.Nodes = append(g.Nodes, r.nodes[id])
	}
	g.Links = append(g.Links, r.edges...)
	return g
}

func (r *Reconciler) deleteLocked(ids []string) {
	if len(ids) == 0 {
		return
	}
	doomed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		doomed[id] = struct{}{}
	}

	kept := r.order[:0]
	for _, id := range r.order {
		if _, gone := doomed[id]; gone {
			delete(r.nodes, id)
		} else {
			kept = append(kept, id)
		}
	}
	r.order = kept

	edges := r.edges[:0]
	for _, e := range r.edges {
		_, srcGone := doomed[e.Source]
		_, dstGone := doomed[e.Target]
		if !srcGone && !dstGone {
			edges = append(edges, e)
		}
	}
	r.edges = edges
}

// descendantsLocked returns id plus every node reachable through
// outbound edges.
func (r *Reconciler) descendantsLocked(id string) []string {
	visited := map[string]struct{}{id: {}}
	result := []string{id}
	queue := []string{id}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, e := range r.edges {
			if e.Source != current {
				continue
			}
			if _, seen := visited[e.Target]; seen {
				continue
			}
			visited[e.Target] = struct{}{}
			result = append(result, e.Target)
			queue = append(queue, e.Target)
		}
	}
	return result
}

func (r *Reconciler) hasEdge(source, target string) bool {
	for _, e := range r.edges {
		if e.Source == source && e.Target == target {
			return true
		}
	}
	return false
}
