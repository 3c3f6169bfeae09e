package graph

import (
	"sync"

	model "github.com/tasknet/taskgraph/internal/model/graph"
)

// Feed fans reconciled snapshots out to WebSocket subscribers. Publish
// never blocks: a subscriber that falls behind only misses intermediate
// snapshots, the next publish supersedes them anyway.
type Feed struct {
	mu   sync.Mutex
	subs map[chan model.Graph]struct{}
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[chan model.Graph]struct{})}
}

// Subscribe registers a listener. The returned cancel func must be called
// to release the channel.
func (f *Feed) Subscribe() (<-chan model.Graph, func()) {
	ch := make(chan model.Graph, 8)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		if _, ok := f.subs[ch]; ok {
			delete(f.subs, ch)
			close(ch)
		}
		f.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers a snapshot to every current subscriber.
func (f *Feed) Publish(g model.Graph) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- g:
		default:
		}
	}
}
