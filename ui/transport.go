package ui

import (
	"context"
	"errors"
	"sync"

	"github.com/getdoover/digital-matter/channel"
)

// StoreTransport adapts a channel store to the Transport interface for
// managers running next to the store, where "subscribing" means polling
// the aggregates before each reconciliation pass.
type StoreTransport struct {
	mu      sync.Mutex
	store   channel.Store
	agentID string
	subs    map[string][]func(name string, aggregate channel.Document)
}

// NewStoreTransport returns a transport reading and writing the channels
// of the given agent.
func NewStoreTransport(store channel.Store, agentID string) *StoreTransport {
	return &StoreTransport{
		store:   store,
		agentID: agentID,
		subs:    map[string][]func(name string, aggregate channel.Document){},
	}
}

// Subscribe implements Transport. Callbacks fire on the next Poll.
func (t *StoreTransport) Subscribe(name string, callback func(name string, aggregate channel.Document)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs[name] = append(t.subs[name], callback)
	return nil
}

// Poll fetches every subscribed channel's aggregate and delivers it to the
// subscribers. Channels that do not exist yet are skipped.
func (t *StoreTransport) Poll(ctx context.Context) error {
	t.mu.Lock()
	names := make([]string, 0, len(t.subs))
	for name := range t.subs {
		names = append(names, name)
	}
	t.mu.Unlock()

	for _, name := range names {
		aggregate, err := t.store.GetAggregate(ctx, t.agentID, name)
		if errors.Is(err, channel.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		t.mu.Lock()
		callbacks := append([]func(string, channel.Document){}, t.subs[name]...)
		t.mu.Unlock()
		for _, callback := range callbacks {
			callback(name, aggregate)
		}
	}
	return nil
}

// Publish implements Transport.
func (t *StoreTransport) Publish(ctx context.Context, name string, patch channel.Document, saveLog bool) error {
	return t.store.Publish(ctx, t.agentID, name, patch, saveLog)
}

// Online implements Transport. A local store is always reachable.
func (t *StoreTransport) Online() bool { return true }
