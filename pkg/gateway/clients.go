package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"flowrelay/pkg/channel"
	"flowrelay/pkg/dispatcher"
	"flowrelay/pkg/session"
)

// Client is one enabled channel together with its dispatcher and session store.
type Client struct {
	ID         string
	Adapter    channel.Adapter
	Dispatcher *dispatcher.Dispatcher

	reaper *session.Reaper
}

// dispatch runs a turn on a context that survives gateway shutdown, so a turn
// that has started finishes its backend call and render. Backend and platform
// timeouts bound how long that takes.
func (c *Client) dispatch(ctx context.Context, update dispatcher.Update) error {
	return c.Dispatcher.Dispatch(context.WithoutCancel(ctx), update)
}

// clientRegistry owns the clients served by the gateway, keyed by id.
type clientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func newClientRegistry() *clientRegistry {
	return &clientRegistry{clients: make(map[string]*Client)}
}

func (r *clientRegistry) add(client *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clients[client.ID]; exists {
		return fmt.Errorf("duplicate client id %q", client.ID)
	}
	r.clients[client.ID] = client
	return nil
}

func (r *clientRegistry) get(id string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[id]
	return client, ok
}

// list returns clients sorted by id.
func (r *clientRegistry) list() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.clients))
	for _, client := range r.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].ID < clients[j].ID })
	return clients
}

// setActive switches a client on or off and reports whether it exists.
func (r *clientRegistry) setActive(id string, active bool) bool {
	client, ok := r.get(id)
	if !ok {
		return false
	}
	client.Dispatcher.SetActive(active)
	return true
}

// stopReapers stops every running session reaper.
func (r *clientRegistry) stopReapers() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, client := range r.clients {
		client.reaper.Stop()
		client.reaper = nil
	}
}
