package ws

import (
	"log"
	"sync"
)

// Registry tracks the live connection per player. Entries are created
// at connect and removed at disconnect/cleanup; a second connection
// for the same player displaces the first. All access goes through
// the registry's lock, never an ambient map.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]*Client),
	}
}

// Register installs the client as the player's live connection and
// returns the displaced previous connection, if any. The caller is
// responsible for shutting the old one down.
func (r *Registry) Register(client *Client) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.clients[client.player]
	r.clients[client.player] = client
	log.Printf("✅ Client registered: %s (Total: %d)", client.player, len(r.clients))
	return old
}

// Unregister removes the player's entry, but only if it still points
// at this client; a displaced connection must not evict its successor.
func (r *Registry) Unregister(client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.clients[client.player]; ok && current == client {
		delete(r.clients, client.player)
		log.Printf("👋 Client unregistered: %s (Total: %d)", client.player, len(r.clients))
	}
}

// Get returns the live connection for a player, if any.
func (r *Registry) Get(player string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[player]
	return client, ok
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
