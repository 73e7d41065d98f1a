package ws

import (
	"context"
	"log"
	"net/http"

	"coinhouse/config"
	"coinhouse/game"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Settler receives ownership of resolved rounds. Settlement outlives
// the connection that produced the round.
type Settler interface {
	Handoff(ctx context.Context, round *game.Round) error
}

// Reserver holds player funds while a round is open and caches
// resolved rounds for the read API.
type Reserver interface {
	ReserveWager(ctx context.Context, playerAddress, roundID string, amount int64) error
	ReleaseWager(ctx context.Context, playerAddress, roundID string) error
	CacheResolvedRound(ctx context.Context, round *game.Round) error
}

// Gateway accepts player connections and gives each one its own
// session. settler and reserver may be nil in degraded deployments;
// the recorder is mandatory because nothing moves without durable
// round records.
type Gateway struct {
	registry *Registry
	recorder game.Recorder
	settler  Settler
	reserver Reserver
}

// NewGateway wires the connection layer to the durable stores and the
// settlement pipeline.
func NewGateway(recorder game.Recorder, settler Settler, reserver Reserver) *Gateway {
	return &Gateway{
		registry: NewRegistry(),
		recorder: recorder,
		settler:  settler,
		reserver: reserver,
	}
}

// Registry exposes the connection registry for health reporting.
func (g *Gateway) Registry() *Registry {
	return g.registry
}

// HandleWS upgrades a connection and runs its session until the peer
// goes away. The player address arrives as a query parameter; a second
// connection for the same address displaces the first.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	player := r.URL.Query().Get("address")
	if player == "" {
		http.Error(w, "missing address parameter", http.StatusBadRequest)
		return
	}

	log.Println("📥 WebSocket connection attempt from:", r.RemoteAddr)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("❌ WebSocket upgrade failed:", err)
		return
	}

	client := newClient(g, conn, player)
	if old := g.registry.Register(client); old != nil {
		log.Printf("🔁 Displacing previous connection for %s", player)
		old.shutdown()
	}

	go client.writePump()
	go client.run()
	client.readPump()
}
