package api

import (
	"context"
	"log"
	"net/http"
	"strconv"

	"coinhouse/db"
	"coinhouse/game"
	"coinhouse/settle"
	"coinhouse/vault"
)

/* =========================
   HANDLER DEPENDENCIES
========================= */

// ClientCounter reports live gateway connections for the health check.
type ClientCounter interface {
	Count() int
}

// SettlementReader answers settlement-status queries.
type SettlementReader interface {
	StatusOf(ctx context.Context, roundID string) (settle.Status, error)
}

// Handlers carries the read-side dependencies for the HTTP API. Any
// field may be nil; the affected endpoints degrade or 503.
type Handlers struct {
	Store   *db.Store
	Cache   *db.Reservations
	Settler SettlementReader
	Vault   *vault.Cache
	Clients ClientCounter
}

/* =========================
   ROUND ENDPOINTS
========================= */

// HandleGetRound returns one round's audit record
// GET /api/rounds?roundId={id}
func (h *Handlers) HandleGetRound(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	roundID := r.URL.Query().Get("roundId")
	if roundID == "" {
		sendError(w, http.StatusBadRequest, "roundId is required")
		return
	}

	round, err := h.lookupRound(r.Context(), roundID)
	if err != nil {
		log.Printf("❌ Failed to fetch round %s: %v", roundID, err)
		sendError(w, http.StatusInternalServerError, "Failed to fetch round")
		return
	}
	if round == nil {
		sendError(w, http.StatusNotFound, "Round not found")
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"round":   round,
	})
}

// HandleRecentRounds returns the latest rounds, newest first
// GET /api/rounds/recent?limit={n}
func (h *Handlers) HandleRecentRounds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if h.Store == nil {
		sendError(w, http.StatusServiceUnavailable, "Round history unavailable")
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	rounds, err := h.Store.GetRecentRounds(r.Context(), limit)
	if err != nil {
		log.Printf("❌ Failed to fetch recent rounds: %v", err)
		sendError(w, http.StatusInternalServerError, "Failed to fetch rounds")
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"count":   len(rounds),
		"rounds":  rounds,
	})
}

// HandleSettlementStatus reports where a round sits in the settlement
// pipeline
// GET /api/settlement?roundId={id}
func (h *Handlers) HandleSettlementStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if h.Settler == nil {
		sendError(w, http.StatusServiceUnavailable, "Settlement pipeline unavailable")
		return
	}

	roundID := r.URL.Query().Get("roundId")
	if roundID == "" {
		sendError(w, http.StatusBadRequest, "roundId is required")
		return
	}

	status, err := h.Settler.StatusOf(r.Context(), roundID)
	if err != nil {
		log.Printf("❌ Failed to fetch settlement status for %s: %v", roundID, err)
		sendError(w, http.StatusInternalServerError, "Failed to fetch settlement status")
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"roundId": roundID,
		"status":  status,
	})
}

// HandleGetReservation returns a player's active wager hold, or null
// when nothing is reserved
// GET /api/reservation?address={player}
func (h *Handlers) HandleGetReservation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if h.Cache == nil {
		sendError(w, http.StatusServiceUnavailable, "Reservation store unavailable")
		return
	}

	address := r.URL.Query().Get("address")
	if address == "" {
		sendError(w, http.StatusBadRequest, "address is required")
		return
	}

	reservation, err := h.Cache.GetReservation(r.Context(), address)
	if err != nil {
		log.Printf("❌ Failed to fetch reservation for %s: %v", address, err)
		sendError(w, http.StatusInternalServerError, "Failed to fetch reservation")
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"reservation": reservation,
	})
}

// lookupRound prefers the hot redis copy and falls back to postgres.
func (h *Handlers) lookupRound(ctx context.Context, roundID string) (*game.Round, error) {
	if h.Cache != nil {
		if round, err := h.Cache.GetCachedRound(ctx, roundID); err == nil && round != nil {
			return round, nil
		}
	}
	if h.Store == nil {
		return nil, nil
	}
	return h.Store.GetRound(ctx, roundID)
}
