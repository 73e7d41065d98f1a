package api

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"coinhouse/vault"
)

/* =========================
   VAULT LEDGER ENDPOINTS
========================= */

// VaultSnapshotResponse is the wire form of a ledger snapshot. Big
// integers travel as decimal strings.
type VaultSnapshotResponse struct {
	TotalAssets   string    `json:"totalAssets"`
	TotalShares   string    `json:"totalShares"`
	SharePriceWad string    `json:"sharePriceWad"`
	SharePrice    float64   `json:"sharePrice"`
	CapturedAt    time.Time `json:"capturedAt"`
	Stale         bool      `json:"stale"`
}

func snapshotResponse(snap vault.Snapshot) VaultSnapshotResponse {
	return VaultSnapshotResponse{
		TotalAssets:   snap.TotalAssets.String(),
		TotalShares:   snap.TotalShares.String(),
		SharePriceWad: snap.SharePriceWad.String(),
		SharePrice:    vault.SharePriceFloat(snap.SharePriceWad),
		CapturedAt:    snap.CapturedAt,
		Stale:         snap.IsStale,
	}
}

// HandleVaultSnapshot returns the latest cached vault ledger snapshot
// GET /api/vault
func (h *Handlers) HandleVaultSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if h.Vault == nil {
		sendError(w, http.StatusServiceUnavailable, "Vault indexer unavailable")
		return
	}

	snap, ok := h.Vault.LatestSnapshot()
	if !ok {
		sendError(w, http.StatusServiceUnavailable, "No vault snapshot captured yet")
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"snapshot": snapshotResponse(snap),
	})
}

// HandleVaultHistory returns recent persisted snapshots, newest first
// GET /api/vault/history?limit={n}
func (h *Handlers) HandleVaultHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if h.Store == nil {
		sendError(w, http.StatusServiceUnavailable, "Snapshot history unavailable")
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	snaps, err := h.Store.GetRecentVaultSnapshots(r.Context(), limit)
	if err != nil {
		log.Printf("❌ Failed to fetch vault history: %v", err)
		sendError(w, http.StatusInternalServerError, "Failed to fetch vault history")
		return
	}

	history := make([]VaultSnapshotResponse, 0, len(snaps))
	for _, snap := range snaps {
		history = append(history, snapshotResponse(*snap))
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"count":   len(history),
		"history": history,
	})
}
