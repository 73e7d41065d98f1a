package api

import (
	"log"
	"net/http"

	"coinhouse/fair"
	"coinhouse/game"
)

/* =========================
   FAIRNESS VERIFICATION
========================= */

// VerifyResponse lets anyone recheck a finished round from its audit
// record alone.
type VerifyResponse struct {
	Success         bool   `json:"success"`
	RoundID         string `json:"roundId"`
	Commitment      string `json:"commitment"`
	CommitmentValid bool   `json:"commitmentValid"`
	DerivedOutcome  string `json:"derivedOutcome"`
	RecordedOutcome string `json:"recordedOutcome"`
	OutcomeValid    bool   `json:"outcomeValid"`
}

// HandleVerifyRound recomputes a round's commitment and outcome from
// the stored nonces and compares them against what was recorded
// GET /api/verify?roundId={id}
func (h *Handlers) HandleVerifyRound(w http.ResponseWriter, r *http.Request) {
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
		log.Printf("❌ Failed to fetch round %s for verification: %v", roundID, err)
		sendError(w, http.StatusInternalServerError, "Failed to fetch round")
		return
	}
	if round == nil {
		sendError(w, http.StatusNotFound, "Round not found")
		return
	}
	if round.Status != game.RoundResolved && round.Status != game.RoundSettled {
		sendError(w, http.StatusConflict, "Round has no revealed nonces to verify")
		return
	}

	commitmentValid := fair.VerifyCommitment(round.Commitment, round.Wager, round.Choice, round.PlayerNonce)

	derived, err := fair.DeriveResult(round.PlayerNonce, round.HouseNonce)
	if err != nil {
		log.Printf("❌ Outcome derivation failed for round %s: %v", roundID, err)
		sendError(w, http.StatusInternalServerError, "Failed to derive outcome")
		return
	}

	sendJSON(w, http.StatusOK, VerifyResponse{
		Success:         true,
		RoundID:         round.RoundID,
		Commitment:      round.Commitment,
		CommitmentValid: commitmentValid,
		DerivedOutcome:  derived,
		RecordedOutcome: round.Outcome,
		OutcomeValid:    derived == round.Outcome,
	})
}
