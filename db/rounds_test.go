package db

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"coinhouse/game"
	"coinhouse/settle"

	"github.com/joho/godotenv"
)

// Integration test against a real database. Skips when DATABASE_URL is
// not set.
func TestRoundLifecycle(t *testing.T) {
	// Load env
	_ = godotenv.Load("../.env")

	// Check DATABASE_URL
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set")
	}

	// Init postgres
	if err := InitPostgres(); err != nil {
		t.Fatalf("Failed to init postgres: %v", err)
	}
	defer ClosePostgres()

	store, err := NewStore()
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	ctx := context.Background()
	roundID := fmt.Sprintf("testround-%d", time.Now().UnixNano())
	player := "0xTestPlayer12345678901234567890123456789012"

	// Cleanup before and after
	cleanup := func() {
		_, _ = PostgresPool.Exec(ctx, "DELETE FROM settlements WHERE round_id = $1", roundID)
		_, _ = PostgresPool.Exec(ctx, "DELETE FROM rounds WHERE round_id = $1", roundID)
	}
	cleanup()
	defer cleanup()

	now := time.Now()
	round := &game.Round{
		RoundID:       roundID,
		PlayerAddress: player,
		Wager:         1000000,
		Choice:        "heads",
		Commitment:    "0xabcdabcdabcdabcdabcdabcdabcdabcdabcdabcdabcdabcdabcdabcdabcdabcd",
		Status:        game.RoundAwaitingReveal,
		CommittedAt:   now,
	}

	t.Run("RecordCommit", func(t *testing.T) {
		if err := store.RecordCommit(ctx, round); err != nil {
			t.Fatalf("RecordCommit failed: %v", err)
		}

		got, err := store.GetRound(ctx, roundID)
		if err != nil {
			t.Fatalf("GetRound failed: %v", err)
		}
		if got == nil {
			t.Fatal("Expected round, got nil")
		}
		if got.Status != game.RoundAwaitingReveal {
			t.Errorf("Expected status awaiting_reveal, got %s", got.Status)
		}
		if got.Wager != 1000000 {
			t.Errorf("Expected wager 1000000, got %d", got.Wager)
		}
	})

	t.Run("RecordResolution", func(t *testing.T) {
		balanceBefore, err := store.GetPoolBalance(ctx)
		if err != nil {
			t.Fatalf("GetPoolBalance failed: %v", err)
		}

		revealedAt := time.Now()
		resolvedAt := time.Now()
		round.PlayerNonce = "0x1111111111111111111111111111111111111111111111111111111111111111"
		round.HouseNonce = "0x2222222222222222222222222222222222222222222222222222222222222222"
		round.Outcome = "heads"
		round.Won = true
		round.Payout = 1960000
		round.Status = game.RoundResolved
		round.RevealedAt = &revealedAt
		round.ResolvedAt = &resolvedAt

		if err := store.RecordResolution(ctx, round); err != nil {
			t.Fatalf("RecordResolution failed: %v", err)
		}

		// The wager is credited to the pool in the same transaction
		balanceAfter, err := store.GetPoolBalance(ctx)
		if err != nil {
			t.Fatalf("GetPoolBalance failed: %v", err)
		}
		if balanceAfter != balanceBefore+round.Wager {
			t.Errorf("Expected pool balance %d, got %d", balanceBefore+round.Wager, balanceAfter)
		}

		// The settlement row exists before any handoff happens
		status, err := store.SettlementStatus(ctx, roundID)
		if err != nil {
			t.Fatalf("SettlementStatus failed: %v", err)
		}
		if status != settle.StatusPending {
			t.Errorf("Expected settlement pending, got %s", status)
		}
	})

	t.Run("ApplySettlementExactlyOnce", func(t *testing.T) {
		applied, err := store.ApplySettlement(ctx, roundID)
		if err != nil {
			t.Fatalf("ApplySettlement failed: %v", err)
		}
		if !applied {
			t.Fatal("Expected first application to apply")
		}

		// Second application is a no-op
		applied, err = store.ApplySettlement(ctx, roundID)
		if err != nil {
			t.Fatalf("Duplicate ApplySettlement errored: %v", err)
		}
		if applied {
			t.Fatal("Expected duplicate application to be a no-op")
		}

		got, err := store.GetRound(ctx, roundID)
		if err != nil {
			t.Fatalf("GetRound failed: %v", err)
		}
		if got.Status != game.RoundSettled {
			t.Errorf("Expected round settled, got %s", got.Status)
		}

		status, _ := store.SettlementStatus(ctx, roundID)
		if status != settle.StatusSettled {
			t.Errorf("Expected settlement settled, got %s", status)
		}
	})

	t.Run("UnknownSettlementStatus", func(t *testing.T) {
		status, err := store.SettlementStatus(ctx, "no-such-round")
		if err != nil {
			t.Fatalf("SettlementStatus failed: %v", err)
		}
		if status != settle.StatusUnknown {
			t.Errorf("Expected unknown, got %s", status)
		}
	})
}
