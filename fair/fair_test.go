package fair

import (
	"testing"
)

func TestGenerateNonce(t *testing.T) {
	t.Run("Format", func(t *testing.T) {
		nonce := GenerateNonce()
		if len(nonce) != 66 {
			t.Errorf("Expected 66-char nonce, got %d chars: %s", len(nonce), nonce)
		}
		if nonce[:2] != "0x" {
			t.Errorf("Expected 0x prefix, got %s", nonce[:2])
		}
	})

	t.Run("NoCollisions", func(t *testing.T) {
		seen := make(map[string]bool, 10000)
		for i := 0; i < 10000; i++ {
			nonce := GenerateNonce()
			if seen[nonce] {
				t.Fatalf("Nonce collision after %d draws: %s", i, nonce)
			}
			seen[nonce] = true
		}
	})
}

func TestCommitmentRoundtrip(t *testing.T) {
	nonce := GenerateNonce()

	commitment, err := CreateCommitment(1000000, "heads", nonce)
	if err != nil {
		t.Fatalf("CreateCommitment failed: %v", err)
	}
	if len(commitment) != 66 {
		t.Errorf("Expected 66-char commitment, got %d", len(commitment))
	}

	if !VerifyCommitment(commitment, 1000000, "heads", nonce) {
		t.Error("Commitment did not verify against its own inputs")
	}

	t.Run("WagerMismatch", func(t *testing.T) {
		if VerifyCommitment(commitment, 1000001, "heads", nonce) {
			t.Error("Verified with wrong wager")
		}
	})

	t.Run("ChoiceMismatch", func(t *testing.T) {
		if VerifyCommitment(commitment, 1000000, "tails", nonce) {
			t.Error("Verified with wrong choice")
		}
	})

	t.Run("NonceMismatch", func(t *testing.T) {
		if VerifyCommitment(commitment, 1000000, "heads", GenerateNonce()) {
			t.Error("Verified with wrong nonce")
		}
	})

	t.Run("MalformedCommitment", func(t *testing.T) {
		if VerifyCommitment("0xnothex", 1000000, "heads", nonce) {
			t.Error("Verified a malformed commitment")
		}
		if VerifyCommitment("", 1000000, "heads", nonce) {
			t.Error("Verified an empty commitment")
		}
	})
}

func TestCreateCommitmentRejectsBadInputs(t *testing.T) {
	nonce := GenerateNonce()

	if _, err := CreateCommitment(0, "heads", nonce); err == nil {
		t.Error("Expected error for zero wager")
	}
	if _, err := CreateCommitment(-5, "heads", nonce); err == nil {
		t.Error("Expected error for negative wager")
	}
	if _, err := CreateCommitment(100, "sideways", nonce); err == nil {
		t.Error("Expected error for unrecognized choice")
	}
	if _, err := CreateCommitment(100, "heads", "0xshort"); err == nil {
		t.Error("Expected error for malformed nonce")
	}
}

func TestDeriveResult(t *testing.T) {
	t.Run("Deterministic", func(t *testing.T) {
		player := GenerateNonce()
		house := GenerateNonce()

		first, err := DeriveResult(player, house)
		if err != nil {
			t.Fatalf("DeriveResult failed: %v", err)
		}
		for i := 0; i < 100; i++ {
			again, err := DeriveResult(player, house)
			if err != nil {
				t.Fatalf("DeriveResult failed on repeat: %v", err)
			}
			if again != first {
				t.Fatalf("Outcome changed between calls: %s then %s", first, again)
			}
		}
	})

	t.Run("OrderMatters", func(t *testing.T) {
		// Swapping the two nonces is a different round; over many pairs
		// the outcomes must not be forced equal.
		differed := false
		for i := 0; i < 64; i++ {
			a, b := GenerateNonce(), GenerateNonce()
			r1, _ := DeriveResult(a, b)
			r2, _ := DeriveResult(b, a)
			if r1 != r2 {
				differed = true
				break
			}
		}
		if !differed {
			t.Error("Swapped nonce pairs never produced a different outcome")
		}
	})

	t.Run("MalformedNonce", func(t *testing.T) {
		if _, err := DeriveResult("0xzz", GenerateNonce()); err == nil {
			t.Error("Expected error for malformed player nonce")
		}
		if _, err := DeriveResult(GenerateNonce(), "no-prefix"); err == nil {
			t.Error("Expected error for malformed house nonce")
		}
	})
}

func TestDeriveResultFairness(t *testing.T) {
	const samples = 10000

	heads := 0
	for i := 0; i < samples; i++ {
		outcome, err := DeriveResult(GenerateNonce(), GenerateNonce())
		if err != nil {
			t.Fatalf("DeriveResult failed: %v", err)
		}
		if outcome == OutcomeHeads {
			heads++
		}
	}

	ratio := float64(heads) / float64(samples)
	t.Logf("heads: %d/%d (%.2f%%)", heads, samples, ratio*100)

	if ratio < 0.45 || ratio > 0.55 {
		t.Errorf("Outcome distribution outside 45-55%% bound: %.2f%%", ratio*100)
	}
}

func TestCalculatePayout(t *testing.T) {
	const edgeBps = 200

	t.Run("LostPaysZero", func(t *testing.T) {
		for _, wager := range []int64{1, 1000, 1000000, 999999999999} {
			if got := CalculatePayout(wager, false, edgeBps); got != 0 {
				t.Errorf("Lost round with wager %d paid %d, want 0", wager, got)
			}
		}
	})

	t.Run("WonPaysDoubleMinusEdge", func(t *testing.T) {
		if got := CalculatePayout(1000000, true, edgeBps); got != 1960000 {
			t.Errorf("Expected payout 1960000, got %d", got)
		}
		if got := CalculatePayout(5000, true, edgeBps); got != 9800 {
			t.Errorf("Expected payout 9800, got %d", got)
		}
	})

	t.Run("NoDrift", func(t *testing.T) {
		first := CalculatePayout(1234567, true, edgeBps)
		for i := 0; i < 1000; i++ {
			if got := CalculatePayout(1234567, true, edgeBps); got != first {
				t.Fatalf("Payout drifted: %d then %d", first, got)
			}
		}
	})

	t.Run("EdgeIsParameter", func(t *testing.T) {
		if got := CalculatePayout(1000000, true, 0); got != 2000000 {
			t.Errorf("Zero-edge payout: expected 2000000, got %d", got)
		}
		if got := CalculatePayout(1000000, true, 500); got != 1900000 {
			t.Errorf("500bps payout: expected 1900000, got %d", got)
		}
	})
}

func TestValidChoice(t *testing.T) {
	if !ValidChoice("heads") || !ValidChoice("tails") {
		t.Error("heads/tails should be valid choices")
	}
	if ValidChoice("edge") || ValidChoice("") || ValidChoice("HEADS") {
		t.Error("Unrecognized choices should be invalid")
	}
}
