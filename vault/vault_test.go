package vault

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"testing"
	"time"
)

func TestComputeSharePriceWad(t *testing.T) {
	t.Run("EmptyPoolIsPar", func(t *testing.T) {
		price := ComputeSharePriceWad(big.NewInt(0), big.NewInt(0), 6, 9)
		if price.Cmp(big.NewInt(1e18)) != 0 {
			t.Errorf("Empty pool price: expected 1e18 (par), got %s", price)
		}
	})

	t.Run("MixedDecimals", func(t *testing.T) {
		// 1.96 tokens of 6-decimal assets against 1.0 token of 9-decimal shares
		price := ComputeSharePriceWad(big.NewInt(1960000), big.NewInt(1000000000), 6, 9)
		got := SharePriceFloat(price)
		if math.Abs(got-1.96) > 1e-9 {
			t.Errorf("Expected share price 1.96, got %f (wad %s)", got, price)
		}
	})

	t.Run("EqualDecimals", func(t *testing.T) {
		price := ComputeSharePriceWad(big.NewInt(3000000), big.NewInt(2000000), 6, 6)
		got := SharePriceFloat(price)
		if math.Abs(got-1.5) > 1e-9 {
			t.Errorf("Expected share price 1.5, got %f", got)
		}
	})

	t.Run("RawRatioWouldBeWrong", func(t *testing.T) {
		// Same economic state as MixedDecimals; the raw integer ratio
		// 1960000/1000000000 would price the share near zero.
		price := ComputeSharePriceWad(big.NewInt(1960000), big.NewInt(1000000000), 6, 9)
		if SharePriceFloat(price) < 1.0 {
			t.Errorf("Decimal normalization missing: price %f", SharePriceFloat(price))
		}
	})
}

// stubReader is a scriptable LedgerReader for cache tests.
type stubReader struct {
	assets *big.Int
	shares *big.Int
	err    error
	calls  int
}

func (s *stubReader) TotalAssets(ctx context.Context) (*big.Int, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return new(big.Int).Set(s.assets), nil
}

func (s *stubReader) TotalShares(ctx context.Context) (*big.Int, error) {
	if s.err != nil {
		return nil, s.err
	}
	return new(big.Int).Set(s.shares), nil
}

func TestCacheRefresh(t *testing.T) {
	ctx := context.Background()

	t.Run("CapturesSnapshot", func(t *testing.T) {
		reader := &stubReader{assets: big.NewInt(1960000), shares: big.NewInt(1000000000)}
		cache := NewCache(reader, nil)

		if _, ok := cache.LatestSnapshot(); ok {
			t.Fatal("Expected no snapshot before first refresh")
		}
		if err := cache.Refresh(ctx); err != nil {
			t.Fatalf("Refresh failed: %v", err)
		}

		snap, ok := cache.LatestSnapshot()
		if !ok {
			t.Fatal("Expected snapshot after refresh")
		}
		if snap.IsStale {
			t.Error("Fresh snapshot flagged stale")
		}
		if got := SharePriceFloat(snap.SharePriceWad); math.Abs(got-1.96) > 1e-9 {
			t.Errorf("Expected price 1.96, got %f", got)
		}
	})

	t.Run("FetchFailureKeepsLastKnownGood", func(t *testing.T) {
		reader := &stubReader{assets: big.NewInt(5000000), shares: big.NewInt(0)}
		cache := NewCache(reader, nil)
		if err := cache.Refresh(ctx); err != nil {
			t.Fatalf("Refresh failed: %v", err)
		}

		reader.err = fmt.Errorf("rpc unreachable")
		if err := cache.Refresh(ctx); err == nil {
			t.Fatal("Expected refresh error")
		}

		snap, ok := cache.LatestSnapshot()
		if !ok {
			t.Fatal("Last-known-good snapshot lost after failed refresh")
		}
		if snap.TotalAssets.Cmp(big.NewInt(5000000)) != 0 {
			t.Errorf("Snapshot changed on failed refresh: assets %s", snap.TotalAssets)
		}
	})

	t.Run("StalenessFlag", func(t *testing.T) {
		reader := &stubReader{assets: big.NewInt(100), shares: big.NewInt(100)}
		cache := NewCache(reader, nil)
		if err := cache.Refresh(ctx); err != nil {
			t.Fatalf("Refresh failed: %v", err)
		}

		// Backdate the capture past the staleness threshold
		cache.mu.Lock()
		cache.latest.CapturedAt = time.Now().Add(-10 * time.Minute)
		cache.mu.Unlock()

		snap, _ := cache.LatestSnapshot()
		if !snap.IsStale {
			t.Error("Old snapshot not flagged stale")
		}
		if _, fresh := cache.AvailableAssets(); fresh {
			t.Error("Stale snapshot must not be offered for solvency checks")
		}
	})
}

func TestCacheStartStop(t *testing.T) {
	reader := &stubReader{assets: big.NewInt(100), shares: big.NewInt(100)}
	cache := NewCache(reader, nil)

	cache.Start()
	defer cache.Stop()

	// The loop primes the cache before its first tick
	deadline := time.After(2 * time.Second)
	for {
		if _, ok := cache.LatestSnapshot(); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("Cache never primed after Start")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
