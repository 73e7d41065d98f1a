package vault

import (
	"context"
	"log"
	"math/big"
	"sync"
	"time"

	"coinhouse/config"
)

// LedgerReader is the read-only query surface of the custody layer.
// The on-chain vault behind it is the ground truth for pooled assets
// and outstanding shares.
type LedgerReader interface {
	TotalAssets(ctx context.Context) (*big.Int, error)
	TotalShares(ctx context.Context) (*big.Int, error)
}

// SnapshotStore persists captured snapshots for the bounded history
// window. A nil store disables persistence.
type SnapshotStore interface {
	StoreVaultSnapshot(ctx context.Context, snap *Snapshot) error
}

// Cache holds the latest vault snapshot and refreshes it on a fixed
// interval. A failed refresh keeps the last-known-good snapshot so
// dependents stay unblocked; staleness is flagged on read instead.
type Cache struct {
	reader LedgerReader
	store  SnapshotStore

	mu     sync.RWMutex
	latest *Snapshot

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewCache creates a cache around the custody layer's query function.
func NewCache(reader LedgerReader, store SnapshotStore) *Cache {
	return &Cache{
		reader: reader,
		store:  store,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the refresh loop. The loop is supervised: a panic is
// logged and the loop restarts instead of silently dying.
func (c *Cache) Start() {
	go func() {
		defer close(c.done)
		for {
			if stopped := c.runLoop(); stopped {
				return
			}
			log.Println("⚠️  Vault indexer loop exited unexpectedly, restarting")
			time.Sleep(time.Second)
		}
	}()
}

// Stop terminates the refresh loop and waits for it to exit.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
}

func (c *Cache) runLoop() (stopped bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Vault indexer panic: %v", r)
		}
	}()

	// Prime the cache before the first tick
	c.refreshOnce()

	ticker := time.NewTicker(config.VaultRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return true
		case <-ticker.C:
			c.refreshOnce()
		}
	}
}

func (c *Cache) refreshOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), config.VaultFetchTimeout)
	defer cancel()

	if err := c.Refresh(ctx); err != nil {
		log.Printf("⚠️  Vault refresh failed, keeping last-known-good snapshot: %v", err)
	}
}

// Refresh pulls the authoritative totals and replaces the cached
// snapshot. Transient fetch failures leave the previous snapshot in
// place.
func (c *Cache) Refresh(ctx context.Context) error {
	assets, err := c.reader.TotalAssets(ctx)
	if err != nil {
		return err
	}
	shares, err := c.reader.TotalShares(ctx)
	if err != nil {
		return err
	}

	snap := &Snapshot{
		TotalAssets:   assets,
		TotalShares:   shares,
		SharePriceWad: ComputeSharePriceWad(assets, shares, config.VaultAssetDecimals, config.VaultShareDecimals),
		CapturedAt:    time.Now(),
	}

	c.mu.Lock()
	c.latest = snap
	c.mu.Unlock()

	log.Printf("📊 Vault snapshot - Assets: %s, Shares: %s, Price: %.4f",
		assets.String(), shares.String(), SharePriceFloat(snap.SharePriceWad))

	if c.store != nil {
		if err := c.store.StoreVaultSnapshot(ctx, snap); err != nil {
			log.Printf("⚠️  Failed to persist vault snapshot: %v", err)
		}
	}
	return nil
}

// LatestSnapshot returns the cached valuation with its staleness flag,
// and false when no snapshot has ever been captured.
func (c *Cache) LatestSnapshot() (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.latest == nil {
		return Snapshot{}, false
	}
	snap := *c.latest
	snap.IsStale = time.Since(snap.CapturedAt) > config.VaultStaleAfter
	return snap, true
}

// AvailableAssets exposes the pooled total for settlement solvency
// pre-checks. fresh is false when there is no snapshot or it is older
// than the staleness threshold, in which case the settlement pipeline
// must not rely on it.
func (c *Cache) AvailableAssets() (*big.Int, bool) {
	snap, ok := c.LatestSnapshot()
	if !ok || snap.IsStale {
		return nil, false
	}
	return new(big.Int).Set(snap.TotalAssets), true
}
