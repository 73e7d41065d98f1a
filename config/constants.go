package config

import (
	"math/big"
	"time"
)

/* =========================
   NETWORK CONFIGURATION
========================= */

const (
	// Mantle Sepolia Testnet
	MantleSepoliaRPC = "https://rpc.sepolia.mantle.xyz"
	MantleChainID    = 5003
)

/* =========================
   GAME MECHANICS - COINFLIP
========================= */

const (
	// House edge in basis points (200 = 2%). Passed into payout math as a
	// parameter so per-game edges only need a new constant here.
	HouseEdgeBps = 200

	// Valid choices for a round
	ChoiceHeads = "heads"
	ChoiceTails = "tails"

	// Wager limits (smallest currency unit, 6 decimals)
	MinWagerAmount = int64(1000)          // 0.001 tokens
	MaxWagerAmount = int64(1000000000000) // 1M tokens

	// Round timing
	CommitWindow = 60 * time.Second // max wait for submitCommitment
	RevealWindow = 60 * time.Second // max wait for reveal after commit
)

/* =========================
   SETTLEMENT CONFIGURATION
========================= */

const (
	// Retry policy for failed settlements
	SettleMaxRetries   = 5
	SettleBaseBackoff  = 2 * time.Second
	SettleMaxBackoff   = 60 * time.Second
	SettleQueueSize    = 256
	SettleWriteTimeout = 10 * time.Second

	// How often the worker re-scans for unfinished settlements
	SettleRecoveryInterval = 30 * time.Second
)

/* =========================
   VAULT LEDGER CONFIGURATION
========================= */

const (
	// Indexer refresh interval and staleness bound
	VaultRefreshInterval = 15 * time.Second
	VaultStaleAfter      = 2 * time.Minute
	VaultFetchTimeout    = 10 * time.Second

	// Snapshot history retained in postgres
	VaultHistoryLimit = 500

	// Decimal precision of the pooled asset and the vault share token
	VaultAssetDecimals = 6
	VaultShareDecimals = 9
)

var (
	// Share price fixed-point scale (1e18 = 1.0)
	SharePriceWad = big.NewInt(1e18)
)

/* =========================
   REDIS TTL CONFIGURATION
========================= */

const (
	// Open round marker TTL (auto-releases abandoned rounds)
	// Key: round:open:{playerAddress}
	OpenRoundTTL = 5 * time.Minute

	// Reserved wager TTL
	// Key: reserve:{playerAddress}
	ReserveTTL = 5 * time.Minute

	// Resolved round cache TTL
	// Key: round:resolved:{roundId}
	ResolvedRoundTTL = 1 * time.Hour
)

/* =========================
   REDIS KEY PATTERNS
========================= */

const (
	RedisOpenRoundKey     = "round:open:%s"     // round:open:{playerAddress}
	RedisReserveKey       = "reserve:%s"        // reserve:{playerAddress}
	RedisResolvedRoundKey = "round:resolved:%s" // round:resolved:{roundId}
)

/* =========================
   WEBSOCKET CONFIGURATION
========================= */

const (
	// WebSocket settings
	WSReadDeadline  = 60 * time.Second
	WSWriteDeadline = 10 * time.Second
	WSPingInterval  = 30 * time.Second

	// Buffer sizes
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSSendQueueSize   = 256

	// Message size limits
	MaxMessageSize = 64 * 1024 // 64KB
)

/* =========================
   API CONFIGURATION
========================= */

const (
	ServerPort = "8080"
	ServerHost = "0.0.0.0"
)

/* =========================
   HELPER FUNCTIONS
========================= */

// pow10 returns 10^n as *big.Int for decimal normalization
func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// AssetUnit returns the scale factor of one whole pooled asset token
func AssetUnit() *big.Int {
	return pow10(VaultAssetDecimals)
}

// ShareUnit returns the scale factor of one whole vault share
func ShareUnit() *big.Int {
	return pow10(VaultShareDecimals)
}
