package db

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"os"
	"time"

	"coinhouse/config"
	"coinhouse/game"
	"coinhouse/settle"
	"coinhouse/vault"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// PostgresPool is the global PostgreSQL connection pool
	PostgresPool *pgxpool.Pool
)

// InitPostgres initializes the PostgreSQL connection pool
func InitPostgres() error {
	log.Println("🔌 Connecting to PostgreSQL...")

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 5 * time.Minute

	PostgresPool, err = pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := PostgresPool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("✅ PostgreSQL connected successfully")

	if err := InitSchema(context.Background()); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// ClosePostgres closes the PostgreSQL connection pool
func ClosePostgres() {
	if PostgresPool != nil {
		log.Println("🔌 Closing PostgreSQL connection...")
		PostgresPool.Close()
	}
}

// InitSchema creates the database tables if they don't exist
func InitSchema(ctx context.Context) error {
	log.Println("📋 Initializing database schema...")

	roundsSchema := `
	CREATE TABLE IF NOT EXISTS rounds (
		round_id TEXT PRIMARY KEY,
		player_address TEXT NOT NULL,
		wager BIGINT NOT NULL,
		choice TEXT NOT NULL,
		commitment TEXT NOT NULL,
		player_nonce TEXT,
		house_nonce TEXT,
		outcome TEXT,
		won BOOLEAN NOT NULL DEFAULT FALSE,
		payout BIGINT NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		committed_at TIMESTAMPTZ NOT NULL,
		revealed_at TIMESTAMPTZ,
		resolved_at TIMESTAMPTZ,
		settled_at TIMESTAMPTZ
	);

	-- Index on player_address for player history
	CREATE INDEX IF NOT EXISTS idx_rounds_player ON rounds(player_address);

	-- Index on committed_at for recent rounds
	CREATE INDEX IF NOT EXISTS idx_rounds_committed_at ON rounds(committed_at DESC);
	`

	if _, err := PostgresPool.Exec(ctx, roundsSchema); err != nil {
		return fmt.Errorf("failed to create rounds table: %w", err)
	}

	settlementsSchema := `
	CREATE TABLE IF NOT EXISTS settlements (
		round_id TEXT PRIMARY KEY,
		recipient TEXT NOT NULL,
		amount BIGINT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INT NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	-- Index on status for the recovery scan
	CREATE INDEX IF NOT EXISTS idx_settlements_status ON settlements(status);
	`

	if _, err := PostgresPool.Exec(ctx, settlementsSchema); err != nil {
		return fmt.Errorf("failed to create settlements table: %w", err)
	}

	poolBalanceSchema := `
	CREATE TABLE IF NOT EXISTS pool_balance (
		id INT PRIMARY KEY CHECK (id = 1),
		balance BIGINT NOT NULL DEFAULT 0
	);

	INSERT INTO pool_balance (id, balance) VALUES (1, 0)
	ON CONFLICT (id) DO NOTHING;
	`

	if _, err := PostgresPool.Exec(ctx, poolBalanceSchema); err != nil {
		return fmt.Errorf("failed to create pool_balance table: %w", err)
	}

	vaultSnapshotsSchema := `
	CREATE TABLE IF NOT EXISTS vault_snapshots (
		id SERIAL PRIMARY KEY,
		total_assets TEXT NOT NULL,
		total_shares TEXT NOT NULL,
		share_price_wad TEXT NOT NULL,
		captured_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_vault_snapshots_captured_at ON vault_snapshots(captured_at DESC);
	`

	if _, err := PostgresPool.Exec(ctx, vaultSnapshotsSchema); err != nil {
		return fmt.Errorf("failed to create vault_snapshots table: %w", err)
	}

	log.Println("✅ Database schema initialized")
	return nil
}

// HealthCheckPostgres performs a PostgreSQL health check
func HealthCheckPostgres(ctx context.Context) error {
	if PostgresPool == nil {
		return fmt.Errorf("PostgreSQL connection pool not initialized")
	}
	return PostgresPool.Ping(ctx)
}

/* =========================
   STORE
========================= */

// Store is the persistence surface for rounds, settlements, the pool
// balance and vault snapshots. It implements game.Recorder,
// settle.Ledger and vault.SnapshotStore over the shared pool.
type Store struct{}

// NewStore returns a store over the global pool. InitPostgres must
// have succeeded first.
func NewStore() (*Store, error) {
	if PostgresPool == nil {
		return nil, fmt.Errorf("PostgreSQL connection pool not initialized")
	}
	return &Store{}, nil
}

/* =========================
   ROUNDS
========================= */

// RecordCommit durably stores a freshly committed round. The session
// state machine waits for this acknowledgment before accepting a
// reveal.
func (s *Store) RecordCommit(ctx context.Context, round *game.Round) error {
	query := `
		INSERT INTO rounds
		(round_id, player_address, wager, choice, commitment, status, committed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := PostgresPool.Exec(
		ctx,
		query,
		round.RoundID,
		round.PlayerAddress,
		round.Wager,
		round.Choice,
		round.Commitment,
		string(round.Status),
		round.CommittedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store round commit: %w", err)
	}

	log.Printf("✅ Stored round commit - Round: %s, Player: %s, Wager: %d",
		round.RoundID, round.PlayerAddress, round.Wager)
	return nil
}

// RecordResolution persists a round's terminal resolution (resolved,
// voided or expired). A resolved round also credits its collected
// wager to the pool balance in the same transaction, so the pool
// record always reflects wagers taken in before payouts go out.
func (s *Store) RecordResolution(ctx context.Context, round *game.Round) error {
	tx, err := PostgresPool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin resolution tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE rounds
		SET player_nonce = $1,
		    house_nonce = $2,
		    outcome = $3,
		    won = $4,
		    payout = $5,
		    status = $6,
		    revealed_at = $7,
		    resolved_at = $8
		WHERE round_id = $9
	`

	result, err := tx.Exec(
		ctx,
		query,
		round.PlayerNonce,
		round.HouseNonce,
		round.Outcome,
		round.Won,
		round.Payout,
		string(round.Status),
		round.RevealedAt,
		round.ResolvedAt,
		round.RoundID,
	)
	if err != nil {
		return fmt.Errorf("failed to store round resolution: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("round %s not found", round.RoundID)
	}

	if round.Status == game.RoundResolved {
		if _, err := tx.Exec(ctx,
			`UPDATE pool_balance SET balance = balance + $1 WHERE id = 1`,
			round.Wager,
		); err != nil {
			return fmt.Errorf("failed to credit pool with wager: %w", err)
		}

		// Ownership handoff is atomic with resolution: the settlement
		// row exists before the gateway can drop the connection, so a
		// resolved round is never lost between reveal and settlement.
		if _, err := tx.Exec(ctx,
			`INSERT INTO settlements (round_id, recipient, amount, status)
			 VALUES ($1, $2, $3, 'pending')
			 ON CONFLICT (round_id) DO NOTHING`,
			round.RoundID, round.PlayerAddress, round.Payout,
		); err != nil {
			return fmt.Errorf("failed to enqueue settlement with resolution: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit resolution tx: %w", err)
	}

	log.Printf("✅ Stored round resolution - Round: %s, Status: %s, Payout: %d",
		round.RoundID, round.Status, round.Payout)
	return nil
}

// GetRound retrieves a round by id, or nil when not found.
func (s *Store) GetRound(ctx context.Context, roundID string) (*game.Round, error) {
	query := `
		SELECT round_id, player_address, wager, choice, commitment,
		       COALESCE(player_nonce, ''), COALESCE(house_nonce, ''), COALESCE(outcome, ''),
		       won, payout, status, committed_at, revealed_at, resolved_at, settled_at
		FROM rounds
		WHERE round_id = $1
	`

	var round game.Round
	var status string

	err := PostgresPool.QueryRow(ctx, query, roundID).Scan(
		&round.RoundID,
		&round.PlayerAddress,
		&round.Wager,
		&round.Choice,
		&round.Commitment,
		&round.PlayerNonce,
		&round.HouseNonce,
		&round.Outcome,
		&round.Won,
		&round.Payout,
		&status,
		&round.CommittedAt,
		&round.RevealedAt,
		&round.ResolvedAt,
		&round.SettledAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get round: %w", err)
	}

	round.Status = game.RoundStatus(status)
	return &round, nil
}

// GetRecentRounds retrieves the N most recent rounds
func (s *Store) GetRecentRounds(ctx context.Context, limit int) ([]*game.Round, error) {
	query := `
		SELECT round_id, player_address, wager, choice, commitment,
		       COALESCE(player_nonce, ''), COALESCE(house_nonce, ''), COALESCE(outcome, ''),
		       won, payout, status, committed_at, revealed_at, resolved_at, settled_at
		FROM rounds
		ORDER BY committed_at DESC
		LIMIT $1
	`

	rows, err := PostgresPool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query rounds: %w", err)
	}
	defer rows.Close()

	var rounds []*game.Round
	for rows.Next() {
		var round game.Round
		var status string

		if err := rows.Scan(
			&round.RoundID,
			&round.PlayerAddress,
			&round.Wager,
			&round.Choice,
			&round.Commitment,
			&round.PlayerNonce,
			&round.HouseNonce,
			&round.Outcome,
			&round.Won,
			&round.Payout,
			&status,
			&round.CommittedAt,
			&round.RevealedAt,
			&round.ResolvedAt,
			&round.SettledAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		round.Status = game.RoundStatus(status)
		rounds = append(rounds, &round)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return rounds, nil
}

/* =========================
   SETTLEMENTS
========================= */

// EnqueueSettlement durably records the settlement handoff. Replays of
// the same round id are absorbed by the primary key.
func (s *Store) EnqueueSettlement(ctx context.Context, task settle.Task) error {
	query := `
		INSERT INTO settlements (round_id, recipient, amount, status)
		VALUES ($1, $2, $3, 'pending')
		ON CONFLICT (round_id) DO NOTHING
	`

	_, err := PostgresPool.Exec(ctx, query, task.RoundID, task.Recipient, task.Amount)
	if err != nil {
		return fmt.Errorf("failed to enqueue settlement: %w", err)
	}

	log.Printf("📥 Enqueued settlement - Round: %s, Amount: %d", task.RoundID, task.Amount)
	return nil
}

// ApplySettlement performs the exactly-once economic effect: in a
// single transaction the settlement row is claimed, the pool balance
// is debited with a balance-guarded UPDATE (check-and-set, never
// read-modify-write), and the round is marked settled. Returns
// (false, nil) when the round was already settled.
func (s *Store) ApplySettlement(ctx context.Context, roundID string) (bool, error) {
	tx, err := PostgresPool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin settlement tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var amount int64
	var status string
	err = tx.QueryRow(ctx,
		`SELECT amount, status FROM settlements WHERE round_id = $1 FOR UPDATE`,
		roundID,
	).Scan(&amount, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("no settlement enqueued for round %s", roundID)
	}
	if err != nil {
		return false, fmt.Errorf("failed to lock settlement row: %w", err)
	}

	if status == string(settle.StatusSettled) {
		return false, nil
	}

	if amount > 0 {
		result, err := tx.Exec(ctx,
			`UPDATE pool_balance SET balance = balance - $1 WHERE id = 1 AND balance >= $1`,
			amount,
		)
		if err != nil {
			return false, fmt.Errorf("failed to debit pool balance: %w", err)
		}
		if result.RowsAffected() == 0 {
			var available int64
			_ = tx.QueryRow(ctx, `SELECT balance FROM pool_balance WHERE id = 1`).Scan(&available)
			return false, &game.SolvencyError{RoundID: roundID, Need: amount, Available: available}
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE settlements SET status = $1, updated_at = NOW() WHERE round_id = $2`,
		string(settle.StatusSettled), roundID,
	); err != nil {
		return false, fmt.Errorf("failed to mark settlement settled: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE rounds SET status = $1, settled_at = NOW() WHERE round_id = $2`,
		string(game.RoundSettled), roundID,
	); err != nil {
		return false, fmt.Errorf("failed to mark round settled: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit settlement tx: %w", err)
	}

	return true, nil
}

// MarkRetry records a failed attempt on a settlement row
func (s *Store) MarkRetry(ctx context.Context, roundID string, attempts int, reason string) error {
	query := `
		UPDATE settlements
		SET status = $1, attempts = $2, last_error = $3, updated_at = NOW()
		WHERE round_id = $4 AND status != $5
	`

	_, err := PostgresPool.Exec(ctx, query,
		string(settle.StatusRetrying), attempts, reason, roundID, string(settle.StatusSettled))
	if err != nil {
		return fmt.Errorf("failed to mark settlement retry: %w", err)
	}
	return nil
}

// Escalate parks a settlement for manual intervention
func (s *Store) Escalate(ctx context.Context, roundID string, reason string) error {
	query := `
		UPDATE settlements
		SET status = $1, last_error = $2, updated_at = NOW()
		WHERE round_id = $3 AND status != $4
	`

	_, err := PostgresPool.Exec(ctx, query,
		string(settle.StatusEscalated), reason, roundID, string(settle.StatusSettled))
	if err != nil {
		return fmt.Errorf("failed to escalate settlement: %w", err)
	}

	log.Printf("🚨 Settlement escalated for manual intervention - Round: %s (%s)", roundID, reason)
	return nil
}

// SettlementStatus answers the settlement-status query by round id
func (s *Store) SettlementStatus(ctx context.Context, roundID string) (settle.Status, error) {
	var status string
	err := PostgresPool.QueryRow(ctx,
		`SELECT status FROM settlements WHERE round_id = $1`, roundID,
	).Scan(&status)

	if errors.Is(err, pgx.ErrNoRows) {
		return settle.StatusUnknown, nil
	}
	if err != nil {
		return settle.StatusUnknown, fmt.Errorf("failed to get settlement status: %w", err)
	}
	return settle.Status(status), nil
}

// PendingSettlements returns settlements that still need applying,
// oldest first. Used by the worker's boot and recovery scans.
func (s *Store) PendingSettlements(ctx context.Context, limit int) ([]settle.Task, error) {
	query := `
		SELECT round_id, recipient, amount
		FROM settlements
		WHERE status IN ('pending', 'failed_pending_retry')
		ORDER BY created_at ASC
		LIMIT $1
	`

	rows, err := PostgresPool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending settlements: %w", err)
	}
	defer rows.Close()

	var tasks []settle.Task
	for rows.Next() {
		var task settle.Task
		if err := rows.Scan(&task.RoundID, &task.Recipient, &task.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return tasks, nil
}

/* =========================
   POOL BALANCE
========================= */

// GetPoolBalance returns the off-chain pool balance record
func (s *Store) GetPoolBalance(ctx context.Context) (int64, error) {
	var balance int64
	err := PostgresPool.QueryRow(ctx, `SELECT balance FROM pool_balance WHERE id = 1`).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("failed to get pool balance: %w", err)
	}
	return balance, nil
}

/* =========================
   VAULT SNAPSHOTS
========================= */

// StoreVaultSnapshot appends a snapshot and prunes the history window
func (s *Store) StoreVaultSnapshot(ctx context.Context, snap *vault.Snapshot) error {
	query := `
		INSERT INTO vault_snapshots (total_assets, total_shares, share_price_wad, captured_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := PostgresPool.Exec(ctx, query,
		snap.TotalAssets.String(),
		snap.TotalShares.String(),
		snap.SharePriceWad.String(),
		snap.CapturedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store vault snapshot: %w", err)
	}

	prune := `
		DELETE FROM vault_snapshots
		WHERE id NOT IN (
			SELECT id FROM vault_snapshots ORDER BY captured_at DESC LIMIT $1
		)
	`
	if _, err := PostgresPool.Exec(ctx, prune, config.VaultHistoryLimit); err != nil {
		log.Printf("⚠️  Failed to prune vault snapshot history: %v", err)
	}

	return nil
}

// GetRecentVaultSnapshots retrieves the N most recent snapshots
func (s *Store) GetRecentVaultSnapshots(ctx context.Context, limit int) ([]*vault.Snapshot, error) {
	query := `
		SELECT total_assets, total_shares, share_price_wad, captured_at
		FROM vault_snapshots
		ORDER BY captured_at DESC
		LIMIT $1
	`

	rows, err := PostgresPool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query vault snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*vault.Snapshot
	for rows.Next() {
		var assetsStr, sharesStr, priceStr string
		var capturedAt time.Time

		if err := rows.Scan(&assetsStr, &sharesStr, &priceStr, &capturedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		assets, ok := new(big.Int).SetString(assetsStr, 10)
		if !ok {
			return nil, fmt.Errorf("corrupt total_assets value: %s", assetsStr)
		}
		shares, ok := new(big.Int).SetString(sharesStr, 10)
		if !ok {
			return nil, fmt.Errorf("corrupt total_shares value: %s", sharesStr)
		}
		price, ok := new(big.Int).SetString(priceStr, 10)
		if !ok {
			return nil, fmt.Errorf("corrupt share_price_wad value: %s", priceStr)
		}

		snaps = append(snaps, &vault.Snapshot{
			TotalAssets:   assets,
			TotalShares:   shares,
			SharePriceWad: price,
			CapturedAt:    capturedAt,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return snaps, nil
}
