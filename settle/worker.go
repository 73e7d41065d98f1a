package settle

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"coinhouse/config"
	"coinhouse/game"
)

// Status is the settlement-side state of a round. It only moves
// forward: pending → settled, or pending → failed_pending_retry →
// needs_intervention.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSettled   Status = "settled"
	StatusRetrying  Status = "failed_pending_retry"
	StatusEscalated Status = "needs_intervention"
	StatusUnknown   Status = "unknown"
)

// Task is the handoff record for one resolved round. The round id is
// the idempotency key.
type Task struct {
	RoundID   string
	Recipient string
	Amount    int64
}

// Ledger is the durable settlement store. EnqueueSettlement must be
// idempotent on round id, and ApplySettlement must mark the round
// settled and mutate the pool balance in one atomic check-and-set:
// applying the same round twice returns (false, nil) the second time.
type Ledger interface {
	EnqueueSettlement(ctx context.Context, task Task) error
	ApplySettlement(ctx context.Context, roundID string) (applied bool, err error)
	MarkRetry(ctx context.Context, roundID string, attempts int, reason string) error
	Escalate(ctx context.Context, roundID string, reason string) error
	SettlementStatus(ctx context.Context, roundID string) (Status, error)
	PendingSettlements(ctx context.Context, limit int) ([]Task, error)
}

// PoolView provides the vault cache's solvency pre-check. fresh is
// false when the snapshot is missing or too stale to rely on.
type PoolView interface {
	AvailableAssets() (avail *big.Int, fresh bool)
}

// Payer pushes a settled payout to the on-chain vault. Failures here
// never undo the ledger settlement; they are logged for operators.
type Payer interface {
	PayPlayer(ctx context.Context, recipient string, amount int64) error
}

// Worker consumes resolved rounds and applies their economic effect
// exactly once. The durable queue is the ledger itself; the in-process
// channel is only a wakeup, so restarts recover from the store.
type Worker struct {
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	ledger Ledger
	pool   PoolView
	payer  Payer

	queue    chan Task
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewWorker wires the pipeline. pool and payer may be nil: without a
// pool view every solvency check falls through to the ledger's
// check-and-set, and without a payer settlements stay off-chain.
func NewWorker(ledger Ledger, pool PoolView, payer Payer) *Worker {
	return &Worker{
		MaxRetries:  config.SettleMaxRetries,
		BaseBackoff: config.SettleBaseBackoff,
		MaxBackoff:  config.SettleMaxBackoff,
		ledger:      ledger,
		pool:        pool,
		payer:       payer,
		queue:       make(chan Task, config.SettleQueueSize),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start launches the supervised settlement loop.
func (w *Worker) Start() {
	go func() {
		defer close(w.done)
		for {
			if stopped := w.runLoop(); stopped {
				return
			}
			log.Println("⚠️  Settlement loop exited unexpectedly, restarting")
			time.Sleep(time.Second)
		}
	}()
}

// Stop drains nothing: in-flight settlement of the current task runs
// to completion, everything else stays durable in the ledger for the
// next start.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
}

func (w *Worker) runLoop() (stopped bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Settlement worker panic: %v", r)
		}
	}()

	// Recover rounds left unfinished by a previous process
	w.recoverPending()

	ticker := time.NewTicker(config.SettleRecoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return true
		case task := <-w.queue:
			w.settle(task)
		case <-ticker.C:
			w.recoverPending()
		}
	}
}

func (w *Worker) recoverPending() {
	ctx, cancel := context.WithTimeout(context.Background(), config.SettleWriteTimeout)
	tasks, err := w.ledger.PendingSettlements(ctx, config.SettleQueueSize)
	cancel()
	if err != nil {
		log.Printf("⚠️  Settlement recovery scan failed: %v", err)
		return
	}
	if len(tasks) > 0 {
		log.Printf("🔁 Recovered %d unfinished settlements", len(tasks))
	}
	for _, task := range tasks {
		w.settle(task)
	}
}

// Handoff accepts a resolved round from the gateway. The durable
// enqueue happens before this returns, so the connection object can be
// discarded without losing the round. Settlement itself proceeds
// independent of the originating connection's lifetime.
func (w *Worker) Handoff(ctx context.Context, round *game.Round) error {
	if round.Status != game.RoundResolved {
		return &game.ValidationError{Field: "round", Reason: fmt.Sprintf("cannot settle round in status %s", round.Status)}
	}

	task := Task{
		RoundID:   round.RoundID,
		Recipient: round.PlayerAddress,
		Amount:    round.Payout,
	}
	if err := w.ledger.EnqueueSettlement(ctx, task); err != nil {
		return &game.TransientError{Op: "enqueue settlement", Err: err}
	}

	select {
	case w.queue <- task:
	default:
		// Queue full: the durable row is picked up by the recovery scan
		log.Printf("⚠️  Settlement queue full, round %s deferred to recovery scan", task.RoundID)
	}
	return nil
}

// StatusOf answers the settlement-status query for external callers.
func (w *Worker) StatusOf(ctx context.Context, roundID string) (Status, error) {
	return w.ledger.SettlementStatus(ctx, roundID)
}

func (w *Worker) settle(task Task) {
	for attempt := 1; attempt <= w.MaxRetries; attempt++ {
		err := w.applyOnce(task)
		if err == nil {
			return
		}

		log.Printf("⚠️  Settlement attempt %d/%d failed for round %s: %v",
			attempt, w.MaxRetries, task.RoundID, err)

		mctx, cancel := context.WithTimeout(context.Background(), config.SettleWriteTimeout)
		if merr := w.ledger.MarkRetry(mctx, task.RoundID, attempt, err.Error()); merr != nil {
			log.Printf("⚠️  Failed to record retry for round %s: %v", task.RoundID, merr)
		}
		cancel()

		if attempt < w.MaxRetries {
			select {
			case <-w.stop:
				// The pending row survives; recovery resumes after restart
				return
			case <-time.After(w.backoff(attempt)):
			}
		}
	}

	// Exhausted: escalate for manual intervention. A promised payout is
	// never reversed here.
	log.Printf("❌ Settlement for round %s escalated after %d attempts", task.RoundID, w.MaxRetries)
	ectx, cancel := context.WithTimeout(context.Background(), config.SettleWriteTimeout)
	defer cancel()
	if err := w.ledger.Escalate(ectx, task.RoundID, "retry budget exhausted"); err != nil {
		log.Printf("❌ Failed to escalate round %s: %v", task.RoundID, err)
	}
}

func (w *Worker) applyOnce(task Task) error {
	// Solvency pre-check against the vault cache, only when the
	// snapshot is fresh enough to be trusted.
	if task.Amount > 0 && w.pool != nil {
		if avail, fresh := w.pool.AvailableAssets(); fresh && avail.Cmp(big.NewInt(task.Amount)) < 0 {
			return &game.SolvencyError{RoundID: task.RoundID, Need: task.Amount, Available: avail.Int64()}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.SettleWriteTimeout)
	defer cancel()

	applied, err := w.ledger.ApplySettlement(ctx, task.RoundID)
	if err != nil {
		return err
	}
	if !applied {
		log.Printf("♻️  Round %s already settled, duplicate application is a no-op", task.RoundID)
		return nil
	}

	log.Printf("✅ Settled round %s - Recipient: %s, Amount: %d", task.RoundID, task.Recipient, task.Amount)

	if w.payer != nil && task.Amount > 0 {
		// On-chain push is fire-and-forget: the ledger settlement is
		// the exactly-once record, the vault transfer is reconciled by
		// operators if it fails.
		go func() {
			pctx, pcancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer pcancel()
			if err := w.payer.PayPlayer(pctx, task.Recipient, task.Amount); err != nil {
				log.Printf("❌ On-chain payout for round %s failed: %v", task.RoundID, err)
			}
		}()
	}
	return nil
}

func (w *Worker) backoff(attempt int) time.Duration {
	d := w.BaseBackoff << (attempt - 1)
	if d > w.MaxBackoff || d <= 0 {
		return w.MaxBackoff
	}
	return d
}
