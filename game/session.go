package game

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"coinhouse/fair"
)

// Recorder is the durable write boundary the state machine depends on.
// A commitment must be acknowledged by RecordCommit before a reveal is
// accepted; RecordResolution must succeed before a round leaves the
// session's ownership.
type Recorder interface {
	RecordCommit(ctx context.Context, round *Round) error
	RecordResolution(ctx context.Context, round *Round) error
}

// roundSeq disambiguates round IDs minted within the same millisecond.
var roundSeq int64

// Session is the per-connection game state machine. A session is only
// ever touched by the single goroutine serving its connection, so it
// carries no lock; ordering (commit before reveal before resolution)
// is enforced here, not by caller discipline.
type Session struct {
	PlayerAddress string

	edgeBps      int64
	commitWindow time.Duration
	revealWindow time.Duration
	recorder     Recorder

	open     *Round
	deadline time.Time
}

// NewSession creates a session for one authenticated player connection.
func NewSession(playerAddress string, edgeBps int64, commitWindow, revealWindow time.Duration, recorder Recorder) *Session {
	return &Session{
		PlayerAddress: playerAddress,
		edgeBps:       edgeBps,
		commitWindow:  commitWindow,
		revealWindow:  revealWindow,
		recorder:      recorder,
		deadline:      time.Now().Add(commitWindow),
	}
}

// OpenRound returns the in-progress round, if any.
func (s *Session) OpenRound() *Round {
	return s.open
}

// Deadline is the instant at which the current activity window lapses;
// the gateway arms its expiry timer from this.
func (s *Session) Deadline() time.Time {
	return s.deadline
}

// SubmitCommitment opens a round. The wager, choice and commitment are
// validated, the round is durably recorded, and only then does the
// session move to awaiting the reveal. The house nonce does not exist
// yet at this point.
func (s *Session) SubmitCommitment(ctx context.Context, wager int64, choice, commitment string) (*Round, error) {
	if s.open != nil {
		return nil, &ValidationError{Field: "round", Reason: "a round is already open for this session"}
	}
	if wager <= 0 {
		return nil, &ValidationError{Field: "wager", Reason: fmt.Sprintf("must be positive, got %d", wager)}
	}
	if !fair.ValidChoice(choice) {
		return nil, &ValidationError{Field: "choice", Reason: fmt.Sprintf("unrecognized value %q", choice)}
	}
	if len(commitment) != 66 || commitment[:2] != "0x" {
		return nil, &ValidationError{Field: "commitment", Reason: "must be a 0x-prefixed 32-byte hex digest"}
	}

	now := time.Now()
	round := &Round{
		RoundID:       mintRoundID(s.PlayerAddress, now),
		PlayerAddress: s.PlayerAddress,
		Wager:         wager,
		Choice:        choice,
		Commitment:    commitment,
		Status:        RoundAwaitingReveal,
		CommittedAt:   now,
	}

	if err := s.recorder.RecordCommit(ctx, round); err != nil {
		return nil, &TransientError{Op: "record commitment", Err: err}
	}

	s.open = round
	s.deadline = now.Add(s.revealWindow)
	return round, nil
}

// Reveal closes the commit-reveal exchange: the house nonce is
// generated now (never before the commitment was accepted), the
// player's commitment is checked against the disclosed nonce, and the
// outcome and payout are derived. A failed verification voids the
// round with no funds movement.
func (s *Session) Reveal(ctx context.Context, playerNonce string) (*Round, error) {
	round := s.open
	if round == nil || round.Status != RoundAwaitingReveal {
		return nil, &ValidationError{Field: "round", Reason: "no round awaiting reveal"}
	}

	now := time.Now()
	round.PlayerNonce = playerNonce
	round.RevealedAt = &now
	round.HouseNonce = fair.GenerateNonce()

	if !fair.VerifyCommitment(round.Commitment, round.Wager, round.Choice, playerNonce) {
		round.Status = RoundVoided
		if err := s.recorder.RecordResolution(ctx, round); err != nil {
			// Keep the round open: a retried reveal re-runs the
			// verification and re-attempts the void write, so the player
			// still ends up with a terminal voided frame instead of a
			// round stranded in awaiting_reveal.
			round.Status = RoundAwaitingReveal
			round.PlayerNonce = ""
			round.HouseNonce = ""
			round.RevealedAt = nil
			return nil, &TransientError{Op: "record voided round", Err: err}
		}
		s.open = nil
		s.deadline = now.Add(s.commitWindow)
		return round, &FairnessViolation{RoundID: round.RoundID, Reason: "commitment does not match revealed inputs"}
	}

	outcome, err := fair.DeriveResult(playerNonce, round.HouseNonce)
	if err != nil {
		return nil, &ValidationError{Field: "nonce", Reason: err.Error()}
	}

	round.Outcome = outcome
	round.Won = outcome == round.Choice
	round.Payout = fair.CalculatePayout(round.Wager, round.Won, s.edgeBps)
	round.Status = RoundResolved
	resolvedAt := time.Now()
	round.ResolvedAt = &resolvedAt

	if err := s.recorder.RecordResolution(ctx, round); err != nil {
		// Roll the in-memory transition back so the reveal can be
		// retried once the store recovers.
		round.Status = RoundAwaitingReveal
		round.Outcome = ""
		round.Won = false
		round.Payout = 0
		round.HouseNonce = ""
		round.ResolvedAt = nil
		return nil, &TransientError{Op: "record resolution", Err: err}
	}

	// Ownership of a resolved round transfers to the settlement
	// pipeline; this session no longer holds it.
	s.open = nil
	s.deadline = resolvedAt.Add(s.commitWindow)
	return round, nil
}

// Expire terminates an abandoned round once its activity window has
// lapsed. Returns the expired round, or nil when nothing was open or
// the deadline has not passed.
func (s *Session) Expire(ctx context.Context, now time.Time) (*Round, error) {
	if s.open == nil || now.Before(s.deadline) {
		return nil, nil
	}
	return s.abort(ctx, now)
}

// Abort expires the open round immediately, deadline or not. Used on
// disconnect so abandoned rounds never accumulate.
func (s *Session) Abort(ctx context.Context) (*Round, error) {
	if s.open == nil {
		return nil, nil
	}
	return s.abort(ctx, time.Now())
}

func (s *Session) abort(ctx context.Context, now time.Time) (*Round, error) {
	round := s.open
	round.Status = RoundExpired
	s.open = nil
	s.deadline = now.Add(s.commitWindow)

	if err := s.recorder.RecordResolution(ctx, round); err != nil {
		return round, &TransientError{Op: "record expired round", Err: err}
	}
	return round, &TimeoutError{RoundID: round.RoundID}
}

func mintRoundID(playerAddress string, now time.Time) string {
	seq := atomic.AddInt64(&roundSeq, 1)
	suffix := playerAddress
	if len(suffix) > 10 {
		suffix = suffix[:10]
	}
	return fmt.Sprintf("%s-%d-%d", suffix, now.UnixMilli(), seq)
}
