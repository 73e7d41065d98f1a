package game

import (
	"time"
)

// RoundStatus is the lifecycle state of a round. Once a round reaches
// Resolved the record is immutable except for the settlement status.
type RoundStatus string

const (
	RoundAwaitingCommitment RoundStatus = "awaiting_commitment"
	RoundAwaitingReveal     RoundStatus = "awaiting_reveal"
	RoundResolved           RoundStatus = "resolved"
	RoundSettled            RoundStatus = "settled"
	RoundExpired            RoundStatus = "expired"
	RoundVoided             RoundStatus = "voided"
)

// Terminal reports whether no further transition is possible.
func (s RoundStatus) Terminal() bool {
	switch s {
	case RoundSettled, RoundExpired, RoundVoided:
		return true
	}
	return false
}

// Round is the unit of play. All amounts are in the smallest currency
// unit; monetary fields never use floating point.
type Round struct {
	RoundID       string      `json:"roundId"`
	PlayerAddress string      `json:"playerAddress"`
	Wager         int64       `json:"wager"`
	Choice        string      `json:"choice"`
	Commitment    string      `json:"commitment"`
	PlayerNonce   string      `json:"playerNonce,omitempty"`
	HouseNonce    string      `json:"houseNonce,omitempty"`
	Outcome       string      `json:"outcome,omitempty"`
	Won           bool        `json:"won"`
	Payout        int64       `json:"payout"`
	Status        RoundStatus `json:"status"`

	CommittedAt time.Time  `json:"committedAt"`
	RevealedAt  *time.Time `json:"revealedAt,omitempty"`
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty"`
	SettledAt   *time.Time `json:"settledAt,omitempty"`
}
