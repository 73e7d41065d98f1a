package ws

import (
	"encoding/json"
)

// Inbound message types
const (
	MsgSubmitCommitment = "submitCommitment"
	MsgReveal           = "reveal"
	MsgPing             = "ping"
)

// Outbound message types
const (
	MsgCommitted = "committed"
	MsgResolved  = "resolved"
	MsgError     = "error"
	MsgPong      = "pong"
)

// Envelope is the typed frame exchanged on a session connection.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SubmitCommitmentPayload opens a round.
type SubmitCommitmentPayload struct {
	Wager      int64  `json:"wager"`
	Choice     string `json:"choice"`
	Commitment string `json:"commitment"`
}

// RevealPayload discloses the player's nonce.
type RevealPayload struct {
	Nonce string `json:"nonce"`
}

// CommittedPayload acknowledges an accepted commitment.
type CommittedPayload struct {
	RoundID string `json:"roundId"`
}

// ResolvedPayload reports a round's outcome and payout.
type ResolvedPayload struct {
	RoundID string `json:"roundId"`
	Outcome string `json:"outcome"`
	Payout  int64  `json:"payout"`
}

// ErrorPayload carries the error taxonomy code and a message. Voided
// and expired rounds surface here as their terminal frame.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func marshalEnvelope(msgType string, payload interface{}) ([]byte, error) {
	env := Envelope{Type: msgType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}
