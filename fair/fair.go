package fair

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// NonceByteLen is the raw entropy per nonce; encoded form is
	// "0x" + 64 hex chars = 66 chars total.
	NonceByteLen = 32

	OutcomeHeads = "heads"
	OutcomeTails = "tails"
)

// Fixed one-byte tags per choice inside the commitment preimage, so no
// two distinct (wager, choice, nonce) triples can serialize identically.
var choiceTags = map[string]byte{
	OutcomeHeads: 0x01,
	OutcomeTails: 0x02,
}

// GenerateNonce returns a fresh 32-byte nonce from crypto/rand,
// hex-encoded with a 0x prefix.
func GenerateNonce() string {
	bytes := make([]byte, NonceByteLen)
	rand.Read(bytes)
	return "0x" + hex.EncodeToString(bytes)
}

// decodeNonce parses a 0x-prefixed hex nonce into its raw 32 bytes.
func decodeNonce(nonce string) ([]byte, error) {
	if !strings.HasPrefix(nonce, "0x") {
		return nil, fmt.Errorf("nonce missing 0x prefix")
	}
	raw, err := hex.DecodeString(nonce[2:])
	if err != nil {
		return nil, fmt.Errorf("nonce is not valid hex: %w", err)
	}
	if len(raw) != NonceByteLen {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", NonceByteLen, len(raw))
	}
	return raw, nil
}

// ValidChoice reports whether choice is a recognized round choice.
func ValidChoice(choice string) bool {
	_, ok := choiceTags[choice]
	return ok
}

// CreateCommitment computes the one-way digest binding a wager amount,
// the player's choice and the player's nonce. Preimage layout is fixed:
// 8-byte big-endian wager || 1-byte choice tag || 32-byte nonce.
func CreateCommitment(wager int64, choice string, nonce string) (string, error) {
	tag, ok := choiceTags[choice]
	if !ok {
		return "", fmt.Errorf("unrecognized choice %q", choice)
	}
	if wager <= 0 {
		return "", fmt.Errorf("wager must be positive, got %d", wager)
	}
	nonceRaw, err := decodeNonce(nonce)
	if err != nil {
		return "", err
	}

	preimage := make([]byte, 0, 8+1+NonceByteLen)
	preimage = binary.BigEndian.AppendUint64(preimage, uint64(wager))
	preimage = append(preimage, tag)
	preimage = append(preimage, nonceRaw...)

	digest := sha256.Sum256(preimage)
	return "0x" + hex.EncodeToString(digest[:]), nil
}

// VerifyCommitment recomputes the commitment from the disclosed inputs
// and compares digests in constant time. Any mismatch, in any field,
// yields the same false result.
func VerifyCommitment(commitment string, wager int64, choice string, nonce string) bool {
	expected, err := CreateCommitment(wager, choice, nonce)
	if err != nil {
		return false
	}
	if !strings.HasPrefix(commitment, "0x") {
		return false
	}
	got, err := hex.DecodeString(commitment[2:])
	if err != nil || len(got) != sha256.Size {
		return false
	}
	want, _ := hex.DecodeString(expected[2:])
	return subtle.ConstantTimeCompare(got, want) == 1
}

// DeriveResult mixes both parties' nonces through sha256 and maps the
// digest to a coin side. Neither party can bias the output knowing only
// its own nonce, and the same pair always derives the same outcome.
func DeriveResult(playerNonce, houseNonce string) (string, error) {
	playerRaw, err := decodeNonce(playerNonce)
	if err != nil {
		return "", fmt.Errorf("player nonce: %w", err)
	}
	houseRaw, err := decodeNonce(houseNonce)
	if err != nil {
		return "", fmt.Errorf("house nonce: %w", err)
	}

	mixed := make([]byte, 0, 2*NonceByteLen)
	mixed = append(mixed, playerRaw...)
	mixed = append(mixed, houseRaw...)
	digest := sha256.Sum256(mixed)

	if digest[0]&1 == 0 {
		return OutcomeHeads, nil
	}
	return OutcomeTails, nil
}

// CalculatePayout returns the settlement amount for a round in the
// smallest currency unit. Losing rounds pay exactly zero; winning
// rounds pay wager * 2 minus the house edge, all in integer math.
func CalculatePayout(wager int64, won bool, edgeBps int64) int64 {
	if !won {
		return 0
	}
	return wager * 2 * (10000 - edgeBps) / 10000
}
