// Package proof holds the portable disclosure proof produced by a
// notarization and its text and binary encodings.
package proof

import (
	"encoding/hex"
	"fmt"
	"strings"

	"tlsn-notary/shared"
)

// HexBytes is a byte slice that encodes as a lower-case hex string in JSON.
type HexBytes []byte

// MarshalText implements encoding.TextMarshaler
func (h HexBytes) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(h)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (h *HexBytes) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*h = nil
		return nil
	}
	decoded, err := hex.DecodeString(strings.TrimPrefix(string(text), "0x"))
	if err != nil {
		return fmt.Errorf("invalid hex: %w", err)
	}
	*h = decoded
	return nil
}

// SessionHeader is the notary-signed summary of a closed TLS session.
type SessionHeader struct {
	SessionID       string   `json:"session_id"`
	ServerName      string   `json:"server_name"`
	SentLen         int      `json:"sent_len"`
	RecvLen         int      `json:"recv_len"`
	CommitmentRoot  HexBytes `json:"commitment_root"`
	CommitmentCount int      `json:"commitment_count"`
	HandshakeTime   int64    `json:"handshake_time"`
	NotarizedAt     int64    `json:"notarized_at"`
}

// TranscriptLen returns the header's recorded length for one direction.
func (h *SessionHeader) TranscriptLen(d shared.Direction) int {
	if d == shared.DirectionSent {
		return h.SentLen
	}
	return h.RecvLen
}

// SessionProof attests that a transcript belongs to a TLS session that ran
// under notarization.
type SessionProof struct {
	Header        SessionHeader `json:"header"`
	Signature     HexBytes      `json:"signature"`
	NotaryAddress string        `json:"notary_address"`
}

// ProofNode is one sibling on a Merkle inclusion path.
type ProofNode struct {
	Hash HexBytes `json:"hash"`
	Left bool     `json:"left"` // sibling sits to the left of the running hash
}

// Opening reveals one committed range: the bytes, the blinder that hides
// them inside the commitment, and the path to the commitment root.
type Opening struct {
	ID        uint32           `json:"id"`
	Direction shared.Direction `json:"direction"`
	Range     shared.Range     `json:"range"`
	Data      HexBytes         `json:"data"`
	Blinder   HexBytes         `json:"blinder"`
	Path      []ProofNode      `json:"path"`
}

// SubstringsProof attests that each opened range is an exact substring of
// the committed transcript at its stated offsets.
type SubstringsProof struct {
	Openings []Opening `json:"openings"`
}

// TLSProof is the terminal disclosure artifact handed to a verifier.
type TLSProof struct {
	Session    SessionProof    `json:"session"`
	Substrings SubstringsProof `json:"substrings"`
}
