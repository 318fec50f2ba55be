// Package proofverifier checks a disclosure proof offline and reconstructs
// the transcript view it discloses.
package proofverifier

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"tlsn-notary/proof"
	"tlsn-notary/shared"
)

// Options tunes verification
type Options struct {
	// NotaryAddress pins the expected notary; empty accepts any signer that
	// matches the address recorded in the proof.
	NotaryAddress string
	// ServerName pins the expected TLS server name when set.
	ServerName string
	// MaxTranscriptLen caps the per-direction length the header may claim.
	// Zero uses DefaultMaxTranscriptLen.
	MaxTranscriptLen int
}

// Disclosed is what a verified proof reveals
type Disclosed struct {
	SessionID     string
	ServerName    string
	NotaryAddress string
	HandshakeTime time.Time
	NotarizedAt   time.Time

	// Sent and Recv are the full-length transcripts with every byte that
	// was not disclosed replaced by MaskByte.
	Sent []byte
	Recv []byte

	SentRanges []shared.Range
	RecvRanges []shared.Range
}

// Verify checks the notary signature over the session header and every
// opening against the signed commitment root.
func Verify(p *proof.TLSProof, opts Options) (*Disclosed, error) {
	if p == nil {
		return nil, fmt.Errorf("proof is nil")
	}
	header := p.Session.Header

	signer, err := shared.RecoverSigner(header.SigningBytes(), p.Session.Signature)
	if err != nil {
		return nil, fmt.Errorf("invalid session signature: %w", err)
	}
	if !common.IsHexAddress(p.Session.NotaryAddress) || signer != common.HexToAddress(p.Session.NotaryAddress) {
		return nil, fmt.Errorf("session signed by %s, proof names %q", signer.Hex(), p.Session.NotaryAddress)
	}
	if opts.NotaryAddress != "" && signer != common.HexToAddress(opts.NotaryAddress) {
		return nil, fmt.Errorf("session signed by %s, expected notary %s", signer.Hex(), opts.NotaryAddress)
	}
	if opts.ServerName != "" && header.ServerName != opts.ServerName {
		return nil, fmt.Errorf("session with %q, expected %q", header.ServerName, opts.ServerName)
	}
	if len(header.CommitmentRoot) != proof.HashSize {
		return nil, fmt.Errorf("commitment root must be %d bytes, got %d", proof.HashSize, len(header.CommitmentRoot))
	}
	if err := checkHeaderBounds(&header, opts.maxTranscriptLen()); err != nil {
		return nil, err
	}

	d := &Disclosed{
		SessionID:     header.SessionID,
		ServerName:    header.ServerName,
		NotaryAddress: signer.Hex(),
		HandshakeTime: time.Unix(header.HandshakeTime, 0).UTC(),
		NotarizedAt:   time.Unix(header.NotarizedAt, 0).UTC(),
		Sent:          bytes.Repeat([]byte{MaskByte}, header.SentLen),
		Recv:          bytes.Repeat([]byte{MaskByte}, header.RecvLen),
	}

	seen := make(map[uint32]struct{}, len(p.Substrings.Openings))
	for i := range p.Substrings.Openings {
		o := &p.Substrings.Openings[i]
		if err := verifyOpening(o, &header); err != nil {
			return nil, fmt.Errorf("opening %d: %w", o.ID, err)
		}
		if _, dup := seen[o.ID]; dup {
			return nil, fmt.Errorf("opening %d appears twice", o.ID)
		}
		seen[o.ID] = struct{}{}

		target, ranges := d.Sent, &d.SentRanges
		if o.Direction == shared.DirectionReceived {
			target, ranges = d.Recv, &d.RecvRanges
		}
		for _, prev := range *ranges {
			if prev.Overlaps(o.Range) {
				return nil, fmt.Errorf("opening %d %v overlaps %v", o.ID, o.Range, prev)
			}
		}
		copy(target[o.Range.Start:o.Range.End], o.Data)
		*ranges = append(*ranges, o.Range)
	}

	shared.SortRanges(d.SentRanges)
	shared.SortRanges(d.RecvRanges)
	return d, nil
}

func (o Options) maxTranscriptLen() int {
	if o.MaxTranscriptLen > 0 {
		return o.MaxTranscriptLen
	}
	return DefaultMaxTranscriptLen
}

// checkHeaderBounds rejects header sizes that cannot describe a real session
// before any buffer is sized from them
func checkHeaderBounds(h *proof.SessionHeader, maxLen int) error {
	switch {
	case h.SentLen < 0 || h.SentLen > maxLen:
		return fmt.Errorf("sent length %d outside [0, %d]", h.SentLen, maxLen)
	case h.RecvLen < 0 || h.RecvLen > maxLen:
		return fmt.Errorf("received length %d outside [0, %d]", h.RecvLen, maxLen)
	case h.CommitmentCount < 0:
		return fmt.Errorf("negative commitment count %d", h.CommitmentCount)
	}
	return nil
}

func verifyOpening(o *proof.Opening, header *proof.SessionHeader) error {
	if o.Direction != shared.DirectionSent && o.Direction != shared.DirectionReceived {
		return fmt.Errorf("invalid direction %d", o.Direction)
	}
	if int(o.ID) >= header.CommitmentCount {
		return fmt.Errorf("id beyond %d commitments", header.CommitmentCount)
	}
	if o.Range.IsEmpty() || !o.Range.Within(header.TranscriptLen(o.Direction)) {
		return fmt.Errorf("range %v outside %s transcript of %d bytes", o.Range, o.Direction, header.TranscriptLen(o.Direction))
	}
	if len(o.Data) != o.Range.Len() {
		return fmt.Errorf("carries %d bytes for range %v", len(o.Data), o.Range)
	}
	leaf := proof.CommitmentHash(o.Direction, o.Range, o.Blinder, o.Data)
	if !proof.VerifyInclusion(leaf, o.Path, header.CommitmentRoot) {
		return fmt.Errorf("commitment not included in signed root")
	}
	return nil
}

// Load reads a proof file in either the JSON or the binary encoding
func Load(path string) (*proof.TLSProof, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read proof: %w", err)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return proof.DecodeJSON(trimmed)
	}
	var p proof.TLSProof
	if err := p.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &p, nil
}

// ValidateFile loads the proof at path and verifies it
func ValidateFile(path string, opts Options) (*Disclosed, error) {
	p, err := Load(path)
	if err != nil {
		return nil, err
	}
	return Verify(p, opts)
}

// FormatTranscript renders a masked transcript for display, collapsing long
// runs of undisclosed bytes.
func FormatTranscript(masked []byte) string {
	var b strings.Builder
	run := 0
	flush := func() {
		if run > MaskCollapseThreshold {
			b.WriteString(CollapsedMaskPattern)
		} else {
			b.Write(bytes.Repeat([]byte{MaskByte}, run))
		}
		run = 0
	}
	for _, c := range masked {
		if c == MaskByte {
			run++
			continue
		}
		flush()
		b.WriteByte(c)
	}
	flush()
	return b.String()
}
