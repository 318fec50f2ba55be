package notary

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/hkdf"

	"tlsn-notary/proof"
	"tlsn-notary/shared"
)

const (
	seedSize    = 32
	blinderSize = 16
)

// Transcript is the recorded byte stream of one direction
type Transcript struct {
	direction shared.Direction
	data      []byte
}

// Direction returns which side produced the bytes
func (t Transcript) Direction() shared.Direction { return t.direction }

// Data returns a copy of the transcript bytes
func (t Transcript) Data() []byte { return bytes.Clone(t.data) }

// Len returns the transcript length
func (t Transcript) Len() int { return len(t.data) }

// ClosedProver holds the transcripts of a finished TLS session
type ClosedProver struct {
	prover        *Prover
	sent          []byte
	recv          []byte
	handshakeTime time.Time
}

// StartNotarize moves the session into the commitment phase
func (c *ClosedProver) StartNotarize() (*NotarizingProver, error) {
	seed := make([]byte, seedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("failed to generate commitment seed: %w", err)
	}
	return &NotarizingProver{
		prover:        c.prover,
		sent:          Transcript{direction: shared.DirectionSent, data: c.sent},
		recv:          Transcript{direction: shared.DirectionReceived, data: c.recv},
		handshakeTime: c.handshakeTime,
		seed:          seed,
	}, nil
}

// CommitmentID is the opaque handle of one commitment. It is only valid
// for the session that issued it.
type CommitmentID struct {
	session string
	index   uint32
}

// Index returns the position of the commitment in its session
func (id CommitmentID) Index() uint32 { return id.index }

// Session returns the id of the session that issued the handle
func (id CommitmentID) Session() string { return id.session }

func (id CommitmentID) String() string {
	return fmt.Sprintf("%s#%d", id.session, id.index)
}

type commitment struct {
	direction shared.Direction
	rng       shared.Range
	blinder   []byte
	hash      []byte
}

// NotarizingProver accepts commitments until it is finalized
type NotarizingProver struct {
	prover        *Prover
	sent          Transcript
	recv          Transcript
	handshakeTime time.Time
	seed          []byte

	mu          sync.Mutex
	commitments []commitment
	finalized   bool
}

// SessionID returns the notarization session id
func (p *NotarizingProver) SessionID() string { return p.prover.sessionID }

// SentTranscript returns the bytes sent to the server
func (p *NotarizingProver) SentTranscript() Transcript { return p.sent }

// RecvTranscript returns the bytes received from the server
func (p *NotarizingProver) RecvTranscript() Transcript { return p.recv }

// CommitSent commits to a range of the sent transcript
func (p *NotarizingProver) CommitSent(r shared.Range) (CommitmentID, error) {
	return p.commit(p.sent, r)
}

// CommitRecv commits to a range of the received transcript
func (p *NotarizingProver) CommitRecv(r shared.Range) (CommitmentID, error) {
	return p.commit(p.recv, r)
}

func (p *NotarizingProver) commit(t Transcript, r shared.Range) (CommitmentID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finalized {
		return CommitmentID{}, ErrAlreadyFinalized
	}
	if !r.Within(t.Len()) {
		return CommitmentID{}, fmt.Errorf("%w: %s %v, length %d", ErrRangeOutOfBounds, t.direction, r, t.Len())
	}
	if r.IsEmpty() {
		return CommitmentID{}, fmt.Errorf("%w: %s %v", ErrEmptyRange, t.direction, r)
	}

	index := uint32(len(p.commitments))
	blinder, err := p.blinder(index)
	if err != nil {
		return CommitmentID{}, err
	}
	p.commitments = append(p.commitments, commitment{
		direction: t.direction,
		rng:       r,
		blinder:   blinder,
		hash:      proof.CommitmentHash(t.direction, r, blinder, t.data[r.Start:r.End]),
	})
	return CommitmentID{session: p.prover.sessionID, index: index}, nil
}

// blinder derives the per-commitment blinding factor from the session seed
func (p *NotarizingProver) blinder(index uint32) ([]byte, error) {
	var info [4]byte
	binary.BigEndian.PutUint32(info[:], index)
	r := hkdf.New(sha256.New, p.seed, []byte(p.prover.sessionID), append([]byte("tlsn-notary commitment "), info[:]...))
	out := make([]byte, blinderSize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("failed to derive blinder: %w", err)
	}
	return out, nil
}

// Finalize asks the notary to sign the session header. It can only be
// called once; the session accepts no commitments afterwards, even when
// signing fails.
func (p *NotarizingProver) Finalize(ctx context.Context) (*NotarizedSession, error) {
	p.mu.Lock()
	if p.finalized {
		p.mu.Unlock()
		return nil, ErrAlreadyFinalized
	}
	p.finalized = true
	commitments := append([]commitment(nil), p.commitments...)
	p.mu.Unlock()

	link := p.prover.link
	defer link.close()

	leaves := make([][]byte, len(commitments))
	for i, c := range commitments {
		leaves[i] = c.hash
	}
	tree := proof.BuildMerkleTree(leaves)

	header := proof.SessionHeader{
		SessionID:       p.prover.sessionID,
		ServerName:      p.prover.cfg.ServerName,
		SentLen:         p.sent.Len(),
		RecvLen:         p.recv.Len(),
		CommitmentRoot:  proof.HexBytes(tree.Root()),
		CommitmentCount: len(commitments),
		HandshakeTime:   p.handshakeTime.Unix(),
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = link.conn.SetReadDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { link.conn.Close() })
	defer stop()

	if err := sendMessage(link.conn, MsgTypeSignRequest, header.SessionID, SignRequestData{Header: header}); err != nil {
		return nil, link.explain(err)
	}
	var signed SessionSignedData
	if _, err := receiveMessage(link.conn, MsgTypeSessionSigned, &signed); err != nil {
		return nil, link.explain(err)
	}

	if err := checkSigned(&header, &signed, p.prover.notaryAddress); err != nil {
		return nil, err
	}

	p.prover.logger.Info("Notarization complete",
		zap.Int("commitments", len(commitments)),
		zap.String("notary", signed.NotaryAddress))

	return &NotarizedSession{
		proof: proof.SessionProof{
			Header:        signed.Header,
			Signature:     signed.Signature,
			NotaryAddress: signed.NotaryAddress,
		},
		data: &SessionData{
			sessionID:   p.prover.sessionID,
			sent:        p.sent.data,
			recv:        p.recv.data,
			commitments: commitments,
			tree:        tree,
		},
	}, nil
}

// checkSigned makes sure the notary signed exactly the header we sent
func checkSigned(sent *proof.SessionHeader, signed *SessionSignedData, notaryAddress string) error {
	got := signed.Header
	got.NotarizedAt = sent.NotarizedAt
	if !bytes.Equal(got.SigningBytes(), sent.SigningBytes()) {
		return fmt.Errorf("notary signed a different header")
	}
	if signed.NotaryAddress != notaryAddress {
		return fmt.Errorf("notary address changed from %s to %s", notaryAddress, signed.NotaryAddress)
	}
	signer, err := shared.RecoverSigner(signed.Header.SigningBytes(), signed.Signature)
	if err != nil {
		return fmt.Errorf("invalid notary signature: %w", err)
	}
	if signer.Hex() != notaryAddress {
		return fmt.Errorf("notary signature from %s, expected %s", signer.Hex(), notaryAddress)
	}
	return nil
}

// NotarizedSession is the irreversible result of Finalize
type NotarizedSession struct {
	proof proof.SessionProof
	data  *SessionData
}

// SessionProof returns the notary-signed session proof
func (s *NotarizedSession) SessionProof() proof.SessionProof {
	return s.proof
}

// Data returns the committed session data
func (s *NotarizedSession) Data() *SessionData {
	return s.data
}

// SessionData holds the transcripts and commitment openings of a session
type SessionData struct {
	sessionID   string
	sent        []byte
	recv        []byte
	commitments []commitment
	tree        *proof.MerkleTree
}

// CommitmentCount returns the number of commitments in the session
func (d *SessionData) CommitmentCount() int {
	return len(d.commitments)
}

// BuildSubstringsProof opens a builder scoped to this session's commitments
func (d *SessionData) BuildSubstringsProof() *SubstringsProofBuilder {
	return &SubstringsProofBuilder{data: d, revealed: make(map[uint32]struct{})}
}

// SubstringsProofBuilder collects the commitments to open
type SubstringsProofBuilder struct {
	data     *SessionData
	revealed map[uint32]struct{}
}

// Reveal marks a commitment for disclosure. Revealing the same handle twice
// is a no-op.
func (b *SubstringsProofBuilder) Reveal(id CommitmentID) error {
	if id.session != b.data.sessionID || int(id.index) >= len(b.data.commitments) {
		return fmt.Errorf("%w: %s", ErrUnknownCommitment, id)
	}
	b.revealed[id.index] = struct{}{}
	return nil
}

// Build produces the substrings proof, openings ordered by commitment index
func (b *SubstringsProofBuilder) Build() (proof.SubstringsProof, error) {
	indexes := make([]int, 0, len(b.revealed))
	for idx := range b.revealed {
		indexes = append(indexes, int(idx))
	}
	sort.Ints(indexes)

	openings := make([]proof.Opening, 0, len(indexes))
	for _, idx := range indexes {
		c := b.data.commitments[idx]
		transcript := b.data.sent
		if c.direction == shared.DirectionReceived {
			transcript = b.data.recv
		}
		path, err := b.data.tree.InclusionPath(idx)
		if err != nil {
			return proof.SubstringsProof{}, fmt.Errorf("failed to build inclusion path for commitment %d: %w", idx, err)
		}
		openings = append(openings, proof.Opening{
			ID:        uint32(idx),
			Direction: c.direction,
			Range:     c.rng,
			Data:      proof.HexBytes(bytes.Clone(transcript[c.rng.Start:c.rng.End])),
			Blinder:   proof.HexBytes(bytes.Clone(c.blinder)),
			Path:      path,
		})
	}
	return proof.SubstringsProof{Openings: openings}, nil
}
