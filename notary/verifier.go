package notary

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tlsn-notary/proof"
	"tlsn-notary/shared"
)

// Default transcript limits, matching the notary's MPC preprocessing budget
const (
	DefaultMaxSentData = 1 << 12
	DefaultMaxRecvData = 1 << 14
)

// Verifier is the notary side of a notarization session. It accepts a
// session, then signs the header the prover presents once the TLS session
// is closed.
type Verifier struct {
	signer      *shared.SigningKeyPair
	logger      *shared.Logger
	maxSentData int
	maxRecvData int
	now         func() time.Time
}

// NewVerifier creates a notary verifier signing with signer
func NewVerifier(signer *shared.SigningKeyPair, logger *shared.Logger) *Verifier {
	if logger == nil {
		logger = shared.NewNopLogger()
	}
	return &Verifier{
		signer:      signer,
		logger:      logger,
		maxSentData: DefaultMaxSentData,
		maxRecvData: DefaultMaxRecvData,
		now:         time.Now,
	}
}

// SetLimits caps the transcript sizes the notary accepts. Non-positive
// values keep the current limit.
func (v *Verifier) SetLimits(maxSentData, maxRecvData int) {
	if maxSentData > 0 {
		v.maxSentData = maxSentData
	}
	if maxRecvData > 0 {
		v.maxRecvData = maxRecvData
	}
}

// Address returns the notary's signing address
func (v *Verifier) Address() string {
	return v.signer.GetEthAddress().Hex()
}

// Notarize serves one session over conn and returns the signed header.
// conn is closed when ctx is cancelled.
func (v *Verifier) Notarize(ctx context.Context, conn msgConn) (*proof.SessionHeader, error) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	var req NotarizationRequestData
	if _, err := receiveMessage(conn, MsgTypeNotarizationRequest, &req); err != nil {
		return nil, err
	}
	if req.ServerName == "" {
		err := errors.New("server name is required")
		_ = sendError(conn, "", err)
		return nil, err
	}

	sessionID := req.SessionID
	if sessionID == "" {
		id, err := uuid.NewRandom()
		if err != nil {
			return nil, fmt.Errorf("failed to generate session ID: %w", err)
		}
		sessionID = id.String()
	}
	maxSent := limitOrDefault(req.MaxSentData, v.maxSentData)
	maxRecv := limitOrDefault(req.MaxRecvData, v.maxRecvData)

	logger := v.logger.WithSession(sessionID)
	logger.Info("Notarization session accepted",
		zap.String("server_name", req.ServerName),
		zap.Int("max_sent_data", maxSent),
		zap.Int("max_recv_data", maxRecv))

	accepted := NotarizationAcceptedData{SessionID: sessionID, NotaryAddress: v.Address()}
	if err := sendMessage(conn, MsgTypeNotarizationAccepted, sessionID, accepted); err != nil {
		return nil, err
	}

	var signReq SignRequestData
	msg, err := receiveMessage(conn, MsgTypeSignRequest, &signReq)
	if err != nil {
		return nil, err
	}

	header := signReq.Header
	if err := checkHeader(&header, msg.SessionID, sessionID, req.ServerName, maxSent, maxRecv); err != nil {
		logger.Warn("Rejected sign request", zap.Error(err))
		_ = sendError(conn, sessionID, err)
		return nil, err
	}
	header.NotarizedAt = v.now().Unix()

	signature, err := v.signer.SignData(header.SigningBytes())
	if err != nil {
		_ = sendError(conn, sessionID, errors.New("signing failed"))
		return nil, err
	}

	signed := SessionSignedData{Header: header, Signature: proof.HexBytes(signature), NotaryAddress: v.Address()}
	if err := sendMessage(conn, MsgTypeSessionSigned, sessionID, signed); err != nil {
		return nil, err
	}

	logger.Info("Session header signed",
		zap.Int("sent_len", header.SentLen),
		zap.Int("recv_len", header.RecvLen),
		zap.Int("commitments", header.CommitmentCount))
	return &header, nil
}

func checkHeader(h *proof.SessionHeader, envelopeID, sessionID, serverName string, maxSent, maxRecv int) error {
	switch {
	case envelopeID != sessionID || h.SessionID != sessionID:
		return fmt.Errorf("session id mismatch: %q", h.SessionID)
	case h.ServerName != serverName:
		return fmt.Errorf("server name mismatch: %q != %q", h.ServerName, serverName)
	case h.SentLen < 0 || h.SentLen > maxSent:
		return fmt.Errorf("%w: sent %d > %d", ErrTranscriptLimit, h.SentLen, maxSent)
	case h.RecvLen < 0 || h.RecvLen > maxRecv:
		return fmt.Errorf("%w: received %d > %d", ErrTranscriptLimit, h.RecvLen, maxRecv)
	case len(h.CommitmentRoot) != proof.HashSize:
		return fmt.Errorf("commitment root must be %d bytes, got %d", proof.HashSize, len(h.CommitmentRoot))
	case h.CommitmentCount < 0:
		return fmt.Errorf("negative commitment count")
	case h.CommitmentCount == 0 && !bytes.Equal(h.CommitmentRoot, make([]byte, proof.HashSize)):
		return fmt.Errorf("non-zero root without commitments")
	}
	return nil
}

func limitOrDefault(requested, def int) int {
	if requested <= 0 || requested > def {
		return def
	}
	return requested
}
