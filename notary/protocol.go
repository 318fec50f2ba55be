package notary

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"tlsn-notary/proof"
)

// Message types of the prover <-> notary protocol
const (
	// Prover to notary
	MsgTypeNotarizationRequest = "notarization_request"
	MsgTypeSignRequest         = "sign_request"

	// Notary to prover
	MsgTypeNotarizationAccepted = "notarization_accepted"
	MsgTypeSessionSigned        = "session_signed"
	MsgTypeError                = "error"
)

// Sentinel errors returned by the session-lifecycle collaborator
var (
	ErrRangeOutOfBounds  = errors.New("range outside transcript bounds")
	ErrEmptyRange        = errors.New("empty range")
	ErrAlreadyFinalized  = errors.New("session already finalized")
	ErrUnknownCommitment = errors.New("commitment unknown to this session")
	ErrTaskFailed        = errors.New("prover task failed")
	ErrTranscriptLimit   = errors.New("transcript exceeds configured limit")
	ErrNotaryRejected    = errors.New("notary rejected the request")
)

// WSMessage is the envelope exchanged with the notary
type WSMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// NotarizationRequestData opens a notarization session
type NotarizationRequestData struct {
	SessionID   string `json:"session_id,omitempty"` // requested id, notary assigns one if empty
	ServerName  string `json:"server_name"`
	MaxSentData int    `json:"max_sent_data"`
	MaxRecvData int    `json:"max_recv_data"`
}

// NotarizationAcceptedData confirms the session and names the signing key
type NotarizationAcceptedData struct {
	SessionID     string `json:"session_id"`
	NotaryAddress string `json:"notary_address"`
}

// SignRequestData carries the header the prover wants signed
type SignRequestData struct {
	Header proof.SessionHeader `json:"header"`
}

// SessionSignedData is the notary's attestation
type SessionSignedData struct {
	Header        proof.SessionHeader `json:"header"`
	Signature     proof.HexBytes      `json:"signature"`
	NotaryAddress string              `json:"notary_address"`
}

// msgConn is satisfied by *websocket.Conn and by jsonConn.
type msgConn interface {
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// jsonConn speaks the notary protocol over a plain stream such as one end
// of net.Pipe.
type jsonConn struct {
	conn net.Conn
	enc  *json.Encoder
	dec  *json.Decoder
	wmu  sync.Mutex
}

func newJSONConn(conn net.Conn) *jsonConn {
	return &jsonConn{conn: conn, enc: json.NewEncoder(conn), dec: json.NewDecoder(conn)}
}

func (c *jsonConn) WriteJSON(v interface{}) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.enc.Encode(v)
}

func (c *jsonConn) ReadJSON(v interface{}) error {
	return c.dec.Decode(v)
}

func (c *jsonConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *jsonConn) Close() error {
	return c.conn.Close()
}

func newMessage(msgType, sessionID string, data interface{}) (*WSMessage, error) {
	msg := &WSMessage{Type: msgType, SessionID: sessionID, Timestamp: time.Now().Unix()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
		}
		msg.Data = raw
	}
	return msg, nil
}

func sendMessage(conn msgConn, msgType, sessionID string, data interface{}) error {
	msg, err := newMessage(msgType, sessionID, data)
	if err != nil {
		return err
	}
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send %s: %w", msgType, err)
	}
	return nil
}

func sendError(conn msgConn, sessionID string, cause error) error {
	msg := &WSMessage{Type: MsgTypeError, SessionID: sessionID, Error: cause.Error(), Timestamp: time.Now().Unix()}
	return conn.WriteJSON(msg)
}

// receiveMessage reads one envelope, requires msgType and decodes its
// payload into out. An error envelope becomes ErrNotaryRejected.
func receiveMessage(conn msgConn, msgType string, out interface{}) (*WSMessage, error) {
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", msgType, err)
	}
	if msg.Type == MsgTypeError {
		return &msg, fmt.Errorf("%w: %s", ErrNotaryRejected, msg.Error)
	}
	if msg.Type != msgType {
		return &msg, fmt.Errorf("unexpected message type %q, expected %q", msg.Type, msgType)
	}
	if out != nil {
		if err := json.Unmarshal(msg.Data, out); err != nil {
			return &msg, fmt.Errorf("failed to unmarshal %s payload: %w", msgType, err)
		}
	}
	return &msg, nil
}
