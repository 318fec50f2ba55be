package notary

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tlsn-notary/shared"
)

// Notarizer sets up a prover with a notary. LocalNotarizer and
// RemoteNotarizer are the two variants.
type Notarizer interface {
	Setup(ctx context.Context, cfg ProverConfig) (*Prover, error)
	Kind() string
}

// ProverConfig describes the TLS session a prover will run
type ProverConfig struct {
	ID          string         // requested session id, optional
	ServerName  string         // TLS server name of the target API
	RootCAs     *x509.CertPool // nil uses the system pool
	MaxSentData int
	MaxRecvData int
	Logger      *shared.Logger
}

var (
	_ Notarizer = (*LocalNotarizer)(nil)
	_ Notarizer = (*RemoteNotarizer)(nil)
)

// LocalNotarizer runs a minimal notary in-process. Each Setup starts a
// supervised goroutine serving one session over net.Pipe.
type LocalNotarizer struct {
	verifier *Verifier
	logger   *shared.Logger
}

// NewLocalNotarizer creates a local notarizer. A nil signer gets a fresh
// random key.
func NewLocalNotarizer(signer *shared.SigningKeyPair, logger *shared.Logger) (*LocalNotarizer, error) {
	if logger == nil {
		logger = shared.NewNopLogger()
	}
	if signer == nil {
		var err error
		signer, err = shared.GenerateSigningKeyPair()
		if err != nil {
			return nil, fmt.Errorf("failed to create notary key: %w", err)
		}
	}
	return &LocalNotarizer{
		verifier: NewVerifier(signer, logger.WithStage("local-notary")),
		logger:   logger,
	}, nil
}

// Kind implements Notarizer
func (n *LocalNotarizer) Kind() string { return "local" }

// Address returns the local notary's signing address
func (n *LocalNotarizer) Address() string { return n.verifier.Address() }

// Setup implements Notarizer
func (n *LocalNotarizer) Setup(ctx context.Context, cfg ProverConfig) (*Prover, error) {
	proverSide, notarySide := net.Pipe()

	// The notary goroutine outlives Setup; it ends when the prover closes
	// its end of the pipe.
	notaryCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		// closing the pipe last unblocks the prover once done holds the result
		defer notarySide.Close()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: local notary panicked: %v", ErrTaskFailed, r)
			}
		}()
		_, err := n.verifier.Notarize(notaryCtx, newJSONConn(notarySide))
		done <- err
	}()

	link := &notaryLink{conn: newJSONConn(proverSide), done: done, cancel: cancel}
	prover, err := setupProver(ctx, cfg, link)
	if err != nil {
		link.close()
		return nil, err
	}
	return prover, nil
}

// RemoteNotarizer talks to a notary service over a websocket at
// ws(s)://Host:Port/Path/notarize.
type RemoteNotarizer struct {
	Host   string
	Port   int
	Path   string
	TLS    bool
	Dialer *websocket.Dialer
	Retry  *shared.RetryConfig // nil uses shared.DefaultRetryConfig
}

// Kind implements Notarizer
func (n *RemoteNotarizer) Kind() string { return "remote" }

// URL returns the websocket endpoint of the notary service
func (n *RemoteNotarizer) URL() string {
	scheme := "ws"
	if n.TLS {
		scheme = "wss"
	}
	path := strings.Trim(n.Path, "/")
	if path != "" {
		path = "/" + path
	}
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(n.Host, strconv.Itoa(n.Port)),
		Path:   path + "/notarize",
	}
	return u.String()
}

// Setup implements Notarizer
func (n *RemoteNotarizer) Setup(ctx context.Context, cfg ProverConfig) (*Prover, error) {
	dialer := n.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 30 * time.Second}
	}

	var conn *websocket.Conn
	err := shared.RetryWithBackoff(ctx, n.Retry, func(attempt int) error {
		c, resp, err := dialer.DialContext(ctx, n.URL(), nil)
		if err != nil {
			// the service answered but refused the upgrade
			if resp != nil || ctx.Err() != nil {
				return shared.Permanent(err)
			}
			if cfg.Logger != nil {
				cfg.Logger.Warn("Notary dial failed", zap.Int("attempt", attempt), zap.Error(err))
			}
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to notary %s: %w", n.URL(), err)
	}

	link := &notaryLink{conn: conn}
	prover, err := setupProver(ctx, cfg, link)
	if err != nil {
		link.close()
		return nil, err
	}
	return prover, nil
}

// notaryLink is the prover's channel to its notary. done is set for the
// local variant and reports how the notary goroutine ended.
type notaryLink struct {
	conn   msgConn
	done   <-chan error
	cancel context.CancelFunc
	result error
	closed bool
}

// explain prefers the local notary's own failure over the pipe error it
// caused on the prover side.
func (l *notaryLink) explain(err error) error {
	if l.done == nil {
		return err
	}
	select {
	case notaryErr := <-l.done:
		l.done = nil
		l.result = notaryErr
		if notaryErr != nil {
			return fmt.Errorf("local notary failed: %w", notaryErr)
		}
	case <-time.After(100 * time.Millisecond):
	}
	return err
}

func (l *notaryLink) close() error {
	if l.closed {
		return l.result
	}
	l.closed = true
	err := l.conn.Close()
	if l.done != nil {
		l.result = <-l.done
		l.done = nil
	}
	if l.cancel != nil {
		l.cancel()
	}
	// a local notary that completed its session reports nil
	if l.result != nil {
		return l.result
	}
	return err
}

func setupProver(ctx context.Context, cfg ProverConfig, link *notaryLink) (*Prover, error) {
	if cfg.ServerName == "" {
		return nil, errors.New("prover config: server name is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = shared.NewNopLogger()
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = link.conn.SetReadDeadline(deadline)
		defer link.conn.SetReadDeadline(time.Time{})
	}

	req := NotarizationRequestData{
		SessionID:   cfg.ID,
		ServerName:  cfg.ServerName,
		MaxSentData: cfg.MaxSentData,
		MaxRecvData: cfg.MaxRecvData,
	}
	if err := sendMessage(link.conn, MsgTypeNotarizationRequest, cfg.ID, req); err != nil {
		return nil, link.explain(err)
	}

	var accepted NotarizationAcceptedData
	if _, err := receiveMessage(link.conn, MsgTypeNotarizationAccepted, &accepted); err != nil {
		return nil, link.explain(err)
	}

	logger = logger.WithSession(accepted.SessionID)
	logger.Info("Prover setup complete", zap.String("notary", accepted.NotaryAddress))

	return &Prover{
		cfg:           cfg,
		sessionID:     accepted.SessionID,
		notaryAddress: accepted.NotaryAddress,
		link:          link,
		logger:        logger,
	}, nil
}
