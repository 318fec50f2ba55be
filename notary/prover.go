package notary

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tlsn-notary/shared"
)

const pumpBufferSize = 4096

// Prover is a session that has completed setup with its notary and can be
// bound to a server connection.
type Prover struct {
	cfg           ProverConfig
	sessionID     string
	notaryAddress string
	link          *notaryLink
	logger        *shared.Logger
	connected     bool
}

// SessionID returns the id the notary assigned to this session
func (p *Prover) SessionID() string { return p.sessionID }

// NotaryAddress returns the address the notary will sign with
func (p *Prover) NotaryAddress() string { return p.notaryAddress }

// Abort tears down the notary link without notarizing
func (p *Prover) Abort() error {
	return p.link.close()
}

// Connect runs the TLS handshake over rawConn and starts the prover task.
// The returned connection carries application data; everything written to
// or read from it is recorded in the session transcript.
func (p *Prover) Connect(ctx context.Context, rawConn net.Conn) (net.Conn, *ProverTask, error) {
	if p.connected {
		return nil, nil, errors.New("prover already connected")
	}
	p.connected = true

	tlsConn := tls.Client(rawConn, &tls.Config{
		ServerName: p.cfg.ServerName,
		RootCAs:    p.cfg.RootCAs,
		MinVersion: tls.VersionTLS12,
	})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, nil, fmt.Errorf("TLS handshake with %s failed: %w", p.cfg.ServerName, err)
	}

	appSide, taskSide := net.Pipe()
	task := &ProverTask{
		prover:        p,
		tls:           tlsConn,
		app:           taskSide,
		handshakeTime: time.Now(),
		maxSent:       limitOrDefault(p.cfg.MaxSentData, DefaultMaxSentData),
		maxRecv:       limitOrDefault(p.cfg.MaxRecvData, DefaultMaxRecvData),
		control:       make(chan controlRequest),
		done:          make(chan struct{}),
	}
	go task.run()

	p.logger.Debug("Prover connected", zap.String("server_name", p.cfg.ServerName))
	return appSide, task, nil
}

// ProverTask owns the TLS connection while the application exchange runs.
// It is joined with Wait once the exchange is over.
type ProverTask struct {
	prover        *Prover
	tls           *tls.Conn
	app           net.Conn
	handshakeTime time.Time
	maxSent       int
	maxRecv       int

	sent bytes.Buffer // written only by pumpSent
	recv bytes.Buffer // written only by pumpRecv

	deferDecryption atomic.Bool
	appClosed       atomic.Bool

	control chan controlRequest
	done    chan struct{}
	err     error
}

type controlRequest struct {
	reply chan error
}

// ProverControl sends timing hints to a running prover task
type ProverControl struct {
	task *ProverTask
}

// Control returns a handle for issuing hints to the task
func (t *ProverTask) Control() *ProverControl {
	return &ProverControl{task: t}
}

// DeferDecryption asks the task to hold server data back from the
// application until the server closes the connection.
func (c *ProverControl) DeferDecryption(ctx context.Context) error {
	req := controlRequest{reply: make(chan error, 1)}
	select {
	case c.task.control <- req:
	case <-c.task.done:
		return fmt.Errorf("%w: task already closed", ErrTaskFailed)
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DecryptionDeferred reports whether the hint was applied
func (t *ProverTask) DecryptionDeferred() bool {
	return t.deferDecryption.Load()
}

// Done is closed when the task has finished
func (t *ProverTask) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes and returns the closed prover. A
// failed task is reported as ErrTaskFailed.
func (t *ProverTask) Wait(ctx context.Context) (*ClosedProver, error) {
	select {
	case <-t.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if t.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTaskFailed, t.err)
	}
	return &ClosedProver{
		prover:        t.prover,
		sent:          bytes.Clone(t.sent.Bytes()),
		recv:          bytes.Clone(t.recv.Bytes()),
		handshakeTime: t.handshakeTime,
	}, nil
}

func (t *ProverTask) run() {
	defer close(t.done)

	stopControl := make(chan struct{})
	go t.serveControl(stopControl)
	defer close(stopControl)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs[0] = t.pumpSent()
	}()
	go func() {
		defer wg.Done()
		errs[1] = t.pumpRecv()
	}()
	wg.Wait()

	t.tls.Close()
	t.err = errors.Join(errs...)
	if t.err != nil {
		t.prover.logger.Error("Prover task failed", zap.Error(t.err))
		return
	}
	t.prover.logger.Debug("Prover task closed",
		zap.Int("sent_bytes", t.sent.Len()),
		zap.Int("recv_bytes", t.recv.Len()),
		zap.Bool("deferred_decryption", t.DecryptionDeferred()))
}

func (t *ProverTask) serveControl(stop <-chan struct{}) {
	for {
		select {
		case req := <-t.control:
			t.deferDecryption.Store(true)
			req.reply <- nil
		case <-stop:
			return
		}
	}
}

// pumpSent moves application bytes to the server. It ends when the
// application closes its side of the pipe.
func (t *ProverTask) pumpSent() error {
	buf := make([]byte, pumpBufferSize)
	for {
		n, err := t.app.Read(buf)
		if n > 0 {
			if t.sent.Len()+n > t.maxSent {
				t.shutdown()
				return fmt.Errorf("%w: sent data exceeds %d bytes", ErrTranscriptLimit, t.maxSent)
			}
			t.sent.Write(buf[:n])
			if _, werr := t.tls.Write(buf[:n]); werr != nil {
				t.shutdown()
				return fmt.Errorf("failed to write to server: %w", werr)
			}
		}
		if err != nil {
			t.shutdown()
			if isClosed(err) {
				return nil
			}
			return fmt.Errorf("failed to read application data: %w", err)
		}
	}
}

// pumpRecv moves server bytes to the application, holding them back while
// decryption is deferred. It ends when the server closes the connection.
func (t *ProverTask) pumpRecv() error {
	buf := make([]byte, pumpBufferSize)
	delivered := 0
	for {
		n, err := t.tls.Read(buf)
		if n > 0 {
			if t.recv.Len()+n > t.maxRecv {
				t.shutdown()
				return fmt.Errorf("%w: received data exceeds %d bytes", ErrTranscriptLimit, t.maxRecv)
			}
			t.recv.Write(buf[:n])
			if !t.deferDecryption.Load() {
				t.deliver(t.recv.Bytes()[delivered:])
				delivered = t.recv.Len()
			}
		}
		if err != nil {
			if t.appClosed.Load() && !errors.Is(err, io.EOF) {
				// we closed the TLS conn ourselves
				return nil
			}
			if !errors.Is(err, io.EOF) {
				t.shutdown()
				return fmt.Errorf("failed to read from server: %w", err)
			}
			t.deliver(t.recv.Bytes()[delivered:])
			t.app.Close()
			return nil
		}
	}
}

// deliver writes data to the application. It returns false once the
// application has gone away.
func (t *ProverTask) deliver(data []byte) bool {
	if len(data) == 0 || t.appClosed.Load() {
		return !t.appClosed.Load()
	}
	if _, err := t.app.Write(data); err != nil {
		return false
	}
	return true
}

func (t *ProverTask) shutdown() {
	if t.appClosed.CompareAndSwap(false, true) {
		t.app.Close()
		t.tls.Close()
	}
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed)
}
