// Package transport sends HTTP/1.1 requests over an already established
// connection, such as the application side of a prover.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"tlsn-notary/shared"
)

// Sender writes requests to conn and reads responses from it. Requests are
// serialized; HTTP/1.1 pipelining is not used.
type Sender struct {
	conn   net.Conn
	reader *bufio.Reader
	logger *shared.Logger
	mu     sync.Mutex
}

// NewSender wraps conn
func NewSender(conn net.Conn, logger *shared.Logger) *Sender {
	if logger == nil {
		logger = shared.NewNopLogger()
	}
	return &Sender{conn: conn, reader: bufio.NewReader(conn), logger: logger}
}

// SendRequest writes req and reads the response head. The caller reads and
// closes the body. The connection is closed if ctx ends before the response
// head arrives.
func (s *Sender) SendRequest(ctx context.Context, req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()

	s.logger.Debug("Sending request",
		zap.String("method", req.Method),
		zap.String("host", req.Host),
		zap.String("path", req.URL.Path))

	if err := req.Write(s.conn); err != nil {
		return nil, wrapContext(ctx, fmt.Errorf("failed to write request: %w", err))
	}

	resp, err := http.ReadResponse(s.reader, req)
	if err != nil {
		return nil, wrapContext(ctx, fmt.Errorf("failed to read response: %w", err))
	}

	s.logger.Debug("Received response head",
		zap.Int("status", resp.StatusCode),
		zap.Int64("content_length", resp.ContentLength))
	return resp, nil
}

// ReadBody reads and closes resp.Body
func ReadBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("response body truncated: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}

// Close closes the underlying connection
func (s *Sender) Close() error {
	return s.conn.Close()
}

func wrapContext(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}
