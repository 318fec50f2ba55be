// Package pipeline runs a notarized model-API exchange end to end: it
// captures private header values, derives public ranges from the closed
// transcripts, commits them, and assembles the disclosure proof.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"tlsn-notary/model"
	"tlsn-notary/notary"
	"tlsn-notary/proof"
	"tlsn-notary/redaction"
	"tlsn-notary/shared"
	"tlsn-notary/transport"
)

// State is the orchestrator's position in the session lifecycle
type State int

const (
	StateUninitialized State = iota
	StateProverReady
	StateRequestSent
	StateResponseReceived
	StateNotarizing
	StateFinalized
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateProverReady:
		return "prover-ready"
	case StateRequestSent:
		return "request-sent"
	case StateResponseReceived:
		return "response-received"
	case StateNotarizing:
		return "notarizing"
	case StateFinalized:
		return "finalized"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ProofArchive persists finished proofs. *store.Archive implements it.
type ProofArchive interface {
	Save(ctx context.Context, sessionID, serverName string, proofJSON []byte) error
}

// Request is one chat exchange to notarize
type Request struct {
	Messages    []json.RawMessage
	Tools       []json.RawMessage
	TopP        *float64 // overrides the configured value when set
	Temperature *float64 // overrides the configured value when set
}

// Result is the outcome of a successful run
type Result struct {
	SessionID string
	Response  string // {"role":"assistant","content":...}
	Proof     *proof.TLSProof
	ProofJSON []byte
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithArchive stores every finished proof in a
func WithArchive(a ProofArchive) Option {
	return func(o *Orchestrator) { o.archive = a }
}

// WithFinderOptions changes how public ranges are derived
func WithFinderOptions(opts redaction.FinderOptions) Option {
	return func(o *Orchestrator) { o.finder = opts }
}

// Orchestrator drives a single notarization. It is not reusable: a second
// Run fails with a LifecycleError.
type Orchestrator struct {
	cfg       *Config
	notarizer notary.Notarizer
	logger    *shared.Logger
	archive   ProofArchive
	finder    redaction.FinderOptions

	mu    sync.Mutex
	state State
	used  bool
}

// NewOrchestrator creates an orchestrator for one exchange
func NewOrchestrator(cfg *Config, notarizer notary.Notarizer, logger *shared.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = shared.NewNopLogger()
	}
	o := &Orchestrator{cfg: cfg, notarizer: notarizer, logger: logger}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current lifecycle state
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	o.logger.Debug("Pipeline state changed", zap.Stringer("state", s))
}

// session tracks what has to be torn down if a run fails midway
type session struct {
	prover    *notary.Prover
	appConn   net.Conn
	finalized bool
}

func (s *session) abort() {
	if s.appConn != nil {
		s.appConn.Close()
	}
	if s.prover != nil && !s.finalized {
		s.prover.Abort()
	}
}

// Run performs the exchange and returns the response with its proof. Either
// a complete proof is returned or an error naming the failed stage.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	o.mu.Lock()
	if o.used {
		state := o.state
		o.mu.Unlock()
		return nil, shared.NewLifecycleError("run", fmt.Errorf("orchestrator already used, state %s", state))
	}
	o.used = true
	o.mu.Unlock()

	if err := o.cfg.Validate(); err != nil {
		o.setState(StateFailed)
		return nil, err
	}
	if o.cfg.SessionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.SessionTimeout)
		defer cancel()
	}

	sess := &session{}
	result, err := o.run(ctx, req, sess)
	if err != nil {
		sess.abort()
		o.setState(StateFailed)
		o.logger.Error("Notarization pipeline failed", zap.Error(err))
		return nil, err
	}
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, req Request, sess *session) (*Result, error) {
	cfg := o.cfg
	started := time.Now()

	// Uninitialized -> ProverReady
	prover, err := o.notarizer.Setup(ctx, notary.ProverConfig{
		ServerName:  cfg.API.ServerDomain,
		RootCAs:     cfg.API.RootCAs,
		MaxSentData: cfg.Notary.MaxSentData,
		MaxRecvData: cfg.Notary.MaxRecvData,
		Logger:      o.logger,
	})
	if err != nil {
		return nil, shared.NewStageError(shared.StageSetup, "notary setup failed", err)
	}
	sess.prover = prover
	logger := o.logger.WithSession(prover.SessionID())

	var dialer net.Dialer
	rawConn, err := dialer.DialContext(ctx, "tcp", cfg.API.Address())
	if err != nil {
		return nil, shared.NewStageError(shared.StageSetup, "failed to dial "+cfg.API.Address(), err)
	}
	appConn, task, err := prover.Connect(ctx, rawConn)
	if err != nil {
		return nil, shared.NewStageError(shared.StageSetup, "failed to connect prover", err)
	}
	sess.appConn = appConn
	o.setState(StateProverReady)

	// ProverReady -> RequestSent
	httpReq, err := model.BuildChatRequest(
		model.Endpoint{Domain: cfg.API.ServerDomain, Route: cfg.API.InferenceRoute, APIKey: cfg.API.APIKey},
		model.ChatParams{
			Model:       cfg.Model.ID,
			SetupPrompt: cfg.Model.SetupPrompt,
			Messages:    req.Messages,
			Tools:       req.Tools,
			TopP:        firstSet(req.TopP, cfg.Model.TopP),
			Temperature: firstSet(req.Temperature, cfg.Model.Temperature),
		})
	if err != nil {
		return nil, shared.NewInputError("request", err.Error(), err)
	}

	sentPrivate := redaction.NewPrivateDataSet(shared.DirectionSent)
	redaction.ExtractPrivateData(sentPrivate, requestHeaders(httpReq), cfg.Privacy.RequestTopicsToCensor)

	if cfg.DeferDecryption {
		if err := task.Control().DeferDecryption(ctx); err != nil {
			return nil, shared.NewStageError(shared.StageExchange, "failed to defer decryption", err)
		}
	}

	sender := transport.NewSender(appConn, logger)
	o.setState(StateRequestSent)
	resp, err := sender.SendRequest(ctx, httpReq)
	if err != nil {
		return nil, shared.NewStageError(shared.StageExchange, "request to model API failed", err)
	}

	// RequestSent -> ResponseReceived
	o.setState(StateResponseReceived)
	recvPrivate := redaction.NewPrivateDataSet(shared.DirectionReceived)
	redaction.ExtractPrivateData(recvPrivate, redaction.HeadersFromHTTP(resp.Header), cfg.Privacy.ResponseTopicsToCensor)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, shared.NewInputError("response", fmt.Sprintf("model API returned status %d", resp.StatusCode), nil)
	}

	body, err := transport.ReadBody(resp)
	if err != nil {
		return nil, shared.NewStageError(shared.StageExchange, "failed to read response", err)
	}
	if _, err := redaction.ExtractJSONFields(recvPrivate, body, cfg.Privacy.ResponseJSONPathsToCensor); err != nil {
		return nil, shared.NewStageError(shared.StageExtraction, "failed to extract response fields", err)
	}
	assistant, err := model.ExtractAssistantMessage(body)
	if err != nil {
		return nil, shared.NewStageError(shared.StageExtraction, "failed to read assistant message", err)
	}
	logger.Info("Exchange complete",
		zap.Int("status", resp.StatusCode),
		zap.Int("sent_private", sentPrivate.Len()),
		zap.Int("recv_private", recvPrivate.Len()))

	// ResponseReceived -> Notarizing
	sender.Close()
	closed, err := task.Wait(ctx)
	if err != nil {
		return nil, shared.NewStageError(shared.StageNotarize, "prover task did not close cleanly", err)
	}
	notarizing, err := closed.StartNotarize()
	if err != nil {
		return nil, shared.NewStageError(shared.StageNotarize, "failed to start notarization", err)
	}
	o.setState(StateNotarizing)

	sentPublic, sentHidden := redaction.FindRangesWithOptions(notarizing.SentTranscript().Data(), sentPrivate.Values(), o.finder)
	recvPublic, recvHidden := redaction.FindRangesWithOptions(notarizing.RecvTranscript().Data(), recvPrivate.Values(), o.finder)
	logger.Debug("Ranges derived",
		zap.Int("sent_public", len(sentPublic)),
		zap.Int("sent_private", len(sentHidden)),
		zap.Int("recv_public", len(recvPublic)),
		zap.Int("recv_private", len(recvHidden)))

	plan, err := PlanCommitments(notarizing, sentPublic, recvPublic)
	if err != nil {
		return nil, err
	}

	// Notarizing -> Finalized
	sess.finalized = true
	notarized, err := notarizing.Finalize(ctx)
	if err != nil {
		return nil, shared.NewStageError(shared.StageFinalize, "notary did not sign the session", err)
	}
	tlsProof, err := AssembleProof(notarized, plan)
	if err != nil {
		return nil, err
	}
	proofJSON, err := proof.EncodeJSON(tlsProof)
	if err != nil {
		return nil, shared.NewStageError(shared.StageProofBuild, "failed to serialize proof", err)
	}

	if o.archive != nil {
		if err := o.archive.Save(ctx, prover.SessionID(), cfg.API.ServerDomain, proofJSON); err != nil {
			return nil, shared.NewStageError(shared.StageArchive, "failed to archive proof", err)
		}
	}
	o.setState(StateFinalized)

	logger.Info("Notarization pipeline finished",
		zap.Int("commitments", plan.Len()),
		zap.Int("revealed", len(tlsProof.Substrings.Openings)),
		zap.Duration("elapsed", time.Since(started)))

	return &Result{
		SessionID: prover.SessionID(),
		Response:  assistant,
		Proof:     tlsProof,
		ProofJSON: proofJSON,
	}, nil
}

// requestHeaders lists the request's metadata including Host, which
// net/http keeps outside Header
func requestHeaders(req *http.Request) []redaction.Header {
	headers := redaction.HeadersFromHTTP(req.Header)
	if req.Host != "" {
		headers = append(headers, redaction.Header{Name: "host", Value: []byte(req.Host)})
	}
	return headers
}

func firstSet(values ...*float64) *float64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
