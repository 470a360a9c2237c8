package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/guseggert/cmdbridge/engine"
	"github.com/guseggert/cmdbridge/protocol"
	"github.com/guseggert/cmdbridge/transport"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/zap"
)

// BridgeConstant is the name of the read-only map every session exposes to its commands.
const BridgeConstant = "bridge"

// Server owns one engine session and serves invoke requests for it over one connection.
type Server struct {
	log       *zap.SugaredLogger
	profile   protocol.Profile
	constants []engine.Constant
	metrics   *Metrics
	sessionID string

	conn     *transport.Connection
	session  engine.Session
	notifier *notifier

	closeOnce sync.Once
	closeErr  error
}

type Option func(s *Server)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Server) {
		s.log = l
	}
}

func WithProfile(p protocol.Profile) Option {
	return func(s *Server) {
		s.profile = p
	}
}

// WithConstants exposes additional read-only constants to the session.
func WithConstants(c ...engine.Constant) Option {
	return func(s *Server) {
		s.constants = append(s.constants, c...)
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// NewServer opens the engine session and starts serving requests read from rwc.
// If the session cannot be opened, nothing is read from rwc and the error is returned.
func NewServer(rwc io.ReadWriteCloser, eng engine.Engine, opts ...Option) (*Server, error) {
	s := &Server{
		log:       zap.NewNop().Sugar(),
		profile:   protocol.ProfileStructured,
		sessionID: uuid.NewString(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	s.log = s.log.Named("worker")

	constants := append([]engine.Constant{bridgeConstant(s.sessionID, s.profile)}, s.constants...)
	session, err := eng.Open(engine.Config{Constants: constants}, &bridgeSink{log: s.Log})
	if err != nil {
		return nil, fmt.Errorf("opening session: %w", err)
	}
	s.session = session
	s.log.Debugw("opened session", "SessionID", s.sessionID, "Profile", s.profile)

	s.conn = transport.NewConnection(rwc, s.log)
	s.notifier = newNotifier(s.log, s.conn, s.profile, s.metrics)
	s.conn.Start(context.Background(), s.handle)
	return s, nil
}

// bridgeConstant describes the session to the commands it runs.
func bridgeConstant(sessionID string, profile protocol.Profile) engine.Constant {
	return engine.Constant{
		Name: BridgeConstant,
		Value: map[string]string{
			"session-id": sessionID,
			"profile":    string(profile),
			"columns":    strconv.Itoa(engine.MinimumColumns),
		},
		Description: "Worker session information",
	}
}

func (s *Server) SessionID() string { return s.sessionID }

func (s *Server) Metrics() *Metrics { return s.metrics }

// Done is closed once the connection to the host is gone.
func (s *Server) Done() <-chan struct{} { return s.conn.Done() }

func (s *Server) handle(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	switch req.Method() {
	case protocol.MethodInvoke:
		line, err := protocol.DecodeInvokeParams(req.Params())
		if err != nil {
			s.log.Debugw("rejecting invoke", "Error", err)
			return reply(ctx, nil, fmt.Errorf("%w: %s", jsonrpc2.ErrInvalidParams, err))
		}
		return reply(ctx, nil, s.Invoke(ctx, line))
	}
	return jsonrpc2.MethodNotFoundHandler(ctx, reply, req)
}

type panicError struct {
	value any
	stack []byte
}

func (p *panicError) Error() string { return fmt.Sprintf("engine panicked: %v", p.value) }

func (s *Server) pipeline(line string) engine.Pipeline {
	if s.profile == protocol.ProfileSimple {
		return engine.Pipeline{Command: line, Output: engine.OutputDefault}
	}
	return engine.Pipeline{Command: line, MergeErrors: true, Output: engine.OutputHost}
}

func (s *Server) execute(ctx context.Context, line string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return s.session.Execute(ctx, s.pipeline(line))
}

// Invoke runs one line in the session and waits until every notification it produced has been sent.
// Engine failures are reported as notifications and do not fail the invoke.
// Only a failure to start execution is returned.
func (s *Server) Invoke(ctx context.Context, line string) error {
	log := s.log.With("InvokeID", uuid.NewString())
	start := time.Now()
	log.Debugw("invoking", "Line", line)

	outcome := OutcomeOK
	var err error
	execErr := s.execute(ctx, line)
	var pe *panicError
	switch {
	case execErr == nil:
	case errors.Is(execErr, engine.ErrNotStarted):
		outcome = OutcomeNotStarted
		log.Errorw("command did not start", "Error", execErr)
		err = execErr
	case errors.As(execErr, &pe):
		outcome = OutcomePanic
		log.Errorw("engine panicked", "Panic", pe.value, "Stack", string(pe.stack))
		s.Log(protocol.LevelError, execErr.Error())
	default:
		outcome = OutcomeEngineErr
		log.Infow("command failed", "Error", execErr)
		if s.profile == protocol.ProfileStructured {
			s.Log(protocol.LevelError, execErr.Error())
		}
	}

	s.notifier.flush(ctx)
	s.metrics.recordInvoke(outcome, time.Since(start))
	log.Debugw("invoke finished", "Outcome", outcome, "Duration", time.Since(start))
	return err
}

// Log queues a notification for the host. It never blocks on the network and never fails.
func (s *Server) Log(level protocol.LogLevel, message string) {
	s.notifier.send(protocol.LogMessage{Level: level, Message: message})
}

// Run blocks until the host disconnects or ctx is done, then closes the server.
func (s *Server) Run(ctx context.Context) error {
	select {
	case <-s.conn.Done():
		s.log.Debugw("host disconnected", "Reason", s.conn.Err())
	case <-ctx.Done():
		s.log.Debug("context done, shutting down")
		flushCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		s.notifier.flush(flushCtx)
		cancel()
	}
	return s.Close()
}

// Close stops notification delivery, closes the connection, and then closes the session.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.notifier.stop()
		if err := s.conn.Close(); err != nil {
			s.log.Debugf("error closing connection: %s", err)
		}
		s.closeErr = s.session.Close()
	})
	return s.closeErr
}
