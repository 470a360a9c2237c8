package host

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/guseggert/cmdbridge/protocol"
	"github.com/guseggert/cmdbridge/transport"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/zap"
)

var ErrInvokeInFlight = errors.New("host: an invoke is already in flight")

// Controller drives one worker: it sends invoke requests and renders the worker's log notifications.
type Controller struct {
	log      *zap.SugaredLogger
	renderer *Renderer
	conn     *transport.Connection
	prompt   string

	// inflight holds a token while an invoke is outstanding.
	inflight chan struct{}
}

type Option func(c *Controller)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Controller) {
		c.log = l
	}
}

func WithPrompt(p string) Option {
	return func(c *Controller) {
		c.prompt = p
	}
}

// NewController attaches to a worker over rwc and starts handling its notifications.
func NewController(rwc io.ReadWriteCloser, renderer *Renderer, opts ...Option) *Controller {
	c := &Controller{
		log:      zap.NewNop().Sugar(),
		renderer: renderer,
		prompt:   "> ",
		inflight: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.Named("controller")
	c.conn = transport.NewConnection(rwc, c.log)
	c.conn.OnDisconnect(c.reportDisconnect)
	c.conn.Start(context.Background(), c.handle)
	return c
}

func (c *Controller) Conn() *transport.Connection { return c.conn }

func (c *Controller) Close() error { return c.conn.Close() }

func (c *Controller) reportDisconnect(reason error) {
	c.log.Debugw("worker disconnected", "Reason", reason)
	c.renderer.Diagnostic((&transport.DisconnectedError{Reason: reason}).Error())
}

func (c *Controller) handle(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	if req.Method() != protocol.MethodLogMessage {
		c.log.Debugw("unexpected method from worker", "Method", req.Method())
		return jsonrpc2.MethodNotFoundHandler(ctx, reply, req)
	}
	c.HandleLogMessage(req.Params())
	return reply(ctx, nil, nil)
}

// HandleLogMessage renders one logMessage notification.
// Malformed params and rendering failures are logged and dropped.
func (c *Controller) HandleLogMessage(raw json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorw("rendering log message panicked", "Params", string(raw), "Panic", r)
		}
	}()
	msg, err := protocol.DecodeLogMessage(raw)
	if err != nil {
		c.log.Warnw("dropping malformed log message", "Params", string(raw), "Error", err)
		return
	}
	if !msg.Level.Known() {
		c.log.Debugw("unknown log level, rendering plain", "Level", msg.Level)
	}
	c.renderer.Render(msg)
}

// Invoke sends line to the worker and waits for it to finish executing.
// Only one invoke may be outstanding; a second one fails with ErrInvokeInFlight. Nothing is retried.
func (c *Controller) Invoke(ctx context.Context, line string) error {
	select {
	case c.inflight <- struct{}{}:
	default:
		return ErrInvokeInFlight
	}
	defer func() { <-c.inflight }()

	err := c.conn.Call(ctx, protocol.MethodInvoke, protocol.InvokeArgs(line), nil)
	if err != nil {
		c.log.Debugw("invoke failed", "Line", line, "Error", err)
		return fmt.Errorf("invoking %q: %w", line, err)
	}
	return nil
}

// RunLoop prompts for lines on in and invokes each non-empty one.
// Failures are reported and the loop keeps going. It returns at EOF or when ctx is done.
func (c *Controller) RunLoop(ctx context.Context, in io.Reader) error {
	type result struct {
		line string
		err  error
		eof  bool
	}
	next := make(chan struct{})
	results := make(chan result)
	go func() {
		br := bufio.NewReader(in)
		for range next {
			var r result
			line, err := br.ReadString('\n')
			switch {
			case err == nil || (errors.Is(err, io.EOF) && line != ""):
				r.line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
			case errors.Is(err, io.EOF):
				r.eof = true
			default:
				r.err = err
				r.eof = true
			}
			select {
			case results <- r:
			case <-ctx.Done():
				return
			}
			if r.eof {
				return
			}
		}
	}()
	defer close(next)

	for {
		c.renderer.Prompt(c.prompt)
		select {
		case next <- struct{}{}:
		case <-ctx.Done():
			return nil
		}
		var r result
		select {
		case r = <-results:
		case <-ctx.Done():
			return nil
		}
		if r.eof {
			if r.err != nil {
				return fmt.Errorf("reading input: %w", r.err)
			}
			return nil
		}
		if r.line == "" {
			continue
		}
		if err := c.Invoke(ctx, r.line); err != nil {
			c.renderer.Diagnostic(RootCause(err).Error())
		}
	}
}

// RootCause follows the Unwrap chain of err to its end.
func RootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
