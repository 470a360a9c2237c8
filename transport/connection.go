package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.lsp.dev/jsonrpc2"
	"go.uber.org/zap"
)

var (
	ErrDisconnected = errors.New("transport: disconnected")
	ErrClosed       = errors.New("connection closed locally")
)

// State is the state of a Connection. The only transition is Connected -> Disconnected.
type State int32

const (
	StateConnected State = iota
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// DisconnectedError is returned by every call made on, or in flight over, a disconnected link.
// It is the root of the error chain, so it does not unwrap to its reason.
type DisconnectedError struct {
	Reason error
}

func (e *DisconnectedError) Error() string {
	if e.Reason == nil {
		return "worker disconnected"
	}
	return fmt.Sprintf("worker disconnected: %s", e.Reason)
}

func (e *DisconnectedError) Is(target error) bool { return target == ErrDisconnected }

// Connection is the logical RPC link bound to one duplex byte stream.
type Connection struct {
	log  *zap.SugaredLogger
	conn jsonrpc2.Conn

	state        atomic.Int32
	disconnected chan struct{}
	once         sync.Once

	mu       sync.Mutex
	reason   error
	handlers []func(reason error)
}

func NewConnection(rwc io.ReadWriteCloser, log *zap.SugaredLogger) *Connection {
	return &Connection{
		log:          log.Named("connection"),
		conn:         jsonrpc2.NewConn(jsonrpc2.NewStream(rwc)),
		disconnected: make(chan struct{}),
	}
}

// OnDisconnect registers f to be called once when the link goes down.
// If the link is already down, f is called immediately.
func (c *Connection) OnDisconnect(f func(reason error)) {
	c.mu.Lock()
	if c.State() == StateDisconnected {
		reason := c.reason
		c.mu.Unlock()
		f(reason)
		return
	}
	c.handlers = append(c.handlers, f)
	c.mu.Unlock()
}

// Start begins reading messages and dispatching requests and notifications to handler.
// Handlers run on the read goroutine one at a time, in arrival order.
func (c *Connection) Start(ctx context.Context, handler jsonrpc2.Handler) {
	c.conn.Go(ctx, handler)
	go func() {
		<-c.conn.Done()
		reason := c.conn.Err()
		if reason == nil {
			reason = io.EOF
		}
		c.log.Debugf("read loop finished: %s", reason)
		c.disconnect(reason)
	}()
}

// Disconnect moves the link to Disconnected because of something observed outside the stream,
// such as the peer process exiting, and closes the stream.
func (c *Connection) Disconnect(reason error) {
	c.disconnect(reason)
	if err := c.conn.Close(); err != nil {
		c.log.Debugf("error closing conn: %s", err)
	}
}

func (c *Connection) disconnect(reason error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.state.Store(int32(StateDisconnected))
		handlers := c.handlers
		c.handlers = nil
		c.mu.Unlock()

		c.log.Debugw("disconnected", "Reason", reason)
		for _, h := range handlers {
			h(reason)
		}
		close(c.disconnected)
	})
}

func (c *Connection) State() State {
	return State(c.state.Load())
}

// Done is closed when the link is disconnected, after every OnDisconnect callback has returned.
func (c *Connection) Done() <-chan struct{} {
	return c.disconnected
}

// Err returns why the link went down, or nil while it is connected.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *Connection) disconnectedErr() error {
	return &DisconnectedError{Reason: c.Err()}
}

// Call sends a request and waits for its reply. It is never retried.
// If the link goes down while waiting, Call returns a DisconnectedError instead of hanging.
func (c *Connection) Call(ctx context.Context, method string, params, result any) error {
	if c.State() == StateDisconnected {
		return c.disconnectedErr()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.disconnected:
			cancel()
		case <-ctx.Done():
		}
	}()

	_, err := c.conn.Call(ctx, method, params, result)
	if err != nil && c.State() == StateDisconnected {
		c.log.Debugw("call failed on disconnected link", "Method", method, "Error", err)
		return c.disconnectedErr()
	}
	return err
}

// Notify sends a notification. No reply is expected and delivery is best-effort.
func (c *Connection) Notify(ctx context.Context, method string, params any) error {
	if c.State() == StateDisconnected {
		return c.disconnectedErr()
	}
	return c.conn.Notify(ctx, method, params)
}

// Close closes the stream. The link becomes Disconnected with ErrClosed unless it already was.
func (c *Connection) Close() error {
	c.disconnect(ErrClosed)
	return c.conn.Close()
}
