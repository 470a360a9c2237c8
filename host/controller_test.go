package host

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/guseggert/cmdbridge/engine/elvish"
	"github.com/guseggert/cmdbridge/protocol"
	"github.com/guseggert/cmdbridge/transport"
	"github.com/guseggert/cmdbridge/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"
)

func newBridge(t *testing.T, mode ColorMode, opts ...worker.Option) (*Controller, *worker.Server, *syncBuffer) {
	t.Helper()
	a, b := net.Pipe()

	srv, err := worker.NewServer(b, elvish.New(), append([]worker.Option{worker.WithLogger(log)}, opts...)...)
	require.NoError(t, err)

	out := &syncBuffer{}
	c := NewController(a, NewRenderer(out, mode), WithLogger(log))
	t.Cleanup(func() {
		c.Close()
		srv.Close()
	})
	return c, srv, out
}

func TestEchoRendersOutput(t *testing.T) {
	c, _, out := newBridge(t, ColorNever)
	require.NoError(t, c.Invoke(context.Background(), "echo hello"))
	assert.Equal(t, "hello\n", out.String())
}

func TestEngineErrorIsRenderedAndInvokeSucceeds(t *testing.T) {
	c, _, out := newBridge(t, ColorAlways)
	require.NoError(t, c.Invoke(context.Background(), "this-is-not-a-valid-command"))

	got := out.String()
	assert.True(t, strings.HasPrefix(got, "\x1b[91m"), got)
	assert.Contains(t, got, "this-is-not-a-valid-command")

	require.NoError(t, c.Invoke(context.Background(), "echo still alive"))
	assert.True(t, strings.HasSuffix(out.String(), "still alive\n"))
}

func TestSeveritiesReachRenderer(t *testing.T) {
	c, _, out := newBridge(t, ColorAlways)
	cmd := "write-warning w; write-verbose v; write-debug d; write-error e; echo i"
	require.NoError(t, c.Invoke(context.Background(), cmd))
	assert.Equal(t,
		"\x1b[93mw\x1b[0m\n\x1b[96mv\x1b[0m\n\x1b[95md\x1b[0m\n\x1b[91me\x1b[0m\n"+"i\n",
		out.String())
}

func TestNotificationOrder(t *testing.T) {
	c, _, out := newBridge(t, ColorNever)
	require.NoError(t, c.Invoke(context.Background(), "echo A; echo B; echo C"))
	assert.Equal(t, "A\nB\nC\n", out.String())
}

func TestBadInputKeepsSession(t *testing.T) {
	c, _, out := newBridge(t, ColorNever)
	ctx := context.Background()
	for _, line := range []string{"", "   ", "echo (", "fail boom", "var x = 1", "echo $x"} {
		require.NoError(t, c.Invoke(ctx, line), line)
	}
	assert.True(t, strings.HasSuffix(out.String(), "1\n"), out.String())
}

func TestSimpleProfileEndToEnd(t *testing.T) {
	c, _, out := newBridge(t, ColorNever, worker.WithProfile(protocol.ProfileSimple))
	require.NoError(t, c.Invoke(context.Background(), "echo hello"))
	require.NoError(t, c.Invoke(context.Background(), "this-is-not-a-valid-command"))
	assert.Equal(t, "hello\n", out.String())
}

func TestHandleLogMessageSurvivesGarbage(t *testing.T) {
	out := &syncBuffer{}
	a, b := net.Pipe()
	defer b.Close()
	c := NewController(a, NewRenderer(out, ColorNever), WithLogger(log))
	defer c.Close()

	for _, raw := range []string{``, `42`, `[[1]]`, `{"level":`, `["a","b"]`, `null`} {
		c.HandleLogMessage(json.RawMessage(raw))
	}
	assert.Empty(t, out.String())

	c.HandleLogMessage(json.RawMessage(`{"level":"Shout","message":"plain"}`))
	c.HandleLogMessage(json.RawMessage(`["bare"]`))
	c.HandleLogMessage(json.RawMessage(`{"message":"no level"}`))
	assert.Equal(t, "plain\nbare\nno level\n", out.String())
}

// stubWorker answers invokes with a handler the test controls.
func stubWorker(t *testing.T, handler jsonrpc2.Handler) (*Controller, *transport.Connection, *syncBuffer) {
	t.Helper()
	a, b := net.Pipe()
	w := transport.NewConnection(b, log)
	w.Start(context.Background(), handler)

	out := &syncBuffer{}
	c := NewController(a, NewRenderer(out, ColorNever), WithLogger(log))
	t.Cleanup(func() {
		c.Close()
		w.Close()
	})
	return c, w, out
}

func TestSecondInvokeIsRejectedWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	c, _, _ := stubWorker(t, func(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
		calls.Add(1)
		<-release
		return reply(ctx, nil, nil)
	})

	var g errgroup.Group
	g.Go(func() error { return c.Invoke(context.Background(), "slow") })

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 5*time.Second, 5*time.Millisecond)
	require.ErrorIs(t, c.Invoke(context.Background(), "fast"), ErrInvokeInFlight)

	close(release)
	require.NoError(t, g.Wait())
	require.NoError(t, c.Invoke(context.Background(), "after"))
	assert.Equal(t, int32(2), calls.Load())
}

func TestInFlightInvokeFailsOnDisconnect(t *testing.T) {
	started := make(chan struct{})
	var calls atomic.Int32
	c, w, out := stubWorker(t, func(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
		if calls.Add(1) == 1 {
			close(started)
		}
		return nil
	})

	errc := make(chan error)
	go func() { errc <- c.Invoke(context.Background(), "never answered") }()
	<-started
	require.NoError(t, w.Close())

	select {
	case err := <-errc:
		require.ErrorIs(t, err, transport.ErrDisconnected)
	case <-time.After(5 * time.Second):
		t.Fatal("invoke hung after disconnect")
	}
	require.Eventually(t, func() bool { return out.Count("worker disconnected") == 1 }, 5*time.Second, 5*time.Millisecond)

	// the failed command is never sent again
	require.ErrorIs(t, c.Invoke(context.Background(), "never answered"), transport.ErrDisconnected)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDisconnectLogsBelowInfo(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	a, b := net.Pipe()
	out := &syncBuffer{}
	c := NewController(a, NewRenderer(out, ColorNever), WithLogger(zap.New(core).Sugar()))
	defer c.Close()

	require.NoError(t, b.Close())
	select {
	case <-c.Conn().Done():
	case <-time.After(5 * time.Second):
		t.Fatal("controller never saw the disconnect")
	}
	assert.Equal(t, 1, out.Count("worker disconnected"))
	assert.Zero(t, logs.Len(), logs.All())
}

func TestDisconnectReportedOnceAndInvokesFail(t *testing.T) {
	c, w, out := stubWorker(t, func(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
		return reply(ctx, nil, nil)
	})
	require.NoError(t, c.Invoke(context.Background(), "fine"))

	require.NoError(t, w.Close())
	select {
	case <-c.Conn().Done():
	case <-time.After(5 * time.Second):
		t.Fatal("controller never saw the disconnect")
	}

	c.Conn().Disconnect(&ExitError{Code: 137})
	for i := 0; i < 3; i++ {
		err := c.Invoke(context.Background(), "echo nope")
		require.ErrorIs(t, err, transport.ErrDisconnected)
		var de *transport.DisconnectedError
		require.True(t, errors.As(RootCause(err), &de))
	}
	assert.Equal(t, 1, out.Count("worker disconnected"))
}

func TestRunLoop(t *testing.T) {
	c, _, out := newBridge(t, ColorNever)
	in := strings.NewReader("echo one\n\nbogus-command\necho two\n")

	require.NoError(t, c.RunLoop(context.Background(), in))
	got := out.String()
	assert.GreaterOrEqual(t, strings.Count(got, "> "), 5)
	assert.Contains(t, got, "> one\n")
	assert.Contains(t, got, "bogus-command")
	assert.Contains(t, got, "> two\n")
}

func TestRunLoopKeepsGoingAfterDisconnect(t *testing.T) {
	c, w, out := stubWorker(t, func(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
		return reply(ctx, nil, nil)
	})
	require.NoError(t, w.Close())
	<-c.Conn().Done()

	require.NoError(t, c.RunLoop(context.Background(), strings.NewReader("a\nb\nc\n")))
	// one diagnostic for the disconnect itself, one per failed line
	assert.Equal(t, 4, out.Count("worker disconnected"))
	assert.Equal(t, 4, out.Count("> "))
}

func TestRunLoopHandlesLongLines(t *testing.T) {
	c, _, out := newBridge(t, ColorNever)
	long := strings.Repeat("x", 70<<10)
	in := strings.NewReader("echo " + long + "\r\necho after")

	require.NoError(t, c.RunLoop(context.Background(), in))
	got := out.String()
	assert.Contains(t, got, "> "+long+"\n")
	assert.Contains(t, got, "> after\n")
}

func TestRunLoopStopsWithContext(t *testing.T) {
	c, _, _ := newBridge(t, ColorNever)
	ctx, cancel := context.WithCancel(context.Background())

	pr, pw := net.Pipe()
	defer pw.Close()
	done := make(chan error)
	go func() { done <- c.RunLoop(ctx, pr) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("RunLoop did not return")
	}
}

func TestRootCause(t *testing.T) {
	root := errors.New("broken pipe")
	wrapped := errors.Join(root)
	assert.Equal(t, root, RootCause(root))
	assert.Equal(t, wrapped, RootCause(wrapped))

	de := &transport.DisconnectedError{Reason: root}
	err := errors.New("outer")
	assert.Equal(t, err, RootCause(err))
	assert.Equal(t, de, RootCause(fmtWrap(fmtWrap(de))))
}

func fmtWrap(err error) error {
	return &wrapErr{err: err}
}

type wrapErr struct{ err error }

func (w *wrapErr) Error() string { return "wrapped: " + w.err.Error() }
func (w *wrapErr) Unwrap() error { return w.err }
