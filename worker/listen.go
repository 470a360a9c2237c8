package worker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/guseggert/cmdbridge/engine"
	"github.com/guseggert/cmdbridge/transport"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

// Listener serves worker sessions over WebSocket. Only one session is attached at a time.
type Listener struct {
	log     *zap.SugaredLogger
	engine  engine.Engine
	opts    []Option
	metrics *Metrics

	tlsConfig *tls.Config

	busy       atomic.Bool
	router     *httprouter.Router
	httpServer *http.Server
}

func NewListener(eng engine.Engine, log *zap.SugaredLogger, opts ...Option) *Listener {
	l := &Listener{
		log:     log.Named("listener"),
		engine:  eng,
		opts:    opts,
		metrics: NewMetrics(),
	}

	router := httprouter.New()
	router.GET("/session", l.session)
	router.GET("/healthz", l.healthz)
	router.Handler(http.MethodGet, "/metrics", l.metrics.Handler())
	l.router = router
	return l
}

// WithTLS makes Serve require mutual TLS.
func (l *Listener) WithTLS(cfg *tls.Config) *Listener {
	l.tlsConfig = cfg
	return l
}

func (l *Listener) Handler() http.Handler { return l.router }

func (l *Listener) Metrics() *Metrics { return l.metrics }

// Serve accepts connections on ln until ctx is done.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	if l.tlsConfig != nil {
		ln = tls.NewListener(ln, l.tlsConfig)
	}
	l.httpServer = &http.Server{Handler: l.router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.httpServer.Shutdown(shutdownCtx); err != nil {
			l.log.Debugf("error shutting down HTTP server: %s", err)
			l.httpServer.Close()
		}
	}()

	l.log.Infow("listening for sessions", "Addr", ln.Addr().String(), "TLS", l.tlsConfig != nil)
	err := l.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ListenAndServe listens on the TCP address addr and serves until ctx is done.
func (l *Listener) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}
	return l.Serve(ctx, ln)
}

func (l *Listener) healthz(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Add("Content-Type", "text/plain")
	w.Write([]byte("ok\n"))
}

func (l *Listener) session(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if !l.busy.CompareAndSwap(false, true) {
		http.Error(w, "a session is already attached", http.StatusConflict)
		return
	}
	defer l.busy.Store(false)

	rwc, err := transport.AcceptWebSocket(w, r)
	if err != nil {
		l.log.Debugf("error accepting session: %s", err)
		return
	}

	opts := append([]Option{}, l.opts...)
	opts = append(opts, WithLogger(l.log), WithMetrics(l.metrics))
	srv, err := NewServer(rwc, l.engine, opts...)
	if err != nil {
		l.log.Errorw("unable to start session", "Error", err)
		rwc.Close()
		return
	}
	l.log.Infow("session attached", "SessionID", srv.SessionID(), "Remote", r.RemoteAddr)
	if err := srv.Run(r.Context()); err != nil {
		l.log.Debugw("error closing session", "SessionID", srv.SessionID(), "Error", err)
	}
	l.log.Infow("session detached", "SessionID", srv.SessionID())
}
