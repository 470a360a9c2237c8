package worker

import (
	"context"
	"sync"

	"github.com/guseggert/cmdbridge/protocol"
	"github.com/guseggert/cmdbridge/transport"
	"go.uber.org/zap"
)

const notifyQueueSize = 1024

type notifyItem struct {
	msg protocol.LogMessage
	// flush is closed once every item queued before it has been handled.
	flush chan struct{}
}

// notifier delivers log notifications from a single goroutine, so they reach the host in the order they were queued.
// Delivery failures are logged and counted, never returned.
type notifier struct {
	log     *zap.SugaredLogger
	conn    *transport.Connection
	profile protocol.Profile
	metrics *Metrics

	queue   chan notifyItem
	done    chan struct{}
	stopped chan struct{}
	stop1   sync.Once
}

func newNotifier(log *zap.SugaredLogger, conn *transport.Connection, profile protocol.Profile, metrics *Metrics) *notifier {
	n := &notifier{
		log:     log.Named("notifier"),
		conn:    conn,
		profile: profile,
		metrics: metrics,
		queue:   make(chan notifyItem, notifyQueueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *notifier) run() {
	defer close(n.stopped)
	for {
		select {
		case item := <-n.queue:
			n.handle(item)
		case <-n.done:
			return
		}
	}
}

func (n *notifier) handle(item notifyItem) {
	if item.flush != nil {
		close(item.flush)
		return
	}
	err := n.conn.Notify(context.Background(), protocol.MethodLogMessage, protocol.LogParams(n.profile, item.msg))
	if err != nil {
		n.log.Debugw("dropping notification", "Level", item.msg.Level, "Error", err)
		n.metrics.recordNotificationFailure()
		return
	}
	n.metrics.recordNotification(item.msg.Level)
}

func (n *notifier) send(msg protocol.LogMessage) {
	select {
	case n.queue <- notifyItem{msg: msg}:
	case <-n.done:
		n.log.Debugw("notifier stopped, dropping notification", "Level", msg.Level)
		n.metrics.recordNotificationFailure()
	}
}

// flush waits until everything queued so far has been handed to the connection.
func (n *notifier) flush(ctx context.Context) {
	ch := make(chan struct{})
	select {
	case n.queue <- notifyItem{flush: ch}:
	case <-n.done:
		return
	case <-ctx.Done():
		return
	}
	select {
	case <-ch:
	case <-n.done:
	case <-ctx.Done():
	}
}

// stop ends delivery. Items still queued are dropped.
func (n *notifier) stop() {
	n.stop1.Do(func() { close(n.done) })
	<-n.stopped
}
