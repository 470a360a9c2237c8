package host

import (
	"github.com/guseggert/cmdbridge/transport"
	"go.uber.org/zap"
)

// Monitor disconnects conn when the worker process exits.
// Whichever of the stream closing or the process exiting comes first is the reason the connection reports;
// the other one is only logged.
func Monitor(conn *transport.Connection, w *Worker, log *zap.SugaredLogger) {
	log = log.Named("monitor")
	go func() {
		select {
		case <-w.Exited():
			if conn.State() == transport.StateDisconnected {
				log.Debugw("worker exited after the stream closed", "ExitCode", w.ExitCode())
				return
			}
			conn.Disconnect(w.ExitErr())
		case <-conn.Done():
			<-w.Exited()
			log.Debugw("worker exited after the stream closed", "ExitCode", w.ExitCode())
		}
	}()
}
