/*
Package worker is the worker side of the bridge.

A Server owns one engine session for its whole life. It answers "invoke" requests by running the line through the session,
and everything the engine writes while doing so is sent back to the host as "logMessage" notifications.

The worker is normally started by the host with its stdin and stdout piped:

	srv, err := worker.NewServer(transport.Stdio(), elvish.New())
	if err != nil {
		// log and exit 1
	}
	srv.Run(ctx)

A Listener serves the same protocol over WebSocket for workers that run somewhere else, one session at a time.
*/
package worker
