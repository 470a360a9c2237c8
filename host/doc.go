// Package host is the controlling side of the bridge. It spawns or dials a worker, sends it one command line at a
// time, and renders the log notifications the worker sends back.
package host
