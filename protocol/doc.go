/*
Package protocol defines the messages exchanged between a host process and a command-execution worker over the worker's standard input and output.

Messages are JSON-RPC 2.0 framed with Content-Length headers. Only two methods exist:

 1. "invoke" is a request sent host->worker carrying one command line. The worker replies once the line has finished executing.
 2. "logMessage" is a notification sent worker->host carrying a severity and a message. It never gets a reply.

Notifications can arrive before, during, or after the reply to the invoke that produced them, but they always arrive in the order the worker sent them.

A failed command is not a failed invoke. Errors raised by the engine are reported as "logMessage" notifications at Error severity and the invoke still succeeds. An invoke only fails when the transport fails, or when execution never started.

There are two profiles. The structured profile sends {level, message} notifications, merges the engine's error stream into its output, and appends an explicit output stage. The simple profile sends a single string parameter, uses the engine's default output stage, and only logs engine errors on the worker side.
*/
package protocol
