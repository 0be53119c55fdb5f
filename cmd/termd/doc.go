// Command termd exposes pty-backed terminal sessions over HTTP and
// WebSocket.
//
// A session is one shell under a pseudo-terminal: create it with
// POST /terminals, feed it input, drain its output, resize it, and stop
// it, or attach to /terminals/:id/stream for a live byte stream.
// Configuration comes from the environment (see internal/config), with
// -host/-port flag overrides.
package main
