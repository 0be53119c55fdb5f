// Package term implements the terminal session engine.
//
// A Session owns one pty-backed child process and presents a buffered,
// non-blocking terminal abstraction over it:
//
//   - Start spawns the configured shell under a fresh pty device
//   - Write delivers input in full, retrying partial writes internally
//   - Poll performs one non-blocking read into the bounded output buffer
//   - Read drains buffered output first, then tops up with a live read
//   - Resize adjusts geometry (pending while idle, immediate while running)
//   - Stop terminates the child with a bounded grace period and reaps it
//
// Sessions never spawn goroutines of their own; an external loop (the
// WebSocket pump, an HTTP poller, a host timer) drives Poll and Read.
// All calls return immediately. For all that, a Session is not meant for
// concurrent callers: an internal mutex keeps individual calls coherent,
// but interleaving semantics are the caller's responsibility, one owner
// per Session.
//
// Manager tracks multiple fully-independent Sessions keyed by ULID.
package term
