// Package pty provides the OS-level pseudo-terminal device behind a
// terminal session.
//
// A Device owns one master/slave pty pair. The master side is configured
// non-blocking: Read and Write never suspend the caller and report
// ErrWouldBlock when the kernel has no data (or no room) right now, which
// callers must treat as a normal transient condition rather than a failure.
// Once the slave side is gone the master reports ErrClosed, distinguishing
// "no data yet" from "peer went away".
//
// The slave side exists for exactly one purpose: attaching a child process
// via AttachCommand, after which the parent drops its slave handle with
// CloseSlave and keeps only the master.
package pty
