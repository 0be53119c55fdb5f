package pty

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// Error taxonomy for pty operations. Callers match these with errors.Is.
var (
	// ErrWouldBlock reports that a non-blocking read or write could not
	// make progress right now. Not a failure.
	ErrWouldBlock = errors.New("pty: operation would block")

	// ErrClosed reports that the device was released or the slave side
	// has been closed by the child.
	ErrClosed = errors.New("pty: device closed")

	// ErrResourceExhausted reports that the OS pty table is full.
	ErrResourceExhausted = errors.New("pty: no pty devices available")

	// ErrPermissionDenied reports insufficient device permissions.
	ErrPermissionDenied = errors.New("pty: permission denied")

	// ErrInvalidArgument reports rejected geometry (zero rows or columns).
	ErrInvalidArgument = errors.New("pty: invalid argument")
)

// Size describes the terminal geometry in character cells.
type Size struct {
	Cols uint16
	Rows uint16
}

// Device is one master/slave pseudo-terminal pair. The master side is
// non-blocking; all methods return immediately. A Device is not safe for
// concurrent use; the owning session serializes access.
type Device struct {
	master    *os.File
	slave     *os.File
	masterFd  int
	slavePath string
	size      Size
	released  bool
}

// Open allocates a new pty pair from the OS, puts the slave in raw mode,
// switches the master to non-blocking, and applies the initial size.
func Open(size Size) (*Device, error) {
	if size.Cols == 0 || size.Rows == 0 {
		return nil, fmt.Errorf("%w: geometry %dx%d", ErrInvalidArgument, size.Cols, size.Rows)
	}

	master, slave, err := pty.Open()
	if err != nil {
		return nil, mapOpenError(err)
	}

	// Raw mode on the slave so the child sees proper terminal semantics
	// without the line discipline echoing input back to the master.
	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		master.Close()
		slave.Close()
		return nil, fmt.Errorf("pty: set raw mode on %s: %w", slave.Name(), err)
	}

	// Fd() detaches the file from the runtime poller, so with O_NONBLOCK
	// set the master surfaces EAGAIN instead of parking the goroutine.
	masterFd := int(master.Fd())
	if err := unix.SetNonblock(masterFd, true); err != nil {
		master.Close()
		slave.Close()
		return nil, fmt.Errorf("pty: set non-blocking: %w", err)
	}

	d := &Device{
		master:    master,
		slave:     slave,
		masterFd:  masterFd,
		slavePath: slave.Name(),
	}

	if err := d.Resize(size.Cols, size.Rows); err != nil {
		d.Release()
		return nil, err
	}

	return d, nil
}

// Read performs one non-blocking read from the master side. It returns
// ErrWouldBlock when no data is available and ErrClosed once the slave
// side is gone or the device was released.
func (d *Device) Read(p []byte) (int, error) {
	if d.released {
		return 0, ErrClosed
	}

	n, err := d.master.Read(p)
	if err == nil {
		return n, nil
	}

	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK):
		return n, ErrWouldBlock
	case errors.Is(err, unix.EINTR):
		return n, ErrWouldBlock
	case errors.Is(err, io.EOF), errors.Is(err, unix.EIO), errors.Is(err, os.ErrClosed), errors.Is(err, unix.EBADF):
		// Linux reports EIO on the master once every slave fd is closed.
		return n, ErrClosed
	default:
		return n, fmt.Errorf("pty: read: %w", err)
	}
}

// Write performs one non-blocking write to the master side. It may write
// fewer bytes than requested; the caller retries the remainder. When the
// kernel buffer is full it returns ErrWouldBlock.
func (d *Device) Write(p []byte) (int, error) {
	if d.released {
		return 0, ErrClosed
	}

	n, err := d.master.Write(p)
	if err == nil {
		return n, nil
	}

	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK), errors.Is(err, unix.EINTR):
		return n, ErrWouldBlock
	case errors.Is(err, io.ErrClosedPipe), errors.Is(err, unix.EIO), errors.Is(err, os.ErrClosed), errors.Is(err, unix.EBADF):
		return n, ErrClosed
	default:
		return n, fmt.Errorf("pty: write: %w", err)
	}
}

// WaitWritable blocks until the master accepts more data or the timeout
// elapses, returning ErrWouldBlock on timeout. Write retry loops use it to
// avoid spinning.
func (d *Device) WaitWritable(timeout time.Duration) error {
	if d.released {
		return ErrClosed
	}

	fds := []unix.PollFd{{Fd: int32(d.masterFd), Events: unix.POLLOUT}}
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		n, err := unix.Poll(fds, int(remaining.Milliseconds()))
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("pty: poll: %w", err)
		}
		if n == 0 {
			return ErrWouldBlock
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			return ErrClosed
		}
		return nil
	}
}

// Resize updates the kernel-visible window size. The kernel delivers
// SIGWINCH to the child's foreground process group as part of the ioctl,
// including on a resize to the identical size (callers rely on that to
// force a redraw). Zero rows or columns are rejected.
func (d *Device) Resize(cols, rows uint16) error {
	if cols == 0 || rows == 0 {
		return fmt.Errorf("%w: geometry %dx%d", ErrInvalidArgument, cols, rows)
	}
	if d.released {
		return ErrClosed
	}

	if err := pty.Setsize(d.master, &pty.Winsize{Rows: rows, Cols: cols}); err != nil {
		return fmt.Errorf("pty: resize: %w", err)
	}
	d.size = Size{Cols: cols, Rows: rows}
	return nil
}

// Size returns the geometry applied by the last successful Resize.
func (d *Device) Size() Size {
	return d.size
}

// SlavePath returns the filesystem path of the slave device, e.g.
// "/dev/pts/5".
func (d *Device) SlavePath() string {
	return d.slavePath
}

// AttachCommand wires the command's standard streams to the slave side and
// arranges for the slave to become its controlling terminal (new session,
// new process group). Must be called before the command starts.
func (d *Device) AttachCommand(cmd *exec.Cmd) error {
	if d.released || d.slave == nil {
		return ErrClosed
	}

	cmd.Stdin = d.slave
	cmd.Stdout = d.slave
	cmd.Stderr = d.slave

	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setsid = true
	cmd.SysProcAttr.Setctty = true
	return nil
}

// CloseSlave drops the parent's slave handle after the child has started.
// From then on the child holds the only slave reference and its exit makes
// the master report ErrClosed.
func (d *Device) CloseSlave() {
	if d.slave != nil {
		d.slave.Close()
		d.slave = nil
	}
}

// Release closes the device. Idempotent; subsequent reads and writes fail
// with ErrClosed.
func (d *Device) Release() {
	if d.released {
		return
	}
	d.released = true

	if d.master != nil {
		d.master.Close()
		d.master = nil
	}
	d.CloseSlave()
}

// mapOpenError translates pty allocation errnos into the package taxonomy.
func mapOpenError(err error) error {
	switch {
	case errors.Is(err, unix.EMFILE), errors.Is(err, unix.ENFILE), errors.Is(err, unix.EAGAIN), errors.Is(err, unix.ENOSPC):
		return fmt.Errorf("%w: %v", ErrResourceExhausted, err)
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	default:
		return fmt.Errorf("pty: open: %w", err)
	}
}
