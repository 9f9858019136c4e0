// Package serialio provides the local byte-stream endpoints of the bridge:
// a serial device configured through termios, or a pseudo-terminal pair created
// with github.com/creack/pty.
//
// Both endpoints wrap a non-blocking file descriptor. Reads and writes wait for
// readiness with poll(2) in short slices and recheck the caller's context
// between slices, so a blocked ReadContext returns promptly once the context is
// cancelled.
//
// # Poll Timeout Tuning
//
// The poll timeout bounds how long ReadContext/WriteContext wait before
// rechecking the context. It is the shutdown latency of the relay flows.
//
//	Interactive use (default): PollTimeoutMs 50
//	Low latency shutdown:      PollTimeoutMs 10-25
package serialio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	// DefaultPollTimeoutMs is the default poll timeout in milliseconds for I/O operations.
	DefaultPollTimeoutMs = 50

	// DefaultBaudRate matches the firmware UART console speed.
	DefaultBaudRate = 115200
)

// Port is a full-duplex local byte stream with context-aware I/O.
type Port interface {
	// ReadContext blocks until at least one byte is available, the stream ends (io.EOF)
	// or ctx is done (ctx.Err()).
	ReadContext(ctx context.Context, p []byte) (int, error)

	// WriteContext writes all of p unless an error occurs or ctx is done.
	WriteContext(ctx context.Context, p []byte) (int, error)

	// Name is the path a peer program opens to talk to the bridge.
	Name() string

	Close() error
}

// Options configures endpoint creation. Zero values use defaults.
type Options struct {
	BaudRate      int            // Serial line speed (0 = DefaultBaudRate); ignored for PTYs
	Logger        *logrus.Logger // Optional logger (nil = no-op logger)
	PollTimeoutMs int            // Poll timeout in milliseconds (0 = DefaultPollTimeoutMs)
}

// noopLogger is a shared logger instance that discards all output.
var noopLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

func (o *Options) withDefaults() Options {
	var out Options
	if o != nil {
		out = *o
	}
	if out.BaudRate == 0 {
		out.BaudRate = DefaultBaudRate
	}
	if out.Logger == nil {
		out.Logger = noopLogger
	}
	if out.PollTimeoutMs == 0 {
		out.PollTimeoutMs = DefaultPollTimeoutMs
	}
	return out
}

// FilePort implements Port over a non-blocking file descriptor.
type FilePort struct {
	logger        *logrus.Logger
	file          *os.File // owns fd
	peer          *os.File // PTY slave kept open for the port lifetime, nil for serial devices
	fd            int
	name          string
	symlink       string
	pollTimeoutMs int
	hangupIsEOF   bool // EIO on a PTY master means the slave side hung up

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool
}

// Name returns the device path (serial) or the slave path / symlink (PTY).
func (p *FilePort) Name() string {
	if p.symlink != "" {
		return p.symlink
	}
	return p.name
}

// ReadContext reads up to len(b) bytes.
//
// Return values:
//   - (n, nil) where n > 0: bytes read
//   - (0, io.EOF): the stream ended (zero-byte read or hangup)
//   - (0, ctx.Err()): the context is done
//   - (0, os.ErrClosed): the port has been closed
func (p *FilePort) ReadContext(ctx context.Context, b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	pollFd := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLIN}}

	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if p.closed.Load() {
			return 0, os.ErrClosed
		}

		nReady, err := unix.Poll(pollFd, p.pollTimeoutMs)
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return 0, fmt.Errorf("poll %s: %w", p.name, err)
		}
		if nReady == 0 {
			continue // timeout, check context
		}

		n, err := unix.Read(p.fd, b)
		if n > 0 {
			return n, nil
		}
		switch {
		case err == nil:
			// zero-byte read: end of stream
			return 0, io.EOF
		case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR):
			continue
		case errors.Is(err, syscall.EBADF):
			return 0, os.ErrClosed
		case errors.Is(err, syscall.EIO) && p.hangupIsEOF:
			p.logger.Debug("PTY peer hung up")
			return 0, io.EOF
		default:
			return 0, fmt.Errorf("read %s: %w", p.name, err)
		}
	}
}

// WriteContext writes all of b, waiting for the descriptor to drain as needed.
func (p *FilePort) WriteContext(ctx context.Context, b []byte) (int, error) {
	pollFd := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLOUT}}
	written := 0

	for written < len(b) {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if p.closed.Load() {
			return written, os.ErrClosed
		}

		n, err := unix.Write(p.fd, b[written:])
		if n > 0 {
			written += n
		}
		if err == nil {
			continue
		}
		switch {
		case errors.Is(err, syscall.EINTR):
			continue
		case errors.Is(err, syscall.EAGAIN):
			// Wait until writable again
			if _, pollErr := unix.Poll(pollFd, p.pollTimeoutMs); pollErr != nil && !errors.Is(pollErr, syscall.EINTR) {
				return written, fmt.Errorf("poll %s: %w", p.name, pollErr)
			}
		case errors.Is(err, syscall.EBADF):
			return written, os.ErrClosed
		default:
			return written, fmt.Errorf("write %s: %w", p.name, err)
		}
	}
	return written, nil
}

// Close releases the descriptors and removes the PTY symlink. Safe to call more than once.
func (p *FilePort) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)

		var errs []error
		if err := p.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", p.name, err))
		}
		if p.peer != nil {
			if err := p.peer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close PTY(tty): %w", err))
			}
		}
		if p.symlink != "" {
			if err := os.Remove(p.symlink); err != nil && !os.IsNotExist(err) {
				errs = append(errs, fmt.Errorf("remove symlink %s: %w", p.symlink, err))
			}
		}
		p.closeErr = errors.Join(errs...)
		p.logger.WithField("port", p.Name()).Debug("Local endpoint closed")
	})
	return p.closeErr
}
