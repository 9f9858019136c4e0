package serialio

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// Open opens a serial device in raw mode at the configured speed with RTS/CTS
// hardware flow control, and asserts DTR and RTS. Failures are *OpenError.
func Open(path string, opts *Options) (*FilePort, error) {
	o := opts.withDefaults()

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}
	file := os.NewFile(uintptr(fd), path)

	if err := configureLine(fd, o.BaudRate, o.Logger); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			o.Logger.WithField("error", closeErr).Warn("Failed to close serial device after configuration failure")
		}
		return nil, &OpenError{Path: path, Err: err}
	}

	o.Logger.WithFields(logrus.Fields{
		"port": path,
		"baud": o.BaudRate,
	}).Info("Serial port opened")

	return &FilePort{
		logger:        o.Logger,
		file:          file,
		fd:            fd,
		name:          path,
		pollTimeoutMs: o.PollTimeoutMs,
	}, nil
}

// configureLine applies raw mode, 8N1, line speed, CRTSCTS and the DTR/RTS modem lines.
func configureLine(fd int, baud int, logger *logrus.Logger) error {
	if _, err := term.MakeRaw(fd); err != nil {
		return fmt.Errorf("failed to set raw mode: %w", err)
	}

	t, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		return fmt.Errorf("failed to read termios: %w", err)
	}

	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | unix.CRTSCTS
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
	if err := setSpeed(t, baud); err != nil {
		return err
	}

	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, t); err != nil {
		return fmt.Errorf("failed to write termios: %w", err)
	}

	// Pseudo-terminals reject modem control ioctls
	if err := unix.IoctlSetPointerInt(fd, unix.TIOCMBIS, unix.TIOCM_DTR|unix.TIOCM_RTS); err != nil {
		logger.WithField("error", err).Debug("Could not assert DTR/RTS (not a hardware serial port?)")
	}
	return nil
}
