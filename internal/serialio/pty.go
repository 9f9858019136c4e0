package serialio

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// OpenPTY creates a pseudo-terminal pair and returns a port over its master.
// Peer programs open the slave path (Name). When symlink is set, a symbolic link
// to the slave is created there and removed on Close; an existing symlink is replaced,
// any other existing file is an error.
func OpenPTY(symlink string, opts *Options) (*FilePort, error) {
	o := opts.withDefaults()

	master, slave, masterFd, err := createPTY()
	if err != nil {
		return nil, &OpenError{Path: symlink, Err: err}
	}

	if symlink != "" {
		if err := replaceSymlink(slave.Name(), symlink); err != nil {
			closePair(master, slave, o.Logger)
			return nil, &OpenError{Path: symlink, Err: err}
		}
	}

	o.Logger.WithFields(logrus.Fields{
		"tty":     slave.Name(),
		"symlink": symlink,
	}).Info("PTY created")

	// Keep the slave open for the port lifetime so the device node stays valid
	// while peers come and go.
	return &FilePort{
		logger:        o.Logger,
		file:          master,
		peer:          slave,
		fd:            masterFd,
		name:          slave.Name(),
		symlink:       symlink,
		pollTimeoutMs: o.PollTimeoutMs,
		hangupIsEOF:   true,
	}, nil
}

// createPTY creates a pseudo-terminal and configures it for raw mode.
// The returned descriptor is the non-blocking master fd; File.Fd must not be called
// on master again since it would switch the descriptor back to blocking mode.
func createPTY() (master *os.File, slave *os.File, masterFd int, err error) {
	master, slave, err = pty.Open()
	if err != nil {
		return nil, nil, -1, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}

	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		ptyPath := slave.Name()
		closePair(master, slave, nil)
		return nil, nil, -1, fmt.Errorf("failed to set PTY(tty) %s to raw mode: %w", ptyPath, err)
	}

	// Fd() switches the file to blocking mode; flip the descriptor back for poll-driven I/O.
	masterFd = int(master.Fd())
	if err := syscall.SetNonblock(masterFd, true); err != nil {
		ptyPath := slave.Name()
		closePair(master, slave, nil)
		return nil, nil, -1, fmt.Errorf("failed to set PTY(ptyx) %s to nonblocking mode: %w", ptyPath, err)
	}

	return master, slave, masterFd, nil
}

func closePair(master, slave *os.File, logger *logrus.Logger) {
	if logger == nil {
		logger = noopLogger
	}
	if err := master.Close(); err != nil {
		logger.Warnf("failed to close PTY(ptyx): %v", err)
	}
	if err := slave.Close(); err != nil {
		logger.Warnf("failed to close PTY(tty): %v", err)
	}
}

func replaceSymlink(target, link string) error {
	fi, err := os.Lstat(link)
	switch {
	case err == nil && fi.Mode()&os.ModeSymlink == 0:
		return fmt.Errorf("%s exists and is not a symlink", link)
	case err == nil:
		if err := os.Remove(link); err != nil {
			return fmt.Errorf("failed to remove stale symlink: %w", err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return err
	}
	return os.Symlink(target, link)
}
