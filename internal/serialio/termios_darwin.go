//go:build darwin

package serialio

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const (
	ioctlGetTermios = unix.TIOCGETA
	ioctlSetTermios = unix.TIOCSETA
)

// BSD termios carries the literal line speed.
func setSpeed(t *unix.Termios, baud int) error {
	if baud <= 0 {
		return fmt.Errorf("unsupported baud rate %d", baud)
	}
	t.Ispeed = uint64(baud)
	t.Ospeed = uint64(baud)
	return nil
}
