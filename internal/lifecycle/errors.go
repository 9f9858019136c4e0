package lifecycle

import (
	"context"
	"errors"

	"github.com/srg/nusbridge/internal/connection"
	"github.com/srg/nusbridge/internal/discovery"
	"github.com/srg/nusbridge/internal/relay"
	"github.com/srg/nusbridge/internal/serialio"
)

var (
	// ErrRemoteDisconnected is the cause recorded when the peripheral drops the link.
	ErrRemoteDisconnected = errors.New("remote device disconnected")

	// ErrInterrupted is the cause recorded for an operator signal.
	ErrInterrupted = errors.New("interrupted")
)

// Terminal causes produced by the components a session runs.
var (
	ErrDiscoveryTimeout = discovery.ErrDiscoveryTimeout
	ErrConnectFailed    = connection.ErrConnectFailed
	ErrOpenFailed       = serialio.ErrOpenFailed
	ErrEndOfStream      = relay.ErrEndOfStream
)

// IsCleanStop reports whether cause ends a session without error:
// remote disconnect, local end of stream or operator interrupt.
func IsCleanStop(cause error) bool {
	return cause == nil ||
		errors.Is(cause, ErrRemoteDisconnected) ||
		errors.Is(cause, ErrEndOfStream) ||
		errors.Is(cause, ErrInterrupted) ||
		errors.Is(cause, context.Canceled)
}
