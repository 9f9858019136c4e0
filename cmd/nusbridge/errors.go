package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/srg/nusbridge/internal/device"
	"github.com/srg/nusbridge/internal/lifecycle"
	"github.com/srg/nusbridge/internal/relay"
	"github.com/srg/nusbridge/internal/serialio"
	"github.com/srg/nusbridge/pkg/config"
)

// Process exit codes
const (
	ExitOK               = 0
	ExitGeneric          = 1
	ExitDiscoveryTimeout = 2
	ExitConnectFailed    = 3
	ExitOpenFailed       = 4
	ExitRelayIO          = 5
	ExitUsage            = 64
)

// usageError marks err as a command line or configuration problem
func usageError(err error) error {
	if errors.Is(err, config.ErrInvalidConfig) {
		return err
	}
	return fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
}

// ExitCode maps a session or command error to the process exit status.
func ExitCode(err error) int {
	var ioErr *relay.RelayIOError
	switch {
	case err == nil, lifecycle.IsCleanStop(err):
		return ExitOK
	case errors.Is(err, config.ErrInvalidConfig):
		return ExitUsage
	case errors.Is(err, lifecycle.ErrDiscoveryTimeout):
		return ExitDiscoveryTimeout
	case errors.Is(err, lifecycle.ErrConnectFailed):
		return ExitConnectFailed
	case errors.Is(err, lifecycle.ErrOpenFailed):
		return ExitOpenFailed
	case errors.As(err, &ioErr):
		return ExitRelayIO
	default:
		return ExitGeneric
	}
}

// FormatUserError renders err for the terminal, adding remediation hints where one exists.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var openErr *serialio.OpenError
	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off or unavailable. Please turn on Bluetooth and try again."
	case errors.As(err, &openErr):
		return openErr.Error() + "\n" + openErr.Remediation()
	case errors.Is(err, lifecycle.ErrDiscoveryTimeout):
		return err.Error() + "\nMake sure the device is powered, advertising and not connected to another central."
	case errors.Is(err, config.ErrInvalidConfig):
		msg := strings.TrimPrefix(err.Error(), config.ErrInvalidConfig.Error()+": ")
		return msg + "\nRun 'nusbridge --help' for usage."
	default:
		return err.Error()
	}
}
