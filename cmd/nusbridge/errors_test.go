package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/srg/nusbridge/internal/connection"
	"github.com/srg/nusbridge/internal/device"
	"github.com/srg/nusbridge/internal/discovery"
	"github.com/srg/nusbridge/internal/lifecycle"
	"github.com/srg/nusbridge/internal/relay"
	"github.com/srg/nusbridge/internal/serialio"
	"github.com/srg/nusbridge/pkg/config"
	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"remote disconnect", lifecycle.ErrRemoteDisconnected, ExitOK},
		{"end of stream", relay.ErrEndOfStream, ExitOK},
		{"interrupt", lifecycle.ErrInterrupted, ExitOK},
		{"cancelled", context.Canceled, ExitOK},
		{"discovery timeout", fmt.Errorf("%w (1m0s)", discovery.ErrDiscoveryTimeout), ExitDiscoveryTimeout},
		{"connect failed", fmt.Errorf("%w: %w", connection.ErrConnectFailed, device.ErrNotConnected), ExitConnectFailed},
		{"open failed", &serialio.OpenError{Path: "/dev/ttyUSB0", Err: errors.New("permission denied")}, ExitOpenFailed},
		{"relay I/O", &relay.RelayIOError{Direction: relay.Outbound, Err: errors.New("eio")}, ExitRelayIO},
		{"usage", usageError(errors.New("unknown flag: --baud")), ExitUsage},
		{"invalid config", fmt.Errorf("%w: bad", config.ErrInvalidConfig), ExitUsage},
		{"generic", device.ErrBluetoothOff, ExitGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestFormatUserError(t *testing.T) {
	t.Run("open failure carries remediation", func(t *testing.T) {
		msg := FormatUserError(&serialio.OpenError{Path: "/dev/ttyUSB0", Err: errors.New("no such file or directory")})
		assert.Contains(t, msg, "/dev/ttyUSB0")
		assert.Contains(t, msg, "socat -d -d pty,raw,echo=0 pty,raw,echo=0", "remediation MUST name the socat command")
		assert.Contains(t, msg, "--pty")
	})

	t.Run("bluetooth off", func(t *testing.T) {
		msg := FormatUserError(fmt.Errorf("scan failed: %w", device.ErrBluetoothOff))
		assert.Contains(t, msg, "turn on Bluetooth")
	})

	t.Run("usage strips the sentinel prefix", func(t *testing.T) {
		msg := FormatUserError(usageError(errors.New("either --port or --pty is required")))
		assert.Equal(t, "either --port or --pty is required\nRun 'nusbridge --help' for usage.", msg)
	})

	t.Run("usage is not wrapped twice", func(t *testing.T) {
		err := usageError(usageError(errors.New("x")))
		assert.Equal(t, config.ErrInvalidConfig.Error()+": x", err.Error())
	})

	t.Run("plain", func(t *testing.T) {
		assert.Equal(t, "boom", FormatUserError(errors.New("boom")))
		assert.Empty(t, FormatUserError(nil))
	})
}
