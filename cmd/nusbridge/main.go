package main

import (
	"fmt"
	"os"
	"unicode"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// newRootCmd builds the command tree. Tests build a fresh tree per case.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nusbridge",
		Short: "Bridge a BLE Nordic UART Service peripheral to a serial port",
		Long: `Scans for a BLE peripheral by advertised name, connects to its Nordic UART
Service and relays raw bytes between the peripheral and a local serial device or
pseudo-terminal until either side goes away.

The local endpoint is either an existing serial device (--port), opened at the
configured baud rate with RTS/CTS flow control, or a pseudo-terminal created by
the bridge (--pty) whose slave can be exposed under a stable path (--symlink).

Examples:
  nusbridge --pty --symlink /tmp/posture
  nusbridge --port /dev/ttyUSB0 --name "Posture "
  nusbridge --config bridge.yaml --log-level debug`,
		Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.NoArgs(cmd, args); err != nil {
				return usageError(err)
			}
			return nil
		},
		RunE: runBridge,
	}

	// Silence Cobra's "Error:" prefix - main() prints clean errors
	cmd.SilenceErrors = true
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	addBridgeFlags(cmd)

	// Global flags
	cmd.PersistentFlags().String("log-level", "", "Log level (trace, debug, info, warn, error)")
	cmd.PersistentFlags().Bool("verbose", false, "Enable debug logging (same as --log-level debug)")

	// Add -v as a short flag for --version
	cmd.Flags().BoolP("version", "v", false, "Show version information")

	return cmd
}

func main() {
	err := newRootCmd().Execute()
	if code := ExitCode(err); code != ExitOK {
		// Print user-friendly error message
		color.New(color.FgRed).Fprint(os.Stderr, "ERROR: ")
		fmt.Fprintln(os.Stderr, FormatUserError(err))
		os.Exit(code)
	}
}
