package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/nusbridge/internal/connection"
	"github.com/srg/nusbridge/internal/devicefactory"
	"github.com/srg/nusbridge/internal/discovery"
	"github.com/srg/nusbridge/internal/lifecycle"
	"github.com/srg/nusbridge/internal/serialio"
	"github.com/srg/nusbridge/pkg/config"
	"golang.org/x/term"
)

func addBridgeFlags(cmd *cobra.Command) {
	d := config.DefaultConfig()
	f := cmd.Flags()
	f.String("config", "", "YAML configuration file; flags override its values")
	f.String("name", d.Name, "Advertised local name to connect to (exact match, whitespace is significant)")
	f.String("port", "", "Serial device to bridge (e.g., /dev/ttyUSB0)")
	f.Bool("pty", false, "Create a pseudo-terminal instead of opening --port")
	f.String("symlink", "", "Create a symlink to the PTY slave (e.g., /tmp/posture); requires --pty")
	f.Int("baud-rate", d.BaudRate, "Serial line speed for --port")
	f.Int("chunk-size", d.ChunkSize, "Maximum bytes per BLE write")
	f.Duration("scan-timeout", d.ScanTimeout, "Give up if the device is not found within this time")
	f.Duration("connect-timeout", d.ConnectTimeout, "Connection timeout")
	f.Duration("settle-delay", d.SettleDelay, "Pause after the provisioning command before relaying")
	f.String("stack", d.Stack, fmt.Sprintf("BLE stack (%s)", strings.Join(devicefactory.Stacks(), ", ")))
}

// loadConfig merges defaults, the optional config file and explicitly set flags, in that order.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	f := cmd.Flags()

	if path, _ := f.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if f.Changed("name") {
		cfg.Name, _ = f.GetString("name")
	}
	if f.Changed("port") {
		cfg.Port, _ = f.GetString("port")
	}
	if f.Changed("pty") {
		cfg.PTY, _ = f.GetBool("pty")
	}
	if f.Changed("symlink") {
		cfg.Symlink, _ = f.GetString("symlink")
	}
	if f.Changed("baud-rate") {
		cfg.BaudRate, _ = f.GetInt("baud-rate")
	}
	if f.Changed("chunk-size") {
		cfg.ChunkSize, _ = f.GetInt("chunk-size")
	}
	if f.Changed("scan-timeout") {
		cfg.ScanTimeout, _ = f.GetDuration("scan-timeout")
	}
	if f.Changed("connect-timeout") {
		cfg.ConnectTimeout, _ = f.GetDuration("connect-timeout")
	}
	if f.Changed("settle-delay") {
		cfg.SettleDelay, _ = f.GetDuration("settle-delay")
	}
	if f.Changed("stack") {
		cfg.Stack, _ = f.GetString("stack")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// endpointOpener returns the opener for the configured local endpoint.
func endpointOpener(cfg *config.Config, logger *logrus.Logger) lifecycle.EndpointOpener {
	return func() (serialio.Port, error) {
		opts := &serialio.Options{BaudRate: cfg.BaudRate, Logger: logger}
		if cfg.PTY {
			p, err := serialio.OpenPTY(cfg.Symlink, opts)
			if err != nil {
				return nil, err
			}
			return p, nil
		}
		p, err := serialio.Open(cfg.Port, opts)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

func runBridge(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Configure logger based on --log-level and --verbose flags
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	central, err := devicefactory.NewCentral(cfg.Stack, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize BLE stack %s: %w", cfg.Stack, err)
	}

	// Create context for graceful shutdown
	ctx, stop := lifecycle.NotifyInterrupt(context.Background())
	defer stop()

	connectOpts := connection.DefaultConnectOptions()
	connectOpts.ConnectTimeout = cfg.ConnectTimeout
	connectOpts.SettleDelay = cfg.SettleDelay

	opener := endpointOpener(cfg, logger)
	var portName string

	progress := func(string) {}
	if term.IsTerminal(int(os.Stdout.Fd())) {
		printer := NewProgressPrinter(os.Stdout, fmt.Sprintf("Looking for %q", cfg.Name), "Scanning", cfg.ScanTimeout, "Streaming")
		printer.Start()
		defer printer.Stop()
		progress = printer.Callback()
	}

	coordinator, err := lifecycle.New(lifecycle.Options{
		Central:     central,
		Filter:      discovery.NameEquals(cfg.Name),
		ScanTimeout: cfg.ScanTimeout,
		OpenEndpoint: func() (serialio.Port, error) {
			p, err := opener()
			if err == nil {
				portName = p.Name()
			}
			return p, err
		},
		Connect:   connectOpts,
		ChunkSize: cfg.ChunkSize,
		Logger:    logger,
		Progress: func(phase string) {
			progress(phase)
			if phase == "Streaming" {
				color.New(color.FgGreen).Fprintf(os.Stdout, "Bridge running on %s (Ctrl+C to stop)\n", portName)
			}
		},
	})
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"session": coordinator.SessionID(),
		"name":    cfg.Name,
		"stack":   cfg.Stack,
	}).Debug("Starting bridge")

	return coordinator.Run(ctx)
}
