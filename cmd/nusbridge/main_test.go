package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/nusbridge/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type CommandTestSuite struct {
	suite.Suite
}

// execute runs a fresh command tree and returns the error Execute produced
func (s *CommandTestSuite) execute(args ...string) error {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	return cmd.Execute()
}

func (s *CommandTestSuite) TestUsageErrors() {
	// GOAL: Verify command line mistakes exit with the usage status before touching BLE
	//
	// TEST SCENARIO: table of invalid invocations → ExitUsage

	tests := []struct {
		name string
		args []string
	}{
		{"no endpoint", nil},
		{"port and pty", []string{"--port", "/dev/ttyUSB0", "--pty"}},
		{"symlink without pty", []string{"--port", "/dev/ttyUSB0", "--symlink", "/tmp/x"}},
		{"unknown flag", []string{"--baud", "9600"}},
		{"positional argument", []string{"--pty", "AA:BB:CC:DD:EE:FF"}},
		{"bad chunk size", []string{"--pty", "--chunk-size", "0"}},
		{"unknown stack", []string{"--pty", "--stack", "bluez"}},
		{"bad log level", []string{"--pty", "--log-level", "loud"}},
		{"missing config file", []string{"--config", "/nonexistent/bridge.yaml"}},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			err := s.execute(tt.args...)
			s.Require().Error(err)
			s.Equal(ExitUsage, ExitCode(err), "invocation %v MUST be a usage error: %v", tt.args, err)
		})
	}
}

func (s *CommandTestSuite) TestLoadConfigPrecedence() {
	// GOAL: Verify explicit flags override the config file, which overrides defaults
	//
	// TEST SCENARIO: file sets name/pty/scan timeout, flag sets scan timeout → flag wins, others from file

	path := filepath.Join(s.T().TempDir(), "bridge.yaml")
	s.Require().NoError(os.WriteFile(path, []byte("name: \"Sensor \"\npty: true\nscan_timeout: 10s\nchunk_size: 100\n"), 0o600))

	cmd := newRootCmd()
	s.Require().NoError(cmd.ParseFlags([]string{"--config", path, "--scan-timeout", "3s"}))

	cfg, err := loadConfig(cmd)
	s.Require().NoError(err)
	s.Equal("Sensor ", cfg.Name)
	s.True(cfg.PTY)
	s.Equal(3*time.Second, cfg.ScanTimeout, "flag MUST override file")
	s.Equal(100, cfg.ChunkSize, "file MUST override default")
	s.Equal(115200, cfg.BaudRate, "default MUST apply when neither sets it")
}

func (s *CommandTestSuite) TestVersion() {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--version"})
	s.Require().NoError(cmd.Execute())
	s.Contains(out.String(), "dev")
}

func TestCommandTestSuite(t *testing.T) {
	suite.Run(t, new(CommandTestSuite))
}

func TestConfigureLogger(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		configured string
		want       logrus.Level
		wantErr    bool
	}{
		{name: "configured level", configured: "info", want: logrus.InfoLevel},
		{name: "configured warn", configured: "warn", want: logrus.WarnLevel},
		{name: "verbose", args: []string{"--verbose"}, configured: "info", want: logrus.DebugLevel},
		{name: "log-level wins over verbose", args: []string{"--verbose", "--log-level", "error"}, configured: "info", want: logrus.ErrorLevel},
		{name: "trace accepted like the config file", args: []string{"--log-level", "trace"}, configured: "info", want: logrus.TraceLevel},
		{name: "warning alias", args: []string{"--log-level", "warning"}, configured: "info", want: logrus.WarnLevel},
		{name: "invalid", args: []string{"--log-level", "trace2"}, configured: "info", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{}
			cmd.Flags().String("log-level", "", "")
			cmd.Flags().Bool("verbose", false, "")
			require.NoError(t, cmd.ParseFlags(tt.args))

			cfg := config.DefaultConfig()
			cfg.LogLevel = tt.configured

			logger, err := configureLogger(cmd, cfg)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, ExitUsage, ExitCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, logger.GetLevel())
			assert.Equal(t, tt.want, cfg.Level(), "flags MUST be applied to the config the logger is built from")
		})
	}
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}

func TestProgressPrinter(t *testing.T) {
	var out bytes.Buffer
	p := NewProgressPrinter(&out, "Looking for \"Posture \"", "Scanning", 3*time.Second, "Streaming")
	p.Start()

	cb := p.Callback()
	cb("Connecting")
	cb("Streaming") // stop phase
	p.Stop()        // second stop is a no-op

	s := out.String()
	assert.Contains(t, s, "Looking for \"Posture \" (Scanning")
	assert.Contains(t, s, "3s", "countdown MUST start from the scan timeout")
	assert.True(t, bytes.HasSuffix(out.Bytes(), []byte(clearLineSequence)), "Stop MUST clear the line")
}
