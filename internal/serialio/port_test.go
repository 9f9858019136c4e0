package serialio_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/srg/nusbridge/internal/serialio"
	"github.com/srg/nusbridge/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type PortTestSuite struct {
	suite.Suite
	helper *testutils.TestHelper
}

func (s *PortTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
}

func (s *PortTestSuite) options() *serialio.Options {
	return &serialio.Options{Logger: s.helper.Logger, PollTimeoutMs: 10}
}

// readFull reads exactly n bytes from the port or fails after timeout.
func (s *PortTestSuite) readFull(port serialio.Port, n int, timeout time.Duration) []byte {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out := make([]byte, 0, n)
	buf := make([]byte, 64)
	for len(out) < n {
		k, err := port.ReadContext(ctx, buf)
		s.Require().NoError(err, "ReadContext MUST deliver pending bytes")
		out = append(out, buf[:k]...)
	}
	return out
}

// readPeer reads n bytes from a plain file in a goroutine, bounded by timeout.
func (s *PortTestSuite) readPeer(f *os.File, n int, timeout time.Duration) []byte {
	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		buf := make([]byte, n)
		_, err := io.ReadFull(f, buf)
		done <- result{buf, err}
	}()

	select {
	case r := <-done:
		s.Require().NoError(r.err, "peer read MUST succeed")
		return r.data
	case <-time.After(timeout):
		s.FailNow("peer read timed out")
		return nil
	}
}

func (s *PortTestSuite) TestPTYEndpoint() {
	// GOAL: Verify the self-created PTY relays bytes in both directions without alteration
	//
	// TEST SCENARIO: OpenPTY → peer opens slave path → bytes flow both ways → Close removes symlink

	link := filepath.Join(s.T().TempDir(), "ttyNUS")
	port, err := serialio.OpenPTY(link, s.options())
	s.Require().NoError(err, "OpenPTY MUST succeed")
	defer port.Close()

	s.Equal(link, port.Name(), "Name MUST report the symlink when one is requested")
	target, err := os.Readlink(link)
	s.Require().NoError(err, "symlink MUST exist while the port is open")

	peer, err := os.OpenFile(target, os.O_RDWR|syscall.O_NOCTTY, 0)
	s.Require().NoError(err, "peer MUST open the slave device")
	defer peer.Close()

	s.Run("peer to port", func() {
		payload := []byte{0x00, 'A', 'B', 0xff, '\r', '\n'}
		_, err := peer.Write(payload)
		s.Require().NoError(err)

		s.Equal(payload, s.readFull(port, len(payload), 2*time.Second), "bytes MUST arrive unmodified (raw mode)")
	})

	s.Run("port to peer", func() {
		payload := []byte("log backend\r\n\x03")
		n, err := port.WriteContext(context.Background(), payload)
		s.Require().NoError(err)
		s.Equal(len(payload), n, "WriteContext MUST write the whole buffer")

		s.Equal(payload, s.readPeer(peer, len(payload), 2*time.Second), "peer MUST receive the exact bytes")
	})

	s.Require().NoError(port.Close(), "Close MUST succeed")
	s.NoError(port.Close(), "second Close MUST be a no-op")

	_, err = os.Lstat(link)
	s.True(errors.Is(err, os.ErrNotExist), "symlink MUST be removed on Close")
}

func (s *PortTestSuite) TestReadContextCancellation() {
	// GOAL: Verify a blocked read observes context cancellation
	//
	// TEST SCENARIO: no data pending → ReadContext with short deadline → returns context error promptly

	port, err := serialio.OpenPTY("", s.options())
	s.Require().NoError(err)
	defer port.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	n, err := port.ReadContext(ctx, make([]byte, 16))

	s.Zero(n, "no bytes MUST be reported")
	s.ErrorIs(err, context.DeadlineExceeded, "ReadContext MUST return the context error")
	s.Less(time.Since(start), time.Second, "ReadContext MUST return within a few poll slices")
}

func (s *PortTestSuite) TestReadAfterClose() {
	// GOAL: Verify I/O on a closed port fails with os.ErrClosed
	//
	// TEST SCENARIO: OpenPTY → Close → ReadContext/WriteContext → os.ErrClosed

	port, err := serialio.OpenPTY("", s.options())
	s.Require().NoError(err)
	s.Require().NoError(port.Close())

	_, err = port.ReadContext(context.Background(), make([]byte, 4))
	s.ErrorIs(err, os.ErrClosed, "ReadContext MUST fail after Close")

	_, err = port.WriteContext(context.Background(), []byte("x"))
	s.ErrorIs(err, os.ErrClosed, "WriteContext MUST fail after Close")
}

func (s *PortTestSuite) TestOpenTTYDevice() {
	// GOAL: Verify Open configures a terminal device and relays bytes
	//
	// TEST SCENARIO: creack/pty pair → Open(slave) as serial device → master writes → port reads

	master, slave, err := pty.Open()
	s.Require().NoError(err)
	defer master.Close()
	defer slave.Close()

	port, err := serialio.Open(slave.Name(), s.options())
	s.Require().NoError(err, "Open MUST accept a terminal device (modem line errors are not fatal)")
	defer port.Close()

	s.Equal(slave.Name(), port.Name())

	_, err = master.Write([]byte("AB"))
	s.Require().NoError(err)
	s.Equal([]byte("AB"), s.readFull(port, 2, 2*time.Second))
}

func (s *PortTestSuite) TestOpenFailures() {
	// GOAL: Verify open failures carry the ErrOpenFailed classification and remediation
	//
	// TEST SCENARIO: missing device path / unsupported baud / non-symlink at link path → *OpenError

	s.Run("missing device", func() {
		_, err := serialio.Open("/dev/does-not-exist-nusbridge", s.options())

		var openErr *serialio.OpenError
		s.Require().ErrorAs(err, &openErr, "error MUST be *OpenError")
		s.ErrorIs(err, serialio.ErrOpenFailed, "error MUST match ErrOpenFailed")
		s.ErrorIs(err, os.ErrNotExist, "underlying cause MUST be preserved")
		s.Contains(openErr.Remediation(), "socat -d -d pty,raw,echo=0 pty,raw,echo=0", "remediation MUST name the socat command")
		s.Contains(openErr.Remediation(), "--pty", "remediation MUST mention --pty")
	})

	s.Run("unsupported baud rate", func() {
		master, slave, err := pty.Open()
		s.Require().NoError(err)
		defer master.Close()
		defer slave.Close()

		opts := s.options()
		opts.BaudRate = -1
		_, err = serialio.Open(slave.Name(), opts)
		s.ErrorIs(err, serialio.ErrOpenFailed, "invalid speed MUST fail the open")
	})

	s.Run("link path is a regular file", func() {
		link := filepath.Join(s.T().TempDir(), "occupied")
		s.Require().NoError(os.WriteFile(link, []byte("keep"), 0o600))

		_, err := serialio.OpenPTY(link, s.options())
		s.ErrorIs(err, serialio.ErrOpenFailed, "existing regular file MUST NOT be replaced")

		data, readErr := os.ReadFile(link)
		s.Require().NoError(readErr)
		s.Equal("keep", string(data), "existing file MUST be left intact")
	})
}

func TestPortTestSuite(t *testing.T) {
	suite.Run(t, new(PortTestSuite))
}
