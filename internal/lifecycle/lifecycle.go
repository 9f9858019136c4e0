// Package lifecycle runs one bridge session: discover, open the local endpoint,
// connect, relay, and tear everything down on the first terminal event.
//
// A single context.WithCancelCause is the only cancellation authority. Remote
// disconnect, local end of stream, operator interrupt and fatal errors all cancel
// it with their cause; the first cause wins and decides the result of Run.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/nusbridge/internal/connection"
	"github.com/srg/nusbridge/internal/device"
	"github.com/srg/nusbridge/internal/discovery"
	"github.com/srg/nusbridge/internal/groutine"
	"github.com/srg/nusbridge/internal/relay"
	"github.com/srg/nusbridge/internal/serialio"
)

// DefaultScanTimeout bounds discovery when Options.ScanTimeout is zero.
const DefaultScanTimeout = 60 * time.Second

// EndpointOpener opens the local transport endpoint.
type EndpointOpener func() (serialio.Port, error)

// ProgressCallback is called when the session phase changes
type ProgressCallback func(phase string)

// Options wires a Coordinator. Central, Filter and OpenEndpoint are required.
type Options struct {
	Central      device.Central
	Filter       discovery.Filter
	ScanTimeout  time.Duration
	OpenEndpoint EndpointOpener

	// Connect overrides the connection profile and timings (nil = connection.DefaultConnectOptions)
	Connect   *connection.ConnectOptions
	ChunkSize int // Outbound chunk size (0 = relay.DefaultChunkSize)

	Logger    *logrus.Logger
	Progress  ProgressCallback
	SessionID string // Optional; a random UUID is generated when empty
}

// Coordinator runs a single session.
type Coordinator struct {
	opts    Options
	session string
	logger  *logrus.Logger
}

// New validates opts and returns a Coordinator.
func New(opts Options) (*Coordinator, error) {
	if opts.Central == nil {
		return nil, errors.New("lifecycle: BLE central is required")
	}
	if opts.Filter == nil {
		return nil, errors.New("lifecycle: discovery filter is required")
	}
	if opts.OpenEndpoint == nil {
		return nil, errors.New("lifecycle: endpoint opener is required")
	}
	if opts.ScanTimeout == 0 {
		opts.ScanTimeout = DefaultScanTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Progress == nil {
		opts.Progress = func(string) {} // No-op callback
	}
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}

	return &Coordinator{
		opts:    opts,
		session: opts.SessionID,
		logger:  sessionLogger(opts.Logger, opts.SessionID),
	}, nil
}

// SessionID identifies the session in log output
func (c *Coordinator) SessionID() string {
	return c.session
}

// Run executes the session and blocks until it ends. It returns nil for a remote
// disconnect, local end of stream or interrupt (parent cancellation), and the
// terminal error otherwise.
func (c *Coordinator) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	connectOpts := connection.DefaultConnectOptions()
	if c.opts.Connect != nil {
		*connectOpts = *c.opts.Connect
	}
	connectOpts.OnDisconnect = func() { cancel(ErrRemoteDisconnected) }

	mgr := connection.NewManager(c.opts.Central, connectOpts, c.logger)

	var (
		port   serialio.Port
		engine *relay.Engine
	)
	// Teardown order: stop flows, disconnect once, close the endpoint
	defer func() {
		cancel(nil)
		if engine != nil {
			engine.Wait()
			c.logger.WithFields(engine.Stats().Fields()).Info("Relay stopped")
		}
		if err := mgr.Disconnect(); err != nil {
			c.logger.WithError(err).Debug("Disconnect reported an error")
		}
		if port != nil {
			if err := port.Close(); err != nil {
				c.logger.WithError(err).Warn("Failed to close local endpoint")
			}
		}
	}()

	c.logger.Info("Bridge session started")

	// Discovery
	_ = mgr.MarkScanning()
	desc, err := discovery.Discover(runCtx, c.opts.Central, c.opts.Filter, c.opts.ScanTimeout,
		discovery.WithLogger(c.logger),
		discovery.WithProgress(discovery.ProgressCallback(c.opts.Progress)),
	)
	if err != nil {
		return c.finish(runCtx, err)
	}
	if err := mgr.MarkFound(desc); err != nil {
		return c.finish(runCtx, err)
	}

	// Local endpoint
	c.opts.Progress("Opening local endpoint")
	port, err = c.opts.OpenEndpoint()
	if err != nil {
		port = nil
		return c.finish(runCtx, err)
	}
	c.logger.WithField("port", port.Name()).Info("Local endpoint ready")

	engine = relay.NewEngine(port,
		relay.WithChunkSize(c.opts.ChunkSize),
		relay.WithLogger(c.logger),
		relay.WithOnError(func(err error) { cancel(err) }),
	)
	engine.Start(runCtx)

	// Connection
	c.opts.Progress("Connecting")
	handle, err := mgr.Connect(runCtx, desc, engine.Deliver)
	if err != nil {
		return c.finish(runCtx, err)
	}
	if err := mgr.MarkStreaming(); err != nil {
		// The link dropped between Ready and here; OnDisconnect has the cause
		cancel(fmt.Errorf("%w: %w", ErrRemoteDisconnected, err))
		return c.finish(runCtx, err)
	}

	c.opts.Progress("Streaming")
	c.logger.WithFields(logrus.Fields{
		"address": desc.Address,
		"port":    port.Name(),
	}).Info("Bridge running")

	// Started from this goroutine so the deferred engine.Wait always covers it
	if runCtx.Err() == nil {
		outbound := engine.StartOutbound(runCtx, handle)
		groutine.Go(runCtx, "lifecycle-outbound", func(context.Context) {
			cancel(c.outboundCause(<-outbound, mgr))
		})
	}

	<-runCtx.Done()
	return c.finish(runCtx, nil)
}

// outboundCause maps the outbound result to a session cause. A write that failed while the
// link was going down is a remote disconnect, whatever error text the stack produced.
func (c *Coordinator) outboundCause(err error, mgr *connection.Manager) error {
	if errors.Is(err, device.ErrNotConnected) {
		return ErrRemoteDisconnected
	}
	var ioErr *relay.RelayIOError
	if errors.As(err, &ioErr) && ioErr.Direction == relay.Outbound {
		select {
		case <-mgr.Done():
			c.logger.WithError(err).Debug("Outbound write failed on a lost link")
			return ErrRemoteDisconnected
		default:
		}
	}
	return err
}

// finish resolves the session result. A recorded cancellation cause takes precedence
// over the step error that observed it.
func (c *Coordinator) finish(runCtx context.Context, stepErr error) error {
	cause := stepErr
	if runCtx.Err() != nil {
		cause = context.Cause(runCtx)
	}

	if IsCleanStop(cause) {
		reason := "interrupted"
		switch {
		case errors.Is(cause, ErrRemoteDisconnected):
			reason = "remote disconnect"
		case errors.Is(cause, ErrEndOfStream):
			reason = "local end of stream"
		}
		c.logger.WithField("reason", reason).Info("Bridge session ended")
		return nil
	}

	c.logger.WithError(cause).Error("Bridge session failed")
	return cause
}
