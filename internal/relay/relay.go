// Package relay moves bytes between the local endpoint and the BLE session.
//
// The outbound flow reads the local endpoint in chunks of at most the configured
// size and writes each chunk to the peripheral in one operation. The inbound flow
// takes notification payloads handed over by Deliver and writes them verbatim to
// the local endpoint in arrival order, one payload in flight at a time. Neither
// flow frames, coalesces or retries.
package relay

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/nusbridge/internal/device"
	"github.com/srg/nusbridge/internal/groutine"
	"github.com/srg/nusbridge/internal/serialio"
)

// DefaultChunkSize fits one write command at the 247-byte ATT MTU most NUS firmware negotiates.
const DefaultChunkSize = 244

// Peer is the write side of the BLE session.
type Peer interface {
	Write(data []byte) error
}

// Stats are the byte and chunk counters of both flows.
type Stats struct {
	InboundBytes   uint64
	InboundChunks  uint64
	OutboundBytes  uint64
	OutboundChunks uint64
}

// Option configures an Engine
type Option func(*Engine)

// WithChunkSize bounds outbound reads. Values below 1 keep the default.
func WithChunkSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithOnError sets the callback for inbound failures. It fires at most once per engine.
func WithOnError(fn func(error)) Option {
	return func(e *Engine) { e.onError = fn }
}

// Engine relays bytes between a local serialio.Port and a Peer.
type Engine struct {
	local     serialio.Port
	chunkSize int
	logger    *logrus.Logger
	onError   func(error)

	inbound   chan []byte
	stopped   chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	errOnce   sync.Once
	group     groutine.Group

	inBytes, inChunks   atomic.Uint64
	outBytes, outChunks atomic.Uint64
}

// NewEngine creates an engine for local. Call Start before notifications can arrive.
func NewEngine(local serialio.Port, opts ...Option) *Engine {
	e := &Engine{
		local:     local,
		chunkSize: DefaultChunkSize,
		logger:    logrus.New(),
		inbound:   make(chan []byte),
		stopped:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start runs the inbound flow until ctx is done or a local write fails.
func (e *Engine) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		e.group.Go(ctx, "relay-inbound", e.runInbound)
	})
}

// Deliver is the notification handler. It copies payload and blocks until the inbound flow
// takes it, or returns without writing once the engine has stopped.
func (e *Engine) Deliver(payload []byte) {
	buf := make([]byte, len(payload))
	copy(buf, payload)

	select {
	case e.inbound <- buf:
	case <-e.stopped:
		e.logger.WithField("bytes", len(buf)).Debug("Relay stopped, dropping notification")
	}
}

func (e *Engine) runInbound(ctx context.Context) {
	defer e.stopOnce.Do(func() { close(e.stopped) })

	for {
		select {
		case <-ctx.Done():
			return
		case data := <-e.inbound:
			if _, err := e.local.WriteContext(ctx, data); err != nil {
				if ctx.Err() != nil {
					return
				}
				e.report(&RelayIOError{Direction: Inbound, Err: err})
				return
			}
			e.inBytes.Add(uint64(len(data)))
			e.inChunks.Add(1)
			e.logger.WithField("bytes", len(data)).Debug("Relayed data to local endpoint")
		}
	}
}

func (e *Engine) report(err error) {
	e.errOnce.Do(func() {
		e.logger.WithError(err).Error("Relay flow failed")
		if e.onError != nil {
			e.onError(err)
		}
	})
}

// Outbound runs the outbound flow until end of stream, a failure or ctx is done.
// It returns ErrEndOfStream on a zero-byte read or io.EOF, an error matching
// device.ErrNotConnected when the peer dropped, the context error on cancellation,
// and *RelayIOError otherwise.
func (e *Engine) Outbound(ctx context.Context, peer Peer) error {
	return <-e.StartOutbound(ctx, peer)
}

// StartOutbound launches the outbound flow and returns a channel that receives its result.
// The flow is tracked before StartOutbound returns, so a later Wait covers it.
func (e *Engine) StartOutbound(ctx context.Context, peer Peer) <-chan error {
	result := make(chan error, 1)
	e.group.Go(ctx, "relay-outbound", func(ctx context.Context) {
		result <- e.runOutbound(ctx, peer)
	})
	return result
}

func (e *Engine) runOutbound(ctx context.Context, peer Peer) error {
	buf := make([]byte, e.chunkSize)
	for {
		n, err := e.local.ReadContext(ctx, buf)
		if n > 0 {
			if werr := peer.Write(buf[:n]); werr != nil {
				switch {
				case errors.Is(werr, device.ErrNotConnected):
					return werr
				case ctx.Err() != nil:
					return ctx.Err()
				default:
					return &RelayIOError{Direction: Outbound, Err: werr}
				}
			}
			e.outBytes.Add(uint64(n))
			e.outChunks.Add(1)
			e.logger.WithField("bytes", n).Debug("Relayed data to device")
		}

		switch {
		case err == nil && n == 0:
			return ErrEndOfStream
		case err == nil:
			continue
		case errors.Is(err, io.EOF):
			return ErrEndOfStream
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			return &RelayIOError{Direction: Outbound, Err: err}
		}
	}
}

// Wait blocks until both flows have returned.
func (e *Engine) Wait() {
	e.group.Wait()
}

// Stats returns a snapshot of the counters
func (e *Engine) Stats() Stats {
	return Stats{
		InboundBytes:   e.inBytes.Load(),
		InboundChunks:  e.inChunks.Load(),
		OutboundBytes:  e.outBytes.Load(),
		OutboundChunks: e.outChunks.Load(),
	}
}

// Fields renders the counters for structured logging
func (s Stats) Fields() logrus.Fields {
	return logrus.Fields{
		"in_bytes":   s.InboundBytes,
		"in_chunks":  s.InboundChunks,
		"out_bytes":  s.OutboundBytes,
		"out_chunks": s.OutboundChunks,
	}
}
