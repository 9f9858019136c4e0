package testutils

import (
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"
)

// FakePort is a scripted serialio.Port. Each fed chunk is returned by one or more reads;
// EOF ends the read side.
type FakePort struct {
	PortName string

	// ReadErr fails every read once set
	ReadErr error
	// WriteHook runs before a write is recorded; a non-nil result fails the write
	WriteHook func(data []byte) error

	reads   chan []byte
	eofOnce sync.Once

	mu      sync.Mutex
	pending []byte
	writes  [][]byte

	closed     atomic.Bool
	closeCalls atomic.Int32
}

// NewFakePort returns a port with room for 64 queued chunks
func NewFakePort() *FakePort {
	return &FakePort{PortName: "/dev/fake", reads: make(chan []byte, 64)}
}

// Feed queues chunks for ReadContext. An empty chunk yields a zero-byte read.
func (p *FakePort) Feed(chunks ...[]byte) {
	for _, c := range chunks {
		p.reads <- append([]byte(nil), c...)
	}
}

// EOF makes ReadContext return io.EOF once queued chunks are consumed
func (p *FakePort) EOF() {
	p.eofOnce.Do(func() { close(p.reads) })
}

func (p *FakePort) ReadContext(ctx context.Context, b []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if p.ReadErr != nil {
		return 0, p.ReadErr
	}

	p.mu.Lock()
	if len(p.pending) > 0 {
		n := copy(b, p.pending)
		p.pending = p.pending[n:]
		p.mu.Unlock()
		return n, nil
	}
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case data, ok := <-p.reads:
		if !ok {
			return 0, io.EOF
		}
		n := copy(b, data)
		if n < len(data) {
			p.mu.Lock()
			p.pending = data[n:]
			p.mu.Unlock()
		}
		return n, nil
	}
}

func (p *FakePort) WriteContext(ctx context.Context, b []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if p.WriteHook != nil {
		if err := p.WriteHook(b); err != nil {
			return 0, err
		}
	}
	p.mu.Lock()
	p.writes = append(p.writes, append([]byte(nil), b...))
	p.mu.Unlock()
	return len(b), nil
}

func (p *FakePort) Name() string { return p.PortName }

func (p *FakePort) Close() error {
	p.closeCalls.Add(1)
	p.closed.Store(true)
	return nil
}

// Writes returns each recorded write in order
func (p *FakePort) Writes() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.writes))
	copy(out, p.writes)
	return out
}

// Written returns the concatenation of all recorded writes
func (p *FakePort) Written() []byte {
	var out []byte
	for _, w := range p.Writes() {
		out = append(out, w...)
	}
	return out
}

// CloseCalls returns how many times Close was called
func (p *FakePort) CloseCalls() int {
	return int(p.closeCalls.Load())
}
