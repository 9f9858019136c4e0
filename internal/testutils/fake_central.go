package testutils

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srg/nusbridge/internal/device"
)

// FakeAdvertisement is a device.Advertisement with fixed fields
type FakeAdvertisement struct {
	Name           string `yaml:"name"`
	Address        string `yaml:"address"`
	RSSIValue      int    `yaml:"rssi"`
	Data           []byte `yaml:"payload"`
	NotConnectable bool   `yaml:"not_connectable"`
}

func (a FakeAdvertisement) LocalName() string { return a.Name }
func (a FakeAdvertisement) Addr() string      { return a.Address }
func (a FakeAdvertisement) RSSI() int         { return a.RSSIValue }
func (a FakeAdvertisement) Connectable() bool { return !a.NotConnectable }
func (a FakeAdvertisement) Payload() []byte   { return a.Data }

// ScheduledAdvertisement is reported After the scan starts
type ScheduledAdvertisement struct {
	After             time.Duration `yaml:"after"`
	FakeAdvertisement `yaml:",inline"`
}

// FakeCentral is a scripted device.Central
type FakeCentral struct {
	Ads       []ScheduledAdvertisement
	ScanErr   error
	DialErr   error
	DialDelay time.Duration
	Client    *FakeClient

	mu       sync.Mutex
	dials    []string
	scans    int
	scanning atomic.Bool
}

// NewFakeCentral returns a central whose Dial yields a NUS client
func NewFakeCentral(ads ...ScheduledAdvertisement) *FakeCentral {
	return &FakeCentral{Ads: ads, Client: NewFakeNUSClient("")}
}

// Scan reports the scheduled advertisements in order, then blocks until ctx is done.
func (c *FakeCentral) Scan(ctx context.Context, handler func(device.Advertisement)) error {
	c.mu.Lock()
	c.scans++
	c.mu.Unlock()

	if c.ScanErr != nil {
		return c.ScanErr
	}

	c.scanning.Store(true)
	defer c.scanning.Store(false)

	start := time.Now()
	for _, ad := range c.Ads {
		wait := time.Until(start.Add(ad.After))
		if wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		handler(ad.FakeAdvertisement)
	}
	<-ctx.Done()
	return nil
}

// Dial records the address and returns Client
func (c *FakeCentral) Dial(ctx context.Context, address string) (device.Client, error) {
	c.mu.Lock()
	c.dials = append(c.dials, address)
	c.mu.Unlock()

	if c.DialDelay > 0 {
		t := time.NewTimer(c.DialDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	if c.DialErr != nil {
		return nil, c.DialErr
	}
	if c.Client.Addr == "" {
		c.Client.Addr = address
	}
	return c.Client, nil
}

// Dials returns the addresses passed to Dial
func (c *FakeCentral) Dials() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.dials...)
}

// Scans returns the number of Scan calls
func (c *FakeCentral) Scans() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scans
}

// Scanning reports whether a Scan call is in progress
func (c *FakeCentral) Scanning() bool {
	return c.scanning.Load()
}

// FakeClient is a device.Client exposing the NUS RX/TX pair
type FakeClient struct {
	Addr string
	RX   *FakeCharacteristic
	TX   *FakeCharacteristic

	mu           sync.Mutex
	events       []string
	disconnected chan struct{}
	dropOnce     sync.Once
	cancelCalls  atomic.Int32
}

// NewFakeNUSClient builds a client with RX (write, write-without-response) and TX (notify)
func NewFakeNUSClient(addr string) *FakeClient {
	c := &FakeClient{Addr: addr, disconnected: make(chan struct{})}
	c.RX = &FakeCharacteristic{uuid: device.NormalizeUUID(device.NUSRXCharUUID), props: device.PropWrite | device.PropWriteNoResponse, client: c}
	c.TX = &FakeCharacteristic{uuid: device.NormalizeUUID(device.NUSTXCharUUID), props: device.PropNotify, client: c}
	return c
}

func (c *FakeClient) Address() string { return c.Addr }

func (c *FakeClient) Characteristic(service, uuid string) (device.Characteristic, error) {
	if device.NormalizeUUID(service) != device.NormalizeUUID(device.NUSServiceUUID) {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{service}}
	}
	for _, ch := range []*FakeCharacteristic{c.RX, c.TX} {
		if ch != nil && ch.uuid == device.NormalizeUUID(uuid) {
			return ch, nil
		}
	}
	return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, uuid}}
}

func (c *FakeClient) Disconnected() <-chan struct{} { return c.disconnected }

// CancelConnection counts calls and closes the disconnect channel
func (c *FakeClient) CancelConnection() error {
	c.cancelCalls.Add(1)
	c.record("cancel")
	c.Drop()
	return nil
}

// Drop simulates a link loss reported by the stack
func (c *FakeClient) Drop() {
	c.dropOnce.Do(func() { close(c.disconnected) })
}

// CancelCalls returns how many times CancelConnection was called
func (c *FakeClient) CancelCalls() int {
	return int(c.cancelCalls.Load())
}

// Events returns the ordered subscribe/write/cancel log
func (c *FakeClient) Events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...)
}

func (c *FakeClient) record(ev string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

// FakeCharacteristic records writes and holds the notification handler
type FakeCharacteristic struct {
	uuid   string
	props  device.Property
	client *FakeClient

	// WriteHook runs before a write is recorded; a non-nil result fails the write
	WriteHook    func(data []byte) error
	SubscribeErr error

	mu        sync.Mutex
	writes    [][]byte
	withResp  []bool
	handler   func([]byte)
	writeCall atomic.Int32
}

func (ch *FakeCharacteristic) UUID() string                { return ch.uuid }
func (ch *FakeCharacteristic) Properties() device.Property { return ch.props }

// SetProperties overrides the advertised properties
func (ch *FakeCharacteristic) SetProperties(p device.Property) { ch.props = p }

func (ch *FakeCharacteristic) Write(data []byte, withResponse bool) error {
	ch.writeCall.Add(1)
	if ch.WriteHook != nil {
		if err := ch.WriteHook(data); err != nil {
			return err
		}
	}
	ch.mu.Lock()
	ch.writes = append(ch.writes, append([]byte(nil), data...))
	ch.withResp = append(ch.withResp, withResponse)
	ch.mu.Unlock()
	ch.client.record("write:" + string(data))
	return nil
}

func (ch *FakeCharacteristic) Subscribe(handler func(data []byte)) error {
	if ch.SubscribeErr != nil {
		return ch.SubscribeErr
	}
	ch.mu.Lock()
	ch.handler = handler
	ch.mu.Unlock()
	ch.client.record("subscribe:" + ch.uuid)
	return nil
}

// Notify delivers data to the subscribed handler. Returns false when nothing is subscribed.
func (ch *FakeCharacteristic) Notify(data []byte) bool {
	ch.mu.Lock()
	h := ch.handler
	ch.mu.Unlock()
	if h == nil {
		return false
	}
	h(data)
	return true
}

// Writes returns a snapshot of recorded successful writes
func (ch *FakeCharacteristic) Writes() [][]byte {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	out := make([][]byte, len(ch.writes))
	copy(out, ch.writes)
	return out
}

// WithResponse returns the write type used for each recorded write
func (ch *FakeCharacteristic) WithResponse() []bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return append([]bool(nil), ch.withResp...)
}

// WriteCalls counts every Write call including failed ones
func (ch *FakeCharacteristic) WriteCalls() int {
	return int(ch.writeCall.Load())
}
