// Package connection owns the lifecycle of the single NUS session: it dials the
// discovered peripheral, subscribes to TX, provisions the device and tracks the
// session state until it becomes Terminal.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/nusbridge/internal/device"
	"github.com/srg/nusbridge/internal/groutine"
)

// ProvisioningCommand is written to RX once per session, before streaming starts.
// It stops the firmware from echoing its own log output over the UART backend.
const ProvisioningCommand = "log backend log_backend_uart halt\r\n"

const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultSettleDelay    = 2 * time.Second
)

// ErrConnectFailed wraps every dial, discovery, subscribe or provisioning failure.
var ErrConnectFailed = errors.New("failed to connect to device")

// ConnectOptions configures the Manager
type ConnectOptions struct {
	ConnectTimeout time.Duration
	SettleDelay    time.Duration

	ServiceUUID string
	RxCharUUID  string // client -> device
	TxCharUUID  string // device -> client

	// Provisioning is written to RX once after subscribing. Empty disables it.
	Provisioning []byte

	// OnDisconnect fires once when the stack reports the link lost after the session became Ready.
	OnDisconnect func()
}

// DefaultConnectOptions returns the Nordic UART Service profile with the default timings
func DefaultConnectOptions() *ConnectOptions {
	return &ConnectOptions{
		ConnectTimeout: DefaultConnectTimeout,
		SettleDelay:    DefaultSettleDelay,
		ServiceUUID:    device.NUSServiceUUID,
		RxCharUUID:     device.NUSRXCharUUID,
		TxCharUUID:     device.NUSTXCharUUID,
		Provisioning:   []byte(ProvisioningCommand),
	}
}

// Manager drives one session through the connection state machine.
type Manager struct {
	central device.Central
	opts    ConnectOptions
	logger  *logrus.Logger

	connMutex sync.Mutex
	state     State
	client    device.Client

	done        chan struct{}
	cancelOnce  sync.Once
	cancelErr   error
	onDiscOnce  sync.Once
	connectOnce sync.Once
}

// NewManager creates a Manager in the Idle state. A nil opts uses DefaultConnectOptions.
func NewManager(central device.Central, opts *ConnectOptions, logger *logrus.Logger) *Manager {
	if opts == nil {
		opts = DefaultConnectOptions()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{
		central: central,
		opts:    *opts,
		logger:  logger,
		state:   Idle,
		done:    make(chan struct{}),
	}
}

// State returns the current state
func (m *Manager) State() State {
	m.connMutex.Lock()
	defer m.connMutex.Unlock()
	return m.state
}

// Done is closed once the session reaches Terminal
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// MarkScanning records that discovery has started
func (m *Manager) MarkScanning() error {
	return m.transition(Scanning)
}

// MarkFound records the discovered peripheral
func (m *Manager) MarkFound(desc device.Descriptor) error {
	if err := m.transition(Found); err != nil {
		return err
	}
	m.logger.WithFields(logrus.Fields{
		"address": desc.Address,
		"name":    desc.Name,
	}).Debug("Peripheral selected")
	return nil
}

// MarkStreaming records that the relay is running on the Ready session
func (m *Manager) MarkStreaming() error {
	return m.transition(Streaming)
}

func (m *Manager) transition(to State) error {
	m.connMutex.Lock()
	defer m.connMutex.Unlock()
	return m.transitionLocked(to)
}

func (m *Manager) transitionLocked(to State) error {
	from := m.state
	if !canTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	m.state = to
	m.logger.WithFields(logrus.Fields{
		"from": from.String(),
		"to":   to.String(),
	}).Debug("Connection state changed")
	if to == Terminal {
		close(m.done)
	}
	return nil
}

// Connect dials desc, resolves the NUS characteristics, subscribes TX with onNotify, writes the
// provisioning command once and waits for the settle delay. Any failure moves the session to
// Terminal and returns an error wrapping ErrConnectFailed. Connect may be called once.
func (m *Manager) Connect(ctx context.Context, desc device.Descriptor, onNotify func([]byte)) (*Handle, error) {
	called := false
	m.connectOnce.Do(func() { called = true })
	if !called {
		return nil, fmt.Errorf("%w: connect already attempted", ErrConnectFailed)
	}
	if m.central == nil {
		return nil, m.fail(errors.New("no BLE central"))
	}
	if err := m.transition(Connecting); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	m.logger.WithField("address", desc.Address).Info("Connecting to BLE device...")

	connectCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	client, err := m.central.Dial(connectCtx, desc.Address)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: no connection within %s", device.ErrTimeout, m.opts.ConnectTimeout)
		}
		return nil, m.fail(err)
	}

	m.connMutex.Lock()
	if m.state == Terminal {
		m.connMutex.Unlock()
		// Disconnect raced with the dial
		_ = client.CancelConnection()
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, device.ErrNotConnected)
	}
	m.client = client
	m.connMutex.Unlock()

	groutine.Go(context.Background(), "connection-monitor", m.monitor)

	m.logger.Info("Connected to device, discovering services...")

	rx, err := client.Characteristic(m.opts.ServiceUUID, m.opts.RxCharUUID)
	if err != nil {
		return nil, m.fail(fmt.Errorf("RX characteristic: %w", err))
	}
	if !rx.Properties().Has(device.PropWrite) && !rx.Properties().Has(device.PropWriteNoResponse) {
		return nil, m.fail(fmt.Errorf("RX characteristic %s is not writable (%s)", rx.UUID(), rx.Properties()))
	}
	tx, err := client.Characteristic(m.opts.ServiceUUID, m.opts.TxCharUUID)
	if err != nil {
		return nil, m.fail(fmt.Errorf("TX characteristic: %w", err))
	}
	if !tx.Properties().Has(device.PropNotify) && !tx.Properties().Has(device.PropIndicate) {
		return nil, m.fail(fmt.Errorf("TX characteristic %s does not notify (%s)", tx.UUID(), tx.Properties()))
	}

	h := &Handle{
		desc:   desc,
		rx:     rx,
		client: client,
		mgr:    m,
		logger: m.logger,
		// Prefer write commands: no ATT round trip per chunk
		withResponse: !rx.Properties().Has(device.PropWriteNoResponse),
	}

	if err := tx.Subscribe(func(data []byte) {
		m.logger.WithField("bytes", len(data)).Debug("Received data from device")
		if onNotify != nil {
			onNotify(data)
		}
	}); err != nil {
		return nil, m.fail(fmt.Errorf("failed to subscribe to TX characteristic: %w", device.NormalizeError(err)))
	}
	if err := m.transition(Subscribed); err != nil {
		return nil, m.fail(err)
	}

	if len(m.opts.Provisioning) > 0 {
		if err := h.Write(m.opts.Provisioning); err != nil {
			return nil, m.fail(fmt.Errorf("failed to send provisioning command: %w", err))
		}
		m.logger.WithField("command", string(m.opts.Provisioning)).Debug("Provisioning command sent")
	}

	if m.opts.SettleDelay > 0 {
		t := time.NewTimer(m.opts.SettleDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, m.fail(ctx.Err())
		case <-m.done:
			t.Stop()
			return nil, m.fail(device.ErrNotConnected)
		}
	}

	if err := m.transition(Ready); err != nil {
		return nil, m.fail(device.ErrNotConnected)
	}

	m.logger.WithFields(logrus.Fields{
		"address":       desc.Address,
		"with_response": h.withResponse,
	}).Info("BLE serial connection established successfully")
	return h, nil
}

// fail moves to Terminal, tears the link down and wraps cause in ErrConnectFailed.
func (m *Manager) fail(cause error) error {
	m.connMutex.Lock()
	_ = m.transitionLocked(Terminal)
	m.connMutex.Unlock()
	if err := m.cancelConnection(); err != nil {
		m.logger.WithError(err).Debug("Error cancelling failed connection")
	}
	return fmt.Errorf("%w: %w", ErrConnectFailed, cause)
}

// Disconnect ends the session. It is idempotent and a no-op once Terminal.
func (m *Manager) Disconnect() error {
	m.connMutex.Lock()
	if m.state == Terminal {
		m.connMutex.Unlock()
		return nil
	}
	_ = m.transitionLocked(Terminal)
	m.connMutex.Unlock()

	err := m.cancelConnection()
	if err != nil {
		m.logger.WithError(err).Warn("Error disconnecting from device")
	}
	m.logger.Info("Disconnected from BLE device")
	return err
}

// cancelConnection cancels the stack connection at most once.
func (m *Manager) cancelConnection() error {
	m.connMutex.Lock()
	client := m.client
	m.connMutex.Unlock()
	if client == nil {
		return nil
	}
	m.cancelOnce.Do(func() {
		m.cancelErr = device.NormalizeError(client.CancelConnection())
	})
	return m.cancelErr
}

// monitor waits for the stack to report the link lost.
func (m *Manager) monitor(context.Context) {
	m.connMutex.Lock()
	client := m.client
	m.connMutex.Unlock()

	select {
	case <-m.done:
		return
	case <-client.Disconnected():
	}

	m.connMutex.Lock()
	prev := m.state
	if prev == Terminal {
		m.connMutex.Unlock()
		return
	}
	_ = m.transitionLocked(Terminal)
	m.connMutex.Unlock()

	m.logger.WithField("state", prev.String()).Info("Device disconnected")
	if (prev == Ready || prev == Streaming) && m.opts.OnDisconnect != nil {
		m.onDiscOnce.Do(m.opts.OnDisconnect)
	}
}

// Handle is the live session lent to the relay. It is invalid once the Manager is Terminal.
type Handle struct {
	desc         device.Descriptor
	rx           device.Characteristic
	client       device.Client
	withResponse bool
	mgr          *Manager
	logger       *logrus.Logger

	writeMutex sync.Mutex
}

// Descriptor returns the peripheral this session is connected to
func (h *Handle) Descriptor() device.Descriptor { return h.desc }

// WithResponse reports whether RX writes use write requests rather than write commands
func (h *Handle) WithResponse() bool { return h.withResponse }

// Disconnected is closed once the session reaches Terminal
func (h *Handle) Disconnected() <-chan struct{} { return h.mgr.done }

// Write sends data to RX in a single ATT operation. Writes on a Terminal session, and
// failures caused by the link going down, return an error matching device.ErrNotConnected.
func (h *Handle) Write(data []byte) error {
	if h.mgr.State() == Terminal {
		return device.ErrNotConnected
	}

	h.writeMutex.Lock()
	defer h.writeMutex.Unlock()

	if err := h.rx.Write(data, h.withResponse); err != nil {
		err = device.NormalizeError(err)
		if !errors.Is(err, device.ErrNotConnected) && h.linkDown() {
			return fmt.Errorf("%w: %v", device.ErrNotConnected, err)
		}
		return fmt.Errorf("failed to write to RX characteristic: %w", err)
	}

	h.logger.WithField("bytes", len(data)).Debug("Wrote chunk to device")
	return nil
}

// linkDown reports whether the stack has already reported the link lost, even if the
// monitor has not yet moved the session to Terminal.
func (h *Handle) linkDown() bool {
	select {
	case <-h.client.Disconnected():
		return true
	case <-h.mgr.done:
		return true
	default:
		return false
	}
}
