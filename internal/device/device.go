package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents an error when a BLE resource is not found
type NotFoundError struct {
	Resource string   // "service", "characteristic"
	UUIDs    []string // One or more UUIDs (e.g., [serviceUUID] or [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
	BluetoothOff     ConnectionState = "bluetooth_off"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
	ErrBluetoothOff     = &ConnectionError{State: BluetoothOff, Msg: "is Bluetooth turned on?"}
)

// Operation errors
var (
	ErrTimeout     = errors.New("timeout")
	ErrUnsupported = errors.New("unsupported")
)

// NormalizeError maps error strings shared by the BLE stacks to structured ConnectionError types.
// Stack-specific adapters extend this with their own messages. Returns wrapped errors to
// preserve the original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	// Already normalized
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return err
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "bluetooth is turned off"), containsIgnoreCase(msg, "adapter not powered"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "device not connected"), containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "connection is not initialized"):
		return fmt.Errorf("%w: %v", ErrNotInitialized, err)
	default:
		return err
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// Advertisement is a single advertising report as seen by a Central.
type Advertisement interface {
	LocalName() string
	Addr() string
	RSSI() int
	Connectable() bool

	// Payload returns the raw advertisement bytes when the stack exposes them,
	// otherwise the manufacturer-specific data.
	Payload() []byte
}

// Central is the client role of a BLE stack: it scans and dials peripherals.
type Central interface {
	// Scan reports advertisements to handler until ctx is done.
	// Scan returns nil (or the context error) on cancellation.
	Scan(ctx context.Context, handler func(Advertisement)) error

	// Dial connects to the peripheral with the given address.
	Dial(ctx context.Context, address string) (Client, error)
}

// Client is a live GATT client connection to one peripheral.
type Client interface {
	Address() string

	// Characteristic resolves a characteristic within a service. Both UUIDs are
	// normalized before lookup. Returns *NotFoundError when missing.
	Characteristic(service, uuid string) (Characteristic, error)

	// Disconnected is closed when the link drops, whichever side initiated it.
	Disconnected() <-chan struct{}

	// CancelConnection tears the link down.
	CancelConnection() error
}

// Characteristic is a resolved GATT characteristic on a connected Client.
type Characteristic interface {
	UUID() string
	Properties() Property

	// Write sends data in a single ATT operation. withResponse selects a Write Request
	// instead of a Write Command.
	Write(data []byte, withResponse bool) error

	// Subscribe enables notifications; handler runs on the stack's delivery goroutine
	// and must not retain data.
	Subscribe(handler func(data []byte)) error
}

// Property is the characteristic property bit field.
type Property uint8

const (
	PropRead Property = 1 << iota
	PropWrite
	PropWriteNoResponse
	PropNotify
	PropIndicate
)

// Has reports whether all bits of p2 are set.
func (p Property) Has(p2 Property) bool {
	return p&p2 == p2
}

func (p Property) String() string {
	var names []string
	for _, e := range []struct {
		bit  Property
		name string
	}{
		{PropRead, "read"},
		{PropWrite, "write"},
		{PropWriteNoResponse, "write-without-response"},
		{PropNotify, "notify"},
		{PropIndicate, "indicate"},
	} {
		if p.Has(e.bit) {
			names = append(names, e.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}
