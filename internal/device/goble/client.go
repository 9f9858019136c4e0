package goble

import (
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/nusbridge/internal/device"
)

// BLEClient implements device.Client over a connected ble.Client and its discovered profile.
type BLEClient struct {
	address string
	client  ble.Client
	profile *ble.Profile
	logger  *logrus.Logger

	// closed backs Disconnected() for clients without a native channel
	closed     chan struct{}
	closeOnce  sync.Once
	cancelOnce sync.Once
	cancelErr  error
}

func newClient(address string, client ble.Client, profile *ble.Profile, logger *logrus.Logger) *BLEClient {
	return &BLEClient{
		address: address,
		client:  client,
		profile: profile,
		logger:  logger,
		closed:  make(chan struct{}),
	}
}

func (c *BLEClient) Address() string {
	return c.address
}

// Characteristic retrieves a characteristic by service and characteristic UUID.
// Both UUIDs are normalized for consistent lookup (lowercase, no dashes).
// Returns a NotFoundError if the service or characteristic is not found.
func (c *BLEClient) Characteristic(service, uuid string) (device.Characteristic, error) {
	normalizedServiceUUID := device.NormalizeUUID(service)
	normalizedCharUUID := device.NormalizeUUID(uuid)

	for _, svc := range c.profile.Services {
		if device.NormalizeUUID(svc.UUID.String()) != normalizedServiceUUID {
			continue
		}
		for _, ch := range svc.Characteristics {
			if device.NormalizeUUID(ch.UUID.String()) == normalizedCharUUID {
				return &BLECharacteristic{uuid: normalizedCharUUID, char: ch, client: c}, nil
			}
		}
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, uuid}}
	}
	return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{service}}
}

// Disconnected returns the go-ble client's disconnect channel (CoreBluetooth and HCI both provide one).
// Falls back to a channel closed by CancelConnection.
func (c *BLEClient) Disconnected() <-chan struct{} {
	if dc, ok := c.client.(interface{ Disconnected() <-chan struct{} }); ok {
		if ch := dc.Disconnected(); ch != nil {
			return ch
		}
	}
	return c.closed
}

// CancelConnection disconnects the peripheral. Only the first call reaches the stack.
func (c *BLEClient) CancelConnection() error {
	c.cancelOnce.Do(func() {
		c.logger.WithField("address", c.address).Debug("Cancelling BLE connection...")
		c.cancelErr = NormalizeError(c.client.CancelConnection())
		c.closeOnce.Do(func() { close(c.closed) })
	})
	return c.cancelErr
}

// BLECharacteristic is a resolved characteristic on a BLEClient.
type BLECharacteristic struct {
	uuid   string
	char   *ble.Characteristic
	client *BLEClient
}

func (ch *BLECharacteristic) UUID() string {
	return ch.uuid
}

func (ch *BLECharacteristic) Properties() device.Property {
	return convertProperty(ch.char.Property)
}

// Write issues a single ATT write. go-ble takes noRsp, the inverse of withResponse.
func (ch *BLECharacteristic) Write(data []byte, withResponse bool) error {
	return NormalizeError(ch.client.client.WriteCharacteristic(ch.char, data, !withResponse))
}

// Subscribe enables notifications, or indications when the characteristic only supports those.
func (ch *BLECharacteristic) Subscribe(handler func(data []byte)) error {
	indicate := ch.char.Property&ble.CharNotify == 0 && ch.char.Property&ble.CharIndicate != 0
	return NormalizeError(ch.client.client.Subscribe(ch.char, indicate, func(data []byte) {
		handler(data)
	}))
}

func convertProperty(p ble.Property) device.Property {
	var out device.Property
	if p&ble.CharRead != 0 {
		out |= device.PropRead
	}
	if p&ble.CharWrite != 0 {
		out |= device.PropWrite
	}
	if p&ble.CharWriteNR != 0 {
		out |= device.PropWriteNoResponse
	}
	if p&ble.CharNotify != 0 {
		out |= device.PropNotify
	}
	if p&ble.CharIndicate != 0 {
		out |= device.PropIndicate
	}
	return out
}
