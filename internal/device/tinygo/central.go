//go:build linux

// Package tinygo implements device.Central with tinygo.org/x/bluetooth on BlueZ.
package tinygo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/nusbridge/internal/device"
	"github.com/srg/nusbridge/internal/groutine"
	"tinygo.org/x/bluetooth"
)

const (
	bluezDeviceIface = "org.bluez.Device1"
	propsChanged     = "org.freedesktop.DBus.Properties.PropertiesChanged"
	bluezNamespace   = dbus.ObjectPath("/org/bluez")
)

// Central implements device.Central on a BlueZ adapter.
type Central struct {
	adapter *bluetooth.Adapter
	logger  *logrus.Logger

	// addresses seen while scanning, keyed by their string form
	addresses *hashmap.Map[string, bluetooth.Address]
	// live clients keyed by address, dropped when BlueZ reports Connected=false
	clients *hashmap.Map[string, *Client]
}

// NewCentral enables the default adapter and starts watching BlueZ for disconnections.
// The linux gap in tinygo never calls the adapter connect handler, so link loss is taken
// from the Device1.Connected property instead.
func NewCentral(logger *logrus.Logger) (*Central, error) {
	if logger == nil {
		logger = logrus.New()
	}
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("failed to enable BLE adapter: %w", NormalizeError(err))
	}

	c := &Central{
		adapter:   adapter,
		logger:    logger,
		addresses: hashmap.New[string, bluetooth.Address](),
		clients:   hashmap.New[string, *Client](),
	}
	if err := c.watchDisconnects(); err != nil {
		return nil, fmt.Errorf("failed to watch BlueZ connection state: %w", err)
	}
	return c, nil
}

// watchDisconnects subscribes to PropertiesChanged under /org/bluez on the shared system bus.
func (c *Central) watchDisconnects() error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}
	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchPathNamespace(bluezNamespace),
	); err != nil {
		return err
	}

	signals := make(chan *dbus.Signal, 16)
	conn.Signal(signals)
	groutine.Go(context.Background(), "tinygo-bluez-signals", func(context.Context) {
		for sig := range signals {
			if addr, ok := disconnectedAddress(sig); ok {
				c.onDisconnected(addr)
			}
		}
	})
	return nil
}

func (c *Central) onDisconnected(addr string) {
	if client, ok := c.clients.Get(addr); ok {
		c.logger.WithField("address", addr).Debug("BlueZ reported disconnection")
		client.drop()
		c.clients.Del(addr)
	}
}

// disconnectedAddress returns the device address when sig reports Device1.Connected=false.
// Body: [interface string, changed map[string]Variant, invalidated []string]
func disconnectedAddress(sig *dbus.Signal) (string, bool) {
	if sig == nil || sig.Name != propsChanged || len(sig.Body) < 2 {
		return "", false
	}
	if iface, ok := sig.Body[0].(string); !ok || iface != bluezDeviceIface {
		return "", false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return "", false
	}
	v, ok := changed["Connected"]
	if !ok {
		return "", false
	}
	if connected, ok := v.Value().(bool); !ok || connected {
		return "", false
	}
	return addressFromPath(sig.Path)
}

// addressFromPath converts /org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF to AA:BB:CC:DD:EE:FF.
func addressFromPath(path dbus.ObjectPath) (string, bool) {
	s := string(path)
	i := strings.LastIndex(s, "/dev_")
	if i < 0 || !strings.HasPrefix(s, string(bluezNamespace)+"/") {
		return "", false
	}
	mac := strings.ReplaceAll(s[i+len("/dev_"):], "_", ":")
	if len(mac) != len("AA:BB:CC:DD:EE:FF") {
		return "", false
	}
	return strings.ToUpper(mac), true
}

// Scan runs the adapter scan until ctx is done. tinygo's Scan blocks, so it runs on its own goroutine.
func (c *Central) Scan(ctx context.Context, handler func(device.Advertisement)) error {
	errCh := make(chan error, 1)
	groutine.Go(ctx, "tinygo-scan", func(context.Context) {
		errCh <- c.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			if ctx.Err() != nil {
				return
			}
			c.addresses.Set(result.Address.String(), result.Address)
			handler(&advertisement{result: result})
		})
	})

	select {
	case err := <-errCh:
		return NormalizeError(err)
	case <-ctx.Done():
		if err := c.adapter.StopScan(); err != nil {
			c.logger.WithField("error", err).Debug("StopScan failed")
		}
		<-errCh
		return nil
	}
}

// Dial connects to address and returns a client once the connection is up.
func (c *Central) Dial(ctx context.Context, address string) (device.Client, error) {
	addr, ok := c.addresses.Get(address)
	if !ok {
		mac, err := bluetooth.ParseMAC(address)
		if err != nil {
			return nil, fmt.Errorf("invalid device address %q: %w", address, err)
		}
		addr = bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}
	}

	type result struct {
		dev bluetooth.Device
		err error
	}
	done := make(chan result, 1)
	groutine.Go(ctx, "tinygo-connect", func(context.Context) {
		dev, err := c.adapter.Connect(addr, bluetooth.ConnectionParams{})
		done <- result{dev, err}
	})

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, NormalizeError(r.err))
		}
		client := &Client{address: address, dev: r.dev, logger: c.logger, disconnected: make(chan struct{})}
		c.clients.Set(strings.ToUpper(address), client)
		return client, nil
	case <-ctx.Done():
		// Tear down a connection that completes after the caller gave up
		groutine.Go(context.Background(), "tinygo-connect-abandon", func(context.Context) {
			if r := <-done; r.err == nil {
				_ = r.dev.Disconnect()
			}
		})
		return nil, ctx.Err()
	}
}

// NormalizeError maps BlueZ D-Bus error names onto the device error taxonomy.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case containsAny(err.Error(), "org.bluez.Error.NotReady", "Resource Not Ready"):
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	case containsAny(err.Error(), "org.bluez.Error.NotConnected"):
		return fmt.Errorf("%w: %v", device.ErrNotConnected, err)
	}
	return device.NormalizeError(err)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// advertisement adapts bluetooth.ScanResult to device.Advertisement
type advertisement struct {
	result bluetooth.ScanResult
}

func (a *advertisement) LocalName() string { return a.result.LocalName() }
func (a *advertisement) Addr() string      { return a.result.Address.String() }
func (a *advertisement) RSSI() int         { return int(a.result.RSSI) }

// Connectable is not reported by BlueZ scan results.
func (a *advertisement) Connectable() bool { return true }

func (a *advertisement) Payload() []byte {
	if raw := a.result.Bytes(); len(raw) > 0 {
		return raw
	}
	var out []byte
	for _, md := range a.result.ManufacturerData() {
		out = append(out, byte(md.CompanyID), byte(md.CompanyID>>8))
		out = append(out, md.Data...)
	}
	return out
}

// Client is a connected BlueZ device
type Client struct {
	address string
	dev     bluetooth.Device
	logger  *logrus.Logger

	disconnected chan struct{}
	dropOnce     sync.Once
	cancelOnce   sync.Once
	cancelErr    error
}

func (c *Client) Address() string { return c.address }

func (c *Client) Disconnected() <-chan struct{} { return c.disconnected }

func (c *Client) drop() {
	c.dropOnce.Do(func() { close(c.disconnected) })
}

func (c *Client) CancelConnection() error {
	c.cancelOnce.Do(func() {
		c.cancelErr = NormalizeError(c.dev.Disconnect())
		c.drop()
	})
	return c.cancelErr
}

// Characteristic discovers the service and characteristic by UUID on demand.
func (c *Client) Characteristic(service, uuid string) (device.Characteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(service)
	if err != nil {
		return nil, fmt.Errorf("invalid service UUID %q: %w", service, err)
	}
	charUUID, err := bluetooth.ParseUUID(uuid)
	if err != nil {
		return nil, fmt.Errorf("invalid characteristic UUID %q: %w", uuid, err)
	}

	services, err := c.dev.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil || len(services) == 0 {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{service}}
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{charUUID})
	if err != nil || len(chars) == 0 {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, uuid}}
	}
	return &characteristic{uuid: device.NormalizeUUID(uuid), char: chars[0]}, nil
}

type characteristic struct {
	uuid string
	char bluetooth.DeviceCharacteristic
}

func (ch *characteristic) UUID() string { return ch.uuid }

// Properties reports what this backend can drive on linux: write commands and notifications.
func (ch *characteristic) Properties() device.Property {
	return device.PropWriteNoResponse | device.PropNotify
}

// Write always issues a write command; tinygo exposes no write request on BlueZ.
func (ch *characteristic) Write(data []byte, _ bool) error {
	_, err := ch.char.WriteWithoutResponse(data)
	return NormalizeError(err)
}

func (ch *characteristic) Subscribe(handler func(data []byte)) error {
	return NormalizeError(ch.char.EnableNotifications(handler))
}
