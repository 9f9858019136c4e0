package testutils

import (
	"fmt"
	"strings"
	"sync"

	blelib "github.com/go-ble/ble"
	"github.com/srg/nusbridge/internal/device"
	"github.com/srg/nusbridge/internal/testutils/mocks"
	"github.com/stretchr/testify/mock"
	"gopkg.in/yaml.v3"
)

// CharacteristicConfig represents a BLE characteristic configuration for mocking
type CharacteristicConfig struct {
	UUID       string `yaml:"uuid"`
	Properties string `yaml:"properties,omitempty"` // e.g., "write,write-without-response,notify"
}

// ServiceConfig represents a BLE service configuration for mocking
type ServiceConfig struct {
	UUID            string                 `yaml:"uuid"`
	Characteristics []CharacteristicConfig `yaml:"characteristics,omitempty"`
}

// DeviceProfileConfig represents the complete device profile for mocking
type DeviceProfileConfig struct {
	Services []ServiceConfig `yaml:"services"`
}

// PeripheralDeviceBuilder builds a mocked go-ble Device with full service/characteristic support.
// The built peripheral records writes and lets tests push notifications to subscribers.
type PeripheralDeviceBuilder struct {
	profile            DeviceProfileConfig
	scanAdvertisements []blelib.Advertisement
	dialErr            error
	writeErr           error

	mu       sync.Mutex
	writes   []Write
	handlers map[string]blelib.NotificationHandler
	client   *mocks.MockClient
}

// Write is a recorded characteristic write
type Write struct {
	UUID  string
	Data  []byte
	NoRsp bool
}

// NewPeripheralDeviceBuilder creates a new peripheral device builder
func NewPeripheralDeviceBuilder() *PeripheralDeviceBuilder {
	return &PeripheralDeviceBuilder{
		profile:  DeviceProfileConfig{Services: []ServiceConfig{}},
		handlers: make(map[string]blelib.NotificationHandler),
	}
}

// NewNUSPeripheralBuilder returns a builder preconfigured with the Nordic UART Service profile.
func NewNUSPeripheralBuilder() *PeripheralDeviceBuilder {
	return NewPeripheralDeviceBuilder().
		WithService(device.NUSServiceUUID).
		WithCharacteristic(device.NUSRXCharUUID, "write,write-without-response").
		WithCharacteristic(device.NUSTXCharUUID, "notify")
}

// WithService adds a service to the device profile
func (b *PeripheralDeviceBuilder) WithService(uuid string) *PeripheralDeviceBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{
		UUID:            uuid,
		Characteristics: []CharacteristicConfig{},
	})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralDeviceBuilder) WithCharacteristic(uuid, properties string) *PeripheralDeviceBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}

	last := len(b.profile.Services) - 1
	b.profile.Services[last].Characteristics = append(b.profile.Services[last].Characteristics,
		CharacteristicConfig{UUID: uuid, Properties: properties})
	return b
}

// FromYAML fills the device profile from YAML
func (b *PeripheralDeviceBuilder) FromYAML(yamlStrFmt string, args ...interface{}) *PeripheralDeviceBuilder {
	var config DeviceProfileConfig
	if err := yaml.Unmarshal([]byte(fmt.Sprintf(yamlStrFmt, args...)), &config); err != nil {
		panic(fmt.Sprintf("PeripheralDeviceBuilder.FromYAML: failed to unmarshal: %v", err))
	}

	b.profile = config
	return b
}

// WithDialError makes Dial fail with err
func (b *PeripheralDeviceBuilder) WithDialError(err error) *PeripheralDeviceBuilder {
	b.dialErr = err
	return b
}

// WithWriteError makes every characteristic write fail with err
func (b *PeripheralDeviceBuilder) WithWriteError(err error) *PeripheralDeviceBuilder {
	b.writeErr = err
	return b
}

// WithScanAdvertisements returns an AdvertisementArrayBuilder that will return this PeripheralDeviceBuilder on Build()
func (b *PeripheralDeviceBuilder) WithScanAdvertisements() *AdvertisementArrayBuilder[*PeripheralDeviceBuilder] {
	arrayBuilder := NewAdvertisementArrayBuilder[*PeripheralDeviceBuilder]()
	arrayBuilder.parent = b
	arrayBuilder.buildFunc = func(parent *PeripheralDeviceBuilder, ads []blelib.Advertisement) *PeripheralDeviceBuilder {
		parent.scanAdvertisements = append(parent.scanAdvertisements, ads...)
		return parent
	}
	return arrayBuilder
}

// parseCharacteristicProperties converts a comma-separated property list to ble.Property flags
func parseCharacteristicProperties(props string) blelib.Property {
	if props == "" {
		return blelib.CharRead | blelib.CharWrite | blelib.CharNotify
	}

	var property blelib.Property
	for _, p := range strings.Split(props, ",") {
		switch strings.TrimSpace(p) {
		case "read":
			property |= blelib.CharRead
		case "write":
			property |= blelib.CharWrite
		case "write-without-response":
			property |= blelib.CharWriteNR
		case "notify":
			property |= blelib.CharNotify
		case "indicate":
			property |= blelib.CharIndicate
		}
	}
	return property
}

// Build creates a mocked ble.Device with the configured profile
func (b *PeripheralDeviceBuilder) Build() blelib.Device {
	mockDevice := &mocks.MockDevice{}
	mockClient := &mocks.MockClient{DisconnectedCh: make(chan struct{})}

	var bleServices []*blelib.Service
	for _, svcConfig := range b.profile.Services {
		bleService := &blelib.Service{UUID: blelib.MustParse(svcConfig.UUID)}
		for _, charConfig := range svcConfig.Characteristics {
			bleService.Characteristics = append(bleService.Characteristics, &blelib.Characteristic{
				UUID:     blelib.MustParse(charConfig.UUID),
				Property: parseCharacteristicProperties(charConfig.Properties),
			})
		}
		bleServices = append(bleServices, bleService)
	}
	mockProfile := &blelib.Profile{Services: bleServices}

	if b.dialErr != nil {
		mockDevice.On("Dial", mock.Anything, mock.Anything).Return(nil, b.dialErr)
	} else {
		mockDevice.On("Dial", mock.Anything, mock.Anything).Return(mockClient, nil)
	}
	mockClient.On("DiscoverProfile", true).Return(mockProfile, nil)
	mockClient.On("CancelConnection").Return(nil).Run(func(mock.Arguments) {
		b.Drop()
	})

	mockClient.On("Subscribe", mock.Anything, mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		char := args.Get(0).(*blelib.Characteristic)
		b.mu.Lock()
		defer b.mu.Unlock()
		b.handlers[device.NormalizeUUID(char.UUID.String())] = args.Get(2).(blelib.NotificationHandler)
	})

	mockClient.On("WriteCharacteristic", mock.Anything, mock.Anything, mock.Anything).Return(b.writeErr).Run(func(args mock.Arguments) {
		char := args.Get(0).(*blelib.Characteristic)
		data := append([]byte(nil), args.Get(1).([]byte)...)
		b.mu.Lock()
		defer b.mu.Unlock()
		b.writes = append(b.writes, Write{UUID: device.NormalizeUUID(char.UUID.String()), Data: data, NoRsp: args.Bool(2)})
	})

	mockDevice.On("Scan", mock.Anything, mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		handler := args.Get(2).(blelib.AdvHandler)
		for _, adv := range b.scanAdvertisements {
			handler(adv)
		}
	})

	b.mu.Lock()
	b.client = mockClient
	b.mu.Unlock()
	return mockDevice
}

// Notify pushes data to the handler subscribed on the given characteristic.
// Returns false when nothing is subscribed.
func (b *PeripheralDeviceBuilder) Notify(uuid string, data []byte) bool {
	b.mu.Lock()
	h, ok := b.handlers[device.NormalizeUUID(uuid)]
	b.mu.Unlock()
	if !ok {
		return false
	}
	h(data)
	return true
}

// Writes returns a snapshot of the recorded writes
func (b *PeripheralDeviceBuilder) Writes() []Write {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Write(nil), b.writes...)
}

// Drop simulates a link loss by closing the client's disconnect channel. Safe to call repeatedly.
func (b *PeripheralDeviceBuilder) Drop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil || b.client.DisconnectedCh == nil {
		return
	}
	select {
	case <-b.client.DisconnectedCh:
	default:
		close(b.client.DisconnectedCh)
	}
}

// Client returns the mocked ble.Client once Build has been called
func (b *PeripheralDeviceBuilder) Client() *mocks.MockClient {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.client
}

// GetServices returns the configured services
func (b *PeripheralDeviceBuilder) GetServices() []ServiceConfig {
	return b.profile.Services
}
