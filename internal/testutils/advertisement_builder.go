package testutils

import (
	"fmt"

	"github.com/go-ble/ble"
	"github.com/srg/nusbridge/internal/testutils/mocks"
	"gopkg.in/yaml.v3"
)

// AdvertisementBuilder builds mocked BLE advertisements for testing.
// It provides a fluent API for configuring mock ble.Advertisement instances.
// Every accessor the bridge reads gets an expectation, so unset fields return zero values.
type AdvertisementBuilder struct {
	name        string
	address     string
	rssi        int
	manufData   []byte
	connectable bool
}

// NewAdvertisementBuilder creates a new AdvertisementBuilder with default values.
// The builder starts with connectable=true.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{connectable: true}
}

// WithName sets the local name for the advertisement.
func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.name = name
	return b
}

// WithAddress sets the device address for the advertisement.
func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.address = addr
	return b
}

// WithRSSI sets the signal strength for the advertisement.
func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.rssi = rssi
	return b
}

// WithManufacturerData sets the manufacturer-specific data.
func (b *AdvertisementBuilder) WithManufacturerData(data []byte) *AdvertisementBuilder {
	b.manufData = data
	return b
}

// WithConnectable sets whether the device accepts connections.
func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.connectable = c
	return b
}

// FromYAML fills builder fields from a YAML string with format support.
// Panics on invalid YAML as this is intended for test data setup.
func (b *AdvertisementBuilder) FromYAML(yamlStrFmt string, args ...interface{}) *AdvertisementBuilder {
	var data struct {
		Name             *string `yaml:"name"`
		Address          *string `yaml:"address"`
		RSSI             *int    `yaml:"rssi"`
		ManufacturerData []byte  `yaml:"manufacturer_data"`
		Connectable      *bool   `yaml:"connectable"`
	}
	if err := yaml.Unmarshal([]byte(fmt.Sprintf(yamlStrFmt, args...)), &data); err != nil {
		panic(fmt.Sprintf("FromYAML: failed to unmarshal: %v", err))
	}

	if data.Name != nil {
		b.name = *data.Name
	}
	if data.Address != nil {
		b.address = *data.Address
	}
	if data.RSSI != nil {
		b.rssi = *data.RSSI
	}
	if data.ManufacturerData != nil {
		b.manufData = data.ManufacturerData
	}
	if data.Connectable != nil {
		b.connectable = *data.Connectable
	}
	return b
}

// Build creates a MockAdvertisement that implements ble.Advertisement interface.
func (b *AdvertisementBuilder) Build() *mocks.MockAdvertisement {
	adv := &mocks.MockAdvertisement{}

	addr := &mocks.MockAddr{}
	addr.On("String").Return(b.address)
	adv.On("Addr").Return(addr)
	adv.On("LocalName").Return(b.name)
	adv.On("RSSI").Return(b.rssi)
	adv.On("ManufacturerData").Return(b.manufData)
	adv.On("Connectable").Return(b.connectable)

	return adv
}

// AdvertisementArrayBuilder builds arrays of ble.Advertisement with generic parent support.
//
// Type Parameter:
//
//	T: The type to return from Build(). Common values:
//	  - []ble.Advertisement for standalone usage
//	  - *PeripheralDeviceBuilder for integration with device builders
//
// Example:
//
//	peripheral := NewNUSPeripheralBuilder().
//	    WithScanAdvertisements().
//	        WithNewAdvertisement().WithName("Posture ").WithAddress("AA:BB:CC:DD:EE:FF").Build().
//	        Build()
type AdvertisementArrayBuilder[T any] struct {
	advertisements []ble.Advertisement
	parent         T
	buildFunc      func(T, []ble.Advertisement) T
}

// NewAdvertisementArrayBuilder creates a new array builder with the specified generic type.
func NewAdvertisementArrayBuilder[T any]() *AdvertisementArrayBuilder[T] {
	return &AdvertisementArrayBuilder[T]{
		advertisements: make([]ble.Advertisement, 0),
	}
}

// WithAdvertisements adds pre-existing Advertisements to the array and returns the array builder for chaining.
func (ab *AdvertisementArrayBuilder[T]) WithAdvertisements(ads ...ble.Advertisement) *AdvertisementArrayBuilder[T] {
	ab.advertisements = append(ab.advertisements, ads...)
	return ab
}

// WithNewAdvertisement adds a new advertisement to the array and returns an AdvertisementBuilder.
// Calling Build() on the returned item appends the advertisement and returns the array builder.
func (ab *AdvertisementArrayBuilder[T]) WithNewAdvertisement() *AdvertisementArrayBuilderItem[T] {
	return &AdvertisementArrayBuilderItem[T]{
		AdvertisementBuilder: NewAdvertisementBuilder(),
		parent:               ab,
	}
}

// Build returns the parent if it exists and has a buildFunc, otherwise returns the array
func (ab *AdvertisementArrayBuilder[T]) Build() T {
	if ab.buildFunc != nil {
		return ab.buildFunc(ab.parent, ab.advertisements)
	}
	var result interface{} = ab.advertisements
	return result.(T)
}

// AdvertisementArrayBuilderItem wraps AdvertisementBuilder to provide array functionality.
type AdvertisementArrayBuilderItem[T any] struct {
	*AdvertisementBuilder
	parent *AdvertisementArrayBuilder[T]
}

// Build adds the advertisement to the parent array and returns the array builder
func (abi *AdvertisementArrayBuilderItem[T]) Build() *AdvertisementArrayBuilder[T] {
	abi.parent.advertisements = append(abi.parent.advertisements, abi.AdvertisementBuilder.Build())
	return abi.parent
}

// WithName sets the local name and keeps the item chainable
func (abi *AdvertisementArrayBuilderItem[T]) WithName(name string) *AdvertisementArrayBuilderItem[T] {
	abi.AdvertisementBuilder.WithName(name)
	return abi
}

// WithAddress sets the device address and keeps the item chainable
func (abi *AdvertisementArrayBuilderItem[T]) WithAddress(addr string) *AdvertisementArrayBuilderItem[T] {
	abi.AdvertisementBuilder.WithAddress(addr)
	return abi
}

// WithRSSI sets the signal strength and keeps the item chainable
func (abi *AdvertisementArrayBuilderItem[T]) WithRSSI(rssi int) *AdvertisementArrayBuilderItem[T] {
	abi.AdvertisementBuilder.WithRSSI(rssi)
	return abi
}

// WithManufacturerData sets the manufacturer data and keeps the item chainable
func (abi *AdvertisementArrayBuilderItem[T]) WithManufacturerData(data []byte) *AdvertisementArrayBuilderItem[T] {
	abi.AdvertisementBuilder.WithManufacturerData(data)
	return abi
}

// WithConnectable sets the connectable flag and keeps the item chainable
func (abi *AdvertisementArrayBuilderItem[T]) WithConnectable(c bool) *AdvertisementArrayBuilderItem[T] {
	abi.AdvertisementBuilder.WithConnectable(c)
	return abi
}
