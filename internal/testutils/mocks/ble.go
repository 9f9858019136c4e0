// Package mocks holds testify mocks for the go-ble interfaces the bridge consumes.
// Each mock embeds the ble interface so unused methods panic loudly instead of
// silently returning zero values.
package mocks

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// MockAddr mocks ble.Addr
type MockAddr struct {
	mock.Mock
}

func (m *MockAddr) String() string {
	return m.Called().String(0)
}

// MockAdvertisement mocks ble.Advertisement
type MockAdvertisement struct {
	ble.Advertisement
	mock.Mock
}

func (m *MockAdvertisement) LocalName() string {
	return m.Called().String(0)
}

func (m *MockAdvertisement) ManufacturerData() []byte {
	ret := m.Called()
	if v := ret.Get(0); v != nil {
		return v.([]byte)
	}
	return nil
}

func (m *MockAdvertisement) Connectable() bool {
	return m.Called().Bool(0)
}

func (m *MockAdvertisement) RSSI() int {
	return m.Called().Int(0)
}

func (m *MockAdvertisement) Addr() ble.Addr {
	ret := m.Called()
	if v := ret.Get(0); v != nil {
		return v.(ble.Addr)
	}
	return nil
}

// MockDevice mocks ble.Device
type MockDevice struct {
	ble.Device
	mock.Mock
}

func (m *MockDevice) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	return m.Called(ctx, allowDup, h).Error(0)
}

func (m *MockDevice) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) {
	ret := m.Called(ctx, a)
	var client ble.Client
	if v := ret.Get(0); v != nil {
		client = v.(ble.Client)
	}
	return client, ret.Error(1)
}

// MockClient mocks ble.Client
type MockClient struct {
	ble.Client
	mock.Mock

	// DisconnectedCh is returned by Disconnected when set
	DisconnectedCh chan struct{}
}

func (m *MockClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	ret := m.Called(force)
	var p *ble.Profile
	if v := ret.Get(0); v != nil {
		p = v.(*ble.Profile)
	}
	return p, ret.Error(1)
}

func (m *MockClient) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	return m.Called(c, value, noRsp).Error(0)
}

func (m *MockClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	return m.Called(c, ind, h).Error(0)
}

func (m *MockClient) CancelConnection() error {
	return m.Called().Error(0)
}

func (m *MockClient) Disconnected() <-chan struct{} {
	if m.DisconnectedCh == nil {
		return nil
	}
	return m.DisconnectedCh
}
