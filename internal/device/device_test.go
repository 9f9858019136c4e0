package device_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/srg/nusbridge/internal/device"
	"github.com/srg/nusbridge/internal/testutils"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want error
	}{
		{"bluetooth off", "Bluetooth is turned off", device.ErrBluetoothOff},
		{"adapter not powered", "adapter not powered", device.ErrBluetoothOff},
		{"device not connected", "write failed: device not connected", device.ErrNotConnected},
		{"disconnected", "peripheral disconnected", device.ErrNotConnected},
		{"already connected", "device already connected", device.ErrAlreadyConnected},
		{"not initialized", "connection is not initialized", device.ErrNotInitialized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := device.NormalizeError(errors.New(tt.msg))
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorContains(t, err, tt.msg, "original message MUST be preserved")
		})
	}

	t.Run("passthrough", func(t *testing.T) {
		orig := errors.New("att: insufficient authentication")
		assert.Same(t, orig, device.NormalizeError(orig))
		assert.NoError(t, device.NormalizeError(nil))
	})

	t.Run("already normalized", func(t *testing.T) {
		wrapped := fmt.Errorf("subscribe: %w", device.ErrNotConnected)
		assert.Same(t, wrapped, device.NormalizeError(wrapped), "normalized errors MUST NOT be wrapped twice")
	})
}

func TestConnectionErrorIs(t *testing.T) {
	err := &device.ConnectionError{State: device.NotConnected, Msg: "link lost"}

	assert.ErrorIs(t, err, device.ErrNotConnected, "errors MUST compare by state")
	assert.NotErrorIs(t, err, device.ErrBluetoothOff)
	assert.Equal(t, "not_connected: link lost", err.Error())
	assert.True(t, device.IsConnectionState(fmt.Errorf("x: %w", err), device.NotConnected))
	assert.False(t, device.IsConnectionState(errors.New("x"), device.NotConnected))
}

func TestNotFoundError(t *testing.T) {
	assert.Equal(t, "service not found", (&device.NotFoundError{Resource: "service"}).Error())
	assert.Equal(t, `service "180d" not found`, (&device.NotFoundError{Resource: "service", UUIDs: []string{"180d"}}).Error())
	assert.Equal(t, `characteristic "2a37" not found in service "180d"`,
		(&device.NotFoundError{Resource: "characteristic", UUIDs: []string{"180d", "2a37"}}).Error())
}

func TestDescriptor(t *testing.T) {
	adv := testutils.FakeAdvertisement{Name: "Posture ", Address: "AA:BB", RSSIValue: -60, Data: []byte{1, 2, 3}}
	desc := device.NewDescriptor(adv)

	assert.Equal(t, "Posture ", desc.Name)
	assert.Equal(t, "AA:BB", desc.Address)
	assert.Equal(t, -60, desc.RSSI)
	assert.True(t, desc.Connectable)
	assert.False(t, desc.IsZero())
	assert.Equal(t, `"Posture " (AA:BB)`, desc.String())

	// Mutating the source or the returned copy MUST NOT affect the descriptor
	adv.Data[0] = 9
	p := desc.Payload()
	p[1] = 9
	assert.Equal(t, []byte{1, 2, 3}, desc.Payload())

	assert.True(t, device.Descriptor{}.IsZero())
	assert.Nil(t, device.NewDescriptor(testutils.FakeAdvertisement{Address: "CC"}).Payload())
	assert.Equal(t, "CC", device.NewDescriptor(testutils.FakeAdvertisement{Address: "CC"}).String())
}

func TestPropertyString(t *testing.T) {
	assert.Equal(t, "none", device.Property(0).String())
	assert.Equal(t, "write,write-without-response,notify",
		(device.PropWrite | device.PropWriteNoResponse | device.PropNotify).String())
	assert.True(t, (device.PropWrite | device.PropNotify).Has(device.PropNotify))
	assert.False(t, device.PropWrite.Has(device.PropWrite|device.PropNotify))
}
