package goble_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/nusbridge/internal/device"
	goble "github.com/srg/nusbridge/internal/device/goble"
	"github.com/srg/nusbridge/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type CentralTestSuite struct {
	testutils.MockBLEPeripheralSuite
}

func (s *CentralTestSuite) SetupTest() {
	s.WithPeripheral().
		WithScanAdvertisements().
		WithNewAdvertisement().WithName("Other").WithAddress("11:22:33:44:55:66").WithRSSI(-70).Build().
		WithNewAdvertisement().WithName("Posture ").WithAddress("AA:BB:CC:DD:EE:FF").WithRSSI(-42).
		WithManufacturerData([]byte{0x59, 0x00, 0x01}).Build().
		Build()

	s.MockBLEPeripheralSuite.SetupTest()
}

func (s *CentralTestSuite) connect() device.Client {
	central, err := goble.NewCentral(s.Logger)
	s.Require().NoError(err, "MUST create central from the device factory")

	client, err := central.Dial(context.Background(), "AA:BB:CC:DD:EE:FF")
	s.Require().NoError(err, "MUST connect to the mocked peripheral")
	return client
}

func (s *CentralTestSuite) TestScan() {
	// GOAL: Verify go-ble advertisements are adapted to device.Advertisement
	//
	// TEST SCENARIO: mocked device reports two advertisements → handler receives both with all fields

	central, err := goble.NewCentral(s.Logger)
	s.Require().NoError(err)

	var ads []device.Advertisement
	err = central.Scan(context.Background(), func(adv device.Advertisement) {
		ads = append(ads, adv)
	})
	s.Require().NoError(err, "Scan MUST succeed")
	s.Require().Len(ads, 2, "MUST report every advertisement")

	desc := device.NewDescriptor(ads[1])
	s.Equal("Posture ", desc.Name, "local name MUST keep trailing whitespace")
	s.Equal("AA:BB:CC:DD:EE:FF", desc.Address)
	s.Equal(-42, desc.RSSI)
	s.True(desc.Connectable)
	s.Equal([]byte{0x59, 0x00, 0x01}, desc.Payload(), "payload MUST carry manufacturer data")
}

func (s *CentralTestSuite) TestCharacteristicLookup() {
	// GOAL: Verify NUS characteristics resolve with properties and lookup failures are typed
	//
	// TEST SCENARIO: connect → resolve RX/TX → properties mapped → unknown UUIDs yield NotFoundError

	client := s.connect()
	s.Equal("AA:BB:CC:DD:EE:FF", client.Address())

	s.Run("RX", func() {
		rx, err := client.Characteristic(device.NUSServiceUUID, device.NUSRXCharUUID)
		s.Require().NoError(err)
		s.Equal(device.NormalizeUUID(device.NUSRXCharUUID), rx.UUID())
		s.True(rx.Properties().Has(device.PropWrite|device.PropWriteNoResponse), "RX MUST report both write types")
	})

	s.Run("TX by uppercase UUID", func() {
		tx, err := client.Characteristic("6E400001-B5A3-F393-E0A9-E50E24DCCA9E", "6E400003-B5A3-F393-E0A9-E50E24DCCA9E")
		s.Require().NoError(err, "lookup MUST be case-insensitive")
		s.True(tx.Properties().Has(device.PropNotify))
	})

	s.Run("missing service", func() {
		_, err := client.Characteristic("180d", "2a37")
		var nf *device.NotFoundError
		s.Require().ErrorAs(err, &nf)
		s.Equal("service", nf.Resource)
	})

	s.Run("missing characteristic", func() {
		_, err := client.Characteristic(device.NUSServiceUUID, "2a37")
		var nf *device.NotFoundError
		s.Require().ErrorAs(err, &nf)
		s.Equal("characteristic", nf.Resource)
		s.Equal([]string{device.NUSServiceUUID, "2a37"}, nf.UUIDs)
	})
}

func (s *CentralTestSuite) TestWriteAndNotify() {
	// GOAL: Verify writes map withResponse onto go-ble noRsp and notifications reach the handler
	//
	// TEST SCENARIO: write with and without response → recorded noRsp flags; peripheral notifies → handler gets bytes

	client := s.connect()
	rx, err := client.Characteristic(device.NUSServiceUUID, device.NUSRXCharUUID)
	s.Require().NoError(err)
	tx, err := client.Characteristic(device.NUSServiceUUID, device.NUSTXCharUUID)
	s.Require().NoError(err)

	s.Require().NoError(rx.Write([]byte("AB"), false))
	s.Require().NoError(rx.Write([]byte("CD"), true))

	writes := s.PeripheralBuilder.Writes()
	s.Require().Len(writes, 2)
	s.Equal([]byte("AB"), writes[0].Data)
	s.True(writes[0].NoRsp, "write without response MUST set noRsp")
	s.False(writes[1].NoRsp, "write with response MUST clear noRsp")

	got := make(chan []byte, 1)
	s.Require().NoError(tx.Subscribe(func(data []byte) { got <- append([]byte(nil), data...) }))
	s.Require().True(s.PeripheralBuilder.Notify(device.NUSTXCharUUID, []byte{0x01, 0x02}))

	select {
	case data := <-got:
		s.Equal([]byte{0x01, 0x02}, data)
	case <-time.After(time.Second):
		s.FailNow("notification MUST reach the handler")
	}
}

func (s *CentralTestSuite) TestDisconnect() {
	// GOAL: Verify link loss and local cancellation both close Disconnected, and cancel reaches the stack once
	//
	// TEST SCENARIO: peripheral drops → Disconnected closed; CancelConnection twice → one stack call

	s.Run("remote drop", func() {
		client := s.connect()
		s.PeripheralBuilder.Drop()

		select {
		case <-client.Disconnected():
		case <-time.After(time.Second):
			s.FailNow("Disconnected MUST close on link loss")
		}
	})

	s.Run("local cancel", func() {
		client := s.connect()
		s.NoError(client.CancelConnection())
		s.NoError(client.CancelConnection())

		<-client.Disconnected()
		s.PeripheralBuilder.Client().AssertNumberOfCalls(s.T(), "CancelConnection", 1)
	})
}

func (s *CentralTestSuite) TestDialFailure() {
	// GOAL: Verify dial errors are normalized
	//
	// TEST SCENARIO: stack reports a disconnect-style failure → ErrNotConnected in the chain

	s.PeripheralBuilder.WithDialError(errors.New("device disconnected during connect"))

	central, err := goble.NewCentral(s.Logger)
	s.Require().NoError(err)

	_, err = central.Dial(context.Background(), "AA:BB:CC:DD:EE:FF")
	s.ErrorIs(err, device.ErrNotConnected, "dial error MUST be normalized")
	s.Contains(err.Error(), "AA:BB:CC:DD:EE:FF", "dial error MUST name the address")
}

func TestCentralTestSuite(t *testing.T) {
	suite.Run(t, new(CentralTestSuite))
}

func TestNormalizeError(t *testing.T) {
	off := goble.NormalizeError(errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"))
	if !errors.Is(off, device.ErrBluetoothOff) {
		t.Fatalf("CoreBluetooth powered-off state MUST map to ErrBluetoothOff, got %v", off)
	}
	hci := goble.NormalizeError(errors.New("can't init hci: no devices available"))
	if !errors.Is(hci, device.ErrBluetoothOff) {
		t.Fatalf("HCI init failure MUST map to ErrBluetoothOff, got %v", hci)
	}
	if goble.NormalizeError(nil) != nil {
		t.Fatal("nil MUST stay nil")
	}
}
