package testutils

import (
	"time"

	blelib "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	goble "github.com/srg/nusbridge/internal/device/goble"
	"github.com/stretchr/testify/suite"
)

// MockBLEPeripheralSuite provides a reusable test suite with mock BLE peripheral support.
//
// The suite swaps goble.DeviceFactory for a mocked go-ble device built from PeripheralBuilder
// and restores it afterwards. Without explicit configuration the peripheral exposes the
// Nordic UART Service.
//
// Custom device profile usage:
//
//	type CentralSuite struct {
//	    testutils.MockBLEPeripheralSuite
//	}
//
//	func (s *CentralSuite) SetupTest() {
//	    s.WithPeripheral().
//	        WithScanAdvertisements().
//	        WithNewAdvertisement().WithName("Posture ").WithAddress("AA:BB:CC:DD:EE:FF").Build().
//	        Build()
//
//	    s.MockBLEPeripheralSuite.SetupTest() // Call parent last to apply configuration
//	}
type MockBLEPeripheralSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	OriginalDeviceFactory func() (blelib.Device, error)
	TestTimeout           time.Duration

	PeripheralBuilder *PeripheralDeviceBuilder
}

// SetupSuite initializes the test suite. Called once before all tests in the suite.
func (s *MockBLEPeripheralSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 5 * time.Second

	s.OriginalDeviceFactory = goble.DeviceFactory
	s.T().Cleanup(func() {
		if s.OriginalDeviceFactory != nil {
			goble.DeviceFactory = s.OriginalDeviceFactory
		}
	})
}

// SetupTest configures the mock device factory before each test.
func (s *MockBLEPeripheralSuite) SetupTest() {
	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = NewNUSPeripheralBuilder()
	}

	builder := s.PeripheralBuilder
	goble.DeviceFactory = func() (blelib.Device, error) {
		return builder.Build(), nil
	}
}

// TearDownTest restores the device factory and resets the peripheral builder.
func (s *MockBLEPeripheralSuite) TearDownTest() {
	if s.OriginalDeviceFactory != nil {
		goble.DeviceFactory = s.OriginalDeviceFactory
	}
	s.PeripheralBuilder = nil
}

// WithPeripheral returns the peripheral builder for fluent configuration.
func (s *MockBLEPeripheralSuite) WithPeripheral() *PeripheralDeviceBuilder {
	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = NewNUSPeripheralBuilder()
	}
	return s.PeripheralBuilder
}
