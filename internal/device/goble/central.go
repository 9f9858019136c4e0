package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/nusbridge/internal/device"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = defaultDevice

// Central implements device.Central on top of a go-ble HCI/CoreBluetooth device.
type Central struct {
	dev    ble.Device
	logger *logrus.Logger
}

// NewCentral opens the platform BLE device through DeviceFactory.
func NewCentral(logger *logrus.Logger) (*Central, error) {
	if logger == nil {
		logger = logrus.New()
	}
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	return &Central{dev: dev, logger: logger}, nil
}

// Scan wraps the raw ble.Device.Scan to convert ble.Advertisement to the device.Advertisement.
// Duplicates are reported so a peripheral seen before the filter was satisfied is not missed.
func (c *Central) Scan(ctx context.Context, handler func(device.Advertisement)) error {
	err := c.dev.Scan(ctx, true, func(adv ble.Advertisement) {
		handler(NewBLEAdvertisement(adv))
	})
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return NormalizeError(err)
}

// Dial connects to address and discovers its GATT profile.
func (c *Central) Dial(ctx context.Context, address string) (device.Client, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("device address is empty")
	}

	c.logger.WithField("address", address).Debug("Dialing BLE device...")
	client, err := c.dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, NormalizeError(err))
	}

	c.logger.WithField("address", address).Debug("Discovering services and characteristics...")
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			c.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		return nil, fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	c.logger.WithFields(logrus.Fields{
		"address":  address,
		"services": len(profile.Services),
	}).Debug("Profile discovered successfully")

	return newClient(address, client, profile, c.logger), nil
}
