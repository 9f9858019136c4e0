package goble

import (
	"fmt"
	"strings"

	"github.com/srg/nusbridge/internal/device"
)

// NormalizeError maps known go-ble error strings to structured ConnectionError types.
// It ensures consistent handling even if the upstream library changes messages slightly.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	case strings.Contains(strings.ToLower(msg), "can't init hci"):
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	default:
		return device.NormalizeError(err)
	}
}
