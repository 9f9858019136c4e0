package devicefactory

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/srg/nusbridge/internal/device"
	goble "github.com/srg/nusbridge/internal/device/goble"
)

// Stack names accepted by NewCentral.
const (
	StackGoBLE  = "go-ble"
	StackTinyGo = "tinygo"
)

// CentralFactory creates a device.Central for a stack name.
type CentralFactory func(logger *logrus.Logger) (device.Central, error)

// Factories maps stack names to constructors.
// This is a variable so that it can be overridden in tests.
var Factories = map[string]CentralFactory{
	StackGoBLE: func(logger *logrus.Logger) (device.Central, error) {
		c, err := goble.NewCentral(logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	},
}

// NewCentral creates the BLE central for the named stack. An empty name selects go-ble.
func NewCentral(stack string, logger *logrus.Logger) (device.Central, error) {
	if stack == "" {
		stack = StackGoBLE
	}
	factory, ok := Factories[stack]
	if !ok {
		return nil, fmt.Errorf("%w: BLE stack %q (available: %v)", device.ErrUnsupported, stack, Stacks())
	}
	return factory(logger)
}

// Stacks lists the stack names available on this platform.
func Stacks() []string {
	names := make([]string, 0, len(Factories))
	for name := range Factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
