//go:build linux

package devicefactory

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/nusbridge/internal/device"
	"github.com/srg/nusbridge/internal/device/tinygo"
)

func init() {
	Factories[StackTinyGo] = func(logger *logrus.Logger) (device.Central, error) {
		c, err := tinygo.NewCentral(logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}
