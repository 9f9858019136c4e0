// Package discovery finds the bridge peripheral among BLE advertisements.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/nusbridge/internal/device"
	"github.com/srg/nusbridge/internal/groutine"
)

// ErrDiscoveryTimeout is returned when no advertisement matched within the scan timeout.
var ErrDiscoveryTimeout = errors.New("no matching device found before scan timeout")

// Filter decides whether a descriptor is the peripheral to connect to.
type Filter func(desc device.Descriptor) bool

// NameEquals matches the advertised local name exactly. No trimming or case folding.
func NameEquals(name string) Filter {
	return func(desc device.Descriptor) bool {
		return desc.Name == name
	}
}

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// Options configures Discover
type Options struct {
	Logger   *logrus.Logger
	Progress ProgressCallback
}

// Option mutates Options
type Option func(*Options)

// WithLogger sets the logger used for per-advertisement debug output.
func WithLogger(logger *logrus.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithProgress sets the phase callback.
func WithProgress(cb ProgressCallback) Option {
	return func(o *Options) { o.Progress = cb }
}

// Discover scans until the first advertisement accepted by filter and returns its descriptor.
// Scanning stops as soon as a match is captured; later matches are ignored. A zero timeout
// scans until ctx is done. Parent cancellation returns the context error.
func Discover(ctx context.Context, central device.Central, filter Filter, timeout time.Duration, opts ...Option) (device.Descriptor, error) {
	if central == nil {
		return device.Descriptor{}, errors.New("discovery requires a BLE central")
	}
	if filter == nil {
		return device.Descriptor{}, errors.New("discovery requires a filter")
	}

	o := Options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = logrus.New()
	}
	if o.Progress == nil {
		o.Progress = func(string) {} // No-op callback
	}

	scanCtx, stopScan := context.WithCancel(ctx)
	defer stopScan()

	// One slot: only the first match is ever sent
	found := make(chan device.Descriptor, 1)
	var matched atomic.Bool
	seen := hashmap.New[string, struct{}]()

	handler := func(adv device.Advertisement) {
		if matched.Load() {
			return
		}
		desc := device.NewDescriptor(adv)
		if !filter(desc) {
			if _, loaded := seen.GetOrInsert(desc.Address, struct{}{}); !loaded {
				o.Logger.WithFields(logrus.Fields{
					"address": desc.Address,
					"name":    desc.Name,
					"rssi":    desc.RSSI,
				}).Debug("Ignoring non-matching device")
			}
			return
		}
		if !matched.CompareAndSwap(false, true) {
			return
		}
		found <- desc
		stopScan()
	}

	o.Logger.WithField("timeout", timeout).Info("Scanning for BLE device...")
	o.Progress("Scanning")

	scanDone := make(chan error, 1)
	groutine.Go(scanCtx, "discovery-scan", func(ctx context.Context) {
		scanDone <- central.Scan(ctx, handler)
	})

	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	var (
		desc     device.Descriptor
		ok       bool
		scanErr  error
		timedOut bool
	)
	select {
	case desc = <-found:
		ok = true
	case scanErr = <-scanDone:
		scanDone = nil
	case <-timeoutC:
		timedOut = true
	case <-ctx.Done():
	}

	stopScan()
	if scanDone != nil {
		scanErr = <-scanDone
	}
	if !ok {
		// A match may have landed while the scan was stopping
		select {
		case desc = <-found:
			ok = true
		default:
		}
	}

	switch {
	case ctx.Err() != nil:
		return device.Descriptor{}, ctx.Err()
	case ok:
		o.Logger.WithFields(logrus.Fields{
			"address": desc.Address,
			"name":    desc.Name,
			"rssi":    desc.RSSI,
		}).Info("Found matching device")
		o.Progress("Found")
		return desc, nil
	case timedOut:
		return device.Descriptor{}, fmt.Errorf("%w (%s)", ErrDiscoveryTimeout, timeout)
	case scanErr != nil:
		return device.Descriptor{}, fmt.Errorf("scan failed: %w", scanErr)
	default:
		return device.Descriptor{}, errors.New("scan stopped before a matching device was found")
	}
}
