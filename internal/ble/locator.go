package ble

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// LocatorOptions configures how the scale is discovered.
type LocatorOptions struct {
	Address        string        // hardware address tried first; empty skips the address phase
	Names          []string      // advertised names tried in order after the address
	AddressTimeout time.Duration // scan budget for the address phase
	NameTimeout    time.Duration // scan budget per name
}

// DefaultLocatorOptions returns the settings for a Mi Body Composition Scale 2.
func DefaultLocatorOptions() LocatorOptions {
	return LocatorOptions{
		Address:        "0C:95:41:CB:23:FF",
		Names:          []string{"MIBCS", "MIBFS", "MI_SCALE"},
		AddressTimeout: 10 * time.Second,
		NameTimeout:    5 * time.Second,
	}
}

// Locator resolves the scale's Device, first by address and then by name.
type Locator struct {
	adapter Adapter
	opts    LocatorOptions
}

// NewLocator creates a Locator. Zero timeouts fall back to the defaults.
func NewLocator(adapter Adapter, opts LocatorOptions) *Locator {
	def := DefaultLocatorOptions()
	if opts.AddressTimeout <= 0 {
		opts.AddressTimeout = def.AddressTimeout
	}
	if opts.NameTimeout <= 0 {
		opts.NameTimeout = def.NameTimeout
	}
	return &Locator{adapter: adapter, opts: opts}
}

// Locate returns the first matching device. It returns ErrNotFound when every
// candidate came up empty, a *TransportError when the adapter failed to scan,
// and ctx.Err() when ctx was cancelled.
func (l *Locator) Locate(ctx context.Context) (Device, error) {
	if l.opts.Address != "" {
		slog.Info("[BLE] looking for scale", "address", l.opts.Address)
		dev, err := l.find(ctx, l.opts.AddressTimeout, func(d Device) bool {
			return strings.EqualFold(d.Address, l.opts.Address)
		})
		if err == nil {
			slog.Info("[BLE] found scale by address", "name", dev.Name, "address", dev.Address)
			return dev, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Device{}, err
		}
	}

	for _, name := range l.opts.Names {
		dev, err := l.find(ctx, l.opts.NameTimeout, func(d Device) bool {
			return d.Name == name
		})
		if err == nil {
			slog.Info("[BLE] found scale by name", "name", dev.Name, "address", dev.Address)
			return dev, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Device{}, err
		}
	}

	slog.Warn("[BLE] scale not found by address or name")
	return Device{}, ErrNotFound
}

func (l *Locator) find(ctx context.Context, timeout time.Duration, match func(Device) bool) (Device, error) {
	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dev, err := l.adapter.FindDevice(scanCtx, match)
	switch {
	case err == nil:
		return dev, nil
	case ctx.Err() != nil:
		return Device{}, ctx.Err()
	case errors.Is(err, ErrNotFound):
		return Device{}, ErrNotFound
	default:
		return Device{}, &TransportError{Op: "scan", Err: err}
	}
}

// ScanForDevices enumerates every advertising peripheral for the given duration.
func ScanForDevices(adapter Adapter, timeout time.Duration) ([]Device, error) {
	if err := adapter.Enable(); err != nil {
		return nil, &TransportError{Op: "enable adapter", Err: err}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	devices, err := adapter.Scan(ctx, nil)
	if err != nil {
		return nil, &TransportError{Op: "scan", Err: err}
	}
	return devices, nil
}
