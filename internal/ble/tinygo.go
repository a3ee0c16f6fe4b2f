package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"
)

// TinyGoAdapter wraps tinygo-org/bluetooth (BlueZ on Linux, CoreBluetooth on
// macOS, WinRT on Windows). On macOS device addresses are CoreBluetooth UUIDs,
// not MAC addresses, and Device.Address stores that UUID string.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects the connections map.
	mu          sync.Mutex
	connections map[string]*tinyGoConnection // keyed by upper-case address
}

// NewTinyGoAdapter creates a new BLE adapter on the system default controller.
func NewTinyGoAdapter() *TinyGoAdapter {
	return &TinyGoAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*tinyGoConnection),
	}
}

func (a *TinyGoAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	// tinygo/bluetooth reports peripheral disconnects through the single
	// adapter-level connect handler (connected=false).
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		key := strings.ToUpper(device.Address.String())
		a.mu.Lock()
		conn, ok := a.connections[key]
		delete(a.connections, key)
		a.mu.Unlock()
		if ok {
			conn.fireDisconnect()
		}
	})

	return nil
}

// scan runs a blocking scan until ctx is done or onResult returns false.
func (a *TinyGoAdapter) scan(ctx context.Context, onResult func(Device) bool) error {
	if ctx.Err() != nil {
		return nil
	}
	stop := func() { _ = a.adapter.StopScan() }

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()

	err := a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		dev := Device{
			Name:    result.LocalName(),
			Address: result.Address.String(),
			RSSI:    int(result.RSSI),
		}
		// ctx may have fired before the scan was running.
		if ctx.Err() != nil || !onResult(dev) {
			stop()
		}
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("ble: scan: %w", err)
	}
	return nil
}

func (a *TinyGoAdapter) Scan(ctx context.Context, match func(Device) bool) ([]Device, error) {
	var mu sync.Mutex
	var devices []Device
	seen := make(map[string]bool)

	err := a.scan(ctx, func(dev Device) bool {
		if match != nil && !match(dev) {
			return true
		}
		mu.Lock()
		defer mu.Unlock()
		if !seen[dev.Address] {
			seen[dev.Address] = true
			devices = append(devices, dev)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return devices, nil
}

func (a *TinyGoAdapter) FindDevice(ctx context.Context, match func(Device) bool) (Device, error) {
	var mu sync.Mutex
	var found *Device

	err := a.scan(ctx, func(dev Device) bool {
		if !match(dev) {
			return true
		}
		mu.Lock()
		defer mu.Unlock()
		if found == nil {
			found = &dev
		}
		return false
	})
	if err != nil {
		return Device{}, err
	}

	mu.Lock()
	defer mu.Unlock()
	if found == nil {
		return Device{}, ErrNotFound
	}
	return *found, nil
}

func (a *TinyGoAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(address)

	// tinygo/bluetooth's Connect blocks internally with its own timeout.
	// We wrap it to also respect our ctx cancellation.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		// The underlying Connect may still succeed later; tear it down when it does.
		go func() {
			if result := <-ch; result.err == nil {
				_ = result.device.Disconnect()
			}
		}()
		return nil, fmt.Errorf("ble: connect to %s: %w", address, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", address, result.err)
		}
		key := strings.ToUpper(address)
		conn := &tinyGoConnection{device: &result.device, adapter: a, key: key}

		// Track this connection so the adapter-level disconnect handler
		// can find it and fire its OnDisconnect callback.
		a.mu.Lock()
		a.connections[key] = conn
		a.mu.Unlock()

		return conn, nil
	}
}

// forget stops tracking a connection we are tearing down ourselves.
func (a *TinyGoAdapter) forget(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.connections, key)
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)

type tinyGoConnection struct {
	device  *bluetooth.Device
	adapter *TinyGoAdapter
	key     string

	mu           sync.Mutex
	disconnectCb func()
	fired        bool
}

func (c *tinyGoConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, err
	}
	charUUIDParsed, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, err
	}

	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("ble: service %s not found", serviceUUID)
	}

	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{charUUIDParsed})
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("ble: characteristic %s not found", charUUID)
	}

	return &tinyGoCharacteristic{char: &chars[0]}, nil
}

func (c *tinyGoConnection) Disconnect() error {
	c.adapter.forget(c.key)
	return c.device.Disconnect()
}

func (c *tinyGoConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

// fireDisconnect invokes the disconnect callback at most once.
func (c *tinyGoConnection) fireDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	already := c.fired
	c.fired = true
	c.mu.Unlock()
	if cb != nil && !already {
		cb()
	}
}

type tinyGoCharacteristic struct {
	char *bluetooth.DeviceCharacteristic
}

func (c *tinyGoCharacteristic) Subscribe(cb func([]byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		cb(buf)
	})
}

// Unsubscribe disables notifications; tinygo/bluetooth treats a nil callback
// as a request to stop notifying.
func (c *tinyGoCharacteristic) Unsubscribe() error {
	return c.char.EnableNotifications(nil)
}
