// Package ble keeps a BLE link to a Mi Body Composition Scale 2 alive. It
// locates the scale, owns one connection per Session, and restarts sessions
// from a Supervisor whenever the radio link drops.
package ble

import (
	"context"
	"errors"
	"fmt"
)

// Body composition GATT UUIDs.
const (
	BodyCompositionServiceUUID     = "0000181b-0000-1000-8000-00805f9b34fb"
	BodyCompositionMeasurementUUID = "00002a9c-0000-1000-8000-00805f9b34fb"
)

// ErrNotFound is returned when no peripheral matched during discovery.
var ErrNotFound = errors.New("ble: scale not found")

// TransportError reports a failure of the BLE stack while connecting,
// discovering or subscribing. It ends the current session only.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ble: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
	// Unsubscribe stops notifications.
	Unsubscribe() error
}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name    string
	Address string // MAC on Linux/Windows, CoreBluetooth UUID on macOS
	RSSI    int
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan collects every distinct peripheral accepted by match until ctx is done.
	// A nil match accepts everything.
	Scan(ctx context.Context, match func(Device) bool) ([]Device, error)
	// FindDevice returns the first peripheral accepted by match, or
	// ErrNotFound once ctx is done.
	FindDevice(ctx context.Context, match func(Device) bool) (Device, error)
	// Connect establishes a connection to the device with the given address.
	Connect(ctx context.Context, address string) (Connection, error)
}
