// Package ble provides the Bluetooth Low Energy link to a companion mesh
// radio. The radio exposes a serial-over-BLE service with one write
// characteristic (client to radio) and one notify characteristic (radio to
// client); every notification carries exactly one protocol frame.
package ble

import "context"

// Companion radio BLE UUIDs (Nordic UART service).
const (
	ServiceUUID    = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	WriteCharUUID  = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
	NotifyCharUUID = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"
)

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data to the characteristic.
	Write(data []byte) error
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name    string
	Address string
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
	// Scan discovers the first peripheral advertising the given service UUID
	// whose name starts with namePrefix (an empty prefix matches any name).
	// Blocks until a device is found, ctx is cancelled, or the scan window
	// elapses.
	Scan(ctx context.Context, serviceUUID, namePrefix string) (Device, error)
	// Connect establishes a connection to the device with the given address.
	Connect(ctx context.Context, address string) (Connection, error)
}
