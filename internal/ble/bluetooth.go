package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// ScanTimeout bounds how long a scan waits for a matching advertisement.
const ScanTimeout = 10 * time.Second

// BluetoothAdapter wraps tinygo-org/bluetooth. On macOS, device addresses
// are CoreBluetooth UUIDs rather than MAC addresses; the Address fields in
// config and Device structs store whichever form the platform uses.
type BluetoothAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects the connections map.
	mu          sync.Mutex
	connections map[string]*bluetoothConnection // keyed by device address
}

// NewBluetoothAdapter creates a BLE adapter backed by the platform stack.
func NewBluetoothAdapter() *BluetoothAdapter {
	return &BluetoothAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*bluetoothConnection),
	}
}

func (a *BluetoothAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}

	// Adapter-level connect/disconnect handler. tinygo/bluetooth fires this
	// with connected=false when a peripheral drops, which is the only
	// disconnect signal some platforms deliver.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		addr := device.Address.String()
		a.mu.Lock()
		conn, ok := a.connections[addr]
		a.mu.Unlock()
		if ok {
			conn.fireDisconnect()
		}
	})

	return nil
}

// Scan looks for the first advertisement matching the radio. With a name
// prefix configured the match is by name; otherwise by advertised service
// UUID. The hardware callback and the scan timer race to resolve a single
// one-shot waiter; the loser's resolution is a no-op.
func (a *BluetoothAdapter) Scan(ctx context.Context, serviceUUID, namePrefix string) (Device, error) {
	uuid, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return Device{}, fmt.Errorf("ble: parse service UUID: %w", err)
	}

	w := newWaiter[Device]()
	go func() {
		err := a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			if namePrefix != "" {
				if !strings.HasPrefix(result.LocalName(), namePrefix) {
					return
				}
			} else if !result.HasServiceUUID(uuid) {
				return
			}
			_ = adapter.StopScan()
			w.resolve(Device{
				Name:    result.LocalName(),
				Address: result.Address.String(),
				RSSI:    int(result.RSSI),
			}, nil)
		})
		if err != nil {
			w.resolve(Device{}, fmt.Errorf("ble: scan: %w", err))
		}
	}()

	dev, err := w.wait(ctx, ScanTimeout, ErrScanTimeout)
	if err != nil {
		// Stop the radio scan whether we timed out or were cancelled;
		// the scan goroutine exits once StopScan unblocks it.
		_ = a.adapter.StopScan()
		return Device{}, err
	}
	return dev, nil
}

func (a *BluetoothAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(address)

	// tinygo/bluetooth's Connect blocks internally with its own timeout;
	// bridge it through a waiter so ctx cancellation returns promptly.
	w := newWaiter[bluetooth.Device]()
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		if err != nil {
			w.resolve(bluetooth.Device{}, fmt.Errorf("%w: %s: %v", ErrConnectionFailed, address, err))
			return
		}
		w.resolve(device, nil)
	}()

	device, err := w.wait(ctx, 30*time.Second, ErrConnectionFailed)
	if err != nil {
		return nil, err
	}

	conn := &bluetoothConnection{device: device}
	a.mu.Lock()
	a.connections[address] = conn
	a.mu.Unlock()
	return conn, nil
}

// Compile-time check that BluetoothAdapter implements Adapter.
var _ Adapter = (*BluetoothAdapter)(nil)

type bluetoothConnection struct {
	device bluetooth.Device

	mu           sync.Mutex
	disconnectCb func()
}

func (c *bluetoothConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: parse service UUID: %w", err)
	}
	chUUID, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: parse characteristic UUID: %w", err)
	}

	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil || len(svcs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, serviceUUID)
	}

	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{chUUID})
	if err != nil || len(chars) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrCharacteristicNotFound, charUUID)
	}

	return &bluetoothCharacteristic{char: chars[0]}, nil
}

func (c *bluetoothConnection) Disconnect() error {
	return c.device.Disconnect()
}

func (c *bluetoothConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

func (c *bluetoothConnection) fireDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type bluetoothCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *bluetoothCharacteristic) Write(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}

func (c *bluetoothCharacteristic) Subscribe(cb func([]byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		cb(buf)
	})
}
