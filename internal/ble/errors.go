package ble

import "errors"

// Connection-level failures. All of them are fatal to the session they
// occur in; recovery means reconnecting.
var (
	ErrConnectionFailed       = errors.New("ble: connection failed")
	ErrDeviceNotFound         = errors.New("ble: device not found")
	ErrServiceNotFound        = errors.New("ble: service not found")
	ErrCharacteristicNotFound = errors.New("ble: characteristic not found")
	ErrNotConnected           = errors.New("ble: not connected")
	ErrSendFailed             = errors.New("ble: send failed")
	ErrScanTimeout            = errors.New("ble: scan timed out")
)
