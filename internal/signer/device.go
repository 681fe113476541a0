package signer

import (
	"fmt"
)

// DeviceStatus is the state reported by a hardware device when it refuses
// to sign.
type DeviceStatus int

const (
	DeviceOK DeviceStatus = iota
	DeviceLocked
	DeviceAppNotOpen
	DeviceUserRejected
	DeviceDisconnected
	DeviceBusy
)

var deviceMessages = map[DeviceStatus]string{
	DeviceOK:           "ok",
	DeviceLocked:       "device locked, unlock it and retry",
	DeviceAppNotOpen:   "signing app is not open on the device",
	DeviceUserRejected: "user rejected the request on the device",
	DeviceDisconnected: "device disconnected",
	DeviceBusy:         "device busy",
}

func (s DeviceStatus) String() string {
	if m, ok := deviceMessages[s]; ok {
		return m
	}
	return fmt.Sprintf("device status %d", int(s))
}

// Terminal reports whether asking again without operator action is pointless.
// Only a busy device is worth retrying; an error reporting DeviceOK is
// inconsistent and is not retried either.
func (s DeviceStatus) Terminal() bool {
	return s != DeviceBusy
}

// DeviceError carries a device status out of a HardwareBackend.
type DeviceError struct {
	Status DeviceStatus
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Status, e.Err)
	}
	return e.Status.String()
}

func (e *DeviceError) Unwrap() error { return e.Err }
