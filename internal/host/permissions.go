package host

import (
	"errors"
	"fmt"
)

var ErrCaptureUnavailable = errors.New("audio capture is not available")

// Permissions decides whether the daemon may open the microphone
type Permissions interface {
	CanRecordAudio() error
}

// CaptureBackend is the part of an audio backend the permission check
// probes
type CaptureBackend interface {
	Available() error
	DeviceExists(device string) bool
}

// DevicePermissions grants recording when the capture tool can be run and
// the configured device is present
type DevicePermissions struct {
	Backend CaptureBackend
	Device  string
}

func (p DevicePermissions) CanRecordAudio() error {
	if p.Backend == nil {
		return ErrCaptureUnavailable
	}
	if err := p.Backend.Available(); err != nil {
		return fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}
	if !p.Backend.DeviceExists(p.Device) {
		return fmt.Errorf("%w: device not found: %s", ErrCaptureUnavailable, p.Device)
	}
	return nil
}

// PermissionFunc adapts a function to Permissions
type PermissionFunc func() error

func (f PermissionFunc) CanRecordAudio() error {
	return f()
}
