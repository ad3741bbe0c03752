package domain

import "errors"

var (
	ErrPeerNotFound         = errors.New("peer not found")
	ErrConnectionFailed     = errors.New("connection failed")
	ErrNotConnected         = errors.New("signaling transport not connected")
	ErrForbidden            = errors.New("forbidden by signaling server")
	ErrMaxReconnectAttempts = errors.New("max reconnect attempts reached")

	// Terminal local media failures; never retried automatically.
	ErrMediaPermissionDenied = errors.New("media permission denied")
	ErrMediaDeviceNotFound   = errors.New("media device not found")
	ErrMediaDeviceInUse      = errors.New("media device already in use")
)

// IsTerminalMediaError reports whether err is a permanent local media failure
// that requires user action rather than a retry.
func IsTerminalMediaError(err error) bool {
	return errors.Is(err, ErrMediaPermissionDenied) ||
		errors.Is(err, ErrMediaDeviceNotFound) ||
		errors.Is(err, ErrMediaDeviceInUse)
}
