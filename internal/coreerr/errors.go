// Package coreerr holds the packet-routing error taxonomy as shared
// sentinels, so every internal package (dispatch, registry, supervisor)
// and the public root package compare against the same values with
// errors.Is.
package coreerr

import "errors"

var (
	ErrMalformedPacket = errors.New("requiem: malformed packet")
	ErrUnsupportedVersion = errors.New("requiem: unsupported version")
	ErrBadDCIDLength = errors.New("requiem: bad destination connection id length")
	ErrTokenMissing = errors.New("requiem: token missing")
	ErrInvalidToken = errors.New("requiem: invalid token")
	ErrUnknownConnection = errors.New("requiem: unknown connection")
	ErrSystemError = errors.New("requiem: system error")
	ErrAlreadyClosed = errors.New("requiem: already closed")
	ErrAlreadyRegistered = errors.New("requiem: already registered")
)
