package requiem

import "github.com/Mabuchin/requiem/internal/coreerr"

// Error taxonomy for the packet-routing pipeline, re-exported for callers outside
// this module. Every internal package compares against the shared
// coreerr sentinels directly; these aliases let external code write
// errors.Is(err, requiem.ErrInvalidToken) without reaching into internal/.
var (
	// ErrMalformedPacket means header parsing failed. Action: drop.
	ErrMalformedPacket = coreerr.ErrMalformedPacket
	// ErrUnsupportedVersion means the packet is Initial with an unknown
	// version. Action: reply VersionNegotiation.
	ErrUnsupportedVersion = coreerr.ErrUnsupportedVersion
	// ErrBadDCIDLength means the DCID length isn't in {0, 20}. Action: drop.
	ErrBadDCIDLength = coreerr.ErrBadDCIDLength
	// ErrTokenMissing means an Initial arrived with an empty token and no
	// prior connection. Action: reply Retry.
	ErrTokenMissing = coreerr.ErrTokenMissing
	// ErrInvalidToken means the token failed its MAC, address binding, or
	// freshness check. Action: drop, never a stateless reset.
	ErrInvalidToken = coreerr.ErrInvalidToken
	// ErrUnknownConnection means the CID isn't registered and the packet
	// isn't an Initial. Action: drop.
	ErrUnknownConnection = coreerr.ErrUnknownConnection
	// ErrSystemError means a registry/supervisor/OS failure occurred
	// while establishing a connection. Action: drop, log.
	ErrSystemError = coreerr.ErrSystemError
	// ErrAlreadyClosed is an idempotent no-op at the edges it occurs.
	ErrAlreadyClosed = coreerr.ErrAlreadyClosed
	// ErrAlreadyRegistered is returned by the registry when a CID is
	// inserted twice; the loser adopts the winner rather than treating
	// this as fatal.
	ErrAlreadyRegistered = coreerr.ErrAlreadyRegistered
)
