// Package token mints and validates the opaque address-validation tokens
// a QUIC server hands back in a Retry packet. A token binds the peer
// address, the client's original destination connection ID, and the
// newly issued connection ID under a MAC keyed by token_secret, with a
// short expiration window. This mirrors a typical addressValidator
// design: a 4-byte big-endian Unix-second timestamp prefix and a
// 10-second validity window, generalized from AEAD-encrypted-ODCID to a
// literal MAC binding since integrity, not secrecy, is what's required.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"time"

	"github.com/Mabuchin/requiem/internal/coreerr"
	"github.com/Mabuchin/requiem/internal/quicaddr"
)

// DefaultValidity is the recommended address-validation token lifetime.
const DefaultValidity = 10 * time.Second

// macSize is the output size of HMAC-SHA256.
const macSize = sha256.Size

// ErrInvalidToken is returned by Validate for any malformed, expired, or
// address-mismatched token. Every failure of this kind must be treated
// uniformly as a drop — callers must not try to distinguish sub-reasons
// and must never emit a stateless reset.
var ErrInvalidToken = coreerr.ErrInvalidToken

// Mint builds an opaque token binding peer, odcid, and newCID under
// secret, timestamped at now.
func Mint(secret []byte, peer quicaddr.Address, odcid, newCID []byte, now time.Time) []byte {
	payload := encodePayload(odcid, newCID, now)
	mac := sign(secret, peer, payload)
	out := make([]byte, 0, len(payload)+macSize)
	out = append(out, payload...)
	out = append(out, mac...)
	return out
}

// Validate checks token against peer, newCID, and secret, enforcing the
// validity window relative to now. On success it returns the embedded
// ODCID. Comparison of the MAC is constant-time via hmac.Equal.
func Validate(secret []byte, peer quicaddr.Address, newCID, tok []byte, now time.Time, validity time.Duration) (odcid []byte, err error) {
	if len(tok) < macSize+4+1 {
		return nil, ErrInvalidToken
	}
	payload := tok[:len(tok)-macSize]
	gotMAC := tok[len(tok)-macSize:]

	wantMAC := sign(secret, peer, payload)
	if !hmac.Equal(gotMAC, wantMAC) {
		return nil, ErrInvalidToken
	}

	issuedOdcid, issuedCID, issuedAt, ok := decodePayload(payload)
	if !ok {
		return nil, ErrInvalidToken
	}
	if !hmac.Equal(issuedCID, newCID) {
		return nil, ErrInvalidToken
	}
	age := now.Sub(issuedAt)
	if age < 0 || age > validity {
		return nil, ErrInvalidToken
	}
	return issuedOdcid, nil
}

// sign computes the MAC over peer||payload. Binding the peer's raw bytes
// into the MAC input, rather than as AEAD additional data, is what makes
// the token reject replay from a spoofed source address.
func sign(secret []byte, peer quicaddr.Address, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(peer.Bytes())
	mac.Write(payload)
	return mac.Sum(nil)
}

// encodePayload lays out: 4-byte big-endian unix seconds | 1-byte odcid
// length | odcid | newCID. newCID is always connid.Length bytes so no
// length prefix is needed for it; it is simply everything remaining.
func encodePayload(odcid, newCID []byte, now time.Time) []byte {
	out := make([]byte, 0, 4+1+len(odcid)+len(newCID))
	var tsBuf [4]byte
	binary.BigEndian.PutUint32(tsBuf[:], uint32(now.Unix()))
	out = append(out, tsBuf[:]...)
	out = append(out, byte(len(odcid)))
	out = append(out, odcid...)
	out = append(out, newCID...)
	return out
}

func decodePayload(payload []byte) (odcid, newCID []byte, issuedAt time.Time, ok bool) {
	if len(payload) < 5 {
		return nil, nil, time.Time{}, false
	}
	ts := binary.BigEndian.Uint32(payload[:4])
	odcidLen := int(payload[4])
	rest := payload[5:]
	if len(rest) < odcidLen {
		return nil, nil, time.Time{}, false
	}
	odcid = rest[:odcidLen]
	newCID = rest[odcidLen:]
	if len(newCID) == 0 {
		return nil, nil, time.Time{}, false
	}
	return odcid, newCID, time.Unix(int64(ts), 0), true
}
