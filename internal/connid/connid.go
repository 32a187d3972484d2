// Package connid derives deterministic local connection IDs from a
// peer-chosen destination connection ID using a keyed pseudorandom
// function, so a retry token and the Initial that redeems it bind to
// the same local CID without the server keeping any per-client state
// before address validation.
package connid

import (
	"crypto/hmac"
	"crypto/sha256"
)

// Length is the fixed size of every local connection ID this server
// issues. Anything else on a post-handshake packet is rejected by the
// dispatcher.
const Length = 20

// Derive computes the local connection ID for a client-chosen dcid under
// conn_id_secret. It is deterministic: the same (secret, dcid) pair always
// yields the same CID, and different dcids yield independent CIDs with
// overwhelming probability.
func Derive(secret, dcid []byte) [Length]byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(dcid)
	sum := mac.Sum(nil)
	var cid [Length]byte
	copy(cid[:], sum[:Length])
	return cid
}
