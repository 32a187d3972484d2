// Package classify parses just enough of a datagram's header to yield
// {type, version, SCID, DCID, token}, delegated to the underlying QUIC
// library. The classifier itself makes no routing decisions — that's
// internal/dispatch's job — mirroring a division of labor between a
// recv loop that only decodes and a handleNewConn/negotiate/retry path
// that routes.
package classify

import (
	"fmt"

	"github.com/Mabuchin/requiem/internal/connid"
	"github.com/Mabuchin/requiem/internal/coreerr"
	"github.com/Mabuchin/requiem/internal/quicengine"
)

// Record is the classifier's full output for one datagram.
type Record struct {
	Header quicengine.Header
	Payload []byte
}

// Classifier wraps an Engine's header parser.
type Classifier struct {
	engine quicengine.Engine
}

// New builds a Classifier over the given engine.
func New(engine quicengine.Engine) *Classifier {
	return &Classifier{engine: engine}
}

// Classify parses datagram into a Record. Errors are always
// ErrMalformedPacket-class and must be dropped by the caller, never
// replied to.
func (c *Classifier) Classify(datagram []byte) (Record, error) {
	h, err := c.engine.ParseHeader(datagram, connid.Length)
	if err != nil {
		return Record{}, fmt.Errorf("classify: %w: %v", coreerr.ErrMalformedPacket, err)
	}
	return Record{Header: h, Payload: datagram}, nil
}
