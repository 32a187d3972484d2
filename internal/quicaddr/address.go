// Package quicaddr provides the canonical peer-endpoint value type shared
// by every component that touches a UDP peer: sockets, senders, the
// dispatcher, and the retry-token binder.
package quicaddr

import (
	"fmt"
	"net"
	"net/netip"
)

// Family distinguishes the two address shapes this server accepts.
type Family uint8

const (
	FamilyIPv4 Family = iota
	FamilyIPv6
)

// Address is an immutable, comparable peer-endpoint value. It is
// constructed once from the raw bytes the socket layer hands back and
// never mutated afterwards; equality is by family, address bytes, and
// port, which is exactly what RetryToken binding and the ConnectionRegistry's
// address-routing side-table need.
type Address struct {
	family Family
	addr   netip.Addr
	port   uint16
	raw    net.Addr // opaque form required by the sender
}

// FromNetAddr builds an Address from a net.Addr as returned by
// net.PacketConn.ReadFrom or net.UDPConn.ReadFromUDP. A malformed
// peer blob (anything that isn't a UDP address) is a programming error in
// the socket layer, not a runtime condition callers should branch on.
func FromNetAddr(a net.Addr) Address {
	udpAddr, ok := a.(*net.UDPAddr)
	if !ok {
		panic(fmt.Sprintf("quicaddr: unsupported peer address type %T", a))
	}
	ip, ok := netip.AddrFromSlice(udpAddr.IP)
	if !ok {
		panic(fmt.Sprintf("quicaddr: malformed peer IP %v", udpAddr.IP))
	}
	ip = ip.Unmap()
	fam := FamilyIPv4
	if ip.Is6() {
		fam = FamilyIPv6
	}
	return Address{
		family: fam,
		addr:   ip,
		port:   uint16(udpAddr.Port),
		raw:    a,
	}
}

// FromAddrPort builds an Address from a netip.AddrPort, the form
// net.UDPConn.ReadMsgUDPAddrPort returns.
func FromAddrPort(ap netip.AddrPort) Address {
	ip := ap.Addr().Unmap()
	fam := FamilyIPv4
	if ip.Is6() {
		fam = FamilyIPv6
	}
	return Address{
		family: fam,
		addr:   ip,
		port:   ap.Port(),
		raw:    net.UDPAddrFromAddrPort(ap),
	}
}

// Family reports whether the peer is reachable over IPv4 or IPv6.
func (a Address) Family() Family { return a.family }

// AddrPort returns the numeric address/port tuple.
func (a Address) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(a.addr, a.port)
}

// Port returns the peer's UDP port.
func (a Address) Port() uint16 { return a.port }

// Raw returns the opaque net.Addr form required by the sender's
// net.PacketConn.WriteTo.
func (a Address) Raw() net.Addr { return a.raw }

// Bytes returns the canonical binary form used by RetryToken binding:
// a 1-byte family tag, the address bytes (4 or 16), and a 2-byte
// big-endian port.
func (a Address) Bytes() []byte {
	ipBytes := a.addr.AsSlice()
	out := make([]byte, 0, 1+len(ipBytes)+2)
	out = append(out, byte(a.family))
	out = append(out, ipBytes...)
	out = append(out, byte(a.port>>8), byte(a.port))
	return out
}

// String renders the address the way net.Addr does, for logging.
func (a Address) String() string {
	return a.AddrPort().String()
}

// Equal reports whether two addresses have the same family, bytes, and port.
func (a Address) Equal(b Address) bool {
	return a.family == b.family && a.addr == b.addr && a.port == b.port
}
