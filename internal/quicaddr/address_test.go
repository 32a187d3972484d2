package quicaddr

import (
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromNetAddrIPv4(t *testing.T) {
	addr := FromNetAddr(&net.UDPAddr{IP: net.ParseIP("203.0.113.9"), Port: 51820})
	assert.Equal(t, FamilyIPv4, addr.Family())
	assert.Equal(t, uint16(51820), addr.Port())
	assert.Equal(t, "203.0.113.9:51820", addr.String())
}

func TestFromNetAddrIPv6(t *testing.T) {
	addr := FromNetAddr(&net.UDPAddr{IP: net.ParseIP("2001:db8::1"), Port: 443})
	assert.Equal(t, FamilyIPv6, addr.Family())
}

func TestFromNetAddrPanicsOnNonUDP(t *testing.T) {
	assert.Panics(t, func() {
		FromNetAddr(&net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1})
	})
}

func TestEqual(t *testing.T) {
	a := FromNetAddr(&net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1234})
	b := FromNetAddr(&net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1234})
	c := FromNetAddr(&net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1235})
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestBytesDistinguishesFamilyAndPort(t *testing.T) {
	v4 := FromNetAddr(&net.UDPAddr{IP: net.ParseIP("192.0.2.1"), Port: 1})
	v6 := FromNetAddr(&net.UDPAddr{IP: net.ParseIP("::1"), Port: 1})
	assert.NotEqual(t, v4.Bytes(), v6.Bytes())

	same := FromNetAddr(&net.UDPAddr{IP: net.ParseIP("192.0.2.1"), Port: 1})
	assert.Equal(t, v4.Bytes(), same.Bytes())
}

func TestFromAddrPort(t *testing.T) {
	ap := netip.MustParseAddrPort("198.51.100.2:9000")
	addr := FromAddrPort(ap)
	require.Equal(t, FamilyIPv4, addr.Family())
	assert.Equal(t, uint16(9000), addr.Port())
	assert.Equal(t, ap, addr.AddrPort())
}
