// Package guard keeps the proxy from reaching private network hosts.
package guard

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"syscall"
)

var ErrBlockedAddress = errors.New("destination address is not allowed")

// IsAllowedHost reports whether host may be fetched. Literal private,
// loopback, link-local, unspecified and multicast addresses are rejected, as
// are localhost and any name under .local. A host whose last label is
// numeric is an IPv4 literal in one of the legacy forms and is checked as
// one, or rejected when it does not parse. Hostnames are not resolved here;
// see DialControl for the connect-time check.
func IsAllowedHost(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if host == "" {
		return false
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local") {
		return false
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return IsPublicAddr(addr)
	}
	if endsInNumber(host) {
		addr, ok := legacyIPv4(host)
		return ok && IsPublicAddr(addr)
	}
	return true
}

func endsInNumber(host string) bool {
	last := host[strings.LastIndexByte(host, '.')+1:]
	if rest, ok := strings.CutPrefix(last, "0x"); ok {
		return strings.Trim(rest, "0123456789abcdef") == ""
	}
	return last != "" && strings.Trim(last, "0123456789") == ""
}

// legacyIPv4 parses the inet_aton forms resolvers still accept, such as
// 127.1, 2130706433 and 0x7f.0.0.1. The last part fills the remaining bytes.
func legacyIPv4(host string) (netip.Addr, bool) {
	parts := strings.Split(host, ".")
	if len(parts) > 4 {
		return netip.Addr{}, false
	}
	var n uint32
	for i, part := range parts {
		last := i == len(parts)-1
		bits := 8
		if last {
			bits = 8 * (4 - i)
		}
		v, err := strconv.ParseUint(part, 0, bits)
		if err != nil {
			return netip.Addr{}, false
		}
		if last {
			n |= uint32(v)
		} else {
			n |= uint32(v) << (24 - 8*i)
		}
	}
	return netip.AddrFrom4([4]byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}), true
}

// IsPublicAddr reports whether addr is routable on the public internet.
func IsPublicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	switch {
	case !addr.IsValid(),
		addr.IsPrivate(),
		addr.IsLoopback(),
		addr.IsLinkLocalUnicast(),
		addr.IsLinkLocalMulticast(),
		addr.IsInterfaceLocalMulticast(),
		addr.IsMulticast(),
		addr.IsUnspecified():
		return false
	}
	return true
}

// Guard is the host check used by the router and, optionally, by the
// outbound dialer.
type Guard struct {
	// Resolve enables the connect-time check of the resolved address.
	Resolve bool
}

func New(resolve bool) *Guard {
	return &Guard{Resolve: resolve}
}

func (g *Guard) IsAllowedHost(host string) bool {
	return IsAllowedHost(host)
}

// Control returns DialControl when Resolve is set, nil otherwise, ready for
// a net.Dialer.
func (g *Guard) Control() func(network, address string, c syscall.RawConn) error {
	if !g.Resolve {
		return nil
	}
	return g.DialControl
}

// DialControl is a net.Dialer Control hook. It runs after name resolution,
// so a public hostname pointing at a private address is refused too.
func (g *Guard) DialControl(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, address)
	}
	addr, err := netip.ParseAddr(host)
	if err != nil || !IsPublicAddr(addr) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, address)
	}
	return nil
}
