package server

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/hnrq/hls-proxy/internal/ratelimit"
)

func (s *Server) clientIdentity(r *http.Request) string {
	return clientIdentity(r, s.opts.TrustedProxies)
}

// clientIdentity is the rate-limit key. Without trusted proxies it is the
// first X-Forwarded-For entry, then X-Real-IP, then the peer address. With
// trusted proxies, forwarding headers count only when the peer is trusted,
// and X-Forwarded-For is walked from the right to the first untrusted hop.
// Requests where nothing parses share the ratelimit.UnknownClient bucket.
func clientIdentity(r *http.Request, trusted []netip.Prefix) string {
	peer, peerOK := peerAddr(r)

	if len(trusted) > 0 {
		if !peerOK {
			return ratelimit.UnknownClient
		}
		if !isTrusted(peer, trusted) {
			return peer.String()
		}
		if hops := forwardedHops(r.Header.Values("X-Forwarded-For")); len(hops) > 0 {
			addr := peer
			for i := len(hops) - 1; i >= 0; i-- {
				hop, ok := parseAddr(hops[i])
				if !ok {
					return addr.String()
				}
				addr = hop
				if !isTrusted(addr, trusted) {
					break
				}
			}
			return addr.String()
		}
		if addr, ok := parseAddr(r.Header.Get("X-Real-IP")); ok {
			return addr.String()
		}
		return peer.String()
	}

	if hops := forwardedHops(r.Header.Values("X-Forwarded-For")); len(hops) > 0 {
		if addr, ok := parseAddr(hops[0]); ok {
			return addr.String()
		}
	}
	if addr, ok := parseAddr(r.Header.Get("X-Real-IP")); ok {
		return addr.String()
	}
	if peerOK {
		return peer.String()
	}
	return ratelimit.UnknownClient
}

func forwardedHops(values []string) []string {
	var hops []string
	for _, v := range values {
		for _, hop := range strings.Split(v, ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				hops = append(hops, hop)
			}
		}
	}
	return hops
}

func peerAddr(r *http.Request) (netip.Addr, bool) {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		host = r.RemoteAddr
	}
	return parseAddr(host)
}

func isTrusted(addr netip.Addr, trusted []netip.Prefix) bool {
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func parseAddr(s string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
