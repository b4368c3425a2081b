package middleware

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// ParseTrustedProxies parses CIDRs or bare addresses of the reverse proxies
// allowed to report the client address.
func ParseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// TrustedRealIP rewrites RemoteAddr from forwarding headers, but only when
// the socket peer is one of the trusted proxies. Other requests keep their
// socket address. X-Forwarded-For is walked from the right and the first hop
// outside the trusted set wins. Without it, chi's RealIP resolves
// True-Client-IP and X-Real-IP.
func TrustedRealIP(trusted []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fromHeaders := chimw.RealIP(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			peer, ok := parseHost(r.RemoteAddr)
			if !ok || !inPrefixes(peer, trusted) {
				next.ServeHTTP(w, r)
				return
			}

			if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
				if client, ok := forwardedClient(xff, trusted); ok {
					r.RemoteAddr = client.String()
				}
				next.ServeHTTP(w, r)
				return
			}
			fromHeaders.ServeHTTP(w, r)
		})
	}
}

// forwardedClient returns the right-most hop not in trusted. A malformed hop
// stops the walk since everything left of it is unverifiable.
func forwardedClient(values []string, trusted []netip.Prefix) (netip.Addr, bool) {
	var hops []string
	for _, v := range values {
		hops = append(hops, strings.Split(v, ",")...)
	}

	var last netip.Addr
	for i := len(hops) - 1; i >= 0; i-- {
		addr, ok := parseHost(strings.TrimSpace(hops[i]))
		if !ok {
			return netip.Addr{}, false
		}
		if !inPrefixes(addr, trusted) {
			return addr, true
		}
		last = addr
	}
	return last, last.IsValid()
}

func parseHost(s string) (netip.Addr, bool) {
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

func inPrefixes(addr netip.Addr, prefixes []netip.Prefix) bool {
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
