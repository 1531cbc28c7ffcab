// Package ipfilter restricts HTTP endpoints to a list of networks.
package ipfilter

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Filter holds the allowed networks. An empty filter allows everyone.
type Filter struct {
	prefixes []netip.Prefix
	logger   *slog.Logger
}

// New parses addresses and CIDR ranges; invalid entries are logged and skipped
func New(allowed []string, logger *slog.Logger) *Filter {
	f := &Filter{logger: logger}

	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		prefix, err := parseEntry(entry)
		if err != nil {
			logger.Warn("invalid network entry", "entry", entry, "error", err)
			continue
		}
		f.prefixes = append(f.prefixes, prefix)
	}

	return f
}

func parseEntry(entry string) (netip.Prefix, error) {
	if strings.Contains(entry, "/") {
		p, err := netip.ParsePrefix(entry)
		if err != nil {
			return netip.Prefix{}, err
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// Enabled reports whether any network is configured
func (f *Filter) Enabled() bool {
	return len(f.prefixes) > 0
}

// Count returns the number of allowed networks
func (f *Filter) Count() int {
	return len(f.prefixes)
}

// Allows reports whether addr is inside an allowed network
func (f *Filter) Allows(addr netip.Addr) bool {
	if !f.Enabled() {
		return true
	}
	if !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	for _, p := range f.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// AllowsString parses s as an address or host:port and checks it
func (f *Filter) AllowsString(s string) bool {
	return f.Allows(parseHost(s))
}

// ClientAddr returns the address of the connection. Forwarding headers are
// only honored through RealIP, which rewrites RemoteAddr for trusted proxies.
func ClientAddr(r *http.Request) netip.Addr {
	return parseHost(r.RemoteAddr)
}

// RealIP rewrites RemoteAddr from X-Forwarded-For or X-Real-IP, but only for
// connections coming from one of the trusted proxy networks. The client is
// the rightmost X-Forwarded-For hop that is not itself a trusted proxy.
// With no proxies configured the headers are ignored.
func RealIP(trusted *Filter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if trusted.Enabled() && trusted.Allows(parseHost(r.RemoteAddr)) {
				if addr := forwardedAddr(r, trusted); addr.IsValid() {
					r.RemoteAddr = netip.AddrPortFrom(addr, 0).String()
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func forwardedAddr(r *http.Request, trusted *Filter) netip.Addr {
	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		var client netip.Addr
		for i := len(hops) - 1; i >= 0; i-- {
			addr := parseHost(hops[i])
			if !addr.IsValid() {
				break
			}
			client = addr
			if !trusted.Allows(addr) {
				break
			}
		}
		return client
	}
	return parseHost(r.Header.Get("X-Real-IP"))
}

func parseHost(s string) netip.Addr {
	s = strings.TrimSpace(s)
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}
	}
	return addr.Unmap()
}

// Middleware rejects requests from outside the allowed networks with 403
func (f *Filter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !f.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		addr := ClientAddr(r)
		if !f.Allows(addr) {
			f.logger.Warn("access denied by IP filter", "ip", addr.String(), "path", r.URL.Path)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
