package stream

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
)

// ErrForbiddenHost rejects upstreams outside the allowed hosts or on a non-public address.
var ErrForbiddenHost = errors.New("upstream host is not allowed")

// DefaultAllowedHosts are the domains debrid providers serve unrestricted files from.
var DefaultAllowedHosts = []string{"real-debrid.com", "rdeb.io", "put.io"}

// Option configures a Proxy.
type Option func(*Proxy)

// WithAllowedHosts limits upstreams to the given domains and their subdomains. An empty list
// allows any public host.
func WithAllowedHosts(hosts ...string) Option {
	return func(p *Proxy) {
		p.allowedHosts = p.allowedHosts[:0]

		for _, h := range hosts {
			if h = strings.Trim(strings.ToLower(strings.TrimSpace(h)), "."); h != "" {
				p.allowedHosts = append(p.allowedHosts, h)
			}
		}
	}
}

// WithPrivateNetworks lets the proxy reach loopback and private addresses.
func WithPrivateNetworks() Option {
	return func(p *Proxy) { p.allowPrivate = true }
}

func (p *Proxy) checkURL(u *url.URL) error {
	host := strings.ToLower(u.Hostname())

	if len(p.allowedHosts) > 0 && !hostAllowed(host, p.allowedHosts) {
		return fmt.Errorf("%w: %s", ErrForbiddenHost, host)
	}

	if addr, err := netip.ParseAddr(host); err == nil && !p.allowPrivate && !publicAddr(addr) {
		return fmt.Errorf("%w: %s", ErrForbiddenHost, host)
	}

	return nil
}

// dialControl runs after name resolution, so hostnames resolving to internal addresses are
// caught as well.
func (p *Proxy) dialControl(_, address string, _ syscall.RawConn) error {
	if p.allowPrivate {
		return nil
	}

	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrForbiddenHost, address)
	}

	addr, err := netip.ParseAddr(host)
	if err != nil || !publicAddr(addr) {
		return fmt.Errorf("%w: %s", ErrForbiddenHost, host)
	}

	return nil
}

func hostAllowed(host string, allowed []string) bool {
	for _, a := range allowed {
		if host == a || strings.HasSuffix(host, "."+a) {
			return true
		}
	}

	return false
}

func publicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()

	return addr.IsValid() &&
		!addr.IsLoopback() &&
		!addr.IsPrivate() &&
		!addr.IsLinkLocalUnicast() &&
		!addr.IsLinkLocalMulticast() &&
		!addr.IsInterfaceLocalMulticast() &&
		!addr.IsMulticast() &&
		!addr.IsUnspecified()
}
