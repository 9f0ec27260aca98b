package network

import (
	"net"
	"strings"

	"github.com/firefly-engineering/clonebox/internal/policy"
)

// Mode represents the network isolation mode
type Mode string

const (
	ModeFull       Mode = "full"
	ModeRestricted Mode = "restricted"
	ModeNone       Mode = "none"
)

// Config holds network configuration for a sandbox
type Config struct {
	Mode         Mode
	AllowedHosts []string
	Namespace    string
}

// ModeFor decides the network mode of a policy at an isolation level.
//
//   - none: network access is disallowed, or the level requires isolation
//     and there is nothing to allow
//   - restricted: the level requires isolation, or an allow-list is set
//   - full: otherwise
func ModeFor(p policy.SecurityPolicy, level policy.IsolationLevel) Mode {
	isolated := policy.TraitsFor(level).NetworkIsolation
	switch {
	case !p.AllowNetworkAccess:
		return ModeNone
	case isolated && len(p.AllowedHosts) == 0:
		return ModeNone
	case isolated || len(p.AllowedHosts) > 0:
		return ModeRestricted
	default:
		return ModeFull
	}
}

// ConfigFor builds the network configuration of a sandbox.
func ConfigFor(p policy.SecurityPolicy, level policy.IsolationLevel, namespace string) *Config {
	return &Config{
		Mode:         ModeFor(p, level),
		AllowedHosts: p.AllowedHosts,
		Namespace:    namespace,
	}
}

// ResolvedHost contains a hostname and its resolved IPs
type ResolvedHost struct {
	Hostname string
	IPs      []string
}

// LookupFunc resolves a hostname.
type LookupFunc func(host string) ([]net.IP, error)

// Renderer renders nftables and dnsmasq artifacts.
type Renderer struct {
	Lookup LookupFunc
}

// NewRenderer returns a Renderer resolving hosts with lookup, or with the
// system resolver when lookup is nil.
func NewRenderer(lookup LookupFunc) *Renderer {
	if lookup == nil {
		lookup = net.LookupIP
	}
	return &Renderer{Lookup: lookup}
}

// ResolveHosts resolves hostnames to IP addresses at render time.
//
// KNOWN LIMITATION: IPs are resolved once and baked into the nftables rules.
// If a host's IPs change the rules go stale until the sandbox's descriptors
// are rewritten. Wildcard hosts are left to the dnsmasq filter.
func (r *Renderer) ResolveHosts(hosts []string) []ResolvedHost {
	var resolved []ResolvedHost

	for _, host := range hosts {
		rh := ResolvedHost{Hostname: host, IPs: []string{}}
		if strings.HasPrefix(host, "*.") {
			resolved = append(resolved, rh)
			continue
		}
		ips, err := r.Lookup(host)
		if err == nil {
			for _, ip := range ips {
				rh.IPs = append(rh.IPs, ip.String())
			}
		}
		resolved = append(resolved, rh)
	}

	return resolved
}

// Nftables renders the egress ruleset for restricted mode. Other modes
// render nothing.
func (r *Renderer) Nftables(cfg *Config) string {
	if cfg.Mode != ModeRestricted {
		return ""
	}

	ipv4Set := []string{"127.0.0.1"}
	ipv6Set := []string{"::1"}
	for _, h := range r.ResolveHosts(cfg.AllowedHosts) {
		for _, ip := range h.IPs {
			parsed := net.ParseIP(ip)
			if parsed == nil {
				continue
			}
			if parsed.To4() != nil {
				ipv4Set = append(ipv4Set, ip)
			} else {
				ipv6Set = append(ipv6Set, ip)
			}
		}
	}

	var buf strings.Builder
	_ = nftablesTmpl.Execute(&buf, nftablesData{
		Namespace: cfg.Namespace,
		Table:     tableName(cfg.Namespace),
		IPv4:      ipv4Set,
		IPv6:      ipv6Set,
	})
	return buf.String()
}

// Dnsmasq renders a DNS filter that only answers for allowed hosts.
func Dnsmasq(allowedHosts []string) string {
	domains := make([]string, 0, len(allowedHosts))
	for _, host := range allowedHosts {
		domains = append(domains, strings.TrimPrefix(host, "*."))
	}

	var buf strings.Builder
	_ = dnsmasqTmpl.Execute(&buf, dnsmasqData{
		Domains:   domains,
		Upstreams: Upstreams,
	})
	return buf.String()
}
