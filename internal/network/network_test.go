package network

import (
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/firefly-engineering/clonebox/internal/policy"
)

func fakeLookup(table map[string][]string) LookupFunc {
	return func(host string) ([]net.IP, error) {
		addrs, ok := table[host]
		if !ok {
			return nil, errors.New("no such host")
		}
		var ips []net.IP
		for _, a := range addrs {
			ips = append(ips, net.ParseIP(a))
		}
		return ips, nil
	}
}

func TestModeFor(t *testing.T) {
	tests := []struct {
		name    string
		network bool
		hosts   []string
		level   policy.IsolationLevel
		want    Mode
	}{
		{"network off", false, nil, policy.IsolationMinimal, ModeNone},
		{"network off with hosts", false, []string{"a.example.com"}, policy.IsolationStandard, ModeNone},
		{"standard open", true, nil, policy.IsolationStandard, ModeFull},
		{"standard allow-list", true, []string{"a.example.com"}, policy.IsolationStandard, ModeRestricted},
		{"strict empty list", true, nil, policy.IsolationStrict, ModeNone},
		{"strict allow-list", true, []string{"a.example.com"}, policy.IsolationStrict, ModeRestricted},
		{"maximum allow-list", true, []string{"a.example.com"}, policy.IsolationMaximum, ModeRestricted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := policy.DefaultPolicy()
			p.AllowNetworkAccess = tt.network
			p.AllowedHosts = tt.hosts
			if got := ModeFor(p, tt.level); got != tt.want {
				t.Errorf("ModeFor() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestResolveHosts(t *testing.T) {
	r := NewRenderer(fakeLookup(map[string][]string{
		"api.example.com": {"192.0.2.10", "2001:db8::10"},
	}))

	resolved := r.ResolveHosts([]string{"api.example.com", "unknown.example.com", "*.cdn.example.com"})
	if len(resolved) != 3 {
		t.Fatalf("got %d hosts, want 3", len(resolved))
	}
	if len(resolved[0].IPs) != 2 {
		t.Errorf("api.example.com IPs = %v", resolved[0].IPs)
	}
	if len(resolved[1].IPs) != 0 {
		t.Errorf("unresolvable host should have no IPs, got %v", resolved[1].IPs)
	}
	if len(resolved[2].IPs) != 0 {
		t.Errorf("wildcard host should not be looked up, got %v", resolved[2].IPs)
	}
}

func TestNftables(t *testing.T) {
	r := NewRenderer(fakeLookup(map[string][]string{
		"api.example.com": {"192.0.2.10", "2001:db8::10"},
	}))

	rules := r.Nftables(&Config{Mode: ModeRestricted, AllowedHosts: []string{"api.example.com"}, Namespace: "cbx-net-abc"})
	for _, want := range []string{
		"elements = { 127.0.0.1, 192.0.2.10 }",
		"elements = { ::1, 2001:db8::10 }",
		"namespace cbx-net-abc",
		"policy drop",
		"table inet clonebox_cbx_net_abc {",
	} {
		if !strings.Contains(rules, want) {
			t.Errorf("rules missing %q:\n%s", want, rules)
		}
	}

	if got := r.Nftables(&Config{Mode: ModeFull}); got != "" {
		t.Errorf("full mode should render nothing, got %q", got)
	}
	if got := r.Nftables(&Config{Mode: ModeNone}); got != "" {
		t.Errorf("none mode should render nothing, got %q", got)
	}
}

func TestDnsmasq(t *testing.T) {
	conf := Dnsmasq([]string{"api.example.com", "*.cdn.example.com"})

	for _, want := range []string{
		"server=/api.example.com/1.1.1.1",
		"server=/cdn.example.com/8.8.8.8",
		"address=/#/",
		"no-resolv",
	} {
		if !strings.Contains(conf, want) {
			t.Errorf("dnsmasq config missing %q", want)
		}
	}
}
