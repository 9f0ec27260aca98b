package network

import (
	"strings"
	"text/template"
)

// Upstreams are the resolvers dnsmasq forwards allowed domains to.
var Upstreams = []string{"1.1.1.1", "8.8.8.8"}

type nftablesData struct {
	Namespace string
	Table     string
	IPv4      []string
	IPv6      []string
}

type dnsmasqData struct {
	Domains   []string
	Upstreams []string
}

var funcs = template.FuncMap{"join": strings.Join}

// tableName turns a namespace label into an nft identifier.
func tableName(namespace string) string {
	if namespace == "" {
		return "clonebox"
	}
	return "clonebox_" + strings.NewReplacer("-", "_", ".", "_").Replace(namespace)
}

// Each sandbox owns one table inside its own namespace, so the ruleset
// is replaced by deleting and recreating that table only.
var nftablesTmpl = template.Must(template.New("nftables").Funcs(funcs).Parse(`#!/usr/sbin/nft -f
# clonebox egress policy for namespace {{.Namespace}}

table inet {{.Table}}
delete table inet {{.Table}}

table inet {{.Table}} {
  set egress_v4 {
    type ipv4_addr
    flags interval
    elements = { {{join .IPv4 ", "}} }
  }

  set egress_v6 {
    type ipv6_addr
    flags interval
    elements = { {{join .IPv6 ", "}} }
  }

  chain output {
    type filter hook output priority 0; policy drop;

    oif "lo" accept
    ct state established,related accept
    ip protocol icmp accept
    ip6 nexthdr icmpv6 accept

    # DNS only through the sandbox resolver
    meta l4proto { tcp, udp } th dport 53 ip daddr 127.0.0.1 accept

    ip daddr @egress_v4 accept
    ip6 daddr @egress_v6 accept

    log prefix "clonebox-{{.Namespace}}: " level info
    reject with icmpx type admin-prohibited
  }
}
`))

var dnsmasqTmpl = template.Must(template.New("dnsmasq").Parse(`# clonebox resolver: answers only for allowed domains
no-resolv
no-hosts
listen-address=127.0.0.1
bind-interfaces
port=53
domain-needed
bogus-priv
cache-size=1000
{{range $d := .Domains}}{{range $u := $.Upstreams}}server=/{{$d}}/{{$u}}
{{end}}{{end}}
# everything else is NXDOMAIN
address=/#/
`))
