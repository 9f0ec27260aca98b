// Package network renders network isolation artifacts for sandboxes.
//
// # Network Modes
//
//   - ModeFull: unrestricted outbound access
//   - ModeRestricted: only allowed hosts are reachable
//   - ModeNone: no external network access
//
// ModeFor picks the mode from a policy and an isolation level. For
// restricted sandboxes the enforcer writes an nftables ruleset and a
// dnsmasq configuration next to network.json:
//
//	r := network.NewRenderer(nil)
//	cfg := network.ConfigFor(sb.Policy, sb.IsolationLevel, sb.NetworkNamespace)
//	rules := r.Nftables(cfg)
//	dns := network.Dnsmasq(cfg.AllowedHosts)
//
// Nothing here loads the rules. Applying them is the enforcement agent's job.
package network
