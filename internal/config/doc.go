// Package config provides paths, host configuration and persisted sandbox
// descriptors for clonebox.
//
// # Configuration Files
//
//   - HostConfig: host-level settings loaded from /etc/clonebox/config.toml
//   - Security profiles: YAML files in /etc/clonebox/policies (see package policy)
//   - SandboxDescriptor: durable sandbox records in /var/lib/clonebox/descriptors/*.json
//
// # Host Configuration
//
// A missing config.toml yields DefaultHostConfig. Unknown keys are rejected.
//
//	[monitor]
//	interval = "10s"
//	warning_buffer = 64
//
//	[storage]
//	log_retention = "168h"
//
//	[defaults]
//	isolation = "standard"
//	profile = "default"
//
//	[workload]
//	terminate_command = "am force-stop --user {clone} {package}"
//
//	[manager]
//	clear_parallelism = 4
//
// # Sandbox Descriptors
//
// Descriptors are written atomically so a directory watcher never reads a
// partial file. They carry the legacy storageLimit and securityPolicySubset
// keys next to the full policy; the full policy wins on load.
package config
