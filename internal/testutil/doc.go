// Package testutil provides test fixtures and a temp-directory test
// environment.
//
// # Fixtures
//
// Fixtures are embedded using go:embed:
//
//	fixtures/valid_host_config.toml
//	fixtures/invalid_host_config.toml
//	fixtures/valid_descriptor.json
//	fixtures/legacy_descriptor.json
//
// Helper functions parse them into typed config objects:
//
//	cfg, err := testutil.ValidHostConfig()
//	d, err := testutil.LegacyDescriptor()
//
// # Test Environment
//
//	env := testutil.NewTestEnv(t)
//	env.WriteHostConfig("[monitor]\ninterval = \"1s\"\n")
//	env.FillFile(filepath.Join(sb.CachePath, "blob"), 101<<20)
//	if !env.SandboxExists(sb.ID) { ... }
package testutil
