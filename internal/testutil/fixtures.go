package testutil

import (
	"embed"
	"encoding/json"

	"github.com/firefly-engineering/clonebox/internal/config"
)

//go:embed fixtures/*
var fixturesFS embed.FS

// LoadFixture loads a fixture file by name.
func LoadFixture(name string) ([]byte, error) {
	return fixturesFS.ReadFile("fixtures/" + name)
}

// LoadHostConfigFixture parses a TOML host config fixture without
// validating it.
func LoadHostConfigFixture(name string) (*config.HostConfig, error) {
	data, err := LoadFixture(name)
	if err != nil {
		return nil, err
	}
	return config.ParseHostConfig(data)
}

// LoadDescriptorFixture parses a sandbox descriptor fixture.
func LoadDescriptorFixture(name string) (*config.SandboxDescriptor, error) {
	data, err := LoadFixture(name)
	if err != nil {
		return nil, err
	}
	var d config.SandboxDescriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// ValidHostConfig loads the valid host config fixture.
func ValidHostConfig() (*config.HostConfig, error) {
	return LoadHostConfigFixture("valid_host_config.toml")
}

// InvalidHostConfig loads a host config that parses but fails validation.
func InvalidHostConfig() (*config.HostConfig, error) {
	return LoadHostConfigFixture("invalid_host_config.toml")
}

// ValidDescriptor loads a descriptor carrying the full policy.
func ValidDescriptor() (*config.SandboxDescriptor, error) {
	return LoadDescriptorFixture("valid_descriptor.json")
}

// LegacyDescriptor loads a descriptor with only the policy subset.
func LegacyDescriptor() (*config.SandboxDescriptor, error) {
	return LoadDescriptorFixture("legacy_descriptor.json")
}
