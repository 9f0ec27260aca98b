// Package logging provides logging utilities for clonebox.
//
// This package provides two categories of output:
//   - Debug logging: Structured logs for debugging (via slog)
//   - User output: Formatted messages for end users
//
// # Debug Logging
//
// Debug logs are written using slog and controlled by verbosity settings:
//
//	logging.Debug("provisioning sandbox", "id", id, "package", pkg)
//	logging.Warn("storage quota warning", "id", id, "ratio", ratio)
//
// # User Output
//
// User-facing messages are formatted with status indicators:
//
//	logging.UserInfo("Loading profile %s...", profileName)
//	logging.UserSuccess("Sandbox %s created", id)
//	logging.UserWarning("Sandbox %s is over quota", id)
//	logging.UserError("Failed to create sandbox: %v", err)
//
// Output destinations:
//   - UserInfo, UserSuccess: stdout
//   - UserWarning, UserError: stderr
//
// # Status Indicators
//
// User functions prepend status indicators:
//   - ℹ (info)
//   - ✓ (success)
//   - ⚠ (warning)
//   - ✗ (error)
package logging
