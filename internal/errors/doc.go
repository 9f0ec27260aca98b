// Package errors provides typed errors with exit codes for clonebox.
//
// # Error Types
//
// CloneboxError is the base error type that wraps an error with an exit
// code and a Kind from the error taxonomy:
//
//	type CloneboxError struct {
//	    Code    int    // Exit code
//	    Kind    Kind   // provisioning, security-application, destruction, ...
//	    Subject string // sandbox id, path or step
//	    Message string // User-facing message
//	    Cause   error  // Wrapped error
//	}
//
// # Taxonomy
//
//   - provisioning: directory creation failed; fatal to create, rolled back
//   - security-application: descriptor write failed; fatal to create, rolled back
//   - quota-exceeded: soft signal that triggers cleanup, never fatal
//   - destruction: teardown failed; surfaced to the caller
//   - monitoring: isolated to one sandbox in one monitor tick
//   - creation: wraps one of the above with the create step that failed
//
// # Extracting Exit Codes
//
// Use GetExitCode to extract the exit code from an error chain:
//
//	if err != nil {
//	    os.Exit(errors.GetExitCode(err))
//	}
package errors
