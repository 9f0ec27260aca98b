package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestCloneboxError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *CloneboxError
		wantMsg string
	}{
		{
			name:    "without cause",
			err:     New(ExitGeneralError, KindGeneral, "something went wrong"),
			wantMsg: "something went wrong",
		},
		{
			name:    "with cause",
			err:     Wrap(ExitGeneralError, KindGeneral, "operation failed", fmt.Errorf("underlying error")),
			wantMsg: "operation failed: underlying error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestCloneboxError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := Wrap(ExitGeneralError, KindGeneral, "wrapped", cause)

	if unwrapped := err.Unwrap(); unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}

	errNoCause := New(ExitGeneralError, KindGeneral, "no cause")
	if unwrapped := errNoCause.Unwrap(); unwrapped != nil {
		t.Errorf("Unwrap() = %v, want nil", unwrapped)
	}
}

func TestConstructors(t *testing.T) {
	cause := fmt.Errorf("boom")

	tests := []struct {
		name     string
		err      *CloneboxError
		wantCode int
		wantKind Kind
		subject  string
	}{
		{"not found", SandboxNotFound("sbx-1"), ExitSandboxNotFound, KindNotFound, "sbx-1"},
		{"provisioning", ProvisioningFailed("/root/x", cause), ExitProvisioningFailed, KindProvisioning, "/root/x"},
		{"security", SecurityApplicationFailed("network", cause), ExitSecurityApplication, KindSecurityApplication, "network"},
		{"quota", QuotaExceeded("sbx-1", 10, 5), ExitQuotaExceeded, KindQuotaExceeded, "sbx-1"},
		{"destruction", DestructionFailed("sbx-1", cause), ExitDestructionFailed, KindDestruction, "sbx-1"},
		{"monitoring", MonitoringFailed("sbx-1", cause), ExitMonitoringFailed, KindMonitoring, "sbx-1"},
		{"config", ConfigError("bad config", cause), ExitConfigError, KindConfig, ""},
		{"validation", ValidationError("bad input"), ExitGeneralError, KindValidation, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %d, want %d", tt.err.Code, tt.wantCode)
			}
			if tt.err.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", tt.err.Kind, tt.wantKind)
			}
			if tt.err.Subject != tt.subject {
				t.Errorf("Subject = %q, want %q", tt.err.Subject, tt.subject)
			}
		})
	}
}

func TestCreationFailed_InheritsCode(t *testing.T) {
	inner := ProvisioningFailed("/root/x", fmt.Errorf("disk full"))
	err := CreationFailed("provision", inner)

	if err.Code != ExitProvisioningFailed {
		t.Errorf("Code = %d, want %d", err.Code, ExitProvisioningFailed)
	}
	if err.Message != "create failed at step provision" {
		t.Errorf("Message = %q", err.Message)
	}

	plain := CreationFailed("persist", fmt.Errorf("io"))
	if plain.Code != ExitGeneralError {
		t.Errorf("Code = %d, want %d", plain.Code, ExitGeneralError)
	}
}

func TestIsKind(t *testing.T) {
	inner := SecurityApplicationFailed("limits", fmt.Errorf("read-only fs"))
	outer := fmt.Errorf("outer: %w", CreationFailed("security", inner))

	if !IsKind(outer, KindCreation) {
		t.Error("IsKind(creation) should be true")
	}
	if !IsKind(outer, KindSecurityApplication) {
		t.Error("IsKind(security-application) should be true through the creation wrapper")
	}
	if IsKind(outer, KindProvisioning) {
		t.Error("IsKind(provisioning) should be false")
	}
	if IsKind(fmt.Errorf("plain"), KindGeneral) {
		t.Error("IsKind should be false for plain errors")
	}
	if IsKind(nil, KindGeneral) {
		t.Error("IsKind should be false for nil")
	}
}

func TestStep(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", CreationFailed("register", fmt.Errorf("dup")))
	step, ok := Step(err)
	if !ok || step != "register" {
		t.Errorf("Step() = %q, %v; want register, true", step, ok)
	}

	if _, ok := Step(fmt.Errorf("plain")); ok {
		t.Error("Step() should report false for non-creation errors")
	}
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{
			name:     "CloneboxError",
			err:      SandboxNotFound("test"),
			wantCode: ExitSandboxNotFound,
		},
		{
			name:     "wrapped CloneboxError",
			err:      fmt.Errorf("outer: %w", DestructionFailed("test", nil)),
			wantCode: ExitDestructionFailed,
		},
		{
			name:     "regular error",
			err:      fmt.Errorf("some error"),
			wantCode: ExitGeneralError,
		},
		{
			name:     "nil error",
			err:      nil,
			wantCode: ExitGeneralError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetExitCode(tt.err); got != tt.wantCode {
				t.Errorf("GetExitCode() = %d, want %d", got, tt.wantCode)
			}
		})
	}
}

func TestErrorChaining(t *testing.T) {
	root := fmt.Errorf("root cause")
	middle := Wrap(ExitConfigError, KindConfig, "config error", root)
	outer := fmt.Errorf("operation failed: %w", middle)

	if !errors.Is(outer, root) {
		t.Error("errors.Is should find root cause")
	}

	var cbErr *CloneboxError
	if !As(outer, &cbErr) {
		t.Error("As should find CloneboxError")
	}

	if cbErr.Code != ExitConfigError {
		t.Errorf("Code = %d, want %d", cbErr.Code, ExitConfigError)
	}
}
