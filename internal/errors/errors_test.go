package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestComplianceError(t *testing.T) {
	t.Run("fatal error creation", func(t *testing.T) {
		err := NewFatal(CodeNoPolicies, "no policies assigned")
		if err.Code != CodeNoPolicies {
			t.Errorf("Expected code %s, got %s", CodeNoPolicies, err.Code)
		}
		if err.Severity != SeverityFatal {
			t.Errorf("Expected fatal severity, got %s", err.Severity)
		}
		if err.Error() != "[NO_POLICIES] no policies assigned" {
			t.Errorf("Unexpected message: %s", err.Error())
		}
	})

	t.Run("policy and process details", func(t *testing.T) {
		err := NewFatal(CodeScanFailed, "scan failed").
			WithPolicy("xccdf_org.ssgproject.content_profile_cis").
			WithProcess(1, "OpenSCAP Error")
		if err.ExitCode != 1 || err.Output != "OpenSCAP Error" {
			t.Errorf("process details not recorded: %+v", err)
		}
		want := "[SCAN_FAILED] scan failed (policy: xccdf_org.ssgproject.content_profile_cis)"
		if err.Error() != want {
			t.Errorf("Expected %q, got %q", want, err.Error())
		}
	})

	t.Run("wrapped cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := WrapSoft(CodeRequestFailed, "tailoring download failed", cause)
		if !errors.Is(err, cause) {
			t.Error("Expected errors.Is to find the cause")
		}
		if err.Error() != "[REQUEST_FAILED] tailoring download failed: connection refused" {
			t.Errorf("Unexpected message: %s", err.Error())
		}
	})
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"fatal", NewFatal(CodeOutOfMemory, "oom"), true},
		{"soft", NewSoft(CodePolicyDocument, "not found"), false},
		{"wrapped fatal", fmt.Errorf("policy cis: %w", NewFatal(CodeScanFailed, "x")), true},
		{"wrapped soft", fmt.Errorf("policy cis: %w", NewSoft(CodePostProcess, "x")), false},
		{"config error", ErrConfigMissing("api.base_url"), true},
		{"plain error", errors.New("unexpected"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatal(tt.err); got != tt.want {
				t.Errorf("IsFatal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"compliance error", NewFatal(CodeMissingPackages, "x"), CodeMissingPackages},
		{"wrapped compliance error", fmt.Errorf("wrap: %w", NewFatal(CodeArchive, "x")), CodeArchive},
		{"config error", ErrConfigInvalid("scan.temp_dir", ""), CodeValidation},
		{"plain error", errors.New("x"), CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.want {
				t.Errorf("GetCode() = %s, want %s", got, tt.want)
			}
			if !IsCode(tt.err, tt.want) {
				t.Errorf("IsCode(%s) should be true", tt.want)
			}
		})
	}

	if IsCode(nil, CodeUnknown) {
		t.Error("IsCode(nil) should be false")
	}
}

func TestConfigError(t *testing.T) {
	err := ErrConfigMissing("api.base_url")
	if err.Error() != "[CONFIGURATION] Required configuration field missing (field: api.base_url)" {
		t.Errorf("Unexpected message: %s", err.Error())
	}

	cause := errors.New("yaml: line 3")
	wrapped := WrapConfigError(CodeConfiguration, "failed to parse config", cause)
	if !errors.Is(wrapped, cause) {
		t.Error("Expected errors.Is to find the cause")
	}
	if wrapped.Error() != "[CONFIGURATION] failed to parse config" {
		t.Errorf("Unexpected message: %s", wrapped.Error())
	}
}

func TestSeverityString(t *testing.T) {
	if SeverityFatal.String() != "fatal" || SeveritySoft.String() != "soft" {
		t.Errorf("unexpected severity strings: %s %s", SeverityFatal, SeveritySoft)
	}
}
