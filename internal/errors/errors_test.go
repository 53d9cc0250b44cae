package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorCodes(t *testing.T) {
	codes := []struct {
		code     ErrorCode
		category string
	}{
		{ErrCodeInvalidConfig, "C"},
		{ErrCodeBadTemplate, "C"},
		{ErrCodeEngineMismatch, "C"},
		{ErrCodeBadLocation, "C"},
		{ErrCodeToolMissing, "E"},
		{ErrCodeCommandFailed, "E"},
		{ErrCodeDiskFull, "E"},
		{ErrCodeEncryptFailed, "D"},
		{ErrCodeDecryptFailed, "D"},
		{ErrCodeBadStream, "D"},
		{ErrCodeBackupNotFound, "S"},
		{ErrCodeStorageIO, "S"},
		{ErrCodeAborted, "U"},
	}

	for _, tc := range codes {
		t.Run(string(tc.code), func(t *testing.T) {
			if !strings.HasPrefix(string(tc.code), "APPBACKUP-") {
				t.Errorf("ErrorCode %s should start with APPBACKUP-", tc.code)
			}
			if !strings.Contains(string(tc.code), tc.category) {
				t.Errorf("ErrorCode %s should contain category %s", tc.code, tc.category)
			}
		})
	}
}

func TestBackupError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *BackupError
		wantIn  []string
		wantOut []string
	}{
		{
			name: "minimal error",
			err: &BackupError{
				Code:    ErrCodeInvalidConfig,
				Message: "invalid config",
			},
			wantIn:  []string{"[APPBACKUP-C001]", "invalid config"},
			wantOut: []string{"Details:", "To fix:"},
		},
		{
			name: "error with details",
			err: &BackupError{
				Code:    ErrCodeInvalidConfig,
				Message: "invalid config",
				Details: "host is empty",
			},
			wantIn:  []string{"[APPBACKUP-C001]", "invalid config", "Details:", "host is empty"},
			wantOut: []string{"To fix:"},
		},
		{
			name: "error with remediation",
			err: &BackupError{
				Code:        ErrCodeInvalidConfig,
				Message:     "invalid config",
				Remediation: "set the host field",
			},
			wantIn:  []string{"[APPBACKUP-C001]", "invalid config", "To fix:", "set the host field"},
			wantOut: []string{"Details:"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg := tc.err.Error()
			for _, want := range tc.wantIn {
				if !strings.Contains(msg, want) {
					t.Errorf("Error() should contain %q, got %q", want, msg)
				}
			}
			for _, notWant := range tc.wantOut {
				if strings.Contains(msg, notWant) {
					t.Errorf("Error() should NOT contain %q, got %q", notWant, msg)
				}
			}
		})
	}
}

func TestBackupError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := &BackupError{
		Code:  ErrCodeInvalidConfig,
		Cause: cause,
	}

	if err.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), cause)
	}

	errNoCause := &BackupError{Code: ErrCodeInvalidConfig}
	if errNoCause.Unwrap() != nil {
		t.Errorf("Unwrap() = %v, want nil", errNoCause.Unwrap())
	}
}

func TestBackupError_Is(t *testing.T) {
	err1 := &BackupError{Code: ErrCodeInvalidConfig}
	err2 := &BackupError{Code: ErrCodeInvalidConfig}
	err3 := &BackupError{Code: ErrCodeToolMissing}

	if !err1.Is(err2) {
		t.Error("Is() should return true for same error code")
	}

	if err1.Is(err3) {
		t.Error("Is() should return false for different error codes")
	}

	genericErr := errors.New("generic error")
	if err1.Is(genericErr) {
		t.Error("Is() should return false for non-BackupError")
	}
}

func TestCommandNotFound(t *testing.T) {
	err := CommandNotFound("mongodump", errors.New("executable file not found in $PATH"))

	if err.Code != ErrCodeToolMissing {
		t.Errorf("Code = %s, want %s", err.Code, ErrCodeToolMissing)
	}
	if err.Category != CategoryEnvironment {
		t.Errorf("Category = %s, want %s", err.Category, CategoryEnvironment)
	}

	msg := err.Error()
	for _, want := range []string{
		"Database command 'mongodump' not found",
		"Please ensure the required database client tools are installed",
		"PostgreSQL: Install postgresql-client",
		"MySQL: Install mysql-client",
		"MongoDB: Install mongodb-tools",
		"DUMP_CMD: Path to the dump command",
		"RESTORE_CMD: Path to the restore command",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() should contain %q, got:\n%s", want, msg)
		}
	}
}

func TestCommandFailed(t *testing.T) {
	err := CommandFailed("pg_dump --dbname=postgresql://u@h:5432/db", 1, "pg_dump: error: connection refused\n")

	if err.Code != ErrCodeCommandFailed {
		t.Errorf("Code = %s, want %s", err.Code, ErrCodeCommandFailed)
	}
	if !strings.Contains(err.Message, "pg_dump") {
		t.Errorf("Message should name the command, got %s", err.Message)
	}
	if strings.Contains(err.Message, "--dbname") {
		t.Errorf("Message should only name argv[0], got %s", err.Message)
	}
	if !strings.Contains(err.Details, "connection refused") {
		t.Errorf("Details should carry stderr, got %s", err.Details)
	}
}

func TestEngineMismatch(t *testing.T) {
	err := EngineMismatch("postgresql", "mysql")

	if err.Code != ErrCodeEngineMismatch {
		t.Errorf("Code = %s, want %s", err.Code, ErrCodeEngineMismatch)
	}
	if !strings.Contains(err.Error(), "different database engine") {
		t.Errorf("Error() should mention engine mismatch, got %s", err.Error())
	}
	if !strings.Contains(err.Details, "postgresql") || !strings.Contains(err.Details, "mysql") {
		t.Errorf("Details should name both engines, got %s", err.Details)
	}
	if !IsConfigError(err) {
		t.Error("engine mismatch should be a configuration error")
	}
}

func TestNoBackupFound(t *testing.T) {
	err := NoBackupFound("database=foodb servername=prod")

	if err.Code != ErrCodeBackupNotFound {
		t.Errorf("Code = %s, want %s", err.Code, ErrCodeBackupNotFound)
	}
	if !strings.Contains(err.Error(), "There's no backup file available") {
		t.Errorf("Error() should contain availability message, got %s", err.Error())
	}
	if !strings.Contains(err.Details, "foodb") {
		t.Errorf("Details should carry criteria, got %s", err.Details)
	}

	bare := NoBackupFound("")
	if bare.Details != "" {
		t.Errorf("Details should be empty without criteria, got %s", bare.Details)
	}
}

func TestAborted(t *testing.T) {
	err := Aborted("Restore")

	if !IsAborted(err) {
		t.Error("IsAborted should be true for Aborted errors")
	}
	if err.Category != CategoryUser {
		t.Errorf("Category = %s, want %s", err.Category, CategoryUser)
	}
	if !strings.Contains(err.Message, "aborted by operator") {
		t.Errorf("Message = %s, want abort wording", err.Message)
	}
	if IsAborted(errors.New("plain")) {
		t.Error("IsAborted should be false for generic errors")
	}
}

func TestEncryptionFailed(t *testing.T) {
	cause := errors.New("no such key")
	err := EncryptionFailed("no valid recipient key", cause)

	if err.Code != ErrCodeEncryptFailed {
		t.Errorf("Code = %s, want %s", err.Code, ErrCodeEncryptFailed)
	}
	if !strings.Contains(err.Message, "Encryption failed") {
		t.Errorf("Message = %s, want 'Encryption failed' prefix", err.Message)
	}
	if errors.Unwrap(err) != cause {
		t.Errorf("Unwrap() = %v, want %v", errors.Unwrap(err), cause)
	}
}

func TestGetCategoryAndCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCat  Category
		wantCode ErrorCode
	}{
		{"Config", &BackupError{Code: ErrCodeInvalidConfig, Category: CategoryConfig}, CategoryConfig, ErrCodeInvalidConfig},
		{"Storage", &BackupError{Code: ErrCodeStorageIO, Category: CategoryStorage}, CategoryStorage, ErrCodeStorageIO},
		{"GenericError", errors.New("generic error"), "", ""},
		{"NilError", nil, "", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := GetCategory(tc.err); got != tc.wantCat {
				t.Errorf("GetCategory(%v) = %v, want %v", tc.err, got, tc.wantCat)
			}
			if got := GetCode(tc.err); got != tc.wantCode {
				t.Errorf("GetCode(%v) = %v, want %v", tc.err, got, tc.wantCode)
			}
		})
	}
}

func TestErrorsAs(t *testing.T) {
	wrapped := fmt.Errorf("wrapper: %w", &BackupError{
		Code:    ErrCodeInvalidConfig,
		Message: "test error",
	})

	var backupErr *BackupError
	if !errors.As(wrapped, &backupErr) {
		t.Error("errors.As should find BackupError in wrapped error")
	}
	if backupErr.Code != ErrCodeInvalidConfig {
		t.Errorf("Code = %s, want %s", backupErr.Code, ErrCodeInvalidConfig)
	}
}

func TestChainedErrors(t *testing.T) {
	cause := errors.New("root cause")
	err := NewConfigError("config error", "fix config").
		WithCause(cause).
		WithDetails("extra info")

	if err.Cause != cause {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Details != "extra info" {
		t.Errorf("Details = %s, want 'extra info'", err.Details)
	}

	unwrapped := errors.Unwrap(err)
	if unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}
}
