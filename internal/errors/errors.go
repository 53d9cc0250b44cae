// Package errors provides structured error types for appbackup
// with error codes, categories, and remediation guidance
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

// Error codes for appbackup
// Format: APPBACKUP-<CATEGORY><NUMBER>
// Categories: C=Config, E=Environment, D=Data, S=Storage, U=User
const (
	// Configuration errors (user fix)
	ErrCodeInvalidConfig  ErrorCode = "APPBACKUP-C001"
	ErrCodeBadTemplate    ErrorCode = "APPBACKUP-C002"
	ErrCodeEngineMismatch ErrorCode = "APPBACKUP-C003"
	ErrCodeBadLocation    ErrorCode = "APPBACKUP-C004"

	// Environment errors (infrastructure fix)
	ErrCodeToolMissing   ErrorCode = "APPBACKUP-E001"
	ErrCodeCommandFailed ErrorCode = "APPBACKUP-E002"
	ErrCodeDiskFull      ErrorCode = "APPBACKUP-E003"

	// Data errors (investigate)
	ErrCodeEncryptFailed ErrorCode = "APPBACKUP-D001"
	ErrCodeDecryptFailed ErrorCode = "APPBACKUP-D002"
	ErrCodeBadStream     ErrorCode = "APPBACKUP-D003"

	// Storage errors
	ErrCodeBackupNotFound ErrorCode = "APPBACKUP-S001"
	ErrCodeStorageIO      ErrorCode = "APPBACKUP-S002"

	// Operator decisions (not failures)
	ErrCodeAborted ErrorCode = "APPBACKUP-U001"
)

// Category represents error categories
type Category string

const (
	CategoryConfig      Category = "configuration"
	CategoryEnvironment Category = "environment"
	CategoryData        Category = "data"
	CategoryStorage     Category = "storage"
	CategoryUser        Category = "user"
)

// BackupError is a structured error with code, category, and remediation
type BackupError struct {
	Code        ErrorCode
	Category    Category
	Message     string
	Details     string
	Remediation string
	Cause       error
}

// Error implements error interface
func (e *BackupError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += fmt.Sprintf("\n\nDetails:\n  %s", e.Details)
	}
	if e.Remediation != "" {
		msg += fmt.Sprintf("\n\nTo fix:\n  %s", e.Remediation)
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *BackupError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for error comparison
func (e *BackupError) Is(target error) bool {
	if t, ok := target.(*BackupError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetails adds details to an error
func (e *BackupError) WithDetails(details string) *BackupError {
	e.Details = details
	return e
}

// WithCause adds an underlying cause
func (e *BackupError) WithCause(cause error) *BackupError {
	e.Cause = cause
	return e
}

// NewConfigError creates a configuration error
func NewConfigError(message string, remediation string) *BackupError {
	return &BackupError{
		Code:        ErrCodeInvalidConfig,
		Category:    CategoryConfig,
		Message:     message,
		Remediation: remediation,
	}
}

// EngineMismatch reports a restore attempted against a database engine
// different from the one recorded in the backup's metadata sidecar.
func EngineMismatch(recorded, actual string) *BackupError {
	return &BackupError{
		Code:     ErrCodeEngineMismatch,
		Category: CategoryConfig,
		Message:  "Restoring to a different database engine is not supported",
		Details:  fmt.Sprintf("Backup engine: %s\nTarget engine: %s", recorded, actual),
		Remediation: `Restore this backup into a database running the engine it was taken from,
  or take a portable backup with the native serializer connector
  (DB_CONNECTOR=native), which is engine-agnostic.`,
	}
}

// BadTemplate reports a malformed filename template
func BadTemplate(template string, problem string) *BackupError {
	return &BackupError{
		Code:     ErrCodeBadTemplate,
		Category: CategoryConfig,
		Message:  fmt.Sprintf("Invalid filename template: %s", problem),
		Details:  fmt.Sprintf("Template: %q", template),
		Remediation: `Filename templates must contain the {datetime} token and no path
  separators. Example: {databasename}-{servername}-{datetime}.{extension}`,
	}
}

// CommandNotFound creates a missing client tool error. The remediation block
// lists the client packages for the major engines plus the command override
// variables, so an operator can fix the PATH problem without reading source.
func CommandNotFound(command string, cause error) *BackupError {
	return &BackupError{
		Code:     ErrCodeToolMissing,
		Category: CategoryEnvironment,
		Message:  fmt.Sprintf("Database command '%s' not found.", command),
		Details:  "Please ensure the required database client tools are installed on this host and reachable via PATH.",
		Remediation: `Install the client tools for your database engine:

     PostgreSQL: Install postgresql-client
     MySQL: Install mysql-client
     MongoDB: Install mongodb-tools

  Or point appbackup at a custom binary location:

     DUMP_CMD: Path to the dump command
     RESTORE_CMD: Path to the restore command`,
		Cause: cause,
	}
}

// CommandFailed creates an error for an external tool that ran and exited
// non-zero, carrying the captured stderr text.
func CommandFailed(command string, exitCode int, stderr string) *BackupError {
	return &BackupError{
		Code:     ErrCodeCommandFailed,
		Category: CategoryEnvironment,
		Message:  fmt.Sprintf("Command '%s' exited with status %d", firstWord(command), exitCode),
		Details:  strings.TrimSpace(stderr),
	}
}

// EncryptionFailed creates an encryption error
func EncryptionFailed(reason string, cause error) *BackupError {
	return &BackupError{
		Code:     ErrCodeEncryptFailed,
		Category: CategoryData,
		Message:  fmt.Sprintf("Encryption failed: %s", reason),
		Remediation: `Check that GPG_RECIPIENT names a key present in the configured
  public key file (GPG_PUBLIC_KEY).`,
		Cause: cause,
	}
}

// DecryptionFailed creates a decryption error
func DecryptionFailed(reason string, cause error) *BackupError {
	return &BackupError{
		Code:     ErrCodeDecryptFailed,
		Category: CategoryData,
		Message:  fmt.Sprintf("Decryption failed: %s", reason),
		Remediation: `Check that the private key file (GPG_PRIVATE_KEY) holds the key this
  backup was encrypted to, and that the passphrase is correct.`,
		Cause: cause,
	}
}

// BadStream creates an error for input that is not in the expected format,
// e.g. a file that should be compressed or encrypted but is not.
func BadStream(reason string, cause error) *BackupError {
	return &BackupError{
		Code:     ErrCodeBadStream,
		Category: CategoryData,
		Message:  fmt.Sprintf("Unreadable backup stream: %s", reason),
		Cause:    cause,
	}
}

// NoBackupFound creates an error for an empty backup candidate list
func NoBackupFound(criteria string) *BackupError {
	e := &BackupError{
		Code:     ErrCodeBackupNotFound,
		Category: CategoryStorage,
		Message:  "There's no backup file available.",
		Remediation: `Run a backup first, or widen the lookup:
  appbackup list-backups shows everything the storage backend holds.`,
	}
	if criteria != "" {
		e.Details = fmt.Sprintf("Lookup criteria: %s", criteria)
	}
	return e
}

// StorageFailed wraps a storage backend failure
func StorageFailed(op, name string, cause error) *BackupError {
	return &BackupError{
		Code:     ErrCodeStorageIO,
		Category: CategoryStorage,
		Message:  fmt.Sprintf("Storage %s failed for %q", op, name),
		Cause:    cause,
	}
}

// Aborted creates an operator-abort error. This is an intentional decision,
// not a failure, and maps to its own exit code.
func Aborted(operation string) *BackupError {
	return &BackupError{
		Code:     ErrCodeAborted,
		Category: CategoryUser,
		Message:  fmt.Sprintf("%s aborted by operator", operation),
	}
}

// IsAborted reports whether err is an operator abort
func IsAborted(err error) bool {
	return GetCode(err) == ErrCodeAborted
}

// IsCommandNotFound reports whether err is a missing external tool
func IsCommandNotFound(err error) bool {
	return GetCode(err) == ErrCodeToolMissing
}

// IsConfigError reports whether err belongs to the configuration category
func IsConfigError(err error) bool {
	return GetCategory(err) == CategoryConfig
}

// GetCategory returns the error category if available
func GetCategory(err error) Category {
	var backupErr *BackupError
	if errors.As(err, &backupErr) {
		return backupErr.Category
	}
	return ""
}

// GetCode returns the error code if available
func GetCode(err error) ErrorCode {
	var backupErr *BackupError
	if errors.As(err, &backupErr) {
		return backupErr.Code
	}
	return ""
}

func firstWord(s string) string {
	if i := strings.IndexByte(s, ' '); i > 0 {
		return s[:i]
	}
	return s
}
