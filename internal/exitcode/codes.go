package exitcode

import (
	apperrors "appbackup/internal/errors"
)

// Standard exit codes following BSD sysexits.h conventions
// See: https://man.freebsd.org/cgi/man.cgi?query=sysexits
const (
	// Success - operation completed successfully
	Success = 0

	// General - general error (fallback)
	General = 1

	// UsageError - command line usage error
	UsageError = 2

	// DataError - input data was incorrect
	DataError = 65

	// NoInput - input file did not exist or was not readable
	NoInput = 66

	// Unavailable - service unavailable (database unreachable, tool missing)
	Unavailable = 69

	// Software - internal software error
	Software = 70

	// CantCreate - can't create output file
	CantCreate = 73

	// IOError - error during I/O operation
	IOError = 74

	// NoPerm - permission denied
	NoPerm = 77

	// Config - configuration error
	Config = 78

	// Timeout - operation timeout
	Timeout = 124

	// Cancelled - operation cancelled by the operator (Ctrl+C or declined prompt)
	Cancelled = 130
)

// ExitWithCode returns appropriate exit code based on error type.
// Structured errors map by code; everything else falls back to
// message-pattern matching.
func ExitWithCode(err error) int {
	if err == nil {
		return Success
	}

	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeAborted:
		return Cancelled
	case apperrors.ErrCodeInvalidConfig, apperrors.ErrCodeBadTemplate,
		apperrors.ErrCodeEngineMismatch, apperrors.ErrCodeBadLocation:
		return Config
	case apperrors.ErrCodeToolMissing:
		return Unavailable
	case apperrors.ErrCodeBackupNotFound:
		return NoInput
	case apperrors.ErrCodeStorageIO, apperrors.ErrCodeDiskFull:
		return IOError
	case apperrors.ErrCodeEncryptFailed, apperrors.ErrCodeDecryptFailed,
		apperrors.ErrCodeBadStream:
		return DataError
	case apperrors.ErrCodeCommandFailed:
		return General
	}

	errMsg := err.Error()

	// Authentication/Permission errors
	if contains(errMsg, "permission denied", "access denied", "authentication failed", "FATAL: password authentication") {
		return NoPerm
	}

	// Connection errors
	if contains(errMsg, "connection refused", "could not connect", "no such host", "unknown host") {
		return Unavailable
	}

	// File not found
	if contains(errMsg, "no such file", "file not found", "does not exist") {
		return NoInput
	}

	// Disk full / I/O errors
	if contains(errMsg, "no space left", "disk full", "i/o error", "read-only file system") {
		return IOError
	}

	// Timeout errors
	if contains(errMsg, "timeout", "timed out", "deadline exceeded") {
		return Timeout
	}

	// Cancelled errors
	if contains(errMsg, "context canceled", "operation canceled", "cancelled") {
		return Cancelled
	}

	// Configuration errors
	if contains(errMsg, "invalid config", "configuration error", "bad config") {
		return Config
	}

	// Corrupted data
	if contains(errMsg, "corrupted", "truncated", "invalid archive", "bad format") {
		return DataError
	}

	// Default to general error
	return General
}

// contains checks if str contains any of the given substrings
func contains(str string, substrs ...string) bool {
	for _, substr := range substrs {
		if len(str) >= len(substr) {
			for i := 0; i <= len(str)-len(substr); i++ {
				if str[i:i+len(substr)] == substr {
					return true
				}
			}
		}
	}
	return false
}
