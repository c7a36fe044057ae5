// Package common provides shared constants, types, and utilities
// used across ovpnctl.
package common

import "errors"

// Sentinel errors for session and storage operations.
// These can be checked with errors.Is() for proper error handling.
var (
	// Session errors.
	ErrAlreadyConnected = errors.New("session already active")
	ErrNotConnected     = errors.New("no active session")
	ErrConnectionFailed = errors.New("management channel unreachable")
	ErrProcessSpawn     = errors.New("openvpn process failed to start")
	ErrTimeout          = errors.New("operation timed out")

	// Configuration store errors.
	ErrConfigNotFound  = errors.New("configuration not found")
	ErrInvalidConfig   = errors.New("invalid configuration file")
	ErrDuplicateConfig = errors.New("configuration already exists")

	// Credential errors.
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrCredentialStorage   = errors.New("failed to store credentials")
	ErrEncryption          = errors.New("encryption error")
	ErrDecryption          = errors.New("decryption error")

	// Settings errors.
	ErrConfigLoad = errors.New("failed to load settings")
	ErrConfigSave = errors.New("failed to save settings")
)

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return &wrappedError{
		msg: message,
		err: err,
	}
}

type wrappedError struct {
	msg string
	err error
}

func (e *wrappedError) Error() string {
	return e.msg + ": " + e.err.Error()
}

func (e *wrappedError) Unwrap() error {
	return e.err
}
