package errors

import (
	"errors"
)

// Common error types
var (
	// ErrStorage covers store I/O failures; the triggering operation fails
	// and no partial write is assumed committed.
	ErrStorage = errors.New("storage error")
	// ErrExternalEffect covers failed or timed-out platform calls.
	ErrExternalEffect = errors.New("external effect failed")
	ErrNotFound       = errors.New("not found")
	// ErrScopeUnreachable marks a chat that no longer exists or that the bot
	// was removed from; restriction records for it are purged without an
	// external call.
	ErrScopeUnreachable = errors.New("scope unreachable")
	ErrNoPrivileges     = errors.New("no privileges")
	ErrInvalidInput     = errors.New("invalid input")
)
