// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"errors"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// IsSQLiteBusyError checks if the error is a SQLITE_BUSY error.
// This occurs when the database is locked by another connection.
func IsSQLiteBusyError(err error) bool {
	return sqliteCode(err) == sqlite3.SQLITE_BUSY ||
		(err != nil && strings.Contains(err.Error(), "SQLITE_BUSY"))
}

// IsSQLiteLockedError checks if the error is a "database is locked" error.
func IsSQLiteLockedError(err error) bool {
	return sqliteCode(err) == sqlite3.SQLITE_LOCKED ||
		(err != nil && strings.Contains(err.Error(), "database is locked"))
}

// IsSQLiteConflictError reports lock contention that warrants a retry.
func IsSQLiteConflictError(err error) bool {
	return IsSQLiteBusyError(err) || IsSQLiteLockedError(err)
}

// sqliteCode returns the primary result code of a driver error, or -1.
func sqliteCode(err error) int {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return -1
	}
	// Extended codes carry the primary code in the low byte.
	return se.Code() & 0xff
}
