package storage

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrStorageUnavailable marks conditions worth a cooldown: missing schema, unreachable backend, lock held.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// WriteError wraps any other persistence failure.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// postgres SQLSTATE codes that mean the schema is not in place.
var schemaMissingCodes = map[string]bool{
	"42P01": true, // undefined_table
	"42703": true, // undefined_column
	"3F000": true, // invalid_schema_name
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}

func isSchemaMissing(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && schemaMissingCodes[pgErr.Code]
}

// classifyWrite maps a failed write to ErrStorageUnavailable or a WriteError.
func classifyWrite(op string, err error) error {
	if isSchemaMissing(err) {
		return unavailable(op, err)
	}
	return &WriteError{Op: op, Err: err}
}

// classifyRead maps a failed aggregate read.
func classifyRead(op string, err error) error {
	if isSchemaMissing(err) {
		return unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
