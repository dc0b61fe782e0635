package store

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("catalog item not found")
	ErrStorageUnavailable = errors.New("catalog storage unavailable")
	ErrMigrationFailed    = errors.New("schema migration failed")
)

// MigrationError reports a failed schema upgrade. It matches ErrMigrationFailed
// and the underlying cause through errors.Is.
type MigrationError struct {
	From int64
	To   int64
	Err  error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migrate schema v%d to v%d: %v", e.From, e.To, e.Err)
}

func (e *MigrationError) Unwrap() []error {
	return []error{ErrMigrationFailed, e.Err}
}
