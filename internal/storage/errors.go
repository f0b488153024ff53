package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

var (
	// ErrStorage is wrapped by every failure that originates in the store.
	ErrStorage = errors.New("storage: operation failed")

	ErrUniqueViolation = fmt.Errorf("%w: uniqueness violation", ErrStorage)
	ErrReferentialGap  = fmt.Errorf("%w: course reference does not resolve", ErrStorage)
	ErrClosed          = fmt.Errorf("%w: store is closed", ErrStorage)
	ErrSchemaTooNew    = fmt.Errorf("%w: schema version newer than code", ErrStorage)

	ErrNotFound   = errors.New("storage: not found")
	ErrValidation = errors.New("storage: validation failed")
)

// ConstraintError reports a write rejected by a table constraint. Kind is
// ErrUniqueViolation or ErrReferentialGap; Constraint names the column when
// SQLite reports one (for example "courses.course_code").
type ConstraintError struct {
	Kind       error
	Constraint string
	Err        error
}

func (e *ConstraintError) Error() string {
	if e.Constraint == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Constraint)
}

func (e *ConstraintError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorage) {
		return err
	}
	if errors.Is(err, sql.ErrConnDone) || strings.Contains(err.Error(), "database is closed") {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}

	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_UNIQUE, sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY:
			return &ConstraintError{Kind: ErrUniqueViolation, Constraint: constraintName(err), Err: err}
		case sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY:
			return &ConstraintError{Kind: ErrReferentialGap, Err: err}
		}
	}

	message := strings.ToLower(err.Error())
	switch {
	case strings.Contains(message, "unique constraint failed"):
		return &ConstraintError{Kind: ErrUniqueViolation, Constraint: constraintName(err), Err: err}
	case strings.Contains(message, "foreign key constraint failed"):
		return &ConstraintError{Kind: ErrReferentialGap, Err: err}
	}
	return fmt.Errorf("%w: %w", ErrStorage, err)
}

// constraintName extracts "table.column" from messages such as
// "UNIQUE constraint failed: courses.course_code (2067)".
func constraintName(err error) string {
	msg := err.Error()
	idx := strings.LastIndex(msg, "failed: ")
	if idx < 0 {
		return ""
	}
	name := msg[idx+len("failed: "):]
	if cut := strings.Index(name, " ("); cut >= 0 {
		name = name[:cut]
	}
	return strings.TrimSpace(name)
}
