package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/amanthanvi/rollbook/internal/audit"
	_ "modernc.org/sqlite"
)

// Connection pragmas, in the modernc.org/sqlite "_pragma" DSN form.
const (
	pragmaJournalModeWAL = "journal_mode(WAL)"
	pragmaBusyTimeout    = "busy_timeout(5000)"
	pragmaForeignKeysOn  = "foreign_keys(1)"
	pragmaForeignKeysOff = "foreign_keys(0)"
	pragmaQueryOnly      = "query_only(1)"

	memoryPath = ":memory:"
)

// Options configures Open.
type Options struct {
	// EnforceCourseReference turns on SQLite foreign key checks so a student
	// cannot point at a missing course, and a referenced course cannot be
	// deleted. Off by default: references are advisory and reads report a
	// missing course as nil.
	EnforceCourseReference bool

	// ReadOnly opens an existing database without creating, migrating or
	// chmod-ing anything. Writes fail with ErrStorage.
	ReadOnly bool

	// Audit receives one event per student mutation. Defaults to audit.Discard.
	Audit audit.Recorder

	Logger *slog.Logger
}

// Store is the single owner of the database connection. Repositories reach
// the database only through QueryAll, QueryOne and Execute.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	closed atomic.Bool

	Courses  CourseRepository
	Students StudentRepository
}

// Result describes the effect of Execute.
type Result struct {
	RowsAffected int64
	LastInsertID int64
}

func Open(path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("open storage: %w: empty path", ErrStorage)
	}
	memory := path == memoryPath

	switch {
	case memory:
	case opts.ReadOnly:
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("open storage: %w: %w", ErrStorage, err)
		}
	default:
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("open storage: create parent dir: %w: %w", ErrStorage, err)
		}
	}

	db, err := sql.Open("sqlite", dataSourceName(path, memory, opts))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w: %w", ErrStorage, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open storage: %w: %w", ErrStorage, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	recorder := opts.Audit
	if recorder == nil {
		recorder = audit.Discard
	}

	store := &Store{
		db:     db,
		path:   path,
		logger: logger.With("component", "storage"),
	}
	if !opts.ReadOnly {
		if err := store.InitializeSchema(context.Background()); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	if !memory && !opts.ReadOnly {
		if err := ensureDBPermissions(path); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	store.Courses = &courseRepository{store: store}
	store.Students = &studentRepository{store: store, audit: recorder}

	store.logger.Debug("storage opened", "path", path, "enforce_course_reference", opts.EnforceCourseReference, "read_only", opts.ReadOnly)
	return store, nil
}

// InitializeSchema creates the course and student tables when they are
// missing. It is safe to call repeatedly.
func (s *Store) InitializeSchema(ctx context.Context) error {
	db, err := s.conn()
	if err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	if err := RunMigrations(ctx, db, DefaultMigrations()); err != nil {
		if errors.Is(err, ErrStorage) {
			return fmt.Errorf("initialize schema: %w", err)
		}
		return fmt.Errorf("initialize schema: %w: %w", ErrStorage, err)
	}
	s.logger.Debug("schema ready", "version", CurrentSchemaVersion())
	return nil
}

// Execute runs one mutating statement. The connection is in autocommit mode,
// so the change is durable when Execute returns without error.
func (s *Store) Execute(ctx context.Context, query string, args ...any) (Result, error) {
	db, err := s.conn()
	if err != nil {
		return Result{}, err
	}

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return Result{}, s.fail("execute", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return Result{}, s.fail("execute: rows affected", err)
	}
	lastID, err := res.LastInsertId()
	if err != nil {
		return Result{}, s.fail("execute: last insert id", err)
	}
	return Result{RowsAffected: affected, LastInsertID: lastID}, nil
}

// Close releases the connection. Later calls on the store fail with ErrClosed.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if s.closed.Swap(true) {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close storage: %w: %w", ErrStorage, err)
	}
	s.logger.Debug("storage closed", "path", s.path)
	return nil
}

// SchemaVersion reports the highest migration recorded in the database.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	version, err := readSchemaVersion(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return version, nil
}

func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.db
}

func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

func (s *Store) conn() (*sql.DB, error) {
	if s == nil || s.db == nil || s.closed.Load() {
		return nil, ErrClosed
	}
	return s.db, nil
}

func (s *Store) fail(op string, err error) error {
	classified := classifyError(err)

	var constraint *ConstraintError
	if errors.As(classified, &constraint) {
		s.logger.Debug("constraint rejected write", "op", op, "kind", constraint.Kind.Error(), "constraint", constraint.Constraint)
	}
	return fmt.Errorf("%s: %w", op, classified)
}

// dataSourceName puts the pragmas in the DSN so the driver applies them to
// every connection it opens, including ones database/sql replaces later.
func dataSourceName(path string, memory bool, opts Options) string {
	pragmas := []string{pragmaBusyTimeout}
	if !memory && !opts.ReadOnly {
		pragmas = append(pragmas, pragmaJournalModeWAL)
	}
	if opts.EnforceCourseReference {
		pragmas = append(pragmas, pragmaForeignKeysOn)
	} else {
		pragmas = append(pragmas, pragmaForeignKeysOff)
	}
	if opts.ReadOnly {
		pragmas = append(pragmas, pragmaQueryOnly)
	}
	return path + "?" + url.Values{"_pragma": pragmas}.Encode()
}

func ensureDBPermissions(path string) error {
	if err := os.Chmod(path, 0o600); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("set db file permissions: %w: %w", ErrStorage, err)
		}
	}

	walPath := path + "-wal"
	if err := os.Chmod(walPath, 0o600); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("set wal file permissions: %w: %w", ErrStorage, err)
		}
	}
	return nil
}
