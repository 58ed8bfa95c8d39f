// Package store provides database access for formvault.
package store

import (
	"database/sql"
	"embed"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/rotisserie/eris"
	"github.com/wesm/formvault/internal/fileutil"
)

//go:embed schema.sql
var schemaFS embed.FS

// Store provides database operations for formvault.
type Store struct {
	db     *sql.DB
	dbPath string
}

const defaultSQLiteParams = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"

// timeFormat is the layout DATETIME columns are written in.
const timeFormat = "2006-01-02 15:04:05"

// driverError unwraps a go-sqlite3 error, which the driver returns in both
// value and pointer form.
func driverError(err error) (sqlite3.Error, bool) {
	var v sqlite3.Error
	if errors.As(err, &v) {
		return v, true
	}
	var p *sqlite3.Error
	if errors.As(err, &p) && p != nil {
		return *p, true
	}
	return sqlite3.Error{}, false
}

// isUniqueViolation reports a UNIQUE constraint failure, such as a taken
// form alias.
func isUniqueViolation(err error) bool {
	e, ok := driverError(err)
	return ok && e.ExtendedCode == sqlite3.ErrConstraintUnique
}

// isMissingTable reports a query against a table InitSchema has not created.
func isMissingTable(err error) bool {
	e, ok := driverError(err)
	return ok && strings.Contains(e.Error(), "no such table")
}

// Open opens or creates the database at the given path.
func Open(dbPath string) (*Store, error) {
	if strings.HasPrefix(dbPath, "postgresql://") || strings.HasPrefix(dbPath, "postgres://") {
		return nil, eris.New("PostgreSQL is not supported; use a SQLite path instead")
	}

	if err := fileutil.MkdirPrivate(filepath.Dir(dbPath)); err != nil {
		return nil, eris.Wrap(err, "create db directory")
	}

	db, err := sql.Open("sqlite3", dbPath+defaultSQLiteParams)
	if err != nil {
		return nil, eris.Wrap(err, "open database")
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "ping database")
	}

	return &Store{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for the query engine and
// preference store.
func (s *Store) DB() *sql.DB {
	return s.db
}

// withTx executes fn within a database transaction. If fn returns an error,
// the transaction is rolled back; otherwise it is committed.
func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return eris.Wrap(err, "begin tx")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// InitSchema creates all tables if they don't exist.
func (s *Store) InitSchema() error {
	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return eris.Wrap(err, "read schema.sql")
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return eris.Wrap(err, "execute schema.sql")
	}
	return nil
}

// Stats holds database statistics.
type Stats struct {
	FormCount       int64
	FieldCount      int64
	SubmissionCount int64
	PreferenceCount int64
	DatabaseSize    int64
}

// GetStats returns statistics about the database.
func (s *Store) GetStats() (*Stats, error) {
	stats := &Stats{}

	queries := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM forms", &stats.FormCount},
		{"SELECT COUNT(*) FROM form_fields", &stats.FieldCount},
		{"SELECT COUNT(*) FROM submissions", &stats.SubmissionCount},
		{"SELECT COUNT(*) FROM viewer_preferences", &stats.PreferenceCount},
	}

	for _, q := range queries {
		if err := s.db.QueryRow(q.query).Scan(q.dest); err != nil {
			if isMissingTable(err) {
				continue
			}
			return nil, eris.Wrapf(err, "get stats %q", q.query)
		}
	}

	if info, err := os.Stat(s.dbPath); err == nil {
		stats.DatabaseSize = info.Size()
	}

	return stats, nil
}
