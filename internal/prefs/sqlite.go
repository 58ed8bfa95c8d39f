package prefs

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
)

const timeFormat = "2006-01-02 15:04:05"

// SQLiteStore keeps preferences in the viewer_preferences table.
type SQLiteStore struct {
	db *sql.DB

	Now func() time.Time // stamps updated_at (mockable for testing)
}

// NewSQLiteStore creates a preference store over db. The schema must already
// exist.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, Now: time.Now}
}

func (s *SQLiteStore) Get(ctx context.Context, viewerID int64, key string, dst any) (bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM viewer_preferences WHERE viewer_id = ? AND pref_key = ?`,
		viewerID, key,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "get preference %q", key)
	}
	if err := decode(key, []byte(data), dst); err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, viewerID int64, key string, value any) error {
	data, err := encode(key, value)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO viewer_preferences (viewer_id, pref_key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(viewer_id, pref_key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, viewerID, key, string(data), s.Now().UTC().Format(timeFormat))
	if err != nil {
		return eris.Wrapf(err, "set preference %q", key)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, viewerID int64, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM viewer_preferences WHERE viewer_id = ? AND pref_key = ?`, viewerID, key,
	); err != nil {
		return eris.Wrapf(err, "delete preference %q", key)
	}
	return nil
}

func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM viewer_preferences WHERE updated_at < ?`, cutoff.UTC().Format(timeFormat))
	if err != nil {
		return 0, eris.Wrap(err, "prune preferences")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "prune preferences")
	}
	return n, nil
}
