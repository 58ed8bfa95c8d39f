package store

import (
	"database/sql"
	"sort"
	"time"

	"github.com/rotisserie/eris"
)

// ErrUnknownField is returned when a submission carries a value for a field
// the form does not define.
var ErrUnknownField = eris.New("unknown form field")

// SubmissionInput is one form submission to record.
type SubmissionInput struct {
	FormID        int64
	DateSubmitted time.Time // zero means now
	IPAddress     string
	Referer       string
	Values        map[string]string // field alias -> value
}

// AddSubmission records a submission and its values in one transaction.
// Values keyed by an alias the form does not define are rejected.
func (s *Store) AddSubmission(in SubmissionInput) (int64, error) {
	submitted := in.DateSubmitted
	if submitted.IsZero() {
		submitted = time.Now()
	}

	var id int64
	err := s.withTx(func(tx *sql.Tx) error {
		known := make(map[string]bool)
		rows, err := tx.Query(`SELECT alias FROM form_fields WHERE form_id = ?`, in.FormID)
		if err != nil {
			return eris.Wrap(err, "load field aliases")
		}
		for rows.Next() {
			var alias string
			if err := rows.Scan(&alias); err != nil {
				rows.Close()
				return eris.Wrap(err, "scan field alias")
			}
			known[alias] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return eris.Wrap(err, "iterate field aliases")
		}

		aliases := make([]string, 0, len(in.Values))
		for alias := range in.Values {
			if !known[alias] {
				return eris.Wrapf(ErrUnknownField, "form %d has no field %q", in.FormID, alias)
			}
			aliases = append(aliases, alias)
		}
		sort.Strings(aliases)

		res, err := tx.Exec(`
			INSERT INTO submissions (form_id, date_submitted, ip_address, referer)
			VALUES (?, ?, ?, ?)
		`, in.FormID, submitted.UTC().Format(timeFormat), in.IPAddress, in.Referer)
		if err != nil {
			return eris.Wrap(err, "insert submission")
		}
		id, err = res.LastInsertId()
		if err != nil {
			return eris.Wrap(err, "submission id")
		}

		for _, alias := range aliases {
			if _, err := tx.Exec(`
				INSERT INTO submission_values (submission_id, field_alias, value) VALUES (?, ?, ?)
			`, id, alias, in.Values[alias]); err != nil {
				return eris.Wrapf(err, "insert value %q", alias)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// DeleteSubmission removes one submission of a form. It reports whether a
// row was deleted.
func (s *Store) DeleteSubmission(formID, id int64) (bool, error) {
	var deleted bool
	err := s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM submissions WHERE id = ? AND form_id = ?`, id, formID)
		if err != nil {
			return eris.Wrap(err, "delete submission")
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return nil
		}
		deleted = true
		if _, err := tx.Exec(`DELETE FROM submission_values WHERE submission_id = ?`, id); err != nil {
			return eris.Wrap(err, "delete submission values")
		}
		return nil
	})
	return deleted, err
}
