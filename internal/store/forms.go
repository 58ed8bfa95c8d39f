package store

import (
	"database/sql"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/rotisserie/eris"
)

// ErrAliasTaken is returned when a form alias is already used by another form.
var ErrAliasTaken = eris.New("form alias already in use")

// maxAliasLength bounds aliases derived from a form name.
const maxAliasLength = 10

// FormInput holds the writable attributes of a form.
type FormInput struct {
	Name        string
	Alias       string // derived from Name when empty
	Description string
	IsPublished bool
	PublishUp   *time.Time
	PublishDown *time.Time
	CreatedBy   int64
}

// CleanAlias lowercases s and strips everything but ASCII letters, digits
// and underscores, truncating to maxLen runes when maxLen > 0.
func CleanAlias(s string, maxLen int) string {
	var b strings.Builder
	n := 0
	for _, r := range strings.ToLower(s) {
		if r > unicode.MaxASCII {
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			if maxLen > 0 && n >= maxLen {
				break
			}
			b.WriteRune(r)
			n++
		}
	}
	return b.String()
}

// CheckUniqueAlias returns the number of forms other than excludeID that use
// alias. A result of 0 means the alias is free. Pass excludeID 0 for a new
// form.
func (s *Store) CheckUniqueAlias(alias string, excludeID int64) (int64, error) {
	query := `SELECT COUNT(id) FROM forms WHERE alias = ?`
	args := []any{alias}
	if excludeID != 0 {
		query += ` AND id != ?`
		args = append(args, excludeID)
	}

	var count int64
	if err := s.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, eris.Wrap(err, "check unique alias")
	}
	return count, nil
}

// uniqueAlias picks an alias for a form. An explicit alias must be free;
// a derived one gets a numeric suffix until it is.
func (s *Store) uniqueAlias(in FormInput, excludeID int64) (string, error) {
	alias := CleanAlias(in.Alias, 0)
	explicit := alias != ""
	if !explicit {
		alias = CleanAlias(in.Name, maxAliasLength)
		if alias == "" {
			alias = "form"
		}
	}

	count, err := s.CheckUniqueAlias(alias, excludeID)
	if err != nil {
		return "", err
	}
	if count == 0 {
		return alias, nil
	}
	if explicit {
		return "", eris.Wrapf(ErrAliasTaken, "alias %q", alias)
	}

	for suffix := count; ; suffix++ {
		candidate := alias + strconv.FormatInt(suffix, 10)
		n, err := s.CheckUniqueAlias(candidate, excludeID)
		if err != nil {
			return "", err
		}
		if n == 0 {
			return candidate, nil
		}
	}
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeFormat)
}

// CreateForm inserts a new form and returns its id and final alias.
func (s *Store) CreateForm(in FormInput) (int64, string, error) {
	if strings.TrimSpace(in.Name) == "" {
		return 0, "", eris.New("form name is required")
	}
	alias, err := s.uniqueAlias(in, 0)
	if err != nil {
		return 0, "", err
	}

	res, err := s.db.Exec(`
		INSERT INTO forms (name, alias, description, is_published, publish_up, publish_down, created_by, date_added)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, in.Name, alias, in.Description, in.IsPublished, nullTime(in.PublishUp), nullTime(in.PublishDown),
		in.CreatedBy, time.Now().UTC().Format(timeFormat))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, "", eris.Wrapf(ErrAliasTaken, "alias %q", alias)
		}
		return 0, "", eris.Wrap(err, "insert form")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, "", eris.Wrap(err, "form id")
	}
	return id, alias, nil
}

// UpdateForm rewrites the attributes of an existing form. It returns
// sql.ErrNoRows when id does not exist.
func (s *Store) UpdateForm(id int64, in FormInput) (string, error) {
	alias, err := s.uniqueAlias(in, id)
	if err != nil {
		return "", err
	}

	res, err := s.db.Exec(`
		UPDATE forms
		SET name = ?, alias = ?, description = ?, is_published = ?,
		    publish_up = ?, publish_down = ?, date_modified = ?
		WHERE id = ?
	`, in.Name, alias, in.Description, in.IsPublished, nullTime(in.PublishUp), nullTime(in.PublishDown),
		time.Now().UTC().Format(timeFormat), id)
	if err != nil {
		if isUniqueViolation(err) {
			return "", eris.Wrapf(ErrAliasTaken, "alias %q", alias)
		}
		return "", eris.Wrapf(err, "update form %d", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", sql.ErrNoRows
	}
	return alias, nil
}

// DeleteForm removes a form with its fields and submissions.
func (s *Store) DeleteForm(id int64) error {
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			DELETE FROM submission_values
			WHERE submission_id IN (SELECT id FROM submissions WHERE form_id = ?)
		`, id); err != nil {
			return eris.Wrap(err, "delete submission values")
		}
		if _, err := tx.Exec(`DELETE FROM submissions WHERE form_id = ?`, id); err != nil {
			return eris.Wrap(err, "delete submissions")
		}
		if _, err := tx.Exec(`DELETE FROM form_fields WHERE form_id = ?`, id); err != nil {
			return eris.Wrap(err, "delete fields")
		}
		if _, err := tx.Exec(`DELETE FROM forms WHERE id = ?`, id); err != nil {
			return eris.Wrap(err, "delete form")
		}
		return nil
	})
}

// AddField appends a field to a form. An empty alias is derived from label.
func (s *Store) AddField(formID int64, label, alias string) (int64, error) {
	if alias == "" {
		alias = CleanAlias(label, 25)
	} else {
		alias = CleanAlias(alias, 0)
	}
	if alias == "" {
		return 0, eris.Errorf("field %q has no usable alias", label)
	}

	var order int
	if err := s.db.QueryRow(
		`SELECT COALESCE(MAX(field_order), 0) + 1 FROM form_fields WHERE form_id = ?`, formID,
	).Scan(&order); err != nil {
		return 0, eris.Wrap(err, "next field order")
	}

	res, err := s.db.Exec(`
		INSERT INTO form_fields (form_id, label, alias, field_order) VALUES (?, ?, ?, ?)
	`, formID, label, alias, order)
	if err != nil {
		return 0, eris.Wrapf(err, "insert field %q", alias)
	}
	return res.LastInsertId()
}
