// Package prefs stores per-viewer preferences: list pages, sort state,
// filters and pending flash messages. Values are JSON encoded.
package prefs

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

// Preference keys for the forms index.
const (
	KeyFormPage   = "form.page"
	KeyFormFilter = "form.filter"
	KeyFlashes    = "flashes"
)

// Suffixes of per-form result-list keys, see ResultKey.
const (
	ResultPage     = "page"
	ResultOrderBy  = "orderby"
	ResultOrderDir = "orderbydir"
	ResultFilters  = "filters"
)

// ResultKey returns the preference key for a result-list setting of one
// form, e.g. "formresult.12.page".
func ResultKey(formID int64, suffix string) string {
	return "formresult." + strconv.FormatInt(formID, 10) + "." + suffix
}

// Store is a key-value preference store scoped by viewer. Concurrent writers
// for the same viewer and key race; the last write wins.
type Store interface {
	// Get decodes the value stored under key into dst. It reports false
	// when no value exists.
	Get(ctx context.Context, viewerID int64, key string, dst any) (bool, error)
	Set(ctx context.Context, viewerID int64, key string, value any) error
	Delete(ctx context.Context, viewerID int64, key string) error
	// Prune removes preferences last written before cutoff and returns the
	// number removed.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

func encode(key string, value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, eris.Wrapf(err, "encode preference %q", key)
	}
	return data, nil
}

func decode(key string, data []byte, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return eris.Wrapf(err, "decode preference %q", key)
	}
	return nil
}

// GetInt returns an integer preference, or def when it is unset.
func GetInt(ctx context.Context, s Store, viewerID int64, key string, def int) (int, error) {
	var v int
	ok, err := s.Get(ctx, viewerID, key, &v)
	if err != nil || !ok {
		return def, err
	}
	return v, nil
}

// GetString returns a string preference, or def when it is unset.
func GetString(ctx context.Context, s Store, viewerID int64, key, def string) (string, error) {
	var v string
	ok, err := s.Get(ctx, viewerID, key, &v)
	if err != nil || !ok {
		return def, err
	}
	return v, nil
}
