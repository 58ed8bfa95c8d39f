// Package storetest provides a Fixture and helpers for tests that seed forms
// and submissions through the Store's public API.
package storetest

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wesm/formvault/internal/store"
	"github.com/wesm/formvault/internal/testutil"
)

// Fixture holds common test state for store-level tests.
type Fixture struct {
	T     *testing.T
	Store *store.Store

	subCounter atomic.Int64
}

// New creates a Fixture with a fresh test database.
func New(t *testing.T) *Fixture {
	t.Helper()
	return &Fixture{T: t, Store: testutil.NewTestStore(t)}
}

// FormOpts configures CreateForm. Zero values give a published form owned by
// user 1 with no publish window.
type FormOpts struct {
	Description string
	Unpublished bool
	PublishUp   *time.Time
	PublishDown *time.Time
	Owner       int64
	Fields      []string // field labels; aliases are derived
}

// CreateForm inserts a form and its fields and returns the form id.
func (f *Fixture) CreateForm(name string, opts FormOpts) int64 {
	f.T.Helper()
	owner := opts.Owner
	if owner == 0 {
		owner = 1
	}
	id, _, err := f.Store.CreateForm(store.FormInput{
		Name:        name,
		Description: opts.Description,
		IsPublished: !opts.Unpublished,
		PublishUp:   opts.PublishUp,
		PublishDown: opts.PublishDown,
		CreatedBy:   owner,
	})
	testutil.MustNoErr(f.T, err, "CreateForm "+name)
	for _, label := range opts.Fields {
		_, err := f.Store.AddField(id, label, "")
		testutil.MustNoErr(f.T, err, "AddField "+label)
	}
	return id
}

// AddSubmission records one submission with the given values. Submissions
// are spaced one minute apart so date ordering is deterministic.
func (f *Fixture) AddSubmission(formID int64, values map[string]string) int64 {
	f.T.Helper()
	n := f.subCounter.Add(1)
	id, err := f.Store.AddSubmission(store.SubmissionInput{
		FormID:        formID,
		DateSubmitted: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(n) * time.Minute),
		IPAddress:     fmt.Sprintf("10.0.0.%d", n%250+1),
		Values:        values,
	})
	testutil.MustNoErr(f.T, err, "AddSubmission")
	return id
}

// AddSubmissions records count submissions without values and returns their
// ids in insertion order.
func (f *Fixture) AddSubmissions(formID int64, count int) []int64 {
	f.T.Helper()
	ids := make([]int64, 0, count)
	for i := 0; i < count; i++ {
		ids = append(ids, f.AddSubmission(formID, nil))
	}
	return ids
}

// DeleteSubmissions removes the given submissions of a form.
func (f *Fixture) DeleteSubmissions(formID int64, ids ...int64) {
	f.T.Helper()
	for _, id := range ids {
		_, err := f.Store.DeleteSubmission(formID, id)
		testutil.MustNoErr(f.T, err, "DeleteSubmission")
	}
}
