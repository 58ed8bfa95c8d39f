package query

import (
	"context"

	"github.com/wesm/formvault/internal/search"
)

// Engine provides read queries over forms and submissions.
type Engine interface {
	// GetForm returns a form with its fields, or nil if id does not exist.
	GetForm(ctx context.Context, id int64) (*Form, error)

	// ListForms returns forms matching a parsed search string.
	ListForms(ctx context.Context, q FormQuery) (*Page[Form], error)

	// ListSubmissions returns submissions matching column filters.
	ListSubmissions(ctx context.Context, q SubmissionQuery) (*Page[Submission], error)
}

// FormQuery selects a window of forms.
type FormQuery struct {
	Filters  []search.Filter
	ViewerID int64  // resolves is:mine
	OwnerID  *int64 // when set, only forms created by this user

	OrderBy  string // f.* column; unknown or empty orders by name
	OrderDir SortDirection

	Start      int // offset; negative is treated as 0
	Limit      int // 0 means unbounded
	CountTotal bool
}

// SubmissionQuery selects a window of submissions.
type SubmissionQuery struct {
	Filters []ColumnFilter

	OrderBy  string // s.* column; unknown or empty orders by date submitted
	OrderDir SortDirection

	Start int
	Limit int
	// Bypass ignores Start and Limit and returns every matching row.
	Bypass     bool
	CountTotal bool
}
