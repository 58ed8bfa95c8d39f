// Package query provides the read side of formvault: it compiles search and
// column filters into SQL predicates and runs filtered, sorted, paginated
// queries over forms and their submissions.
package query

import (
	"strings"
	"time"
)

// Form represents a form definition in list and detail views.
type Form struct {
	ID          int64
	Name        string
	Alias       string
	Description string
	IsPublished bool
	PublishUp   *time.Time
	PublishDown *time.Time
	CreatedBy   int64
	DateAdded   time.Time
	ResultCount int64

	// Fields is populated by GetForm only.
	Fields []Field
}

// Field is one input of a form. Submission values are keyed by Alias.
type Field struct {
	ID    int64
	Label string
	Alias string
	Order int
}

// Submission is one completed instance of a form.
type Submission struct {
	ID            int64
	FormID        int64
	DateSubmitted time.Time
	IPAddress     string
	Referer       string
	Values        map[string]string // field alias -> value
}

// Page is one window of an ordered result set. Total is the number of rows
// matching the filters ignoring the window; it is only set when the query
// asked for it (Counted).
type Page[T any] struct {
	Items   []T
	Total   int64
	Counted bool

	// Dropped counts filters that compiled to no predicate.
	Dropped int
}

// SortDirection is ASC or DESC.
type SortDirection string

const (
	SortAsc  SortDirection = "ASC"
	SortDesc SortDirection = "DESC"
)

// ParseSortDirection normalizes a direction string. Anything other than a
// case-insensitive "desc" is ascending.
func ParseSortDirection(s string) SortDirection {
	if strings.EqualFold(strings.TrimSpace(s), "desc") {
		return SortDesc
	}
	return SortAsc
}
