// Package results lists and exports the submissions of a form on behalf of a
// viewer, keeping each viewer's page, sort and filter state in a preference
// store.
package results

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wesm/formvault/internal/authz"
	"github.com/wesm/formvault/internal/export"
	"github.com/wesm/formvault/internal/metrics"
	"github.com/wesm/formvault/internal/prefs"
	"github.com/wesm/formvault/internal/query"
	"github.com/wesm/formvault/internal/search"
)

// Outcome is the terminal state of a list, export or index request.
type Outcome string

const (
	Rendered     Outcome = "rendered"
	Redirect     Outcome = "redirect"
	NotFound     Outcome = "not_found"
	AccessDenied Outcome = "access_denied"
)

// ErrInvalidFilter is returned by SetFilters for a filter outside the
// allowed columns and expressions.
var ErrInvalidFilter = errors.New("invalid result filter")

// Authorizer checks viewer capabilities.
type Authorizer interface {
	IsGranted(v authz.Viewer, perm string) (bool, error)
	HasEntityAccess(v authz.Viewer, ownPerm, otherPerm string, ownerID int64) (bool, error)
}

// Options configures a Lister.
type Options struct {
	PageLimit       int    // rows per page
	DefaultOrderBy  string // result order when the viewer has none stored
	DefaultOrderDir query.SortDirection
}

// DefaultOptions returns the stock page size and ordering.
func DefaultOptions() Options {
	return Options{
		PageLimit:       30,
		DefaultOrderBy:  query.DefaultSubmissionOrder,
		DefaultOrderDir: query.SortAsc,
	}
}

// Lister orchestrates result listing and export.
type Lister struct {
	engine  query.Engine
	prefs   prefs.Store
	auth    Authorizer
	exports *export.Registry
	tr      search.Translator
	vocab   *search.Resolver
	opts    Options
	logger  *slog.Logger

	Now func() time.Time // stamps export filenames (mockable for testing)
}

// NewLister wires a Lister. A nil logger uses slog.Default.
func NewLister(engine query.Engine, store prefs.Store, auth Authorizer, exports *export.Registry,
	tr search.Translator, opts Options, logger *slog.Logger) *Lister {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PageLimit <= 0 {
		opts.PageLimit = DefaultOptions().PageLimit
	}
	if !query.ValidSubmissionOrder(opts.DefaultOrderBy) {
		opts.DefaultOrderBy = query.DefaultSubmissionOrder
	}
	return &Lister{
		engine:  engine,
		prefs:   store,
		auth:    auth,
		exports: exports,
		tr:      tr,
		vocab:   search.NewResolver(tr, search.FormCommands),
		opts:    opts,
		logger:  logger,
		Now:     time.Now,
	}
}

// Commands returns the localized form search vocabulary.
func (l *Lister) Commands() []search.Command {
	return search.Commands(l.tr, search.FormCommands)
}

// ListResult is the outcome of List.
//
// Rendered carries Items and Total for Page. Redirect carries the page to
// go to in Page. NotFound carries FormsPage, the forms index page to return
// to; a flash naming the form id has been queued for the viewer.
type ListResult struct {
	Outcome Outcome
	FormID  int64
	Form    *query.Form

	Page      int
	Limit     int
	Items     []query.Submission
	Total     int64
	Filters   []query.ColumnFilter
	OrderBy   string
	OrderDir  query.SortDirection
	FormsPage int
}

// Target is the page to follow a Redirect to. The stale-page formula can
// name a page that is still past the end (3 rows at 10 per page gives page
// 3); page 1 is returned then, so following a redirect always lands.
func (r *ListResult) Target() int {
	if r.Page < 1 || IsStale(r.Total, Offset(r.Page, r.Limit)) {
		return 1
	}
	return r.Page
}

// listState is the viewer's stored list state for one form, with the form
// restriction appended to the filters.
type listState struct {
	filters  []query.ColumnFilter
	orderBy  string
	orderDir query.SortDirection
}

// resolve runs the checks shared by List and Export: the form must exist and
// the viewer must be allowed to view it.
func (l *Lister) resolve(ctx context.Context, viewer authz.Viewer, formID int64) (*query.Form, Outcome, int, error) {
	form, err := l.engine.GetForm(ctx, formID)
	if err != nil {
		return nil, "", 0, err
	}
	if form == nil {
		formsPage, err := prefs.GetInt(ctx, l.prefs, viewer.ID, prefs.KeyFormPage, 1)
		if err != nil {
			return nil, "", 0, err
		}
		msg := l.tr.Translate(search.KeyFormNotFound, formID)
		if err := prefs.AddFlash(ctx, l.prefs, viewer.ID, prefs.FlashError, msg); err != nil {
			return nil, "", 0, err
		}
		return nil, NotFound, formsPage, nil
	}

	ok, err := l.auth.HasEntityAccess(viewer, authz.FormsViewOwn, authz.FormsViewOther, form.CreatedBy)
	if err != nil {
		return nil, "", 0, err
	}
	if !ok {
		return form, AccessDenied, 0, nil
	}
	return form, "", 0, nil
}

func (l *Lister) loadState(ctx context.Context, viewerID, formID int64) (listState, error) {
	var st listState
	var err error

	st.orderBy, err = prefs.GetString(ctx, l.prefs, viewerID, prefs.ResultKey(formID, prefs.ResultOrderBy), l.opts.DefaultOrderBy)
	if err != nil {
		return st, err
	}
	dir, err := prefs.GetString(ctx, l.prefs, viewerID, prefs.ResultKey(formID, prefs.ResultOrderDir), string(l.opts.DefaultOrderDir))
	if err != nil {
		return st, err
	}
	st.orderDir = query.ParseSortDirection(dir)

	if _, err := l.prefs.Get(ctx, viewerID, prefs.ResultKey(formID, prefs.ResultFilters), &st.filters); err != nil {
		return st, err
	}
	st.filters = append(st.filters, query.ColumnFilter{Column: "s.form", Expr: "eq", Value: formID})
	return st, nil
}

func (l *Lister) record(op string, outcome Outcome, viewer authz.Viewer, formID int64) {
	metrics.ListOutcomes.WithLabelValues(op, string(outcome)).Inc()
	l.logger.Debug("result request", "op", op, "form_id", formID, "viewer_id", viewer.ID, "outcome", outcome)
}

// List returns one page of a form's results for viewer. A page of 0 reuses
// the viewer's stored page for the form. When the stored
// filters leave fewer rows than the page starts at, it stores and redirects
// to a fallback page instead of returning an empty page.
func (l *Lister) List(ctx context.Context, viewer authz.Viewer, formID int64, page int) (*ListResult, error) {
	res := &ListResult{FormID: formID, Page: page, Limit: l.opts.PageLimit}

	form, outcome, formsPage, err := l.resolve(ctx, viewer, formID)
	if err != nil {
		return nil, fmt.Errorf("resolve form %d: %w", formID, err)
	}
	res.Form = form
	if outcome != "" {
		res.Outcome = outcome
		res.FormsPage = formsPage
		l.record("list", outcome, viewer, formID)
		return res, nil
	}

	st, err := l.loadState(ctx, viewer.ID, formID)
	if err != nil {
		return nil, fmt.Errorf("load list state: %w", err)
	}
	res.Filters, res.OrderBy, res.OrderDir = st.filters, st.orderBy, st.orderDir

	pageKey := prefs.ResultKey(formID, prefs.ResultPage)
	if page <= 0 {
		if page, err = prefs.GetInt(ctx, l.prefs, viewer.ID, pageKey, 1); err != nil {
			return nil, fmt.Errorf("load page: %w", err)
		}
		res.Page = page
	}

	start := Offset(page, res.Limit)
	result, err := l.engine.ListSubmissions(ctx, query.SubmissionQuery{
		Filters:    st.filters,
		OrderBy:    st.orderBy,
		OrderDir:   st.orderDir,
		Start:      start,
		Limit:      res.Limit,
		CountTotal: true,
	})
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	if result.Dropped > 0 {
		metrics.DroppedFilters.WithLabelValues("column").Add(float64(result.Dropped))
	}
	res.Total = result.Total

	if IsStale(result.Total, start) {
		last := StaleResultPage(res.Limit, result.Total)
		if err := l.prefs.Set(ctx, viewer.ID, pageKey, last); err != nil {
			return nil, fmt.Errorf("store page: %w", err)
		}
		l.logger.Info("result page out of range, redirecting",
			"form_id", formID, "page", page, "total", result.Total, "redirect_page", last)
		res.Outcome = Redirect
		res.Page = last
		l.record("list", Redirect, viewer, formID)
		return res, nil
	}

	if err := l.prefs.Set(ctx, viewer.ID, pageKey, page); err != nil {
		return nil, fmt.Errorf("store page: %w", err)
	}
	res.Outcome = Rendered
	res.Items = result.Items
	l.record("list", Rendered, viewer, formID)
	return res, nil
}

// ExportResult is the outcome of Export. Artifact is set when Outcome is
// Rendered.
type ExportResult struct {
	Outcome   Outcome
	FormID    int64
	Form      *query.Form
	Artifact  *export.Artifact
	FormsPage int
}

// Export renders every result matching the viewer's stored filters, without
// paging, in the requested format.
func (l *Lister) Export(ctx context.Context, viewer authz.Viewer, formID int64, format string) (*ExportResult, error) {
	res := &ExportResult{FormID: formID}

	form, outcome, formsPage, err := l.resolve(ctx, viewer, formID)
	if err != nil {
		return nil, fmt.Errorf("resolve form %d: %w", formID, err)
	}
	res.Form = form
	if outcome != "" {
		res.Outcome = outcome
		res.FormsPage = formsPage
		l.record("export", outcome, viewer, formID)
		return res, nil
	}

	if _, err := l.exports.Get(format); err != nil {
		return nil, err
	}

	st, err := l.loadState(ctx, viewer.ID, formID)
	if err != nil {
		return nil, fmt.Errorf("load list state: %w", err)
	}
	page, err := prefs.GetInt(ctx, l.prefs, viewer.ID, prefs.ResultKey(formID, prefs.ResultPage), 1)
	if err != nil {
		return nil, fmt.Errorf("load page: %w", err)
	}

	result, err := l.engine.ListSubmissions(ctx, query.SubmissionQuery{
		Filters:  st.filters,
		OrderBy:  st.orderBy,
		OrderDir: st.orderDir,
		Start:    Offset(page, l.opts.PageLimit),
		Limit:    l.opts.PageLimit,
		Bypass:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}

	artifact, err := l.exports.NewArtifact(format, form, export.NewTable(form, result.Items), l.Now())
	if err != nil {
		return nil, err
	}
	metrics.ExportRows.WithLabelValues(artifact.Format).Add(float64(artifact.Rows))

	res.Outcome = Rendered
	res.Artifact = artifact
	l.record("export", Rendered, viewer, formID)
	return res, nil
}

// SetFilters replaces the viewer's stored filters and ordering for a form's
// results and resets the list to page 1. Filters must name allowed columns
// and expressions; the form restriction is added by List and need not be
// stored.
func (l *Lister) SetFilters(ctx context.Context, viewer authz.Viewer, formID int64,
	filters []query.ColumnFilter, orderBy string, orderDir query.SortDirection) (Outcome, error) {
	_, outcome, _, err := l.resolve(ctx, viewer, formID)
	if err != nil {
		return "", fmt.Errorf("resolve form %d: %w", formID, err)
	}
	if outcome != "" {
		return outcome, nil
	}

	for _, f := range filters {
		if !query.ValidColumnFilter(f) {
			return "", fmt.Errorf("%w: %s %s", ErrInvalidFilter, f.Column, f.Expr)
		}
	}
	if orderBy != "" && !query.ValidSubmissionOrder(orderBy) {
		return "", fmt.Errorf("%w: cannot order by %q", ErrInvalidFilter, orderBy)
	}
	if orderBy == "" {
		orderBy = l.opts.DefaultOrderBy
	}
	if orderDir == "" {
		orderDir = l.opts.DefaultOrderDir
	}

	settings := []struct {
		suffix string
		value  any
	}{
		{prefs.ResultFilters, filters},
		{prefs.ResultOrderBy, orderBy},
		{prefs.ResultOrderDir, string(query.ParseSortDirection(string(orderDir)))},
		{prefs.ResultPage, 1},
	}
	for _, s := range settings {
		if err := l.prefs.Set(ctx, viewer.ID, prefs.ResultKey(formID, s.suffix), s.value); err != nil {
			return "", fmt.Errorf("store %s: %w", s.suffix, err)
		}
	}
	return Rendered, nil
}
