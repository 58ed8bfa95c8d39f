package results

import (
	"context"
	"fmt"

	"github.com/wesm/formvault/internal/authz"
	"github.com/wesm/formvault/internal/metrics"
	"github.com/wesm/formvault/internal/prefs"
	"github.com/wesm/formvault/internal/query"
	"github.com/wesm/formvault/internal/search"
)

// FormsRequest selects a page of the forms index. A nil Search reuses the
// viewer's stored search; a Page of 0 reuses the stored page.
type FormsRequest struct {
	Search   *string
	Page     int
	OrderBy  string
	OrderDir query.SortDirection
}

// FormsResult is the outcome of ListForms. Flashes holds messages queued for
// the viewer by earlier requests; they are cleared once returned.
type FormsResult struct {
	Outcome  Outcome
	Search   string
	Filters  []search.Filter
	Page     int
	Limit    int
	Items    []query.Form
	Total    int64
	OwnOnly  bool
	Flashes  []prefs.Flash
	Commands []search.Command
}

// ListForms returns a page of the forms index for viewer. Viewers who may
// only see their own forms get only forms they created.
func (l *Lister) ListForms(ctx context.Context, viewer authz.Viewer, req FormsRequest) (*FormsResult, error) {
	res := &FormsResult{Limit: l.opts.PageLimit, Commands: l.Commands()}

	viewOther, err := l.auth.IsGranted(viewer, authz.FormsViewOther)
	if err != nil {
		return nil, err
	}
	viewOwn := viewOther
	if !viewOther {
		if viewOwn, err = l.auth.IsGranted(viewer, authz.FormsViewOwn); err != nil {
			return nil, err
		}
	}
	if !viewOwn {
		res.Outcome = AccessDenied
		l.record("forms", AccessDenied, viewer, 0)
		return res, nil
	}
	res.OwnOnly = !viewOther

	if req.Search != nil {
		res.Search = *req.Search
		if err := l.prefs.Set(ctx, viewer.ID, prefs.KeyFormFilter, res.Search); err != nil {
			return nil, fmt.Errorf("store search: %w", err)
		}
	} else if res.Search, err = prefs.GetString(ctx, l.prefs, viewer.ID, prefs.KeyFormFilter, ""); err != nil {
		return nil, fmt.Errorf("load search: %w", err)
	}
	res.Filters = search.Parse(res.Search, l.vocab)

	res.Page = req.Page
	if res.Page == 0 {
		if res.Page, err = prefs.GetInt(ctx, l.prefs, viewer.ID, prefs.KeyFormPage, 1); err != nil {
			return nil, fmt.Errorf("load page: %w", err)
		}
	}

	q := query.FormQuery{
		Filters:    res.Filters,
		ViewerID:   viewer.ID,
		OrderBy:    req.OrderBy,
		OrderDir:   req.OrderDir,
		Start:      Offset(res.Page, res.Limit),
		Limit:      res.Limit,
		CountTotal: true,
	}
	if res.OwnOnly {
		owner := viewer.ID
		q.OwnerID = &owner
	}
	page, err := l.engine.ListForms(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}
	if page.Dropped > 0 {
		metrics.DroppedFilters.WithLabelValues("command").Add(float64(page.Dropped))
	}
	res.Total = page.Total

	if IsStale(page.Total, q.Start) {
		last := LastPage(res.Limit, page.Total)
		if err := l.prefs.Set(ctx, viewer.ID, prefs.KeyFormPage, last); err != nil {
			return nil, fmt.Errorf("store page: %w", err)
		}
		res.Outcome = Redirect
		res.Page = last
		l.record("forms", Redirect, viewer, 0)
		return res, nil
	}

	if err := l.prefs.Set(ctx, viewer.ID, prefs.KeyFormPage, res.Page); err != nil {
		return nil, fmt.Errorf("store page: %w", err)
	}
	if res.Flashes, err = prefs.DrainFlashes(ctx, l.prefs, viewer.ID); err != nil {
		return nil, fmt.Errorf("drain flashes: %w", err)
	}
	res.Outcome = Rendered
	res.Items = page.Items
	l.record("forms", Rendered, viewer, 0)
	return res, nil
}
