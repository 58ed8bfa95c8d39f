package results_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/wesm/formvault/internal/authz"
	"github.com/wesm/formvault/internal/export"
	"github.com/wesm/formvault/internal/prefs"
	"github.com/wesm/formvault/internal/query"
	"github.com/wesm/formvault/internal/results"
	"github.com/wesm/formvault/internal/search"
	"github.com/wesm/formvault/internal/testutil"
	"github.com/wesm/formvault/internal/testutil/storetest"
)

var (
	owner   = authz.Viewer{ID: 1, Name: "owner", Roles: []string{"editor"}}
	manager = authz.Viewer{ID: 2, Name: "manager", Roles: []string{"manager"}}
	guest   = authz.Viewer{ID: 3, Name: "guest"}
)

type fixture struct {
	*storetest.Fixture
	Prefs  *prefs.MemoryStore
	Lister *results.Lister
}

func newFixture(t *testing.T, pageLimit int) *fixture {
	t.Helper()
	f := storetest.New(t)
	tr := search.NewTranslator("en")

	enf, err := authz.NewEnforcer([]authz.Role{
		{Name: "editor", Permissions: []string{authz.FormsViewOwn, authz.FormsEditOwn}},
		{Name: "manager", Permissions: []string{authz.FormsViewOther}, Inherits: []string{"editor"}},
	}, nil)
	testutil.MustNoErr(t, err, "NewEnforcer")

	store := prefs.NewMemoryStore()
	opts := results.DefaultOptions()
	opts.PageLimit = pageLimit
	l := results.NewLister(query.NewSQLiteEngine(f.Store.DB(), tr), store, enf, export.NewRegistry(), tr, opts, nil)
	l.Now = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }
	return &fixture{Fixture: f, Prefs: store, Lister: l}
}

func (f *fixture) list(t *testing.T, v authz.Viewer, formID int64, page int) *results.ListResult {
	t.Helper()
	res, err := f.Lister.List(context.Background(), v, formID, page)
	testutil.MustNoErr(t, err, "List")
	return res
}

func (f *fixture) storedPage(t *testing.T, v authz.Viewer, formID int64) int {
	t.Helper()
	page, err := prefs.GetInt(context.Background(), f.Prefs, v.ID, prefs.ResultKey(formID, prefs.ResultPage), 0)
	testutil.MustNoErr(t, err, "GetInt page")
	return page
}

func TestList_RendersPage(t *testing.T) {
	f := newFixture(t, 10)
	formID := f.CreateForm("Contact", storetest.FormOpts{Owner: owner.ID})
	ids := f.AddSubmissions(formID, 25)

	res := f.list(t, owner, formID, 3)
	if res.Outcome != results.Rendered {
		t.Fatalf("outcome = %s, want rendered", res.Outcome)
	}
	if res.Total != 25 || len(res.Items) != 5 {
		t.Errorf("total %d, %d items; want 25, 5", res.Total, len(res.Items))
	}
	if res.Items[0].ID != ids[20] {
		t.Errorf("first item = %d, want %d", res.Items[0].ID, ids[20])
	}
	if got := f.storedPage(t, owner, formID); got != 3 {
		t.Errorf("stored page = %d, want 3", got)
	}
	if again := f.list(t, owner, formID, 0); again.Page != 3 || len(again.Items) != 5 {
		t.Errorf("page 0 should reuse stored page 3, got page %d with %d items", again.Page, len(again.Items))
	}
	last := res.Filters[len(res.Filters)-1]
	if last.Column != "s.form" || last.Expr != "eq" || last.Value != formID {
		t.Errorf("implicit form filter = %+v", last)
	}
}

// A page that was valid becomes stale after rows are deleted underneath it.
func TestList_StalePageRedirects(t *testing.T) {
	f := newFixture(t, 10)
	formID := f.CreateForm("Contact", storetest.FormOpts{Owner: owner.ID})
	ids := f.AddSubmissions(formID, 25)

	if res := f.list(t, owner, formID, 3); res.Outcome != results.Rendered {
		t.Fatalf("before deletion: outcome = %s", res.Outcome)
	}

	f.DeleteSubmissions(formID, ids[:10]...)

	res := f.list(t, owner, formID, 3)
	if res.Outcome != results.Redirect {
		t.Fatalf("outcome = %s, want redirect", res.Outcome)
	}
	if res.Page != 1 {
		t.Errorf("redirect page = %d, want 1 (floor(10/15) falls back to 1)", res.Page)
	}
	if res.Items != nil {
		t.Errorf("redirect must not carry items, got %d", len(res.Items))
	}
	if got := f.storedPage(t, owner, formID); got != 1 {
		t.Errorf("stored page = %d, want 1", got)
	}
}

func TestList_SingleRemainingRowRedirectsToFirstPage(t *testing.T) {
	f := newFixture(t, 10)
	formID := f.CreateForm("Contact", storetest.FormOpts{Owner: owner.ID})
	f.AddSubmissions(formID, 1)

	for _, page := range []int{2, 7} {
		res := f.list(t, owner, formID, page)
		if res.Outcome != results.Redirect || res.Page != 1 {
			t.Errorf("page %d: outcome %s page %d, want redirect to 1", page, res.Outcome, res.Page)
		}
	}
}

func TestList_StaleRedirectTargetLands(t *testing.T) {
	f := newFixture(t, 10)
	formID := f.CreateForm("Contact", storetest.FormOpts{Owner: owner.ID})
	f.AddSubmissions(formID, 3)

	res := f.list(t, owner, formID, 5)
	if res.Outcome != results.Redirect || res.Page != 3 {
		t.Fatalf("outcome %s page %d, want redirect to floor(10/3) = 3", res.Outcome, res.Page)
	}
	if got := res.Target(); got != 1 {
		t.Fatalf("Target() = %d, want 1", got)
	}
	if again := f.list(t, owner, formID, res.Target()); again.Outcome != results.Rendered || len(again.Items) != 3 {
		t.Errorf("following target: outcome %s with %d items", again.Outcome, len(again.Items))
	}
}

func TestListResult_Target(t *testing.T) {
	tests := []struct {
		name  string
		page  int
		limit int
		total int64
		want  int
	}{
		{"in range", 2, 10, 25, 2},
		{"past the end", 3, 10, 3, 1},
		{"last row", 3, 10, 21, 3},
		{"empty", 4, 10, 0, 4},
		{"zero page", 0, 10, 5, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &results.ListResult{Outcome: results.Redirect, Page: tt.page, Limit: tt.limit, Total: tt.total}
			if got := r.Target(); got != tt.want {
				t.Errorf("Target() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestList_EmptyFormRendersEmptyPage(t *testing.T) {
	f := newFixture(t, 10)
	formID := f.CreateForm("Contact", storetest.FormOpts{Owner: owner.ID})

	res := f.list(t, owner, formID, 4)
	if res.Outcome != results.Rendered || len(res.Items) != 0 || res.Total != 0 {
		t.Errorf("got %s with %d items, total %d", res.Outcome, len(res.Items), res.Total)
	}
}

func TestList_NotFound(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	testutil.MustNoErr(t, f.Prefs.Set(ctx, owner.ID, prefs.KeyFormPage, 4), "Set form.page")

	res := f.list(t, owner, 999, 1)
	if res.Outcome != results.NotFound {
		t.Fatalf("outcome = %s, want not_found", res.Outcome)
	}
	if res.FormsPage != 4 {
		t.Errorf("forms page = %d, want 4", res.FormsPage)
	}

	flashes, err := prefs.DrainFlashes(ctx, f.Prefs, owner.ID)
	testutil.MustNoErr(t, err, "DrainFlashes")
	if len(flashes) != 1 || flashes[0].Type != prefs.FlashError || !strings.Contains(flashes[0].Message, "999") {
		t.Errorf("flashes = %+v, want one error naming 999", flashes)
	}
}

func TestList_AccessDenied(t *testing.T) {
	f := newFixture(t, 10)
	formID := f.CreateForm("Contact", storetest.FormOpts{Owner: 42})
	ownForm := f.CreateForm("Mine", storetest.FormOpts{Owner: owner.ID})

	tests := []struct {
		name   string
		viewer authz.Viewer
		formID int64
		want   results.Outcome
	}{
		{"no capabilities", guest, formID, results.AccessDenied},
		{"view own only, other owner", owner, formID, results.AccessDenied},
		{"view own only, own form", owner, ownForm, results.Rendered},
		{"view other", manager, formID, results.Rendered},
		{"admin", authz.Viewer{ID: 9, Roles: []string{authz.AdminRole}}, formID, results.Rendered},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if res := f.list(t, tt.viewer, tt.formID, 1); res.Outcome != tt.want {
				t.Errorf("outcome = %s, want %s", res.Outcome, tt.want)
			}
		})
	}
}

func TestList_UsesStoredFiltersAndOrder(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	formID := f.CreateForm("Contact", storetest.FormOpts{Owner: owner.ID, Fields: []string{"Email"}})
	s1 := f.AddSubmission(formID, map[string]string{"email": "a@example.com"})
	f.AddSubmission(formID, map[string]string{"email": "b@test.org"})
	s3 := f.AddSubmission(formID, map[string]string{"email": "c@example.com"})

	outcome, err := f.Lister.SetFilters(ctx, owner, formID,
		[]query.ColumnFilter{{Column: "field.email", Expr: "like", Value: "%@example.com"}},
		"s.date_submitted", query.SortDesc)
	testutil.MustNoErr(t, err, "SetFilters")
	if outcome != results.Rendered {
		t.Fatalf("SetFilters outcome = %s", outcome)
	}

	res := f.list(t, owner, formID, 1)
	if res.Total != 2 || len(res.Items) != 2 || res.Items[0].ID != s3 || res.Items[1].ID != s1 {
		t.Errorf("items = %+v, total %d; want [%d %d]", res.Items, res.Total, s3, s1)
	}
	if res.OrderDir != query.SortDesc {
		t.Errorf("order dir = %s, want DESC", res.OrderDir)
	}
}

func TestSetFilters_RejectsInvalid(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	formID := f.CreateForm("Contact", storetest.FormOpts{Owner: owner.ID})

	_, err := f.Lister.SetFilters(ctx, owner, formID,
		[]query.ColumnFilter{{Column: "f.name", Expr: "eq", Value: "x"}}, "", "")
	if !errors.Is(err, results.ErrInvalidFilter) {
		t.Errorf("bad column: err = %v, want ErrInvalidFilter", err)
	}
	_, err = f.Lister.SetFilters(ctx, owner, formID, nil, "s.secret", "")
	if !errors.Is(err, results.ErrInvalidFilter) {
		t.Errorf("bad order: err = %v, want ErrInvalidFilter", err)
	}

	outcome, err := f.Lister.SetFilters(ctx, guest, formID, nil, "", "")
	testutil.MustNoErr(t, err, "SetFilters guest")
	if outcome != results.AccessDenied {
		t.Errorf("guest outcome = %s, want access_denied", outcome)
	}
}

func TestExport_BypassesPagination(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	formID := f.CreateForm("Contact", storetest.FormOpts{Owner: owner.ID, Fields: []string{"Email"}})
	for i := 0; i < 23; i++ {
		f.AddSubmission(formID, map[string]string{"email": "x@example.com"})
	}
	f.AddSubmission(formID, map[string]string{"email": "y@test.org"})

	_, err := f.Lister.SetFilters(ctx, owner, formID,
		[]query.ColumnFilter{{Column: "field.email", Expr: "like", Value: "%@example.com"}}, "", "")
	testutil.MustNoErr(t, err, "SetFilters")

	listed := f.list(t, owner, formID, 2)
	if len(listed.Items) != 10 || listed.Total != 23 {
		t.Fatalf("list: %d items, total %d", len(listed.Items), listed.Total)
	}

	res, err := f.Lister.Export(ctx, owner, formID, "csv")
	testutil.MustNoErr(t, err, "Export")
	if res.Outcome != results.Rendered || res.Artifact == nil {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if res.Artifact.Rows != 23 {
		t.Errorf("exported %d rows, want all 23 matching", res.Artifact.Rows)
	}
	if res.Artifact.Filename != "formresults_contact_20240501.csv" {
		t.Errorf("filename = %q", res.Artifact.Filename)
	}

	var buf bytes.Buffer
	testutil.MustNoErr(t, res.Artifact.Render(&buf), "Render")
	records, err := csv.NewReader(&buf).ReadAll()
	testutil.MustNoErr(t, err, "parse csv")
	if len(records) != 24 {
		t.Errorf("csv has %d records, want header + 23", len(records))
	}
}

func TestExport_Outcomes(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	formID := f.CreateForm("Contact", storetest.FormOpts{Owner: 42})

	res, err := f.Lister.Export(ctx, owner, 999, "csv")
	testutil.MustNoErr(t, err, "Export missing")
	if res.Outcome != results.NotFound {
		t.Errorf("missing form: outcome = %s", res.Outcome)
	}

	res, err = f.Lister.Export(ctx, owner, formID, "csv")
	testutil.MustNoErr(t, err, "Export denied")
	if res.Outcome != results.AccessDenied || res.Artifact != nil {
		t.Errorf("denied: outcome = %s", res.Outcome)
	}

	if _, err := f.Lister.Export(ctx, manager, formID, "xlsx"); !errors.Is(err, export.ErrUnknownFormat) {
		t.Errorf("unknown format: err = %v", err)
	}
}
