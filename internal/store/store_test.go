package store_test

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/wesm/formvault/internal/store"
	"github.com/wesm/formvault/internal/testutil"
	"github.com/wesm/formvault/internal/testutil/storetest"
)

func TestCleanAlias(t *testing.T) {
	tests := []struct {
		in     string
		maxLen int
		want   string
	}{
		{"Contact Us", 10, "contactus"},
		{"Newsletter Signup", 10, "newsletter"},
		{"Café Form!", 0, "cafform"},
		{"snake_case_1", 0, "snake_case_1"},
		{"***", 10, ""},
	}
	for _, tt := range tests {
		if got := store.CleanAlias(tt.in, tt.maxLen); got != tt.want {
			t.Errorf("CleanAlias(%q, %d) = %q, want %q", tt.in, tt.maxLen, got, tt.want)
		}
	}
}

func TestCreateForm_DerivesUniqueAlias(t *testing.T) {
	st := testutil.NewTestStore(t)

	_, a1, err := st.CreateForm(store.FormInput{Name: "Contact Us", CreatedBy: 1})
	testutil.MustNoErr(t, err, "CreateForm 1")
	_, a2, err := st.CreateForm(store.FormInput{Name: "Contact Us", CreatedBy: 1})
	testutil.MustNoErr(t, err, "CreateForm 2")
	_, a3, err := st.CreateForm(store.FormInput{Name: "contact-us", CreatedBy: 1})
	testutil.MustNoErr(t, err, "CreateForm 3")

	testutil.AssertStrings(t, []string{a1, a2, a3}, "contactus", "contactus1", "contactus2")
}

func TestCreateForm_ExplicitAliasTaken(t *testing.T) {
	st := testutil.NewTestStore(t)

	_, _, err := st.CreateForm(store.FormInput{Name: "A", Alias: "shared"})
	testutil.MustNoErr(t, err, "CreateForm A")
	_, _, err = st.CreateForm(store.FormInput{Name: "B", Alias: "shared"})
	if !errors.Is(err, store.ErrAliasTaken) {
		t.Fatalf("expected ErrAliasTaken, got %v", err)
	}
}

func TestCheckUniqueAlias_ExcludesSelf(t *testing.T) {
	st := testutil.NewTestStore(t)

	id, alias, err := st.CreateForm(store.FormInput{Name: "Survey"})
	testutil.MustNoErr(t, err, "CreateForm")

	n, err := st.CheckUniqueAlias(alias, 0)
	testutil.MustNoErr(t, err, "CheckUniqueAlias")
	if n != 1 {
		t.Errorf("count without exclusion = %d, want 1", n)
	}
	n, err = st.CheckUniqueAlias(alias, id)
	testutil.MustNoErr(t, err, "CheckUniqueAlias excluded")
	if n != 0 {
		t.Errorf("count excluding self = %d, want 0", n)
	}
}

func TestUpdateForm(t *testing.T) {
	st := testutil.NewTestStore(t)

	id, _, err := st.CreateForm(store.FormInput{Name: "One", Alias: "one"})
	testutil.MustNoErr(t, err, "CreateForm one")
	_, _, err = st.CreateForm(store.FormInput{Name: "Two", Alias: "two"})
	testutil.MustNoErr(t, err, "CreateForm two")

	alias, err := st.UpdateForm(id, store.FormInput{Name: "One renamed", Alias: "one"})
	testutil.MustNoErr(t, err, "UpdateForm keep alias")
	if alias != "one" {
		t.Errorf("alias = %q, want one", alias)
	}

	if _, err := st.UpdateForm(id, store.FormInput{Name: "One", Alias: "two"}); !errors.Is(err, store.ErrAliasTaken) {
		t.Errorf("expected ErrAliasTaken, got %v", err)
	}

	if _, err := st.UpdateForm(9999, store.FormInput{Name: "Missing", Alias: "missing"}); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestAddSubmission_RejectsUnknownField(t *testing.T) {
	f := storetest.New(t)
	formID := f.CreateForm("Contact", storetest.FormOpts{Fields: []string{"Email"}})

	_, err := f.Store.AddSubmission(store.SubmissionInput{
		FormID: formID,
		Values: map[string]string{"phone": "555"},
	})
	if !errors.Is(err, store.ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}
}

func TestDeleteFormAndSubmissions(t *testing.T) {
	f := storetest.New(t)
	formID := f.CreateForm("Contact", storetest.FormOpts{Fields: []string{"Email"}})
	ids := f.AddSubmissions(formID, 3)

	deleted, err := f.Store.DeleteSubmission(formID, ids[0])
	testutil.MustNoErr(t, err, "DeleteSubmission")
	if !deleted {
		t.Error("expected submission to be deleted")
	}
	deleted, err = f.Store.DeleteSubmission(formID+1, ids[1])
	testutil.MustNoErr(t, err, "DeleteSubmission other form")
	if deleted {
		t.Error("submission of another form must not be deleted")
	}

	stats, err := f.Store.GetStats()
	testutil.MustNoErr(t, err, "GetStats")
	if stats.FormCount != 1 || stats.FieldCount != 1 || stats.SubmissionCount != 2 {
		t.Errorf("stats = %+v, want 1 form, 1 field, 2 submissions", stats)
	}

	testutil.MustNoErr(t, f.Store.DeleteForm(formID), "DeleteForm")
	stats, err = f.Store.GetStats()
	testutil.MustNoErr(t, err, "GetStats after delete")
	if stats.FormCount != 0 || stats.SubmissionCount != 0 {
		t.Errorf("stats after delete = %+v, want empty", stats)
	}
}
