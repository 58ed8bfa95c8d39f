package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/wesm/formvault/internal/authz"
	"github.com/wesm/formvault/internal/export"
	"github.com/wesm/formvault/internal/prefs"
	"github.com/wesm/formvault/internal/query"
	"github.com/wesm/formvault/internal/results"
	"github.com/wesm/formvault/internal/search"
	"github.com/wesm/formvault/internal/store"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

const timeLayout = "2006-01-02T15:04:05Z"

// StatsResponse represents the vault statistics.
type StatsResponse struct {
	TotalForms       int64 `json:"total_forms"`
	TotalFields      int64 `json:"total_fields"`
	TotalSubmissions int64 `json:"total_submissions"`
	TotalPreferences int64 `json:"total_preferences"`
	DatabaseSize     int64 `json:"database_size_bytes"`
}

// FormSummary represents a form in list responses.
type FormSummary struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Alias       string `json:"alias"`
	Description string `json:"description,omitempty"`
	IsPublished bool   `json:"is_published"`
	PublishUp   string `json:"publish_up,omitempty"`
	PublishDown string `json:"publish_down,omitempty"`
	CreatedBy   int64  `json:"created_by"`
	ResultCount int64  `json:"result_count"`
}

// FormListResponse is a page of the forms index.
type FormListResponse struct {
	Search   string           `json:"search"`
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
	OwnOnly  bool             `json:"own_only"`
	Forms    []FormSummary    `json:"forms"`
	Flashes  []prefs.Flash    `json:"flashes,omitempty"`
	Commands []search.Command `json:"commands"`
}

// SubmissionResponse represents one form result.
type SubmissionResponse struct {
	ID            int64             `json:"id"`
	DateSubmitted string            `json:"date_submitted"`
	IPAddress     string            `json:"ip_address,omitempty"`
	Referer       string            `json:"referer,omitempty"`
	Values        map[string]string `json:"values"`
}

// ResultListResponse is a page of a form's results.
type ResultListResponse struct {
	Form     FormSummary          `json:"form"`
	Total    int64                `json:"total"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"page_size"`
	OrderBy  string               `json:"order_by"`
	OrderDir string               `json:"order_dir"`
	Filters  []query.ColumnFilter `json:"filters"`
	Results  []SubmissionResponse `json:"results"`
}

// CreateFormRequest is the body of POST /forms.
type CreateFormRequest struct {
	Name        string     `json:"name"`
	Alias       string     `json:"alias"`
	Description string     `json:"description"`
	IsPublished *bool      `json:"is_published"`
	PublishUp   *time.Time `json:"publish_up"`
	PublishDown *time.Time `json:"publish_down"`
	Fields      []string   `json:"fields"`
}

// SetFiltersRequest is the body of PUT /forms/{id}/results/filters.
type SetFiltersRequest struct {
	Filters  []query.ColumnFilter `json:"filters"`
	OrderBy  string               `json:"order_by"`
	OrderDir string               `json:"order_dir"`
}

// SubmissionRequest is the body of POST /forms/{id}/submissions.
type SubmissionRequest struct {
	Values map[string]string `json:"values"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

// redirect answers with 303 See Other so clients re-issue a GET.
func redirect(w http.ResponseWriter, location string) {
	w.Header().Set("Location", location)
	writeJSON(w, http.StatusSeeOther, map[string]string{"location": location})
}

func formsIndexURL(page int) string {
	return "/api/v1/forms?page=" + strconv.Itoa(page)
}

func resultsURL(formID int64, page int) string {
	return fmt.Sprintf("/api/v1/forms/%d/results?page=%d", formID, page)
}

func formIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_id", "Form ID must be a positive number")
		return 0, false
	}
	return id, true
}

// pageParam reads ?page=; absent or non-positive values yield 0, meaning the
// viewer's stored page.
func pageParam(r *http.Request) int {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 0 {
		return 0
	}
	return page
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return false
	}
	return true
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func toFormSummary(f *query.Form) FormSummary {
	return FormSummary{
		ID:          f.ID,
		Name:        f.Name,
		Alias:       f.Alias,
		Description: f.Description,
		IsPublished: f.IsPublished,
		PublishUp:   formatTime(f.PublishUp),
		PublishDown: formatTime(f.PublishDown),
		CreatedBy:   f.CreatedBy,
		ResultCount: f.ResultCount,
	}
}

func toSubmissionResponse(s query.Submission) SubmissionResponse {
	values := s.Values
	if values == nil {
		values = map[string]string{}
	}
	return SubmissionResponse{
		ID:            s.ID,
		DateSubmitted: s.DateSubmitted.UTC().Format(timeLayout),
		IPAddress:     s.IPAddress,
		Referer:       s.Referer,
		Values:        values,
	}
}

func (s *Server) internalError(w http.ResponseWriter, msg string, err error, args ...any) {
	s.logger.Error(msg, append(args, "error", err)...)
	writeError(w, http.StatusInternalServerError, "internal_error", msg)
}

// handleStats returns vault statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.backend.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Database not available")
		return
	}
	stats, err := s.backend.Store.GetStats()
	if err != nil {
		s.internalError(w, "Failed to retrieve statistics", err)
		return
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		TotalForms:       stats.FormCount,
		TotalFields:      stats.FieldCount,
		TotalSubmissions: stats.SubmissionCount,
		TotalPreferences: stats.PreferenceCount,
		DatabaseSize:     stats.DatabaseSize,
	})
}

// handleListForms returns a page of the forms index. ?search= replaces the
// viewer's stored search; omitting it reuses the stored one.
func (s *Server) handleListForms(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := results.FormsRequest{
		Page:     pageParam(r),
		OrderBy:  q.Get("orderby"),
		OrderDir: query.ParseSortDirection(q.Get("orderbydir")),
	}
	if q.Has("search") {
		terms := q.Get("search")
		req.Search = &terms
	}

	res, err := s.backend.Results.ListForms(r.Context(), viewerFrom(r.Context()), req)
	if err != nil {
		s.internalError(w, "Failed to list forms", err)
		return
	}

	switch res.Outcome {
	case results.AccessDenied:
		writeError(w, http.StatusForbidden, "access_denied", "You do not have access to forms")
		return
	case results.Redirect:
		redirect(w, formsIndexURL(res.Page))
		return
	}

	forms := make([]FormSummary, len(res.Items))
	for i := range res.Items {
		forms[i] = toFormSummary(&res.Items[i])
	}
	writeJSON(w, http.StatusOK, FormListResponse{
		Search:   res.Search,
		Total:    res.Total,
		Page:     res.Page,
		PageSize: res.Limit,
		OwnOnly:  res.OwnOnly,
		Forms:    forms,
		Flashes:  res.Flashes,
		Commands: res.Commands,
	})
}

// handleCreateForm creates a form and its fields.
func (s *Server) handleCreateForm(w http.ResponseWriter, r *http.Request) {
	viewer := viewerFrom(r.Context())
	ok, err := s.backend.Auth.IsGranted(viewer, authz.FormsCreate)
	if err != nil {
		s.internalError(w, "Failed to check permissions", err)
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "access_denied", "You may not create forms")
		return
	}

	var body CreateFormRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Name == "" {
		writeError(w, http.StatusBadRequest, "missing_name", "Form name is required")
		return
	}

	published := true
	if body.IsPublished != nil {
		published = *body.IsPublished
	}
	id, alias, err := s.backend.Store.CreateForm(store.FormInput{
		Name:        body.Name,
		Alias:       body.Alias,
		Description: body.Description,
		IsPublished: published,
		PublishUp:   body.PublishUp,
		PublishDown: body.PublishDown,
		CreatedBy:   viewer.ID,
	})
	if errors.Is(err, store.ErrAliasTaken) {
		writeError(w, http.StatusConflict, "alias_taken", fmt.Sprintf("Alias %q is already in use", body.Alias))
		return
	}
	if err != nil {
		s.internalError(w, "Failed to create form", err)
		return
	}
	for _, label := range body.Fields {
		if _, err := s.backend.Store.AddField(id, label, ""); err != nil {
			s.internalError(w, "Failed to add form field", err, "form_id", id, "label", label)
			return
		}
	}

	s.logger.Info("form created", "form_id", id, "alias", alias, "viewer_id", viewer.ID)
	w.Header().Set("Location", fmt.Sprintf("/api/v1/forms/%d/results", id))
	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "alias": alias})
}

// checkEntity answers 403 unless viewer holds own or other for form.
func (s *Server) checkEntity(w http.ResponseWriter, viewer authz.Viewer, form *query.Form, own, other, action string) bool {
	allowed, err := s.backend.Auth.HasEntityAccess(viewer, own, other, form.CreatedBy)
	if err != nil {
		s.internalError(w, "Failed to check permissions", err)
		return false
	}
	if !allowed {
		writeError(w, http.StatusForbidden, "access_denied", "You may not "+action+" this form")
		return false
	}
	return true
}

// handleUpdateForm replaces a form's attributes. Fields are not touched and
// the owner is kept.
func (s *Server) handleUpdateForm(w http.ResponseWriter, r *http.Request) {
	formID, ok := formIDParam(w, r)
	if !ok {
		return
	}
	var body CreateFormRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Name == "" {
		writeError(w, http.StatusBadRequest, "missing_name", "Form name is required")
		return
	}
	form, ok := s.loadForm(w, r, formID)
	if !ok {
		return
	}
	viewer := viewerFrom(r.Context())
	if !s.checkEntity(w, viewer, form, authz.FormsEditOwn, authz.FormsEditOther, "edit") {
		return
	}

	published := form.IsPublished
	if body.IsPublished != nil {
		published = *body.IsPublished
	}
	alias, err := s.backend.Store.UpdateForm(formID, store.FormInput{
		Name:        body.Name,
		Alias:       body.Alias,
		Description: body.Description,
		IsPublished: published,
		PublishUp:   body.PublishUp,
		PublishDown: body.PublishDown,
		CreatedBy:   form.CreatedBy,
	})
	switch {
	case errors.Is(err, store.ErrAliasTaken):
		writeError(w, http.StatusConflict, "alias_taken", fmt.Sprintf("Alias %q is already in use", body.Alias))
		return
	case errors.Is(err, sql.ErrNoRows):
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("No form with an id of %d was found.", formID))
		return
	case err != nil:
		s.internalError(w, "Failed to update form", err, "form_id", formID)
		return
	}

	s.logger.Info("form updated", "form_id", formID, "alias", alias, "viewer_id", viewer.ID)
	writeJSON(w, http.StatusOK, map[string]any{"id": formID, "alias": alias})
}

// handleDeleteForm removes a form with its fields and submissions.
func (s *Server) handleDeleteForm(w http.ResponseWriter, r *http.Request) {
	formID, ok := formIDParam(w, r)
	if !ok {
		return
	}
	form, ok := s.loadForm(w, r, formID)
	if !ok {
		return
	}
	viewer := viewerFrom(r.Context())
	if !s.checkEntity(w, viewer, form, authz.FormsDeleteOwn, authz.FormsDeleteOther, "delete") {
		return
	}
	if err := s.backend.Store.DeleteForm(formID); err != nil {
		s.internalError(w, "Failed to delete form", err, "form_id", formID)
		return
	}
	s.logger.Info("form deleted", "form_id", formID, "viewer_id", viewer.ID)
	w.WriteHeader(http.StatusNoContent)
}

// handleSearchCommands lists the localized search vocabulary.
func (s *Server) handleSearchCommands(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"commands": s.backend.Results.Commands()})
}

// handleListResults returns one page of a form's results.
//
// A page past the end of the filtered results answers 303 to the fallback
// page. An unknown form answers 303 to the forms index with a flash queued.
func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	formID, ok := formIDParam(w, r)
	if !ok {
		return
	}

	res, err := s.backend.Results.List(r.Context(), viewerFrom(r.Context()), formID, pageParam(r))
	if err != nil {
		s.internalError(w, "Failed to list results", err, "form_id", formID)
		return
	}

	switch res.Outcome {
	case results.NotFound:
		redirect(w, formsIndexURL(res.FormsPage))
		return
	case results.AccessDenied:
		writeError(w, http.StatusForbidden, "access_denied", "You do not have access to this form's results")
		return
	case results.Redirect:
		redirect(w, resultsURL(formID, res.Target()))
		return
	}

	items := make([]SubmissionResponse, len(res.Items))
	for i, sub := range res.Items {
		items[i] = toSubmissionResponse(sub)
	}
	writeJSON(w, http.StatusOK, ResultListResponse{
		Form:     toFormSummary(res.Form),
		Total:    res.Total,
		Page:     res.Page,
		PageSize: res.Limit,
		OrderBy:  res.OrderBy,
		OrderDir: string(res.OrderDir),
		Filters:  res.Filters,
		Results:  items,
	})
}

// handleSetFilters replaces the viewer's stored result filters and order.
func (s *Server) handleSetFilters(w http.ResponseWriter, r *http.Request) {
	formID, ok := formIDParam(w, r)
	if !ok {
		return
	}
	var body SetFiltersRequest
	if !decodeBody(w, r, &body) {
		return
	}

	outcome, err := s.backend.Results.SetFilters(r.Context(), viewerFrom(r.Context()), formID,
		body.Filters, body.OrderBy, query.SortDirection(body.OrderDir))
	if errors.Is(err, results.ErrInvalidFilter) {
		writeError(w, http.StatusBadRequest, "invalid_filter", err.Error())
		return
	}
	if err != nil {
		s.internalError(w, "Failed to store filters", err, "form_id", formID)
		return
	}

	switch outcome {
	case results.NotFound:
		redirect(w, formsIndexURL(1))
	case results.AccessDenied:
		writeError(w, http.StatusForbidden, "access_denied", "You do not have access to this form's results")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleExport streams every result matching the viewer's filters.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	formID, ok := formIDParam(w, r)
	if !ok {
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}

	res, err := s.backend.Results.Export(r.Context(), viewerFrom(r.Context()), formID, format)
	if errors.Is(err, export.ErrUnknownFormat) {
		writeError(w, http.StatusBadRequest, "unknown_format", err.Error())
		return
	}
	if err != nil {
		s.internalError(w, "Failed to export results", err, "form_id", formID)
		return
	}

	switch res.Outcome {
	case results.NotFound:
		redirect(w, formsIndexURL(res.FormsPage))
		return
	case results.AccessDenied:
		writeError(w, http.StatusForbidden, "access_denied", "You do not have access to this form's results")
		return
	}

	a := res.Artifact
	w.Header().Set("Content-Type", a.ContentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q; filename*=UTF-8''%s", a.Filename, url.PathEscape(a.Filename)))
	w.Header().Set("X-Export-Rows", strconv.Itoa(a.Rows))
	w.WriteHeader(http.StatusOK)
	if err := a.Render(w); err != nil {
		// Headers are sent; all that is left is to log.
		s.logger.Error("export write failed", "form_id", formID, "format", a.Format, "error", err)
	}
}

// loadForm fetches the form for a write, answering 404 when it is missing.
func (s *Server) loadForm(w http.ResponseWriter, r *http.Request, formID int64) (*query.Form, bool) {
	form, err := s.backend.Forms.GetForm(r.Context(), formID)
	if err != nil {
		s.internalError(w, "Failed to load form", err, "form_id", formID)
		return nil, false
	}
	if form == nil {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("No form with an id of %d was found.", formID))
		return nil, false
	}
	return form, true
}

// handleAddSubmission records a submission for a published form.
func (s *Server) handleAddSubmission(w http.ResponseWriter, r *http.Request) {
	formID, ok := formIDParam(w, r)
	if !ok {
		return
	}
	var body SubmissionRequest
	if !decodeBody(w, r, &body) {
		return
	}
	form, ok := s.loadForm(w, r, formID)
	if !ok {
		return
	}
	if !form.IsPublished {
		writeError(w, http.StatusConflict, "unpublished", "Form is not accepting submissions")
		return
	}

	id, err := s.backend.Store.AddSubmission(store.SubmissionInput{
		FormID:    formID,
		IPAddress: clientIP(r),
		Referer:   r.Referer(),
		Values:    body.Values,
	})
	if errors.Is(err, store.ErrUnknownField) {
		writeError(w, http.StatusBadRequest, "unknown_field", err.Error())
		return
	}
	if err != nil {
		s.internalError(w, "Failed to record submission", err, "form_id", formID)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// handleDeleteSubmission removes one result; it needs the edit capability
// for the form's owner.
func (s *Server) handleDeleteSubmission(w http.ResponseWriter, r *http.Request) {
	formID, ok := formIDParam(w, r)
	if !ok {
		return
	}
	subID, err := strconv.ParseInt(chi.URLParam(r, "sid"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "Submission ID must be a number")
		return
	}
	form, ok := s.loadForm(w, r, formID)
	if !ok {
		return
	}

	if !s.checkEntity(w, viewerFrom(r.Context()), form, authz.FormsEditOwn, authz.FormsEditOther, "edit the results of") {
		return
	}

	deleted, err := s.backend.Store.DeleteSubmission(formID, subID)
	if err != nil {
		s.internalError(w, "Failed to delete submission", err, "form_id", formID, "submission_id", subID)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "not_found", "Submission not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
