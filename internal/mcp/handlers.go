package mcp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/wesm/formvault/internal/authz"
	"github.com/wesm/formvault/internal/prefs"
	"github.com/wesm/formvault/internal/query"
	"github.com/wesm/formvault/internal/results"
	"github.com/wesm/formvault/internal/search"
)

const maxPage = 1_000_000

// maxExportSize bounds the export payload returned inline.
const maxExportSize = 20 * 1024 * 1024 // 20MB

type handlers struct {
	svc    Service
	viewer authz.Viewer
}

type formSummary struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Alias       string     `json:"alias"`
	Description string     `json:"description,omitempty"`
	IsPublished bool       `json:"is_published"`
	PublishUp   *time.Time `json:"publish_up,omitempty"`
	PublishDown *time.Time `json:"publish_down,omitempty"`
	CreatedBy   int64      `json:"created_by"`
	ResultCount int64      `json:"result_count"`
}

type formsResponse struct {
	Search  string        `json:"search"`
	Page    int           `json:"page"`
	Limit   int           `json:"limit"`
	Total   int64         `json:"total"`
	OwnOnly bool          `json:"own_only"`
	Forms   []formSummary `json:"forms"`
	Notices []string      `json:"notices,omitempty"`
}

type submission struct {
	ID            int64             `json:"id"`
	DateSubmitted time.Time         `json:"date_submitted"`
	IPAddress     string            `json:"ip_address,omitempty"`
	Referer       string            `json:"referer,omitempty"`
	Values        map[string]string `json:"values"`
}

type resultsResponse struct {
	FormID      int64                `json:"form_id"`
	FormName    string               `json:"form_name"`
	Page        int                  `json:"page"`
	Limit       int                  `json:"limit"`
	Total       int64                `json:"total"`
	OrderBy     string               `json:"order_by"`
	OrderDir    string               `json:"order_dir"`
	Filters     []query.ColumnFilter `json:"filters,omitempty"`
	Submissions []submission         `json:"submissions"`
}

type exportResponse struct {
	Filename      string `json:"filename"`
	ContentType   string `json:"content_type"`
	Rows          int    `json:"rows"`
	Content       string `json:"content,omitempty"`
	ContentBase64 string `json:"content_base64,omitempty"`
}

// getIDArg extracts a required positive integer ID from the arguments map.
func getIDArg(args map[string]any, key string) (int64, error) {
	v, ok := args[key].(float64)
	if !ok {
		return 0, fmt.Errorf("%s parameter is required", key)
	}
	if v != math.Trunc(v) || v < 1 || v > math.MaxInt64 {
		return 0, fmt.Errorf("%s must be a positive integer", key)
	}
	return int64(v), nil
}

// pageArg extracts an optional page number. Absent means 0, which makes the
// lister reuse the viewer's stored page.
func pageArg(args map[string]any) (int, error) {
	v, ok := args["page"].(float64)
	if !ok {
		return 0, nil
	}
	if v != math.Trunc(v) || v < 1 {
		return 0, fmt.Errorf("page must be a positive integer")
	}
	if v > maxPage {
		return maxPage, nil
	}
	return int(v), nil
}

func deniedOrMissing(outcome results.Outcome, formID int64) *mcp.CallToolResult {
	if outcome == results.AccessDenied {
		return mcp.NewToolResultError("access denied")
	}
	return mcp.NewToolResultError(fmt.Sprintf("no form with id %d", formID))
}

func (h *handlers) searchForms(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	page, err := pageArg(args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	fr := results.FormsRequest{Page: page}
	if v, ok := args["query"].(string); ok {
		fr.Search = &v
	}
	if v, ok := args["order_by"].(string); ok {
		fr.OrderBy = v
	}
	if v, ok := args["order_dir"].(string); ok {
		fr.OrderDir = query.ParseSortDirection(v)
	}

	res, err := h.svc.ListForms(ctx, h.viewer, fr)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	// A stale page has been corrected and stored; fetch it once.
	if res.Outcome == results.Redirect {
		fr.Page = res.Page
		if res, err = h.svc.ListForms(ctx, h.viewer, fr); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
		}
	}
	if res.Outcome != results.Rendered {
		return mcp.NewToolResultError("access denied"), nil
	}

	resp := formsResponse{
		Search:  res.Search,
		Page:    res.Page,
		Limit:   res.Limit,
		Total:   res.Total,
		OwnOnly: res.OwnOnly,
		Forms:   make([]formSummary, 0, len(res.Items)),
	}
	for _, f := range res.Items {
		resp.Forms = append(resp.Forms, formSummary{
			ID:          f.ID,
			Name:        f.Name,
			Alias:       f.Alias,
			Description: f.Description,
			IsPublished: f.IsPublished,
			PublishUp:   f.PublishUp,
			PublishDown: f.PublishDown,
			CreatedBy:   f.CreatedBy,
			ResultCount: f.ResultCount,
		})
	}
	for _, fl := range res.Flashes {
		if fl.Type == prefs.FlashError || fl.Type == prefs.FlashNotice {
			resp.Notices = append(resp.Notices, fl.Message)
		}
	}
	return jsonResult(resp)
}

func (h *handlers) listFormResults(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	formID, err := getIDArg(args, "form_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	page, err := pageArg(args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := h.svc.List(ctx, h.viewer, formID, page)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
	}
	if res.Outcome == results.Redirect {
		if res, err = h.svc.List(ctx, h.viewer, formID, res.Target()); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
		}
	}
	switch res.Outcome {
	case results.Rendered:
	case results.Redirect:
		return mcp.NewToolResultError(fmt.Sprintf("page %d of form %d is out of range", page, formID)), nil
	default:
		return deniedOrMissing(res.Outcome, formID), nil
	}

	resp := resultsResponse{
		FormID:      formID,
		Page:        res.Page,
		Limit:       res.Limit,
		Total:       res.Total,
		OrderBy:     res.OrderBy,
		OrderDir:    string(res.OrderDir),
		Filters:     res.Filters,
		Submissions: make([]submission, 0, len(res.Items)),
	}
	if res.Form != nil {
		resp.FormName = res.Form.Name
	}
	for _, s := range res.Items {
		resp.Submissions = append(resp.Submissions, submission{
			ID:            s.ID,
			DateSubmitted: s.DateSubmitted,
			IPAddress:     s.IPAddress,
			Referer:       s.Referer,
			Values:        s.Values,
		})
	}
	return jsonResult(resp)
}

func (h *handlers) exportFormResults(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	formID, err := getIDArg(args, "form_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	format, _ := args["format"].(string)
	if format == "" {
		format = "csv"
	}

	res, err := h.svc.Export(ctx, h.viewer, formID, format)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("export failed: %v", err)), nil
	}
	if res.Outcome != results.Rendered {
		return deniedOrMissing(res.Outcome, formID), nil
	}

	var buf bytes.Buffer
	if err := res.Artifact.Render(&buf); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("export failed: %v", err)), nil
	}
	if buf.Len() > maxExportSize {
		return mcp.NewToolResultError(fmt.Sprintf("export too large: %d bytes (max %d)", buf.Len(), maxExportSize)), nil
	}

	resp := exportResponse{
		Filename:    res.Artifact.Filename,
		ContentType: res.Artifact.ContentType,
		Rows:        res.Artifact.Rows,
	}
	if res.Artifact.Format == "zip" {
		resp.ContentBase64 = base64.StdEncoding.EncodeToString(buf.Bytes())
	} else {
		resp.Content = buf.String()
	}
	return jsonResult(resp)
}

func (h *handlers) searchCommands(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cmds := h.svc.Commands()
	if cmds == nil {
		cmds = []search.Command{}
	}
	return jsonResult(cmds)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal error: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
