package mcp

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/wesm/formvault/internal/authz"
	"github.com/wesm/formvault/internal/results"
	"github.com/wesm/formvault/internal/search"
)

// Tool name constants.
const (
	ToolSearchForms       = "search_forms"
	ToolListFormResults   = "list_form_results"
	ToolExportFormResults = "export_form_results"
	ToolSearchCommands    = "search_commands"
)

// Service is the subset of the result lister the tools call.
type Service interface {
	ListForms(ctx context.Context, viewer authz.Viewer, req results.FormsRequest) (*results.FormsResult, error)
	List(ctx context.Context, viewer authz.Viewer, formID int64, page int) (*results.ListResult, error)
	Export(ctx context.Context, viewer authz.Viewer, formID int64, format string) (*results.ExportResult, error)
	Commands() []search.Command
}

func withPage() mcp.ToolOption {
	return mcp.WithNumber("page",
		mcp.Description("Page number, starting at 1 (default: the last page viewed)"),
	)
}

func withFormID() mcp.ToolOption {
	return mcp.WithNumber("form_id",
		mcp.Required(),
		mcp.Description("Form ID (from search_forms)"),
	)
}

// Serve creates an MCP server with form result tools and serves over stdio.
// Every call acts as viewer. It blocks until stdin is closed or the context
// is cancelled.
func Serve(ctx context.Context, svc Service, viewer authz.Viewer, version string) error {
	s := server.NewMCPServer(
		"formvault",
		version,
		server.WithToolCapabilities(false),
	)

	h := &handlers{svc: svc, viewer: viewer}

	s.AddTool(searchFormsTool(), h.searchForms)
	s.AddTool(listFormResultsTool(), h.listFormResults)
	s.AddTool(exportFormResultsTool(), h.exportFormResults)
	s.AddTool(searchCommandsTool(), h.searchCommands)

	stdio := server.NewStdioServer(s)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

func searchFormsTool() mcp.Tool {
	return mcp.NewTool(ToolSearchForms,
		mcp.WithDescription("Search forms with free text and commands such as is:published, is:mine, has:results and name:contact. Call search_commands for the localized command list."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("query",
			mcp.Description("Search text (e.g. 'is:published has:results newsletter'). Omit to reuse the last search; pass an empty string to clear it."),
		),
		withPage(),
		mcp.WithString("order_by",
			mcp.Description("Sort column"),
			mcp.Enum("f.name", "f.alias", "f.date_added", "f.id"),
		),
		mcp.WithString("order_dir",
			mcp.Description("Sort direction"),
			mcp.Enum("ASC", "DESC"),
		),
	)
}

func listFormResultsTool() mcp.Tool {
	return mcp.NewTool(ToolListFormResults,
		mcp.WithDescription("List one page of a form's submissions using the stored filters and sort order. Out-of-range pages are corrected automatically."),
		mcp.WithReadOnlyHintAnnotation(true),
		withFormID(),
		withPage(),
	)
}

func exportFormResultsTool() mcp.Tool {
	return mcp.NewTool(ToolExportFormResults,
		mcp.WithDescription("Export every submission of a form matching the stored filters, ignoring pagination. CSV and JSON are returned as text, ZIP as base64."),
		mcp.WithReadOnlyHintAnnotation(true),
		withFormID(),
		mcp.WithString("format",
			mcp.Description("Export format (default csv)"),
			mcp.Enum("csv", "json", "zip"),
		),
	)
}

func searchCommandsTool() mcp.Tool {
	return mcp.NewTool(ToolSearchCommands,
		mcp.WithDescription("List the search commands and values understood by search_forms."),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}
