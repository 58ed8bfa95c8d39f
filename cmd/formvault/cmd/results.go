package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/wesm/formvault/internal/authz"
	"github.com/wesm/formvault/internal/query"
	"github.com/wesm/formvault/internal/results"
	"github.com/wesm/formvault/internal/textutil"
)

var (
	resultsPage    int
	resultsFilters []string
	resultsOrderBy string
	resultsDesc    bool
	resultsReset   bool
	resultsJSON    bool
)

var resultsCmd = &cobra.Command{
	Use:   "results <form-id>",
	Short: "Page through a form's submissions",
	Long: `Show one page of submissions for a form.

The page, filters and sort order are remembered per form. A page past the
end of the results is corrected automatically. Filters take the form
"column expr [value]", where column is s.id, s.date_submitted, s.ip_address,
s.referer or field.<alias>, and expr is one of eq, neq, gt, gte, lt, lte,
like, notlike, isnull, isnotnull. Setting filters or ordering resets the
list to page 1.

Examples:
  formvault results 3
  formvault results 3 --page 2
  formvault results 3 --filter "field.email like %@example.com" --desc
  formvault results 3 --reset`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		formID, err := parseFormID(args[0])
		if err != nil {
			return err
		}
		viewer, err := currentViewer()
		if err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		tty := stdoutIsTerminal()

		if len(resultsFilters) > 0 || resultsOrderBy != "" || resultsDesc || resultsReset {
			filters, err := parseColumnFilters(resultsFilters)
			if err != nil {
				return err
			}
			dir := query.SortAsc
			if resultsDesc {
				dir = query.SortDesc
			}
			outcome, err := a.lister.SetFilters(ctx, viewer, formID, filters, resultsOrderBy, dir)
			if err != nil {
				return err
			}
			if outcome != "" {
				return showNotFoundOrDenied(ctx, a, viewer, outcome, formID, 0, tty)
			}
		}

		res, err := a.lister.List(ctx, viewer, formID, resultsPage)
		if err != nil {
			return err
		}
		if res.Outcome == results.Redirect {
			target := res.Target()
			if !resultsJSON {
				writeNotice(os.Stderr, tty, fmt.Sprintf("Page %s is out of range, showing page %d.", pageLabel(resultsPage), target))
			}
			if res, err = a.lister.List(ctx, viewer, formID, target); err != nil {
				return err
			}
		}
		if res.Outcome == results.Redirect {
			return fmt.Errorf("page %d of form %d is out of range", res.Page, formID)
		}
		if res.Outcome != results.Rendered {
			return showNotFoundOrDenied(ctx, a, viewer, res.Outcome, formID, res.FormsPage, tty)
		}

		if resultsJSON {
			return writeJSON(os.Stdout, resultsJSONView(res))
		}
		renderResults(os.Stdout, tty, res)
		return nil
	},
}

// showNotFoundOrDenied reports a missing or forbidden form. A missing form
// sends the viewer back to the forms index, where the queued flash naming
// the form is shown.
func showNotFoundOrDenied(ctx context.Context, a *app, viewer authz.Viewer, outcome results.Outcome,
	formID int64, formsPage int, tty bool) error {
	if outcome == results.AccessDenied {
		return fmt.Errorf("%s may not view the results of form %d", viewer.Name, formID)
	}

	idx, err := a.lister.ListForms(ctx, viewer, results.FormsRequest{Page: formsPage})
	if err != nil {
		return err
	}
	if idx.Outcome == results.Rendered {
		renderForms(os.Stdout, tty, idx)
	}
	return fmt.Errorf("form %d not found", formID)
}

// pageLabel names a requested page; 0 means the stored page.
func pageLabel(page int) string {
	if page <= 0 {
		return "(last viewed)"
	}
	return strconv.Itoa(page)
}

func parseFormID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid form id %q", s)
	}
	return id, nil
}

// parseColumnFilters parses "column expr [value]" specs.
func parseColumnFilters(specs []string) ([]query.ColumnFilter, error) {
	out := make([]query.ColumnFilter, 0, len(specs))
	for _, spec := range specs {
		parts := strings.SplitN(strings.TrimSpace(spec), " ", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf("filter %q: want \"column expr [value]\"", spec)
		}
		f := query.ColumnFilter{Column: parts[0], Expr: strings.ToLower(parts[1])}
		if len(parts) == 3 {
			f.Value = parts[2]
		}
		if !query.ValidColumnFilter(f) {
			return nil, fmt.Errorf("%w: %s", results.ErrInvalidFilter, spec)
		}
		out = append(out, f)
	}
	return out, nil
}

func renderResults(w io.Writer, tty bool, res *results.ListResult) {
	if len(res.Items) == 0 {
		fmt.Fprintln(w, "No results found.")
		return
	}

	headers := []string{"ID", "SUBMITTED", "IP"}
	var fields []query.Field
	if res.Form != nil {
		fields = res.Form.Fields
	}
	for _, f := range fields {
		headers = append(headers, strings.ToUpper(f.Alias))
	}

	rows := make([][]string, 0, len(res.Items))
	for _, s := range res.Items {
		row := []string{
			strconv.FormatInt(s.ID, 10),
			s.DateSubmitted.Local().Format("2006-01-02 15:04"),
			s.IPAddress,
		}
		for _, f := range fields {
			row = append(row, textutil.Cell(s.Values[f.Alias], 30))
		}
		rows = append(rows, row)
	}
	writeTable(w, tty, headers, rows)

	if tty {
		name := ""
		if res.Form != nil {
			name = res.Form.Name + ": "
		}
		fmt.Fprintf(w, "%spage %d of %d, %d results, ordered by %s %s\n",
			name, res.Page, results.LastPage(res.Limit, res.Total), res.Total, res.OrderBy, res.OrderDir)
	}
}

func resultsJSONView(res *results.ListResult) map[string]any {
	items := make([]map[string]any, len(res.Items))
	for i, s := range res.Items {
		items[i] = map[string]any{
			"id":             s.ID,
			"date_submitted": s.DateSubmitted.Format(time.RFC3339),
			"ip_address":     s.IPAddress,
			"referer":        s.Referer,
			"values":         s.Values,
		}
	}
	return map[string]any{
		"form_id":   res.FormID,
		"page":      res.Page,
		"limit":     res.Limit,
		"total":     res.Total,
		"order_by":  res.OrderBy,
		"order_dir": res.OrderDir,
		"filters":   res.Filters,
		"results":   items,
	}
}

func init() {
	rootCmd.AddCommand(resultsCmd)
	resultsCmd.Flags().IntVarP(&resultsPage, "page", "p", 0, "page to show (default: the last page viewed)")
	resultsCmd.Flags().StringArrayVar(&resultsFilters, "filter", nil, "filter as \"column expr [value]\" (repeatable)")
	resultsCmd.Flags().StringVar(&resultsOrderBy, "order-by", "", "sort column: s.date_submitted, s.id, s.ip_address, s.referer")
	resultsCmd.Flags().BoolVar(&resultsDesc, "desc", false, "sort descending")
	resultsCmd.Flags().BoolVar(&resultsReset, "reset", false, "clear stored filters and ordering")
	resultsCmd.Flags().BoolVar(&resultsJSON, "json", false, "output as JSON")
}
