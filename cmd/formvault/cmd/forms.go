package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/wesm/formvault/internal/query"
	"github.com/wesm/formvault/internal/results"
	"github.com/wesm/formvault/internal/textutil"
)

var (
	formsPage    int
	formsOrderBy string
	formsDesc    bool
	formsClear   bool
	formsJSON    bool
)

var formsCmd = &cobra.Command{
	Use:   "forms [search terms...]",
	Short: "List and search forms",
	Long: `List forms, optionally filtered by a search string.

Bare words match the form name and description. Commands narrow the list:
  is:published    is:unpublished    is:mine
  is:expired      is:pending        has:results
  name:<text>

Prefix a term with - to negate it. Without arguments the previous search and
page are reused; use --clear to list every form.

Examples:
  formvault forms
  formvault forms is:published has:results
  formvault forms newsletter --page 2
  formvault forms --clear`,
	RunE: func(cmd *cobra.Command, args []string) error {
		viewer, err := currentViewer()
		if err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		req := results.FormsRequest{Page: formsPage, OrderBy: formsOrderBy}
		if formsDesc {
			req.OrderDir = query.SortDesc
		}
		if len(args) > 0 || formsClear {
			s := strings.Join(args, " ")
			req.Search = &s
		}

		res, err := a.lister.ListForms(cmd.Context(), viewer, req)
		if err != nil {
			return err
		}
		tty := stdoutIsTerminal()
		if res.Outcome == results.Redirect {
			if !formsJSON {
				writeNotice(os.Stderr, tty, fmt.Sprintf("Page %d is out of range, showing page %d.", formsPage, res.Page))
			}
			req.Page = res.Page
			if res, err = a.lister.ListForms(cmd.Context(), viewer, req); err != nil {
				return err
			}
		}
		if res.Outcome == results.AccessDenied {
			return fmt.Errorf("%s may not view forms", viewer.Name)
		}

		if formsJSON {
			return writeJSON(os.Stdout, formsJSONView(res))
		}
		renderForms(os.Stdout, tty, res)
		return nil
	},
}

func renderForms(w io.Writer, tty bool, res *results.FormsResult) {
	for _, f := range res.Flashes {
		writeNotice(w, tty, f.Message)
	}
	if len(res.Items) == 0 {
		fmt.Fprintln(w, "No forms found.")
		return
	}

	rows := make([][]string, 0, len(res.Items))
	for _, f := range res.Items {
		status := "unpublished"
		if f.IsPublished {
			status = "published"
		}
		rows = append(rows, []string{
			strconv.FormatInt(f.ID, 10),
			textutil.Cell(f.Name, 40),
			f.Alias,
			status,
			strconv.FormatInt(f.ResultCount, 10),
			f.DateAdded.Format("2006-01-02"),
		})
	}
	writeTable(w, tty, []string{"ID", "NAME", "ALIAS", "STATUS", "RESULTS", "ADDED"}, rows)

	if tty {
		pages := results.LastPage(res.Limit, res.Total)
		summary := fmt.Sprintf("Page %d of %d, %d forms", res.Page, pages, res.Total)
		if res.Search != "" {
			summary += fmt.Sprintf(" matching %q", res.Search)
		}
		if res.OwnOnly {
			summary += " (own forms only)"
		}
		fmt.Fprintln(w, summary)
	}
}

func formsJSONView(res *results.FormsResult) map[string]any {
	items := make([]map[string]any, len(res.Items))
	for i, f := range res.Items {
		items[i] = map[string]any{
			"id":           f.ID,
			"name":         f.Name,
			"alias":        f.Alias,
			"description":  f.Description,
			"is_published": f.IsPublished,
			"created_by":   f.CreatedBy,
			"date_added":   f.DateAdded.Format(time.RFC3339),
			"result_count": f.ResultCount,
		}
	}
	return map[string]any{
		"search":   res.Search,
		"page":     res.Page,
		"limit":    res.Limit,
		"total":    res.Total,
		"own_only": res.OwnOnly,
		"flashes":  res.Flashes,
		"forms":    items,
	}
}

func init() {
	rootCmd.AddCommand(formsCmd)
	formsCmd.Flags().IntVarP(&formsPage, "page", "p", 0, "page to show (default: the last page viewed)")
	formsCmd.Flags().StringVar(&formsOrderBy, "order-by", "", "sort column: f.name, f.alias, f.date_added, f.is_published, f.id")
	formsCmd.Flags().BoolVar(&formsDesc, "desc", false, "sort descending")
	formsCmd.Flags().BoolVar(&formsClear, "clear", false, "clear the stored search")
	formsCmd.Flags().BoolVar(&formsJSON, "json", false, "output as JSON")
}
