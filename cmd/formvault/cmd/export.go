package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/wesm/formvault/internal/export"
	"github.com/wesm/formvault/internal/fileutil"
	"github.com/wesm/formvault/internal/results"
)

var (
	exportFormat string
	exportOutput string
)

var exportCmd = &cobra.Command{
	Use:   "export <form-id>",
	Short: "Export every submission of a form",
	Long: `Export all submissions of a form that match the stored filters, ignoring
pagination. Files are named formresults_<alias>_<YYYYMMDD>.<ext> and written
to the exports directory unless --output is given. Use --output - to write to
stdout.

Examples:
  formvault export 3
  formvault export 3 --format json --output contact.json
  formvault export 3 --format csv --output - | head`,
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

		res, err := a.lister.Export(cmd.Context(), viewer, formID, exportFormat)
		if err != nil {
			return err
		}
		if res.Outcome != results.Rendered {
			return showNotFoundOrDenied(cmd.Context(), a, viewer, res.Outcome, formID, res.FormsPage, stdoutIsTerminal())
		}

		if exportOutput == "-" {
			return res.Artifact.Render(os.Stdout)
		}

		path, err := writeArtifact(res.Artifact, exportOutput, cfg.ExportsDir())
		if err != nil {
			return err
		}
		logger.Info("exported form results", "form_id", formID, "rows", res.Artifact.Rows, "path", path)
		fmt.Printf("Exported %d results to %s\n", res.Artifact.Rows, path)
		return nil
	},
}

// writeArtifact renders a to output, or to dir under the artifact's own
// filename when output is empty. Exported data is readable by the owner only.
func writeArtifact(a *export.Artifact, output, dir string) (string, error) {
	path := output
	if path == "" {
		if err := fileutil.MkdirPrivate(dir); err != nil {
			return "", fmt.Errorf("create exports directory: %w", err)
		}
		path = filepath.Join(dir, a.Filename)
	}

	var buf bytes.Buffer
	if err := a.Render(&buf); err != nil {
		return "", fmt.Errorf("render %s export: %w", a.Format, err)
	}
	if err := fileutil.WriteFileAtomic(path, buf.Bytes(), 0600); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	return path, nil
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "csv", "export format: csv, json, zip")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file, or - for stdout (default: exports directory)")
}
