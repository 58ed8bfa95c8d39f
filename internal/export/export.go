// Package export renders form submissions as downloadable files: CSV, JSON,
// or a zip archive holding the CSV.
package export

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wesm/formvault/internal/query"
	"github.com/wesm/formvault/internal/textutil"
)

// ErrUnknownFormat is returned for a format no exporter is registered for.
var ErrUnknownFormat = errors.New("unknown export format")

// DateLayout is how submission dates appear in exports.
const DateLayout = "2006-01-02 15:04:05"

// Column is one exported column. Key names it in JSON output, Label in CSV
// headers.
type Column struct {
	Key   string
	Label string
}

// Table is a flattened view of a form's submissions.
type Table struct {
	Columns []Column
	Rows    [][]string
}

// NewTable flattens subs into a table: fixed submission columns first, then
// one column per form field in field order. Values are repaired to valid
// UTF-8.
func NewTable(form *query.Form, subs []query.Submission) Table {
	cols := []Column{
		{Key: "id", Label: "Submission ID"},
		{Key: "date_submitted", Label: "Date Submitted"},
		{Key: "ip_address", Label: "IP Address"},
		{Key: "referer", Label: "Referer"},
	}
	fields := append([]query.Field(nil), form.Fields...)
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].Order < fields[j].Order })
	for _, f := range fields {
		cols = append(cols, Column{Key: f.Alias, Label: textutil.EnsureUTF8(f.Label)})
	}

	rows := make([][]string, 0, len(subs))
	for _, s := range subs {
		row := []string{
			strconv.FormatInt(s.ID, 10),
			s.DateSubmitted.UTC().Format(DateLayout),
			s.IPAddress,
			textutil.EnsureUTF8(s.Referer),
		}
		for _, f := range fields {
			row = append(row, textutil.EnsureUTF8(s.Values[f.Alias]))
		}
		rows = append(rows, row)
	}
	return Table{Columns: cols, Rows: rows}
}

// Exporter writes a table in one file format.
type Exporter interface {
	ContentType() string
	Extension() string
	Write(w io.Writer, name string, t Table) error
}

// Registry maps format identifiers to exporters.
type Registry struct {
	exporters map[string]Exporter
}

// NewRegistry returns a registry with the csv, json and zip exporters.
func NewRegistry() *Registry {
	r := &Registry{exporters: make(map[string]Exporter)}
	r.Register("csv", CSV{})
	r.Register("json", JSON{})
	r.Register("zip", Zip{})
	return r
}

// Register adds or replaces the exporter for format.
func (r *Registry) Register(format string, e Exporter) {
	r.exporters[strings.ToLower(format)] = e
}

// Get returns the exporter for format.
func (r *Registry) Get(format string) (Exporter, error) {
	e, ok := r.exporters[strings.ToLower(format)]
	if !ok {
		return nil, fmt.Errorf("%w: %q (want one of %s)", ErrUnknownFormat, format, strings.Join(r.Formats(), ", "))
	}
	return e, nil
}

// Formats lists the registered formats in sorted order.
func (r *Registry) Formats() []string {
	out := make([]string, 0, len(r.exporters))
	for f := range r.exporters {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Artifact is a rendered-on-demand export of one form's results.
type Artifact struct {
	Format      string
	Filename    string
	ContentType string
	Rows        int

	name     string
	table    Table
	exporter Exporter
}

// NewArtifact prepares an export of table named after the form alias and the
// export date.
func (r *Registry) NewArtifact(format string, form *query.Form, table Table, now time.Time) (*Artifact, error) {
	e, err := r.Get(format)
	if err != nil {
		return nil, err
	}
	name := "formresults_" + SanitizeFilename(form.Alias) + "_" + now.UTC().Format("20060102")
	return &Artifact{
		Format:      strings.ToLower(format),
		Filename:    name + "." + e.Extension(),
		ContentType: e.ContentType(),
		Rows:        len(table.Rows),
		name:        name,
		table:       table,
		exporter:    e,
	}, nil
}

// Render renders the artifact to w.
func (a *Artifact) Render(w io.Writer) error {
	return a.exporter.Write(w, a.name, a.table)
}

// SanitizeFilename removes or replaces characters that are invalid in filenames.
func SanitizeFilename(s string) string {
	var result []rune
	for _, r := range s {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', '\n', '\r', '\t', ' ':
			result = append(result, '_')
		default:
			result = append(result, r)
		}
	}
	return string(result)
}

// FormatBytesLong renders b with two decimals in the largest binary unit
// that fits, as in "1.50 MB".
func FormatBytesLong(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
