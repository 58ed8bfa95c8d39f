package export

import (
	"archive/zip"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// CSV writes RFC 4180 CSV with a header row of column labels.
type CSV struct{}

func (CSV) ContentType() string { return "text/csv; charset=utf-8" }
func (CSV) Extension() string   { return "csv" }

func (CSV) Write(w io.Writer, _ string, t Table) error {
	cw := csv.NewWriter(w)
	header := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c.Label
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	record := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i, v := range row {
			record[i] = csvSafe(v)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// csvSafe prefixes values that spreadsheet applications would evaluate as
// formulas.
func csvSafe(v string) string {
	if v != "" && strings.ContainsRune("=+-@\t\r", rune(v[0])) {
		return "'" + v
	}
	return v
}

// JSON writes an array of objects keyed by column key.
type JSON struct{}

func (JSON) ContentType() string { return "application/json" }
func (JSON) Extension() string   { return "json" }

func (JSON) Write(w io.Writer, _ string, t Table) error {
	out := make([]map[string]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		obj := make(map[string]string, len(t.Columns))
		for i, c := range t.Columns {
			obj[c.Key] = row[i]
		}
		out = append(out, obj)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

// Zip writes the CSV rendering inside a zip archive as <name>.csv.
type Zip struct{}

func (Zip) ContentType() string { return "application/zip" }
func (Zip) Extension() string   { return "zip" }

type zipWriteError struct {
	err error
}

func (e *zipWriteError) Error() string { return e.err.Error() }
func (e *zipWriteError) Unwrap() error { return e.err }

func (Zip) Write(w io.Writer, name string, t Table) error {
	zw := zip.NewWriter(w)
	fw, err := zw.Create(SanitizeFilename(name) + ".csv")
	if err != nil {
		return &zipWriteError{fmt.Errorf("zip write error: %w", err)}
	}
	if err := (CSV{}).Write(fw, name, t); err != nil {
		return &zipWriteError{fmt.Errorf("zip write error: %w", err)}
	}
	if err := zw.Close(); err != nil {
		return &zipWriteError{fmt.Errorf("zip finalization error: %w", err)}
	}
	return nil
}
