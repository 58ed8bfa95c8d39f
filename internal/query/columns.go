package query

import (
	"math"
	"regexp"
	"strings"
)

// ColumnFilter is a structured filter on a submission column, as persisted
// in a viewer's result-list preferences.
//
// Column is one of s.id, s.form (alias s.form_id), s.date_submitted,
// s.ip_address, s.referer, or field.<alias> for a submitted value.
// Expr is one of eq, neq, gt, gte, lt, lte, like, notlike, isnull, isnotnull.
type ColumnFilter struct {
	Column string `json:"column"`
	Expr   string `json:"expr"`
	Value  any    `json:"value,omitempty"`
}

const fieldColumnPrefix = "field."

var submissionColumns = map[string]string{
	"s.id":             "s.id",
	"s.form":           "s.form_id",
	"s.form_id":        "s.form_id",
	"s.date_submitted": "s.date_submitted",
	"s.ip_address":     "s.ip_address",
	"s.referer":        "s.referer",
}

var comparisonOps = map[string]string{
	"eq":      "=",
	"neq":     "<>",
	"gt":      ">",
	"gte":     ">=",
	"lt":      "<",
	"lte":     "<=",
	"like":    "LIKE",
	"notlike": "NOT LIKE",
}

var fieldAliasRe = regexp.MustCompile(`^[a-z0-9_]+$`)

// ValidColumnFilter reports whether f names a known column and expression
// and carries a value when the expression needs one.
func ValidColumnFilter(f ColumnFilter) bool {
	if alias, ok := strings.CutPrefix(f.Column, fieldColumnPrefix); ok {
		if !fieldAliasRe.MatchString(alias) {
			return false
		}
	} else if _, ok := submissionColumns[f.Column]; !ok {
		return false
	}
	switch f.Expr {
	case "isnull", "isnotnull":
		return true
	}
	if _, ok := comparisonOps[f.Expr]; !ok {
		return false
	}
	return f.Value != nil
}

// normalizeValue converts JSON-decoded numbers back to integers where they
// are integral, so persisted id filters bind as integers.
func normalizeValue(v any) any {
	if f, ok := v.(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return v
}

// CompileColumnFilter compiles one submission column filter. Invalid filters
// yield (nil, nil).
func (c *Compiler) CompileColumnFilter(f ColumnFilter) (Expr, Params) {
	if !ValidColumnFilter(f) {
		return nil, nil
	}

	if alias, ok := strings.CutPrefix(f.Column, fieldColumnPrefix); ok {
		return c.compileFieldFilter(alias, f)
	}

	col := submissionColumns[f.Column]
	switch f.Expr {
	case "isnull":
		return IsNull(col), nil
	case "isnotnull":
		return IsNotNull(col), nil
	}
	name := c.nextParam()
	return compare(col, comparisonOps[f.Expr], Placeholder(name)), Params{name: normalizeValue(f.Value)}
}

// compileFieldFilter matches submissions through their stored field values.
// A field counts as null when it has no value row or an empty value.
func (c *Compiler) compileFieldFilter(alias string, f ColumnFilter) (Expr, Params) {
	aliasParam := c.nextParam()
	params := Params{aliasParam: alias}
	base := "SELECT 1 FROM submission_values sv WHERE sv.submission_id = s.id AND sv.field_alias = " + Placeholder(aliasParam)

	switch f.Expr {
	case "isnull":
		return Not(Raw("EXISTS (" + base + " AND COALESCE(sv.value, '') <> '')")), params
	case "isnotnull":
		return Raw("EXISTS (" + base + " AND COALESCE(sv.value, '') <> '')"), params
	}

	valueParam := c.nextParam()
	params[valueParam] = normalizeValue(f.Value)
	return Raw("EXISTS (" + base + " AND sv.value " + comparisonOps[f.Expr] + " " + Placeholder(valueParam) + ")"), params
}

// CompileColumnFilters compiles filters and ANDs the results together.
func (c *Compiler) CompileColumnFilters(filters []ColumnFilter) Compiled {
	out := Compiled{Params: Params{}}
	var parts []Expr
	for _, f := range filters {
		expr, params := c.CompileColumnFilter(f)
		if expr == nil {
			out.DroppedColumns = append(out.DroppedColumns, f)
			continue
		}
		parts = append(parts, expr)
		for k, v := range params {
			out.Params[k] = v
		}
	}
	out.Where = And(parts...)
	return out
}

var formOrderColumns = map[string]bool{
	"f.id":           true,
	"f.name":         true,
	"f.alias":        true,
	"f.is_published": true,
	"f.publish_up":   true,
	"f.publish_down": true,
	"f.created_by":   true,
	"f.date_added":   true,
}

var submissionOrderColumns = map[string]bool{
	"s.id":             true,
	"s.date_submitted": true,
	"s.ip_address":     true,
	"s.referer":        true,
}

// Default orderings.
const (
	DefaultFormOrder       = "f.name"
	DefaultSubmissionOrder = "s.date_submitted"
)

// ValidSubmissionOrder reports whether col can order submissions.
func ValidSubmissionOrder(col string) bool {
	return submissionOrderColumns[col]
}

// orderClause builds an ORDER BY list from a requested column, falling back
// to def for unknown or empty columns. idCol is appended as a tiebreaker so
// pages are stable.
func orderClause(col string, dir SortDirection, allowed map[string]bool, def, idCol string) string {
	if !allowed[col] {
		col = def
	}
	if dir != SortDesc {
		dir = SortAsc
	}
	if col == idCol {
		return col + " " + string(dir)
	}
	return col + " " + string(dir) + ", " + idCol + " " + string(dir)
}
