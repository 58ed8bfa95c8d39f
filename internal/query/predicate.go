package query

import (
	"strings"
)

// Expr is a boolean SQL expression node. Nodes compose with And, Or and Not
// and render to SQL text with named placeholders (":p1").
type Expr interface {
	SQL() string
}

// Params maps placeholder names (without the leading colon) to bound values.
type Params map[string]any

type rawExpr string

func (r rawExpr) SQL() string { return string(r) }

// Raw wraps a literal SQL fragment.
func Raw(sql string) Expr { return rawExpr(sql) }

type compositeExpr struct {
	op    string
	parts []Expr
}

func (c compositeExpr) SQL() string {
	if len(c.parts) == 1 {
		return c.parts[0].SQL()
	}
	rendered := make([]string, len(c.parts))
	for i, p := range c.parts {
		rendered[i] = p.SQL()
	}
	return "(" + strings.Join(rendered, " "+c.op+" ") + ")"
}

// And joins parts with AND. Nil parts are skipped; And of nothing is nil.
func And(parts ...Expr) Expr { return composite("AND", parts) }

// Or joins parts with OR. Nil parts are skipped; Or of nothing is nil.
func Or(parts ...Expr) Expr { return composite("OR", parts) }

func composite(op string, parts []Expr) Expr {
	kept := make([]Expr, 0, len(parts))
	for _, p := range parts {
		if p != nil {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return compositeExpr{op: op, parts: kept}
}

type notExpr struct {
	inner Expr
}

func (n notExpr) SQL() string { return "NOT (" + n.inner.SQL() + ")" }

// Not negates e. Not(nil) is nil.
func Not(e Expr) Expr {
	if e == nil {
		return nil
	}
	return notExpr{inner: e}
}

// Placeholder returns the SQL placeholder for a parameter name.
func Placeholder(name string) string { return ":" + name }

func compare(left, op, right string) Expr {
	return rawExpr(left + " " + op + " " + right)
}

// Eq renders left = right. right is a literal or a placeholder.
func Eq(left, right string) Expr { return compare(left, "=", right) }

// Neq renders left <> right.
func Neq(left, right string) Expr { return compare(left, "<>", right) }

// Lt renders left < right.
func Lt(left, right string) Expr { return compare(left, "<", right) }

// Gt renders left > right.
func Gt(left, right string) Expr { return compare(left, ">", right) }

// Like renders left LIKE right.
func Like(left, right string) Expr { return compare(left, "LIKE", right) }

// IsNull renders field IS NULL.
func IsNull(field string) Expr { return rawExpr(field + " IS NULL") }

// IsNotNull renders field IS NOT NULL.
func IsNotNull(field string) Expr { return rawExpr(field + " IS NOT NULL") }

// Literal quotes s as a SQL string literal.
func Literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Subquery wraps a scalar subquery so it can be compared.
func Subquery(sql string) string { return "(" + sql + ")" }
