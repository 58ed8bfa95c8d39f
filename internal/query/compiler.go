package query

import (
	"strconv"
	"time"

	"github.com/wesm/formvault/internal/search"
)

// Compiled is the predicate and parameter set produced from a list of
// filters. Where is nil when no filter contributed a predicate.
type Compiled struct {
	Where  Expr
	Params Params

	// Dropped holds command filters that matched no vocabulary entry.
	Dropped []search.Filter
	// DroppedColumns holds column filters with an unknown column or
	// expression, or a missing value.
	DroppedColumns []ColumnFilter
}

// WhereSQL renders the predicate, or "1=1" when there is none.
func (c Compiled) WhereSQL() string {
	if c.Where == nil {
		return "1=1"
	}
	return c.Where.SQL()
}

// Compiler turns filter descriptors into predicates. Use one Compiler per
// query: it owns the counter that names parameters, so every parameter it
// generates (p1, p2, ...) is distinct within that query.
type Compiler struct {
	resolver *search.Resolver
	viewerID int64
	now      time.Time
	next     int
}

// NewCompiler creates a compiler. resolver maps localized command tokens to
// vocabulary keys; viewerID backs is:mine; now backs is:expired and
// is:pending.
func NewCompiler(resolver *search.Resolver, viewerID int64, now time.Time) *Compiler {
	return &Compiler{resolver: resolver, viewerID: viewerID, now: now}
}

// nextParam returns a fresh parameter name.
func (c *Compiler) nextParam() string {
	c.next++
	return "p" + strconv.Itoa(c.next)
}

// nowLiteral renders the compile time as a SQL literal in the stored
// DATETIME format.
func (c *Compiler) nowLiteral() string {
	return Literal(c.now.UTC().Format(timeFormat))
}

// pattern returns the LIKE pattern for a filter value.
func pattern(f search.Filter) string {
	if f.Strict {
		return f.String
	}
	return "%" + f.String + "%"
}

// commandBuilder compiles one (command, value) pair. Builders that return
// literal predicates return nil Params.
type commandBuilder func(c *Compiler, f search.Filter) (Expr, Params)

type commandKey struct {
	command string
	value   string
}

// formCommandBuilders is the dispatch table for form search commands, keyed
// by vocabulary keys. Bare commands use an empty value key.
var formCommandBuilders = map[commandKey]commandBuilder{
	{search.KeyIs, search.KeyIsPublished}: func(*Compiler, search.Filter) (Expr, Params) {
		return Eq("f.is_published", "1"), nil
	},
	{search.KeyIs, search.KeyIsUnpublished}: func(*Compiler, search.Filter) (Expr, Params) {
		return Eq("f.is_published", "0"), nil
	},
	{search.KeyIs, search.KeyIsMine}: func(c *Compiler, _ search.Filter) (Expr, Params) {
		return Eq("f.created_by", strconv.FormatInt(c.viewerID, 10)), nil
	},
	{search.KeyIs, search.KeyIsExpired}: func(c *Compiler, _ search.Filter) (Expr, Params) {
		return And(
			Eq("f.is_published", "1"),
			IsNotNull("f.publish_down"),
			Neq("f.publish_down", "''"),
			Lt("f.publish_down", c.nowLiteral()),
		), nil
	},
	{search.KeyIs, search.KeyIsPending}: func(c *Compiler, _ search.Filter) (Expr, Params) {
		return And(
			Eq("f.is_published", "1"),
			IsNotNull("f.publish_up"),
			Neq("f.publish_up", "''"),
			Gt("f.publish_up", c.nowLiteral()),
		), nil
	},
	{search.KeyHas, search.KeyHasResults}: func(*Compiler, search.Filter) (Expr, Params) {
		return Gt(Subquery("SELECT COUNT(s.id) FROM submissions s WHERE s.form_id = f.id"), "0"), nil
	},
	{search.KeyName, ""}: func(c *Compiler, f search.Filter) (Expr, Params) {
		name := c.nextParam()
		return Like("f.name", Placeholder(name)), Params{name: pattern(f)}
	},
}

// CompileFormFilter compiles one form search filter. Catch-all filters match
// name or description; command filters dispatch through the vocabulary.
// Unknown commands and values yield (nil, nil). Negated filters are wrapped
// in NOT.
func (c *Compiler) CompileFormFilter(f search.Filter) (Expr, Params) {
	var expr Expr
	var params Params

	if !f.IsCommand() {
		name := c.nextParam()
		ph := Placeholder(name)
		expr = Or(Like("f.name", ph), Like("f.description", ph))
		params = Params{name: pattern(f)}
	} else {
		cmd, val, ok := c.resolver.Resolve(f)
		if !ok {
			return nil, nil
		}
		build, ok := formCommandBuilders[commandKey{cmd, val}]
		if !ok {
			return nil, nil
		}
		expr, params = build(c, f)
	}

	if f.Not {
		expr = Not(expr)
	}
	return expr, params
}

// CompileFormFilters compiles filters and ANDs the results together.
func (c *Compiler) CompileFormFilters(filters []search.Filter) Compiled {
	out := Compiled{Params: Params{}}
	var parts []Expr
	for _, f := range filters {
		expr, params := c.CompileFormFilter(f)
		if expr == nil {
			out.Dropped = append(out.Dropped, f)
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
