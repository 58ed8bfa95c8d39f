package query

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wesm/formvault/internal/search"
	"golang.org/x/sync/errgroup"
)

// timeFormat is the layout DATETIME columns are stored in.
const timeFormat = "2006-01-02 15:04:05"

// SQLiteEngine implements Engine with direct SQLite queries.
type SQLiteEngine struct {
	db       *sql.DB
	resolver *search.Resolver

	Now func() time.Time // clock for is:expired / is:pending (mockable for testing)
}

// NewSQLiteEngine creates an engine over db. tr localizes the search-command
// vocabulary.
func NewSQLiteEngine(db *sql.DB, tr search.Translator) *SQLiteEngine {
	return &SQLiteEngine{
		db:       db,
		resolver: search.NewResolver(tr, search.FormCommands),
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

func (e *SQLiteEngine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}

const formColumns = `
	f.id,
	f.name,
	f.alias,
	COALESCE(f.description, ''),
	f.is_published,
	f.publish_up,
	f.publish_down,
	f.created_by,
	f.date_added,
	(SELECT COUNT(*) FROM submissions rc WHERE rc.form_id = f.id)`

func scanForm(rows interface{ Scan(...any) error }) (Form, error) {
	var f Form
	var publishUp, publishDown, dateAdded sql.NullTime
	err := rows.Scan(
		&f.ID,
		&f.Name,
		&f.Alias,
		&f.Description,
		&f.IsPublished,
		&publishUp,
		&publishDown,
		&f.CreatedBy,
		&dateAdded,
		&f.ResultCount,
	)
	if err != nil {
		return f, err
	}
	if publishUp.Valid {
		t := publishUp.Time
		f.PublishUp = &t
	}
	if publishDown.Valid {
		t := publishDown.Time
		f.PublishDown = &t
	}
	if dateAdded.Valid {
		f.DateAdded = dateAdded.Time
	}
	return f, nil
}

// GetForm returns a form and its fields, or nil if it does not exist.
func (e *SQLiteEngine) GetForm(ctx context.Context, id int64) (*Form, error) {
	row := e.db.QueryRowContext(ctx, `SELECT `+formColumns+` FROM forms f WHERE f.id = ?`, id)
	f, err := scanForm(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get form: %w", err)
	}

	rows, err := e.db.QueryContext(ctx, `
		SELECT id, label, alias, field_order
		FROM form_fields
		WHERE form_id = ?
		ORDER BY field_order, id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("get form fields: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var fld Field
		if err := rows.Scan(&fld.ID, &fld.Label, &fld.Alias, &fld.Order); err != nil {
			return nil, fmt.Errorf("scan form field: %w", err)
		}
		f.Fields = append(f.Fields, fld)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate form fields: %w", err)
	}
	return &f, nil
}

// ListForms returns a window of forms matching q.
func (e *SQLiteEngine) ListForms(ctx context.Context, q FormQuery) (*Page[Form], error) {
	c := NewCompiler(e.resolver, q.ViewerID, e.now())
	compiled := c.CompileFormFilters(q.Filters)
	if q.OwnerID != nil {
		name := c.nextParam()
		compiled.Where = And(compiled.Where, Eq("f.created_by", Placeholder(name)))
		compiled.Params[name] = *q.OwnerID
	}

	where := compiled.WhereSQL()
	order := orderClause(q.OrderBy, q.OrderDir, formOrderColumns, DefaultFormOrder, "f.id")

	page, err := runPaged(ctx, e.db,
		fmt.Sprintf(`SELECT %s FROM forms f WHERE %s ORDER BY %s`, formColumns, where, order),
		fmt.Sprintf(`SELECT COUNT(*) FROM forms f WHERE %s`, where),
		compiled.Params,
		window{start: q.Start, limit: q.Limit},
		q.CountTotal,
		func(rows *sql.Rows) (Form, error) { return scanForm(rows) },
	)
	if err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}
	page.Dropped = len(compiled.Dropped)
	return page, nil
}

// ListSubmissions returns a window of submissions matching q, with their
// field values.
func (e *SQLiteEngine) ListSubmissions(ctx context.Context, q SubmissionQuery) (*Page[Submission], error) {
	c := NewCompiler(e.resolver, 0, e.now())
	compiled := c.CompileColumnFilters(q.Filters)

	where := compiled.WhereSQL()
	order := orderClause(q.OrderBy, q.OrderDir, submissionOrderColumns, DefaultSubmissionOrder, "s.id")

	page, err := runPaged(ctx, e.db,
		fmt.Sprintf(`
			SELECT s.id, s.form_id, s.date_submitted, COALESCE(s.ip_address, ''), COALESCE(s.referer, '')
			FROM submissions s
			WHERE %s
			ORDER BY %s`, where, order),
		fmt.Sprintf(`SELECT COUNT(*) FROM submissions s WHERE %s`, where),
		compiled.Params,
		window{start: q.Start, limit: q.Limit, bypass: q.Bypass},
		q.CountTotal,
		scanSubmission,
	)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	page.Dropped = len(compiled.DroppedColumns)

	if err := e.fetchSubmissionValues(ctx, page.Items); err != nil {
		return nil, fmt.Errorf("fetch submission values: %w", err)
	}
	return page, nil
}

func scanSubmission(rows *sql.Rows) (Submission, error) {
	var s Submission
	var submitted sql.NullTime
	if err := rows.Scan(&s.ID, &s.FormID, &submitted, &s.IPAddress, &s.Referer); err != nil {
		return s, err
	}
	if submitted.Valid {
		s.DateSubmitted = submitted.Time
	}
	return s, nil
}

// fetchSubmissionValues attaches field values to submissions using batched
// IN queries.
func (e *SQLiteEngine) fetchSubmissionValues(ctx context.Context, subs []Submission) error {
	if len(subs) == 0 {
		return nil
	}

	idToIndex := make(map[int64]int, len(subs))
	ids := make([]int64, len(subs))
	for i, s := range subs {
		ids[i] = s.ID
		idToIndex[s.ID] = i
	}

	const chunkSize = 500
	for start := 0; start < len(ids); start += chunkSize {
		end := min(start+chunkSize, len(ids))
		chunk := ids[start:end]

		placeholders := make([]string, len(chunk))
		args := make([]any, len(chunk))
		for i, id := range chunk {
			placeholders[i] = "?"
			args[i] = id
		}

		rows, err := e.db.QueryContext(ctx, fmt.Sprintf(`
			SELECT submission_id, field_alias, COALESCE(value, '')
			FROM submission_values
			WHERE submission_id IN (%s)
		`, strings.Join(placeholders, ",")), args...)
		if err != nil {
			return err
		}

		for rows.Next() {
			var id int64
			var alias, value string
			if err := rows.Scan(&id, &alias, &value); err != nil {
				rows.Close()
				return err
			}
			if idx, ok := idToIndex[id]; ok {
				if subs[idx].Values == nil {
					subs[idx].Values = make(map[string]string)
				}
				subs[idx].Values[alias] = value
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
	}
	return nil
}

// window is an offset/limit slice of a result set.
type window struct {
	start  int
	limit  int
	bypass bool
}

// namedArgs converts params to sql.NamedArg values in name order.
func namedArgs(params Params) []any {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	args := make([]any, len(names))
	for i, name := range names {
		args[i] = sql.Named(name, params[name])
	}
	return args
}

// runPaged executes a windowed select and, when count is set, the matching
// COUNT(*) query concurrently. Both queries bind the same params.
func runPaged[T any](
	ctx context.Context,
	db *sql.DB,
	selectSQL, countSQL string,
	params Params,
	w window,
	count bool,
	scan func(*sql.Rows) (T, error),
) (*Page[T], error) {
	args := namedArgs(params)

	pageSQL := selectSQL
	pageArgs := args
	if !w.bypass && w.limit > 0 {
		pageSQL += "\nLIMIT :limit OFFSET :offset"
		pageArgs = append(append([]any{}, args...),
			sql.Named("limit", w.limit),
			sql.Named("offset", max(w.start, 0)),
		)
	}

	page := &Page[T]{Counted: count}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		rows, err := db.QueryContext(gctx, pageSQL, pageArgs...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			item, err := scan(rows)
			if err != nil {
				return err
			}
			page.Items = append(page.Items, item)
		}
		return rows.Err()
	})

	if count {
		g.Go(func() error {
			return db.QueryRowContext(gctx, countSQL, args...).Scan(&page.Total)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return page, nil
}
