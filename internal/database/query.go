package database

import (
	"fmt"
	"strings"

	"github.com/koustreak/csvingest/internal/errs"
)

// validOps is the allowlist of comparison operators for WHERE clauses.
// Any operator not in this list is rejected to prevent SQL injection
// through the operator position (which cannot be parameterized).
var validOps = map[string]bool{
	"=":           true,
	"!=":          true,
	"<>":          true,
	"<":           true,
	">":           true,
	"<=":          true,
	">=":          true,
	"LIKE":        true,
	"IS NULL":     true,
	"IS NOT NULL": true,
}

// SelectBuilder constructs a parameterized SELECT query using a fluent API.
// Values are never interpolated into the SQL string; they are always passed as args.
//
// Usage:
//
//	sql, args, err := Select("users", DialectPostgres).
//	    Columns("id", "name").
//	    Where("name", "IS NOT NULL", nil).
//	    OrderBy("id", Asc).
//	    Limit(5).
//	    Build()
type SelectBuilder struct {
	table   string
	dialect Dialect
	columns []string
	where   []whereClause
	orderBy []orderClause
	limit   *int
}

// SortDirection controls the ORDER BY direction.
type SortDirection bool

const (
	Asc  SortDirection = false
	Desc SortDirection = true
)

type whereClause struct {
	column string
	op     string
	value  any
}

type orderClause struct {
	column string
	dir    SortDirection
}

// Select starts a new SelectBuilder for the given table and dialect.
func Select(table string, d Dialect) *SelectBuilder {
	return &SelectBuilder{table: table, dialect: d}
}

// Columns restricts the SELECT to the specified columns.
// If not called, SELECT * is used.
func (b *SelectBuilder) Columns(cols ...string) *SelectBuilder {
	b.columns = cols
	return b
}

// Where adds a WHERE condition. Multiple calls are combined with AND.
// The value is ignored for IS NULL / IS NOT NULL.
func (b *SelectBuilder) Where(column, op string, value any) *SelectBuilder {
	b.where = append(b.where, whereClause{column, op, value})
	return b
}

// OrderBy appends an ORDER BY clause for the given column and direction.
func (b *SelectBuilder) OrderBy(column string, dir SortDirection) *SelectBuilder {
	b.orderBy = append(b.orderBy, orderClause{column, dir})
	return b
}

// Limit sets the maximum number of rows to return.
func (b *SelectBuilder) Limit(n int) *SelectBuilder {
	b.limit = &n
	return b
}

// Build produces the final SQL string and argument slice.
// Returns an error if any WHERE operator is not in the allowlist.
func (b *SelectBuilder) Build() (string, []any, error) {
	cols := "*"
	if len(b.columns) > 0 {
		quoted := make([]string, len(b.columns))
		for i, c := range b.columns {
			quoted[i] = b.dialect.QuoteIdent(c)
		}
		cols = strings.Join(quoted, ", ")
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	// SQL Server has no LIMIT clause.
	if b.limit != nil && b.dialect == DialectSQLServer {
		sb.WriteString(fmt.Sprintf("TOP (%d) ", *b.limit))
	}
	sb.WriteString(cols)
	sb.WriteString(" FROM ")
	sb.WriteString(b.dialect.QuoteIdent(b.table))

	var args []any
	argIdx := 1

	if len(b.where) > 0 {
		parts := make([]string, 0, len(b.where))
		for _, w := range b.where {
			op := strings.ToUpper(w.op)
			if !validOps[op] {
				return "", nil, errs.Newf(errs.ErrKindInvalidInput, "unsupported WHERE operator: %q", w.op)
			}
			if op == "IS NULL" || op == "IS NOT NULL" {
				parts = append(parts, fmt.Sprintf("%s %s", b.dialect.QuoteIdent(w.column), op))
				continue
			}
			parts = append(parts, fmt.Sprintf("%s %s %s", b.dialect.QuoteIdent(w.column), op, b.dialect.Placeholder(argIdx)))
			args = append(args, w.value)
			argIdx++
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(parts, " AND "))
	}

	if len(b.orderBy) > 0 {
		parts := make([]string, len(b.orderBy))
		for i, o := range b.orderBy {
			dir := "ASC"
			if o.dir == Desc {
				dir = "DESC"
			}
			parts[i] = fmt.Sprintf("%s %s", b.dialect.QuoteIdent(o.column), dir)
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(parts, ", "))
	}

	if b.limit != nil && b.dialect != DialectSQLServer {
		sb.WriteString(fmt.Sprintf(" LIMIT %d", *b.limit))
	}

	return sb.String(), args, nil
}

// InsertStatement is one parameterized INSERT produced by InsertBuilder.
type InsertStatement struct {
	SQL  string
	Args []any
	Rows int
}

// InsertBuilder renders multi-row INSERT statements, splitting the rows so
// that no statement exceeds the dialect's parameter or row limits.
type InsertBuilder struct {
	table   string
	dialect Dialect
	columns []string
	rows    [][]any
}

// Insert starts a new InsertBuilder for the given table and dialect.
func Insert(table string, d Dialect) *InsertBuilder {
	return &InsertBuilder{table: table, dialect: d}
}

// Columns sets the target column list.
func (b *InsertBuilder) Columns(cols ...string) *InsertBuilder {
	b.columns = cols
	return b
}

// Values appends rows; each row must have one value per column.
func (b *InsertBuilder) Values(rows ...[]any) *InsertBuilder {
	b.rows = append(b.rows, rows...)
	return b
}

// Build returns the statements needed to insert every row, in row order.
func (b *InsertBuilder) Build() ([]InsertStatement, error) {
	if len(b.columns) == 0 {
		return nil, errs.New(errs.ErrKindInvalidInput, "insert requires at least one column")
	}
	for i, r := range b.rows {
		if len(r) != len(b.columns) {
			return nil, errs.Newf(errs.ErrKindInvalidInput,
				"row %d has %d values, expected %d", i, len(r), len(b.columns))
		}
	}

	perStmt := b.dialect.MaxParams() / len(b.columns)
	if perStmt < 1 {
		perStmt = 1
	}
	if limit := b.dialect.MaxRowsPerInsert(); limit > 0 && perStmt > limit {
		perStmt = limit
	}

	quoted := make([]string, len(b.columns))
	for i, c := range b.columns {
		quoted[i] = b.dialect.QuoteIdent(c)
	}
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ",
		b.dialect.QuoteIdent(b.table), strings.Join(quoted, ", "))

	var stmts []InsertStatement
	for start := 0; start < len(b.rows); start += perStmt {
		end := start + perStmt
		if end > len(b.rows) {
			end = len(b.rows)
		}
		batch := b.rows[start:end]

		var sb strings.Builder
		sb.WriteString(prefix)
		args := make([]any, 0, len(batch)*len(b.columns))
		idx := 1
		for r, row := range batch {
			if r > 0 {
				sb.WriteString(", ")
			}
			sb.WriteByte('(')
			for c := range row {
				if c > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString(b.dialect.Placeholder(idx))
				idx++
			}
			sb.WriteByte(')')
			args = append(args, row...)
		}
		stmts = append(stmts, InsertStatement{SQL: sb.String(), Args: args, Rows: len(batch)})
	}
	return stmts, nil
}
