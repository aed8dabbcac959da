// Package provision creates, replaces or adopts the target table for a
// SchemaPlan under an existence policy and returns the TableHandle the
// loader and validator work against.
package provision

import (
	"context"
	"fmt"
	"strings"

	"github.com/koustreak/csvingest/internal/coltype"
	"github.com/koustreak/csvingest/internal/database"
	"github.com/koustreak/csvingest/internal/errs"
	"github.com/koustreak/csvingest/internal/inference"
	"github.com/koustreak/csvingest/internal/logger"
)

// Policy decides what happens when the target table already exists.
type Policy string

const (
	PolicyFail    Policy = "fail"
	PolicyReplace Policy = "replace"
	PolicyAppend  Policy = "append"
)

// ParsePolicy validates an if_exists value.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyFail, PolicyReplace, PolicyAppend:
		return p, nil
	case "":
		return PolicyFail, nil
	}
	return "", errs.Newf(errs.ErrKindInvalidInput, "unknown if_exists policy %q (want fail, replace or append)", s)
}

// Options tunes provisioning.
type Options struct {
	Policy        Policy
	CreateIndexes bool
}

// TableHandle is the provisioned table and the plan actually in force.
// Fields has one entry per Plan column: the source field index feeding it.
type TableHandle struct {
	Table        string
	Dialect      database.Dialect
	Policy       Policy
	Plan         *inference.SchemaPlan
	Fields       []int
	Created      bool
	BaselineRows int64
	Statements   []string
}

// InsertColumns lists the table columns the loader writes, in Plan order.
func (h *TableHandle) InsertColumns() []string {
	return h.Plan.ColumnNames()
}

// Provisioner applies existence policies through a database.DB.
type Provisioner struct {
	db  database.DB
	log *logger.Logger
}

// New creates a Provisioner.
func New(db database.DB, log *logger.Logger) *Provisioner {
	if log == nil {
		log = logger.L()
	}
	return &Provisioner{db: db, log: log}
}

// Provision applies opts.Policy to plan.TableName.
func (p *Provisioner) Provision(ctx context.Context, plan *inference.SchemaPlan, opts Options) (*TableHandle, error) {
	if err := plan.Validate(); err != nil {
		return nil, errs.Provision(errs.CodeDDLFailed, plan.TableName, "invalid schema plan", err)
	}
	if opts.Policy == "" {
		opts.Policy = PolicyFail
	}

	table := plan.TableName
	log := p.log.Stage("provision", "", table).With().Str("policy", string(opts.Policy)).Logger()

	exists, err := p.db.TableExists(ctx, table)
	if err != nil {
		return nil, errs.Provision(errs.CodeDDLFailed, table, "cannot check whether the table exists", err)
	}

	d := p.db.Dialect()
	switch {
	case exists && opts.Policy == PolicyFail:
		return nil, errs.Provision(errs.CodeTableExists, table, "table already exists and if_exists is fail", nil)

	case exists && opts.Policy == PolicyAppend:
		h, err := p.adopt(ctx, plan)
		if err != nil {
			return nil, err
		}
		log.InfoWith("appending to existing table", map[string]interface{}{
			"columns":       len(h.Plan.Columns),
			"baseline_rows": h.BaselineRows,
		})
		return h, nil
	}

	stmts := DDL(d, plan, opts.CreateIndexes)
	if exists {
		stmts = append([]string{DropTableSQL(d, table)}, stmts...)
	}
	if err := p.execDDL(ctx, stmts); err != nil {
		return nil, errs.Provision(errs.CodeDDLFailed, table, "DDL execution failed", err)
	}
	log.InfoWith("table created", map[string]interface{}{
		"replaced":   exists,
		"statements": len(stmts),
	})

	fields := make([]int, len(plan.Columns))
	for i := range fields {
		fields[i] = i
	}
	return &TableHandle{
		Table:      table,
		Dialect:    d,
		Policy:     opts.Policy,
		Plan:       plan,
		Fields:     fields,
		Created:    true,
		Statements: stmts,
	}, nil
}

// execDDL runs stmts as one unit. Where DDL is transactional a failure
// leaves the catalog untouched.
func (p *Provisioner) execDDL(ctx context.Context, stmts []string) error {
	if !p.db.Dialect().TransactionalDDL() {
		for _, s := range stmts {
			if _, err := p.db.Exec(ctx, s); err != nil {
				return err
			}
		}
		return nil
	}

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return err
	}
	for _, s := range stmts {
		if _, err := tx.Exec(ctx, s); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
	}
	return tx.Commit(ctx)
}

// adopt builds the effective plan for an existing table. Columns are matched
// to source fields by name; when no name matches, by position. Table columns
// without a source field are left to their defaults.
func (p *Provisioner) adopt(ctx context.Context, plan *inference.SchemaPlan) (*TableHandle, error) {
	table := plan.TableName
	info, err := p.db.InspectTable(ctx, table)
	if err != nil {
		return nil, errs.Provision(errs.CodeDDLFailed, table, "cannot inspect existing table", err)
	}

	byName := make(map[string]int, len(plan.Columns))
	for i, c := range plan.Columns {
		byName[strings.ToLower(c.Name)] = i
	}

	// Identity columns are written only when the input names them; SQL
	// Server refuses explicit identity values outright.
	var writable []*database.ColumnInfo
	for _, c := range info.Columns {
		_, named := byName[strings.ToLower(c.Name)]
		if !c.AutoIncrement || (named && p.db.Dialect() != database.DialectSQLServer) {
			writable = append(writable, c)
		}
	}
	matched := 0
	for _, c := range writable {
		if _, ok := byName[strings.ToLower(c.Name)]; ok {
			matched++
		}
	}

	effective := &inference.SchemaPlan{
		TableName:   table,
		AddIDColumn: false,
		IDColumn:    plan.IDColumn,
	}
	var fields []int
	for pos, c := range writable {
		src := -1
		if matched > 0 {
			if i, ok := byName[strings.ToLower(c.Name)]; ok {
				src = i
			}
		} else if pos < len(plan.Columns) {
			src = pos
		}
		if src < 0 {
			continue
		}
		effective.Columns = append(effective.Columns, adoptColumn(c, plan.Columns[src]))
		fields = append(fields, src)
	}
	if len(effective.Columns) == 0 {
		return nil, errs.Provision(errs.CodeDDLFailed, table,
			fmt.Sprintf("existing table shares no columns with the input (table has %d writable columns)", len(writable)), nil)
	}

	baseline, err := CountRows(ctx, p.db, table)
	if err != nil {
		return nil, errs.Provision(errs.CodeDDLFailed, table, "cannot count existing rows", err)
	}

	return &TableHandle{
		Table:        table,
		Dialect:      p.db.Dialect(),
		Policy:       PolicyAppend,
		Plan:         effective,
		Fields:       fields,
		BaselineRows: baseline,
	}, nil
}

// adoptColumn takes the table's real type and nullability and keeps the
// source column's sample statistics and time layouts.
func adoptColumn(c *database.ColumnInfo, src inference.ColumnProfile) inference.ColumnProfile {
	typ := TypeFromSQL(c.DataType)
	// MySQL stores BOOLEAN as TINYINT.
	if typ.Kind == coltype.Integer && src.Type.Kind == coltype.Boolean &&
		strings.HasPrefix(strings.ToLower(c.DataType), "tinyint") {
		typ = coltype.Type{Kind: coltype.Boolean}
	}

	// The table, not the sample, defines a valid value here, so adopted
	// columns never tolerate mismatches.
	col := inference.ColumnProfile{
		Name:       c.Name,
		SourceName: src.SourceName,
		Type:       typ,
		Nullable:   c.Nullable,
		Stats:      src.Stats,
	}
	switch {
	case typ.Kind == src.Type.Kind && len(src.Formats) > 0:
		col.Formats = src.Formats
	case typ.Kind == coltype.Date:
		col.Formats = coltype.DateLayouts
	case typ.Kind == coltype.DateTime:
		col.Formats = append(append([]string{}, coltype.DateTimeLayouts...), coltype.DateLayouts...)
	}
	return col
}

// TypeFromSQL maps a catalog type name back onto the lattice.
func TypeFromSQL(dataType string) coltype.Type {
	if t, err := coltype.Parse(dataType); err == nil {
		return t
	}

	s := strings.ToLower(dataType)
	base, _, _ := strings.Cut(s, "(")
	base = strings.TrimSpace(base)
	switch {
	case base == "bit" || strings.HasPrefix(base, "bool"):
		return coltype.Type{Kind: coltype.Boolean}
	case strings.Contains(base, "int") && !strings.Contains(base, "interval") && !strings.Contains(base, "point"):
		return coltype.Type{Kind: coltype.Integer}
	case strings.Contains(base, "dec") || strings.Contains(base, "numeric") || strings.Contains(base, "real") ||
		strings.Contains(base, "double") || strings.Contains(base, "float") || strings.Contains(base, "money"):
		return coltype.Type{Kind: coltype.Decimal, Precision: coltype.MaxDecimalPrecision, Scale: 10}
	case strings.Contains(base, "timestamp") || strings.Contains(base, "datetime"):
		return coltype.Type{Kind: coltype.DateTime}
	case base == "date":
		return coltype.Type{Kind: coltype.Date}
	}
	return coltype.Type{Kind: coltype.Text}
}

// CountRows returns the number of rows in table.
func CountRows(ctx context.Context, db database.DB, table string) (int64, error) {
	row, err := db.QueryRow(ctx, "SELECT COUNT(*) FROM "+db.Dialect().QuoteIdent(table))
	if err != nil {
		return 0, err
	}
	return database.ScanInt64(row)
}
