package provision

import (
	"fmt"
	"strings"

	"github.com/koustreak/csvingest/internal/coltype"
	"github.com/koustreak/csvingest/internal/database"
	"github.com/koustreak/csvingest/internal/inference"
)

// maxIdentLength is the shortest identifier limit among the backends (PostgreSQL).
const maxIdentLength = 63

// SQLType renders t as a column type for dialect d.
func SQLType(d database.Dialect, t coltype.Type) string {
	switch t.Kind {
	case coltype.Boolean:
		if d == database.DialectSQLServer {
			return "BIT"
		}
		return "BOOLEAN"
	case coltype.Integer:
		if d == database.DialectSQLite {
			return "INTEGER"
		}
		return "BIGINT"
	case coltype.Decimal:
		return fmt.Sprintf("DECIMAL(%d,%d)", t.Precision, t.Scale)
	case coltype.Date:
		return "DATE"
	case coltype.DateTime:
		switch d {
		case database.DialectMySQL:
			return "DATETIME"
		case database.DialectSQLServer:
			return "DATETIME2"
		}
		return "TIMESTAMP"
	}

	if t.MaxLength > 0 {
		if d == database.DialectSQLServer {
			return fmt.Sprintf("NVARCHAR(%d)", t.MaxLength)
		}
		return fmt.Sprintf("VARCHAR(%d)", t.MaxLength)
	}
	switch d {
	case database.DialectMySQL:
		return "LONGTEXT"
	case database.DialectSQLServer:
		return "NVARCHAR(MAX)"
	}
	return "TEXT"
}

func identityColumn(d database.Dialect, name string) string {
	q := d.QuoteIdent(name)
	switch d {
	case database.DialectPostgres:
		return q + " BIGSERIAL PRIMARY KEY"
	case database.DialectMySQL:
		return q + " BIGINT AUTO_INCREMENT PRIMARY KEY"
	case database.DialectSQLite:
		return q + " INTEGER PRIMARY KEY AUTOINCREMENT"
	default:
		return q + " BIGINT IDENTITY(1,1) PRIMARY KEY"
	}
}

// CreateTableSQL renders the CREATE TABLE statement for plan.
func CreateTableSQL(d database.Dialect, plan *inference.SchemaPlan) string {
	defs := make([]string, 0, len(plan.Columns)+1)
	if plan.HasIDColumn() {
		defs = append(defs, identityColumn(d, plan.IDColumn))
	}
	for _, c := range plan.Columns {
		def := d.QuoteIdent(c.Name) + " " + SQLType(d, c.Type)
		if !c.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}

	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(d.QuoteIdent(plan.TableName))
	b.WriteString(" (\n    ")
	b.WriteString(strings.Join(defs, ",\n    "))
	b.WriteString("\n)")
	if d == database.DialectMySQL {
		b.WriteString(" DEFAULT CHARSET=utf8mb4")
	}
	return b.String()
}

// IndexName returns idx_<table>_<column>, cut to the identifier limit.
func IndexName(table, column string) string {
	name := "idx_" + table + "_" + column
	if len(name) > maxIdentLength {
		name = name[:maxIdentLength]
	}
	return name
}

// CreateIndexSQL renders one CREATE INDEX per indexable plan index. The
// generated identity column is already the primary key, and MySQL and SQL
// Server cannot index unbounded text.
func CreateIndexSQL(d database.Dialect, plan *inference.SchemaPlan) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, idx := range plan.Indexes {
		key := strings.ToLower(idx)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		col := plan.Column(idx)
		if col == nil {
			continue
		}
		if col.Type.IsLargeText() && (d == database.DialectMySQL || d == database.DialectSQLServer) {
			continue
		}
		out = append(out, fmt.Sprintf("CREATE INDEX %s ON %s (%s)",
			d.QuoteIdent(IndexName(plan.TableName, col.Name)),
			d.QuoteIdent(plan.TableName),
			d.QuoteIdent(col.Name)))
	}
	return out
}

// DropTableSQL renders the DROP TABLE statement used by the replace policy.
func DropTableSQL(d database.Dialect, table string) string {
	return "DROP TABLE " + d.QuoteIdent(table)
}

// DDL returns every statement a create would run, in order. It needs no
// connection, so dry runs can print it.
func DDL(d database.Dialect, plan *inference.SchemaPlan, withIndexes bool) []string {
	stmts := []string{CreateTableSQL(d, plan)}
	if withIndexes {
		stmts = append(stmts, CreateIndexSQL(d, plan)...)
	}
	return stmts
}
