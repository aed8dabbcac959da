package database

import (
	"fmt"
	"strings"
)

// Dialect controls placeholder style, identifier quoting and the few
// statements whose syntax differs between backends.
type Dialect int

const (
	// DialectPostgres uses $1, $2, … placeholders and "ident" quoting.
	DialectPostgres Dialect = iota

	// DialectMySQL uses ? placeholders and `ident` quoting.
	DialectMySQL

	// DialectSQLite uses ? placeholders and "ident" quoting.
	DialectSQLite

	// DialectSQLServer uses @p1, @p2, … placeholders and [ident] quoting.
	DialectSQLServer
)

func (d Dialect) String() string {
	switch d {
	case DialectPostgres:
		return "postgres"
	case DialectMySQL:
		return "mysql"
	case DialectSQLite:
		return "sqlite"
	case DialectSQLServer:
		return "sqlserver"
	default:
		return "unknown"
	}
}

// DialectFor maps a configured driver onto its dialect.
func DialectFor(driver Driver) (Dialect, bool) {
	switch driver {
	case DriverPostgres:
		return DialectPostgres, true
	case DriverMySQL:
		return DialectMySQL, true
	case DriverSQLite:
		return DialectSQLite, true
	case DriverSQLServer:
		return DialectSQLServer, true
	default:
		return 0, false
	}
}

// Placeholder returns the parameter placeholder for the 1-based index idx.
func (d Dialect) Placeholder(idx int) string {
	switch d {
	case DialectPostgres:
		return fmt.Sprintf("$%d", idx)
	case DialectSQLServer:
		return fmt.Sprintf("@p%d", idx)
	default:
		return "?"
	}
}

// QuoteIdent quotes a SQL identifier so reserved words and mixed-case
// names are safe to use.
func (d Dialect) QuoteIdent(name string) string {
	switch d {
	case DialectMySQL:
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	case DialectSQLServer:
		return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
	default:
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	}
}

// MaxParams is the number of bind parameters one statement may carry.
func (d Dialect) MaxParams() int {
	switch d {
	case DialectSQLServer:
		return 2000
	case DialectSQLite:
		return 32000
	default:
		return 65000
	}
}

// MaxRowsPerInsert bounds the VALUES list of a single INSERT; 0 means no bound.
func (d Dialect) MaxRowsPerInsert() int {
	if d == DialectSQLServer {
		return 1000
	}
	return 0
}

// Savepoint returns the statement that creates a savepoint.
func (d Dialect) Savepoint(name string) string {
	if d == DialectSQLServer {
		return "SAVE TRANSACTION " + name
	}
	return "SAVEPOINT " + name
}

// RollbackTo returns the statement that rolls back to a savepoint.
func (d Dialect) RollbackTo(name string) string {
	if d == DialectSQLServer {
		return "ROLLBACK TRANSACTION " + name
	}
	return "ROLLBACK TO SAVEPOINT " + name
}

// Release returns the statement that releases a savepoint, or "" when the
// backend has no such statement.
func (d Dialect) Release(name string) string {
	if d == DialectSQLServer {
		return ""
	}
	return "RELEASE SAVEPOINT " + name
}

// TransactionalDDL reports whether CREATE and DROP statements take part in
// transactions. MySQL commits implicitly around DDL.
func (d Dialect) TransactionalDDL() bool {
	return d != DialectMySQL
}
