package database

import "context"

// Executor runs SQL statements. Both DB and Tx satisfy it, so code that
// only issues statements does not care whether it runs inside a transaction.
type Executor interface {
	// Exec executes a statement and returns the number of rows affected.
	Exec(ctx context.Context, sql string, args ...any) (int64, error)

	// Query executes a SQL statement that returns multiple rows.
	Query(ctx context.Context, sql string, args ...any) (Rows, error)

	// QueryRow executes a SQL statement that returns at most one row.
	QueryRow(ctx context.Context, sql string, args ...any) (Row, error)
}

// DB is the central contract for all database operations.
// All layers above this package talk only to this interface;
// they never import the backend packages directly.
type DB interface {
	Executor

	// Ping verifies the database is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the connection pool.
	Close()

	// Dialect reports the SQL flavour spoken by the backend.
	Dialect() Dialect

	// Begin starts a transaction on a dedicated pooled connection.
	// The connection is returned to the pool on Commit or Rollback.
	Begin(ctx context.Context) (Tx, error)

	// ListTables returns all user-defined table names in the default schema.
	ListTables(ctx context.Context) ([]string, error)

	// TableExists reports whether a table with the given name exists.
	TableExists(ctx context.Context, table string) (bool, error)

	// InspectTable returns the columns and keys of an existing table.
	// Returns ErrKindNotFound if the table does not exist.
	InspectTable(ctx context.Context, table string) (*TableInfo, error)
}

// Tx is a transaction bound to a single connection.
type Tx interface {
	Executor

	// CopyRows inserts rows in as few round trips as the backend allows
	// and returns the number of rows written. Either all rows are written
	// or an error is returned.
	CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Rows is an abstraction over a database result set.
// Callers must always call Close() when done, even on error.
type Rows interface {
	// Next advances to the next row.
	// Returns false when no more rows exist or on error.
	Next() bool

	// Scan copies the current row's columns into the provided destinations.
	Scan(dest ...any) error

	// Columns returns the column names of the result set.
	Columns() ([]string, error)

	// Close releases resources held by the result set.
	Close()

	// Err returns any error encountered during iteration.
	Err() error
}

// Row is an abstraction over a single database row.
type Row interface {
	Scan(dest ...any) error
}
