// Package postgres implements database.DB for PostgreSQL on top of pgxpool.
// Bulk inserts use the COPY protocol.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/koustreak/csvingest/internal/database"
	"github.com/koustreak/csvingest/internal/errs"
)

func init() {
	database.Register(database.DriverPostgres, func(ctx context.Context, cfg *database.Config) (database.DB, error) {
		return New(ctx, cfg)
	})
}

// Driver is a PostgreSQL implementation of database.DB backed by pgxpool.
// It is safe for concurrent use by multiple goroutines.
type Driver struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

// New connects to PostgreSQL using the provided Config and returns a Driver.
// It calls Ping to validate the connection before returning. When
// cfg.AutoCreateDB is set and the target database is missing, it is created
// through the server's maintenance database first.
func New(ctx context.Context, cfg *database.Config) (*Driver, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "invalid DSN", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	d, err := connect(ctx, poolCfg, cfg.QueryTimeout)
	if err != nil && cfg.AutoCreateDB && isMissingDatabase(err) {
		if cerr := createDatabase(ctx, poolCfg.ConnConfig); cerr != nil {
			return nil, cerr
		}
		d, err = connect(ctx, poolCfg, cfg.QueryTimeout)
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func connect(ctx context.Context, poolCfg *pgxpool.Config, queryTimeout time.Duration) (*Driver, error) {
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to create connection pool", err)
	}

	d := &Driver{pool: pool, queryTimeout: queryTimeout}

	if err := d.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return d, nil
}

// createDatabase connects to the "postgres" maintenance database and
// creates the database named in connCfg.
func createDatabase(ctx context.Context, connCfg *pgx.ConnConfig) error {
	admin := connCfg.Copy()
	target := admin.Database
	admin.Database = "postgres"

	conn, err := pgx.ConnectConfig(ctx, admin)
	if err != nil {
		return mapError(err, "failed to connect to maintenance database")
	}
	defer conn.Close(ctx)

	stmt := "CREATE DATABASE " + database.DialectPostgres.QuoteIdent(target)
	if _, err := conn.Exec(ctx, stmt); err != nil {
		if e := mapError(err, "failed to create database"); e.Kind != errs.ErrKindConflict {
			return e
		}
	}
	return nil
}

// --- database.DB implementation ---

// Ping verifies the database is reachable by acquiring and releasing a connection.
func (d *Driver) Ping(ctx context.Context) error {
	if err := d.pool.Ping(ctx); err != nil {
		return mapError(err, "ping failed")
	}
	return nil
}

// Close drains the connection pool. Call when the application shuts down.
func (d *Driver) Close() {
	d.pool.Close()
}

// Dialect reports DialectPostgres.
func (d *Driver) Dialect() database.Dialect {
	return database.DialectPostgres
}

// Exec executes a statement under the per-statement deadline.
func (d *Driver) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	ctx, cancel := database.StatementContext(ctx, d.queryTimeout)
	defer cancel()

	tag, err := d.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, mapError(err, "exec failed")
	}
	return tag.RowsAffected(), nil
}

// Query executes a SQL statement that returns multiple rows.
func (d *Driver) Query(ctx context.Context, sql string, args ...any) (database.Rows, error) {
	ctx, cancel := database.StatementContext(ctx, d.queryTimeout)
	rows, err := d.pool.Query(ctx, sql, args...)
	if err != nil {
		cancel()
		return nil, mapError(err, "query failed")
	}
	return database.CancelOnClose(&pgxRows{rows: rows}, cancel), nil
}

// QueryRow executes a SQL statement expected to return at most one row.
func (d *Driver) QueryRow(ctx context.Context, sql string, args ...any) (database.Row, error) {
	ctx, cancel := database.StatementContext(ctx, d.queryTimeout)
	row := d.pool.QueryRow(ctx, sql, args...)
	return database.CancelOnScan(&pgxRow{row: row}, cancel), nil
}

// Begin starts a transaction on a dedicated pooled connection.
func (d *Driver) Begin(ctx context.Context) (database.Tx, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return nil, mapError(err, "begin failed")
	}
	return &pgxTx{tx: tx, queryTimeout: d.queryTimeout}, nil
}

// ListTables returns all user-defined table names in the public schema.
func (d *Driver) ListTables(ctx context.Context) ([]string, error) {
	const q = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public'
		  AND table_type   = 'BASE TABLE'
		ORDER BY table_name`

	return d.fetchStringList(ctx, q, nil, "failed to list tables")
}

// TableExists reports whether a table with the given name exists in the public schema.
func (d *Driver) TableExists(ctx context.Context, table string) (bool, error) {
	const q = `
		SELECT 1
		FROM information_schema.tables
		WHERE table_schema = 'public'
		  AND table_type   = 'BASE TABLE'
		  AND table_name   = $1`

	var exists int
	err := d.pool.QueryRow(ctx, q, table).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, mapError(err, "failed to check table existence")
	}
	return true, nil
}

// InspectTable fetches column, primary key, unique, and foreign key info for one table.
func (d *Driver) InspectTable(ctx context.Context, table string) (*database.TableInfo, error) {
	columns, err := d.fetchColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, errs.Newf(errs.ErrKindNotFound, "table %q not found", table)
	}

	pks, err := d.fetchPrimaryKeys(ctx, table)
	if err != nil {
		return nil, err
	}

	uniqueCols, err := d.fetchUniqueColumns(ctx, table)
	if err != nil {
		return nil, err
	}

	fks, err := d.fetchForeignKeys(ctx, table)
	if err != nil {
		return nil, err
	}

	info := &database.TableInfo{
		Name:        table,
		Columns:     columns,
		PrimaryKey:  pks,
		ForeignKeys: fks,
	}
	info.MarkKeys(pks, uniqueCols)
	return info, nil
}

func (d *Driver) fetchColumns(ctx context.Context, table string) ([]*database.ColumnInfo, error) {
	const q = `
		SELECT column_name,
		       data_type,
		       is_nullable = 'YES',
		       column_default,
		       is_identity = 'YES' OR COALESCE(column_default, '') LIKE 'nextval(%'
		FROM information_schema.columns
		WHERE table_schema = 'public'
		  AND table_name   = $1
		ORDER BY ordinal_position`

	rows, err := d.pool.Query(ctx, q, table)
	if err != nil {
		return nil, mapError(err, "failed to fetch columns")
	}
	defer rows.Close()

	var cols []*database.ColumnInfo
	for rows.Next() {
		var c database.ColumnInfo
		if err := rows.Scan(&c.Name, &c.DataType, &c.Nullable, &c.Default, &c.AutoIncrement); err != nil {
			return nil, mapError(err, "failed to scan column info")
		}
		cols = append(cols, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "error iterating columns")
	}
	return cols, nil
}

func (d *Driver) fetchPrimaryKeys(ctx context.Context, table string) ([]string, error) {
	const q = `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema    = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
		  AND tc.table_schema    = 'public'
		  AND tc.table_name      = $1
		ORDER BY kcu.ordinal_position`

	return d.fetchStringList(ctx, q, []any{table}, "failed to fetch primary keys")
}

func (d *Driver) fetchUniqueColumns(ctx context.Context, table string) ([]string, error) {
	const q = `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema    = kcu.table_schema
		WHERE tc.constraint_type = 'UNIQUE'
		  AND tc.table_schema    = 'public'
		  AND tc.table_name      = $1`

	return d.fetchStringList(ctx, q, []any{table}, "failed to fetch unique columns")
}

func (d *Driver) fetchForeignKeys(ctx context.Context, table string) ([]*database.ForeignKey, error) {
	const q = `
		SELECT kcu.column_name,
		       ccu.table_name  AS ref_table,
		       ccu.column_name AS ref_column
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema    = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
		  ON tc.constraint_name = ccu.constraint_name
		WHERE tc.constraint_type = 'FOREIGN KEY'
		  AND tc.table_schema    = 'public'
		  AND tc.table_name      = $1`

	rows, err := d.pool.Query(ctx, q, table)
	if err != nil {
		return nil, mapError(err, "failed to fetch foreign keys")
	}
	defer rows.Close()

	var fks []*database.ForeignKey
	for rows.Next() {
		fk := &database.ForeignKey{}
		if err := rows.Scan(&fk.Column, &fk.RefTable, &fk.RefColumn); err != nil {
			return nil, mapError(err, "failed to scan foreign key")
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

// fetchStringList is a helper for queries that return a single text column.
func (d *Driver) fetchStringList(ctx context.Context, q string, args []any, errMsg string) ([]string, error) {
	rows, err := d.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, mapError(err, errMsg)
	}
	defer rows.Close()

	var list []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, mapError(err, errMsg)
		}
		list = append(list, s)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, errMsg)
	}
	return list, nil
}

// --- pgx type wrappers ---

// pgxRows wraps pgx.Rows to satisfy database.Rows.
type pgxRows struct {
	rows pgx.Rows
}

func (r *pgxRows) Next() bool             { return r.rows.Next() }
func (r *pgxRows) Scan(dest ...any) error { return mapErrorOrNil(r.rows.Scan(dest...), "scan failed") }
func (r *pgxRows) Close()                 { r.rows.Close() }
func (r *pgxRows) Err() error             { return mapErrorOrNil(r.rows.Err(), "row iteration failed") }

func (r *pgxRows) Columns() ([]string, error) {
	descs := r.rows.FieldDescriptions()
	cols := make([]string, len(descs))
	for i, d := range descs {
		cols[i] = d.Name
	}
	return cols, nil
}

// pgxRow wraps pgx.Row to satisfy database.Row.
type pgxRow struct {
	row pgx.Row
}

func (r *pgxRow) Scan(dest ...any) error { return mapErrorOrNil(r.row.Scan(dest...), "scan failed") }

// pgxTx wraps pgx.Tx to satisfy database.Tx.
type pgxTx struct {
	tx           pgx.Tx
	queryTimeout time.Duration
}

func (t *pgxTx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	ctx, cancel := database.StatementContext(ctx, t.queryTimeout)
	defer cancel()

	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, mapError(err, "exec failed")
	}
	return tag.RowsAffected(), nil
}

func (t *pgxTx) Query(ctx context.Context, sql string, args ...any) (database.Rows, error) {
	ctx, cancel := database.StatementContext(ctx, t.queryTimeout)
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		cancel()
		return nil, mapError(err, "query failed")
	}
	return database.CancelOnClose(&pgxRows{rows: rows}, cancel), nil
}

func (t *pgxTx) QueryRow(ctx context.Context, sql string, args ...any) (database.Row, error) {
	ctx, cancel := database.StatementContext(ctx, t.queryTimeout)
	return database.CancelOnScan(&pgxRow{row: t.tx.QueryRow(ctx, sql, args...)}, cancel), nil
}

// CopyRows streams rows through COPY FROM STDIN.
func (t *pgxTx) CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	ctx, cancel := database.StatementContext(ctx, t.queryTimeout)
	defer cancel()

	n, err := t.tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, mapError(err, fmt.Sprintf("copy into %s failed", table))
	}
	return n, nil
}

func (t *pgxTx) Commit(ctx context.Context) error {
	return mapErrorOrNil(t.tx.Commit(ctx), "commit failed")
}

func (t *pgxTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return mapErrorOrNil(err, "rollback failed")
}
