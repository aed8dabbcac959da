// Package sqldb holds the database/sql plumbing shared by the MySQL, SQLite
// and SQL Server backends. Each backend embeds *Conn and adds its catalog
// queries and error mapping.
package sqldb

import (
	"context"
	"database/sql"
	"time"

	"github.com/koustreak/csvingest/internal/database"
	"github.com/koustreak/csvingest/internal/errs"
)

// ErrorMapper translates a non-nil native error into *errs.Error.
type ErrorMapper func(err error, msg string) *errs.Error

// Conn implements the statement, transaction and lifecycle parts of
// database.DB over a *sql.DB pool.
type Conn struct {
	db           *sql.DB
	dialect      database.Dialect
	mapErr       ErrorMapper
	queryTimeout time.Duration
}

// Open configures the pool from cfg and pings it under cfg.ConnectTimeout.
func Open(ctx context.Context, driverName, dsn string, cfg *database.Config, d database.Dialect, mapErr ErrorMapper) (*Conn, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "invalid DSN", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(int(cfg.MaxConns))
	}
	if cfg.MinConns > 0 {
		db.SetMaxIdleConns(int(cfg.MinConns))
	}
	db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	db.SetConnMaxIdleTime(cfg.MaxConnIdleTime)

	c := &Conn{db: db, dialect: d, mapErr: mapErr, queryTimeout: cfg.QueryTimeout}

	pingCtx, cancel := database.StatementContext(ctx, cfg.ConnectTimeout)
	defer cancel()

	if err := c.Ping(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return c, nil
}

// DB exposes the underlying pool for backend-specific catalog queries.
func (c *Conn) DB() *sql.DB {
	return c.db
}

// MapError applies the backend's error mapping; nil stays nil.
func (c *Conn) MapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return c.mapErr(err, msg)
}

func (c *Conn) Ping(ctx context.Context) error {
	return c.MapError(c.db.PingContext(ctx), "ping failed")
}

func (c *Conn) Close() {
	_ = c.db.Close()
}

func (c *Conn) Dialect() database.Dialect {
	return c.dialect
}

func (c *Conn) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return execOn(ctx, c, c.db, query, args)
}

func (c *Conn) Query(ctx context.Context, query string, args ...any) (database.Rows, error) {
	return queryOn(ctx, c, c.db, query, args)
}

func (c *Conn) QueryRow(ctx context.Context, query string, args ...any) (database.Row, error) {
	return queryRowOn(ctx, c, c.db, query, args), nil
}

// Begin starts a transaction. database/sql pins it to one pooled connection.
func (c *Conn) Begin(ctx context.Context) (database.Tx, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, c.MapError(err, "begin failed")
	}
	return &Tx{tx: tx, conn: c}, nil
}

// Tx implements database.Tx over *sql.Tx. CopyRows is a series of
// multi-row INSERT statements sized to the dialect's limits.
type Tx struct {
	tx   *sql.Tx
	conn *Conn
}

func (t *Tx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return execOn(ctx, t.conn, t.tx, query, args)
}

func (t *Tx) Query(ctx context.Context, query string, args ...any) (database.Rows, error) {
	return queryOn(ctx, t.conn, t.tx, query, args)
}

func (t *Tx) QueryRow(ctx context.Context, query string, args ...any) (database.Row, error) {
	return queryRowOn(ctx, t.conn, t.tx, query, args), nil
}

func (t *Tx) CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	stmts, err := database.Insert(table, t.conn.dialect).Columns(columns...).Values(rows...).Build()
	if err != nil {
		return 0, err
	}

	var total int64
	for _, s := range stmts {
		if _, err := t.Exec(ctx, s.SQL, s.Args...); err != nil {
			return total, err
		}
		total += int64(s.Rows)
	}
	return total, nil
}

func (t *Tx) Commit(_ context.Context) error {
	return t.conn.MapError(t.tx.Commit(), "commit failed")
}

func (t *Tx) Rollback(_ context.Context) error {
	err := t.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return t.conn.MapError(err, "rollback failed")
}

// --- shared statement helpers ---

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func execOn(ctx context.Context, c *Conn, q querier, query string, args []any) (int64, error) {
	ctx, cancel := database.StatementContext(ctx, c.queryTimeout)
	defer cancel()

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, c.mapErr(err, "exec failed")
	}
	n, err := res.RowsAffected()
	if err != nil {
		// Some drivers cannot report affected rows for DDL.
		return 0, nil
	}
	return n, nil
}

func queryOn(ctx context.Context, c *Conn, q querier, query string, args []any) (database.Rows, error) {
	ctx, cancel := database.StatementContext(ctx, c.queryTimeout)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		cancel()
		return nil, c.mapErr(err, "query failed")
	}
	return database.CancelOnClose(&sqlRows{rows: rows, conn: c}, cancel), nil
}

func queryRowOn(ctx context.Context, c *Conn, q querier, query string, args []any) database.Row {
	ctx, cancel := database.StatementContext(ctx, c.queryTimeout)
	return database.CancelOnScan(&sqlRow{row: q.QueryRowContext(ctx, query, args...), conn: c}, cancel)
}

// --- sql.DB type wrappers ---

type sqlRows struct {
	rows *sql.Rows
	conn *Conn
}

func (r *sqlRows) Next() bool                 { return r.rows.Next() }
func (r *sqlRows) Scan(dest ...any) error     { return r.conn.MapError(r.rows.Scan(dest...), "scan failed") }
func (r *sqlRows) Columns() ([]string, error) { return r.rows.Columns() }
func (r *sqlRows) Close()                     { _ = r.rows.Close() }
func (r *sqlRows) Err() error                 { return r.conn.MapError(r.rows.Err(), "row iteration failed") }

type sqlRow struct {
	row  *sql.Row
	conn *Conn
}

func (r *sqlRow) Scan(dest ...any) error { return r.conn.MapError(r.row.Scan(dest...), "scan failed") }

// StringList runs a query returning one text column.
func (c *Conn) StringList(ctx context.Context, query, errMsg string, args ...any) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, c.mapErr(err, errMsg)
	}
	defer rows.Close()

	var list []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, c.mapErr(err, errMsg)
		}
		list = append(list, s)
	}
	if err := rows.Err(); err != nil {
		return nil, c.mapErr(err, errMsg)
	}
	return list, nil
}
