// Package sqlite implements database.DB for SQLite using the pure-Go
// modernc.org/sqlite driver. It serves local runs and the test suite.
//
// SQLite allows a single writer, so the pool is pinned to one connection;
// concurrent loader workers queue on it instead of failing with SQLITE_BUSY.
package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/koustreak/csvingest/internal/database"
	"github.com/koustreak/csvingest/internal/database/sqldb"
	"github.com/koustreak/csvingest/internal/errs"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

func init() {
	database.Register(database.DriverSQLite, func(ctx context.Context, cfg *database.Config) (database.DB, error) {
		return New(ctx, cfg)
	})
}

// Driver is a SQLite implementation of database.DB.
type Driver struct {
	*sqldb.Conn
}

// New opens the SQLite database at cfg.DSN (a file path, or ":memory:").
func New(ctx context.Context, cfg *database.Config) (*Driver, error) {
	pinned := *cfg
	pinned.MaxConns = 1
	pinned.MinConns = 1
	// An in-memory database lives only as long as its connection.
	pinned.MaxConnLifetime = 0
	pinned.MaxConnIdleTime = 0

	conn, err := sqldb.Open(ctx, "sqlite", withPragmas(cfg.DSN), &pinned, database.DialectSQLite, mapError)
	if err != nil {
		return nil, err
	}
	return &Driver{Conn: conn}, nil
}

// withPragmas enables foreign keys and a busy timeout via DSN parameters.
func withPragmas(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// --- catalog ---

func (d *Driver) ListTables(ctx context.Context) ([]string, error) {
	const q = `
		SELECT name
		FROM sqlite_master
		WHERE type = 'table'
		  AND name NOT LIKE 'sqlite_%'
		ORDER BY name`

	return d.StringList(ctx, q, "failed to list tables")
}

func (d *Driver) TableExists(ctx context.Context, table string) (bool, error) {
	const q = `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`

	var n int
	if err := d.DB().QueryRowContext(ctx, q, table).Scan(&n); err != nil {
		return false, mapError(err, "failed to check table existence")
	}
	return n > 0, nil
}

func (d *Driver) InspectTable(ctx context.Context, table string) (*database.TableInfo, error) {
	q := fmt.Sprintf("PRAGMA table_info(%s)", database.DialectSQLite.QuoteIdent(table))

	rows, err := d.DB().QueryContext(ctx, q)
	if err != nil {
		return nil, mapError(err, "failed to fetch columns")
	}
	defer rows.Close()

	info := &database.TableInfo{Name: table}
	for rows.Next() {
		var (
			cid     int
			c       database.ColumnInfo
			notNull int
			pk      int
		)
		if err := rows.Scan(&cid, &c.Name, &c.DataType, &notNull, &c.Default, &pk); err != nil {
			return nil, mapError(err, "failed to scan column info")
		}
		c.Nullable = notNull == 0 && pk == 0
		c.IsPrimary = pk > 0
		// INTEGER PRIMARY KEY aliases the rowid and auto-assigns.
		c.AutoIncrement = pk > 0 && strings.EqualFold(c.DataType, "INTEGER")
		if c.IsPrimary {
			info.PrimaryKey = append(info.PrimaryKey, c.Name)
		}
		info.Columns = append(info.Columns, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "error iterating columns")
	}
	if len(info.Columns) == 0 {
		return nil, errs.Newf(errs.ErrKindNotFound, "table %q not found", table)
	}

	uniques, err := d.uniqueColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	info.MarkKeys(nil, uniques)

	fks, err := d.foreignKeys(ctx, table)
	if err != nil {
		return nil, err
	}
	info.ForeignKeys = fks
	return info, nil
}

// uniqueColumns returns columns covered by a single-column unique index.
func (d *Driver) uniqueColumns(ctx context.Context, table string) ([]string, error) {
	const q = `
		SELECT ii.name
		FROM pragma_index_list(?) il
		JOIN pragma_index_info(il.name) ii
		WHERE il."unique" = 1
		  AND (SELECT COUNT(*) FROM pragma_index_info(il.name)) = 1`

	return d.StringList(ctx, q, "failed to fetch unique columns", table)
}

func (d *Driver) foreignKeys(ctx context.Context, table string) ([]*database.ForeignKey, error) {
	const q = `SELECT "from", "table", COALESCE("to", '') FROM pragma_foreign_key_list(?)`

	rows, err := d.DB().QueryContext(ctx, q, table)
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
