// Package mysql implements database.DB for MySQL / MariaDB on top of
// database/sql and go-sql-driver/mysql.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/koustreak/csvingest/internal/database"
	"github.com/koustreak/csvingest/internal/database/sqldb"
	"github.com/koustreak/csvingest/internal/errs"
)

func init() {
	database.Register(database.DriverMySQL, func(ctx context.Context, cfg *database.Config) (database.DB, error) {
		return New(ctx, cfg)
	})
}

// Driver is a MySQL implementation of database.DB backed by database/sql.
// It is safe for concurrent use by multiple goroutines.
type Driver struct {
	*sqldb.Conn
}

// New opens a MySQL connection pool using the provided Config and returns a Driver.
// It calls Ping to validate the connection before returning.
func New(ctx context.Context, cfg *database.Config) (*Driver, error) {
	dsnCfg, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "invalid DSN", err)
	}
	if cfg.ConnectTimeout > 0 {
		dsnCfg.Timeout = cfg.ConnectTimeout
	}
	dsnCfg.ParseTime = true
	if dsnCfg.Params == nil {
		dsnCfg.Params = map[string]string{}
	}
	if _, ok := dsnCfg.Params["charset"]; !ok {
		dsnCfg.Params["charset"] = "utf8mb4"
	}

	if cfg.AutoCreateDB && dsnCfg.DBName != "" {
		if err := createDatabase(ctx, dsnCfg, cfg); err != nil {
			return nil, err
		}
	}

	conn, err := sqldb.Open(ctx, "mysql", dsnCfg.FormatDSN(), cfg, database.DialectMySQL, mapError)
	if err != nil {
		return nil, err
	}
	return &Driver{Conn: conn}, nil
}

// createDatabase connects without a default schema and issues
// CREATE DATABASE IF NOT EXISTS for the schema named in the DSN.
func createDatabase(ctx context.Context, dsnCfg *mysql.Config, cfg *database.Config) error {
	server := dsnCfg.Clone()
	target := server.DBName
	server.DBName = ""

	conn, err := sqldb.Open(ctx, "mysql", server.FormatDSN(), cfg, database.DialectMySQL, mapError)
	if err != nil {
		return err
	}
	defer conn.Close()

	stmt := "CREATE DATABASE IF NOT EXISTS " + database.DialectMySQL.QuoteIdent(target) +
		" CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci"
	_, err = conn.Exec(ctx, stmt)
	return err
}

// --- catalog ---

func (d *Driver) ListTables(ctx context.Context) ([]string, error) {
	const q = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = DATABASE()
		  AND table_type   = 'BASE TABLE'
		ORDER BY table_name`

	return d.StringList(ctx, q, "failed to list tables")
}

func (d *Driver) TableExists(ctx context.Context, table string) (bool, error) {
	const q = `
		SELECT 1
		FROM information_schema.tables
		WHERE table_schema = DATABASE()
		  AND table_type   = 'BASE TABLE'
		  AND table_name   = ?`

	var exists int
	err := d.DB().QueryRowContext(ctx, q, table).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, mapError(err, "failed to check table existence")
	}
	return true, nil
}

func (d *Driver) InspectTable(ctx context.Context, table string) (*database.TableInfo, error) {
	columns, pks, err := d.fetchColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, errs.Newf(errs.ErrKindNotFound, "table %q not found", table)
	}

	fks, err := d.fetchForeignKeys(ctx, table)
	if err != nil {
		return nil, err
	}

	return &database.TableInfo{
		Name:        table,
		Columns:     columns,
		PrimaryKey:  pks,
		ForeignKeys: fks,
	}, nil
}

func (d *Driver) fetchColumns(ctx context.Context, table string) ([]*database.ColumnInfo, []string, error) {
	const q = `
		SELECT column_name,
		       data_type,
		       is_nullable = 'YES',
		       column_default,
		       column_key,
		       extra
		FROM information_schema.columns
		WHERE table_schema = DATABASE()
		  AND table_name   = ?
		ORDER BY ordinal_position`

	rows, err := d.DB().QueryContext(ctx, q, table)
	if err != nil {
		return nil, nil, mapError(err, "failed to fetch columns")
	}
	defer rows.Close()

	var cols []*database.ColumnInfo
	var pks []string

	for rows.Next() {
		var c database.ColumnInfo
		var columnKey, extra string
		if err := rows.Scan(&c.Name, &c.DataType, &c.Nullable, &c.Default, &columnKey, &extra); err != nil {
			return nil, nil, mapError(err, "failed to scan column info")
		}
		c.IsPrimary = columnKey == "PRI"
		c.IsUnique = columnKey == "UNI"
		c.AutoIncrement = strings.Contains(strings.ToLower(extra), "auto_increment")
		if c.IsPrimary {
			pks = append(pks, c.Name)
		}
		cols = append(cols, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, mapError(err, "error iterating columns")
	}

	return cols, pks, nil
}

func (d *Driver) fetchForeignKeys(ctx context.Context, table string) ([]*database.ForeignKey, error) {
	const q = `
		SELECT column_name,
		       referenced_table_name,
		       referenced_column_name
		FROM information_schema.key_column_usage
		WHERE table_schema              = DATABASE()
		  AND table_name                = ?
		  AND referenced_table_name    IS NOT NULL`

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
