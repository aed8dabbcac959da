package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/koustreak/csvingest/internal/coltype"
	"github.com/koustreak/csvingest/internal/config"
	"github.com/koustreak/csvingest/internal/database"
	"github.com/koustreak/csvingest/internal/database/sqlite"
	"github.com/koustreak/csvingest/internal/errs"
	"github.com/koustreak/csvingest/internal/inference"
	"github.com/koustreak/csvingest/internal/loader"
	"github.com/koustreak/csvingest/internal/logger"
	"github.com/koustreak/csvingest/internal/provision"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.yaml.in/yaml/v3"
)

const signupsCSV = "id,name,signup_date\n1,Alice,2023-01-05\n2,Bob,not-a-date\n"

func openSQLite(t *testing.T) database.DB {
	t.Helper()
	cfg := database.DefaultConfig(":memory:")
	cfg.Driver = database.DriverSQLite
	db, err := sqlite.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func writeCSV(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Driver = string(database.DriverSQLite)
	cfg.Database.DSN = ":memory:"
	cfg.ErrorHandling.ErrorDir = t.TempDir()
	cfg.ErrorHandling.RetryInterval = 0
	cfg.Output.ReportDir = t.TempDir()
	return cfg
}

func newPipeline(cfg *config.Config, db database.DB) *Pipeline {
	p := New(cfg, db, nil, logger.Nop())
	p.newID = func() string { return "run-1" }
	return p
}

// spyDB counts every call that reaches the database.
type spyDB struct {
	database.DB
	calls atomic.Int64
}

func (s *spyDB) Exec(ctx context.Context, q string, args ...any) (int64, error) {
	s.calls.Add(1)
	return s.DB.Exec(ctx, q, args...)
}

func (s *spyDB) Query(ctx context.Context, q string, args ...any) (database.Rows, error) {
	s.calls.Add(1)
	return s.DB.Query(ctx, q, args...)
}

func (s *spyDB) QueryRow(ctx context.Context, q string, args ...any) (database.Row, error) {
	s.calls.Add(1)
	return s.DB.QueryRow(ctx, q, args...)
}

func (s *spyDB) Begin(ctx context.Context) (database.Tx, error) {
	s.calls.Add(1)
	return s.DB.Begin(ctx)
}

func (s *spyDB) TableExists(ctx context.Context, table string) (bool, error) {
	s.calls.Add(1)
	return s.DB.TableExists(ctx, table)
}

func (s *spyDB) InspectTable(ctx context.Context, table string) (*database.TableInfo, error) {
	s.calls.Add(1)
	return s.DB.InspectTable(ctx, table)
}

func count(t *testing.T, db database.DB, q string) int64 {
	t.Helper()
	row, err := db.QueryRow(context.Background(), q)
	require.NoError(t, err)
	n, err := database.ScanInt64(row)
	require.NoError(t, err)
	return n
}

func TestTableNameFor(t *testing.T) {
	tests := []struct {
		location string
		want     string
	}{
		{"data/My Sales.csv", "my_sales"},
		{"/tmp/orders.tsv", "orders"},
		{"s3://landing/in/2024-orders.csv", "col_2024_orders"},
		{"people", "people"},
	}

	for _, tt := range tests {
		t.Run(tt.location, func(t *testing.T) {
			assert.Equal(t, tt.want, TableNameFor(tt.location))
		})
	}
}

func TestAnalyze_IdempotentWithoutDatabase(t *testing.T) {
	path := writeCSV(t, "signups.csv", signupsCSV)
	spy := &spyDB{DB: openSQLite(t)}
	p := newPipeline(testConfig(t), spy)

	render := func() []byte {
		res, err := p.Analyze(context.Background(), Request{Input: path})
		require.NoError(t, err)
		out, err := yaml.Marshal(map[string]any{"profile": res.Profile, "schema": res.Resolution})
		require.NoError(t, err)
		return out
	}

	first, second := render(), render()
	assert.Equal(t, string(first), string(second))
	assert.Zero(t, spy.calls.Load())

	tables, err := spy.DB.ListTables(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tables)
}

func TestDryRun_RendersDDLOnly(t *testing.T) {
	path := writeCSV(t, "signups.csv", signupsCSV)
	spy := &spyDB{DB: openSQLite(t)}

	res, err := newPipeline(testConfig(t), spy).DryRun(context.Background(), Request{Input: path})
	require.NoError(t, err)

	require.NotEmpty(t, res.DDL)
	assert.True(t, strings.HasPrefix(res.DDL[0], `CREATE TABLE "signups"`))
	assert.Contains(t, res.DDL[len(res.DDL)-1], provision.MetadataTable)
	assert.Nil(t, res.Handle)
	assert.Nil(t, res.Summary)
	assert.Zero(t, spy.calls.Load())
}

func TestDryRun_UnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "oracle"
	_, err := newPipeline(cfg, nil).DryRun(context.Background(), Request{Input: writeCSV(t, "s.csv", signupsCSV)})
	assert.True(t, errs.IsInvalidInput(err))
}

func TestRun_SignupsRelaxed(t *testing.T) {
	db := openSQLite(t)
	cfg := testConfig(t)
	cfg.DataTypes.TypeDetection = "relaxed"
	cfg.DataTypes.Tolerance = 0.5

	res, err := newPipeline(cfg, db).Run(context.Background(), Request{Input: writeCSV(t, "signups.csv", signupsCSV)})
	require.NoError(t, err)

	plan := res.Resolution.Plan
	assert.Equal(t, inference.Inferred, res.Resolution.Origin)
	assert.Equal(t, coltype.Date, plan.Column("signup_date").Type.Kind)
	assert.False(t, plan.HasIDColumn(), "source already carries id")

	s := res.Summary
	assert.Equal(t, int64(2), s.RowsRead)
	assert.Equal(t, int64(2), s.RowsLoaded)
	assert.Zero(t, s.RowsRejected)
	assert.Empty(t, s.DeadLetter)
	assert.Equal(t, string(loader.StatusCompleted), res.Status)

	require.NotNil(t, res.Report)
	assert.True(t, res.Report.Passed)
	assert.Equal(t, filepath.Join(cfg.Output.ReportDir, "signups_validation_run-1.json"), res.ReportLocation)
	assert.FileExists(t, res.ReportLocation)

	assert.Equal(t, int64(1), count(t, db, `SELECT COUNT(*) FROM "signups" WHERE "signup_date" IS NULL`))
	assert.Equal(t, int64(1), count(t, db, `SELECT COUNT(*) FROM "csv_ingest_runs" WHERE "run_id" = 'run-1' AND "status" = 'completed'`))
}

func TestRun_SignupsStrictDemotesToText(t *testing.T) {
	cfg := testConfig(t)
	cfg.DataTypes.TypeDetection = "strict"

	res, err := newPipeline(cfg, openSQLite(t)).Run(context.Background(), Request{Input: writeCSV(t, "signups.csv", signupsCSV)})
	require.NoError(t, err)
	assert.Equal(t, coltype.Text, res.Resolution.Plan.Column("signup_date").Type.Kind)
	assert.Equal(t, int64(2), res.Summary.RowsLoaded)
	assert.Zero(t, res.Summary.RowsRejected)
}

func TestRun_AppendConstraintViolation(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	_, err := db.Exec(ctx, `CREATE TABLE "accounts" ("id" INTEGER PRIMARY KEY, "owner" TEXT NOT NULL)`)
	require.NoError(t, err)
	_, err = db.Exec(ctx, `INSERT INTO "accounts" ("id", "owner") VALUES (2, 'existing')`)
	require.NoError(t, err)

	cfg := testConfig(t)
	cfg.Table.IfExists = "append"
	cfg.CSV.ChunkSize = 3

	path := writeCSV(t, "accounts.csv", "id,owner\n1,ann\n2,bob\n3,cid\n")
	res, err := newPipeline(cfg, db).Run(ctx, Request{Input: path})
	require.NoError(t, err)

	s := res.Summary
	assert.Equal(t, int64(2), s.RowsLoaded, "chunk size minus one")
	require.Len(t, s.Rejects, 1)
	assert.Equal(t, loader.KindConstraintViolation, s.Rejects[0].Kind)
	assert.Equal(t, []string{"2", "bob"}, s.Rejects[0].RawRow)
	assert.Equal(t, string(loader.StatusCompletedWithErrors), res.Status)

	want := filepath.Join(cfg.ErrorHandling.ErrorDir, "accounts_errors_run-1.csv")
	assert.Equal(t, want, s.DeadLetter)
	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ConstraintViolation")

	assert.Equal(t, int64(3), count(t, db, `SELECT COUNT(*) FROM "accounts"`))
	assert.True(t, res.Report.Passed)
}

func TestRun_StrictValidationFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Validation.Strict = true
	cfg.Validation.StrictDuplicates = true
	cfg.Validation.ReportFormat = "yaml"

	db := openSQLite(t)
	path := writeCSV(t, "pets.csv", "name,age\nrex,3\nrex,3\nfido,5\n")
	res, err := newPipeline(cfg, db).Run(context.Background(), Request{Input: path, Table: "Pets"})
	require.Error(t, err)
	assert.True(t, errs.IsStage(err, errs.StageValidation))
	assert.True(t, errs.HasCode(err, errs.CodeValidationFailed))

	assert.Equal(t, "pets", res.Handle.Table)
	assert.Equal(t, StatusValidationFailed, res.Status)
	assert.Equal(t, int64(3), res.Summary.RowsLoaded)
	assert.True(t, strings.HasSuffix(res.ReportLocation, "pets_validation_run-1.yaml"))
	assert.Equal(t, int64(1), count(t, db, `SELECT COUNT(*) FROM "csv_ingest_runs" WHERE "status" = 'validation_failed'`))
}

func TestRun_SkipValidation(t *testing.T) {
	res, err := newPipeline(testConfig(t), openSQLite(t)).Run(context.Background(), Request{
		Input:          writeCSV(t, "signups.csv", signupsCSV),
		SkipValidation: true,
	})
	require.NoError(t, err)
	assert.Nil(t, res.Report)
	assert.Empty(t, res.ReportLocation)
}

func TestRun_TableExistsFails(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	_, err := db.Exec(ctx, `CREATE TABLE "signups" ("x" INTEGER)`)
	require.NoError(t, err)

	res, err := newPipeline(testConfig(t), db).Run(ctx, Request{Input: writeCSV(t, "signups.csv", signupsCSV)})
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeTableExists))
	assert.Equal(t, string(loader.StatusFailed), res.Status)
	assert.NotNil(t, res.Profile, "earlier stages are still reported")
	assert.Nil(t, res.Summary)
	assert.Zero(t, count(t, db, `SELECT COUNT(*) FROM "csv_ingest_runs"`))
}

func TestRun_SchemaFileOverride(t *testing.T) {
	schema := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(schema, []byte(`
table_name: members
add_id_column: false
columns:
  - {name: id, type: integer, nullable: false}
  - {name: name, type: "text(20)"}
  - {name: signup_date, type: text}
`), 0o644))

	db := openSQLite(t)
	res, err := newPipeline(testConfig(t), db).Run(context.Background(), Request{
		Input:      writeCSV(t, "signups.csv", signupsCSV),
		SchemaFile: schema,
	})
	require.NoError(t, err)
	assert.Equal(t, inference.Supplied, res.Resolution.Origin)
	assert.Equal(t, "members", res.Handle.Table)
	assert.Equal(t, int64(2), count(t, db, `SELECT COUNT(*) FROM "members"`))
}

func TestRun_NeedsDatabase(t *testing.T) {
	_, err := newPipeline(testConfig(t), nil).Run(context.Background(), Request{Input: "x.csv"})
	assert.True(t, errs.IsInvalidInput(err))
}

func TestRun_MissingInput(t *testing.T) {
	_, err := newPipeline(testConfig(t), openSQLite(t)).Run(context.Background(), Request{Input: filepath.Join(t.TempDir(), "nope.csv")})
	require.Error(t, err)
	assert.True(t, errs.IsStage(err, errs.StageAnalysis))
}
