package provision

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/koustreak/csvingest/internal/coltype"
	"github.com/koustreak/csvingest/internal/database"
	"github.com/koustreak/csvingest/internal/database/sqlite"
	"github.com/koustreak/csvingest/internal/errs"
	"github.com/koustreak/csvingest/internal/inference"
	"github.com/koustreak/csvingest/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) database.DB {
	t.Helper()
	cfg := database.DefaultConfig(":memory:")
	cfg.Driver = database.DriverSQLite
	db, err := sqlite.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func usersPlan() *inference.SchemaPlan {
	return &inference.SchemaPlan{
		TableName:   "users",
		AddIDColumn: true,
		IDColumn:    "id",
		Indexes:     []string{"email", "bio"},
		Columns: []inference.ColumnProfile{
			{Name: "email", Type: coltype.Type{Kind: coltype.Text, MaxLength: 100}},
			{Name: "age", Type: coltype.Type{Kind: coltype.Integer}, Nullable: true},
			{Name: "score", Type: coltype.Type{Kind: coltype.Decimal, Precision: 5, Scale: 2}, Nullable: true},
			{Name: "active", Type: coltype.Type{Kind: coltype.Boolean}},
			{Name: "joined", Type: coltype.Type{Kind: coltype.Date}, Formats: []string{"2006-01-02"}},
			{Name: "seen_at", Type: coltype.Type{Kind: coltype.DateTime}, Nullable: true},
			{Name: "bio", Type: coltype.Type{Kind: coltype.Text}, Nullable: true},
		},
	}
}

func TestCreateTableSQL(t *testing.T) {
	want := `CREATE TABLE "users" (
    "id" BIGSERIAL PRIMARY KEY,
    "email" VARCHAR(100) NOT NULL,
    "age" BIGINT,
    "score" DECIMAL(5,2),
    "active" BOOLEAN NOT NULL,
    "joined" DATE NOT NULL,
    "seen_at" TIMESTAMP,
    "bio" TEXT
)`
	assert.Equal(t, want, CreateTableSQL(database.DialectPostgres, usersPlan()))

	mysql := CreateTableSQL(database.DialectMySQL, usersPlan())
	assert.Contains(t, mysql, "`id` BIGINT AUTO_INCREMENT PRIMARY KEY")
	assert.Contains(t, mysql, "`seen_at` DATETIME")
	assert.Contains(t, mysql, "`bio` LONGTEXT")
	assert.True(t, strings.HasSuffix(mysql, ") DEFAULT CHARSET=utf8mb4"))

	mssql := CreateTableSQL(database.DialectSQLServer, usersPlan())
	assert.Contains(t, mssql, "[id] BIGINT IDENTITY(1,1) PRIMARY KEY")
	assert.Contains(t, mssql, "[active] BIT NOT NULL")
	assert.Contains(t, mssql, "[email] NVARCHAR(100) NOT NULL")
	assert.Contains(t, mssql, "[bio] NVARCHAR(MAX)")

	lite := CreateTableSQL(database.DialectSQLite, usersPlan())
	assert.Contains(t, lite, `"id" INTEGER PRIMARY KEY AUTOINCREMENT`)
	assert.Contains(t, lite, `"age" INTEGER`)

	noID := usersPlan()
	noID.AddIDColumn = false
	assert.NotContains(t, CreateTableSQL(database.DialectPostgres, noID), "BIGSERIAL")
}

func TestCreateIndexSQL(t *testing.T) {
	pg := CreateIndexSQL(database.DialectPostgres, usersPlan())
	assert.Equal(t, []string{
		`CREATE INDEX "idx_users_email" ON "users" ("email")`,
		`CREATE INDEX "idx_users_bio" ON "users" ("bio")`,
	}, pg)

	// Unbounded text cannot be indexed on MySQL.
	assert.Len(t, CreateIndexSQL(database.DialectMySQL, usersPlan()), 1)

	long := strings.Repeat("x", 80)
	assert.Len(t, IndexName(long, "col"), 63)
	assert.Equal(t, "idx_t_c", IndexName("t", "c"))

	assert.Len(t, DDL(database.DialectSQLite, usersPlan(), true), 3)
	assert.Len(t, DDL(database.DialectSQLite, usersPlan(), false), 1)
}

func TestTypeFromSQL(t *testing.T) {
	tests := []struct {
		in   string
		want coltype.Kind
	}{
		{"bigint", coltype.Integer},
		{"int4", coltype.Integer},
		{"tinyint", coltype.Integer},
		{"boolean", coltype.Boolean},
		{"bit", coltype.Boolean},
		{"numeric", coltype.Decimal},
		{"double precision", coltype.Decimal},
		{"DECIMAL(10,2)", coltype.Decimal},
		{"timestamp without time zone", coltype.DateTime},
		{"datetime2", coltype.DateTime},
		{"date", coltype.Date},
		{"character varying", coltype.Text},
		{"VARCHAR(255)", coltype.Text},
		{"interval", coltype.Text},
		{"jsonb", coltype.Text},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TypeFromSQL(tt.in).Kind, tt.in)
	}
	assert.Equal(t, 255, TypeFromSQL("VARCHAR(255)").MaxLength)
	assert.Equal(t, coltype.Type{Kind: coltype.Decimal, Precision: 10, Scale: 2}, TypeFromSQL("DECIMAL(10,2)"))
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("Append")
	require.NoError(t, err)
	assert.Equal(t, PolicyAppend, p)

	p, err = ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyFail, p)

	_, err = ParsePolicy("merge")
	assert.True(t, errs.IsInvalidInput(err))
}

func TestProvision_Policies(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	p := New(db, logger.Nop())

	h, err := p.Provision(ctx, usersPlan(), Options{Policy: PolicyFail, CreateIndexes: true})
	require.NoError(t, err)
	assert.True(t, h.Created)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6}, h.Fields)
	assert.Len(t, h.Statements, 3)

	info, err := db.InspectTable(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "email", "age", "score", "active", "joined", "seen_at", "bio"}, info.ColumnNames())
	assert.True(t, info.Column("id").AutoIncrement)

	_, err = p.Provision(ctx, usersPlan(), Options{Policy: PolicyFail})
	require.Error(t, err)
	assert.True(t, errs.IsStage(err, errs.StageProvision))
	assert.True(t, errs.HasCode(err, errs.CodeTableExists))

	_, err = db.Exec(ctx, `INSERT INTO "users" ("email", "active", "joined") VALUES ('a@x', 1, '2023-01-01')`)
	require.NoError(t, err)

	h, err = p.Provision(ctx, usersPlan(), Options{Policy: PolicyReplace})
	require.NoError(t, err)
	assert.True(t, h.Created)
	assert.Equal(t, `DROP TABLE "users"`, h.Statements[0])
	n, err := CountRows(ctx, db, "users")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestProvision_AppendAdoptsExistingColumns(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)

	_, err := db.Exec(ctx, `CREATE TABLE "users" (
		"id" INTEGER PRIMARY KEY AUTOINCREMENT,
		"email" VARCHAR(100) NOT NULL UNIQUE,
		"age" INTEGER,
		"legacy" TEXT
	)`)
	require.NoError(t, err)
	_, err = db.Exec(ctx, `INSERT INTO "users" ("email", "age") VALUES ('a@x', 3), ('b@x', 4)`)
	require.NoError(t, err)

	source := &inference.SchemaPlan{
		TableName:   "users",
		AddIDColumn: true,
		IDColumn:    "id",
		Columns: []inference.ColumnProfile{
			{Name: "age", Type: coltype.Type{Kind: coltype.Text, MaxLength: 10}, Stats: inference.SampleStats{Sampled: 5}},
			{Name: "email", Type: coltype.Type{Kind: coltype.Text, MaxLength: 50}},
			{Name: "nickname", Type: coltype.Type{Kind: coltype.Text, MaxLength: 10}},
		},
	}

	h, err := New(db, logger.Nop()).Provision(ctx, source, Options{Policy: PolicyAppend, CreateIndexes: true})
	require.NoError(t, err)
	assert.False(t, h.Created)
	assert.Empty(t, h.Statements)
	assert.Equal(t, int64(2), h.BaselineRows)
	assert.Equal(t, []string{"email", "age"}, h.InsertColumns())
	assert.Equal(t, []int{1, 0}, h.Fields)
	assert.False(t, h.Plan.HasIDColumn())

	age := h.Plan.Column("age")
	assert.Equal(t, coltype.Integer, age.Type.Kind, "the table's real type wins")
	assert.True(t, age.Nullable)
	assert.Equal(t, 5, age.Stats.Sampled)
	assert.False(t, h.Plan.Column("email").Nullable)
	assert.Equal(t, 100, h.Plan.Column("email").Type.MaxLength)
}

func TestProvision_AppendByPosition(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)

	_, err := db.Exec(ctx, `CREATE TABLE "points" ("x" INTEGER, "y" INTEGER)`)
	require.NoError(t, err)

	source := &inference.SchemaPlan{
		TableName: "points",
		Columns: []inference.ColumnProfile{
			{Name: "column_1", Type: coltype.Type{Kind: coltype.Integer}},
			{Name: "column_2", Type: coltype.Type{Kind: coltype.Integer}},
			{Name: "column_3", Type: coltype.Type{Kind: coltype.Integer}},
		},
	}
	h, err := New(db, logger.Nop()).Provision(ctx, source, Options{Policy: PolicyAppend})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, h.InsertColumns())
	assert.Equal(t, []int{0, 1}, h.Fields)
}

func TestProvision_AppendCreatesMissingTable(t *testing.T) {
	db := openSQLite(t)
	h, err := New(db, logger.Nop()).Provision(context.Background(), usersPlan(), Options{Policy: PolicyAppend})
	require.NoError(t, err)
	assert.True(t, h.Created)
	assert.Equal(t, PolicyAppend, h.Policy)
}

func TestProvision_InvalidPlan(t *testing.T) {
	db := openSQLite(t)
	plan := usersPlan()
	plan.Columns = append(plan.Columns, inference.ColumnProfile{Name: "EMAIL", Type: coltype.Type{Kind: coltype.Text}})

	_, err := New(db, logger.Nop()).Provision(context.Background(), plan, Options{})
	assert.True(t, errs.HasCode(err, errs.CodeDDLFailed))

	exists, err := db.TableExists(context.Background(), "users")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMetadata(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)

	require.NoError(t, EnsureMetadata(ctx, db))
	require.NoError(t, EnsureMetadata(ctx, db))

	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, RecordRun(ctx, db, RunRecord{
		RunID:        "run-1",
		Table:        "users",
		Source:       "users.csv",
		Encoding:     "utf-8",
		Delimiter:    ",",
		RowsRead:     10,
		RowsLoaded:   9,
		RowsRejected: 1,
		Chunks:       1,
		Status:       "completed_with_errors",
		StartedAt:    start,
		FinishedAt:   start.Add(time.Second),
	}))

	n, err := CountRows(ctx, db, MetadataTable)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	row, err := db.QueryRow(ctx, `SELECT "status" FROM "csv_ingest_runs" WHERE "dead_letter" IS NULL`)
	require.NoError(t, err)
	var status string
	require.NoError(t, row.Scan(&status))
	assert.Equal(t, "completed_with_errors", status)
}
