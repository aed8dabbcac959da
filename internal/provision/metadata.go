package provision

import (
	"context"
	"time"

	"github.com/koustreak/csvingest/internal/coltype"
	"github.com/koustreak/csvingest/internal/database"
	"github.com/koustreak/csvingest/internal/errs"
	"github.com/koustreak/csvingest/internal/inference"
)

// MetadataTable records one row per ingestion run.
const MetadataTable = "csv_ingest_runs"

// RunRecord is one row of MetadataTable.
type RunRecord struct {
	RunID            string
	Table            string
	Source           string
	Encoding         string
	Delimiter        string
	RowsRead         int64
	RowsLoaded       int64
	RowsRejected     int64
	Chunks           int64
	Status           string
	ValidationPassed bool
	DeadLetter       string
	StartedAt        time.Time
	FinishedAt       time.Time
}

var metadataPlan = &inference.SchemaPlan{
	TableName: MetadataTable,
	Columns: []inference.ColumnProfile{
		{Name: "run_id", Type: coltype.Type{Kind: coltype.Text, MaxLength: 64}},
		{Name: "table_name", Type: coltype.Type{Kind: coltype.Text, MaxLength: 255}},
		{Name: "source", Type: coltype.Type{Kind: coltype.Text, MaxLength: 1000}},
		{Name: "encoding", Type: coltype.Type{Kind: coltype.Text, MaxLength: 50}},
		{Name: "delimiter", Type: coltype.Type{Kind: coltype.Text, MaxLength: 10}},
		{Name: "rows_read", Type: coltype.Type{Kind: coltype.Integer}},
		{Name: "rows_loaded", Type: coltype.Type{Kind: coltype.Integer}},
		{Name: "rows_rejected", Type: coltype.Type{Kind: coltype.Integer}},
		{Name: "chunks", Type: coltype.Type{Kind: coltype.Integer}},
		{Name: "status", Type: coltype.Type{Kind: coltype.Text, MaxLength: 50}},
		{Name: "validation_passed", Type: coltype.Type{Kind: coltype.Boolean}},
		{Name: "dead_letter", Type: coltype.Type{Kind: coltype.Text, MaxLength: 1000}, Nullable: true},
		{Name: "started_at", Type: coltype.Type{Kind: coltype.DateTime}},
		{Name: "finished_at", Type: coltype.Type{Kind: coltype.DateTime}},
	},
}

// MetadataDDL renders the CREATE TABLE statement for MetadataTable.
func MetadataDDL(d database.Dialect) string {
	return CreateTableSQL(d, metadataPlan)
}

// EnsureMetadata creates MetadataTable when it is missing.
func EnsureMetadata(ctx context.Context, db database.DB) error {
	exists, err := db.TableExists(ctx, MetadataTable)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if _, err := db.Exec(ctx, MetadataDDL(db.Dialect())); err != nil && !errs.IsConflict(err) {
		return err
	}
	return nil
}

// RecordRun inserts rec into MetadataTable.
func RecordRun(ctx context.Context, db database.DB, rec RunRecord) error {
	var deadLetter any
	if rec.DeadLetter != "" {
		deadLetter = rec.DeadLetter
	}

	stmts, err := database.Insert(MetadataTable, db.Dialect()).
		Columns(metadataPlan.ColumnNames()...).
		Values([]any{
			rec.RunID, rec.Table, rec.Source, rec.Encoding, rec.Delimiter,
			rec.RowsRead, rec.RowsLoaded, rec.RowsRejected, rec.Chunks,
			rec.Status, rec.ValidationPassed, deadLetter,
			rec.StartedAt.UTC(), rec.FinishedAt.UTC(),
		}).
		Build()
	if err != nil {
		return err
	}
	for _, s := range stmts {
		if _, err := db.Exec(ctx, s.SQL, s.Args...); err != nil {
			return err
		}
	}
	return nil
}
