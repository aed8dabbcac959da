// Package pipeline runs the ingestion stages in order: analysis, schema
// resolution, provisioning, loading and validation. No stage starts before
// its predecessor has finished.
package pipeline

import (
	"context"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/koustreak/csvingest/internal/analyzer"
	"github.com/koustreak/csvingest/internal/artifact"
	"github.com/koustreak/csvingest/internal/config"
	"github.com/koustreak/csvingest/internal/database"
	"github.com/koustreak/csvingest/internal/errs"
	"github.com/koustreak/csvingest/internal/filestore"
	"github.com/koustreak/csvingest/internal/inference"
	"github.com/koustreak/csvingest/internal/loader"
	"github.com/koustreak/csvingest/internal/logger"
	"github.com/koustreak/csvingest/internal/provision"
	"github.com/koustreak/csvingest/internal/validator"
)

// StatusValidationFailed marks a load whose report did not pass.
const StatusValidationFailed = "validation_failed"

// Request names one input and how to treat it.
type Request struct {
	// Input is a local path or an s3://bucket/key location.
	Input string
	// Table overrides both the schema file's table name and the name
	// derived from Input.
	Table string
	// SchemaFile overrides the configured table.schema_file.
	SchemaFile     string
	SkipValidation bool
}

// Result is everything a run produced. Fields past the last completed stage
// stay nil.
type Result struct {
	RunID          string                 `json:"run_id" yaml:"run_id"`
	Profile        *analyzer.CsvProfile   `json:"profile" yaml:"profile"`
	Resolution     *inference.Resolution  `json:"schema" yaml:"schema"`
	DDL            []string               `json:"ddl,omitempty" yaml:"ddl,omitempty"`
	Handle         *provision.TableHandle `json:"-" yaml:"-"`
	Summary        *loader.LoadSummary    `json:"summary,omitempty" yaml:"summary,omitempty"`
	Report         *validator.Report      `json:"validation,omitempty" yaml:"validation,omitempty"`
	ReportLocation string                 `json:"report_location,omitempty" yaml:"report_location,omitempty"`
	Status         string                 `json:"status,omitempty" yaml:"status,omitempty"`
	StartedAt      time.Time              `json:"started_at" yaml:"started_at"`
	FinishedAt     time.Time              `json:"finished_at" yaml:"finished_at"`
}

// Pipeline wires the stages to one configuration. db may be nil for
// Analyze and DryRun; objects may be nil when no s3:// location is used.
type Pipeline struct {
	cfg     *config.Config
	db      database.DB
	objects filestore.Store
	log     *logger.Logger
	newID   func() string
}

// New creates a Pipeline.
func New(cfg *config.Config, db database.DB, objects filestore.Store, log *logger.Logger) *Pipeline {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.L()
	}
	return &Pipeline{cfg: cfg, db: db, objects: objects, log: log, newID: uuid.NewString}
}

// TableNameFor derives a table name from an input location's base name.
func TableNameFor(location string) string {
	base := filepath.Base(location)
	if _, key, ok := filestore.ParseURI(location); ok {
		base = path.Base(key)
	}
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	return inference.NormalizeName(base)
}

// Analyze profiles the input and resolves its schema plan. It never
// touches the database.
func (p *Pipeline) Analyze(ctx context.Context, req Request) (*Result, error) {
	res := &Result{RunID: p.newID(), StartedAt: time.Now().UTC()}
	if _, err := p.analyze(ctx, req, res); err != nil {
		return res, err
	}
	res.FinishedAt = time.Now().UTC()
	return res, nil
}

// DryRun is Analyze plus the DDL a load would execute, rendered for the
// configured driver without a connection.
func (p *Pipeline) DryRun(ctx context.Context, req Request) (*Result, error) {
	res, err := p.Analyze(ctx, req)
	if err != nil {
		return res, err
	}
	d, ok := database.DialectFor(database.Driver(p.cfg.Database.Driver))
	if !ok {
		return res, errs.Newf(errs.ErrKindInvalidInput, "unknown database driver %q", p.cfg.Database.Driver)
	}
	res.DDL = provision.DDL(d, res.Resolution.Plan, p.cfg.Table.CreateIndexes)
	if p.cfg.Table.CreateMetadata {
		res.DDL = append(res.DDL, provision.MetadataDDL(d))
	}
	return res, nil
}

// Run executes every stage. On failure the returned Result still carries
// whatever the completed stages produced.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if p.db == nil {
		return nil, errs.New(errs.ErrKindInvalidInput, "pipeline has no database")
	}

	res := &Result{RunID: p.newID(), StartedAt: time.Now().UTC()}
	log := p.log.With().Str("run_id", res.RunID).Str("input", req.Input).Logger()
	log.Info("ingestion started")

	src, err := p.analyze(ctx, req, res)
	if err != nil {
		return res, p.fail(ctx, log, res, err)
	}
	plan := res.Resolution.Plan
	log = log.With().Str("table", plan.TableName).Logger()

	if p.cfg.Table.CreateMetadata {
		if err := provision.EnsureMetadata(ctx, p.db); err != nil {
			log.WarnWith("cannot create run metadata table", err, nil)
		}
	}

	h, err := provision.New(p.db, log).Provision(ctx, plan, p.cfg.ProvisionOptions())
	if err != nil {
		return res, p.fail(ctx, log, res, err)
	}
	res.Handle = h
	res.DDL = h.Statements

	sink, err := p.deadLetters(h.Table, res.Profile)
	if err != nil {
		return res, p.fail(ctx, log, res, err)
	}
	s, err := loader.New(p.db, sink, log, p.cfg.LoaderOptions(res.RunID)).Load(ctx, src, res.Profile, h)
	res.Summary = s
	if err != nil {
		return res, p.fail(ctx, log, res, err)
	}
	res.Status = string(s.Status)

	var verr error
	if !req.SkipValidation && p.cfg.Validation.PerformValidation {
		verr = p.validate(ctx, log, src, res)
	}

	res.FinishedAt = time.Now().UTC()
	p.record(ctx, log, res)
	log.InfoWith("ingestion finished", map[string]interface{}{
		"status":        res.Status,
		"rows_loaded":   s.RowsLoaded,
		"rows_rejected": s.RowsRejected,
		"dead_letter":   s.DeadLetter,
	})
	return res, verr
}

// analyze runs the analysis and schema stages into res.
func (p *Pipeline) analyze(ctx context.Context, req Request, res *Result) (analyzer.Source, error) {
	src, err := analyzer.NewSource(req.Input, p.objects)
	if err != nil {
		return nil, errs.Analysis(errs.CodeUnreadableInput, req.Input, "cannot resolve input", err)
	}

	profile, sample, err := analyzer.Analyze(ctx, src, p.cfg.AnalyzerOptions())
	if err != nil {
		return nil, err
	}
	res.Profile = profile
	p.log.Stage("analysis", res.RunID, "").InfoWith("input profiled", map[string]interface{}{
		"encoding":   profile.Encoding,
		"delimiter":  profile.Delimiter,
		"has_header": profile.HasHeader,
		"fields":     profile.FieldCount,
		"sampled":    profile.SampleRowCount,
	})

	opts := p.cfg.InferenceOptions()
	opts.TableName = req.Table
	if opts.TableName == "" {
		opts.TableName = TableNameFor(req.Input)
	}
	schemaFile := req.SchemaFile
	if schemaFile == "" {
		schemaFile = p.cfg.Table.SchemaFile
	}

	r, err := inference.Resolve(profile, sample, schemaFile, opts)
	if err != nil {
		return nil, err
	}
	if req.Table != "" {
		r.Plan.TableName = inference.NormalizeName(req.Table)
	}
	if r.Plan.TableName == "" {
		return nil, errs.Schema(errs.CodeInvalidOverride, req.Input, "no usable table name", nil)
	}
	res.Resolution = r
	p.log.Stage("schema", res.RunID, r.Plan.TableName).InfoWith("schema resolved", map[string]interface{}{
		"origin":  r.Origin.String(),
		"columns": len(r.Plan.Columns),
	})
	return src, nil
}

func (p *Pipeline) deadLetters(table string, profile *analyzer.CsvProfile) (loader.DeadLetterSink, error) {
	eh := p.cfg.ErrorHandling
	if !eh.DeadLetterQueue {
		return nil, nil
	}
	store, err := artifact.NewStore(eh.ErrorDir, p.objects)
	if err != nil {
		return nil, err
	}
	format, err := artifact.ParseFormat(eh.ErrorFileFormat)
	if err != nil {
		return nil, err
	}
	return artifact.NewDeadLetters(store, table, profile.Columns, format), nil
}

// validate runs the validator and saves its report. Only a strict-mode
// failure comes back as an error.
func (p *Pipeline) validate(ctx context.Context, log *logger.Logger, src analyzer.Source, res *Result) error {
	vc := p.cfg.Validation
	in := validator.Input{Handle: res.Handle, Summary: res.Summary, Source: src, Profile: res.Profile}
	report, verr := validator.New(p.db, log).Validate(ctx, in, p.cfg.ValidatorOptions(res.RunID))
	res.Report = report
	if report == nil {
		return verr
	}
	if !report.Passed {
		res.Status = StatusValidationFailed
	}

	if vc.SaveValidationReport {
		loc, err := p.saveReport(ctx, res.Handle.Table, res.RunID, report)
		if err != nil {
			log.ErrorWith("cannot save validation report", err, nil)
		} else {
			res.ReportLocation = loc
			log.InfoWith("validation report saved", map[string]interface{}{"location": loc})
		}
	}
	return verr
}

func (p *Pipeline) saveReport(ctx context.Context, table, runID string, r *validator.Report) (string, error) {
	format, err := validator.ParseFormat(p.cfg.Validation.ReportFormat)
	if err != nil {
		return "", err
	}
	data, err := r.Render(format)
	if err != nil {
		return "", err
	}
	store, err := artifact.NewStore(p.cfg.Output.ReportDir, p.objects)
	if err != nil {
		return "", err
	}
	return store.Put(ctx, artifact.ReportName(table, runID, format.Ext()), data, format.ContentType())
}

// fail stamps res as failed, records the run when a table was reached and
// returns err.
func (p *Pipeline) fail(ctx context.Context, log *logger.Logger, res *Result, err error) error {
	res.Status = string(loader.StatusFailed)
	res.FinishedAt = time.Now().UTC()
	if res.Handle != nil {
		p.record(ctx, log, res)
	}
	fields := map[string]interface{}{}
	if se, ok := errs.AsStage(err); ok {
		fields["stage"] = string(se.Stage)
		fields["code"] = string(se.Code)
		if se.DeadLetter != "" {
			fields["dead_letter"] = se.DeadLetter
		}
	}
	log.ErrorWith("ingestion failed", err, fields)
	return err
}

// record writes the run into the metadata table. Failures are logged only.
func (p *Pipeline) record(ctx context.Context, log *logger.Logger, res *Result) {
	if !p.cfg.Table.CreateMetadata || res.Handle == nil {
		return
	}
	rec := provision.RunRecord{
		RunID:      res.RunID,
		Table:      res.Handle.Table,
		Source:     res.Profile.Source,
		Encoding:   res.Profile.Encoding,
		Delimiter:  res.Profile.Delimiter,
		Status:     res.Status,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
	if s := res.Summary; s != nil {
		rec.RowsRead = s.RowsRead
		rec.RowsLoaded = s.RowsLoaded
		rec.RowsRejected = s.RowsRejected
		rec.Chunks = int64(s.ChunksProcessed)
		rec.DeadLetter = s.DeadLetter
	}
	if res.Report != nil {
		rec.ValidationPassed = res.Report.Passed
	}
	if err := provision.RecordRun(context.WithoutCancel(ctx), p.db, rec); err != nil {
		log.WarnWith("cannot record run metadata", err, nil)
	}
}
