package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	gojson "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/koustreak/csvingest/internal/config"
	"github.com/koustreak/csvingest/internal/database"
	"github.com/koustreak/csvingest/internal/filestore"
	"github.com/koustreak/csvingest/internal/filestore/minio"
	"github.com/koustreak/csvingest/internal/logger"
	"github.com/koustreak/csvingest/internal/pipeline"

	// Register database drivers
	_ "github.com/koustreak/csvingest/internal/database/mssql"
	_ "github.com/koustreak/csvingest/internal/database/mysql"
	_ "github.com/koustreak/csvingest/internal/database/postgres"
	_ "github.com/koustreak/csvingest/internal/database/sqlite"
)

var version = "0.1.0"

// flags holds every command-line setting. Only flags the user actually set
// override the configuration.
type flags struct {
	csvFile        string
	tableName      string
	configFile     string
	envFile        string
	driver         string
	dsn            string
	chunkSize      int
	workers        int
	ifExists       string
	chunkMethod    string
	strictness     string
	encoding       string
	delimiter      string
	noHeader       bool
	headerRow      int
	schemaFile     string
	reportFormat   string
	skipValidation bool
	strict         bool
	dryRun         bool
	analyzeOnly    bool
	verbose        bool
	output         string
}

func main() {
	f := &flags{}

	root := &cobra.Command{
		Use:   "csvingest",
		Short: "Load loosely structured CSV files into a relational database",
		Long: `csvingest detects a CSV file's encoding, delimiter and header, infers a
column type for every field, provisions the target table, loads the rows in
chunks and validates the result against the source.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&f.configFile, "config-file", "config.yaml", "YAML configuration file; a missing default file is ignored")
	root.PersistentFlags().StringVar(&f.envFile, "env-file", ".env", "dotenv file loaded before the configuration")
	root.PersistentFlags().BoolVarP(&f.verbose, "verbose", "v", false, "Log at debug level")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "csvingest v%s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	loadCmd := &cobra.Command{
		Use:   "load [csv-file]",
		Short: "Analyze, provision, load and validate one CSV file",
		Example: `  csvingest load --csv-file sales.csv --driver postgres --dsn postgres://localhost/ingest
  csvingest load sales.csv --if-exists append --chunk-size 10000 --workers 4
  csvingest load s3://landing/sales.csv --dry-run`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f, args, modeLoad)
		},
	}
	addInputFlags(loadCmd, f)
	loadCmd.Flags().StringVar(&f.driver, "driver", "", "Database driver (postgres, mysql, sqlite, sqlserver)")
	loadCmd.Flags().StringVar(&f.dsn, "dsn", "", "Database connection string")
	loadCmd.Flags().IntVar(&f.chunkSize, "chunk-size", 0, "Rows per chunk")
	loadCmd.Flags().IntVar(&f.workers, "workers", 0, "Chunks loaded concurrently")
	loadCmd.Flags().StringVar(&f.ifExists, "if-exists", "", "Existing table policy: fail, replace or append")
	loadCmd.Flags().StringVar(&f.chunkMethod, "chunk-method", "", "Write strategy: bulk, row or auto")
	loadCmd.Flags().StringVar(&f.reportFormat, "report-format", "", "Validation report format: json, yaml or text")
	loadCmd.Flags().BoolVar(&f.skipValidation, "skip-validation", false, "Do not validate the loaded table")
	loadCmd.Flags().BoolVar(&f.strict, "strict-validation", false, "Exit non-zero when validation fails")
	loadCmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "Print the profile, schema and DDL without touching the database")
	loadCmd.Flags().BoolVar(&f.analyzeOnly, "analyze-only", false, "Stop after analysis and schema inference")
	root.AddCommand(loadCmd)

	analyzeCmd := &cobra.Command{
		Use:   "analyze [csv-file]",
		Short: "Print the detected profile and inferred schema of a CSV file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f, args, modeAnalyze)
		},
	}
	addInputFlags(analyzeCmd, f)
	root.AddCommand(analyzeCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func addInputFlags(cmd *cobra.Command, f *flags) {
	cmd.Flags().StringVar(&f.csvFile, "csv-file", "", "CSV file path or s3://bucket/key")
	cmd.Flags().StringVar(&f.tableName, "table-name", "", "Target table (default: the file's base name)")
	cmd.Flags().StringVar(&f.encoding, "encoding", "", "Input encoding (default: detected)")
	cmd.Flags().StringVar(&f.delimiter, "delimiter", "", "Field delimiter: comma, semicolon, tab or pipe (default: detected)")
	cmd.Flags().BoolVar(&f.noHeader, "no-header", false, "The file has no header row")
	cmd.Flags().IntVar(&f.headerRow, "header-row", 0, "Zero-based index of the header row")
	cmd.Flags().StringVar(&f.schemaFile, "schema-file", "", "YAML or JSON schema replacing type inference")
	cmd.Flags().StringVar(&f.strictness, "strictness", "", "Type inference mode: strict, relaxed or auto")
	cmd.Flags().StringVarP(&f.output, "output", "o", "yaml", "Output format for analysis results: yaml or json")
}

type mode int

const (
	modeLoad mode = iota
	modeAnalyze
)

func run(cmd *cobra.Command, f *flags, args []string, m mode) error {
	ctx := cmd.Context()
	if len(args) == 1 {
		if f.csvFile != "" && f.csvFile != args[0] {
			return fmt.Errorf("input given twice: %q and %q", f.csvFile, args[0])
		}
		f.csvFile = args[0]
	}
	if f.csvFile == "" {
		return fmt.Errorf("an input file is required (--csv-file or positional argument)")
	}

	if err := config.LoadEnvFile(f.envFile); err != nil {
		return err
	}
	path := f.configFile
	if !cmd.Flags().Changed("config-file") {
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	applyFlags(cmd, f, cfg)

	log := logger.New(cfg.LoggerConfig())
	logger.SetGlobal(log)
	ctx = log.WithContext(ctx)

	dryOnly := m == modeAnalyze || f.analyzeOnly || f.dryRun
	if dryOnly {
		if err := validateForAnalysis(cfg); err != nil {
			return err
		}
	} else if err := cfg.Validate(); err != nil {
		return err
	}

	objects, err := openObjects(ctx, cfg)
	if err != nil {
		return err
	}
	if objects != nil {
		defer objects.Close()
	}

	req := pipeline.Request{
		Input:          f.csvFile,
		Table:          f.tableName,
		SchemaFile:     f.schemaFile,
		SkipValidation: f.skipValidation,
	}
	out := cmd.OutOrStdout()

	switch {
	case m == modeAnalyze || f.analyzeOnly:
		res, err := pipeline.New(cfg, nil, objects, log).Analyze(ctx, req)
		if err != nil {
			return err
		}
		return printResult(out, f.output, res)

	case f.dryRun:
		res, err := pipeline.New(cfg, nil, objects, log).DryRun(ctx, req)
		if err != nil {
			return err
		}
		return printResult(out, f.output, res)
	}

	db, err := database.Open(ctx, cfg.DatabaseConfig())
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := pipeline.New(cfg, db, objects, log).Run(ctx, req)
	if res != nil {
		printSummary(out, res)
	}
	return err
}

// applyFlags copies explicitly set flags over cfg.
func applyFlags(cmd *cobra.Command, f *flags, cfg *config.Config) {
	set := cmd.Flags().Changed
	if f.verbose {
		cfg.Logging.Level = "debug"
	}
	if set("driver") {
		cfg.Database.Driver = f.driver
	}
	if set("dsn") {
		cfg.Database.DSN = f.dsn
	}
	if set("chunk-size") {
		cfg.CSV.ChunkSize = f.chunkSize
	}
	if set("workers") {
		cfg.Loader.Workers = f.workers
	}
	if set("if-exists") {
		cfg.Table.IfExists = f.ifExists
	}
	if set("chunk-method") {
		cfg.Loader.ChunkMethod = f.chunkMethod
	}
	if set("strictness") {
		cfg.DataTypes.TypeDetection = f.strictness
	}
	if set("encoding") {
		cfg.CSV.Encoding = f.encoding
	}
	if set("delimiter") {
		cfg.CSV.Delimiter = f.delimiter
	}
	if set("no-header") {
		cfg.CSV.NoHeader = f.noHeader
	}
	if set("header-row") {
		n := f.headerRow
		cfg.CSV.HeaderRow = &n
	}
	if set("report-format") {
		cfg.Validation.ReportFormat = f.reportFormat
	}
	if set("strict-validation") {
		cfg.Validation.Strict = f.strict
	}
}

// validateForAnalysis checks a configuration that will never reach the
// database, so a missing DSN is fine.
func validateForAnalysis(cfg *config.Config) error {
	probe := *cfg
	if probe.Database.DSN == "" {
		probe.Database.DSN = "unused"
	}
	return probe.Validate()
}

func openObjects(ctx context.Context, cfg *config.Config) (filestore.Store, error) {
	sc := cfg.StorageConfig()
	if sc == nil {
		return nil, nil
	}
	store, err := minio.New(ctx, sc)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func printResult(w io.Writer, format string, res *pipeline.Result) error {
	var (
		data []byte
		err  error
	)
	switch format {
	case "json":
		data, err = gojson.MarshalIndent(res, "", "  ")
		data = append(data, '\n')
	default:
		data, err = yaml.Marshal(res)
	}
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
