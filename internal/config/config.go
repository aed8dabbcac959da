// Package config loads csvingest settings. A YAML file is merged over the
// built-in defaults, CSVINGEST_* environment variables are applied on top,
// and the command line has the final word.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v3"

	"github.com/koustreak/csvingest/internal/analyzer"
	"github.com/koustreak/csvingest/internal/artifact"
	"github.com/koustreak/csvingest/internal/database"
	"github.com/koustreak/csvingest/internal/errs"
	"github.com/koustreak/csvingest/internal/filestore"
	"github.com/koustreak/csvingest/internal/inference"
	"github.com/koustreak/csvingest/internal/loader"
	"github.com/koustreak/csvingest/internal/logger"
	"github.com/koustreak/csvingest/internal/provision"
	"github.com/koustreak/csvingest/internal/validator"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CSVINGEST_"

// Config is the full set of run settings.
type Config struct {
	Database      DatabaseConfig      `yaml:"database"`
	CSV           CSVConfig           `yaml:"csv"`
	Table         TableConfig         `yaml:"table"`
	DataTypes     DataTypesConfig     `yaml:"data_types"`
	Validation    ValidationConfig    `yaml:"validation"`
	ErrorHandling ErrorHandlingConfig `yaml:"error_handling"`
	Loader        LoaderConfig        `yaml:"loader"`
	Logging       LoggingConfig       `yaml:"logging"`
	Storage       StorageConfig       `yaml:"storage"`
	Output        OutputConfig        `yaml:"output"`
}

// DatabaseConfig selects and tunes the target database. Durations are in
// seconds.
type DatabaseConfig struct {
	Driver         string `yaml:"driver"`
	DSN            string `yaml:"dsn"`
	AutoCreateDB   bool   `yaml:"auto_create_db"`
	ConnectTimeout int    `yaml:"connect_timeout"`
	QueryTimeout   int    `yaml:"query_timeout"`
	PoolSize       int    `yaml:"pool_size"`
	PoolRecycle    int    `yaml:"pool_recycle"`
}

// CSVConfig controls structure analysis and chunking. "auto" leaves the
// delimiter or encoding to detection.
type CSVConfig struct {
	SampleSize  int    `yaml:"sample_size"`
	SampleBytes int    `yaml:"sample_bytes"`
	ChunkSize   int    `yaml:"chunk_size"`
	Delimiter   string `yaml:"delimiter"`
	Encoding    string `yaml:"encoding"`
	NoHeader    bool   `yaml:"no_header"`
	HeaderRow   *int   `yaml:"header_row"`
}

type TableConfig struct {
	IfExists       string   `yaml:"if_exists"`
	AddIDColumn    bool     `yaml:"add_id_column"`
	IDColumnName   string   `yaml:"id_column_name"`
	CreateIndexes  bool     `yaml:"create_indexes"`
	Indexes        []string `yaml:"indexes"`
	CreateMetadata bool     `yaml:"create_metadata"`
	SchemaFile     string   `yaml:"schema_file"`
}

type DataTypesConfig struct {
	TextMaxLength int     `yaml:"text_max_length"`
	TypeDetection string  `yaml:"type_detection"`
	Tolerance     float64 `yaml:"tolerance"`
}

type ValidationConfig struct {
	PerformValidation    bool     `yaml:"perform_validation"`
	ValidationQueries    []string `yaml:"validation_queries"`
	ValidationThreshold  float64  `yaml:"validation_threshold"`
	NullTolerance        float64  `yaml:"null_tolerance"`
	StrictDuplicates     bool     `yaml:"strict_duplicates"`
	Strict               bool     `yaml:"strict"`
	SampleRows           int      `yaml:"sample_rows"`
	SaveValidationReport bool     `yaml:"save_validation_report"`
	ReportFormat         string   `yaml:"report_format"`
}

// ErrorHandlingConfig controls retries and the dead-letter file.
// RetryInterval is in seconds; a negative MaxErrorRows means unlimited.
type ErrorHandlingConfig struct {
	DeadLetterQueue bool   `yaml:"dead_letter_queue"`
	MaxErrorRows    int    `yaml:"max_error_rows"`
	RetryCount      int    `yaml:"retry_count"`
	RetryInterval   int    `yaml:"retry_interval"`
	ErrorFileFormat string `yaml:"error_file_format"`
	ErrorDir        string `yaml:"error_dir"`
}

type LoaderConfig struct {
	ChunkMethod string `yaml:"chunk_method"`
	Workers     int    `yaml:"workers"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	TimeFormat string `yaml:"time_format"`
}

// StorageConfig points at the object store used for s3:// inputs and
// artifact destinations. An empty Endpoint disables it.
type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Region    string `yaml:"region"`
}

// OutputConfig says where validation reports go: a directory or an
// s3://bucket/prefix location.
type OutputConfig struct {
	ReportDir string `yaml:"report_dir"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:         string(database.DriverPostgres),
			AutoCreateDB:   true,
			ConnectTimeout: 10,
			QueryTimeout:   300,
			PoolSize:       5,
			PoolRecycle:    3600,
		},
		CSV: CSVConfig{
			SampleSize:  analyzer.DefaultSampleSize,
			SampleBytes: analyzer.DefaultSampleBytes,
			ChunkSize:   loader.DefaultChunkSize,
			Delimiter:   "auto",
			Encoding:    "auto",
		},
		Table: TableConfig{
			IfExists:       string(provision.PolicyFail),
			AddIDColumn:    true,
			IDColumnName:   inference.DefaultIDColumn,
			CreateIndexes:  true,
			CreateMetadata: true,
		},
		DataTypes: DataTypesConfig{
			TextMaxLength: inference.DefaultTextMaxLength,
			TypeDetection: string(inference.ModeAuto),
		},
		Validation: ValidationConfig{
			PerformValidation:    true,
			ValidationQueries:    checkNames(validator.DefaultChecks),
			ValidationThreshold:  validator.DefaultThreshold,
			NullTolerance:        validator.DefaultNullTolerance,
			SampleRows:           validator.DefaultSampleRows,
			SaveValidationReport: true,
			ReportFormat:         string(validator.FormatJSON),
		},
		ErrorHandling: ErrorHandlingConfig{
			DeadLetterQueue: true,
			MaxErrorRows:    loader.DefaultMaxErrors,
			RetryCount:      loader.DefaultMaxRetries,
			RetryInterval:   int(loader.DefaultRetryBackoff / time.Second),
			ErrorFileFormat: string(artifact.FormatCSV),
			ErrorDir:        "errors",
		},
		Loader: LoaderConfig{
			ChunkMethod: string(loader.StrategyAuto),
			Workers:     1,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			TimeFormat: "rfc3339",
		},
		Output: OutputConfig{
			ReportDir: "reports",
		},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, errs.Wrap(errs.ErrKindNotFound, "config file not found: "+path, err)
			}
			return nil, errs.Wrap(errs.ErrKindUnknown, "cannot read config file "+path, err)
		}
		if err := cfg.Merge(data); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Merge decodes a YAML document over cfg. Keys missing from data keep
// their current values.
func (c *Config) Merge(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return errs.Wrap(errs.ErrKindInvalidInput, "invalid config file", err)
	}
	return nil
}

// LoadEnvFile loads KEY=VALUE pairs from the given .env files into the
// process environment. Variables already set are left alone and missing
// files are skipped.
func LoadEnvFile(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return errs.Wrap(errs.ErrKindInvalidInput, "cannot load env file "+p, err)
		}
	}
	return nil
}

// ApplyEnv overrides settings from CSVINGEST_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"DB_DRIVER":          &c.Database.Driver,
		"DB_DSN":             &c.Database.DSN,
		"CSV_DELIMITER":      &c.CSV.Delimiter,
		"CSV_ENCODING":       &c.CSV.Encoding,
		"TABLE_IF_EXISTS":    &c.Table.IfExists,
		"SCHEMA_FILE":        &c.Table.SchemaFile,
		"TYPE_DETECTION":     &c.DataTypes.TypeDetection,
		"REPORT_FORMAT":      &c.Validation.ReportFormat,
		"ERROR_DIR":          &c.ErrorHandling.ErrorDir,
		"ERROR_FILE_FORMAT":  &c.ErrorHandling.ErrorFileFormat,
		"CHUNK_METHOD":       &c.Loader.ChunkMethod,
		"LOG_LEVEL":          &c.Logging.Level,
		"LOG_FORMAT":         &c.Logging.Format,
		"STORAGE_ENDPOINT":   &c.Storage.Endpoint,
		"STORAGE_ACCESS_KEY": &c.Storage.AccessKey,
		"STORAGE_SECRET_KEY": &c.Storage.SecretKey,
		"STORAGE_REGION":     &c.Storage.Region,
		"REPORT_DIR":         &c.Output.ReportDir,
	}
	ints := map[string]*int{
		"CHUNK_SIZE":     &c.CSV.ChunkSize,
		"SAMPLE_SIZE":    &c.CSV.SampleSize,
		"MAX_ERROR_ROWS": &c.ErrorHandling.MaxErrorRows,
		"RETRY_COUNT":    &c.ErrorHandling.RetryCount,
		"RETRY_INTERVAL": &c.ErrorHandling.RetryInterval,
		"WORKERS":        &c.Loader.Workers,
	}
	bools := map[string]*bool{
		"DB_AUTO_CREATE":     &c.Database.AutoCreateDB,
		"STORAGE_USE_SSL":    &c.Storage.UseSSL,
		"PERFORM_VALIDATION": &c.Validation.PerformValidation,
		"STRICT_VALIDATION":  &c.Validation.Strict,
	}

	for k, dst := range strs {
		if v, ok := lookup(EnvPrefix + k); ok {
			*dst = v
		}
	}
	for k, dst := range ints {
		if v, ok := lookup(EnvPrefix + k); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return errs.Wrap(errs.ErrKindInvalidInput, EnvPrefix+k+" must be an integer", err)
			}
			*dst = n
		}
	}
	for k, dst := range bools {
		if v, ok := lookup(EnvPrefix + k); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return errs.Wrap(errs.ErrKindInvalidInput, EnvPrefix+k+" must be a boolean", err)
			}
			*dst = b
		}
	}
	if v, ok := lookup(EnvPrefix + "THRESHOLD"); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return errs.Wrap(errs.ErrKindInvalidInput, EnvPrefix+"THRESHOLD must be a number", err)
		}
		c.Validation.ValidationThreshold = f
	}
	return nil
}

// Validate rejects settings no run could use.
func (c *Config) Validate() error {
	var bad []string
	check := func(err error) {
		if err != nil {
			bad = append(bad, err.Error())
		}
	}

	if c.Database.DSN == "" {
		bad = append(bad, "database.dsn is required")
	}
	if _, ok := database.DialectFor(database.Driver(c.Database.Driver)); !ok {
		bad = append(bad, "database.driver "+strconv.Quote(c.Database.Driver)+" is not supported")
	}
	if c.CSV.ChunkSize <= 0 {
		bad = append(bad, "csv.chunk_size must be positive")
	}
	if c.CSV.SampleSize <= 0 {
		bad = append(bad, "csv.sample_size must be positive")
	}
	if c.CSV.HeaderRow != nil && *c.CSV.HeaderRow < 0 {
		bad = append(bad, "csv.header_row must not be negative")
	}
	if d := c.CSV.Delimiter; !isAuto(d) {
		_, err := analyzer.ParseDelimiter(d)
		check(err)
	}
	if c.Loader.Workers <= 0 {
		bad = append(bad, "loader.workers must be positive")
	}
	if c.ErrorHandling.RetryCount < 0 {
		bad = append(bad, "error_handling.retry_count must not be negative")
	}
	if c.ErrorHandling.RetryInterval < 0 {
		bad = append(bad, "error_handling.retry_interval must not be negative")
	}
	if t := c.Validation.ValidationThreshold; t < 0 || t > 100 {
		bad = append(bad, "validation.validation_threshold must be between 0 and 100")
	}

	_, err := provision.ParsePolicy(c.Table.IfExists)
	check(err)
	_, err = inference.ParseMode(c.DataTypes.TypeDetection)
	check(err)
	_, err = loader.ParseStrategy(c.Loader.ChunkMethod)
	check(err)
	_, err = artifact.ParseFormat(c.ErrorHandling.ErrorFileFormat)
	check(err)
	_, err = validator.ParseFormat(c.Validation.ReportFormat)
	check(err)
	_, err = validator.ParseChecks(c.Validation.ValidationQueries)
	check(err)

	if len(bad) > 0 {
		return errs.New(errs.ErrKindInvalidInput, "invalid configuration: "+strings.Join(bad, "; "))
	}
	return nil
}

// DatabaseConfig converts the database section.
func (c *Config) DatabaseConfig() *database.Config {
	dc := database.DefaultConfig(c.Database.DSN)
	dc.Driver = database.Driver(c.Database.Driver)
	dc.AutoCreateDB = c.Database.AutoCreateDB
	if c.Database.PoolSize > 0 {
		dc.MaxConns = int32(c.Database.PoolSize)
	}
	if c.Database.PoolRecycle > 0 {
		dc.MaxConnLifetime = seconds(c.Database.PoolRecycle)
	}
	if c.Database.ConnectTimeout > 0 {
		dc.ConnectTimeout = seconds(c.Database.ConnectTimeout)
	}
	if c.Database.QueryTimeout > 0 {
		dc.QueryTimeout = seconds(c.Database.QueryTimeout)
	}
	// Every worker holds a connection for its chunk transaction.
	if w := int32(c.Loader.Workers); w > dc.MaxConns {
		dc.MaxConns = w
	}
	return dc
}

// StorageConfig converts the storage section; nil when no endpoint is set.
func (c *Config) StorageConfig() *filestore.Config {
	if c.Storage.Endpoint == "" {
		return nil
	}
	fc := filestore.DefaultConfig(c.Storage.Endpoint, c.Storage.AccessKey, c.Storage.SecretKey)
	fc.UseSSL = c.Storage.UseSSL
	fc.Region = c.Storage.Region
	return fc
}

func (c *Config) LoggerConfig() *logger.Config {
	lc := logger.DefaultConfig()
	lc.Level = c.Logging.Level
	lc.Format = c.Logging.Format
	lc.TimeFormat = c.Logging.TimeFormat
	return lc
}

func (c *Config) AnalyzerOptions() analyzer.Options {
	o := analyzer.Options{
		SampleSize:  c.CSV.SampleSize,
		SampleBytes: c.CSV.SampleBytes,
		NoHeader:    c.CSV.NoHeader,
		HeaderRow:   c.CSV.HeaderRow,
	}
	if !isAuto(c.CSV.Encoding) {
		o.Encoding = c.CSV.Encoding
	}
	if !isAuto(c.CSV.Delimiter) {
		o.Delimiter = c.CSV.Delimiter
	}
	return o
}

// InferenceOptions converts the table and data_types sections. The table
// name is left to the caller.
func (c *Config) InferenceOptions() inference.Options {
	mode, _ := inference.ParseMode(c.DataTypes.TypeDetection)
	return inference.Options{
		Mode:          mode,
		Tolerance:     c.DataTypes.Tolerance,
		TextMaxLength: c.DataTypes.TextMaxLength,
		AddIDColumn:   c.Table.AddIDColumn,
		IDColumn:      c.Table.IDColumnName,
		Indexes:       c.Table.Indexes,
		AutoIndex:     c.Table.CreateIndexes,
	}
}

func (c *Config) ProvisionOptions() provision.Options {
	policy, _ := provision.ParsePolicy(c.Table.IfExists)
	return provision.Options{
		Policy:        policy,
		CreateIndexes: c.Table.CreateIndexes,
	}
}

func (c *Config) LoaderOptions(runID string) loader.Options {
	strategy, _ := loader.ParseStrategy(c.Loader.ChunkMethod)
	mode, _ := inference.ParseMode(c.DataTypes.TypeDetection)
	return loader.Options{
		RunID:        runID,
		ChunkSize:    c.CSV.ChunkSize,
		Strategy:     strategy,
		Workers:      c.Loader.Workers,
		MaxErrors:    c.ErrorHandling.MaxErrorRows,
		MaxRetries:   c.ErrorHandling.RetryCount,
		RetryBackoff: seconds(c.ErrorHandling.RetryInterval),
		Mode:         mode,
	}
}

func (c *Config) ValidatorOptions(runID string) validator.Options {
	checks, _ := validator.ParseChecks(c.Validation.ValidationQueries)
	return validator.Options{
		RunID:            runID,
		Checks:           checks,
		Threshold:        c.Validation.ValidationThreshold,
		NullTolerance:    c.Validation.NullTolerance,
		StrictDuplicates: c.Validation.StrictDuplicates,
		Strict:           c.Validation.Strict,
		SampleRows:       c.Validation.SampleRows,
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func isAuto(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || strings.EqualFold(s, "auto")
}

func checkNames(checks []validator.Check) []string {
	out := make([]string, len(checks))
	for i, c := range checks {
		out[i] = string(c)
	}
	return out
}
