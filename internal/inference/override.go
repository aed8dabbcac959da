package inference

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/koustreak/csvingest/internal/analyzer"
	"github.com/koustreak/csvingest/internal/coltype"
	"github.com/koustreak/csvingest/internal/errs"
	"go.yaml.in/yaml/v3"
)

// overrideFile is the on-disk schema format. JSON documents parse too.
//
//	table_name: users
//	add_id_column: false
//	indexes: [email]
//	columns:
//	  - name: email
//	    type: text(255)
//	    nullable: false
//	  - name: signup_date
//	    type: date
//	    format: "02/01/2006"
type overrideFile struct {
	TableName   string           `yaml:"table_name"`
	AddIDColumn *bool            `yaml:"add_id_column"`
	IDColumn    string           `yaml:"id_column"`
	Indexes     []string         `yaml:"indexes"`
	Columns     []overrideColumn `yaml:"columns"`
}

type overrideColumn struct {
	Name     string       `yaml:"name"`
	Type     coltype.Type `yaml:"type"`
	Nullable *bool        `yaml:"nullable"`
	Format   string       `yaml:"format"`
}

// Resolve returns the supplied plan when schemaFile is set and an inferred
// one otherwise. The two are never merged.
func Resolve(profile *analyzer.CsvProfile, sample *analyzer.Sample, schemaFile string, opts Options) (*Resolution, error) {
	if schemaFile != "" {
		plan, err := LoadOverride(schemaFile, profile, opts)
		if err != nil {
			return nil, err
		}
		return &Resolution{Origin: Supplied, Plan: plan}, nil
	}

	plan, err := Infer(profile, sample, opts)
	if err != nil {
		return nil, err
	}
	return &Resolution{Origin: Inferred, Plan: plan}, nil
}

// LoadOverride reads a schema file and checks it against the profiled file.
func LoadOverride(path string, profile *analyzer.CsvProfile, opts Options) (*SchemaPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Schema(errs.CodeInvalidOverride, path, "cannot read schema file", err)
	}
	return ParseOverride(data, path, profile, opts)
}

// ParseOverride decodes a schema document. name labels errors.
func ParseOverride(data []byte, name string, profile *analyzer.CsvProfile, opts Options) (*SchemaPlan, error) {
	opts = opts.withDefaults()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc overrideFile
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, errs.Schema(errs.CodeInvalidOverride, name, "cannot parse schema file", err)
	}
	if len(doc.Columns) == 0 {
		return nil, errs.Schema(errs.CodeInvalidOverride, name, "schema file lists no columns", nil)
	}
	if profile != nil && len(doc.Columns) != profile.FieldCount {
		return nil, errs.Schema(errs.CodeOverrideMismatch, name,
			fmt.Sprintf("schema file has %d columns, input has %d", len(doc.Columns), profile.FieldCount), nil)
	}

	plan := &SchemaPlan{
		TableName:   NormalizeName(opts.TableName),
		AddIDColumn: opts.AddIDColumn,
		IDColumn:    NormalizeName(opts.IDColumn),
		Columns:     make([]ColumnProfile, len(doc.Columns)),
	}
	if doc.TableName != "" {
		plan.TableName = NormalizeName(doc.TableName)
	}
	if doc.AddIDColumn != nil {
		plan.AddIDColumn = *doc.AddIDColumn
	}
	if doc.IDColumn != "" {
		plan.IDColumn = NormalizeName(doc.IDColumn)
	}

	for i, c := range doc.Columns {
		col := ColumnProfile{
			Name:       NormalizeName(c.Name),
			SourceName: c.Name,
			Type:       c.Type,
			Nullable:   c.Nullable == nil || *c.Nullable,
		}
		if col.Type.Kind == coltype.Unknown {
			return nil, errs.Schema(errs.CodeInvalidOverride, name,
				fmt.Sprintf("column %d (%s) has no type", i+1, c.Name), nil)
		}
		switch {
		case c.Format != "":
			col.Formats = []string{c.Format}
		case col.Type.Kind == coltype.Date:
			col.Formats = coltype.DateLayouts
		case col.Type.Kind == coltype.DateTime:
			col.Formats = append(append([]string{}, coltype.DateTimeLayouts...), coltype.DateLayouts...)
		}
		plan.Columns[i] = col
	}

	for _, idx := range doc.Indexes {
		plan.Indexes = append(plan.Indexes, NormalizeName(idx))
	}
	if len(plan.Indexes) == 0 {
		plan.Indexes = resolveIndexes(plan, opts)
	}

	if err := plan.Validate(); err != nil {
		return nil, errs.Schema(errs.CodeInvalidOverride, name, "schema file is inconsistent", err)
	}
	return plan, nil
}
