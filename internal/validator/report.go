package validator

import (
	"bytes"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	gojson "github.com/goccy/go-json"
	"github.com/koustreak/csvingest/internal/errs"
	"go.yaml.in/yaml/v3"
)

// Status is the outcome of one check or of a whole report.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusWarning Status = "warning"
	StatusInfo    Status = "info"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

// CheckResult is one check in a report. Score is set for ratio-scored
// checks and is compared against the report threshold.
type CheckResult struct {
	Name     Check    `json:"name" yaml:"name"`
	Status   Status   `json:"status" yaml:"status"`
	Passed   bool     `json:"passed" yaml:"passed"`
	Observed any      `json:"observed,omitempty" yaml:"observed,omitempty"`
	Expected any      `json:"expected,omitempty" yaml:"expected,omitempty"`
	Score    *float64 `json:"score,omitempty" yaml:"score,omitempty"`
	Message  string   `json:"message" yaml:"message"`
	Details  any      `json:"details,omitempty" yaml:"details,omitempty"`
}

// Report is the ordered result of a validation run.
type Report struct {
	RunID       string        `json:"run_id" yaml:"run_id"`
	Table       string        `json:"table" yaml:"table"`
	Passed      bool          `json:"passed" yaml:"passed"`
	Status      Status        `json:"status" yaml:"status"`
	Threshold   float64       `json:"threshold" yaml:"threshold"`
	Checks      []CheckResult `json:"checks" yaml:"checks"`
	GeneratedAt time.Time     `json:"generated_at" yaml:"generated_at"`
}

// Check returns the result for name, or nil.
func (r *Report) Check(name Check) *CheckResult {
	for i := range r.Checks {
		if r.Checks[i].Name == name {
			return &r.Checks[i]
		}
	}
	return nil
}

// Failed lists the checks that did not pass.
func (r *Report) Failed() []Check {
	var out []Check
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c.Name)
		}
	}
	return out
}

// settle derives the overall status: any failure fails the report;
// otherwise errors, then warnings, colour it.
func (r *Report) settle() {
	r.Passed = true
	r.Status = StatusPassed
	var errored, warned bool
	for _, c := range r.Checks {
		if !c.Passed {
			r.Passed = false
		}
		switch c.Status {
		case StatusError:
			errored = true
		case StatusWarning:
			warned = true
		}
	}
	switch {
	case !r.Passed && !errored:
		r.Status = StatusFailed
	case errored:
		r.Status = StatusError
	case warned:
		r.Status = StatusWarning
	}
}

// Format is a report encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatText Format = "text"
)

// ParseFormat validates a report format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatYAML, FormatText:
		return f, nil
	case "yml":
		return FormatYAML, nil
	case "", "table":
		return FormatText, nil
	}
	return "", errs.Newf(errs.ErrKindInvalidInput, "unknown report format %q (want json, yaml or text)", s)
}

// Ext is the file extension for reports in format f.
func (f Format) Ext() string {
	if f == FormatText {
		return "txt"
	}
	return string(f)
}

// ContentType is the MIME type for reports in format f.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatYAML:
		return "application/yaml"
	}
	return "text/plain"
}

// Render encodes r in format f.
func (r *Report) Render(f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		out, err := gojson.MarshalIndent(r, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(out, '\n'), nil
	case FormatYAML:
		return yaml.Marshal(r)
	}
	return r.renderText(), nil
}

func (r *Report) renderText() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Validation of %s (run %s): %s\n\n", r.Table, r.RunID, strings.ToUpper(string(r.Status)))

	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CHECK\tSTATUS\tOBSERVED\tEXPECTED\tSCORE\tMESSAGE")
	for _, c := range r.Checks {
		score := "-"
		if c.Score != nil {
			score = fmt.Sprintf("%.2f%%", *c.Score)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			c.Name, c.Status, cell(c.Observed), cell(c.Expected), score, c.Message)
	}
	tw.Flush()
	return buf.Bytes()
}

func cell(v any) string {
	switch n := v.(type) {
	case nil:
		return "-"
	case int64:
		return humanize.Comma(n)
	case int:
		return humanize.Comma(int64(n))
	case float64:
		return fmt.Sprintf("%.4f", n)
	case string:
		return n
	}
	return "..."
}
