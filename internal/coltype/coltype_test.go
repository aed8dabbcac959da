package coltype

import (
	"testing"

	"github.com/koustreak/csvingest/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.yaml.in/yaml/v3"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Type
	}{
		{"integer", Type{Kind: Integer}},
		{"BIGINT", Type{Kind: Integer}},
		{"decimal(10,2)", Type{Kind: Decimal, Precision: 10, Scale: 2}},
		{"numeric( 12 , 4 )", Type{Kind: Decimal, Precision: 12, Scale: 4}},
		{"bool", Type{Kind: Boolean}},
		{"date", Type{Kind: Date}},
		{"timestamp", Type{Kind: DateTime}},
		{"text(255)", Type{Kind: Text, MaxLength: 255}},
		{"varchar(50)", Type{Kind: Text, MaxLength: 50}},
		{"text", Type{Kind: Text}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "blob", "decimal(40,2)", "decimal(4,6)", "text(1,2)", "int;drop"} {
		_, err := Parse(bad)
		assert.True(t, errs.IsInvalidInput(err), bad)
	}
}

func TestType_StringRoundTrip(t *testing.T) {
	for _, typ := range []Type{
		{Kind: Integer},
		{Kind: Decimal, Precision: 9, Scale: 3},
		{Kind: Text, MaxLength: 100},
		{Kind: Text},
		{Kind: DateTime},
	} {
		parsed, err := Parse(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, parsed)
	}
	assert.Equal(t, "text", Type{Kind: Unknown}.String())
	assert.True(t, Type{Kind: Text}.IsLargeText())
	assert.False(t, Type{Kind: Text, MaxLength: 10}.IsLargeText())
}

func TestType_YAML(t *testing.T) {
	var doc struct {
		Type Type `yaml:"type"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("type: decimal(8,2)\n"), &doc))
	assert.Equal(t, Type{Kind: Decimal, Precision: 8, Scale: 2}, doc.Type)

	out, err := yaml.Marshal(doc)
	require.NoError(t, err)
	assert.Equal(t, "type: decimal(8,2)\n", string(out))
}

func TestProbe(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
	}{
		{"", Unknown},
		{"  ", Unknown},
		{"yes", Boolean},
		{"FALSE", Boolean},
		{"1", Integer},
		{"-42", Integer},
		{"007", Integer},
		{"3.14", Decimal},
		{".5", Decimal},
		{"1e5", Text},
		{"2023-01-05", Date},
		{"05.01.2023", Date},
		{"Jan 5, 2023", Date},
		{"2023-01-05 10:30:00", DateTime},
		{"2023-01-05T10:30:00Z", DateTime},
		{"not-a-date", Text},
		{"Alice", Text},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Probe(tt.in), tt.in)
	}
}

func TestDecimalDigits(t *testing.T) {
	tests := []struct {
		in    string
		whole int
		frac  int
		ok    bool
	}{
		{"123.45", 3, 2, true},
		{"-0.001", 1, 3, true},
		{"000120", 3, 0, true},
		{"5.", 1, 0, true},
		{"-", 0, 0, false},
		{"--5", 0, 0, false},
		{"+-1", 0, 0, false},
		{"+7", 1, 0, true},
		{"1.2.3", 0, 0, false},
		{"12a", 0, 0, false},
	}

	for _, tt := range tests {
		whole, frac, ok := DecimalDigits(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.whole, whole, tt.in)
		assert.Equal(t, tt.frac, frac, tt.in)
	}
}

func TestDecimalLiteral(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"12345678901234567890.25", "12345678901234567890.25", true},
		{" -0.001 ", "-0.001", true},
		{"+42", "42", true},
		{".5", "0.5", true},
		{"-5.", "-5", true},
		{"--5", "", false},
		{"1e3", "", false},
	}

	for _, tt := range tests {
		got, ok := DecimalLiteral(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseBool(t *testing.T) {
	v, ok, numeric := ParseBool(" Y ")
	assert.True(t, v)
	assert.True(t, ok)
	assert.False(t, numeric)

	v, ok, numeric = ParseBool("0")
	assert.False(t, v)
	assert.True(t, ok)
	assert.True(t, numeric)

	_, ok, _ = ParseBool("maybe")
	assert.False(t, ok)
}

func TestMatchLayout(t *testing.T) {
	layout, ts, ok := MatchLayout(DateLayouts, "13/01/2023")
	require.True(t, ok)
	assert.Equal(t, "02/01/2006", layout)
	assert.Equal(t, 13, ts.Day())

	layout, _, ok = MatchLayout(DateLayouts, "01/13/2023")
	require.True(t, ok)
	assert.Equal(t, "01/02/2006", layout)

	_, _, ok = MatchLayout(DateLayouts, "2023-01-05 10:00:00")
	assert.False(t, ok)
}
