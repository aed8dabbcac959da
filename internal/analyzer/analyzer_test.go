package analyzer

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/koustreak/csvingest/internal/errs"
	"github.com/koustreak/csvingest/internal/filestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
	xunicode "golang.org/x/text/encoding/unicode"
)

func writeFile(t *testing.T, data []byte) FileSource {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.csv")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return FileSource{Path: path}
}

func encodeAs(t *testing.T, name, s string) []byte {
	t.Helper()
	switch name {
	case "utf-8":
		return []byte(s)
	case "utf-8-sig":
		return append([]byte{0xEF, 0xBB, 0xBF}, s...)
	case "utf-16le":
		b, err := xunicode.UTF16(xunicode.LittleEndian, xunicode.UseBOM).NewEncoder().Bytes([]byte(s))
		require.NoError(t, err)
		return b
	case "utf-16be":
		b, err := xunicode.UTF16(xunicode.BigEndian, xunicode.UseBOM).NewEncoder().Bytes([]byte(s))
		require.NoError(t, err)
		return b
	case "windows-1252":
		b, err := charmap.Windows1252.NewEncoder().Bytes([]byte(s))
		require.NoError(t, err)
		return b
	}
	t.Fatalf("unknown encoding %s", name)
	return nil
}

func sampleCSV(delim string) string {
	rows := [][]string{
		{"id", "name", "city", "score"},
		{"1", "Zoë", "Lyon", "3.5"},
		{"2", "Jörg Müller", "Köln", "4.25"},
		{"3", "Ana", "Porto", ""},
		{"4", "Renée", "Genève", "1.0"},
	}
	var b strings.Builder
	for _, r := range rows {
		b.WriteString(strings.Join(r, delim))
		b.WriteString("\n")
	}
	return b.String()
}

func TestAnalyze_RecoversDelimiterAndEncoding(t *testing.T) {
	encodings := []string{"utf-8", "utf-8-sig", "utf-16le", "utf-16be", "windows-1252"}
	delimiters := []string{",", ";", "\t", "|"}

	for _, enc := range encodings {
		for _, delim := range delimiters {
			t.Run(enc+"/"+delim, func(t *testing.T) {
				src := writeFile(t, encodeAs(t, enc, sampleCSV(delim)))

				profile, sample, err := Analyze(context.Background(), src, Options{})
				require.NoError(t, err)

				assert.Equal(t, enc, profile.Encoding)
				assert.Equal(t, delim, profile.Delimiter)
				assert.True(t, profile.HasHeader)
				assert.Equal(t, 0, profile.HeaderRowIndex)
				assert.Equal(t, []string{"id", "name", "city", "score"}, profile.Columns)
				assert.Equal(t, 4, profile.FieldCount)
				assert.Equal(t, 4, profile.SampleRowCount)
				require.Len(t, sample.Rows, 4)
				assert.Equal(t, "Jörg Müller", sample.Rows[1][1])
			})
		}
	}
}

func TestAnalyze_Headerless(t *testing.T) {
	src := writeFile(t, []byte("1,2.5,2023-01-01\n2,3.5,2023-01-02\n3,4.0,2023-01-03\n"))

	profile, sample, err := Analyze(context.Background(), src, Options{})
	require.NoError(t, err)
	assert.False(t, profile.HasHeader)
	assert.Nil(t, profile.Columns)
	assert.Equal(t, 3, profile.FieldCount)
	assert.Equal(t, 3, profile.SampleRowCount)
	assert.Equal(t, 0, profile.SkipRows())
	assert.Equal(t, []string{"1", "2.5", "2023-01-01"}, sample.Rows[0])
}

func TestAnalyze_Overrides(t *testing.T) {
	data := "# nightly export\n# generated 2024-03-01\nid,name,signup_date\n1,Alice,2023-01-05\n2,Bob,2023-02-11\n3,Cy,2023-03-09\n4,Di,2023-04-01\n"
	src := writeFile(t, []byte(data))

	t.Run("header row index", func(t *testing.T) {
		row := 2
		profile, sample, err := Analyze(context.Background(), src, Options{HeaderRow: &row})
		require.NoError(t, err)
		assert.True(t, profile.HasHeader)
		assert.Equal(t, 2, profile.HeaderRowIndex)
		assert.Equal(t, 3, profile.SkipRows())
		assert.Equal(t, []string{"id", "name", "signup_date"}, profile.Columns)
		assert.Len(t, sample.Rows, 4)
	})

	t.Run("no header", func(t *testing.T) {
		profile, sample, err := Analyze(context.Background(), src, Options{NoHeader: true, Delimiter: "comma"})
		require.NoError(t, err)
		assert.False(t, profile.HasHeader)
		assert.Equal(t, ",", profile.Delimiter)
		assert.Len(t, sample.Rows, 7)
	})

	t.Run("explicit encoding", func(t *testing.T) {
		profile, _, err := Analyze(context.Background(), src, Options{Encoding: "latin1", Delimiter: "tab"})
		require.NoError(t, err)
		assert.Equal(t, "windows-1252", profile.Encoding)
		assert.Equal(t, "\t", profile.Delimiter)
	})

	t.Run("bad overrides", func(t *testing.T) {
		_, _, err := Analyze(context.Background(), src, Options{Encoding: "klingon"})
		assert.True(t, errs.HasCode(err, errs.CodeUndecodableEncoding))

		_, _, err = Analyze(context.Background(), src, Options{Delimiter: "#"})
		assert.True(t, errs.HasCode(err, errs.CodeNoConsistentDelimiter))

		row := 50
		_, _, err = Analyze(context.Background(), src, Options{HeaderRow: &row})
		assert.True(t, errs.HasCode(err, errs.CodeEmptyFile))
	})
}

func TestAnalyze_Failures(t *testing.T) {
	binary := bytes.Repeat([]byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}, 50)

	tests := []struct {
		name string
		data []byte
		code errs.Code
	}{
		{"empty file", nil, errs.CodeEmptyFile},
		{"blank lines only", []byte("\n\n  \n"), errs.CodeEmptyFile},
		{"binary", binary, errs.CodeUndecodableEncoding},
		{"single column prose", []byte("hello world\nfoo bar\nbaz\n"), errs.CodeNoConsistentDelimiter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := writeFile(t, tt.data)
			_, _, err := Analyze(context.Background(), src, Options{})
			require.Error(t, err)
			assert.True(t, errs.IsStage(err, errs.StageAnalysis))
			assert.True(t, errs.HasCode(err, tt.code), err.Error())
			assert.Contains(t, err.Error(), src.Path)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, _, err := Analyze(context.Background(), FileSource{Path: "/nonexistent/x.csv"}, Options{})
		assert.True(t, errs.HasCode(err, errs.CodeUnreadableInput))
		assert.True(t, errs.IsNotFound(err))
	})
}

func TestAnalyze_SampleBoundaries(t *testing.T) {
	var b strings.Builder
	b.WriteString("id,name\n")
	for i := 0; i < 50; i++ {
		b.WriteString("7,Zoë Ångström\n")
	}
	src := writeFile(t, []byte(b.String()))

	profile, sample, err := Analyze(context.Background(), src, Options{SampleSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 10, profile.SampleRowCount)
	assert.Len(t, sample.Rows, 10)

	// Windows that end inside a multi-byte rune still decode as UTF-8.
	for size := 20; size < 60; size++ {
		profile, sample, err := Analyze(context.Background(), src, Options{SampleBytes: size})
		require.NoError(t, err, "window %d", size)
		assert.Equal(t, "utf-8", profile.Encoding, "window %d", size)
		assert.Equal(t, ",", profile.Delimiter, "window %d", size)
		assert.Len(t, sample.Rows, 50, "window %d", size)
	}
}

func TestAnalyze_Deterministic(t *testing.T) {
	src := writeFile(t, []byte(sampleCSV(";")))

	first, _, err := Analyze(context.Background(), src, Options{})
	require.NoError(t, err)
	second, _, err := Analyze(context.Background(), src, Options{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDetectHeader(t *testing.T) {
	tests := []struct {
		name    string
		records [][]string
		want    bool
	}{
		{"text over numbers", [][]string{{"id", "amount"}, {"1", "2.50"}, {"2", "3.75"}}, true},
		{"numbers only", [][]string{{"1", "2"}, {"3", "4"}}, false},
		{"mixed scenario", [][]string{{"id", "name", "signup_date"}, {"1", "Alice", "2023-01-05"}, {"2", "Bob", "not-a-date"}}, true},
		{"all text distinct", [][]string{{"first", "last"}, {"ada", "lovelace"}}, true},
		{"all text repeated", [][]string{{"x", "x"}, {"ada", "lovelace"}}, false},
		{"lone header", [][]string{{"id", "name"}}, true},
		{"lone data row", [][]string{{"1", "Alice"}}, false},
		{"empty header cell", [][]string{{"a", ""}, {"b", "c"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, detectHeader(tt.records))
		})
	}
}

func TestDetectDelimiter_PrefersPriorityOnTie(t *testing.T) {
	d, ok := detectDelimiter("a,b;c\nd,e;f\n")
	require.True(t, ok)
	assert.Equal(t, ',', d)

	d, ok = detectDelimiter("\"x,y\";1\n\"z,w\";2\n\"q,r\";3\n")
	require.True(t, ok)
	assert.Equal(t, ';', d)
}

func TestParseDelimiter(t *testing.T) {
	for in, want := range map[string]rune{",": ',', "Semicolon": ';', `\t`: '\t', "tab": '\t', "|": '|'} {
		got, err := ParseDelimiter(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDelimiter("::")
	assert.True(t, errs.IsInvalidInput(err))
}

func TestPrintableRatio(t *testing.T) {
	assert.Equal(t, 1.0, printableRatio("a,b\r\n\tc"))
	assert.Equal(t, 0.5, printableRatio("a\x00"))
	assert.Equal(t, 0.5, printableRatio("a\ufffd"))
	assert.Equal(t, []byte("ab"), trimPartialRune([]byte("ab\xc3")))
	assert.Equal(t, []byte("a\xc3\xab"), trimPartialRune([]byte("a\xc3\xab")))
}

func TestReader_StreamsDataRows(t *testing.T) {
	src := writeFile(t, encodeAs(t, "utf-16le", sampleCSV("|")))
	profile, _, err := Analyze(context.Background(), src, Options{})
	require.NoError(t, err)

	r, err := Open(context.Background(), src, profile)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []string{"id", "name", "city", "score"}, r.Header())
	var got [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, rec)
	}
	assert.Len(t, got, 4)
	assert.Equal(t, "Genève", got[3][2])
	assert.Equal(t, int64(4), r.Rows())

	n, err := CountRows(context.Background(), src, profile)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

type memoryStore struct {
	objects map[string][]byte
}

type memoryObject struct {
	io.Reader
	info *filestore.ObjectInfo
}

func (o *memoryObject) Close() error                { return nil }
func (o *memoryObject) Info() *filestore.ObjectInfo { return o.info }

func (m *memoryStore) Ping(context.Context) error { return nil }
func (m *memoryStore) Close() error               { return nil }

func (m *memoryStore) GetObject(_ context.Context, bucket, key string) (filestore.Object, error) {
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, errs.New(errs.ErrKindNotFound, "no such key")
	}
	return &memoryObject{Reader: bytes.NewReader(data), info: &filestore.ObjectInfo{Bucket: bucket, Key: key}}, nil
}

func (m *memoryStore) PutObject(_ context.Context, bucket, key string, r io.Reader, _ int64, _ string) (*filestore.ObjectInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	m.objects[bucket+"/"+key] = data
	return &filestore.ObjectInfo{Bucket: bucket, Key: key, Size: int64(len(data))}, nil
}

func (m *memoryStore) EnsureBucket(context.Context, string) error { return nil }

func TestNewSource(t *testing.T) {
	store := &memoryStore{objects: map[string][]byte{"landing/users.csv": []byte(sampleCSV(","))}}

	src, err := NewSource("s3://landing/users.csv", store)
	require.NoError(t, err)
	assert.Equal(t, "s3://landing/users.csv", src.Name())

	profile, _, err := Analyze(context.Background(), src, Options{})
	require.NoError(t, err)
	assert.Equal(t, 4, profile.SampleRowCount)

	_, err = NewSource("s3://landing/users.csv", nil)
	assert.True(t, errs.IsInvalidInput(err))

	missing, err := NewSource("s3://landing/missing.csv", store)
	require.NoError(t, err)
	_, _, err = Analyze(context.Background(), missing, Options{})
	assert.True(t, errs.IsNotFound(err))

	local, err := NewSource("data/users.csv", nil)
	require.NoError(t, err)
	assert.Equal(t, FileSource{Path: "data/users.csv"}, local)
}
