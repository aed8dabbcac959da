package analyzer

import (
	"bytes"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/koustreak/csvingest/internal/errs"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	xunicode "golang.org/x/text/encoding/unicode"
)

// MinPrintableRatio is the share of printable runes a decoded sample needs
// before its encoding is accepted.
const MinPrintableRatio = 0.95

type codec struct {
	name string
	enc  encoding.Encoding
	bom  []byte
}

var (
	utf8Codec    = codec{name: "utf-8", enc: xunicode.UTF8BOM}
	utf8SigCodec = codec{name: "utf-8-sig", enc: xunicode.UTF8BOM, bom: []byte{0xEF, 0xBB, 0xBF}}
	utf16LECodec = codec{name: "utf-16le", enc: xunicode.UTF16(xunicode.LittleEndian, xunicode.ExpectBOM), bom: []byte{0xFF, 0xFE}}
	utf16BECodec = codec{name: "utf-16be", enc: xunicode.UTF16(xunicode.BigEndian, xunicode.ExpectBOM), bom: []byte{0xFE, 0xFF}}
	cp1252Codec  = codec{name: "windows-1252", enc: charmap.Windows1252}
)

// detectOrder is the fixed candidate list. Windows-1252 decodes any byte
// sequence, so it must stay last.
var detectOrder = []codec{utf8SigCodec, utf16LECodec, utf16BECodec, utf8Codec, cp1252Codec}

// LookupEncoding resolves an encoding name (WHATWG labels such as "latin1"
// or "shift_jis", plus "utf-8-sig", "utf-16le" and "utf-16be") to its
// decoder and canonical name.
func LookupEncoding(name string) (encoding.Encoding, string, error) {
	label := strings.ToLower(strings.TrimSpace(name))
	for _, c := range detectOrder {
		if label == c.name {
			return c.enc, c.name, nil
		}
	}
	switch label {
	case "utf8":
		return utf8Codec.enc, utf8Codec.name, nil
	case "utf-16", "utf16":
		return xunicode.UTF16(xunicode.LittleEndian, xunicode.UseBOM), "utf-16", nil
	}

	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, "", errs.Wrap(errs.ErrKindInvalidInput, "unknown encoding "+name, err)
	}
	canonical, err := htmlindex.Name(enc)
	if err != nil {
		canonical = label
	}
	return enc, canonical, nil
}

// detectEncoding returns the first candidate that decodes sample cleanly
// and reads as mostly printable text, along with the decoded sample.
// truncated means sample is a prefix of a longer stream.
func detectEncoding(sample []byte, truncated bool) (codec, string, bool) {
	for _, c := range detectOrder {
		text, ok := tryDecode(c, sample, truncated)
		if !ok {
			continue
		}
		if printableRatio(text) >= MinPrintableRatio {
			return c, text, true
		}
	}
	return codec{}, "", false
}

func tryDecode(c codec, sample []byte, truncated bool) (string, bool) {
	if c.bom != nil && !bytes.HasPrefix(sample, c.bom) {
		return "", false
	}

	switch c.name {
	case utf8Codec.name, utf8SigCodec.name:
		b := sample
		if truncated {
			b = trimPartialRune(b)
		}
		if !utf8.Valid(b) {
			return "", false
		}
		return strings.TrimPrefix(string(b), "\ufeff"), true
	case utf16LECodec.name, utf16BECodec.name:
		if truncated && len(sample)%2 == 1 {
			sample = sample[:len(sample)-1]
		}
	}

	out, err := c.enc.NewDecoder().Bytes(sample)
	if err != nil {
		return "", false
	}
	return string(out), true
}

// trimPartialRune drops an incomplete UTF-8 sequence cut off at the end of b.
func trimPartialRune(b []byte) []byte {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		c := b[len(b)-i]
		if utf8.RuneStart(c) {
			if !utf8.FullRune(b[len(b)-i:]) {
				return b[:len(b)-i]
			}
			return b
		}
	}
	return b
}

// printableRatio is the share of printable runes in s. Tab, CR and LF
// count as printable; the replacement character does not.
func printableRatio(s string) float64 {
	var total, printable int
	for _, r := range s {
		total++
		if r == utf8.RuneError {
			continue
		}
		if unicode.IsPrint(r) || r == '\t' || r == '\n' || r == '\r' {
			printable++
		}
	}
	if total == 0 {
		return 1
	}
	return float64(printable) / float64(total)
}
