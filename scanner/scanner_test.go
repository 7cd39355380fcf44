package scanner

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/wudi/pdfstamp/recovery"
)

func newScanner(t *testing.T, data string, cfg Config) *Scanner {
	t.Helper()
	return New([]byte(data), cfg)
}

func nextToken(t *testing.T, s *Scanner) Token {
	t.Helper()
	tok, err := s.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return tok
}

func TestScanner_BasicTokens(t *testing.T) {
	s := newScanner(t, "%PDF-1.7\n1 0 obj\n<< /Name /Value /Nums [1 2 3] /Flag true /Null null >>\nendobj", Config{})

	tok := nextToken(t, s)
	if tok.Type != TokenNumber || !tok.IsInt || tok.Int != 1 {
		t.Fatalf("expected first token number 1, got %+v", tok)
	}
	tok = nextToken(t, s)
	if tok.Type != TokenNumber || !tok.IsInt || tok.Int != 0 {
		t.Fatalf("expected generation number 0, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "obj" {
		t.Fatalf("expected obj keyword, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenDict {
		t.Fatalf("expected dict start, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Name" {
		t.Fatalf("expected Name key, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Value" {
		t.Fatalf("expected Name value, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Nums" {
		t.Fatalf("expected Nums key, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenArray {
		t.Fatalf("expected array start, got %+v", tok)
	}
	for i := int64(1); i <= 3; i++ {
		tok = nextToken(t, s)
		if tok.Type != TokenNumber || !tok.IsInt || tok.Int != i {
			t.Fatalf("expected array number %d, got %+v", i, tok)
		}
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "]" {
		t.Fatalf("expected array close, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Flag" {
		t.Fatalf("expected Flag key, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenBoolean || !tok.Bool {
		t.Fatalf("expected true boolean, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Null" {
		t.Fatalf("expected Null key, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenNull {
		t.Fatalf("expected null value, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != ">>" {
		t.Fatalf("expected dict close, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Str != "endobj" {
		t.Fatalf("expected endobj, got %+v", tok)
	}
	if _, err := s.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestScanner_NameHexEscapes(t *testing.T) {
	s := newScanner(t, "/A#20B /Lime#23Green", Config{})
	if tok := nextToken(t, s); tok.Str != "A B" {
		t.Fatalf("expected decoded name, got %q", tok.Str)
	}
	if tok := nextToken(t, s); tok.Str != "Lime#Green" {
		t.Fatalf("expected decoded name, got %q", tok.Str)
	}
}

func TestScanner_LiteralStringEscapes(t *testing.T) {
	s := newScanner(t, `(a\(b\)c\n\101 (nested) \\)`, Config{})
	tok := nextToken(t, s)
	if got, want := string(tok.Bytes), "a(b)c\nA (nested) \\"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestScanner_LiteralStringLineContinuation(t *testing.T) {
	s := newScanner(t, "(abc\\\r\ndef)", Config{})
	if tok := nextToken(t, s); string(tok.Bytes) != "abcdef" {
		t.Fatalf("got %q", tok.Bytes)
	}
}

func TestScanner_HexStringOddLength(t *testing.T) {
	s := newScanner(t, "<48 65 6C6C 6F7>", Config{})
	tok := nextToken(t, s)
	if !tok.Hex || string(tok.Bytes) != "Hellop" {
		t.Fatalf("got %+v", tok)
	}
}

func TestScanner_Numbers(t *testing.T) {
	cases := []struct {
		in    string
		isInt bool
		val   float64
	}{
		{"42", true, 42},
		{"-17", true, -17},
		{"+3", true, 3},
		{"3.5", false, 3.5},
		{"-.25", false, -0.25},
		{"4.", false, 4},
		{"--7", false, 7},
	}
	for _, tc := range cases {
		tok := nextToken(t, newScanner(t, tc.in, Config{}))
		if tok.Type != TokenNumber || tok.IsInt != tc.isInt || tok.Number() != tc.val {
			t.Fatalf("%q: got %+v", tc.in, tok)
		}
	}
}

func TestScanner_StreamExactLength(t *testing.T) {
	s := newScanner(t, "stream\nhello\nendstream\nendobj", Config{})
	s.SetNextStreamLength(5)
	tok := nextToken(t, s)
	if tok.Type != TokenStream || string(tok.Bytes) != "hello" {
		t.Fatalf("unexpected payload %+v", tok)
	}
	if tok = nextToken(t, s); tok.Str != "endobj" {
		t.Fatalf("expected endobj after stream, got %+v", tok)
	}
}

func TestScanner_StreamFallbackToEndstream(t *testing.T) {
	s := newScanner(t, "stream\nhello world\r\nendstream endobj", Config{Recovery: recovery.NewLenientStrategy()})
	tok := nextToken(t, s)
	if string(tok.Bytes) != "hello world" {
		t.Fatalf("unexpected payload %q", tok.Bytes)
	}
}

func TestScanner_WrongLengthStrictFails(t *testing.T) {
	s := newScanner(t, "stream\nhello\nendstream", Config{Recovery: recovery.NewStrictStrategy()})
	s.SetNextStreamLength(2)
	if _, err := s.Next(); err == nil {
		t.Fatalf("expected error for wrong stream length")
	}
}

func TestScanner_MaxStringLength(t *testing.T) {
	s := newScanner(t, "(abcdef)", Config{MaxStringLength: 3})
	var se *SyntaxError
	if _, err := s.Next(); !errors.As(err, &se) {
		t.Fatalf("expected SyntaxError, got %v", err)
	}
}

func TestScanner_UnterminatedLiteralString(t *testing.T) {
	if _, err := newScanner(t, "(abc", Config{}).Next(); err == nil {
		t.Fatalf("expected error for unterminated string")
	}
	tok := nextToken(t, newScanner(t, "(abc", Config{Recovery: recovery.NewLenientStrategy()}))
	if string(tok.Bytes) != "abc" {
		t.Fatalf("expected repaired string, got %q", tok.Bytes)
	}
}

type recordRecovery struct{ locs []recovery.Location }

func (r *recordRecovery) OnError(ctx context.Context, err error, loc recovery.Location) recovery.Action {
	r.locs = append(r.locs, loc)
	return recovery.ActionFix
}

func TestScanner_RecoveryContextIncludesObject(t *testing.T) {
	rec := &recordRecovery{}
	s := newScanner(t, "<4G>", Config{Recovery: rec})
	s.SetLocation(recovery.Location{ObjectNum: 7})
	nextToken(t, s)
	if len(rec.locs) != 1 || rec.locs[0].ObjectNum != 7 || rec.locs[0].Component != "scanner:hex" {
		t.Fatalf("unexpected locations %+v", rec.locs)
	}
}
