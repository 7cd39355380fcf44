package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wudi/pdfstamp/document"
)

func writeBlankPDF(t *testing.T, path string) {
	t.Helper()
	doc := document.New()
	if _, err := doc.AddPage(200, 100); err != nil {
		t.Fatalf("add page: %v", err)
	}
	out, err := doc.Serialize(context.Background())
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		t.Fatal(err)
	}
}

func parse(t *testing.T, args ...string) options {
	t.Helper()
	fs := flag.NewFlagSet("pdfstamp", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	opts, err := parseFlags(fs, args)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	return opts
}

func TestRunWritesOutput(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.pdf")
	out := filepath.Join(dir, "out.pdf")
	ann := filepath.Join(dir, "a.json")
	writeBlankPDF(t, in)
	os.WriteFile(ann, []byte(`[[{"type":"erase","x":10,"y":10,"width":50,"height":20}]]`), 0o644)

	var stderr bytes.Buffer
	opts := parse(t, "-in", in, "-annotations", ann, "-out", out, "-loglevel", "error")
	if err := run(context.Background(), opts, nil, io.Discard, &stderr); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(stderr.String(), "1 annotations applied") {
		t.Fatalf("unexpected summary %q", stderr.String())
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	doc, err := document.Load(context.Background(), data)
	if err != nil {
		t.Fatalf("load output: %v", err)
	}
	ops, err := doc.Pages()[0].Content(context.Background())
	if err != nil {
		t.Fatalf("content: %v", err)
	}
	found := false
	for _, op := range ops {
		if op.Operator == "re" {
			found = true
		}
	}
	if !found {
		t.Fatalf("no rectangle drawn in %d operations", len(ops))
	}
}

func TestRunStdinStdout(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.pdf")
	writeBlankPDF(t, in)

	var stdout, stderr bytes.Buffer
	opts := parse(t, "-annotations", "-", "-out", "-", "-loglevel", "error", in)
	stdin := strings.NewReader(`[[]]`)
	if err := run(context.Background(), opts, stdin, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !bytes.HasPrefix(stdout.Bytes(), []byte("%PDF-")) {
		t.Fatalf("stdout is not a PDF")
	}
}

func TestRunErrors(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.pdf")
	writeBlankPDF(t, in)
	bad := filepath.Join(dir, "bad.json")
	os.WriteFile(bad, []byte(`{"not":"pages"}`), 0o644)

	tests := []struct {
		name string
		args []string
	}{
		{"missing input", []string{"-in", filepath.Join(dir, "absent.pdf"), "-out", "-"}},
		{"bad annotations", []string{"-in", in, "-annotations", bad, "-out", "-"}},
		{"bad degrade policy", []string{"-in", in, "-degrade", "sometimes", "-out", "-"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := parse(t, tt.args...)
			if err := run(context.Background(), opts, nil, io.Discard, io.Discard); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestParseFlagsRequiresInput(t *testing.T) {
	fs := flag.NewFlagSet("pdfstamp", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if _, err := parseFlags(fs, nil); err == nil {
		t.Fatalf("expected error")
	}
}
