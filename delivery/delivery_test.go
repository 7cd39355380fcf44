package delivery

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func TestDirDeliver(t *testing.T) {
	dir := t.TempDir()
	sink := Dir{Path: dir}
	if err := sink.Deliver(context.Background(), []byte("%PDF-1"), "../../etc/out.pdf", ContentTypePDF); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if err := sink.Deliver(context.Background(), []byte("%PDF-2"), "out.pdf", ContentTypePDF); err != nil {
		t.Fatalf("redeliver: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "out.pdf"))
	if err != nil || string(got) != "%PDF-2" {
		t.Fatalf("read back %q %v", got, err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("temporary files left behind: %v", entries)
	}
	if err := sink.Deliver(context.Background(), nil, "..", ContentTypePDF); err == nil {
		t.Fatalf("expected an invalid name error")
	}
}

func TestHTTPDeliver(t *testing.T) {
	rec := httptest.NewRecorder()
	if err := (HTTP{W: rec}).Deliver(context.Background(), []byte("%PDF"), "report final.pdf", ContentTypePDF); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if ct := rec.Header().Get("Content-Type"); ct != ContentTypePDF {
		t.Fatalf("content type %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="report final.pdf"` {
		t.Fatalf("content disposition %q", cd)
	}
	if rec.Body.String() != "%PDF" || rec.Header().Get("Content-Length") != "4" {
		t.Fatalf("body %q", rec.Body.String())
	}
}

type fakePut struct {
	in   *s3.PutObjectInput
	body []byte
}

func (f *fakePut) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Deliver(t *testing.T) {
	fake := &fakePut{}
	sink := &S3{Client: fake, Bucket: "docs", Prefix: "stamped"}
	if err := sink.Deliver(context.Background(), []byte("%PDF"), "a.pdf", ContentTypePDF); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if *fake.in.Bucket != "docs" || *fake.in.Key != "stamped/a.pdf" || *fake.in.ContentType != ContentTypePDF {
		t.Fatalf("unexpected input %+v", fake.in)
	}
	if !bytes.Equal(fake.body, []byte("%PDF")) {
		t.Fatalf("body %q", fake.body)
	}
}

func TestMultiStopsAtFirstFailure(t *testing.T) {
	var mem Memory
	boom := errors.New("boom")
	calls := 0
	multi := Multi{
		&mem,
		SinkFunc(func(context.Context, []byte, string, string) error { calls++; return boom }),
		SinkFunc(func(context.Context, []byte, string, string) error { calls++; return nil }),
	}
	if err := multi.Deliver(context.Background(), []byte("x"), "x.pdf", ContentTypePDF); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if calls != 1 || len(mem.Deliveries()) != 1 {
		t.Fatalf("calls %d deliveries %d", calls, len(mem.Deliveries()))
	}
}
