// Package delivery hands a finished document to its destination.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// ContentTypePDF is the MIME type documents are delivered with.
const ContentTypePDF = "application/pdf"

type Sink interface {
	Deliver(ctx context.Context, data []byte, name, mimeType string) error
}

type SinkFunc func(ctx context.Context, data []byte, name, mimeType string) error

func (f SinkFunc) Deliver(ctx context.Context, data []byte, name, mimeType string) error {
	return f(ctx, data, name, mimeType)
}

// baseName reduces a caller-supplied name to a single path element.
func baseName(name string) (string, error) {
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." || base == ".." {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return base, nil
}

// Dir writes each document as a file in a directory. Existing files are
// replaced atomically.
type Dir struct {
	Path string
}

func (d Dir) Deliver(ctx context.Context, data []byte, name, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	base, err := baseName(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(d.Path, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(d.Path, "."+base+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(d.Path, base))
}

// File writes the document to a fixed path, ignoring the delivered name.
type File struct {
	Path string
}

func (f File) Deliver(ctx context.Context, data []byte, _, _ string) error {
	dir, base := filepath.Split(f.Path)
	if dir == "" {
		dir = "."
	}
	return Dir{Path: dir}.Deliver(ctx, data, base, "")
}

// Writer copies the document to W.
type Writer struct {
	W io.Writer
}

func (w Writer) Deliver(ctx context.Context, data []byte, _, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := w.W.Write(data)
	return err
}

// HTTP sends the document as an attachment response.
type HTTP struct {
	W http.ResponseWriter
}

func (h HTTP) Deliver(ctx context.Context, data []byte, name, mimeType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	hdr := h.W.Header()
	hdr.Set("Content-Type", mimeType)
	hdr.Set("Content-Length", strconv.Itoa(len(data)))
	if base, err := baseName(name); err == nil {
		hdr.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": base}))
	}
	h.W.WriteHeader(http.StatusOK)
	_, err := h.W.Write(data)
	return err
}

// Delivery is one recorded call to a Memory sink.
type Delivery struct {
	Data     []byte
	Name     string
	MIMEType string
}

// Memory records deliveries.
type Memory struct {
	mu   sync.Mutex
	list []Delivery
}

func (m *Memory) Deliver(_ context.Context, data []byte, name, mimeType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.list = append(m.list, Delivery{Data: append([]byte(nil), data...), Name: name, MIMEType: mimeType})
	return nil
}

func (m *Memory) Deliveries() []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Delivery(nil), m.list...)
}

// Multi delivers to every sink in order, stopping at the first failure.
type Multi []Sink

func (ms Multi) Deliver(ctx context.Context, data []byte, name, mimeType string) error {
	if len(ms) == 0 {
		return errors.New("no sinks configured")
	}
	for i, s := range ms {
		if err := s.Deliver(ctx, data, name, mimeType); err != nil {
			return fmt.Errorf("sink %d: %w", i, err)
		}
	}
	return nil
}
