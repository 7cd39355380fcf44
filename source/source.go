// Package source reads the bytes of annotation files: inline data, files
// under a directory, uploaded multipart parts and S3 objects.
package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/wudi/pdfstamp/annotation"
)

// ErrIO is wrapped by every read failure.
var ErrIO = errors.New("unreadable file")

// ErrUnsupported is returned for locators no configured reader handles.
var ErrUnsupported = fmt.Errorf("%w: unsupported locator", ErrIO)

type Reader interface {
	ReadBytes(ctx context.Context, f annotation.File) ([]byte, error)
}

// ReaderFunc adapts a function to Reader.
type ReaderFunc func(ctx context.Context, f annotation.File) ([]byte, error)

func (fn ReaderFunc) ReadBytes(ctx context.Context, f annotation.File) ([]byte, error) {
	return fn(ctx, f)
}

// Mux returns inline data as is and dispatches locators by scheme: "s3" and
// "part" go to the matching reader, anything without a scheme is a path.
type Mux struct {
	Dir   Reader
	S3    Reader
	Parts Reader
}

func (m Mux) ReadBytes(ctx context.Context, f annotation.File) ([]byte, error) {
	if len(f.Data) > 0 {
		return f.Data, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var r Reader
	switch scheme(f.Locator) {
	case "":
		r = m.Dir
	case "s3":
		r = m.S3
	case "part":
		r = m.Parts
	}
	if f.Locator == "" || r == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, f.Locator)
	}
	return r.ReadBytes(ctx, f)
}

func scheme(locator string) string {
	i := strings.Index(locator, ":")
	if i <= 1 {
		// no scheme, or a Windows drive letter
		return ""
	}
	return locator[:i]
}

// Dir reads path locators relative to Root. Paths may not leave Root.
type Dir struct {
	Root string
}

func (d Dir) ReadBytes(ctx context.Context, f annotation.File) ([]byte, error) {
	rel := filepath.FromSlash(strings.TrimPrefix(f.Locator, "file:"))
	if !filepath.IsLocal(rel) {
		return nil, fmt.Errorf("%w: path %q escapes %s", ErrIO, f.Locator, d.Root)
	}
	data, err := os.ReadFile(filepath.Join(d.Root, rel))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return data, nil
}

// Parts holds named uploads, read through "part:<name>" locators.
type Parts struct {
	mu    sync.RWMutex
	parts map[string][]byte
}

func NewParts() *Parts {
	return &Parts{parts: make(map[string][]byte)}
}

func (p *Parts) Put(name string, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.parts[name] = data
}

func (p *Parts) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.parts)
}

func (p *Parts) ReadBytes(_ context.Context, f annotation.File) ([]byte, error) {
	name := strings.TrimPrefix(f.Locator, "part:")
	p.mu.RLock()
	data, ok := p.parts[name]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no uploaded part %q", ErrIO, name)
	}
	return data, nil
}
