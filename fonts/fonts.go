// Package fonts provides the fonts text annotations are typeset with: the
// built-in standard fonts and TrueType/OpenType families loaded from disk or
// a URL, plus their embedding into a document.
package fonts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"golang.org/x/image/font/sfnt"
	"golang.org/x/sync/singleflight"

	"github.com/wudi/pdfstamp/observability"
)

// ErrUnknownFamily is returned when a family is neither built in nor
// configured.
var ErrUnknownFamily = errors.New("unknown font family")

// Resource is a fetched font: either a font program or the name of a
// built-in font, with the vertical correction that aligns the first baseline
// with the authored text box.
type Resource struct {
	Family string
	// Data is the TrueType/OpenType program; nil for built-in fonts.
	Data []byte
	// BuiltIn names a standard font when Data is nil.
	BuiltIn    string
	Correction func(size, lineHeight float64) float64
}

// IsBuiltIn reports whether the resource refers to a standard font.
func (r *Resource) IsBuiltIn() bool { return len(r.Data) == 0 && r.BuiltIn != "" }

// Provider fetches fonts by family name.
type Provider interface {
	Fetch(ctx context.Context, family string) (*Resource, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, family string) (*Resource, error)

func (f ProviderFunc) Fetch(ctx context.Context, family string) (*Resource, error) {
	return f(ctx, family)
}

// builtins maps the standard families to their correction divisor.
var builtins = map[string]float64{
	"Courier":     6,
	"Helvetica":   10,
	"Times-Roman": 7,
}

// Correction returns the baseline correction for a family with the given
// divisor: half the leading plus size/divisor. A zero divisor leaves only
// the half-leading term.
func Correction(divisor float64) func(size, lineHeight float64) float64 {
	return func(size, lineHeight float64) float64 {
		c := (size*lineHeight - size) / 2
		if divisor > 0 {
			c += size / divisor
		}
		return c
	}
}

// BuiltIn returns the resource for a standard family, matching names without
// regard to case.
func BuiltIn(family string) (*Resource, bool) {
	for name, k := range builtins {
		if strings.EqualFold(name, family) {
			return &Resource{Family: name, BuiltIn: name, Correction: Correction(k)}, true
		}
	}
	return nil, false
}

// Family configures a font family loaded from a file or a URL.
type Family struct {
	Name    string  `yaml:"name"`
	Path    string  `yaml:"path"`
	URL     string  `yaml:"url"`
	Divisor float64 `yaml:"divisor"`
}

// Library is a Provider backed by the built-in fonts and configured
// families. Loaded font programs are cached; concurrent fetches of the same
// family share one load.
type Library struct {
	families map[string]Family
	client   *http.Client
	log      observability.Logger

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]*Resource
}

type LibraryOption func(*Library)

func WithHTTPClient(c *http.Client) LibraryOption {
	return func(l *Library) { l.client = c }
}

func WithLogger(log observability.Logger) LibraryOption {
	return func(l *Library) {
		if log != nil {
			l.log = log
		}
	}
}

func NewLibrary(families []Family, opts ...LibraryOption) *Library {
	l := &Library{
		families: make(map[string]Family, len(families)),
		client:   http.DefaultClient,
		log:      observability.NopLogger{},
		cache:    make(map[string]*Resource),
	}
	for _, f := range families {
		l.families[strings.ToLower(f.Name)] = f
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Fetch returns the font for family. Configured families take precedence
// over built-in ones of the same name.
func (l *Library) Fetch(ctx context.Context, family string) (*Resource, error) {
	key := strings.ToLower(strings.TrimSpace(family))
	fam, configured := l.families[key]
	if !configured {
		if r, ok := BuiltIn(family); ok {
			return r, nil
		}
		return nil, fmt.Errorf("%w: %q", ErrUnknownFamily, family)
	}

	l.mu.RLock()
	cached, ok := l.cache[key]
	l.mu.RUnlock()
	if ok {
		return cached, nil
	}

	ch := l.group.DoChan(key, func() (interface{}, error) {
		l.mu.RLock()
		cached, ok := l.cache[key]
		l.mu.RUnlock()
		if ok {
			return cached, nil
		}
		data, err := l.load(ctx, fam)
		if err != nil {
			return nil, err
		}
		if _, err := sfnt.Parse(data); err != nil {
			return nil, fmt.Errorf("font %q: %w", fam.Name, err)
		}
		r := &Resource{Family: fam.Name, Data: data, Correction: Correction(fam.Divisor)}
		l.mu.Lock()
		l.cache[key] = r
		l.mu.Unlock()
		l.log.Debug("font loaded", observability.String("family", fam.Name), observability.Int("bytes", len(data)))
		return r, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Resource), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Library) load(ctx context.Context, fam Family) ([]byte, error) {
	switch {
	case fam.Path != "":
		return os.ReadFile(fam.Path)
	case fam.URL != "":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fam.URL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := l.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch font %q: %s", fam.Name, resp.Status)
		}
		return io.ReadAll(resp.Body)
	}
	return nil, fmt.Errorf("font %q has neither path nor url", fam.Name)
}
