package xref

import (
	"context"
	"errors"
	"io"

	"github.com/wudi/pdfstamp/filters"
	"github.com/wudi/pdfstamp/ir/raw"
	"github.com/wudi/pdfstamp/recovery"
	"github.com/wudi/pdfstamp/scanner"
)

// Repair scans the entire file to reconstruct the xref table.
// It looks for "<num> <gen> obj" patterns and "trailer" dictionaries.
func Repair(ctx context.Context, data []byte, cfg Config) (*Table, error) {
	if cfg.Filters == nil {
		cfg.Filters = filters.Standard(filters.Limits{})
	}
	s := scanner.New(data, scanner.Config{Recovery: lenient{}})
	t := newTable()
	t.Repaired = true
	offsets := make(map[int]Entry)
	var lastTrailer *raw.DictObj
	var window [2]scanner.Token
	filled := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tok, err := s.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// skip the offending byte and keep scanning
			if serr := s.Seek(s.Position() + 1); serr != nil {
				break
			}
			filled = 0
			continue
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "obj" && filled == 2 &&
			window[0].Type == scanner.TokenNumber && window[0].IsInt &&
			window[1].Type == scanner.TokenNumber && window[1].IsInt {
			// later definitions override earlier ones, matching incremental updates
			offsets[int(window[0].Int)] = Entry{Kind: EntryInUse, Offset: window[0].Pos, Gen: int(window[1].Int)}
			filled = 0
			continue
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "trailer" {
			if obj, err := raw.NewReader(s, nil).ReadObject(); err == nil {
				if dict, ok := obj.(*raw.DictObj); ok {
					lastTrailer = dict
				}
			}
			filled = 0
			continue
		}
		window[0] = window[1]
		window[1] = tok
		if filled < 2 {
			filled++
		}
	}

	if len(offsets) == 0 {
		return nil, errors.New("repair failed: no objects found")
	}
	for num, e := range offsets {
		t.entries[num] = e
	}

	// objects packed in object streams and the catalog need a look inside
	var catalog *raw.RefObj
	rd := raw.NewReader(scanner.New(data, scanner.Config{Recovery: lenient{}}), nil)
	for num, e := range offsets {
		if err := rd.Reset(e.Offset); err != nil {
			continue
		}
		_, obj, err := rd.ReadIndirect()
		if err != nil {
			continue
		}
		switch v := obj.(type) {
		case *raw.StreamObj:
			typ, _ := v.Dict.Name("Type")
			switch typ {
			case "ObjStm":
				t.indexObjectStream(ctx, cfg.Filters, num, v)
			case "XRef":
				if lastTrailer == nil {
					lastTrailer = v.Dict
				}
			}
		case *raw.DictObj:
			if typ, _ := v.Name("Type"); typ == "Catalog" {
				ref := raw.Ref(num, e.Gen)
				catalog = &ref
			}
		}
	}

	trailer := raw.Dict()
	if lastTrailer != nil {
		for _, k := range []string{"Root", "Info", "ID", "Encrypt"} {
			if v, ok := lastTrailer.Get(k); ok {
				trailer.Set(k, v)
			}
		}
	}
	if _, ok := trailer.Get("Root"); !ok {
		if catalog == nil {
			return nil, errors.New("repair failed: no document catalog")
		}
		trailer.Set("Root", *catalog)
	}
	t.Trailer = trailer
	t.Trailer.Set("Size", raw.NumberInt(int64(t.Size())))
	t.Sections = 1
	return t, nil
}

func (t *Table) indexObjectStream(ctx context.Context, p *filters.Pipeline, streamNum int, s *raw.StreamObj) {
	data, err := p.DecodeStream(ctx, raw.Direct, s)
	if err != nil {
		return
	}
	n, _ := s.Dict.Int("N")
	sc := scanner.New(data, scanner.Config{})
	for i := 0; i < int(n); i++ {
		numTok, err := sc.Next()
		if err != nil {
			return
		}
		if _, err := sc.Next(); err != nil {
			return
		}
		if numTok.Type != scanner.TokenNumber {
			return
		}
		num := int(numTok.Int)
		if _, exists := t.entries[num]; !exists {
			t.entries[num] = Entry{Kind: EntryCompressed, Stream: streamNum, Index: i}
		}
	}
}

// lenient repairs every scanner problem while rebuilding the table.
type lenient struct{}

func (lenient) OnError(context.Context, error, recovery.Location) recovery.Action {
	return recovery.ActionFix
}
