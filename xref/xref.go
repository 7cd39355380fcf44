package xref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/wudi/pdfstamp/filters"
	"github.com/wudi/pdfstamp/ir/raw"
	"github.com/wudi/pdfstamp/recovery"
	"github.com/wudi/pdfstamp/scanner"
)

type EntryKind int

const (
	EntryFree EntryKind = iota
	EntryInUse
	EntryCompressed
)

// Entry locates one object. Offset is valid for EntryInUse; Stream and Index
// locate compressed objects inside an object stream.
type Entry struct {
	Kind   EntryKind
	Offset int64
	Gen    int
	Stream int
	Index  int
}

// Table is the merged cross-reference data of every revision of a file.
type Table struct {
	entries map[int]Entry
	// Trailer is the newest trailer, completed with keys only older trailers carry.
	Trailer *raw.DictObj
	// StartXRef is the offset of the newest section, the /Prev of an update.
	StartXRef int64
	// Stream reports whether the newest section is an xref stream.
	Stream bool
	// Repaired is set when the table was rebuilt by scanning the file.
	Repaired bool
	// Sections counts the revisions that were merged.
	Sections int
}

func newTable() *Table {
	return &Table{entries: make(map[int]Entry)}
}

func (t *Table) Lookup(objNum int) (Entry, bool) {
	e, ok := t.entries[objNum]
	if !ok || e.Kind == EntryFree {
		return Entry{}, false
	}
	return e, true
}

// Objects returns the in-use object numbers in ascending order.
func (t *Table) Objects() []int {
	out := make([]int, 0, len(t.entries))
	for k, e := range t.entries {
		if e.Kind != EntryFree {
			out = append(out, k)
		}
	}
	sort.Ints(out)
	return out
}

// Size is one past the highest object number in use or declared.
func (t *Table) Size() int {
	size := 0
	if t.Trailer != nil {
		if v, ok := t.Trailer.Int("Size"); ok {
			size = int(v)
		}
	}
	for k := range t.entries {
		if k+1 > size {
			size = k + 1
		}
	}
	return size
}

// add keeps the first entry seen for an object: sections are read newest first.
func (t *Table) add(num int, e Entry) {
	if _, exists := t.entries[num]; exists {
		return
	}
	t.entries[num] = e
}

func (t *Table) mergeTrailer(d *raw.DictObj) {
	if t.Trailer == nil {
		t.Trailer = raw.Clone(d).(*raw.DictObj)
		return
	}
	for _, k := range d.Keys() {
		if k == "Prev" || k == "XRefStm" {
			continue
		}
		if _, ok := t.Trailer.Get(k); !ok {
			t.Trailer.Set(k, d.KV[k])
		}
	}
}

type Config struct {
	MaxDepth int
	Recovery recovery.Strategy
	Filters  *filters.Pipeline
}

// Resolve reads the cross-reference chain starting at the last startxref.
func Resolve(ctx context.Context, data []byte, cfg Config) (*Table, error) {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 64
	}
	if cfg.Filters == nil {
		cfg.Filters = filters.Standard(filters.Limits{})
	}
	start, err := findStartXRef(data)
	if err != nil {
		return nil, err
	}
	r := &resolver{data: data, cfg: cfg, table: newTable(), seen: map[int64]bool{}}
	r.table.StartXRef = start
	if err := r.section(ctx, start, 0, true); err != nil {
		return nil, err
	}
	if r.table.Trailer == nil {
		return nil, errors.New("no trailer found")
	}
	if _, ok := r.table.Trailer.Get("Root"); !ok {
		return nil, errors.New("trailer has no /Root")
	}
	return r.table, nil
}

func findStartXRef(data []byte) (int64, error) {
	idx := bytes.LastIndex(data, []byte("startxref"))
	if idx < 0 {
		return 0, errors.New("startxref not found")
	}
	s := scanner.New(data[idx+len("startxref"):], scanner.Config{})
	tok, err := s.Next()
	if err != nil || tok.Type != scanner.TokenNumber || !tok.IsInt {
		return 0, errors.New("startxref offset missing")
	}
	if tok.Int <= 0 || tok.Int >= int64(len(data)) {
		return 0, fmt.Errorf("xref offset out of range: %d", tok.Int)
	}
	return tok.Int, nil
}

type resolver struct {
	data  []byte
	cfg   Config
	table *Table
	seen  map[int64]bool
}

func (r *resolver) section(ctx context.Context, offset int64, depth int, newest bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if depth > r.cfg.MaxDepth {
		return errors.New("xref chain too deep")
	}
	if r.seen[offset] {
		return nil
	}
	r.seen[offset] = true
	if offset < 0 || offset >= int64(len(r.data)) {
		return fmt.Errorf("xref offset out of range: %d", offset)
	}

	s := scanner.New(r.data, scanner.Config{})
	if err := s.Seek(offset); err != nil {
		return err
	}
	tok, err := s.Next()
	if err != nil {
		return fmt.Errorf("read xref at %d: %w", offset, err)
	}
	var trailer *raw.DictObj
	if tok.Type == scanner.TokenKeyword && tok.Str == "xref" {
		trailer, err = r.readTable(s)
		if err != nil {
			return fmt.Errorf("xref table at %d: %w", offset, err)
		}
		if newest {
			r.table.Stream = false
		}
		r.table.mergeTrailer(trailer)
		if stm, ok := trailer.Int("XRefStm"); ok {
			if _, err := r.readStreamAt(ctx, stm); err != nil {
				return fmt.Errorf("hybrid xref stream at %d: %w", stm, err)
			}
		}
	} else {
		trailer, err = r.readStreamAt(ctx, offset)
		if err != nil {
			return err
		}
		if newest {
			r.table.Stream = true
		}
		r.table.mergeTrailer(trailer)
	}
	r.table.Sections++

	if prev, ok := trailer.Int("Prev"); ok {
		return r.section(ctx, prev, depth+1, false)
	}
	return nil
}

func (r *resolver) readTable(s *scanner.Scanner) (*raw.DictObj, error) {
	for {
		tok, err := s.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "trailer" {
			obj, err := raw.NewReader(s, nil).ReadObject()
			if err != nil {
				return nil, fmt.Errorf("trailer: %w", err)
			}
			dict, ok := obj.(*raw.DictObj)
			if !ok {
				return nil, errors.New("trailer is not a dictionary")
			}
			return dict, nil
		}
		countTok, err := s.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type != scanner.TokenNumber || countTok.Type != scanner.TokenNumber {
			return nil, fmt.Errorf("invalid subsection header at offset %d", tok.Pos)
		}
		first, count := int(tok.Int), int(countTok.Int)
		for i := 0; i < count; i++ {
			offTok, err := s.Next()
			if err != nil {
				return nil, err
			}
			genTok, err := s.Next()
			if err != nil {
				return nil, err
			}
			kind, err := s.Next()
			if err != nil {
				return nil, err
			}
			if offTok.Type != scanner.TokenNumber || genTok.Type != scanner.TokenNumber || kind.Type != scanner.TokenKeyword {
				return nil, fmt.Errorf("invalid xref entry at offset %d", offTok.Pos)
			}
			e := Entry{Kind: EntryFree, Offset: offTok.Int, Gen: int(genTok.Int)}
			if kind.Str == "n" {
				e.Kind = EntryInUse
			}
			// object 0 is always the head of the free list
			if first+i == 0 {
				continue
			}
			r.table.add(first+i, e)
		}
	}
}

func (r *resolver) readStreamAt(ctx context.Context, offset int64) (*raw.DictObj, error) {
	s := scanner.New(r.data, scanner.Config{Recovery: r.cfg.Recovery})
	if err := s.Seek(offset); err != nil {
		return nil, err
	}
	_, obj, err := raw.NewReader(s, nil).ReadIndirect()
	if err != nil {
		return nil, fmt.Errorf("xref stream at %d: %w", offset, err)
	}
	stream, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, fmt.Errorf("no xref section at offset %d", offset)
	}
	if typ, _ := stream.Dict.Name("Type"); typ != "XRef" {
		return nil, fmt.Errorf("object at %d is not an xref stream", offset)
	}
	data, err := r.cfg.Filters.DecodeStream(ctx, raw.Direct, stream)
	if err != nil {
		return nil, fmt.Errorf("decode xref stream: %w", err)
	}
	if err := r.streamEntries(stream.Dict, data); err != nil {
		return nil, err
	}
	return stream.Dict, nil
}

func (r *resolver) streamEntries(dict *raw.DictObj, data []byte) error {
	wObj, _ := dict.Get("W")
	wArr, ok := wObj.(*raw.ArrayObj)
	if !ok || wArr.Len() != 3 {
		return errors.New("xref stream /W must hold three widths")
	}
	var w [3]int
	for i, item := range wArr.Items {
		n, ok := item.(raw.NumberObj)
		if !ok || n.Int() < 0 || n.Int() > 8 {
			return errors.New("invalid xref stream /W entry")
		}
		w[i] = int(n.Int())
	}
	size, _ := dict.Int("Size")
	index := []int{0, int(size)}
	if idxObj, ok := dict.Get("Index"); ok {
		if arr, ok := idxObj.(*raw.ArrayObj); ok && arr.Len()%2 == 0 {
			index = index[:0]
			for _, item := range arr.Items {
				n, _ := item.(raw.NumberObj)
				index = append(index, int(n.Int()))
			}
		}
	}
	rowLen := w[0] + w[1] + w[2]
	if rowLen == 0 {
		return errors.New("xref stream rows are empty")
	}
	pos := 0
	for i := 0; i+1 < len(index); i += 2 {
		first, count := index[i], index[i+1]
		for j := 0; j < count; j++ {
			if pos+rowLen > len(data) {
				return nil
			}
			row := data[pos : pos+rowLen]
			pos += rowLen
			typ := int64(1)
			if w[0] > 0 {
				typ = readField(row[:w[0]])
			}
			f2 := readField(row[w[0] : w[0]+w[1]])
			f3 := readField(row[w[0]+w[1]:])
			num := first + j
			if num == 0 {
				continue
			}
			switch typ {
			case 0:
				r.table.add(num, Entry{Kind: EntryFree, Gen: int(f3)})
			case 1:
				r.table.add(num, Entry{Kind: EntryInUse, Offset: f2, Gen: int(f3)})
			case 2:
				r.table.add(num, Entry{Kind: EntryCompressed, Stream: int(f2), Index: int(f3)})
			}
		}
	}
	return nil
}

func readField(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}

// ParseHeaderVersion extracts the version from a %PDF-x.y header.
func ParseHeaderVersion(data []byte) (string, bool) {
	limit := len(data)
	if limit > 1024 {
		limit = 1024
	}
	idx := bytes.Index(data[:limit], []byte("%PDF-"))
	if idx < 0 {
		return "", false
	}
	rest := data[idx+5:]
	end := 0
	for end < len(rest) && end < 4 && (rest[end] == '.' || (rest[end] >= '0' && rest[end] <= '9')) {
		end++
	}
	if end == 0 {
		return "", false
	}
	v := string(rest[:end])
	if _, err := strconv.ParseFloat(v, 64); err != nil {
		return "", false
	}
	return v, true
}
