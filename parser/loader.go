package parser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wudi/pdfstamp/filters"
	"github.com/wudi/pdfstamp/ir/raw"
	"github.com/wudi/pdfstamp/recovery"
	"github.com/wudi/pdfstamp/scanner"
	"github.com/wudi/pdfstamp/xref"
)

type objectLoader struct {
	data     []byte
	table    *xref.Table
	filters  *filters.Pipeline
	recovery recovery.Strategy
	maxDepth int

	mu     sync.Mutex
	cache  map[raw.ObjectRef]raw.Object
	objstm map[int]map[int]raw.Object
}

func newObjectLoader(data []byte, table *xref.Table, p *filters.Pipeline, rec recovery.Strategy, maxDepth int) *objectLoader {
	return &objectLoader{
		data:     data,
		table:    table,
		filters:  p,
		recovery: rec,
		maxDepth: maxDepth,
		cache:    make(map[raw.ObjectRef]raw.Object),
		objstm:   make(map[int]map[int]raw.Object),
	}
}

// Load returns the object for ref. Objects missing from the table load as null.
func (o *objectLoader) Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.load(ctx, ref, 0)
}

func (o *objectLoader) load(ctx context.Context, ref raw.ObjectRef, depth int) (raw.Object, error) {
	if obj, ok := o.cache[ref]; ok {
		return obj, nil
	}
	if depth > o.maxDepth {
		return nil, fmt.Errorf("object %s: reference chain too deep", ref)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, ok := o.table.Lookup(ref.Num)
	if !ok {
		return raw.NullObj{}, nil
	}
	var obj raw.Object
	var err error
	switch e.Kind {
	case xref.EntryInUse:
		obj, err = o.loadAtOffset(ctx, ref, e.Offset, depth)
	case xref.EntryCompressed:
		obj, err = o.loadFromObjectStream(ctx, ref, e.Stream, depth)
	}
	if err != nil {
		return nil, err
	}
	if obj == nil {
		obj = raw.NullObj{}
	}
	o.cache[ref] = obj
	return obj, nil
}

func (o *objectLoader) loadAtOffset(ctx context.Context, ref raw.ObjectRef, offset int64, depth int) (raw.Object, error) {
	s := scanner.New(o.data, scanner.Config{Recovery: o.recovery})
	s.SetLocation(recovery.Location{ObjectNum: ref.Num, ObjectGen: ref.Gen, Component: "loader"})
	if err := s.Seek(offset); err != nil {
		return nil, fmt.Errorf("object %s: %w", ref, err)
	}
	rd := raw.NewReader(s, func(lref raw.ObjectRef) (int64, bool) {
		lobj, err := o.load(ctx, lref, depth+1)
		if err != nil {
			return 0, false
		}
		n, ok := lobj.(raw.NumberObj)
		return n.Int(), ok
	})
	got, obj, err := rd.ReadIndirect()
	if err != nil {
		return nil, fmt.Errorf("object %s at offset %d: %w", ref, offset, err)
	}
	if got.Num != ref.Num {
		return nil, fmt.Errorf("object %s: offset %d holds object %d", ref, offset, got.Num)
	}
	return obj, nil
}

func (o *objectLoader) loadFromObjectStream(ctx context.Context, ref raw.ObjectRef, streamNum int, depth int) (raw.Object, error) {
	objs, ok := o.objstm[streamNum]
	if !ok {
		var err error
		objs, err = o.expandObjectStream(ctx, streamNum, depth)
		if err != nil {
			return nil, fmt.Errorf("object %s in object stream %d: %w", ref, streamNum, err)
		}
		o.objstm[streamNum] = objs
	}
	obj, ok := objs[ref.Num]
	if !ok {
		return nil, fmt.Errorf("object %s not found in object stream %d", ref, streamNum)
	}
	return obj, nil
}

func (o *objectLoader) expandObjectStream(ctx context.Context, streamNum int, depth int) (map[int]raw.Object, error) {
	streamObj, err := o.load(ctx, raw.ObjectRef{Num: streamNum}, depth+1)
	if err != nil {
		return nil, err
	}
	st, ok := streamObj.(*raw.StreamObj)
	if !ok {
		return nil, errors.New("object stream is not a stream")
	}
	n, _ := st.Dict.Int("N")
	first, _ := st.Dict.Int("First")
	data, err := o.filters.DecodeStream(ctx, o.resolverAt(ctx, depth+1), st)
	if err != nil {
		return nil, err
	}
	if first < 0 || int(first) > len(data) {
		return nil, errors.New("object stream /First exceeds length")
	}

	header := scanner.New(data[:first], scanner.Config{})
	pairs := make([]int64, 0, 2*n)
	for int64(len(pairs)) < 2*n {
		tok, err := header.Next()
		if err != nil {
			return nil, fmt.Errorf("object stream header: %w", err)
		}
		if tok.Type == scanner.TokenNumber && tok.IsInt {
			pairs = append(pairs, tok.Int)
		}
	}

	body := data[first:]
	objs := make(map[int]raw.Object, n)
	for i := 0; i < int(n); i++ {
		num, off := int(pairs[2*i]), pairs[2*i+1]
		if off < 0 || off > int64(len(body)) {
			return nil, fmt.Errorf("object %d offset outside object stream", num)
		}
		sc := scanner.New(body, scanner.Config{Recovery: o.recovery})
		_ = sc.Seek(off)
		obj, err := raw.NewReader(sc, nil).ReadObject()
		if err != nil {
			return nil, fmt.Errorf("object %d: %w", num, err)
		}
		objs[num] = obj
	}
	return objs, nil
}

// resolverAt resolves references while the loader lock is already held.
func (o *objectLoader) resolverAt(ctx context.Context, depth int) raw.Resolver {
	return raw.ResolverFunc(func(obj raw.Object) (raw.Object, error) {
		for i := 0; ; i++ {
			ref, ok := obj.(raw.RefObj)
			if !ok {
				return obj, nil
			}
			if i > o.maxDepth {
				return nil, errors.New("reference chain too deep")
			}
			next, err := o.load(ctx, ref.R, depth)
			if err != nil {
				return nil, err
			}
			obj = next
		}
	})
}
