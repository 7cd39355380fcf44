package document

import (
	"context"
	"errors"
	"fmt"

	"github.com/wudi/pdfstamp/ir/raw"
)

// maxImportDepth bounds recursion when copying object graphs.
const maxImportDepth = 256

// EmbeddedPage is a page of some document stored as a form XObject.
type EmbeddedPage struct {
	Ref  raw.ObjectRef
	BBox [4]float64
}

func (e *EmbeddedPage) Width() float64  { return e.BBox[2] - e.BBox[0] }
func (e *EmbeddedPage) Height() float64 { return e.BBox[3] - e.BBox[1] }

// EmbedPage copies src and everything its resources reference into d as a
// form XObject. Content drawn on src but not yet saved is included.
func (d *Document) EmbedPage(ctx context.Context, src *Page) (*EmbeddedPage, error) {
	if src == nil {
		return nil, errors.New("nil source page")
	}
	content, err := src.renderedContent(ctx)
	if err != nil {
		return nil, err
	}
	res, err := src.Resources()
	if err != nil {
		return nil, err
	}
	imp := importer{dst: d, src: src.doc, memo: make(map[raw.ObjectRef]raw.ObjectRef)}
	copied, err := imp.copy(ctx, res, 0)
	if err != nil {
		return nil, fmt.Errorf("copy resources of page %s: %w", src.ref, err)
	}

	dict := raw.Dict()
	dict.Set("Type", raw.NameLiteral("XObject"))
	dict.Set("Subtype", raw.NameLiteral("Form"))
	dict.Set("FormType", raw.NumberInt(1))
	dict.Set("BBox", raw.Numbers(src.box[0], src.box[1], src.box[2], src.box[3]))
	dict.Set("Resources", copied)
	form, err := d.flateStream(dict, content)
	if err != nil {
		return nil, err
	}
	return &EmbeddedPage{Ref: d.Add(form), BBox: src.box}, nil
}

// importer copies objects from src into dst, giving each indirect object a
// new number in dst exactly once.
type importer struct {
	dst, src *Document
	memo     map[raw.ObjectRef]raw.ObjectRef
}

func (imp *importer) copy(ctx context.Context, obj raw.Object, depth int) (raw.Object, error) {
	if depth > maxImportDepth {
		return nil, errors.New("object graph too deep")
	}
	switch v := obj.(type) {
	case raw.RefObj:
		if imp.src == imp.dst {
			return v, nil
		}
		if nr, ok := imp.memo[v.R]; ok {
			return raw.Ref(nr.Num, nr.Gen), nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		nr := imp.dst.alloc()
		imp.memo[v.R] = nr
		target, err := imp.src.Resolve(v)
		if err != nil {
			return nil, err
		}
		copied, err := imp.copy(ctx, target, depth+1)
		if err != nil {
			return nil, err
		}
		imp.dst.set(nr, copied)
		return raw.Ref(nr.Num, nr.Gen), nil
	case *raw.DictObj:
		out := raw.Dict()
		for k, item := range v.KV {
			// back references into the source page tree
			if k == "Parent" || k == "P" {
				continue
			}
			c, err := imp.copy(ctx, item, depth+1)
			if err != nil {
				return nil, err
			}
			out.Set(k, c)
		}
		return out, nil
	case *raw.ArrayObj:
		out := &raw.ArrayObj{Items: make([]raw.Object, len(v.Items))}
		for i, item := range v.Items {
			c, err := imp.copy(ctx, item, depth+1)
			if err != nil {
				return nil, err
			}
			out.Items[i] = c
		}
		return out, nil
	case *raw.StreamObj:
		dict, err := imp.copy(ctx, v.Dict, depth+1)
		if err != nil {
			return nil, err
		}
		data := make([]byte, len(v.Data))
		copy(data, v.Data)
		return raw.NewStream(dict.(*raw.DictObj), data), nil
	case nil:
		return raw.NullObj{}, nil
	}
	return raw.Clone(obj), nil
}
