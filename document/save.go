package document

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/wudi/pdfstamp/ir/raw"
	"github.com/wudi/pdfstamp/observability"
	"github.com/wudi/pdfstamp/writer"
)

// Serialize renders the document to bytes. See Write.
func (d *Document) Serialize(ctx context.Context) ([]byte, error) {
	var buf bytes.Buffer
	if err := d.Write(ctx, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write saves the document to w. A loaded document is written as its
// original bytes followed by an incremental update holding the changed
// objects; an unchanged one is written verbatim. Documents whose
// cross-reference data had to be rebuilt, and documents created with New,
// are written in full. Pages must not be drawn on while Write runs.
func (d *Document) Write(ctx context.Context, w io.Writer) error {
	if err := d.commitPages(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	objs := make([]writer.Object, 0, len(d.objects))
	for num, obj := range d.objects {
		objs = append(objs, writer.Object{Ref: raw.ObjectRef{Num: num, Gen: d.gens[num]}, Value: obj})
	}
	rev := writer.Revision{Objects: objs, Root: d.root, Info: d.info, Size: d.next}
	d.mu.Unlock()
	cfg := writer.Config{Compression: d.compression}

	switch {
	case d.file == nil:
		return writer.WriteFile(ctx, w, d.version, rev, cfg)
	case len(objs) == 0:
		_, err := w.Write(d.file.Data)
		return err
	case d.file.XRef.Repaired:
		all, err := d.unchangedObjects(ctx)
		if err != nil {
			return err
		}
		rev.Objects = append(rev.Objects, all...)
		return writer.WriteFile(ctx, w, d.version, rev, cfg)
	}

	rev.XRefStream = d.file.XRef.Stream
	if d.id != nil {
		var seed []byte
		for _, o := range objs {
			seed = writer.AppendObject(seed, o.Value)
		}
		rev.ID = raw.NewArray(d.id.Items[0], raw.HexStr(writer.NewFileID(d.file.Data, seed)))
	}
	d.log.Debug("writing incremental update",
		observability.Int("objects", len(objs)),
		observability.Int64("prev", d.file.XRef.StartXRef))
	return writer.AppendUpdate(ctx, w, d.file.Data, d.file.XRef.StartXRef, rev, cfg)
}

// commitPages turns each changed page's pending operations into content
// streams and stores the updated page dictionary.
func (d *Document) commitPages(ctx context.Context) error {
	for _, p := range d.Pages() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.commit(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Page) commit() error {
	existing := p.originalContents()

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.dirty {
		return nil
	}
	res, err := p.resourcesLocked()
	if err != nil {
		return err
	}
	pd := raw.Clone(p.dict).(*raw.DictObj)
	pd.Set("Resources", res)

	if len(p.content.Operations()) > 0 {
		data := p.appendedContentLocked()
		if len(existing) > 0 {
			data = append([]byte("Q\n"), data...)
		}
		suffix, err := p.doc.flateStream(nil, data)
		if err != nil {
			return fmt.Errorf("page %s: %w", p.ref, err)
		}
		if p.suffixRef.Num == 0 {
			p.suffixRef = p.doc.alloc()
		}
		p.doc.set(p.suffixRef, suffix)

		if len(existing) == 0 {
			pd.Set("Contents", raw.Ref(p.suffixRef.Num, 0))
		} else {
			if p.prefixRef.Num == 0 {
				p.prefixRef = p.doc.alloc()
			}
			p.doc.set(p.prefixRef, raw.NewStream(nil, []byte("q\n")))
			contents := raw.NewArray(raw.Ref(p.prefixRef.Num, 0))
			contents.Append(existing...)
			contents.Append(raw.Ref(p.suffixRef.Num, 0))
			pd.Set("Contents", contents)
		}
	}
	p.doc.set(p.ref, pd)
	return nil
}

// unchangedObjects loads every object of the original file not replaced in
// this session, for a full rewrite. Cross-reference and object streams are
// left out; their members are written individually.
func (d *Document) unchangedObjects(ctx context.Context) ([]writer.Object, error) {
	d.mu.Lock()
	changed := make(map[int]bool, len(d.objects))
	for num := range d.objects {
		changed[num] = true
	}
	d.mu.Unlock()

	var out []writer.Object
	for _, num := range d.file.XRef.Objects() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if changed[num] {
			continue
		}
		e, _ := d.file.XRef.Lookup(num)
		ref := raw.ObjectRef{Num: num, Gen: e.Gen}
		obj, err := d.file.Load(ctx, ref)
		if err != nil {
			d.log.Warn("dropping unreadable object", observability.String("ref", ref.String()), observability.Error("error", err))
			continue
		}
		if s, ok := obj.(*raw.StreamObj); ok {
			if t, _ := s.Dict.Name("Type"); t == "XRef" || t == "ObjStm" {
				continue
			}
		}
		out = append(out, writer.Object{Ref: ref, Value: obj})
	}
	return out, nil
}
