package raw

import (
	"errors"
	"fmt"
	"io"

	"github.com/wudi/pdfstamp/scanner"
)

// maxNesting bounds array and dictionary depth while reading objects.
const maxNesting = 256

// LengthFunc resolves an indirect stream /Length before the payload is read.
type LengthFunc func(ref ObjectRef) (int64, bool)

// Reader assembles objects from scanner tokens.
type Reader struct {
	s      *scanner.Scanner
	buf    []scanner.Token
	length LengthFunc
	depth  int
}

func NewReader(s *scanner.Scanner, length LengthFunc) *Reader {
	return &Reader{s: s, length: length}
}

// Scanner exposes the underlying scanner, e.g. to seek between objects.
func (r *Reader) Scanner() *scanner.Scanner { return r.s }

// Reset drops any lookahead and moves the scanner to offset.
func (r *Reader) Reset(offset int64) error {
	r.buf = r.buf[:0]
	r.depth = 0
	return r.s.Seek(offset)
}

func (r *Reader) next() (scanner.Token, error) {
	if n := len(r.buf); n > 0 {
		tok := r.buf[n-1]
		r.buf = r.buf[:n-1]
		return tok, nil
	}
	return r.s.Next()
}

func (r *Reader) unread(tok scanner.Token) { r.buf = append(r.buf, tok) }

// ReadIndirect reads "num gen obj <object> endobj" at the current position.
func (r *Reader) ReadIndirect() (ObjectRef, Object, error) {
	numTok, err := r.next()
	if err != nil {
		return ObjectRef{}, nil, err
	}
	genTok, err := r.next()
	if err != nil {
		return ObjectRef{}, nil, err
	}
	kw, err := r.next()
	if err != nil {
		return ObjectRef{}, nil, err
	}
	if numTok.Type != scanner.TokenNumber || !numTok.IsInt || genTok.Type != scanner.TokenNumber || !genTok.IsInt ||
		kw.Type != scanner.TokenKeyword || kw.Str != "obj" {
		return ObjectRef{}, nil, fmt.Errorf("expected object header at offset %d", numTok.Pos)
	}
	ref := ObjectRef{Num: int(numTok.Int), Gen: int(genTok.Int)}

	obj, err := r.ReadObject()
	if err != nil {
		return ref, nil, fmt.Errorf("object %d %d: %w", ref.Num, ref.Gen, err)
	}
	if dict, ok := obj.(*DictObj); ok {
		r.s.SetNextStreamLength(r.streamLength(dict))
		tok, err := r.next()
		r.s.SetNextStreamLength(-1)
		switch {
		case errors.Is(err, io.EOF):
		case err != nil:
			return ref, nil, fmt.Errorf("object %d %d: %w", ref.Num, ref.Gen, err)
		case tok.Type == scanner.TokenStream:
			obj = NewStream(dict, tok.Bytes)
		default:
			r.unread(tok)
		}
	}
	if tok, err := r.next(); err == nil && !(tok.Type == scanner.TokenKeyword && tok.Str == "endobj") {
		r.unread(tok)
	}
	return ref, obj, nil
}

func (r *Reader) streamLength(dict *DictObj) int64 {
	v, ok := dict.Get("Length")
	if !ok {
		return -1
	}
	switch l := v.(type) {
	case NumberObj:
		return l.Int()
	case RefObj:
		if r.length != nil {
			if n, ok := r.length(l.R); ok {
				return n
			}
		}
	}
	return -1
}

// ReadObject reads one direct object, folding "num gen R" into references.
func (r *Reader) ReadObject() (Object, error) {
	tok, err := r.next()
	if err != nil {
		return nil, err
	}
	switch tok.Type {
	case scanner.TokenNumber:
		if tok.IsInt && tok.Int >= 0 {
			if ref, ok := r.tryRef(tok); ok {
				return ref, nil
			}
		}
		if tok.IsInt {
			return NumberInt(tok.Int), nil
		}
		return NumberFloat(tok.Float), nil
	case scanner.TokenName:
		return NameObj{Val: tok.Str}, nil
	case scanner.TokenString:
		return StringObj{Bytes: tok.Bytes, Hex: tok.Hex}, nil
	case scanner.TokenBoolean:
		return BoolObj{V: tok.Bool}, nil
	case scanner.TokenNull:
		return NullObj{}, nil
	case scanner.TokenArray:
		return r.readArray()
	case scanner.TokenDict:
		return r.readDict()
	}
	return nil, fmt.Errorf("unexpected token %s %q at offset %d", tok.Type, tok.Str, tok.Pos)
}

func (r *Reader) tryRef(first scanner.Token) (Object, bool) {
	gen, err := r.next()
	if err != nil {
		return nil, false
	}
	if gen.Type != scanner.TokenNumber || !gen.IsInt || gen.Int < 0 {
		r.unread(gen)
		return nil, false
	}
	kw, err := r.next()
	if err != nil {
		r.unread(gen)
		return nil, false
	}
	if kw.Type == scanner.TokenKeyword && kw.Str == "R" {
		return Ref(int(first.Int), int(gen.Int)), true
	}
	r.unread(kw)
	r.unread(gen)
	return nil, false
}

func (r *Reader) enter() error {
	r.depth++
	if r.depth > maxNesting {
		return errors.New("object nesting too deep")
	}
	return nil
}

func (r *Reader) readArray() (Object, error) {
	if err := r.enter(); err != nil {
		return nil, err
	}
	defer func() { r.depth-- }()
	arr := NewArray()
	for {
		tok, err := r.next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errors.New("unterminated array")
			}
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "]" {
			return arr, nil
		}
		r.unread(tok)
		item, err := r.ReadObject()
		if err != nil {
			return nil, err
		}
		arr.Append(item)
	}
}

func (r *Reader) readDict() (Object, error) {
	if err := r.enter(); err != nil {
		return nil, err
	}
	defer func() { r.depth-- }()
	dict := Dict()
	for {
		tok, err := r.next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errors.New("unterminated dictionary")
			}
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == ">>" {
			return dict, nil
		}
		if tok.Type != scanner.TokenName {
			return nil, fmt.Errorf("dictionary key must be a name at offset %d", tok.Pos)
		}
		val, err := r.ReadObject()
		if err != nil {
			return nil, fmt.Errorf("value for /%s: %w", tok.Str, err)
		}
		// a null value is equivalent to an absent key
		if _, isNull := val.(NullObj); isNull {
			continue
		}
		dict.Set(tok.Str, val)
	}
}
