// Package contentstream models page content as a list of operations and
// converts between that list and content stream bytes.
package contentstream

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/wudi/pdfstamp/coords"
	"github.com/wudi/pdfstamp/ir/raw"
	"github.com/wudi/pdfstamp/scanner"
	"github.com/wudi/pdfstamp/writer"
)

// Operation is one content stream operator with its operands.
type Operation struct {
	Operator string
	Operands []raw.Object
}

// Builder accumulates operations in drawing order.
type Builder struct {
	ops []Operation
}

func (b *Builder) Op(operator string, operands ...raw.Object) *Builder {
	b.ops = append(b.ops, Operation{Operator: operator, Operands: operands})
	return b
}

// Append adds ops after the builder's current operations.
func (b *Builder) Append(ops ...Operation) *Builder {
	b.ops = append(b.ops, ops...)
	return b
}

func nums(vals ...float64) []raw.Object {
	out := make([]raw.Object, len(vals))
	for i, v := range vals {
		out[i] = raw.Number(v)
	}
	return out
}

func (b *Builder) Save() *Builder    { return b.Op("q") }
func (b *Builder) Restore() *Builder { return b.Op("Q") }

func (b *Builder) Concat(m coords.Matrix) *Builder {
	return b.Op("cm", nums(m[0], m[1], m[2], m[3], m[4], m[5])...)
}

func (b *Builder) SetLineWidth(w float64) *Builder { return b.Op("w", nums(w)...) }
func (b *Builder) SetLineCap(c LineCap) *Builder   { return b.Op("J", raw.NumberInt(int64(c))) }
func (b *Builder) SetLineJoin(j LineJoin) *Builder { return b.Op("j", raw.NumberInt(int64(j))) }

func (b *Builder) SetFillRGB(r, g, bl float64) *Builder   { return b.Op("rg", nums(r, g, bl)...) }
func (b *Builder) SetStrokeRGB(r, g, bl float64) *Builder { return b.Op("RG", nums(r, g, bl)...) }

// SetExtGState selects a named graphics state parameter dictionary.
func (b *Builder) SetExtGState(name string) *Builder {
	return b.Op("gs", raw.NameLiteral(name))
}

func (b *Builder) Rectangle(x, y, w, h float64) *Builder { return b.Op("re", nums(x, y, w, h)...) }
func (b *Builder) Fill() *Builder                        { return b.Op("f") }
func (b *Builder) Stroke() *Builder                      { return b.Op("S") }

// XObject paints the named external object.
func (b *Builder) XObject(name string) *Builder {
	return b.Op("Do", raw.NameLiteral(name))
}

// AppendPath adds the construction operators for p without painting it.
func (b *Builder) AppendPath(p Path) *Builder {
	for _, sp := range p.Subpaths {
		for _, pt := range sp.Points {
			switch pt.Type {
			case PathMoveTo:
				b.Op("m", nums(pt.X, pt.Y)...)
			case PathLineTo:
				b.Op("l", nums(pt.X, pt.Y)...)
			case PathCurveTo:
				b.Op("c", nums(pt.Control1X, pt.Control1Y, pt.Control2X, pt.Control2Y, pt.X, pt.Y)...)
			}
		}
		if sp.Closed {
			b.Op("h")
		}
	}
	return b
}

// Operations returns the accumulated operations.
func (b *Builder) Operations() []Operation { return b.ops }

// Bytes serializes the accumulated operations.
func (b *Builder) Bytes() []byte { return Serialize(b.ops) }

// Serialize writes ops as content stream bytes, one operation per line.
func Serialize(ops []Operation) []byte {
	var out []byte
	for _, op := range ops {
		if op.Operator == "BI" && len(op.Operands) == 2 {
			out = appendInlineImage(out, op.Operands[0], op.Operands[1])
			continue
		}
		for _, o := range op.Operands {
			out = writer.AppendObject(out, o)
			out = append(out, ' ')
		}
		out = append(out, op.Operator...)
		out = append(out, '\n')
	}
	return out
}

func appendInlineImage(out []byte, params, data raw.Object) []byte {
	out = append(out, "BI"...)
	if d, ok := params.(*raw.DictObj); ok {
		for _, k := range d.Keys() {
			out = append(out, ' ')
			out = writer.AppendObject(out, raw.NameLiteral(k))
			out = append(out, ' ')
			out = writer.AppendObject(out, d.KV[k])
		}
	}
	out = append(out, " ID "...)
	if s, ok := data.(raw.StringObj); ok {
		out = append(out, s.Bytes...)
	}
	return append(out, "\nEI\n"...)
}

// Parse splits content stream bytes into operations. Inline images become a
// single BI operation whose operands are the parameter dictionary and the
// image data.
func Parse(data []byte) ([]Operation, error) {
	s := scanner.New(data, scanner.Config{})
	var ops []Operation
	var operands []raw.Object
	for {
		tok, err := s.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		switch tok.Type {
		case scanner.TokenKeyword:
			if tok.Str == "BI" {
				op, err := parseInlineImage(s, data)
				if err != nil {
					return nil, err
				}
				ops = append(ops, op)
				operands = nil
				continue
			}
			ops = append(ops, Operation{Operator: tok.Str, Operands: operands})
			operands = nil
		default:
			obj, err := operand(s, tok)
			if err != nil {
				return nil, err
			}
			operands = append(operands, obj)
		}
	}
	if len(operands) > 0 {
		return nil, fmt.Errorf("dangling operands: %d", len(operands))
	}
	return ops, nil
}

func parseInlineImage(s *scanner.Scanner, data []byte) (Operation, error) {
	params := raw.Dict()
	for {
		tok, err := s.Next()
		if err != nil {
			return Operation{}, fmt.Errorf("inline image: %w", err)
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "ID" {
			break
		}
		if tok.Type != scanner.TokenName {
			return Operation{}, fmt.Errorf("inline image key expected at offset %d", tok.Pos)
		}
		valTok, err := s.Next()
		if err != nil {
			return Operation{}, fmt.Errorf("inline image /%s: %w", tok.Str, err)
		}
		val, err := operand(s, valTok)
		if err != nil {
			return Operation{}, fmt.Errorf("inline image /%s: %w", tok.Str, err)
		}
		params.Set(tok.Str, val)
	}
	start := s.Position() + 1
	end := indexEI(data, start)
	if end < 0 {
		return Operation{}, errors.New("inline image: EI not found")
	}
	body := data[start:end]
	// one end-of-line before EI belongs to the syntax, not the data
	switch {
	case bytes.HasSuffix(body, []byte("\r\n")):
		body = body[:len(body)-2]
	case len(body) > 0 && isSpace(body[len(body)-1]):
		body = body[:len(body)-1]
	}
	if err := s.Seek(end + 2); err != nil {
		return Operation{}, err
	}
	return Operation{Operator: "BI", Operands: []raw.Object{params, raw.Str(body)}}, nil
}

// operand converts a non-operator token into an object. Arrays and
// dictionaries are re-read from their opening delimiter.
func operand(s *scanner.Scanner, tok scanner.Token) (raw.Object, error) {
	switch tok.Type {
	case scanner.TokenArray, scanner.TokenDict:
		if err := s.Seek(tok.Pos); err != nil {
			return nil, err
		}
		return raw.NewReader(s, nil).ReadObject()
	case scanner.TokenNumber:
		if tok.IsInt {
			return raw.NumberInt(tok.Int), nil
		}
		return raw.NumberFloat(tok.Float), nil
	case scanner.TokenName:
		return raw.NameLiteral(tok.Str), nil
	case scanner.TokenString:
		return raw.StringObj{Bytes: tok.Bytes, Hex: tok.Hex}, nil
	case scanner.TokenBoolean:
		return raw.Bool(tok.Bool), nil
	case scanner.TokenNull:
		return raw.NullObj{}, nil
	}
	return nil, fmt.Errorf("unexpected %s token at offset %d", tok.Type, tok.Pos)
}

func indexEI(data []byte, from int64) int64 {
	for i := from; i+1 < int64(len(data)); i++ {
		if data[i] != 'E' || data[i+1] != 'I' {
			continue
		}
		before := i == 0 || isSpace(data[i-1])
		after := i+2 >= int64(len(data)) || isSpace(data[i+2])
		if before && after {
			return i
		}
	}
	return -1
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '\f' || c == 0
}

// CheckBalance reports an error when q and Q do not pair up.
func CheckBalance(ops []Operation) error {
	depth := 0
	for i, op := range ops {
		switch op.Operator {
		case "q":
			depth++
		case "Q":
			depth--
			if depth < 0 {
				return fmt.Errorf("operation %d: Q without matching q", i)
			}
		}
	}
	if depth != 0 {
		return fmt.Errorf("%d unclosed q", depth)
	}
	return nil
}
