package writer

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/wudi/pdfstamp/ir/raw"
)

// AppendObject appends the PDF syntax for o to dst. Dictionary keys are
// written in sorted order so output is deterministic. Stream /Length is
// always rewritten to match the payload.
func AppendObject(dst []byte, o raw.Object) []byte {
	switch v := o.(type) {
	case nil:
		return append(dst, "null"...)
	case raw.NameObj:
		return appendName(dst, v.Val)
	case raw.NumberObj:
		if v.IsInt {
			return strconv.AppendInt(dst, v.I, 10)
		}
		return AppendNumber(dst, v.F)
	case raw.BoolObj:
		return strconv.AppendBool(dst, v.V)
	case raw.NullObj:
		return append(dst, "null"...)
	case raw.StringObj:
		if v.Hex {
			dst = append(dst, '<')
			dst = append(dst, strings.ToUpper(hex.EncodeToString(v.Bytes))...)
			return append(dst, '>')
		}
		return appendLiteralString(dst, v.Bytes)
	case *raw.ArrayObj:
		dst = append(dst, '[')
		for i, it := range v.Items {
			if i > 0 {
				dst = append(dst, ' ')
			}
			dst = AppendObject(dst, it)
		}
		return append(dst, ']')
	case *raw.DictObj:
		if v == nil {
			return append(dst, "<<>>"...)
		}
		dst = append(dst, "<<"...)
		for _, k := range v.Keys() {
			dst = appendName(dst, k)
			dst = append(dst, ' ')
			dst = AppendObject(dst, v.KV[k])
		}
		return append(dst, ">>"...)
	case *raw.StreamObj:
		dict := raw.Dict()
		if v.Dict != nil {
			for k, item := range v.Dict.KV {
				dict.KV[k] = item
			}
		}
		dict.Set("Length", raw.NumberInt(int64(len(v.Data))))
		dst = AppendObject(dst, dict)
		dst = append(dst, "\nstream\n"...)
		dst = append(dst, v.Data...)
		return append(dst, "\nendstream"...)
	case raw.RefObj:
		return fmt.Appendf(dst, "%d %d R", v.R.Num, v.R.Gen)
	default:
		return append(dst, "null"...)
	}
}

// AppendNumber writes f with at most four decimals and no exponent.
func AppendNumber(dst []byte, f float64) []byte {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return append(dst, '0')
	}
	s := strconv.FormatFloat(f, 'f', 4, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "-0" || s == "" {
		s = "0"
	}
	return append(dst, s...)
}

func appendName(dst []byte, value string) []byte {
	dst = append(dst, '/')
	for i := 0; i < len(value); i++ {
		ch := value[i]
		if ch > ' ' && ch < 0x7f && !isNameDelimiter(ch) {
			dst = append(dst, ch)
			continue
		}
		dst = fmt.Appendf(dst, "#%02X", ch)
	}
	return dst
}

func isNameDelimiter(ch byte) bool {
	switch ch {
	case '#', '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func appendLiteralString(dst, s []byte) []byte {
	dst = append(dst, '(')
	for _, ch := range s {
		switch ch {
		case '\\', '(', ')':
			dst = append(dst, '\\', ch)
		case '\n':
			dst = append(dst, '\\', 'n')
		case '\r':
			dst = append(dst, '\\', 'r')
		case '\t':
			dst = append(dst, '\\', 't')
		case '\b':
			dst = append(dst, '\\', 'b')
		case '\f':
			dst = append(dst, '\\', 'f')
		default:
			if ch < 0x20 || ch >= 0x80 {
				dst = fmt.Appendf(dst, "\\%03o", ch)
			} else {
				dst = append(dst, ch)
			}
		}
	}
	return append(dst, ')')
}
