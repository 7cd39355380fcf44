package filters

import (
	"bytes"
	"compress/zlib"
	"context"

	"github.com/wudi/pdfstamp/ir/raw"
)

// ExtractFilters reads Filter and DecodeParms entries from a stream dictionary.
func ExtractFilters(res raw.Resolver, dict *raw.DictObj) ([]string, []*raw.DictObj) {
	var names []string
	var params []*raw.DictObj

	filterObj, ok := dict.Get("Filter")
	if !ok {
		return names, params
	}
	if n, ok := raw.ResolveName(res, filterObj); ok {
		names = append(names, n)
	} else if arr, ok := raw.ResolveArray(res, filterObj); ok {
		for _, item := range arr.Items {
			if n, ok := raw.ResolveName(res, item); ok {
				names = append(names, n)
			}
		}
	}
	if len(names) == 0 {
		return names, params
	}

	pObj, ok := dict.Get("DecodeParms")
	if !ok {
		pObj, ok = dict.Get("DP")
	}
	if !ok {
		return names, params
	}
	if d, ok := raw.ResolveDict(res, pObj); ok {
		params = append(params, d)
	} else if arr, ok := raw.ResolveArray(res, pObj); ok {
		for _, item := range arr.Items {
			d, _ := raw.ResolveDict(res, item)
			params = append(params, d)
		}
	}
	return names, params
}

// DecodeStream runs the stream payload through its declared filters.
func (p *Pipeline) DecodeStream(ctx context.Context, res raw.Resolver, s *raw.StreamObj) ([]byte, error) {
	names, params := ExtractFilters(res, s.Dict)
	if len(names) == 0 {
		return s.Data, nil
	}
	return p.Decode(ctx, s.Data, names, params)
}

// FlateEncode compresses data with zlib at the given level.
func FlateEncode(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
