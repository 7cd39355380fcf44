package filters

import (
	"errors"
	"fmt"

	"github.com/wudi/pdfstamp/ir/raw"
)

type predictor struct {
	kind    int
	colors  int
	bpc     int
	columns int
}

func predictorParams(params *raw.DictObj) predictor {
	p := predictor{kind: 1, colors: 1, bpc: 8, columns: 1}
	if params == nil {
		return p
	}
	if v, ok := params.Int("Predictor"); ok {
		p.kind = int(v)
	}
	if v, ok := params.Int("Colors"); ok && v > 0 {
		p.colors = int(v)
	}
	if v, ok := params.Int("BitsPerComponent"); ok && v > 0 {
		p.bpc = int(v)
	}
	if v, ok := params.Int("Columns"); ok && v > 0 {
		p.columns = int(v)
	}
	return p
}

// applyPredictor undoes TIFF (2) and PNG (10-15) predictors.
func applyPredictor(data []byte, p predictor) ([]byte, error) {
	switch {
	case p.kind <= 1:
		return data, nil
	case p.kind == 2:
		return undoTIFF(data, p)
	case p.kind >= 10:
		return undoPNG(data, p)
	}
	return nil, fmt.Errorf("unsupported predictor %d", p.kind)
}

func (p predictor) rowBytes() int   { return (p.colors*p.bpc*p.columns + 7) / 8 }
func (p predictor) pixelBytes() int { return max(1, (p.colors*p.bpc+7)/8) }

func undoPNG(data []byte, p predictor) ([]byte, error) {
	rowLen := p.rowBytes()
	bpp := p.pixelBytes()
	stride := rowLen + 1
	out := make([]byte, 0, len(data)/stride*rowLen)
	prev := make([]byte, rowLen)
	cur := make([]byte, rowLen)
	for off := 0; off < len(data); off += stride {
		end := off + stride
		if end > len(data) {
			// short trailing row, keep what is there
			end = len(data)
		}
		filter := data[off]
		row := data[off+1 : end]
		for i := range cur {
			cur[i] = 0
		}
		copy(cur, row)
		for i := 0; i < rowLen; i++ {
			var left, up, upLeft byte
			if i >= bpp {
				left = cur[i-bpp]
				upLeft = prev[i-bpp]
			}
			up = prev[i]
			switch filter {
			case 0:
			case 1:
				cur[i] += left
			case 2:
				cur[i] += up
			case 3:
				cur[i] += byte((int(left) + int(up)) / 2)
			case 4:
				cur[i] += paeth(left, up, upLeft)
			default:
				return nil, fmt.Errorf("invalid png filter type %d", filter)
			}
		}
		out = append(out, cur[:len(row)]...)
		prev, cur = cur, prev
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	switch {
	case pa <= pb && pa <= pc:
		return a
	case pb <= pc:
		return b
	}
	return c
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func undoTIFF(data []byte, p predictor) ([]byte, error) {
	if p.bpc != 8 {
		return nil, errors.New("tiff predictor supports 8 bits per component only")
	}
	rowLen := p.rowBytes()
	out := make([]byte, len(data))
	copy(out, data)
	for row := 0; row+rowLen <= len(out); row += rowLen {
		for i := p.colors; i < rowLen; i++ {
			out[row+i] += out[row+i-p.colors]
		}
	}
	return out, nil
}
