// Package writer serializes PDF objects, either as an incremental update
// appended to an existing file or as a complete new file.
package writer

import (
	"bytes"
	"compress/zlib"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/wudi/pdfstamp/filters"
	"github.com/wudi/pdfstamp/ir/raw"
)

// Object is one indirect object to write.
type Object struct {
	Ref   raw.ObjectRef
	Value raw.Object
}

// Revision is the set of objects and trailer entries to write.
type Revision struct {
	Objects []Object
	// Root, Info and ID are copied into the trailer when set.
	Root raw.Object
	Info raw.Object
	ID   *raw.ArrayObj
	// Size is one past the highest object number in use, excluding any xref
	// stream the writer allocates itself.
	Size int
	// XRefStream selects a cross-reference stream over a classic table.
	XRefStream bool
}

// Config tunes serialization.
type Config struct {
	// Compression is the zlib level for xref streams.
	Compression int
}

func DefaultConfig() Config {
	return Config{Compression: zlib.DefaultCompression}
}

// AppendUpdate writes base followed by rev as an incremental update whose
// trailer points back at prev, the startxref of base.
func AppendUpdate(ctx context.Context, w io.Writer, base []byte, prev int64, rev Revision, cfg Config) error {
	out := &countingWriter{w: w}
	if _, err := out.Write(base); err != nil {
		return err
	}
	if len(base) > 0 && base[len(base)-1] != '\n' && base[len(base)-1] != '\r' {
		if _, err := out.Write([]byte{'\n'}); err != nil {
			return err
		}
	}
	if rev.ID == nil {
		rev.ID = raw.NewArray(raw.HexStr(fileID(base)), raw.HexStr(fileID(base)))
	}
	return writeBody(ctx, out, rev, cfg, prev, false)
}

// WriteFile writes rev as a complete file with the given header version.
func WriteFile(ctx context.Context, w io.Writer, version string, rev Revision, cfg Config) error {
	if version == "" {
		version = "1.7"
	}
	out := &countingWriter{w: w}
	// binary comment marks the file as containing 8-bit data
	if _, err := fmt.Fprintf(out, "%%PDF-%s\n%%\xE2\xE3\xCF\xD3\n", version); err != nil {
		return err
	}
	if rev.ID == nil {
		seed := AppendObject(nil, rev.Root)
		for _, o := range rev.Objects {
			seed = AppendObject(seed, o.Value)
		}
		id := fileID(seed)
		rev.ID = raw.NewArray(raw.HexStr(id), raw.HexStr(id))
	}
	return writeBody(ctx, out, rev, cfg, -1, true)
}

// NewFileID returns a fresh second ID element for an update of base.
func NewFileID(base []byte, seed []byte) []byte {
	h := md5.New()
	h.Write(base)
	h.Write(seed)
	return h.Sum(nil)
}

func fileID(data []byte) []byte {
	sum := md5.Sum(data)
	return sum[:]
}

func writeBody(ctx context.Context, out *countingWriter, rev Revision, cfg Config, prev int64, full bool) error {
	if rev.Root == nil {
		return errors.New("trailer needs a /Root")
	}
	objs := append([]Object(nil), rev.Objects...)
	sort.Slice(objs, func(i, j int) bool { return objs[i].Ref.Num < objs[j].Ref.Num })

	offsets := make(map[int]int64, len(objs)+1)
	gens := make(map[int]int, len(objs)+1)
	size := rev.Size
	var buf []byte
	for _, o := range objs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if o.Ref.Num <= 0 {
			return fmt.Errorf("invalid object number %d", o.Ref.Num)
		}
		if _, dup := offsets[o.Ref.Num]; dup {
			return fmt.Errorf("object %d written twice", o.Ref.Num)
		}
		offsets[o.Ref.Num] = out.n
		gens[o.Ref.Num] = o.Ref.Gen
		buf = fmt.Appendf(buf[:0], "%d %d obj\n", o.Ref.Num, o.Ref.Gen)
		buf = AppendObject(buf, o.Value)
		buf = append(buf, "\nendobj\n"...)
		if _, err := out.Write(buf); err != nil {
			return err
		}
		if o.Ref.Num >= size {
			size = o.Ref.Num + 1
		}
	}

	trailer := raw.Dict()
	trailer.Set("Root", rev.Root)
	if rev.Info != nil {
		trailer.Set("Info", rev.Info)
	}
	trailer.Set("ID", rev.ID)
	if prev >= 0 {
		trailer.Set("Prev", raw.NumberInt(prev))
	}

	start := out.n
	if rev.XRefStream {
		num := size
		size++
		offsets[num] = start
		gens[num] = 0
		if err := writeXRefStream(out, num, offsets, gens, trailer, size, full, cfg); err != nil {
			return err
		}
	} else {
		trailer.Set("Size", raw.NumberInt(int64(size)))
		if err := writeXRefTable(out, offsets, gens, trailer, full, size); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(out, "startxref\n%d\n%%%%EOF\n", start)
	return err
}

// sections groups sorted object numbers into runs of consecutive numbers.
func sections(nums []int) [][2]int {
	var out [][2]int
	for i := 0; i < len(nums); {
		j := i + 1
		for j < len(nums) && nums[j] == nums[j-1]+1 {
			j++
		}
		out = append(out, [2]int{nums[i], j - i})
		i = j
	}
	return out
}

func sortedKeys(offsets map[int]int64) []int {
	nums := make([]int, 0, len(offsets))
	for k := range offsets {
		nums = append(nums, k)
	}
	sort.Ints(nums)
	return nums
}

func writeXRefTable(out *countingWriter, offsets map[int]int64, gens map[int]int, trailer *raw.DictObj, full bool, size int) error {
	var b bytes.Buffer
	b.WriteString("xref\n")
	nums := sortedKeys(offsets)
	if full {
		// a new file lists every number from 0, with gaps marked free
		fmt.Fprintf(&b, "0 %d\n", size)
		b.WriteString("0000000000 65535 f \n")
		for n := 1; n < size; n++ {
			if off, ok := offsets[n]; ok {
				fmt.Fprintf(&b, "%010d %05d n \n", off, gens[n])
			} else {
				b.WriteString("0000000000 00000 f \n")
			}
		}
	} else {
		for _, sec := range sections(nums) {
			fmt.Fprintf(&b, "%d %d\n", sec[0], sec[1])
			for n := sec[0]; n < sec[0]+sec[1]; n++ {
				fmt.Fprintf(&b, "%010d %05d n \n", offsets[n], gens[n])
			}
		}
	}
	b.WriteString("trailer\n")
	b.Write(AppendObject(nil, trailer))
	b.WriteByte('\n')
	_, err := out.Write(b.Bytes())
	return err
}

func writeXRefStream(out *countingWriter, num int, offsets map[int]int64, gens map[int]int, trailer *raw.DictObj, size int, full bool, cfg Config) error {
	width := offsetWidth(offsets)
	nums := sortedKeys(offsets)
	index := raw.NewArray()
	var rows []byte
	if full {
		index.Append(raw.NumberInt(0), raw.NumberInt(int64(size)))
		for n := 0; n < size; n++ {
			off, ok := offsets[n]
			switch {
			case n == 0:
				rows = appendRow(rows, 0, 0, 0xFFFF, width)
			case ok:
				rows = appendRow(rows, 1, off, gens[n], width)
			default:
				rows = appendRow(rows, 0, 0, 0, width)
			}
		}
	} else {
		for _, sec := range sections(nums) {
			index.Append(raw.NumberInt(int64(sec[0])), raw.NumberInt(int64(sec[1])))
			for n := sec[0]; n < sec[0]+sec[1]; n++ {
				rows = appendRow(rows, 1, offsets[n], gens[n], width)
			}
		}
	}

	dict := raw.Clone(trailer).(*raw.DictObj)
	dict.Set("Type", raw.NameLiteral("XRef"))
	dict.Set("Size", raw.NumberInt(int64(size)))
	dict.Set("W", raw.NewArray(raw.NumberInt(1), raw.NumberInt(int64(width)), raw.NumberInt(2)))
	dict.Set("Index", index)
	data := rows
	if cfg.Compression != 0 {
		enc, err := filters.FlateEncode(rows, cfg.Compression)
		if err != nil {
			return err
		}
		data = enc
		dict.Set("Filter", raw.NameLiteral("FlateDecode"))
	}
	var b []byte
	b = fmt.Appendf(b, "%d 0 obj\n", num)
	b = AppendObject(b, raw.NewStream(dict, data))
	b = append(b, "\nendobj\n"...)
	_, err := out.Write(b)
	return err
}

func offsetWidth(offsets map[int]int64) int {
	var maxOff int64
	for _, off := range offsets {
		if off > maxOff {
			maxOff = off
		}
	}
	w := 1
	for maxOff >= 1<<(8*w) && w < 8 {
		w++
	}
	return w
}

func appendRow(dst []byte, typ byte, f2 int64, gen int, width int) []byte {
	dst = append(dst, typ)
	for i := width - 1; i >= 0; i-- {
		dst = append(dst, byte(f2>>(8*i)))
	}
	return append(dst, byte(gen>>8), byte(gen))
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
