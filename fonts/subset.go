package fonts

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// subsetTrueType drops the outlines of glyphs not in used (and not needed by
// a used composite glyph). Glyph IDs are kept, so Identity-H content stays
// valid. Fonts without glyf outlines are returned unchanged.
func subsetTrueType(data []byte, used map[int]bool) ([]byte, error) {
	tables, err := readTableDirectory(data)
	if err != nil {
		return nil, err
	}
	for _, tag := range []string{"glyf", "loca", "head", "maxp", "hmtx", "hhea"} {
		if _, ok := tables[tag]; !ok {
			return data, nil
		}
	}
	head, maxp, hhea := tables["head"], tables["maxp"], tables["hhea"]
	if len(head) < 54 || len(maxp) < 6 || len(hhea) < 36 {
		return nil, errors.New("truncated font header tables")
	}
	longLoca := binary.BigEndian.Uint16(head[50:52]) == 1
	numGlyphs := int(binary.BigEndian.Uint16(maxp[4:6]))

	g := glyphTable{glyf: tables["glyf"], loca: tables["loca"], long: longLoca, count: numGlyphs}
	keep := map[int]bool{0: true}
	for gid := range used {
		keep[gid] = true
	}
	g.addComponents(keep)

	last := 0
	for gid := range keep {
		if gid < numGlyphs && gid > last {
			last = gid
		}
	}
	n := last + 1

	glyf, loca := g.rebuild(keep, n)
	hmtx, err := rebuildHmtx(tables["hmtx"], int(binary.BigEndian.Uint16(hhea[34:36])), n)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]byte, len(tables))
	for _, tag := range []string{"cmap", "name", "OS/2", "post", "cvt ", "fpgm", "prep", "gasp"} {
		if t, ok := tables[tag]; ok {
			out[tag] = t
		}
	}
	out["glyf"], out["loca"], out["hmtx"] = glyf, loca, hmtx

	newHead := append([]byte(nil), head...)
	binary.BigEndian.PutUint16(newHead[50:], 1) // loca is always written long
	out["head"] = newHead
	newMaxp := append([]byte(nil), maxp...)
	binary.BigEndian.PutUint16(newMaxp[4:], uint16(n))
	out["maxp"] = newMaxp
	newHhea := append([]byte(nil), hhea...)
	binary.BigEndian.PutUint16(newHhea[34:], uint16(n))
	out["hhea"] = newHhea

	return assembleFont(out), nil
}

func readTableDirectory(data []byte) (map[string][]byte, error) {
	if len(data) < 12 {
		return nil, errors.New("font header truncated")
	}
	count := int(binary.BigEndian.Uint16(data[4:6]))
	tables := make(map[string][]byte, count)
	for i := 0; i < count; i++ {
		rec := 12 + 16*i
		if rec+16 > len(data) {
			return nil, errors.New("table directory truncated")
		}
		tag := string(data[rec : rec+4])
		off := binary.BigEndian.Uint32(data[rec+8:])
		length := binary.BigEndian.Uint32(data[rec+12:])
		if uint64(off)+uint64(length) > uint64(len(data)) {
			return nil, fmt.Errorf("table %q out of bounds", tag)
		}
		tables[tag] = data[off : off+length]
	}
	return tables, nil
}

type glyphTable struct {
	glyf, loca []byte
	long       bool
	count      int
}

// span returns the byte range of gid in glyf, empty when out of range.
func (g glyphTable) span(gid int) (uint32, uint32) {
	if gid < 0 || gid >= g.count {
		return 0, 0
	}
	var start, end uint32
	if g.long {
		if (gid+2)*4 > len(g.loca) {
			return 0, 0
		}
		start = binary.BigEndian.Uint32(g.loca[gid*4:])
		end = binary.BigEndian.Uint32(g.loca[gid*4+4:])
	} else {
		if (gid+2)*2 > len(g.loca) {
			return 0, 0
		}
		start = uint32(binary.BigEndian.Uint16(g.loca[gid*2:])) * 2
		end = uint32(binary.BigEndian.Uint16(g.loca[gid*2+2:])) * 2
	}
	if start >= end || end > uint32(len(g.glyf)) {
		return 0, 0
	}
	return start, end
}

// composite glyph flags
const (
	argsAreWords   = 0x0001
	haveScale      = 0x0008
	moreComponents = 0x0020
	haveXYScale    = 0x0040
	haveTwoByTwo   = 0x0080
)

// addComponents extends keep with every glyph referenced by a kept
// composite glyph.
func (g glyphTable) addComponents(keep map[int]bool) {
	queue := make([]int, 0, len(keep))
	for gid := range keep {
		queue = append(queue, gid)
	}
	for len(queue) > 0 {
		gid := queue[0]
		queue = queue[1:]
		start, end := g.span(gid)
		if end-start < 10 || int16(binary.BigEndian.Uint16(g.glyf[start:])) >= 0 {
			continue
		}
		off := start + 10
		for off+4 <= end {
			flags := binary.BigEndian.Uint16(g.glyf[off:])
			sub := int(binary.BigEndian.Uint16(g.glyf[off+2:]))
			if !keep[sub] {
				keep[sub] = true
				queue = append(queue, sub)
			}
			off += 4
			if flags&argsAreWords != 0 {
				off += 4
			} else {
				off += 2
			}
			switch {
			case flags&haveScale != 0:
				off += 2
			case flags&haveXYScale != 0:
				off += 4
			case flags&haveTwoByTwo != 0:
				off += 8
			}
			if flags&moreComponents == 0 {
				break
			}
		}
	}
}

// rebuild copies the kept outlines into a new glyf table for the first n
// glyphs and returns it with a long-format loca.
func (g glyphTable) rebuild(keep map[int]bool, n int) ([]byte, []byte) {
	var glyf []byte
	loca := make([]byte, 0, (n+1)*4)
	for gid := 0; gid < n; gid++ {
		loca = binary.BigEndian.AppendUint32(loca, uint32(len(glyf)))
		if !keep[gid] {
			continue
		}
		start, end := g.span(gid)
		glyf = append(glyf, g.glyf[start:end]...)
		// glyph offsets stay 4-byte aligned
		for len(glyf)%4 != 0 {
			glyf = append(glyf, 0)
		}
	}
	loca = binary.BigEndian.AppendUint32(loca, uint32(len(glyf)))
	return glyf, loca
}

// rebuildHmtx writes one full metric per glyph for the first n glyphs.
func rebuildHmtx(hmtx []byte, numHMetrics, n int) ([]byte, error) {
	if numHMetrics == 0 || len(hmtx) < numHMetrics*4 {
		return nil, errors.New("invalid hmtx table")
	}
	out := make([]byte, 0, n*4)
	lastAdvance := binary.BigEndian.Uint16(hmtx[(numHMetrics-1)*4:])
	for gid := 0; gid < n; gid++ {
		var adv, lsb uint16
		if gid < numHMetrics {
			adv = binary.BigEndian.Uint16(hmtx[gid*4:])
			lsb = binary.BigEndian.Uint16(hmtx[gid*4+2:])
		} else {
			adv = lastAdvance
			if off := numHMetrics*4 + (gid-numHMetrics)*2; off+2 <= len(hmtx) {
				lsb = binary.BigEndian.Uint16(hmtx[off:])
			}
		}
		out = binary.BigEndian.AppendUint16(out, adv)
		out = binary.BigEndian.AppendUint16(out, lsb)
	}
	return out, nil
}

// assembleFont writes an sfnt file with the given tables, fixing table
// checksums and the head checksum adjustment.
func assembleFont(tables map[string][]byte) []byte {
	tags := make([]string, 0, len(tables))
	for tag := range tables {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	n := len(tags)
	selector := 0
	for 1<<(selector+1) <= n {
		selector++
	}
	searchRange := (1 << selector) * 16

	out := make([]byte, 0, 12+16*n)
	out = binary.BigEndian.AppendUint32(out, 0x00010000)
	out = binary.BigEndian.AppendUint16(out, uint16(n))
	out = binary.BigEndian.AppendUint16(out, uint16(searchRange))
	out = binary.BigEndian.AppendUint16(out, uint16(selector))
	out = binary.BigEndian.AppendUint16(out, uint16(n*16-searchRange))

	offset := 12 + 16*n
	headAt := -1
	for _, tag := range tags {
		data := tables[tag]
		if tag == "head" {
			data = append([]byte(nil), data...)
			binary.BigEndian.PutUint32(data[8:], 0)
			tables[tag] = data
			headAt = offset
		}
		out = append(out, tag...)
		out = binary.BigEndian.AppendUint32(out, checksum(data))
		out = binary.BigEndian.AppendUint32(out, uint32(offset))
		out = binary.BigEndian.AppendUint32(out, uint32(len(data)))
		offset += (len(data) + 3) &^ 3
	}
	for _, tag := range tags {
		out = append(out, tables[tag]...)
		for len(out)%4 != 0 {
			out = append(out, 0)
		}
	}
	if headAt >= 0 {
		binary.BigEndian.PutUint32(out[headAt+8:], 0xB1B0AFBA-checksum(out))
	}
	return out
}

func checksum(data []byte) uint32 {
	var sum uint32
	for i := 0; i < len(data); i += 4 {
		var word [4]byte
		copy(word[:], data[i:])
		sum += binary.BigEndian.Uint32(word[:])
	}
	return sum
}
