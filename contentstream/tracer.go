package contentstream

import (
	"fmt"
	"math"

	"github.com/wudi/pdfstamp/coords"
	"github.com/wudi/pdfstamp/ir/raw"
)

// Box is a bounding box in page space.
type Box struct {
	LLX, LLY, URX, URY float64
}

// Mark is one painting operation found by Trace.
type Mark struct {
	OpIndex int
	// Operator is the painting operator: f, S, B, b, s, f* or Do.
	Operator string
	Box      Box
	// Fill is the non-stroking RGB color in effect.
	Fill [3]float64
	// Stroke is the stroking RGB color in effect.
	Stroke [3]float64
	// ExtGState is the last graphics state dictionary selected with gs.
	ExtGState string
	// XObject names the painted object for Do.
	XObject string
}

type traceState struct {
	ctm    coords.Matrix
	fill   [3]float64
	stroke [3]float64
	gs     string
}

// Trace executes ops virtually and reports every painting operation with
// the page-space bounds of what it paints. Line widths are not included in
// the bounds.
func Trace(ops []Operation) ([]Mark, error) {
	st := traceState{ctm: coords.Identity()}
	var stack []traceState
	var marks []Mark
	var path []coords.Point

	for i, op := range ops {
		switch op.Operator {
		case "q":
			stack = append(stack, st)
		case "Q":
			if len(stack) == 0 {
				return nil, fmt.Errorf("operation %d: state stack empty", i)
			}
			st = stack[len(stack)-1]
			stack = stack[:len(stack)-1]
		case "cm":
			if len(op.Operands) == 6 {
				st.ctm = operandsToMatrix(op.Operands).Multiply(st.ctm)
			}
		case "rg":
			if len(op.Operands) == 3 {
				st.fill = [3]float64{operandToFloat(op.Operands[0]), operandToFloat(op.Operands[1]), operandToFloat(op.Operands[2])}
			}
		case "RG":
			if len(op.Operands) == 3 {
				st.stroke = [3]float64{operandToFloat(op.Operands[0]), operandToFloat(op.Operands[1]), operandToFloat(op.Operands[2])}
			}
		case "gs":
			if len(op.Operands) == 1 {
				if n, ok := op.Operands[0].(raw.NameObj); ok {
					st.gs = n.Val
				}
			}
		case "re":
			if len(op.Operands) == 4 {
				x, y := operandToFloat(op.Operands[0]), operandToFloat(op.Operands[1])
				w, h := operandToFloat(op.Operands[2]), operandToFloat(op.Operands[3])
				path = append(path,
					st.ctm.Transform(coords.Point{X: x, Y: y}),
					st.ctm.Transform(coords.Point{X: x + w, Y: y}),
					st.ctm.Transform(coords.Point{X: x, Y: y + h}),
					st.ctm.Transform(coords.Point{X: x + w, Y: y + h}))
			}
		case "m", "l":
			if len(op.Operands) == 2 {
				path = append(path, st.ctm.Transform(coords.Point{X: operandToFloat(op.Operands[0]), Y: operandToFloat(op.Operands[1])}))
			}
		case "c":
			// control points bound the curve
			for j := 0; j+1 < len(op.Operands); j += 2 {
				path = append(path, st.ctm.Transform(coords.Point{X: operandToFloat(op.Operands[j]), Y: operandToFloat(op.Operands[j+1])}))
			}
		case "f", "f*", "F", "S", "s", "B", "B*", "b", "b*":
			if len(path) > 0 {
				marks = append(marks, Mark{OpIndex: i, Operator: op.Operator, Box: pointsToBox(path...), Fill: st.fill, Stroke: st.stroke, ExtGState: st.gs})
			}
			path = path[:0]
		case "n":
			path = path[:0]
		case "Do":
			if len(op.Operands) == 1 {
				name, _ := op.Operands[0].(raw.NameObj)
				// XObjects paint into the unit square
				box := pointsToBox(
					st.ctm.Transform(coords.Point{X: 0, Y: 0}),
					st.ctm.Transform(coords.Point{X: 1, Y: 0}),
					st.ctm.Transform(coords.Point{X: 0, Y: 1}),
					st.ctm.Transform(coords.Point{X: 1, Y: 1}))
				marks = append(marks, Mark{OpIndex: i, Operator: "Do", Box: box, Fill: st.fill, Stroke: st.stroke, ExtGState: st.gs, XObject: name.Val})
			}
		}
	}
	return marks, nil
}

func operandsToMatrix(ops []raw.Object) coords.Matrix {
	var m coords.Matrix
	for i := range m {
		m[i] = operandToFloat(ops[i])
	}
	return m
}

func operandToFloat(op raw.Object) float64 {
	if n, ok := op.(raw.NumberObj); ok {
		return n.Float()
	}
	return 0
}

func pointsToBox(points ...coords.Point) Box {
	minX, minY := math.MaxFloat64, math.MaxFloat64
	maxX, maxY := -math.MaxFloat64, -math.MaxFloat64
	for _, p := range points {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return Box{LLX: minX, LLY: minY, URX: maxX, URY: maxY}
}
