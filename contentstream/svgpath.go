package contentstream

import (
	"fmt"
	"math"
	"strconv"
)

// ParseSVGPath converts SVG path data into a Path in SVG user space.
// Quadratic segments are raised to cubics and elliptical arcs are
// approximated with at most one cubic per quarter turn.
func ParseSVGPath(d string) (Path, error) {
	var (
		p        Path
		lx       = svgLexer{s: d}
		cmd      byte
		prev     byte
		cur      svgPoint
		start    svgPoint
		lastCtrl svgPoint
	)
	// begin makes sure drawing commands have a subpath to extend
	begin := func() {
		if n := len(p.Subpaths); n == 0 || p.Subpaths[n-1].Closed {
			p.MoveTo(cur.x, cur.y)
			start = cur
		}
	}
	for {
		lx.skipSeparators()
		if lx.done() {
			break
		}
		if c := lx.peek(); isCommand(c) {
			cmd = c
			lx.pos++
		} else if cmd == 0 {
			return Path{}, fmt.Errorf("svg path: expected a command at offset %d", lx.pos)
		} else if upper(cmd) == 'Z' {
			return Path{}, fmt.Errorf("svg path: unexpected number at offset %d", lx.pos)
		}
		rel := cmd >= 'a'
		base := svgPoint{}
		if rel {
			base = cur
		}

		switch upper(cmd) {
		case 'M':
			v, err := lx.numbers(2)
			if err != nil {
				return Path{}, err
			}
			cur = svgPoint{base.x + v[0], base.y + v[1]}
			p.MoveTo(cur.x, cur.y)
			start = cur
			// further pairs are implicit lineto commands
			if rel {
				cmd = 'l'
			} else {
				cmd = 'L'
			}
		case 'Z':
			p.Close()
			cur = start
		case 'L':
			v, err := lx.numbers(2)
			if err != nil {
				return Path{}, err
			}
			begin()
			cur = svgPoint{base.x + v[0], base.y + v[1]}
			p.LineTo(cur.x, cur.y)
		case 'H':
			v, err := lx.numbers(1)
			if err != nil {
				return Path{}, err
			}
			begin()
			cur = svgPoint{base.x + v[0], cur.y}
			p.LineTo(cur.x, cur.y)
		case 'V':
			v, err := lx.numbers(1)
			if err != nil {
				return Path{}, err
			}
			begin()
			y := v[0]
			if rel {
				y += cur.y
			}
			cur = svgPoint{cur.x, y}
			p.LineTo(cur.x, cur.y)
		case 'C':
			v, err := lx.numbers(6)
			if err != nil {
				return Path{}, err
			}
			begin()
			c1 := svgPoint{base.x + v[0], base.y + v[1]}
			c2 := svgPoint{base.x + v[2], base.y + v[3]}
			cur = svgPoint{base.x + v[4], base.y + v[5]}
			p.CurveTo(c1.x, c1.y, c2.x, c2.y, cur.x, cur.y)
			lastCtrl = c2
		case 'S':
			v, err := lx.numbers(4)
			if err != nil {
				return Path{}, err
			}
			begin()
			c1 := cur
			if prev == 'C' || prev == 'S' {
				c1 = cur.reflect(lastCtrl)
			}
			c2 := svgPoint{base.x + v[0], base.y + v[1]}
			cur = svgPoint{base.x + v[2], base.y + v[3]}
			p.CurveTo(c1.x, c1.y, c2.x, c2.y, cur.x, cur.y)
			lastCtrl = c2
		case 'Q':
			v, err := lx.numbers(4)
			if err != nil {
				return Path{}, err
			}
			begin()
			q := svgPoint{base.x + v[0], base.y + v[1]}
			end := svgPoint{base.x + v[2], base.y + v[3]}
			quadTo(&p, cur, q, end)
			cur, lastCtrl = end, q
		case 'T':
			v, err := lx.numbers(2)
			if err != nil {
				return Path{}, err
			}
			begin()
			q := cur
			if prev == 'Q' || prev == 'T' {
				q = cur.reflect(lastCtrl)
			}
			end := svgPoint{base.x + v[0], base.y + v[1]}
			quadTo(&p, cur, q, end)
			cur, lastCtrl = end, q
		case 'A':
			rx, err := lx.number()
			if err != nil {
				return Path{}, err
			}
			ry, err := lx.number()
			if err != nil {
				return Path{}, err
			}
			rot, err := lx.number()
			if err != nil {
				return Path{}, err
			}
			large, err := lx.flag()
			if err != nil {
				return Path{}, err
			}
			sweep, err := lx.flag()
			if err != nil {
				return Path{}, err
			}
			v, err := lx.numbers(2)
			if err != nil {
				return Path{}, err
			}
			begin()
			end := svgPoint{base.x + v[0], base.y + v[1]}
			arcTo(&p, cur, end, rx, ry, rot, large, sweep)
			cur = end
		default:
			return Path{}, fmt.Errorf("svg path: unknown command %q", cmd)
		}
		prev = upper(cmd)
	}
	return p, nil
}

type svgPoint struct{ x, y float64 }

// reflect mirrors c around the receiver.
func (o svgPoint) reflect(c svgPoint) svgPoint { return svgPoint{2*o.x - c.x, 2*o.y - c.y} }

func quadTo(p *Path, from, q, to svgPoint) {
	c1 := svgPoint{from.x + 2.0/3.0*(q.x-from.x), from.y + 2.0/3.0*(q.y-from.y)}
	c2 := svgPoint{to.x + 2.0/3.0*(q.x-to.x), to.y + 2.0/3.0*(q.y-to.y)}
	p.CurveTo(c1.x, c1.y, c2.x, c2.y, to.x, to.y)
}

// arcTo follows the endpoint to center conversion of the SVG implementation
// notes and emits one cubic per segment of at most 90 degrees.
func arcTo(p *Path, from, to svgPoint, rx, ry, rotDeg float64, large, sweep bool) {
	if from == to {
		return
	}
	rx, ry = math.Abs(rx), math.Abs(ry)
	if rx == 0 || ry == 0 {
		p.LineTo(to.x, to.y)
		return
	}
	phi := rotDeg * math.Pi / 180
	cosPhi, sinPhi := math.Cos(phi), math.Sin(phi)

	dx2, dy2 := (from.x-to.x)/2, (from.y-to.y)/2
	x1p := cosPhi*dx2 + sinPhi*dy2
	y1p := -sinPhi*dx2 + cosPhi*dy2

	if lambda := x1p*x1p/(rx*rx) + y1p*y1p/(ry*ry); lambda > 1 {
		s := math.Sqrt(lambda)
		rx, ry = rx*s, ry*s
	}
	num := rx*rx*ry*ry - rx*rx*y1p*y1p - ry*ry*x1p*x1p
	den := rx*rx*y1p*y1p + ry*ry*x1p*x1p
	coef := 0.0
	if den != 0 && num > 0 {
		coef = math.Sqrt(num / den)
	}
	if large == sweep {
		coef = -coef
	}
	cxp := coef * rx * y1p / ry
	cyp := -coef * ry * x1p / rx
	cx := cosPhi*cxp - sinPhi*cyp + (from.x+to.x)/2
	cy := sinPhi*cxp + cosPhi*cyp + (from.y+to.y)/2

	theta1 := vectorAngle(1, 0, (x1p-cxp)/rx, (y1p-cyp)/ry)
	dtheta := vectorAngle((x1p-cxp)/rx, (y1p-cyp)/ry, (-x1p-cxp)/rx, (-y1p-cyp)/ry)
	if !sweep && dtheta > 0 {
		dtheta -= 2 * math.Pi
	} else if sweep && dtheta < 0 {
		dtheta += 2 * math.Pi
	}

	segments := int(math.Ceil(math.Abs(dtheta) / (math.Pi / 2)))
	if segments < 1 {
		segments = 1
	}
	delta := dtheta / float64(segments)
	t := 4.0 / 3.0 * math.Tan(delta/4)
	mapPt := func(ux, uy float64) svgPoint {
		return svgPoint{
			cx + rx*cosPhi*ux - ry*sinPhi*uy,
			cy + rx*sinPhi*ux + ry*cosPhi*uy,
		}
	}
	for i := 0; i < segments; i++ {
		a1 := theta1 + float64(i)*delta
		a2 := a1 + delta
		cos1, sin1 := math.Cos(a1), math.Sin(a1)
		cos2, sin2 := math.Cos(a2), math.Sin(a2)
		c1 := mapPt(cos1-t*sin1, sin1+t*cos1)
		c2 := mapPt(cos2+t*sin2, sin2-t*cos2)
		end := mapPt(cos2, sin2)
		if i == segments-1 {
			end = to
		}
		p.CurveTo(c1.x, c1.y, c2.x, c2.y, end.x, end.y)
	}
}

func vectorAngle(ux, uy, vx, vy float64) float64 {
	return math.Atan2(ux*vy-uy*vx, ux*vx+uy*vy)
}

func isCommand(c byte) bool {
	switch upper(c) {
	case 'M', 'Z', 'L', 'H', 'V', 'C', 'S', 'Q', 'T', 'A':
		return true
	}
	return false
}

func upper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}

type svgLexer struct {
	s   string
	pos int
}

func (l *svgLexer) done() bool { return l.pos >= len(l.s) }
func (l *svgLexer) peek() byte { return l.s[l.pos] }

func (l *svgLexer) skipSeparators() {
	for l.pos < len(l.s) {
		switch l.s[l.pos] {
		case ' ', '\t', '\n', '\r', '\f', ',':
			l.pos++
		default:
			return
		}
	}
}

func (l *svgLexer) numbers(n int) ([]float64, error) {
	out := make([]float64, n)
	for i := range out {
		v, err := l.number()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// number reads one coordinate. "1.5.5" is two numbers and "1-2" is too.
func (l *svgLexer) number() (float64, error) {
	l.skipSeparators()
	start := l.pos
	if l.pos < len(l.s) && (l.s[l.pos] == '+' || l.s[l.pos] == '-') {
		l.pos++
	}
	digits := 0
	for l.pos < len(l.s) && isDigit(l.s[l.pos]) {
		l.pos++
		digits++
	}
	if l.pos < len(l.s) && l.s[l.pos] == '.' {
		l.pos++
		for l.pos < len(l.s) && isDigit(l.s[l.pos]) {
			l.pos++
			digits++
		}
	}
	if digits == 0 {
		l.pos = start
		return 0, fmt.Errorf("svg path: expected a number at offset %d", start)
	}
	if l.pos < len(l.s) && (l.s[l.pos] == 'e' || l.s[l.pos] == 'E') {
		mark := l.pos
		l.pos++
		if l.pos < len(l.s) && (l.s[l.pos] == '+' || l.s[l.pos] == '-') {
			l.pos++
		}
		expDigits := 0
		for l.pos < len(l.s) && isDigit(l.s[l.pos]) {
			l.pos++
			expDigits++
		}
		if expDigits == 0 {
			l.pos = mark
		}
	}
	v, err := strconv.ParseFloat(l.s[start:l.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("svg path: %w", err)
	}
	return v, nil
}

// flag reads an arc flag, which may be written without a separator.
func (l *svgLexer) flag() (bool, error) {
	l.skipSeparators()
	if l.pos < len(l.s) {
		switch l.s[l.pos] {
		case '0':
			l.pos++
			return false, nil
		case '1':
			l.pos++
			return true, nil
		}
	}
	return false, fmt.Errorf("svg path: expected an arc flag at offset %d", l.pos)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
