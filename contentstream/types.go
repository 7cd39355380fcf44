package contentstream

// LineCap represents the line cap style (J operator).
type LineCap int

const (
	LineCapButt LineCap = iota
	LineCapRound
	LineCapSquare
)

// LineJoin represents the line join style (j operator).
type LineJoin int

const (
	LineJoinMiter LineJoin = iota
	LineJoinRound
	LineJoinBevel
)

// Path describes a graphics path made of subpaths.
type Path struct {
	Subpaths []Subpath
}

// Subpath describes a portion of a path.
type Subpath struct {
	Points []PathPoint
	Closed bool
}

// PathPoint identifies a path segment and its coordinates.
type PathPoint struct {
	X, Y                 float64
	Type                 PathPointType
	Control1X, Control1Y float64
	Control2X, Control2Y float64
}

// PathPointType enumerates path segment types.
type PathPointType int

const (
	PathMoveTo PathPointType = iota
	PathLineTo
	PathCurveTo
)

// MoveTo starts a new subpath.
func (p *Path) MoveTo(x, y float64) {
	p.Subpaths = append(p.Subpaths, Subpath{Points: []PathPoint{{X: x, Y: y, Type: PathMoveTo}}})
}

func (p *Path) LineTo(x, y float64) {
	p.add(PathPoint{X: x, Y: y, Type: PathLineTo})
}

func (p *Path) CurveTo(c1x, c1y, c2x, c2y, x, y float64) {
	p.add(PathPoint{X: x, Y: y, Type: PathCurveTo, Control1X: c1x, Control1Y: c1y, Control2X: c2x, Control2Y: c2y})
}

// Close marks the current subpath closed.
func (p *Path) Close() {
	if n := len(p.Subpaths); n > 0 {
		p.Subpaths[n-1].Closed = true
	}
}

func (p *Path) add(pt PathPoint) {
	n := len(p.Subpaths)
	if n == 0 || p.Subpaths[n-1].Closed {
		// a segment without a current point starts at the origin
		p.MoveTo(0, 0)
		n = len(p.Subpaths)
	}
	p.Subpaths[n-1].Points = append(p.Subpaths[n-1].Points, pt)
}

// Empty reports whether the path has no segments at all.
func (p Path) Empty() bool {
	return len(p.Subpaths) == 0
}
