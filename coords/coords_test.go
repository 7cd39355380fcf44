package coords

import (
	"math"
	"slices"
	"testing"
)

func TestFlipY(t *testing.T) {
	tests := []struct {
		name                  string
		pageHeight, y, height float64
		want                  float64
	}{
		{"box", 792, 100, 50, 642},
		{"zero height", 792, 100, 0, 692},
		{"top edge", 200, 0, 50, 150},
		{"past bottom", 200, 190, 20, -10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FlipY(tt.pageHeight, tt.y, tt.height); got != tt.want {
				t.Fatalf("FlipY(%v, %v, %v) = %v, want %v", tt.pageHeight, tt.y, tt.height, got, tt.want)
			}
		})
	}
}

// page is an editor-space limit wide enough not to clip.
var page = Rect{X: -1000, Y: -1000, Width: 1e4, Height: 1e4}

func TestTilesCoverBox(t *testing.T) {
	tiles := slices.Collect(Tiles(500, Rect{X: 20, Y: 30, Width: 40, Height: 40}, page, 10))
	if len(tiles) != 16 {
		t.Fatalf("expected 16 tiles, got %d", len(tiles))
	}
	first := tiles[0]
	if first.X != 20 || first.Y != 500-30-10 {
		t.Fatalf("unexpected first tile %+v", first)
	}
	for _, r := range tiles {
		if r.Width != 10 || r.Height != 10 {
			t.Fatalf("tiles are drawn full size, got %+v", r)
		}
		if r.X < 20 || r.X+r.Width > 20+40+10 {
			t.Fatalf("tile x outside box: %+v", r)
		}
		if r.Y < 500-30-40-10 || r.Y+r.Height > 500-30 {
			t.Fatalf("tile y outside box: %+v", r)
		}
	}
}

func TestTilesPartial(t *testing.T) {
	// 25 wide needs three columns, the last one overhanging by five units
	tiles := slices.Collect(Tiles(100, Rect{Width: 25, Height: 5}, page, 10))
	if len(tiles) != 3 {
		t.Fatalf("expected 3 tiles, got %d", len(tiles))
	}
	if tiles[2].X != 20 {
		t.Fatalf("unexpected last column %+v", tiles[2])
	}
	if n := len(slices.Collect(Tiles(100, Rect{Height: 10}, page, 10))); n != 0 {
		t.Fatalf("empty box has %d tiles", n)
	}
}

func TestTilesClampedToLimit(t *testing.T) {
	limit := Rect{X: -10, Y: -10, Width: 320, Height: 220}
	tests := []struct {
		name       string
		box        Rect
		cols, rows int
		firstX     float64
	}{
		{"huge", Rect{Width: 1e6, Height: 1e6}, 31, 21, 0},
		{"beyond float range", Rect{X: -1e300, Y: -1e300, Width: math.MaxFloat64, Height: math.MaxFloat64}, 32, 22, -10},
		{"grid kept", Rect{X: -995, Y: 5, Width: 2000, Height: 10}, 33, 1, -15},
		{"outside", Rect{X: 400, Y: 0, Width: 50, Height: 50}, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tiles := slices.Collect(Tiles(200, tt.box, limit, 10))
			if len(tiles) != tt.cols*tt.rows {
				t.Fatalf("expected %dx%d tiles, got %d", tt.cols, tt.rows, len(tiles))
			}
			if len(tiles) > 0 && tiles[0].X != tt.firstX {
				t.Fatalf("first tile at x=%v, want %v", tiles[0].X, tt.firstX)
			}
		})
	}
}

func TestTilesStopEarly(t *testing.T) {
	n := 0
	for range Tiles(200, Rect{Width: 1e9, Height: 1e9}, page, 10) {
		if n++; n == 5 {
			break
		}
	}
	if n != 5 {
		t.Fatalf("visited %d tiles", n)
	}
}

func TestMatrixInverse(t *testing.T) {
	m := Translate(10, 20).Multiply(Scale(2, -2))
	inv, err := m.Inverse()
	if err != nil {
		t.Fatalf("inverse: %v", err)
	}
	p := m.Transform(Point{X: 3, Y: 4})
	back := inv.Transform(p)
	if math.Abs(back.X-3) > 1e-9 || math.Abs(back.Y-4) > 1e-9 {
		t.Fatalf("round trip lost precision: %+v", back)
	}
	if _, err := Scale(0, 1).Inverse(); err == nil {
		t.Fatalf("singular matrix should not invert")
	}
}
