package report

// Rect is an area of a page in millimetres, origin at the top-left corner.
type Rect struct {
	X, Y, W, H float64
}

func (r Rect) Right() float64  { return r.X + r.W }
func (r Rect) Bottom() float64 { return r.Y + r.H }

// Inset shrinks the rectangle by d on every side.
func (r Rect) Inset(d float64) Rect {
	out := Rect{X: r.X + d, Y: r.Y + d, W: r.W - 2*d, H: r.H - 2*d}
	if out.W < 0 {
		out.W = 0
	}
	if out.H < 0 {
		out.H = 0
	}
	return out
}

// Geometry is the page setup of a document.
type Geometry struct {
	Orientation  string // "P" or "L"
	Size         string // gofpdf page size name
	Width        float64
	Height       float64
	Margin       float64
	HeaderOffset float64
	FooterOffset float64
}

// DefaultGeometry is an A4 landscape page.
func DefaultGeometry() Geometry {
	return Geometry{
		Orientation:  "L",
		Size:         "A4",
		Width:        297,
		Height:       210,
		Margin:       10,
		HeaderOffset: 14,
		FooterOffset: 8,
	}
}

// Viewport is the page minus margins and the header and footer offsets.
func (g Geometry) Viewport() Rect {
	return Rect{
		X: g.Margin,
		Y: g.Margin + g.HeaderOffset,
		W: g.Width - 2*g.Margin,
		H: g.Height - 2*g.Margin - g.HeaderOffset - g.FooterOffset,
	}
}

// Grid is the number of slot columns and rows of a page.
type Grid struct {
	Cols, Rows int
}

// DefaultGrid is the 2x2 quadrant layout.
var DefaultGrid = Grid{Cols: 2, Rows: 2}

func (g Grid) normalized() Grid {
	if g.Cols <= 0 {
		g.Cols = DefaultGrid.Cols
	}
	if g.Rows <= 0 {
		g.Rows = DefaultGrid.Rows
	}
	return g
}

// Slots divides the viewport into grid cells, row by row, separated by
// half-margin gutters.
func Slots(viewport Rect, grid Grid, margin float64) []Rect {
	grid = grid.normalized()
	gutter := margin / 2
	w := (viewport.W - gutter*float64(grid.Cols-1)) / float64(grid.Cols)
	h := (viewport.H - gutter*float64(grid.Rows-1)) / float64(grid.Rows)

	slots := make([]Rect, 0, grid.Cols*grid.Rows)
	for row := 0; row < grid.Rows; row++ {
		for col := 0; col < grid.Cols; col++ {
			slots = append(slots, Rect{
				X: viewport.X + float64(col)*(w+gutter),
				Y: viewport.Y + float64(row)*(h+gutter),
				W: w,
				H: h,
			})
		}
	}
	return slots
}

// AssignSlots returns the area of each of the first min(n, len(slots)) figures.
//
// A single figure takes the whole viewport. When the figures fit on the first
// row and leave at least two slots empty, they are stretched to the full
// viewport height. A last figure landing on the second-to-last slot absorbs
// the trailing slot so no empty cell is left behind.
func AssignSlots(n int, slots []Rect, viewport Rect, grid Grid) []Rect {
	grid = grid.normalized()
	count := n
	if count > len(slots) {
		count = len(slots)
	}
	if count <= 0 {
		return nil
	}
	if count == 1 {
		return []Rect{viewport}
	}

	singleRow := count <= len(slots)-2 && count <= grid.Cols
	out := make([]Rect, count)
	for i := 0; i < count; i++ {
		r := slots[i]
		if singleRow {
			r.Y = viewport.Y
			r.H = viewport.H
		}
		if i == len(slots)-2 && i == count-1 {
			trailing := slots[len(slots)-1]
			if trailing.Y == r.Y {
				r.W = trailing.Right() - r.X
			} else {
				r.H = trailing.Bottom() - r.Y
			}
			if grid.Rows == 1 {
				r.Y = viewport.Y
				r.H = viewport.H
			}
		}
		out[i] = r
	}
	return out
}
