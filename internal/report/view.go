package report

import (
	"math"
	"unicode/utf8"
)

// ShapeKind is a drawing primitive of a compiled chart.
type ShapeKind int

const (
	ShapeRect ShapeKind = iota
	ShapePolygon
	ShapeLine
	ShapeCircle
)

// Point is a page coordinate.
type Point struct {
	X, Y float64
}

// Shape is a positioned primitive. Fill and Stroke are optional.
type Shape struct {
	Kind      ShapeKind
	Rect      Rect
	Points    []Point
	Radius    float64
	Fill      *Color
	Stroke    *Color
	LineWidth float64
}

// Text is a single line drawn in Box with the given alignment ("L", "C", "R").
type Text struct {
	Box   Rect
	Value string
	Align string
	Size  float64
	Bold  bool
	Color Color
}

// View is a chart compiled for one slot: everything is already positioned.
type View struct {
	Bounds Rect
	Plot   Rect
	Shapes []Shape
	Texts  []Text
}

const (
	chartTitleHeight = 7.0
	axisLabelWidth   = 14.0
	axisLabelHeight  = 8.0
	minLabelSpacing  = 12.0
	arcStep          = math.Pi / 60
)

// Compile lays a chart out in bounds.
func Compile(spec ChartSpec, data []Datum, bounds Rect, f *Formatter, locale string) (*View, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	scheme := spec.Scheme
	if len(scheme) == 0 {
		scheme = DefaultScheme
	}

	v := &View{Bounds: bounds}
	top := bounds.Y
	if title := spec.LocalizedTitle(locale); title != "" {
		v.Texts = append(v.Texts, Text{
			Box:   Rect{X: bounds.X, Y: bounds.Y, W: bounds.W, H: chartTitleHeight},
			Value: title,
			Align: "L",
			Size:  10,
			Bold:  true,
			Color: inkColor,
		})
		top += chartTitleHeight + 2
	}

	body := Rect{X: bounds.X, Y: top, W: bounds.W, H: bounds.Bottom() - top}
	if len(data) == 0 {
		v.Plot = body
		v.Texts = append(v.Texts, noData(body))
		return v, nil
	}

	var labels []string
	if spec.DataLabel != nil {
		labels = DataLabels(*spec.DataLabel, data, f)
	}

	if spec.Mark == MarkArc {
		compileArc(v, body, data, labels, scheme)
		return v, nil
	}
	compileCartesian(v, spec, body, data, labels, scheme, f)
	return v, nil
}

func noData(r Rect) Text {
	return Text{Box: r, Value: "No data", Align: "C", Size: 9, Color: mutedInk}
}

func compileCartesian(v *View, spec ChartSpec, body Rect, data []Datum, labels []string, scheme []Color, f *Formatter) {
	plot := Rect{
		X: body.X + axisLabelWidth,
		Y: body.Y + 2,
		W: body.W - axisLabelWidth - 2,
		H: body.H - axisLabelHeight - 2,
	}
	v.Plot = plot

	var max float64
	for _, d := range data {
		max = math.Max(max, d.Value)
	}
	max = niceCeil(max)
	y := func(val float64) float64 {
		if val < 0 {
			val = 0
		}
		return plot.Bottom() - val/max*plot.H
	}

	grid := gridColor
	v.Shapes = append(v.Shapes,
		Shape{Kind: ShapeLine, Points: []Point{{plot.X, plot.Y}, {plot.X, plot.Bottom()}}, Stroke: &grid, LineWidth: 0.2},
		Shape{Kind: ShapeLine, Points: []Point{{plot.X, plot.Bottom()}, {plot.Right(), plot.Bottom()}}, Stroke: &grid, LineWidth: 0.2},
	)
	for _, tick := range []float64{0, max / 2, max} {
		v.Texts = append(v.Texts, Text{
			Box:   Rect{X: body.X, Y: y(tick) - 2, W: axisLabelWidth - 1, H: 4},
			Value: f.Number(tick),
			Align: "R",
			Size:  6,
			Color: mutedInk,
		})
	}

	n := len(data)
	band := plot.W / float64(n)
	step := int(math.Ceil(float64(n) * minLabelSpacing / plot.W))
	if step < 1 {
		step = 1
	}
	perCategory := spec.Encoding.Color != "" && spec.Encoding.Color == spec.Encoding.Label

	var line []Point
	for i, d := range data {
		color := scheme[0]
		if perCategory {
			color = scheme[i%len(scheme)]
		}
		fill := color
		cx := plot.X + band*(float64(i)+0.5)
		top := y(d.Value)

		switch spec.Mark {
		case MarkBar:
			bw := band * 0.7
			v.Shapes = append(v.Shapes, Shape{
				Kind: ShapeRect,
				Rect: Rect{X: cx - bw/2, Y: top, W: bw, H: plot.Bottom() - top},
				Fill: &fill,
			})
		case MarkLine:
			line = append(line, Point{cx, top})
			v.Shapes = append(v.Shapes, Shape{Kind: ShapeCircle, Points: []Point{{cx, top}}, Radius: 0.6, Fill: &fill})
		case MarkPoint:
			v.Shapes = append(v.Shapes, Shape{Kind: ShapeCircle, Points: []Point{{cx, top}}, Radius: 1.2, Fill: &fill})
		}

		if i%step == 0 {
			v.Texts = append(v.Texts, Text{
				Box:   Rect{X: cx - band*float64(step)/2, Y: plot.Bottom() + 1, W: band * float64(step), H: 4},
				Value: truncate(d.Label, 14),
				Align: "C",
				Size:  6,
				Color: mutedInk,
			})
		}
		if i < len(labels) && labels[i] != "" {
			v.Texts = append(v.Texts, Text{
				Box:   Rect{X: cx - band/2, Y: top - 4.5, W: band, H: 4},
				Value: labels[i],
				Align: "C",
				Size:  6,
				Color: inkColor,
			})
		}
	}

	if len(line) > 1 {
		stroke := scheme[0]
		v.Shapes = append(v.Shapes, Shape{Kind: ShapeLine, Points: line, Stroke: &stroke, LineWidth: 0.5})
	}
}

func compileArc(v *View, body Rect, data []Datum, labels []string, scheme []Color) {
	legendW := math.Min(body.W*0.35, 45)
	plot := Rect{X: body.X, Y: body.Y, W: body.W - legendW, H: body.H}
	v.Plot = plot

	var sum float64
	for _, d := range data {
		if d.Value > 0 {
			sum += d.Value
		}
	}
	if sum == 0 {
		v.Texts = append(v.Texts, noData(plot))
		return
	}

	cx, cy := plot.X+plot.W/2, plot.Y+plot.H/2
	r := math.Min(plot.W, plot.H)/2 - 2
	if r < 1 {
		r = 1
	}

	angle := -math.Pi / 2
	for i, d := range data {
		if d.Value <= 0 {
			continue
		}
		sweep := d.Value / sum * 2 * math.Pi
		fill := scheme[i%len(scheme)]
		v.Shapes = append(v.Shapes, Shape{Kind: ShapePolygon, Points: wedge(cx, cy, r, angle, sweep), Fill: &fill})

		if i < len(labels) && labels[i] != "" {
			mid := angle + sweep/2
			lx, ly := cx+math.Cos(mid)*r*0.65, cy+math.Sin(mid)*r*0.65
			v.Texts = append(v.Texts, Text{
				Box:   Rect{X: lx - 10, Y: ly - 2, W: 20, H: 4},
				Value: labels[i],
				Align: "C",
				Size:  7,
				Bold:  true,
				Color: LabelScheme[i%len(LabelScheme)],
			})
		}
		angle += sweep
	}

	for i, d := range data {
		fill := scheme[i%len(scheme)]
		ly := body.Y + 2 + float64(i)*5
		if ly+4 > body.Bottom() {
			break
		}
		v.Shapes = append(v.Shapes, Shape{Kind: ShapeRect, Rect: Rect{X: plot.Right() + 2, Y: ly + 0.5, W: 3, H: 3}, Fill: &fill})
		v.Texts = append(v.Texts, Text{
			Box:   Rect{X: plot.Right() + 6, Y: ly, W: legendW - 6, H: 4},
			Value: truncate(d.Label, 24),
			Align: "L",
			Size:  7,
			Color: inkColor,
		})
	}
}

// wedge approximates a pie slice with a polygon starting at the center.
func wedge(cx, cy, r, start, sweep float64) []Point {
	steps := int(math.Ceil(sweep / arcStep))
	if steps < 1 {
		steps = 1
	}
	pts := make([]Point, 0, steps+2)
	pts = append(pts, Point{cx, cy})
	for s := 0; s <= steps; s++ {
		a := start + sweep*float64(s)/float64(steps)
		pts = append(pts, Point{cx + math.Cos(a)*r, cy + math.Sin(a)*r})
	}
	return pts
}

// niceCeil rounds max up to 1, 2, 2.5, 5 or 10 times a power of ten.
func niceCeil(max float64) float64 {
	if max <= 0 {
		return 1
	}
	exp := math.Pow(10, math.Floor(math.Log10(max)))
	for _, m := range []float64{1, 2, 2.5, 5, 10} {
		if m*exp >= max {
			return m * exp
		}
	}
	return 10 * exp
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
