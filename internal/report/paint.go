package report

import (
	"github.com/jung-kurt/gofpdf/v2"
)

const fontFamily = "Helvetica"

// painter draws onto one document. Text goes through the cp1252 translator
// used by the core fonts.
type painter struct {
	pdf    *gofpdf.Fpdf
	tr     func(string) string
	format *Formatter
	locale string
}

func newPainter(pdf *gofpdf.Fpdf, f *Formatter, locale string) *painter {
	return &painter{
		pdf:    pdf,
		tr:     pdf.UnicodeTranslatorFromDescriptor(""),
		format: f,
		locale: locale,
	}
}

func (p *painter) text(t Text) {
	style := ""
	if t.Bold {
		style = "B"
	}
	p.pdf.SetFont(fontFamily, style, t.Size)
	p.pdf.SetTextColor(t.Color.R, t.Color.G, t.Color.B)
	p.pdf.SetXY(t.Box.X, t.Box.Y)
	align := t.Align
	if align == "" {
		align = "L"
	}
	p.pdf.CellFormat(t.Box.W, t.Box.H, p.tr(plainSpaces(t.Value)), "", 0, align+"M", false, 0, "")
}

func (p *painter) shape(s Shape) {
	style := ""
	if s.Fill != nil {
		p.pdf.SetFillColor(s.Fill.R, s.Fill.G, s.Fill.B)
		style += "F"
	}
	if s.Stroke != nil {
		p.pdf.SetDrawColor(s.Stroke.R, s.Stroke.G, s.Stroke.B)
		style += "D"
	}
	if s.LineWidth > 0 {
		p.pdf.SetLineWidth(s.LineWidth)
	}

	switch s.Kind {
	case ShapeRect:
		p.pdf.Rect(s.Rect.X, s.Rect.Y, s.Rect.W, s.Rect.H, style)
	case ShapePolygon:
		pts := make([]gofpdf.PointType, len(s.Points))
		for i, pt := range s.Points {
			pts[i] = gofpdf.PointType{X: pt.X, Y: pt.Y}
		}
		p.pdf.Polygon(pts, style)
	case ShapeLine:
		for i := 1; i < len(s.Points); i++ {
			p.pdf.Line(s.Points[i-1].X, s.Points[i-1].Y, s.Points[i].X, s.Points[i].Y)
		}
	case ShapeCircle:
		if len(s.Points) > 0 {
			p.pdf.Circle(s.Points[0].X, s.Points[0].Y, s.Radius, style)
		}
	}
}

// view paints a compiled chart, clipped to its bounds.
func (p *painter) view(v *View) {
	p.pdf.ClipRect(v.Bounds.X, v.Bounds.Y, v.Bounds.W, v.Bounds.H, false)
	defer p.pdf.ClipEnd()

	for _, s := range v.Shapes {
		p.shape(s)
	}
	for _, t := range v.Texts {
		p.text(t)
	}
}

// fit shortens s until it is at most w wide in the current font.
func (p *painter) fit(s string, w float64) string {
	s = p.tr(plainSpaces(s))
	if p.pdf.GetStringWidth(s) <= w {
		return s
	}
	r := []byte(s)
	for len(r) > 0 && p.pdf.GetStringWidth(string(r)+"...") > w {
		r = r[:len(r)-1]
	}
	return string(r) + "..."
}

// splitLines wraps s to width w. SplitText measures runes against the
// single-byte font tables, so the encoded bytes are passed as runes below 256.
func (p *painter) splitLines(s string, w float64) []string {
	enc := p.tr(plainSpaces(s))
	runes := make([]rune, len(enc))
	for i := 0; i < len(enc); i++ {
		runes[i] = rune(enc[i])
	}

	lines := p.pdf.SplitText(string(runes), w)
	for i, line := range lines {
		b := make([]byte, 0, len(line))
		for _, r := range line {
			b = append(b, byte(r))
		}
		lines[i] = string(b)
	}
	return lines
}
