// Package report composes figures into paginated PDF documents.
package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jung-kurt/gofpdf/v2"
	"go.uber.org/zap"
)

// RenderOptions is handed to each page producer.
type RenderOptions struct {
	Page     int
	Viewport Rect
	Slots    []Rect
	Locale   string
	Format   *Formatter
}

// PageProducer returns the figures of one page, at most one per slot.
type PageProducer func(ctx context.Context, opts RenderOptions) ([]Figure, error)

// Header is drawn at the top of every page.
type Header struct {
	Title    string
	Subtitle string
}

// Stats describes a rendered document.
type Stats struct {
	Pages int   `json:"pageCount"`
	Size  int64 `json:"size"`
}

// Compositor lays figures out on a grid of slots and writes the document.
type Compositor struct {
	Geometry Geometry
	Grid     Grid
	Locale   string
	logger   *zap.Logger
}

func NewCompositor(geometry Geometry, grid Grid, locale string, logger *zap.Logger) *Compositor {
	return &Compositor{
		Geometry: geometry,
		Grid:     grid.normalized(),
		Locale:   locale,
		logger:   logger,
	}
}

// Render draws one page per producer and writes the document to path.
// Nothing is left at path when an error is returned.
func (c *Compositor) Render(ctx context.Context, path string, header Header, producers []PageProducer) (stats Stats, err error) {
	if len(producers) == 0 {
		return Stats{}, errors.New("report has no page")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Stats{}, err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("render panic: %v", r)
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	g := c.Geometry
	pdf := gofpdf.New(g.Orientation, "mm", g.Size, "")
	pdf.SetMargins(g.Margin, g.Margin+g.HeaderOffset, g.Margin)
	pdf.SetAutoPageBreak(false, g.Margin)
	pdf.AliasNbPages("{nb}")
	pdf.SetTitle(header.Title, true)
	pdf.SetCreator("reportd", true)

	format := NewFormatter(c.Locale)
	p := newPainter(pdf, format, c.Locale)
	c.decorate(p, header)

	viewport := g.Viewport()
	slots := Slots(viewport, c.Grid, g.Margin)

	for i, produce := range producers {
		if err := ctx.Err(); err != nil {
			return Stats{}, err
		}
		pdf.AddPage()

		figures, err := produce(ctx, RenderOptions{
			Page:     i + 1,
			Viewport: viewport,
			Slots:    slots,
			Locale:   c.Locale,
			Format:   format,
		})
		if err != nil {
			return Stats{}, fmt.Errorf("page %d: %w", i+1, err)
		}
		if len(figures) == 0 {
			return Stats{}, fmt.Errorf("page %d has no figure", i+1)
		}
		if len(figures) > len(slots) {
			c.logger.Warn("Page has more figures than slots",
				zap.Int("page", i+1),
				zap.Int("figures", len(figures)),
				zap.Int("slots", len(slots)),
			)
		}

		for n, area := range AssignSlots(len(figures), slots, viewport, c.Grid) {
			if err := c.draw(p, figures[n], area); err != nil {
				return Stats{}, fmt.Errorf("page %d figure %d: %w", i+1, n+1, err)
			}
		}
		if pdf.Err() {
			return Stats{}, pdf.Error()
		}
	}

	pages := pdf.PageNo()
	if err := pdf.OutputFileAndClose(path); err != nil {
		return Stats{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Pages: pages, Size: info.Size()}, nil
}

func (c *Compositor) draw(p *painter, fig Figure, area Rect) error {
	switch f := fig.(type) {
	case *TableFigure:
		p.table(area, f, c.logger)
	case *MarkdownFigure:
		p.markdown(area, f)
	case *MetricFigure:
		p.metric(area, f)
	case *ChartFigure:
		view, err := Compile(f.Spec, f.Data, area, p.format, c.Locale)
		if err != nil {
			return err
		}
		p.view(view)
	default:
		return fmt.Errorf("unsupported figure %T", fig)
	}
	return nil
}

func (c *Compositor) decorate(p *painter, header Header) {
	g := c.Geometry
	pdf := p.pdf

	pdf.SetHeaderFunc(func() {
		p.text(Text{
			Box:   Rect{X: g.Margin, Y: g.Margin, W: g.Width/2 - g.Margin, H: g.HeaderOffset - 4},
			Value: header.Title,
			Size:  14,
			Bold:  true,
			Color: inkColor,
		})
		p.text(Text{
			Box:   Rect{X: g.Width / 2, Y: g.Margin, W: g.Width/2 - g.Margin, H: g.HeaderOffset - 4},
			Value: header.Subtitle,
			Align: "R",
			Size:  9,
			Color: mutedInk,
		})
		pdf.SetDrawColor(DefaultScheme[0].R, DefaultScheme[0].G, DefaultScheme[0].B)
		pdf.SetLineWidth(0.4)
		y := g.Margin + g.HeaderOffset - 3
		pdf.Line(g.Margin, y, g.Width-g.Margin, y)
	})

	pdf.SetFooterFunc(func() {
		p.text(Text{
			Box:   Rect{X: g.Margin, Y: g.Height - g.Margin - g.FooterOffset + 2, W: g.Width - 2*g.Margin, H: g.FooterOffset - 2},
			Value: fmt.Sprintf("%d / {nb}", pdf.PageNo()),
			Align: "C",
			Size:  8,
			Color: mutedInk,
		})
	})
}
