package report

import (
	"math"

	"go.uber.org/zap"
)

const (
	tableTitleHeight  = 7.0
	tableHeaderHeight = 7.0
	tableRowHeight    = 6.0
	tableCellPadding  = 1.5
)

// MaxTableRows is the number of body rows that fit in a slot of the given height.
func MaxTableRows(slotHeight float64) int {
	n := int(math.Floor((slotHeight - tableTitleHeight - tableHeaderHeight) / tableRowHeight))
	if n < 0 {
		return 0
	}
	return n
}

func (p *painter) table(r Rect, fig *TableFigure, logger *zap.Logger) {
	p.text(Text{
		Box:   Rect{X: r.X, Y: r.Y, W: r.W, H: tableTitleHeight},
		Value: fig.Title,
		Size:  10,
		Bold:  true,
		Color: inkColor,
	})

	cols := len(fig.Columns)
	if cols == 0 {
		return
	}

	rows := fig.Rows
	if max := MaxTableRows(r.H); len(rows) > max {
		logger.Warn("Table truncated to fit its slot",
			zap.String("title", fig.Title),
			zap.Int("rows", len(rows)),
			zap.Int("kept", max),
		)
		rows = rows[:max]
	}

	colW := r.W / float64(cols)
	y := r.Y + tableTitleHeight

	p.pdf.SetFillColor(DefaultScheme[0].R, DefaultScheme[0].G, DefaultScheme[0].B)
	p.pdf.Rect(r.X, y, r.W, tableHeaderHeight, "F")
	p.pdf.SetFont(fontFamily, "B", 8)
	p.pdf.SetTextColor(255, 255, 255)
	for i, col := range fig.Columns {
		p.pdf.SetXY(r.X+float64(i)*colW+tableCellPadding, y)
		p.pdf.CellFormat(colW-2*tableCellPadding, tableHeaderHeight, p.fit(col, colW-2*tableCellPadding), "", 0, "LM", false, 0, "")
	}
	y += tableHeaderHeight

	p.pdf.SetFont(fontFamily, "", 8)
	p.pdf.SetTextColor(inkColor.R, inkColor.G, inkColor.B)
	for n, row := range rows {
		if n%2 == 1 {
			p.pdf.SetFillColor(248, 249, 250)
			p.pdf.Rect(r.X, y, r.W, tableRowHeight, "F")
		}
		for i := 0; i < cols && i < len(row); i++ {
			p.pdf.SetXY(r.X+float64(i)*colW+tableCellPadding, y)
			p.pdf.CellFormat(colW-2*tableCellPadding, tableRowHeight, p.fit(row[i], colW-2*tableCellPadding), "", 0, "LM", false, 0, "")
		}
		y += tableRowHeight
	}

	p.pdf.SetDrawColor(gridColor.R, gridColor.G, gridColor.B)
	p.pdf.SetLineWidth(0.2)
	p.pdf.Line(r.X, y, r.Right(), y)
}
