package report

func (p *painter) metric(r Rect, fig *MetricFigure) {
	p.text(Text{Box: Rect{X: r.X, Y: r.Y, W: r.W, H: tableTitleHeight}, Value: fig.Title, Size: 10, Bold: true, Color: inkColor})

	mid := r.Y + r.H/2
	p.text(Text{
		Box:   Rect{X: r.X, Y: mid - 8, W: r.W, H: 14},
		Value: p.format.Number(fig.Value),
		Align: "C",
		Size:  28,
		Bold:  true,
		Color: DefaultScheme[0],
	})
	if fig.Unit != "" {
		p.text(Text{Box: Rect{X: r.X, Y: mid + 7, W: r.W, H: 5}, Value: fig.Unit, Align: "C", Size: 9, Color: mutedInk})
	}
}
