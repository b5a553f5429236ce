package report

// Figure is one visual unit placed in a slot. The set of figures is closed:
// ChartFigure, TableFigure, MarkdownFigure and MetricFigure.
type Figure interface {
	isFigure()
}

// ChartFigure is drawn from a declarative chart specification.
type ChartFigure struct {
	Spec ChartSpec
	Data []Datum
}

// TableFigure is a titled table. Rows that do not fit in the slot are dropped.
type TableFigure struct {
	Title   string
	Columns []string
	Rows    [][]string
}

// MarkdownFigure is a block of lightweight markdown text.
type MarkdownFigure struct {
	Title string
	Text  string
}

// MetricFigure shows a single number.
type MetricFigure struct {
	Title string
	Value float64
	Unit  string
}

func (*ChartFigure) isFigure()    {}
func (*TableFigure) isFigure()    {}
func (*MarkdownFigure) isFigure() {}
func (*MetricFigure) isFigure()   {}
