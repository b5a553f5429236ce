package report

import "fmt"

// Mark is the graphical primitive a chart draws its data with.
type Mark string

const (
	MarkBar   Mark = "bar"
	MarkLine  Mark = "line"
	MarkArc   Mark = "arc"
	MarkPoint Mark = "point"
)

// Encoding names the data fields bound to the value, label and color channels.
// Color is either empty (one color for the series) or the label field, which
// colors every category with its own scheme entry.
type Encoding struct {
	Value string `json:"value"`
	Label string `json:"label"`
	Color string `json:"color,omitempty"`
}

// DataLabelFormat selects how data labels are written.
type DataLabelFormat string

const (
	LabelPercent DataLabelFormat = "percent"
	LabelRaw     DataLabelFormat = "raw"
)

// DefaultPercentMinValue hides percent labels for slices under 2 %.
const DefaultPercentMinValue = 0.02

// DataLabelSpec is the optional data-label layer of a chart. MinValue is a
// share of the total in percent mode and a raw value otherwise.
type DataLabelSpec struct {
	Format   DataLabelFormat `json:"format"`
	MinValue *float64        `json:"minValue,omitempty"`
}

func (d DataLabelSpec) threshold() float64 {
	if d.MinValue != nil {
		return *d.MinValue
	}
	if d.Format == LabelPercent {
		return DefaultPercentMinValue
	}
	return 0
}

// ChartSpec is a declarative chart description, compiled to a View per slot.
type ChartSpec struct {
	Mark      Mark              `json:"mark"`
	Title     string            `json:"title,omitempty"`
	Titles    map[string]string `json:"titles,omitempty"`
	Encoding  Encoding          `json:"encoding"`
	DataLabel *DataLabelSpec    `json:"dataLabel,omitempty"`
	Scheme    []Color           `json:"scheme,omitempty"`
}

// LocalizedTitle picks the title for locale, falling back to Title.
func (s ChartSpec) LocalizedTitle(locale string) string {
	if t, ok := s.Titles[locale]; ok && t != "" {
		return t
	}
	return s.Title
}

func (s ChartSpec) validate() error {
	switch s.Mark {
	case MarkBar, MarkLine, MarkArc, MarkPoint:
	default:
		return fmt.Errorf("unsupported chart mark %q", s.Mark)
	}
	if s.DataLabel != nil {
		switch s.DataLabel.Format {
		case LabelPercent, LabelRaw:
		default:
			return fmt.Errorf("unsupported data label format %q", s.DataLabel.Format)
		}
	}
	return nil
}

// Datum is one point of a single-series chart.
type Datum struct {
	Label string
	Value float64
}

// Color is an RGB color.
type Color struct {
	R, G, B int
}

// DefaultScheme is the categorical palette applied per series or category.
var DefaultScheme = []Color{
	{78, 121, 167}, {242, 142, 43}, {225, 87, 89}, {118, 183, 178}, {89, 161, 79},
	{237, 201, 72}, {176, 122, 161}, {255, 157, 167}, {156, 117, 95}, {186, 176, 172},
}

// LabelScheme holds the label color drawn over the DefaultScheme entry of the same index.
var LabelScheme = []Color{
	{255, 255, 255}, {33, 37, 41}, {255, 255, 255}, {33, 37, 41}, {255, 255, 255},
	{33, 37, 41}, {255, 255, 255}, {33, 37, 41}, {255, 255, 255}, {33, 37, 41},
}

var (
	inkColor  = Color{33, 37, 41}
	gridColor = Color{173, 181, 189}
	mutedInk  = Color{108, 117, 125}
)

// DataLabels returns the label of each datum, or "" when it is hidden.
// Percent labels show when value/sum >= MinValue; raw labels when value >= MinValue.
func DataLabels(spec DataLabelSpec, data []Datum, f *Formatter) []string {
	out := make([]string, len(data))
	min := spec.threshold()

	if spec.Format == LabelPercent {
		var sum float64
		for _, d := range data {
			sum += d.Value
		}
		if sum == 0 {
			return out
		}
		for i, d := range data {
			if ratio := d.Value / sum; ratio >= min {
				out[i] = f.Percent(ratio)
			}
		}
		return out
	}

	for i, d := range data {
		if d.Value >= min {
			out[i] = f.Number(d.Value)
		}
	}
	return out
}
