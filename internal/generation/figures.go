package generation

import (
	"encoding/json"
	"fmt"
	"time"

	"reportd/internal/models"
	"reportd/internal/report"
)

// figureParams are the type-specific settings a FigureSpec may carry.
type figureParams struct {
	Columns   []string              `json:"columns"`
	Fields    []string              `json:"fields"`
	Text      string                `json:"text"`
	Unit      string                `json:"unit"`
	Titles    map[string]string     `json:"titles"`
	DataLabel *report.DataLabelSpec `json:"dataLabel"`
	Scheme    []report.Color        `json:"scheme"`
}

func parseParams(spec models.FigureSpec) (figureParams, error) {
	var p figureParams
	if len(spec.Params) == 0 {
		return p, nil
	}
	raw, err := json.Marshal(spec.Params)
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, models.NewArgumentError("figure %q: invalid params: %v", spec.Title, err)
	}
	return p, nil
}

var chartMarks = map[string]report.Mark{
	"bar":   report.MarkBar,
	"line":  report.MarkLine,
	"point": report.MarkPoint,
	"pie":   report.MarkArc,
}

// buildFigures binds the datasets of a layout to its figure specs.
// timeLayout formats date histogram buckets.
func buildFigures(layout models.Layout, data map[string]models.Dataset, timeLayout string, f *report.Formatter) ([]report.Figure, error) {
	figures := make([]report.Figure, 0, len(layout.Figures))
	for _, spec := range layout.Figures {
		params, err := parseParams(spec)
		if err != nil {
			return nil, err
		}

		if spec.Type == "md" {
			figures = append(figures, &report.MarkdownFigure{Title: spec.Title, Text: params.Text})
			continue
		}

		ds, ok := data[spec.DataKey]
		if !ok {
			return nil, models.NewArgumentError("figure %q uses unknown dataset %q", spec.Title, spec.DataKey)
		}

		switch spec.Type {
		case "metric":
			value := float64(ds.Total)
			if ds.Value != nil {
				value = *ds.Value
			}
			figures = append(figures, &report.MetricFigure{Title: spec.Title, Value: value, Unit: params.Unit})
		case "table":
			figures = append(figures, tableFigure(spec.Title, params, ds, timeLayout, f))
		default:
			mark, ok := chartMarks[spec.Type]
			if !ok {
				return nil, models.NewArgumentError("figure %q has unsupported type %q", spec.Title, spec.Type)
			}
			chart := report.ChartSpec{
				Mark:      mark,
				Title:     spec.Title,
				Titles:    params.Titles,
				Encoding:  report.Encoding{Value: "value", Label: "label"},
				DataLabel: params.DataLabel,
				Scheme:    params.Scheme,
			}
			if mark == report.MarkArc {
				chart.Encoding.Color = "label"
			}
			figures = append(figures, &report.ChartFigure{Spec: chart, Data: datums(ds, timeLayout)})
		}
	}
	return figures, nil
}

func datums(ds models.Dataset, timeLayout string) []report.Datum {
	out := make([]report.Datum, 0, len(ds.Buckets))
	for _, b := range ds.Buckets {
		out = append(out, report.Datum{Label: bucketLabel(b, timeLayout), Value: b.Amount()})
	}
	return out
}

func bucketLabel(b models.Bucket, timeLayout string) string {
	if b.Time != nil {
		return b.Time.UTC().Format(timeLayout)
	}
	return b.Key
}

func tableFigure(title string, params figureParams, ds models.Dataset, timeLayout string, f *report.Formatter) *report.TableFigure {
	table := &report.TableFigure{Title: title, Columns: params.Columns}

	if len(ds.Buckets) > 0 {
		if len(table.Columns) == 0 {
			table.Columns = []string{"Key", "Count"}
		}
		for _, b := range ds.Buckets {
			table.Rows = append(table.Rows, []string{bucketLabel(b, timeLayout), f.Number(b.Amount())})
		}
		return table
	}

	fields := params.Fields
	if len(fields) == 0 {
		fields = table.Columns
	}
	if len(table.Columns) == 0 {
		table.Columns = fields
	}
	for _, rec := range ds.Records {
		row := make([]string, len(fields))
		for i, field := range fields {
			row[i] = cell(rec[field], f)
		}
		table.Rows = append(table.Rows, row)
	}
	return table
}

func cell(v interface{}, f *report.Formatter) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		if t, err := time.Parse(time.RFC3339, val); err == nil {
			return t.UTC().Format("02/01/2006 15:04")
		}
		return val
	case float64:
		return f.Number(val)
	case bool:
		if val {
			return "yes"
		}
		return "no"
	default:
		return fmt.Sprint(val)
	}
}
