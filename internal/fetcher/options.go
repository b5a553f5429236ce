package fetcher

import (
	"encoding/json"

	"reportd/internal/models"
)

// Options describes one backend query. They are built by merging option maps,
// so every field has a JSON name.
type Options struct {
	Index       string         `json:"index,omitempty"`
	Filter      string         `json:"filter,omitempty"`
	DateField   string         `json:"dateField,omitempty"`
	Size        int            `json:"size,omitempty"`
	Fields      []string       `json:"fields,omitempty"`
	Interval    string         `json:"interval,omitempty"`
	Aggregation *Aggregation   `json:"aggregation,omitempty"`
	Period      *models.Period `json:"period,omitempty"`
	User        string         `json:"user,omitempty"`
}

// Aggregation selects a bucket or metric aggregation.
type Aggregation struct {
	Type     string `json:"type"`
	Field    string `json:"field,omitempty"`
	Size     int    `json:"size,omitempty"`
	Interval string `json:"interval,omitempty"`
}

// Aggregation types understood by the search backend.
const (
	AggTerms         = "terms"
	AggDateHistogram = "date_histogram"
	AggCardinality   = "cardinality"
	AggValueCount    = "value_count"
	AggSum           = "sum"
	AggAvg           = "avg"
	AggMin           = "min"
	AggMax           = "max"
)

// OptionsFromMap decodes merged option maps. Unknown keys are ignored.
func OptionsFromMap(m map[string]interface{}) (Options, error) {
	var opts Options
	raw, err := json.Marshal(m)
	if err != nil {
		return opts, models.NewArgumentError("invalid fetch options: %v", err)
	}
	if err := json.Unmarshal(raw, &opts); err != nil {
		return opts, models.NewArgumentError("invalid fetch options: %v", err)
	}
	return opts, nil
}

// Map encodes options so they can take part in a merge.
func (o Options) Map() map[string]interface{} {
	raw, _ := json.Marshal(o)
	out := map[string]interface{}{}
	_ = json.Unmarshal(raw, &out)
	return out
}

func (o Options) validate() error {
	if o.Period == nil {
		return models.NewArgumentError("fetch options need a period")
	}
	if !o.Period.Start.Before(o.Period.End) {
		return models.NewArgumentError("fetch period start must be before its end")
	}
	if o.Aggregation == nil {
		return nil
	}
	switch o.Aggregation.Type {
	case AggTerms, AggCardinality, AggValueCount, AggSum, AggAvg, AggMin, AggMax:
		if o.Aggregation.Field == "" {
			return models.NewArgumentError("%s aggregation needs a field", o.Aggregation.Type)
		}
	case AggDateHistogram:
	default:
		return models.NewArgumentError("unknown aggregation %q", o.Aggregation.Type)
	}
	return nil
}
