package models

import "time"

// Dataset is the result of one backend query: raw records, aggregation
// buckets, or a single metric value.
type Dataset struct {
	Total   int64                    `json:"total"`
	Records []map[string]interface{} `json:"records,omitempty"`
	Buckets []Bucket                 `json:"buckets,omitempty"`
	Value   *float64                 `json:"value,omitempty"`
}

// Bucket is one aggregation bucket. Time is set for date histograms.
type Bucket struct {
	Key   string     `json:"key"`
	Time  *time.Time `json:"time,omitempty"`
	Count int64      `json:"count"`
	Value *float64   `json:"value,omitempty"`
}

// Amount is the bucket metric when present, its document count otherwise.
func (b Bucket) Amount() float64 {
	if b.Value != nil {
		return *b.Value
	}
	return float64(b.Count)
}
