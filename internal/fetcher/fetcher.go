// Package fetcher queries the search backend reports are built from.
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"reportd/internal/config"
	"reportd/internal/models"
	"reportd/internal/pkg/httpclient"
)

// RunAsHeader carries the identity a query runs as.
const RunAsHeader = "es-security-runas-user"

const resultAgg = "result"

// EventSink receives instrumentation events emitted while fetching.
type EventSink func(name string, data map[string]interface{})

// Fetcher returns a dataset for the given options.
type Fetcher interface {
	Fetch(ctx context.Context, opts Options, sink EventSink) (*models.Dataset, error)
}

// SearchFetcher queries an Elasticsearch-compatible _search endpoint.
type SearchFetcher struct {
	client    *httpclient.Client
	limiter   *rate.Limiter
	dateField string
	logger    *zap.Logger
}

// NewSearchFetcher builds a fetcher from the fetch settings.
func NewSearchFetcher(cfg config.FetchConfig, logger *zap.Logger) *SearchFetcher {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	dateField := cfg.DateField
	if dateField == "" {
		dateField = "datetime"
	}
	client := httpclient.New().
		WithBaseURL(strings.TrimRight(cfg.URL, "/")).
		WithBasicAuth(cfg.Username, cfg.Password).
		WithRetries(cfg.Retries)
	if cfg.Timeout > 0 {
		client.WithTimeout(cfg.Timeout)
	}
	if cfg.APIKey != "" {
		client.WithHeader("Authorization", "ApiKey "+cfg.APIKey)
	}
	if cfg.Insecure {
		logger.Warn("TLS verification disabled for the search backend")
		client.WithInsecureSkipVerify()
	}
	return &SearchFetcher{
		client:    client,
		limiter:   rate.NewLimiter(limit, 1),
		dateField: dateField,
		logger:    logger,
	}
}

type searchResponse struct {
	Took int64 `json:"took"`
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			Source map[string]interface{} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]json.RawMessage `json:"aggregations"`
}

type aggResult struct {
	Value   *float64    `json:"value"`
	Buckets []aggBucket `json:"buckets"`
}

type aggBucket struct {
	Key         json.RawMessage `json:"key"`
	KeyAsString string          `json:"key_as_string"`
	DocCount    int64           `json:"doc_count"`
}

// Fetch runs one search and converts the answer to a dataset.
func (f *SearchFetcher) Fetch(ctx context.Context, opts Options, sink EventSink) (*models.Dataset, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.DateField == "" {
		opts.DateField = f.dateField
	}

	body := buildQuery(opts)
	path := "/_search"
	if opts.Index != "" {
		path = "/" + opts.Index + "/_search"
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	headers := map[string]string{}
	if opts.User != "" {
		headers[RunAsHeader] = opts.User
	}

	emit(sink, "fetchRequest", map[string]interface{}{"index": opts.Index, "query": body})
	started := time.Now()

	var resp searchResponse
	if err := f.client.PostJSON(ctx, path, headers, body, &resp); err != nil {
		f.logger.Warn("Search request failed", zap.String("index", opts.Index), zap.Error(err))
		return nil, fmt.Errorf("search %s: %w", opts.Index, err)
	}

	ds, err := toDataset(&resp, opts)
	if err != nil {
		return nil, err
	}
	emit(sink, "fetchResponse", map[string]interface{}{
		"index": opts.Index,
		"took":  time.Since(started).Milliseconds(),
		"total": ds.Total,
	})
	return ds, nil
}

func emit(sink EventSink, name string, data map[string]interface{}) {
	if sink != nil {
		sink(name, data)
	}
}

func buildQuery(opts Options) map[string]interface{} {
	filters := []interface{}{
		map[string]interface{}{
			"range": map[string]interface{}{
				opts.DateField: map[string]interface{}{
					"gte":    opts.Period.Start.UTC().Format(time.RFC3339),
					"lt":     opts.Period.End.UTC().Format(time.RFC3339),
					"format": "strict_date_optional_time",
				},
			},
		},
	}
	if f := strings.TrimSpace(opts.Filter); f != "" && f != "*" {
		filters = append(filters, map[string]interface{}{
			"query_string": map[string]interface{}{"query": f},
		})
	}

	body := map[string]interface{}{
		"size":             opts.Size,
		"track_total_hits": true,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{"filter": filters},
		},
	}
	if opts.Size > 0 {
		body["sort"] = []interface{}{map[string]interface{}{opts.DateField: "desc"}}
		if len(opts.Fields) > 0 {
			body["_source"] = opts.Fields
		}
	}
	if opts.Aggregation != nil {
		body["aggs"] = map[string]interface{}{resultAgg: buildAgg(opts)}
	}
	return body
}

func buildAgg(opts Options) map[string]interface{} {
	agg := opts.Aggregation
	switch agg.Type {
	case AggTerms:
		size := agg.Size
		if size <= 0 {
			size = 10
		}
		return map[string]interface{}{
			"terms": map[string]interface{}{"field": agg.Field, "size": size},
		}
	case AggDateHistogram:
		field := agg.Field
		if field == "" {
			field = opts.DateField
		}
		interval := agg.Interval
		if interval == "" {
			interval = opts.Interval
		}
		if interval == "" {
			interval = "day"
		}
		return map[string]interface{}{
			"date_histogram": map[string]interface{}{
				"field":             field,
				"calendar_interval": interval,
				"time_zone":         "UTC",
				"min_doc_count":     0,
				"extended_bounds": map[string]interface{}{
					"min": opts.Period.Start.UTC().UnixMilli(),
					"max": opts.Period.End.UTC().Add(-time.Millisecond).UnixMilli(),
				},
			},
		}
	default:
		return map[string]interface{}{
			agg.Type: map[string]interface{}{"field": agg.Field},
		}
	}
}

func toDataset(resp *searchResponse, opts Options) (*models.Dataset, error) {
	ds := &models.Dataset{Total: resp.Hits.Total.Value}
	for _, hit := range resp.Hits.Hits {
		ds.Records = append(ds.Records, hit.Source)
	}
	if opts.Aggregation == nil {
		return ds, nil
	}

	raw, ok := resp.Aggregations[resultAgg]
	if !ok {
		return nil, fmt.Errorf("search response has no %q aggregation", resultAgg)
	}
	var res aggResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode aggregation: %w", err)
	}
	ds.Value = res.Value

	isDate := opts.Aggregation.Type == AggDateHistogram
	for _, b := range res.Buckets {
		key := bucketKey(b.Key)
		bucket := models.Bucket{Key: b.KeyAsString, Count: b.DocCount}
		if bucket.Key == "" {
			bucket.Key = key
		}
		if isDate {
			ms, err := strconv.ParseInt(key, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("date bucket key %q: %w", key, err)
			}
			at := time.UnixMilli(ms).UTC()
			bucket.Time = &at
		}
		ds.Buckets = append(ds.Buckets, bucket)
	}
	return ds, nil
}

// bucketKey renders string keys unquoted and numeric keys as written.
func bucketKey(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
