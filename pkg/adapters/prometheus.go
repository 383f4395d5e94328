package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"
)

// PrometheusAdapter reads a metric through /api/v1/query_range.
// When the query returns several series, values sharing a timestamp are summed,
// so queries should aggregate down to the one variable being tracked (for
// example sum(rate(fio_write_iops[1m]))).
type PrometheusAdapter struct {
	// ServerURL is the base URL, e.g. http://prometheus.monitoring.svc:9090
	ServerURL string
	// Query is the PromQL expression to evaluate.
	Query string
	// Step is the resolution of the range query and the length of a round.
	// Defaults to one minute when <= 0.
	Step time.Duration
	// HTTPClient is optional; if nil a client with a 10s timeout is used.
	HTTPClient *http.Client
}

func (p *PrometheusAdapter) Name() string { return "prometheus" }

// Collect implements Adapter.
func (p *PrometheusAdapter) Collect(ctx context.Context, lookback time.Duration) (Series, error) {
	if p.ServerURL == "" || p.Query == "" {
		return nil, errors.New("prometheus adapter: ServerURL and Query are required")
	}
	return queryRange(ctx, p.HTTPClient, p.ServerURL, p.Query, lookback, p.Step)
}

// VictoriaMetricsAdapter reads a metric from VictoriaMetrics through its
// Prometheus-compatible API. Query may use MetricsQL.
type VictoriaMetricsAdapter struct {
	PrometheusAdapter
}

func (v *VictoriaMetricsAdapter) Name() string { return "victoriametrics" }

// queryRange runs a Prometheus range query covering the last lookback and
// returns the aggregated series sorted by time.
func queryRange(ctx context.Context, cli *http.Client, serverURL, query string, lookback, step time.Duration) (Series, error) {
	if step <= 0 {
		step = time.Minute
	}
	if lookback < step {
		lookback = step
	}
	// Aligned ends keep round boundaries identical between ticks.
	end := AlignTimestamp(time.Now().UTC(), step)
	start := end.Add(-lookback)

	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}
	u.Path = "/api/v1/query_range"

	q := u.Query()
	q.Set("query", query)
	q.Set("start", strconv.FormatInt(start.Unix(), 10))
	q.Set("end", strconv.FormatInt(end.Unix(), 10))
	q.Set("step", strconv.FormatInt(int64(step.Seconds()), 10))
	u.RawQuery = q.Encode()

	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query range: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("query range: status %d", resp.StatusCode)
	}

	var rr RangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("decode range response: %w", err)
	}
	if rr.Status != "success" {
		return nil, fmt.Errorf("range query status: %s", rr.Status)
	}

	return AggregateRangeResult(rr.Data.Result)
}

// RangeResponse is the body of a Prometheus range query response.
type RangeResponse struct {
	Status string    `json:"status"`
	Data   RangeData `json:"data"`
}

type RangeData struct {
	ResultType string        `json:"resultType"`
	Result     []RangeSeries `json:"result"`
}

type RangeSeries struct {
	Metric map[string]string `json:"metric"`
	// Values holds [ <unix_time>, "<value>" ] pairs.
	Values [][]any `json:"values"`
}

// AggregateRangeResult sums all series per timestamp and returns the result
// sorted oldest first.
func AggregateRangeResult(result []RangeSeries) (Series, error) {
	acc := make(map[int64]float64)
	for _, s := range result {
		for _, pair := range s.Values {
			if len(pair) != 2 {
				return nil, fmt.Errorf("invalid value pair length: %d", len(pair))
			}

			ts, ok := pair[0].(float64)
			if !ok {
				return nil, fmt.Errorf("unexpected timestamp type %T", pair[0])
			}

			var val float64
			switch v := pair[1].(type) {
			case string:
				f, err := strconv.ParseFloat(v, 64)
				if err != nil {
					return nil, fmt.Errorf("parse value: %w", err)
				}
				val = f
			case float64:
				val = v
			default:
				return nil, fmt.Errorf("unexpected value type %T", v)
			}
			acc[int64(ts)] += val
		}
	}

	out := make(Series, 0, len(acc))
	for ts, v := range acc {
		out = append(out, Sample{Timestamp: time.Unix(ts, 0).UTC(), Value: v})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}
