package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/tidwall/gjson"
)

// HTTPAdapter calls an arbitrary JSON endpoint, for instance the results API
// of a benchmark runner, and extracts samples with gjson paths.
//
// Body and header values are text templates with these variables:
//
//	{{.LookbackSeconds}} {{.Start}} {{.End}} {{.StartRFC3339}} {{.EndRFC3339}}
//
// plus everything in TemplateVars.
//
// Example:
//
//	adapter := &HTTPAdapter{
//	    URL:           "https://bench.example.com/api/runs/42/rounds",
//	    ValuePath:     "rounds.#.iops",
//	    TimestampPath: "rounds.#.finished",
//	}
//
// When TimestampPath is empty the values are taken in document order.
type HTTPAdapter struct {
	URL     string
	Method  string // GET when empty
	Headers map[string]string
	Body    string

	// ValuePath is the gjson path to the metric values, e.g. "data.#.value".
	ValuePath string
	// TimestampPath is optional; it must yield as many elements as ValuePath.
	TimestampPath string
	// TimestampFormat is rfc3339 (default), unix or unix_milli.
	TimestampFormat string

	HTTPClient   *http.Client
	TemplateVars map[string]string
}

func (h *HTTPAdapter) Name() string { return "http" }

// Collect implements Adapter.
func (h *HTTPAdapter) Collect(ctx context.Context, lookback time.Duration) (Series, error) {
	if err := h.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("http adapter: %w", err)
	}

	end := time.Now().UTC().Truncate(time.Second)
	start := end.Add(-lookback)

	vars := map[string]any{
		"LookbackSeconds": int(lookback.Seconds()),
		"Start":           start.Unix(),
		"End":             end.Unix(),
		"StartRFC3339":    start.Format(time.RFC3339),
		"EndRFC3339":      end.Format(time.RFC3339),
	}
	for k, v := range h.TemplateVars {
		vars[k] = v
	}

	method := h.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if h.Body != "" {
		rendered, err := renderTemplate(h.Body, vars)
		if err != nil {
			return nil, fmt.Errorf("render body template: %w", err)
		}
		body = strings.NewReader(rendered)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.URL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range h.Headers {
		rendered, err := renderTemplate(value, vars)
		if err != nil {
			return nil, fmt.Errorf("render header %s: %w", key, err)
		}
		req.Header.Set(key, rendered)
	}

	cli := h.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	resp, err := cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, string(msg))
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return h.extract(payload)
}

func (h *HTTPAdapter) extract(payload []byte) (Series, error) {
	values := gjson.GetBytes(payload, h.ValuePath)
	if !values.Exists() {
		return nil, fmt.Errorf("value path %q not found in response", h.ValuePath)
	}
	vals := values.Array()

	out := make(Series, len(vals))
	for i, v := range vals {
		if v.Type != gjson.Number && v.Type != gjson.String {
			return nil, fmt.Errorf("value[%d] is %s, not a number", i, v.Type)
		}
		out[i].Value = v.Float()
	}

	if h.TimestampPath == "" {
		return out, nil
	}

	timestamps := gjson.GetBytes(payload, h.TimestampPath)
	if !timestamps.Exists() {
		return nil, fmt.Errorf("timestamp path %q not found in response", h.TimestampPath)
	}
	ts := timestamps.Array()
	if len(ts) != len(vals) {
		return nil, fmt.Errorf("value count (%d) != timestamp count (%d)", len(vals), len(ts))
	}

	for i := range ts {
		t, err := h.parseTimestamp(ts[i])
		if err != nil {
			return nil, fmt.Errorf("parse timestamp[%d]: %w", i, err)
		}
		out[i].Timestamp = t
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (h *HTTPAdapter) parseTimestamp(v gjson.Result) (time.Time, error) {
	switch h.TimestampFormat {
	case "", "rfc3339":
		return time.Parse(time.RFC3339, v.String())
	case "unix":
		return time.Unix(int64(v.Float()), 0).UTC(), nil
	case "unix_milli":
		return time.UnixMilli(int64(v.Float())).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp format: %s", h.TimestampFormat)
	}
}

// ValidateConfig checks the adapter configuration.
func (h *HTTPAdapter) ValidateConfig() error {
	if h.URL == "" {
		return errors.New("url is required")
	}
	if h.ValuePath == "" {
		return errors.New("valuePath is required")
	}
	switch h.TimestampFormat {
	case "", "rfc3339", "unix", "unix_milli":
		return nil
	default:
		return fmt.Errorf("invalid timestampFormat: %s (must be rfc3339, unix, or unix_milli)", h.TimestampFormat)
	}
}

func renderTemplate(tmplStr string, data map[string]any) (string, error) {
	if !strings.Contains(tmplStr, "{{") {
		return tmplStr, nil
	}

	tmpl, err := template.New("").Option("missingkey=error").Parse(tmplStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
