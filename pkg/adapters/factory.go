package adapters

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// New creates an adapter of the given kind from a generic string map, as
// produced by ADAPTER_* environment variables or the targets YAML file.
//
// Supported kinds and keys:
//   - "prometheus":      query (required), url (default http://localhost:9090)
//   - "victoriametrics": query (required), url (default http://localhost:8428)
//   - "http":            url, valuePath (required), timestampPath, timestampFormat,
//     method, body, headers (JSON object), templateVars (JSON object)
//   - "file":            path (required)
//
// step is the duration of one round. client may be nil.
func New(kind string, config map[string]string, step time.Duration, client *http.Client) (Adapter, error) {
	switch kind {
	case "prometheus":
		p, err := newPromCompatible(kind, config, "http://localhost:9090", step, client)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "victoriametrics":
		p, err := newPromCompatible(kind, config, "http://localhost:8428", step, client)
		if err != nil {
			return nil, err
		}
		return &VictoriaMetricsAdapter{PrometheusAdapter: *p}, nil
	case "http":
		return newHTTP(config, client)
	case "file":
		if config["path"] == "" {
			return nil, fmt.Errorf("file adapter requires 'path' config")
		}
		return &FileAdapter{Path: config["path"]}, nil
	default:
		return nil, fmt.Errorf("unknown adapter kind: %s (must be prometheus, victoriametrics, http, or file)", kind)
	}
}

func newPromCompatible(kind string, config map[string]string, defaultURL string, step time.Duration, client *http.Client) (*PrometheusAdapter, error) {
	query := config["query"]
	if query == "" {
		return nil, fmt.Errorf("%s adapter requires 'query' config", kind)
	}

	url := config["url"]
	if url == "" {
		url = defaultURL
	}

	return &PrometheusAdapter{
		ServerURL:  url,
		Query:      query,
		Step:       step,
		HTTPClient: client,
	}, nil
}

func newHTTP(config map[string]string, client *http.Client) (Adapter, error) {
	h := &HTTPAdapter{
		URL:             config["url"],
		Method:          config["method"],
		Body:            config["body"],
		ValuePath:       config["valuePath"],
		TimestampPath:   config["timestampPath"],
		TimestampFormat: config["timestampFormat"],
		HTTPClient:      client,
	}

	if raw := config["headers"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &h.Headers); err != nil {
			return nil, fmt.Errorf("invalid 'headers' JSON: %w", err)
		}
	}
	if raw := config["templateVars"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &h.TemplateVars); err != nil {
			return nil, fmt.Errorf("invalid 'templateVars' JSON: %w", err)
		}
	}

	if err := h.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("http adapter: %w", err)
	}
	return h, nil
}
