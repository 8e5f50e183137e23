// Package promsource talks to a Prometheus-compatible time-series store
// (VictoriaMetrics vmselect) over the query_range HTTP API and converts the
// matrix response shape into labeled series for normalization.
package promsource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/driftwatch/metric-sentinel/internal/models"
)

// Client queries one vmselect/prometheus endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a Client for the given API base URL
// (e.g. http://vmselect:8481/select/0/prometheus/api/v1).
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// queryRangeResponse mirrors the prometheus HTTP API envelope. Only the fields
// the engine consumes are decoded; everything else is ignored.
type queryRangeResponse struct {
	Status string `json:"status"`
	Data   struct {
		Result []rawSeries `json:"result"`
	} `json:"data"`
}

type rawSeries struct {
	Metric map[string]string `json:"metric"`
	Values []samplePair      `json:"values"`
}

// samplePair decodes the [unix_seconds, "value"] tuples of a matrix response.
type samplePair struct {
	Timestamp time.Time
	Value     float64
}

func (p *samplePair) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("sample pair has %d elements", len(raw))
	}
	var epoch float64
	if err := json.Unmarshal(raw[0], &epoch); err != nil {
		return err
	}
	var text string
	if err := json.Unmarshal(raw[1], &text); err != nil {
		return err
	}
	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return fmt.Errorf("parse sample value %q: %w", text, err)
	}
	sec := int64(epoch)
	p.Timestamp = time.Unix(sec, int64((epoch-float64(sec))*float64(time.Second))).UTC()
	p.Value = value
	return nil
}

// QueryRange executes a range query. A non-2xx reply, a non-success status
// field, or an undecodable payload is returned as an error; callers treat all
// of those as "no data" for the affected signal. An empty result set is valid
// and yields an empty slice with a nil error.
func (c *Client) QueryRange(ctx context.Context, query string, start, end time.Time, step string) ([]models.LabeledSeries, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("metric source not configured")
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("start", strconv.FormatInt(start.Unix(), 10))
	params.Set("end", strconv.FormatInt(end.Unix(), 10))
	if step != "" {
		params.Set("step", step)
	}

	endpoint := c.baseURL + "/query_range?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metric source request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("metric source returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var decoded queryRangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode query_range response: %w", err)
	}
	if decoded.Status != "success" {
		return nil, fmt.Errorf("metric source status %q", decoded.Status)
	}

	series := make([]models.LabeledSeries, 0, len(decoded.Data.Result))
	for _, raw := range decoded.Data.Result {
		points := make([]models.RawSeriesPoint, 0, len(raw.Values))
		for _, sample := range raw.Values {
			points = append(points, models.RawSeriesPoint{Timestamp: sample.Timestamp, Value: sample.Value})
		}
		labels := raw.Metric
		if labels == nil {
			labels = map[string]string{}
		}
		series = append(series, models.LabeledSeries{Labels: labels, Points: points})
	}
	return series, nil
}
