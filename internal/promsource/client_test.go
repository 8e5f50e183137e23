package promsource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const matrixPayload = `{
	"status": "success",
	"data": {
		"resultType": "matrix",
		"result": [
			{
				"metric": {"service": "rider", "handler": "/v1/search", "method": "GET", "status_code": "200"},
				"values": [[1705315800, "12.5"], [1705316400, "14.0"]]
			},
			{
				"metric": {"service": "rider", "handler": "/v1/search", "method": "GET", "status_code": "502"},
				"values": [[1705315800, "3.2"]]
			}
		]
	}
}`

func TestQueryRangeParsesMatrix(t *testing.T) {
	var gotQuery, gotStart, gotStep string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/query_range" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		gotQuery = r.URL.Query().Get("query")
		gotStart = r.URL.Query().Get("start")
		gotStep = r.URL.Query().Get("step")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(matrixPayload))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	start := time.Unix(1705315800, 0)
	end := start.Add(time.Hour)

	series, err := client.QueryRange(context.Background(), "sum(rate(x[1m]))", start, end, "10m")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotQuery != "sum(rate(x[1m]))" || gotStart != "1705315800" || gotStep != "10m" {
		t.Fatalf("request params query=%q start=%q step=%q", gotQuery, gotStart, gotStep)
	}
	if len(series) != 2 {
		t.Fatalf("expected 2 series, got %d", len(series))
	}
	if series[0].Label("status_code") != "200" {
		t.Fatalf("unexpected labels: %+v", series[0].Labels)
	}
	if len(series[0].Points) != 2 || series[0].Points[0].Value != 12.5 {
		t.Fatalf("unexpected points: %+v", series[0].Points)
	}
	if !series[0].Points[0].Timestamp.Equal(time.Unix(1705315800, 0)) {
		t.Fatalf("unexpected timestamp: %v", series[0].Points[0].Timestamp)
	}
}

func TestQueryRangeNon200IsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "query would fetch too many samples", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	if _, err := client.QueryRange(context.Background(), "up", time.Now().Add(-time.Hour), time.Now(), "1m"); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestQueryRangeMalformedPayloadIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status": "success", "data": {"result": [{"values": [["oops"]]}]}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	if _, err := client.QueryRange(context.Background(), "up", time.Now().Add(-time.Hour), time.Now(), "1m"); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestQueryRangeEmptyResultIsNotError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status": "success", "data": {"resultType": "matrix", "result": []}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	series, err := client.QueryRange(context.Background(), "up", time.Now().Add(-time.Hour), time.Now(), "1m")
	if err != nil {
		t.Fatalf("empty result must not be an error: %v", err)
	}
	if len(series) != 0 {
		t.Fatalf("expected no series, got %d", len(series))
	}
}

func TestBuildAPIFilter(t *testing.T) {
	if got := BuildAPIFilter(nil); got != "" {
		t.Fatalf("empty list should yield empty filter, got %q", got)
	}

	got := BuildAPIFilter([]string{" /v1/search ", "/v1/ride"})
	if !strings.Contains(got, `handler=~"(/v1/search|/v1/ride)"`) {
		t.Fatalf("include filter missing: %q", got)
	}
	if !strings.Contains(got, `handler!="/v2/"`) || !strings.Contains(got, `handler!="/ui/"`) {
		t.Fatalf("exclude filter missing: %q", got)
	}
}
