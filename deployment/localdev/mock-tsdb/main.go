package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// series is one matrix entry of a prometheus query_range response.
type series struct {
	Metric map[string]string `json:"metric"`
	Values [][2]any          `json:"values"`
}

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/query_range", func(w http.ResponseWriter, r *http.Request) {
		query := r.FormValue("query")
		end := parseUnix(r.FormValue("end"))

		// The baseline window gets quieter numbers than the current one
		// so that a local run always produces a few anomalies.
		scale := 1.0
		if time.Since(end) > 2*time.Hour {
			scale = 0.6
		}

		writeJSON(w, map[string]any{
			"status": "success",
			"data": map[string]any{
				"resultType": "matrix",
				"result":     resultFor(query, end, scale),
			},
		})
	})

	logger := log.New(log.Writer(), "tsdb-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":8428",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :8428")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func resultFor(query string, end time.Time, scale float64) []series {
	switch {
	case strings.Contains(query, "http_request_duration_seconds_count"):
		return []series{
			sampled(map[string]string{"method": "GET", "handler": "/checkout", "service": "checkout", "status_code": "200"}, end, scale, 1200, 1350, 1500),
			sampled(map[string]string{"method": "POST", "handler": "/payments", "service": "payments", "status_code": "502"}, end, scale, 4, 18, 42),
		}
	case strings.Contains(query, "istio_requests_total"):
		return []series{
			sampled(map[string]string{"destination_service_name": "payments", "response_code": "503"}, end, scale, 70, 85, 90, 60, 95, 96),
			sampled(map[string]string{"destination_service_name": "checkout", "response_code": "200"}, end, scale, 900, 910, 905),
		}
	case strings.Contains(query, "container_cpu_usage_seconds_total"):
		return []series{
			sampled(map[string]string{"pod": "payments-7c9f", "node": "ip-10-0-1-5"}, end, scale, 72, 88, 91),
		}
	case strings.Contains(query, "container_memory_working_set_bytes"):
		return []series{
			sampled(map[string]string{"pod": "payments-7c9f", "node": "ip-10-0-1-5"}, end, scale, 64, 66, 69),
		}
	default:
		return nil
	}
}

func sampled(labels map[string]string, end time.Time, scale float64, values ...float64) series {
	s := series{Metric: labels}
	step := time.Minute
	start := end.Add(-time.Duration(len(values)) * step)
	for i, v := range values {
		ts := start.Add(time.Duration(i+1) * step)
		s.Values = append(s.Values, [2]any{
			ts.Unix(),
			strconv.FormatFloat(v*scale, 'f', 2, 64),
		})
	}
	return s
}

func parseUnix(value string) time.Time {
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return time.Now()
	}
	return time.Unix(int64(seconds), 0)
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
