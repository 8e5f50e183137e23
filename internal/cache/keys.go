package cache

import (
	"fmt"
	"time"
)

// LatestReportKey names the slot holding the most recent serialized report.
const LatestReportKey = "sentinel:report:latest"

// ReportKey names the archived report for one current-window end instant.
func ReportKey(windowEnd time.Time) string {
	return fmt.Sprintf("sentinel:report:%s", windowEnd.UTC().Format("2006-01-02T15:04"))
}

// DedupeKey names the marker that suppresses duplicate alerts for a window.
// It is written with SetNX; only the run that wins the write notifies.
func DedupeKey(windowEnd time.Time) string {
	return fmt.Sprintf("sentinel:alerted:%s", windowEnd.UTC().Format("2006-01-02T15:04"))
}
