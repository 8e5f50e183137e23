// Package notify renders anomaly reports as Slack webhook messages. A Valkey
// SetNX marker keyed by window end suppresses duplicate alerts when overlapping
// runs (scheduled plus manually triggered) process the same window.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/driftwatch/metric-sentinel/internal/cache"
	"github.com/driftwatch/metric-sentinel/internal/models"
)

// dedupeTTL keeps the alerted marker long enough to cover retriggered runs of
// the same window without suppressing the next day's alert.
const dedupeTTL = 6 * time.Hour

// SlackNotifier posts anomaly reports to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
	cache      cache.Provider
	logger     *slog.Logger
}

// NewSlackNotifier constructs a notifier. A nil provider disables dedupe, and
// an empty webhook URL turns Publish into a logged no-op, keeping local runs
// safe by default.
func NewSlackNotifier(webhookURL string, provider cache.Provider, logger *slog.Logger) *SlackNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 5 * time.Second},
		cache:      provider,
		logger:     logger,
	}
}

// Publish sends the report unless another run already alerted for the same
// window. Empty reports are never sent.
func (n *SlackNotifier) Publish(ctx context.Context, report models.AnomalyReport) error {
	if report.Empty() {
		return nil
	}
	if n.webhookURL == "" {
		n.logger.Info("slack webhook not configured, skipping alert",
			slog.Int("anomalies", report.Total()))
		return nil
	}

	won, err := n.cache.SetNX(ctx, cache.DedupeKey(report.Window.Current.End), []byte("1"), dedupeTTL)
	if err != nil {
		// Dedupe is best effort: a cache outage must not swallow alerts.
		n.logger.Warn("alert dedupe unavailable", slog.Any("error", err))
	} else if !won {
		n.logger.Info("alert already sent for window",
			slog.Time("window_end", report.Window.Current.End))
		return nil
	}

	payload, err := json.Marshal(map[string]string{"text": RenderText(report)})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post slack webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("slack webhook returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

// RenderText formats the report as Slack markdown, domains in a fixed order
// and deployments appended when any were active around the window.
func RenderText(report models.AnomalyReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Anomaly report* for window %s to %s UTC (%d anomalies)\n",
		report.Window.Current.Start.Format("2006-01-02 15:04"),
		report.Window.Current.End.Format("15:04"),
		report.Total())

	names := make([]string, 0, len(report.ByDomain))
	for name := range report.ByDomain {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		records := report.ByDomain[name]
		if len(records) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n*%s*\n", name)
		for _, rec := range records {
			if rec.PastValue > 0 {
				fmt.Fprintf(&b, "> `%s` %s: %.0f vs %.0f (+%.2f%%)\n",
					rec.Entity, rec.Metric, rec.CurrentValue, rec.PastValue, rec.PercentChange)
				continue
			}
			fmt.Fprintf(&b, "> `%s` %s: %s\n", rec.Entity, rec.Metric, rec.SeverityNote)
		}
	}

	if len(report.Deployments) > 0 {
		b.WriteString("\n*Recent deployments*\n")
		for _, dep := range report.Deployments {
			fmt.Fprintf(&b, "> %s at %s (%d replicas)\n",
				dep.Name, dep.CreatedAt.Format("15:04"), dep.AvailableReplicas)
		}
	}
	return b.String()
}
