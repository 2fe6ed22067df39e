package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/atelierdata/specpipe/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFailureRate    AlertType = "failure_rate"
	AlertEscalationRate AlertType = "escalation_rate"
	AlertFetchFailures  AlertType = "fetch_failures"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// minSample is the smallest outcome count a rate alert fires on. Rates
// computed over fewer URLs are noise.
const minSample = 5

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if snap.Total >= minSample && a.cfg.FailureRateThreshold > 0 && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"URL failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d processed)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100,
				snap.Failed, snap.Total,
			),
			Details: map[string]any{
				"fail_rate": snap.FailRate,
				"threshold": a.cfg.FailureRateThreshold,
				"failed":    snap.Failed,
				"total":     snap.Total,
			},
			Timestamp: now,
		})
	}

	routed := snap.Accepted + snap.Escalated
	if routed >= minSample && a.cfg.EscalationRateThreshold > 0 {
		escalationRate := float64(snap.Escalated) / float64(routed)
		if escalationRate > a.cfg.EscalationRateThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertEscalationRate,
				Severity: "medium",
				Message: fmt.Sprintf(
					"Escalation rate %.1f%% exceeds threshold %.1f%% (%d of %d routed extractions sent to review)",
					escalationRate*100, a.cfg.EscalationRateThreshold*100,
					snap.Escalated, routed,
				),
				Details: map[string]any{
					"escalation_rate": escalationRate,
					"threshold":       a.cfg.EscalationRateThreshold,
					"escalated":       snap.Escalated,
					"routed":          routed,
				},
				Timestamp: now,
			})
		}
	}

	if a.cfg.FetchFailureThreshold > 0 && snap.FetchFailures >= a.cfg.FetchFailureThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFetchFailures,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d URL(s) exhausted every fetch tier",
				snap.FetchFailures,
			),
			Details: map[string]any{
				"fetch_failures": snap.FetchFailures,
				"threshold":      a.cfg.FetchFailureThreshold,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
