package monitoring

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/notify"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRequestFailureRate AlertType = "request_failure_rate"
	AlertCallErrorRate      AlertType = "call_error_rate"
	AlertStuckRequests      AlertType = "stuck_requests"
)

// minSample is the smallest population a rate alert is evaluated on.
const minSample = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Event converts the alert into a notification.
func (a Alert) Event() notify.Event {
	details := map[string]any{"alert": string(a.Type)}
	for k, v := range a.Details {
		details[k] = v
	}
	return notify.Event{
		Type:      notify.EventAlert,
		Severity:  a.Severity,
		Message:   a.Message,
		Details:   details,
		Timestamp: a.Timestamp,
	}
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts through a notifier when thresholds are breached.
type Alerter struct {
	cfg      config.MonitoringConfig
	notifier notify.Notifier
}

// NewAlerter creates a new Alerter. A nil notifier drops every alert.
func NewAlerter(cfg config.MonitoringConfig, n notify.Notifier) *Alerter {
	if n == nil {
		n = notify.Nop{}
	}
	return &Alerter{cfg: cfg, notifier: n}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.RequestsComplete + snap.RequestsFailed
	if finished >= minSample && snap.RequestFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRequestFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Outreach failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.RequestFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RequestsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.RequestFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RequestsFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.CallErrorRateThreshold > 0 && snap.CallsTotal >= minSample && snap.CallErrorRate > a.cfg.CallErrorRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertCallErrorRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Call error rate %.1f%% exceeds threshold %.1f%% (%d of %d calls never placed in last %dh)",
				snap.CallErrorRate*100, a.cfg.CallErrorRateThreshold*100,
				snap.CallsError, snap.CallsTotal, snap.LookbackHours,
			),
			Details: map[string]any{
				"error_rate": snap.CallErrorRate,
				"threshold":  a.cfg.CallErrorRateThreshold,
				"errors":     snap.CallsError,
				"calls":      snap.CallsTotal,
			},
			Timestamp: now,
		})
	}

	if snap.RequestsStuck > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertStuckRequests,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d outreach request(s) have not progressed in over %d minutes",
				snap.RequestsStuck, a.cfg.StuckAfterMinutes,
			),
			Details: map[string]any{
				"stuck":     snap.RequestsStuck,
				"in_flight": snap.RequestsInFlight,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts through the notifier.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if len(alerts) == 0 {
		return 0
	}
	events := make([]notify.Event, len(alerts))
	for i, alert := range alerts {
		events[i] = alert.Event()
	}
	sent := notify.SendAll(ctx, a.notifier, events)
	zap.L().Info("monitoring: alerts sent",
		zap.Int("alerts", len(alerts)),
		zap.Int("sent", sent),
	)
	return sent
}
