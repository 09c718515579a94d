package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/metrics"
)

// Checker periodically snapshots outreach health, publishes it as gauges
// and sends alerts. An alert type that fired within the cooldown is not
// sent again.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	lastSent map[AlertType]time.Time
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		lookback:  cfg.LookbackWindowHours,
		cooldown:  time.Duration(cfg.AlertCooldownMinutes) * time.Minute,
		now:       time.Now,
		lastSent:  make(map[AlertType]time.Time),
	}
}

// Run checks once immediately, then on every tick until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting alert checker",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
		zap.Duration("cooldown", c.cooldown),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() == nil {
			c.Check(ctx)
		}
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check runs one collect, publish, evaluate and send cycle and returns the
// number of alerts sent.
func (c *Checker) Check(ctx context.Context) int {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		log.Error("monitoring: failed to collect metrics", zap.Error(err))
		return 0
	}
	publish(snap)

	alerts := c.due(c.alerter.Evaluate(snap))
	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts due",
			zap.Int("in_flight", snap.RequestsInFlight),
			zap.Int("stuck", snap.RequestsStuck),
		)
		return 0
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	if sent > 0 {
		c.mark(alerts)
	}
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_due", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return sent
}

// due drops alerts whose type was sent within the cooldown.
func (c *Checker) due(alerts []Alert) []Alert {
	if c.cooldown <= 0 {
		return alerts
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	out := alerts[:0:0]
	for _, a := range alerts {
		if last, ok := c.lastSent[a.Type]; ok && now.Sub(last) < c.cooldown {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (c *Checker) mark(alerts []Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for _, a := range alerts {
		c.lastSent[a.Type] = now
	}
}

func publish(snap *MetricsSnapshot) {
	metrics.RequestsInFlight.Set(float64(snap.RequestsInFlight))
	metrics.RequestsStuck.Set(float64(snap.RequestsStuck))
	metrics.RequestFailRate.Set(snap.RequestFailRate)
	metrics.CallErrorRate.Set(snap.CallErrorRate)
	metrics.DLQDepth.Set(float64(snap.DLQDepth))
}
