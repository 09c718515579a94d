package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/callcache"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of outreach health.
type MetricsSnapshot struct {
	// Request metrics (within lookback window).
	RequestsTotal    int     `json:"requests_total"`
	RequestsComplete int     `json:"requests_complete"`
	RequestsFailed   int     `json:"requests_failed"`
	RequestsInFlight int     `json:"requests_in_flight"`
	RequestsStuck    int     `json:"requests_stuck"`
	RequestFailRate  float64 `json:"request_fail_rate"`

	// Call metrics for requests in the window.
	CallsTotal     int     `json:"calls_total"`
	CallsCompleted int     `json:"calls_completed"`
	CallsError     int     `json:"calls_error"`
	CallErrorRate  float64 `json:"call_error_rate"`
	CallCostUSD    float64 `json:"call_cost_usd"`

	// Failed requests awaiting retry or inspection.
	DLQDepth int `json:"dlq_depth"`

	// Result cache, when one is attached.
	CacheEntries int `json:"cache_entries"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RequestQuerier abstracts the store methods needed by the collector.
type RequestQuerier interface {
	ListRequests(ctx context.Context, filter store.RequestFilter) ([]model.OutreachRequest, error)
	ListCallResults(ctx context.Context, requestID string) ([]model.CallResult, error)
	CountDLQ(ctx context.Context) (int, error)
}

// Collector gathers metrics from the store and result cache.
type Collector struct {
	store      RequestQuerier
	cache      callcache.Store
	stuckAfter time.Duration
	now        func() time.Time
}

const (
	maxScanned        = 10000
	defaultStuckAfter = 30 * time.Minute
)

// NewCollector creates a new metrics collector. cache may be nil.
func NewCollector(st RequestQuerier, cache callcache.Store, stuckAfter time.Duration) *Collector {
	if stuckAfter <= 0 {
		stuckAfter = defaultStuckAfter
	}
	return &Collector{store: st, cache: cache, stuckAfter: stuckAfter, now: time.Now}
}

// Collect gathers a snapshot of outreach metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	reqs, err := c.store.ListRequests(ctx, store.RequestFilter{Limit: maxScanned})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list requests")
	}

	for _, r := range reqs {
		// Newest first.
		if r.CreatedAt.Before(cutoff) {
			break
		}
		snap.RequestsTotal++
		switch {
		case r.Status == model.RequestComplete:
			snap.RequestsComplete++
		case r.Status == model.RequestFailed:
			snap.RequestsFailed++
		default:
			snap.RequestsInFlight++
			if now.Sub(r.UpdatedAt) > c.stuckAfter {
				snap.RequestsStuck++
			}
		}
		if !r.Status.Terminal() {
			continue
		}

		results, err := c.store.ListCallResults(ctx, r.ID)
		if err != nil {
			return nil, eris.Wrapf(err, "monitoring: list call results for %s", r.ID)
		}
		for _, cr := range results {
			snap.CallsTotal++
			switch cr.Status {
			case model.CallCompleted:
				snap.CallsCompleted++
			case model.CallError:
				snap.CallsError++
			}
			if cr.CostUSD != nil {
				snap.CallCostUSD += *cr.CostUSD
			}
		}
	}

	if finished := snap.RequestsComplete + snap.RequestsFailed; finished > 0 {
		snap.RequestFailRate = float64(snap.RequestsFailed) / float64(finished)
	}
	if snap.CallsTotal > 0 {
		snap.CallErrorRate = float64(snap.CallsError) / float64(snap.CallsTotal)
	}

	dlqCount, err := c.store.CountDLQ(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count dlq")
	}
	snap.DLQDepth = dlqCount

	if c.cache != nil {
		st, err := c.cache.Stats(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: cache stats")
		}
		snap.CacheEntries = st.Size
	}

	return snap, nil
}
