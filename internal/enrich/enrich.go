// Package enrich fills in contact details, hours and distance for
// candidate providers using a place-details lookup.
package enrich

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/outreach-cli/internal/metrics"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/phone"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/pkg/google"
)

// Defaults for Options.
const (
	DefaultMinWithPhone = 3
	DefaultMaxToEnrich  = 10
	DefaultBatchSize    = 5
	DefaultBatchDelay   = 100 * time.Millisecond
)

// Lookup fetches details for one external place reference.
type Lookup interface {
	PlaceDetails(ctx context.Context, placeID string) (*google.Place, error)
}

// Options controls a single Enrich call.
type Options struct {
	Origin       *model.LatLng
	MinWithPhone int
	MaxToEnrich  int
	RequirePhone bool
	BatchSize    int
	BatchDelay   time.Duration
}

func (o Options) withDefaults() Options {
	if o.MinWithPhone <= 0 {
		o.MinWithPhone = DefaultMinWithPhone
	}
	if o.MaxToEnrich <= 0 {
		o.MaxToEnrich = DefaultMaxToEnrich
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.BatchDelay < 0 {
		o.BatchDelay = 0
	}
	return o
}

// Stats summarises an enrichment pass.
type Stats struct {
	Input        int  `json:"input"`
	Eligible     int  `json:"eligible"`
	Attempted    int  `json:"attempted"`
	Enriched     int  `json:"enriched"`
	Failed       int  `json:"failed"`
	Batches      int  `json:"batches"`
	WithPhone    int  `json:"with_phone"`
	PhoneFilter  bool `json:"phone_filter_applied"`
	FloorApplied bool `json:"min_results_floor_applied"`
	Unavailable  bool `json:"lookup_unavailable"`
}

// Result is the enriched provider list and its stats.
type Result struct {
	Providers []model.Provider `json:"providers"`
	Stats     Stats            `json:"stats"`
}

// Enricher augments providers through a rate-limited Lookup.
type Enricher struct {
	lookup  Lookup
	limiter *rate.Limiter
	retry   resilience.Policy
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithRateLimit caps lookups per second. Zero disables the limiter.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(e *Enricher) {
		if perSecond <= 0 {
			e.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithRetry sets the retry policy for each lookup.
func WithRetry(p resilience.Policy) Option {
	return func(e *Enricher) {
		e.retry = p
	}
}

// WithSleep replaces the inter-batch sleep.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Enricher) {
		e.sleep = fn
	}
}

// New creates an Enricher. A nil lookup yields a pass-through enricher.
func New(lookup Lookup, opts ...Option) *Enricher {
	p := resilience.DefaultPolicy()
	p.OnRetry = resilience.LogRetry("google", "place_details")
	e := &Enricher{
		lookup:  lookup,
		limiter: rate.NewLimiter(rate.Limit(10), 5),
		retry:   p,
		sleep:   resilience.Sleep,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Enrich never fails: lookup errors leave that provider as it was and are
// counted in Stats.Failed. When RequirePhone is set but fewer than
// MinWithPhone providers have a phone, the full list is returned.
func (e *Enricher) Enrich(ctx context.Context, providers []model.Provider, opts Options) Result {
	opts = opts.withDefaults()
	out := cloneProviders(providers)
	stats := Stats{Input: len(out)}

	if e == nil || e.lookup == nil {
		stats.Unavailable = true
		stats.WithPhone = countWithPhone(out)
		return Result{Providers: out, Stats: stats}
	}

	log := zap.L().With(zap.String("component", "enrich"))

	var targets []int
	for i, p := range out {
		if p.PlaceID == "" || p.Enriched {
			continue
		}
		stats.Eligible++
		if len(targets) < opts.MaxToEnrich {
			targets = append(targets, i)
		}
	}

	var enriched, failed, attempted atomic.Int64
	for start := 0; start < len(targets); start += opts.BatchSize {
		if ctx.Err() != nil {
			break
		}
		if start > 0 && opts.BatchDelay > 0 {
			if err := e.sleep(ctx, opts.BatchDelay); err != nil {
				break
			}
		}

		end := min(start+opts.BatchSize, len(targets))
		stats.Batches++

		var g errgroup.Group
		for _, idx := range targets[start:end] {
			g.Go(func() error {
				attempted.Add(1)
				place, err := e.details(ctx, out[idx].PlaceID)
				if err != nil {
					failed.Add(1)
					metrics.EnrichmentLookups.WithLabelValues("failed").Inc()
					log.Warn("place details lookup failed",
						zap.String("provider", out[idx].Name),
						zap.String("place_id", out[idx].PlaceID),
						zap.Error(err),
					)
					return nil
				}
				merge(&out[idx], place)
				enriched.Add(1)
				metrics.EnrichmentLookups.WithLabelValues("enriched").Inc()
				return nil
			})
		}
		_ = g.Wait()
	}

	stats.Attempted = int(attempted.Load())
	stats.Enriched = int(enriched.Load())
	stats.Failed = int(failed.Load())

	for i := range out {
		normalizePhone(&out[i])
		if opts.Origin != nil && out[i].Location != nil {
			d := model.DistanceMiles(*opts.Origin, *out[i].Location)
			out[i].DistanceMiles = &d
		}
	}

	stats.WithPhone = countWithPhone(out)
	if opts.RequirePhone {
		if stats.WithPhone >= opts.MinWithPhone {
			out = filterWithPhone(out)
			stats.PhoneFilter = true
		} else {
			stats.FloorApplied = true
			log.Info("too few providers with phone, keeping full list",
				zap.Int("with_phone", stats.WithPhone),
				zap.Int("minimum", opts.MinWithPhone),
			)
		}
	}

	log.Debug("enrichment complete",
		zap.Int("input", stats.Input),
		zap.Int("enriched", stats.Enriched),
		zap.Int("failed", stats.Failed),
		zap.Int("batches", stats.Batches),
	)
	return Result{Providers: out, Stats: stats}
}

func (e *Enricher) details(ctx context.Context, placeID string) (*google.Place, error) {
	return resilience.RetryVal(ctx, e.retry, func(ctx context.Context) (*google.Place, error) {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		return e.lookup.PlaceDetails(ctx, placeID)
	})
}

func merge(p *model.Provider, place *google.Place) {
	if place == nil {
		return
	}
	if ph := place.Phone(); ph != "" {
		p.Phone = ph
		p.NormalizedPhone = ""
	}
	if hours := place.Hours(); len(hours) > 0 {
		p.Hours = append([]string(nil), hours...)
	}
	if open := place.OpenNow(); open != nil {
		v := *open
		p.OpenNow = &v
	}
	if place.WebsiteURI != "" {
		p.Website = place.WebsiteURI
	}
	if p.Address == "" {
		p.Address = place.FormattedAddress
	}
	if place.Location != nil {
		p.Location = &model.LatLng{Lat: place.Location.Latitude, Lng: place.Location.Longitude}
	}
	if p.Rating == 0 && place.Rating > 0 {
		p.Rating = place.Rating
		p.ReviewCount = place.UserRatingCount
	}
	p.Enriched = true
}

func normalizePhone(p *model.Provider) {
	if p.NormalizedPhone != "" || p.Phone == "" {
		return
	}
	if n, err := phone.Normalize(p.Phone, phone.DefaultRegion); err == nil {
		p.NormalizedPhone = n
	}
}

func countWithPhone(ps []model.Provider) int {
	n := 0
	for _, p := range ps {
		if p.HasPhone() {
			n++
		}
	}
	return n
}

func filterWithPhone(ps []model.Provider) []model.Provider {
	out := make([]model.Provider, 0, len(ps))
	for _, p := range ps {
		if p.HasPhone() {
			out = append(out, p)
		}
	}
	return out
}

func cloneProviders(in []model.Provider) []model.Provider {
	out := make([]model.Provider, len(in))
	for i, p := range in {
		if p.Hours != nil {
			p.Hours = append([]string(nil), p.Hours...)
		}
		out[i] = p
	}
	return out
}
