// Package outreach drives one outreach request from research through calls
// to a ranked recommendation, persisting each step.
package outreach

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/dispatch"
	"github.com/sells-group/outreach-cli/internal/enrich"
	"github.com/sells-group/outreach-cli/internal/metrics"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/notify"
	"github.com/sells-group/outreach-cli/internal/research"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/pkg/geocode"
)

// Researcher finds candidate providers.
type Researcher interface {
	Search(ctx context.Context, q research.Query) (model.ResearchResult, error)
}

// Geocoder resolves a request's location to an origin point.
type Geocoder interface {
	Geocode(ctx context.Context, location string) (*geocode.Result, error)
}

// Enricher augments providers with contact details.
type Enricher interface {
	Enrich(ctx context.Context, providers []model.Provider, opts enrich.Options) enrich.Result
}

// BackendChooser picks the call backend for a batch.
type BackendChooser interface {
	Choose(ctx context.Context) (model.Backend, error)
}

// Recommender ranks call results.
type Recommender interface {
	Recommend(ctx context.Context, results []model.CallResult, criteria string, weights model.ScoringWeights) *model.RecommendationSet
}

// Deps are the collaborators a Coordinator drives.
type Deps struct {
	Store       store.Store
	Research    Researcher
	Geocoder    Geocoder
	Enricher    Enricher
	Router      BackendChooser
	Backends    map[model.Backend]dispatch.Backend
	Dispatcher  *dispatch.Dispatcher
	Recommender Recommender
	Notifier    notify.Notifier
}

// Config holds per-request defaults.
type Config struct {
	MaxProviders  int
	MinProviders  int
	RadiusMiles   float64
	MaxConcurrent int
	Enrich        enrich.Options
	Weights       model.ScoringWeights
	// Retry governs the dead letter queue of failed requests.
	Retry resilience.DLQPolicy
}

// Outcome is everything one request produced.
type Outcome struct {
	Request        model.OutreachRequest    `json:"request"`
	Research       *model.ResearchResult    `json:"research,omitempty"`
	Enrichment     *enrich.Stats            `json:"enrichment,omitempty"`
	Providers      []model.Provider         `json:"providers"`
	Dispatch       *dispatch.BatchResult    `json:"dispatch,omitempty"`
	Recommendation *model.RecommendationSet `json:"recommendation,omitempty"`
	Skipped        []model.ValidationError  `json:"skipped,omitempty"`
}

// Coordinator runs outreach requests.
type Coordinator struct {
	deps Deps
	cfg  Config
	now  func() time.Time

	mu    sync.Mutex
	tasks map[string]*Task
	wg    sync.WaitGroup
}

// New creates a Coordinator.
func New(deps Deps, cfg Config) *Coordinator {
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Dispatcher == nil {
		deps.Dispatcher = dispatch.New()
	}
	if cfg.Weights.Sum() == 0 {
		cfg.Weights = model.DefaultScoringWeights()
	}
	if cfg.Retry.MaxRetries <= 0 {
		cfg.Retry = resilience.DefaultDLQPolicy()
	}
	return &Coordinator{
		deps:  deps,
		cfg:   cfg,
		now:   time.Now,
		tasks: make(map[string]*Task),
	}
}

// Task is a submitted request running in the background.
type Task struct {
	ID      string
	done    chan struct{}
	outcome *Outcome
	err     error
}

// Done is closed when the task finishes.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) (*Outcome, error) {
	select {
	case <-t.done:
		return t.outcome, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Submit validates and persists req, then runs it in the background. The
// task outlives ctx's cancellation.
func (c *Coordinator) Submit(ctx context.Context, req model.OutreachRequest) (*Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := c.deps.Store.CreateRequest(ctx, &req); err != nil {
		return nil, eris.Wrap(err, "outreach: create request")
	}

	t := &Task{ID: req.ID, done: make(chan struct{})}
	c.mu.Lock()
	c.tasks[req.ID] = t
	c.mu.Unlock()

	runCtx := context.WithoutCancel(ctx)
	c.wg.Go(func() {
		defer close(t.done)
		defer func() {
			c.mu.Lock()
			delete(c.tasks, t.ID)
			c.mu.Unlock()
		}()
		t.outcome, t.err = c.execute(runCtx, req, nil)
	})
	return t, nil
}

// Task returns the in-flight task for a request id.
func (c *Coordinator) Task(id string) (*Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[id]
	return t, ok
}

// Shutdown waits for in-flight tasks until ctx is done.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "outreach: shutdown")
	}
}

// Run persists and executes req synchronously.
func (c *Coordinator) Run(ctx context.Context, req model.OutreachRequest) (*Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := c.deps.Store.CreateRequest(ctx, &req); err != nil {
		return nil, eris.Wrap(err, "outreach: create request")
	}
	return c.execute(ctx, req, nil)
}

// RetrySummary reports one pass over the dead letter queue.
type RetrySummary struct {
	Due       int      `json:"due"`
	Recovered int      `json:"recovered"`
	Failed    int      `json:"failed"`
	Requests  []string `json:"requests"`
}

// RetryFailed re-runs transient failures whose retry time has come, each as
// a new request. A recovered entry leaves the queue; a failed one is
// rescheduled with backoff until it runs out of retries.
func (c *Coordinator) RetryFailed(ctx context.Context, limit int) (*RetrySummary, error) {
	entries, err := c.deps.Store.DequeueDLQ(ctx, resilience.DLQFilter{ErrorType: resilience.ErrorTransient, Limit: limit})
	if err != nil {
		return nil, eris.Wrap(err, "outreach: dequeue failed requests")
	}
	sum := &RetrySummary{Due: len(entries), Requests: []string{}}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return sum, eris.Wrap(err, "outreach: retry failed requests")
		}
		req := e.Request
		req.ID, req.Status, req.Error = "", "", ""
		if err := c.deps.Store.CreateRequest(ctx, &req); err != nil {
			return sum, eris.Wrapf(err, "outreach: create retry of %s", e.ID)
		}
		sum.Requests = append(sum.Requests, req.ID)
		zap.L().Info("outreach: retrying failed request",
			zap.String("failed_id", e.ID),
			zap.String("request_id", req.ID),
			zap.Int("retry", e.RetryCount+1),
			zap.Int("max_retries", e.MaxRetries),
		)

		if _, err := c.execute(ctx, req, &e); err != nil {
			sum.Failed++
			continue
		}
		sum.Recovered++
		c.persist(ctx, zap.L().With(zap.String("request_id", req.ID)), "remove dead letter", func(ctx context.Context) error {
			return c.deps.Store.RemoveDLQ(ctx, e.ID)
		})
	}
	return sum, nil
}

// RunRetries calls RetryFailed on every tick until ctx is cancelled.
func (c *Coordinator) RunRetries(ctx context.Context, interval time.Duration, limit int) {
	log := zap.L().With(zap.String("component", "outreach.retry"))
	log.Info("starting retry loop", zap.Duration("interval", interval), zap.Int("limit", limit))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("retry loop stopped")
			return
		case <-ticker.C:
		}
		sum, err := c.RetryFailed(ctx, limit)
		if err != nil {
			log.Error("outreach: retry pass", zap.Error(err))
			continue
		}
		if sum.Due > 0 {
			log.Info("retry pass complete",
				zap.Int("due", sum.Due),
				zap.Int("recovered", sum.Recovered),
				zap.Int("failed", sum.Failed),
			)
		}
	}
}

// execute runs the pipeline and records the terminal state. Panics are
// converted to failures. prior is the dead letter being retried, if any.
func (c *Coordinator) execute(ctx context.Context, req model.OutreachRequest, prior *resilience.DLQEntry) (out *Outcome, err error) {
	start := c.now()
	out = &Outcome{Request: req, Providers: []model.Provider{}}
	log := zap.L().With(
		zap.String("request_id", req.ID),
		zap.String("service", req.Service),
		zap.String("location", req.Location),
	)

	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("outreach: panic: %v", r)
		}
		if err != nil {
			c.fail(ctx, log, out, err, prior)
		}
		metrics.RequestDuration.WithLabelValues(string(out.Request.Status)).Observe(c.now().Sub(start).Seconds())
	}()

	err = c.pipeline(ctx, log, out)
	if err != nil {
		return out, err
	}

	if err = c.advance(ctx, out, model.RequestComplete); err != nil {
		return out, err
	}
	log.Info("outreach: request complete",
		zap.Int("providers", len(out.Providers)),
		zap.Int("recommended", len(out.Recommendation.Recommendations)),
		zap.Duration("elapsed", c.now().Sub(start)),
	)
	c.notify(ctx, notify.Event{
		Type:      notify.EventRequestComplete,
		RequestID: req.ID,
		Severity:  "info",
		Message:   completeMessage(out.Recommendation),
		Details: map[string]any{
			"service":     req.Service,
			"location":    req.Location,
			"recommended": len(out.Recommendation.Recommendations),
			"method":      out.Recommendation.Method,
		},
	})
	return out, nil
}

// resolveOrigin fills in req.Origin from its location. Without an origin,
// distances are simply left unset.
func (c *Coordinator) resolveOrigin(ctx context.Context, log *zap.Logger, req *model.OutreachRequest) {
	if req.Origin != nil || c.deps.Geocoder == nil {
		return
	}
	res, err := c.deps.Geocoder.Geocode(ctx, req.Location)
	if err != nil {
		log.Warn("outreach: geocode failed", zap.String("location", req.Location), zap.Error(err))
		return
	}
	if !res.Matched {
		log.Info("outreach: location not geocoded", zap.String("location", req.Location))
		return
	}
	req.Origin = &model.LatLng{Lat: res.Latitude, Lng: res.Longitude}
}

func (c *Coordinator) pipeline(ctx context.Context, log *zap.Logger, out *Outcome) error {
	req := &out.Request

	// Research.
	if err := c.advance(ctx, out, model.RequestResearching); err != nil {
		return err
	}
	c.resolveOrigin(ctx, log, req)
	maxProviders := req.MaxProviders
	if maxProviders <= 0 {
		maxProviders = c.cfg.MaxProviders
	}
	res, err := c.deps.Research.Search(ctx, research.Query{
		Service:     req.Service,
		Location:    req.Location,
		Origin:      req.Origin,
		RadiusMiles: c.cfg.RadiusMiles,
		MaxResults:  maxProviders,
		MinResults:  c.cfg.MinProviders,
	})
	if err != nil {
		return eris.Wrap(err, "outreach: research")
	}
	out.Research = &res
	if res.Status == model.ResearchError {
		return eris.Errorf("outreach: research failed: %s", res.Error)
	}
	out.Providers = res.Providers
	c.persist(ctx, log, "save providers", func(ctx context.Context) error {
		return c.deps.Store.SaveProviders(ctx, req.ID, out.Providers)
	})
	log.Info("outreach: research done",
		zap.String("method", string(res.Method)),
		zap.String("status", string(res.Status)),
		zap.Int("providers", len(res.Providers)),
	)

	// Enrichment.
	if err := c.advance(ctx, out, model.RequestEnriching); err != nil {
		return err
	}
	if c.deps.Enricher != nil {
		opts := c.cfg.Enrich
		opts.Origin = req.Origin
		er := c.deps.Enricher.Enrich(ctx, out.Providers, opts)
		out.Providers = er.Providers
		out.Enrichment = &er.Stats
		c.persist(ctx, log, "save enriched providers", func(ctx context.Context) error {
			return c.deps.Store.SaveProviders(ctx, req.ID, out.Providers)
		})
	}

	// Calls.
	if err := c.advance(ctx, out, model.RequestCalling); err != nil {
		return err
	}
	calls := c.buildCalls(log, out)
	if len(calls) == 0 {
		return eris.New("outreach: no callable providers")
	}
	name, err := c.deps.Router.Choose(ctx)
	if err != nil {
		return eris.Wrap(err, "outreach: choose backend")
	}
	backend, ok := c.deps.Backends[name]
	if !ok {
		return eris.Errorf("outreach: no %s backend configured", name)
	}
	br := c.deps.Dispatcher.DispatchBatch(ctx, calls, backend, c.cfg.MaxConcurrent)
	out.Dispatch = &br
	c.persist(ctx, log, "save call results", func(ctx context.Context) error {
		return c.deps.Store.SaveCallResults(ctx, req.ID, br.Results)
	})
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "outreach: calling")
	}

	// Analysis.
	if err := c.advance(ctx, out, model.RequestAnalyzing); err != nil {
		return err
	}
	set := c.deps.Recommender.Recommend(ctx, br.Results, req.Criteria, c.cfg.Weights)
	out.Recommendation = set
	c.persist(ctx, log, "save recommendation", func(ctx context.Context) error {
		return c.deps.Store.SaveRecommendation(ctx, req.ID, set)
	})
	return nil
}

// buildCalls converts providers into call requests, skipping any whose
// phone cannot be normalized.
func (c *Coordinator) buildCalls(log *zap.Logger, out *Outcome) []model.CallRequest {
	calls := make([]model.CallRequest, 0, len(out.Providers))
	for _, p := range out.Providers {
		cr, err := model.NewCallRequest(out.Request, p)
		if err != nil {
			var ve *model.ValidationError
			if errors.As(err, &ve) {
				out.Skipped = append(out.Skipped, *ve)
			}
			log.Warn("outreach: skipping provider", zap.String("provider", p.Name), zap.Error(err))
			continue
		}
		calls = append(calls, cr)
	}
	return calls
}

// advance moves the request to next and records the transition.
func (c *Coordinator) advance(ctx context.Context, out *Outcome, next model.RequestStatus) error {
	cur := out.Request.Status
	if !cur.CanTransition(next) {
		return eris.Errorf("outreach: illegal transition %s -> %s", cur, next)
	}
	out.Request.Status = next
	out.Request.UpdatedAt = c.now().UTC()
	metrics.RequestTransitions.WithLabelValues(string(next)).Inc()

	c.persist(ctx, zap.L().With(zap.String("request_id", out.Request.ID)), "update status", func(ctx context.Context) error {
		return c.deps.Store.UpdateRequestStatus(ctx, out.Request.ID, next, out.Request.Error)
	})
	return nil
}

func (c *Coordinator) fail(ctx context.Context, log *zap.Logger, out *Outcome, cause error, prior *resilience.DLQEntry) {
	if out.Request.Status.Terminal() {
		return
	}
	phase := string(out.Request.Status)
	out.Request.Error = cause.Error()
	// Recording the failure must survive the cancellation that caused it.
	ctx = context.WithoutCancel(ctx)
	if err := c.advance(ctx, out, model.RequestFailed); err != nil {
		log.Error("outreach: record failure", zap.Error(err))
	}
	log.Error("outreach: request failed", zap.String("phase", phase), zap.Error(cause))
	c.deadLetter(ctx, log, out.Request, phase, cause, prior)
	c.notify(ctx, notify.Event{
		Type:      notify.EventRequestFailed,
		RequestID: out.Request.ID,
		Severity:  "high",
		Message:   out.Request.Error,
		Details: map[string]any{
			"service":  out.Request.Service,
			"location": out.Request.Location,
		},
	})
}

// deadLetter queues a first failure, or reschedules the entry being retried.
func (c *Coordinator) deadLetter(ctx context.Context, log *zap.Logger, req model.OutreachRequest, phase string, cause error, prior *resilience.DLQEntry) {
	now := c.now().UTC()
	if prior != nil {
		next := c.cfg.Retry.NextRetryAt(*prior, now)
		c.persist(ctx, log, "reschedule dead letter", func(ctx context.Context) error {
			return c.deps.Store.IncrementDLQRetry(ctx, prior.ID, next, cause.Error())
		})
		return
	}
	entry := c.cfg.Retry.NewEntry(req, phase, cause, now)
	log.Info("outreach: queued for retry",
		zap.String("error_type", entry.ErrorType),
		zap.Time("next_retry_at", entry.NextRetryAt),
		zap.Bool("retryable", entry.CanRetry()),
	)
	c.persist(ctx, log, "enqueue dead letter", func(ctx context.Context) error {
		return c.deps.Store.EnqueueDLQ(ctx, entry)
	})
}

func (c *Coordinator) persist(ctx context.Context, log *zap.Logger, op string, fn func(ctx context.Context) error) {
	if err := fn(ctx); err != nil {
		log.Error("outreach: store "+op, zap.Error(err))
	}
}

func (c *Coordinator) notify(ctx context.Context, ev notify.Event) {
	if err := c.deps.Notifier.Notify(ctx, ev); err != nil {
		zap.L().Warn("outreach: notification failed",
			zap.String("request_id", ev.RequestID),
			zap.String("type", string(ev.Type)),
			zap.Error(err),
		)
	}
}

func completeMessage(set *model.RecommendationSet) string {
	if set == nil || len(set.Recommendations) == 0 {
		return "No providers qualified."
	}
	top := set.Recommendations[0]
	return fmt.Sprintf("%d provider(s) recommended; top: %s (score %.0f)", len(set.Recommendations), top.ProviderName, top.Score)
}
