// Package dispatch places batches of calls in bounded concurrent windows and
// normalizes every outcome into a model.CallResult.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/outreach-cli/internal/metrics"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
)

const (
	// DefaultMaxConcurrent is the window size when none is given.
	DefaultMaxConcurrent = 5
	// DefaultWindowDelay separates consecutive windows.
	DefaultWindowDelay = 500 * time.Millisecond
)

// Backend places a single call and always returns a result. Failures are
// reported as error-status results, never as a missing value.
type Backend interface {
	Name() model.Backend
	Call(ctx context.Context, req model.CallRequest) model.CallResult
}

// Error kinds recorded in DispatchError.
const (
	KindValidation = "validation"
	KindPlacement  = "placement"
	KindCanceled   = "canceled"
	KindPanic      = "panic"
)

// DispatchError describes a request whose call was never placed.
type DispatchError struct {
	Index         int    `json:"index"`
	ProviderName  string `json:"provider_name"`
	ProviderPhone string `json:"provider_phone"`
	Kind          string `json:"kind"`
	Message       string `json:"message"`
}

// Stats counts results by status. Every error-status result is a dispatch
// failure, whether or not the backend raised.
type Stats struct {
	Total       int   `json:"total"`
	Completed   int   `json:"completed"`
	NoAnswer    int   `json:"no_answer"`
	Voicemail   int   `json:"voicemail"`
	Timeout     int   `json:"timeout"`
	Error       int   `json:"error"`
	Windows     int   `json:"windows"`
	WindowSizes []int `json:"window_sizes"`
	Placed      int   `json:"placed"`
	Failed      int   `json:"failed"`
}

// Succeeded reports whether every call was placed.
func (s Stats) Succeeded() bool {
	return s.Failed == 0
}

// BatchResult holds one result per request, positionally aligned.
type BatchResult struct {
	Backend model.Backend      `json:"backend"`
	Results []model.CallResult `json:"results"`
	Stats   Stats              `json:"stats"`
	Errors  []DispatchError    `json:"errors"`
}

// Dispatcher runs batches against a Backend.
type Dispatcher struct {
	windowDelay time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithWindowDelay sets the pause between windows.
func WithWindowDelay(d time.Duration) Option {
	return func(ds *Dispatcher) {
		ds.windowDelay = d
	}
}

// WithSleep replaces the inter-window sleep.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(ds *Dispatcher) {
		ds.sleep = fn
	}
}

// New creates a Dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		windowDelay: DefaultWindowDelay,
		sleep:       resilience.Sleep,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Windows returns the sizes of the windows n requests split into.
func Windows(n, maxConcurrent int) []int {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	var sizes []int
	for start := 0; start < n; start += maxConcurrent {
		sizes = append(sizes, min(maxConcurrent, n-start))
	}
	return sizes
}

// DispatchBatch places every request and returns exactly len(reqs) results
// in input order. Requests run maxConcurrent at a time; a window finishes
// completely before the next one starts.
func (d *Dispatcher) DispatchBatch(ctx context.Context, reqs []model.CallRequest, backend Backend, maxConcurrent int) BatchResult {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	name := backend.Name()
	log := zap.L().With(zap.String("component", "dispatch"), zap.String("backend", string(name)))

	results := make([]model.CallResult, len(reqs))
	kinds := make([]string, len(reqs))
	sizes := Windows(len(reqs), maxConcurrent)

	log.Info("dispatching batch",
		zap.Int("requests", len(reqs)),
		zap.Int("max_concurrent", maxConcurrent),
		zap.Int("windows", len(sizes)),
	)

	start := 0
	for w, size := range sizes {
		window := reqs[start : start+size]
		offset := start
		start += size

		if w > 0 && d.windowDelay > 0 {
			_ = d.sleep(ctx, d.windowDelay)
		}
		if err := ctx.Err(); err != nil {
			for i := range window {
				results[offset+i] = model.ErrorResult(window[i], name, eris.Wrap(err, "dispatch: batch canceled before call"))
				kinds[offset+i] = KindCanceled
			}
			continue
		}

		var g errgroup.Group
		for i, req := range window {
			idx := offset + i
			if err := req.Validate(); err != nil {
				results[idx] = model.ErrorResult(req, name, err)
				kinds[idx] = KindValidation
				continue
			}
			g.Go(func() error {
				results[idx], kinds[idx] = d.callOne(ctx, backend, req)
				return nil
			})
		}
		_ = g.Wait()

		log.Debug("window complete", zap.Int("window", w+1), zap.Int("size", size))
	}

	br := BatchResult{Backend: name, Results: results}
	br.Stats, br.Errors = summarize(results, kinds, sizes)
	record(name, br)

	log.Info("batch complete",
		zap.Int("completed", br.Stats.Completed),
		zap.Int("no_answer", br.Stats.NoAnswer),
		zap.Int("voicemail", br.Stats.Voicemail),
		zap.Int("timeout", br.Stats.Timeout),
		zap.Int("failed", br.Stats.Failed),
	)
	if !br.Stats.Succeeded() {
		log.Warn("calls were not placed", zap.Int("failed", br.Stats.Failed), zap.Int("total", br.Stats.Total))
	}
	return br
}

func (d *Dispatcher) callOne(ctx context.Context, backend Backend, req model.CallRequest) (res model.CallResult, kind string) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("dispatch: backend panicked",
				zap.String("provider", req.ProviderName),
				zap.Any("panic", r),
			)
			res = model.ErrorResult(req, backend.Name(), fmt.Errorf("dispatch: backend panic: %v", r))
			kind = KindPanic
		}
	}()

	res = backend.Call(ctx, req)
	if res.Backend == "" {
		res.Backend = backend.Name()
	}
	if res.ProviderName == "" {
		res.ProviderName = req.ProviderName
	}
	if res.ProviderPhone == "" {
		res.ProviderPhone = req.ProviderPhone
	}
	if res.ProviderID == "" {
		res.ProviderID = req.ProviderID
	}
	if res.ServiceRequestID == "" {
		res.ServiceRequestID = req.ServiceRequestID
	}
	if !knownStatus(res.Status) {
		if res.Error == "" {
			res.Error = fmt.Sprintf("dispatch: backend returned unknown status %q", res.Status)
		}
		res.Status = model.CallError
	}
	if res.Status == model.CallError {
		kind = KindPlacement
	}
	return res, kind
}

func knownStatus(s model.CallStatus) bool {
	switch s {
	case model.CallCompleted, model.CallNoAnswer, model.CallVoicemail, model.CallTimeout, model.CallError:
		return true
	}
	return false
}

func summarize(results []model.CallResult, kinds []string, sizes []int) (Stats, []DispatchError) {
	s := Stats{Total: len(results), Windows: len(sizes), WindowSizes: sizes}
	errs := []DispatchError{}
	for i, r := range results {
		switch r.Status {
		case model.CallCompleted:
			s.Completed++
		case model.CallNoAnswer:
			s.NoAnswer++
		case model.CallVoicemail:
			s.Voicemail++
		case model.CallTimeout:
			s.Timeout++
		default:
			s.Error++
		}
		if r.Placed() {
			s.Placed++
			continue
		}
		s.Failed++
		kind := kinds[i]
		if kind == "" {
			kind = KindPlacement
		}
		errs = append(errs, DispatchError{
			Index:         i,
			ProviderName:  r.ProviderName,
			ProviderPhone: r.ProviderPhone,
			Kind:          kind,
			Message:       r.Error,
		})
	}
	return s, errs
}

func record(backend model.Backend, br BatchResult) {
	b := string(backend)
	metrics.DispatchWindows.Observe(float64(br.Stats.Windows))
	for _, r := range br.Results {
		metrics.CallsDispatched.WithLabelValues(b, string(r.Status)).Inc()
		if r.DurationSeconds > 0 {
			metrics.CallDuration.WithLabelValues(b).Observe(r.DurationSeconds)
		}
	}
	if br.Stats.Failed > 0 {
		metrics.DispatchFailures.WithLabelValues(b).Add(float64(br.Stats.Failed))
	}
}
