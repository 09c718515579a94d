// Package router chooses between the workflow orchestrator and the direct
// call-automation client for a batch of work.
package router

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
)

// DefaultProbeTimeout bounds the orchestrator health probe.
const DefaultProbeTimeout = 3 * time.Second

// HealthChecker probes the orchestrator.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Policy configures backend selection.
type Policy struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	Endpoint     string        `yaml:"endpoint" mapstructure:"endpoint"`
	Strict       bool          `yaml:"strict" mapstructure:"strict"`
	ProbeTimeout time.Duration `yaml:"probe_timeout" mapstructure:"probe_timeout"`
}

// Decision records the outcome of a Choose call.
type Decision struct {
	Backend   model.Backend `json:"backend"`
	Reason    string        `json:"reason"`
	ProbeErr  string        `json:"probe_error,omitempty"`
	ProbeTook time.Duration `json:"probe_took_ns,omitempty"`
}

// Router picks a backend once per batch.
type Router struct {
	policy Policy
	health HealthChecker
	// Observe, when set, is called with every decision.
	Observe func(Decision)
}

// New creates a Router. health may be nil when no orchestrator is configured.
func New(policy Policy, health HealthChecker) *Router {
	if policy.ProbeTimeout <= 0 {
		policy.ProbeTimeout = DefaultProbeTimeout
	}
	return &Router{policy: policy, health: health}
}

// Policy returns the router's policy.
func (r *Router) Policy() Policy {
	return r.policy
}

// Choose returns the backend to use for one batch. With strict mode set, a
// failed probe returns model.ErrBackendUnavailable instead of falling back.
func (r *Router) Choose(ctx context.Context) (model.Backend, error) {
	d, err := r.Decide(ctx)
	return d.Backend, err
}

// Decide is Choose with the reasoning attached.
func (r *Router) Decide(ctx context.Context) (Decision, error) {
	log := zap.L().With(zap.String("component", "router"))

	if !r.policy.Enabled || r.policy.Endpoint == "" || r.health == nil {
		d := Decision{Backend: model.BackendDirect, Reason: "orchestrator disabled or unconfigured"}
		r.observe(d)
		return d, nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, r.policy.ProbeTimeout)
	defer cancel()

	start := time.Now()
	err := r.health.Health(probeCtx)
	took := time.Since(start)

	if err == nil {
		d := Decision{Backend: model.BackendOrchestrator, Reason: "orchestrator healthy", ProbeTook: took}
		r.observe(d)
		return d, nil
	}

	if r.policy.Strict {
		log.Error("orchestrator unhealthy in strict mode",
			zap.String("endpoint", r.policy.Endpoint),
			zap.Error(err),
		)
		d := Decision{Reason: "orchestrator unhealthy (strict)", ProbeErr: err.Error(), ProbeTook: took}
		r.observe(d)
		return d, eris.Wrapf(model.ErrBackendUnavailable, "router: orchestrator %s: %v", r.policy.Endpoint, err)
	}

	log.Warn("orchestrator unhealthy, falling back to direct",
		zap.String("endpoint", r.policy.Endpoint),
		zap.Error(err),
	)
	d := Decision{Backend: model.BackendDirect, Reason: "orchestrator unhealthy, fallback", ProbeErr: err.Error(), ProbeTook: took}
	r.observe(d)
	return d, nil
}

func (r *Router) observe(d Decision) {
	if r.Observe != nil {
		r.Observe(d)
	}
}
