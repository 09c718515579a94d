package main

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/callcache"
	"github.com/sells-group/outreach-cli/internal/dispatch"
	"github.com/sells-group/outreach-cli/internal/enrich"
	"github.com/sells-group/outreach-cli/internal/metrics"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/notify"
	"github.com/sells-group/outreach-cli/internal/outreach"
	"github.com/sells-group/outreach-cli/internal/recommend"
	"github.com/sells-group/outreach-cli/internal/research"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/router"
	"github.com/sells-group/outreach-cli/internal/store"
	anthropicpkg "github.com/sells-group/outreach-cli/pkg/anthropic"
	"github.com/sells-group/outreach-cli/pkg/geocode"
	"github.com/sells-group/outreach-cli/pkg/google"
	"github.com/sells-group/outreach-cli/pkg/voice"
	"github.com/sells-group/outreach-cli/pkg/workflow"
)

// appEnv holds every initialized client and component needed by the
// commands. Fields are nil when their backing service is not configured.
type appEnv struct {
	Store       store.Store
	Cache       callcache.Store
	Memory      *callcache.Memory // set when Cache is in-process
	Router      *router.Router
	Workflow    workflow.Client
	Places      google.Client
	Geocoder    geocode.Client
	Research    *research.Service
	Enricher    *enrich.Enricher
	Dispatcher  *dispatch.Dispatcher
	Backends    map[model.Backend]dispatch.Backend
	Recommender *recommend.Engine
	Notifier    notify.Notifier
	Coordinator *outreach.Coordinator

	closers []func()
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// initEnv validates the config for mode and builds the environment.
// Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	env := &appEnv{Backends: make(map[model.Backend]dispatch.Backend)}

	if mode == "serve" || mode == "outreach" {
		st, err := initStore(ctx)
		if err != nil {
			return nil, err
		}
		env.closers = append(env.closers, func() { _ = st.Close() })
		if err := st.Migrate(ctx); err != nil {
			env.Close()
			return nil, eris.Wrap(err, "migrate store")
		}
		env.Store = st
	}

	if err := env.initCache(ctx); err != nil {
		env.Close()
		return nil, err
	}
	if err := env.initWorkflow(); err != nil {
		env.Close()
		return nil, err
	}

	var health router.HealthChecker
	if env.Workflow != nil {
		health = env.Workflow
	}
	env.Router = router.New(router.Policy{
		Enabled:      cfg.Orchestrator.Enabled,
		Endpoint:     cfg.Orchestrator.Endpoint,
		Strict:       cfg.Orchestrator.Strict,
		ProbeTimeout: cfg.Orchestrator.ProbeTimeout,
	}, health)
	env.Router.Observe = func(d router.Decision) {
		metrics.BackendDecisions.WithLabelValues(string(d.Backend), d.Reason).Inc()
	}

	// Google Places (optional when the orchestrator handles research).
	if cfg.Google.Key != "" {
		env.Places = google.NewClient(cfg.Google.Key, google.WithBaseURL(cfg.Google.BaseURL))
		env.Enricher = enrich.New(env.Places, enrich.WithRateLimit(cfg.Enrich.RatePerSec, cfg.Enrich.Burst))
	} else {
		zap.L().Debug("OUTREACH_GOOGLE_KEY not set, places search and enrichment disabled")
	}

	if cfg.Geocode.Enabled {
		gopts := []geocode.Option{geocode.WithRateLimit(cfg.Geocode.RatePerSec)}
		if cfg.Google.Key != "" {
			gopts = append(gopts, geocode.WithGoogleAPIKey(cfg.Google.Key))
		}
		env.Geocoder = geocode.NewClient(gopts...)
	}

	researchOpts := []research.Option{
		research.WithPoll(cfg.Orchestrator.PollInterval, cfg.Orchestrator.MaxPolls),
	}
	if env.Workflow != nil {
		researchOpts = append(researchOpts, research.WithWorkflow(env.Workflow, cfg.Orchestrator.ResearchFlow))
	}
	env.Research = research.New(env.Router, env.Places, researchOpts...)

	env.Dispatcher = dispatch.New(dispatch.WithWindowDelay(cfg.Dispatch.WindowDelay))
	if cfg.Voice.Key != "" {
		vc := voice.NewClient(cfg.Voice.Key, voice.WithBaseURL(cfg.Voice.BaseURL))
		env.Backends[model.BackendDirect] = dispatch.NewDirectBackend(vc, dispatch.AssistantConfig{
			PhoneNumberID:      cfg.Voice.PhoneNumberID,
			AssistantID:        cfg.Voice.AssistantID,
			ModelProvider:      cfg.Voice.ModelProvider,
			Model:              cfg.Voice.Model,
			ServerURL:          cfg.Voice.ServerURL,
			MaxDurationSeconds: cfg.Voice.MaxDurationSeconds,
		},
			dispatch.WithCache(env.Cache),
			dispatch.WithPoll(dispatch.PollConfig{Interval: cfg.Voice.PollInterval, MaxPolls: cfg.Voice.MaxPolls}),
		)
	}
	if env.Workflow != nil {
		env.Backends[model.BackendOrchestrator] = dispatch.NewOrchestratorBackend(env.Workflow, cfg.Orchestrator.CallFlow,
			dispatch.PollConfig{Interval: cfg.Orchestrator.PollInterval, MaxPolls: cfg.Orchestrator.MaxPolls})
	}

	var oracle anthropicpkg.Client
	if cfg.Anthropic.Key != "" {
		opts := []anthropicpkg.Option{anthropicpkg.WithMaxRetries(cfg.Anthropic.MaxRetries)}
		if cfg.Anthropic.BaseURL != "" {
			opts = append(opts, anthropicpkg.WithBaseURL(cfg.Anthropic.BaseURL))
		}
		oracle = anthropicpkg.NewClient(cfg.Anthropic.Key, opts...)
	} else {
		zap.L().Warn("OUTREACH_ANTHROPIC_KEY not set, recommendations use call-order fallback")
	}
	env.Recommender = recommend.New(oracle,
		recommend.WithModel(cfg.Anthropic.Model),
		recommend.WithMaxTokens(cfg.Anthropic.MaxTokens),
	)

	env.Notifier = notify.New(cfg.Notify.WebhookURL, notify.WithToken(cfg.Notify.Token))

	if env.Store != nil {
		deps := outreach.Deps{
			Store:       env.Store,
			Research:    env.Research,
			Router:      env.Router,
			Backends:    env.Backends,
			Dispatcher:  env.Dispatcher,
			Recommender: env.Recommender,
			Notifier:    env.Notifier,
		}
		if env.Enricher != nil {
			deps.Enricher = env.Enricher
		}
		if env.Geocoder != nil {
			deps.Geocoder = env.Geocoder
		}
		env.Coordinator = outreach.New(deps, outreach.Config{
			MaxProviders:  cfg.Research.MaxResults,
			MinProviders:  cfg.Research.MinResults,
			RadiusMiles:   cfg.Research.RadiusMiles,
			MaxConcurrent: cfg.Dispatch.MaxConcurrent,
			Enrich:        enrichOptions(),
			Weights:       cfg.Scoring.Weights,
			Retry:         resilience.FromDLQConfig(cfg.Retry.MaxRetries, cfg.Retry.BaseBackoff, cfg.Retry.MaxBackoff),
		})
	}

	return env, nil
}

func enrichOptions() enrich.Options {
	return enrich.Options{
		MinWithPhone: cfg.Enrich.MinWithPhone,
		MaxToEnrich:  cfg.Enrich.MaxToEnrich,
		RequirePhone: cfg.Enrich.RequirePhone,
		BatchSize:    cfg.Enrich.BatchSize,
		BatchDelay:   cfg.Enrich.BatchDelay,
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "outreach.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func (e *appEnv) initCache(ctx context.Context) error {
	switch cfg.Cache.Backend {
	case "", "memory":
		e.Memory = callcache.NewMemory(callcache.WithDefaultTTL(cfg.Cache.TTL))
		e.Cache = e.Memory
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return eris.Wrapf(err, "redis: ping %s", cfg.Redis.Addr)
		}
		e.closers = append(e.closers, func() { _ = rdb.Close() })
		e.Cache = callcache.NewRedis(rdb, cfg.Redis.KeyPrefix, cfg.Cache.TTL)
	default:
		return eris.Errorf("unsupported cache backend: %s", cfg.Cache.Backend)
	}
	return nil
}

func (e *appEnv) initWorkflow() error {
	if !cfg.Orchestrator.Enabled {
		return nil
	}
	switch cfg.Orchestrator.Kind {
	case "temporal":
		tc, err := workflow.DialTemporal(cfg.Orchestrator.Endpoint, cfg.Orchestrator.Namespace)
		if err != nil {
			return err
		}
		e.closers = append(e.closers, tc.Close)
		e.Workflow = workflow.NewTemporalClient(tc, cfg.Orchestrator.TaskQueue)
	case "", "http":
		e.Workflow = workflow.NewHTTPClient(cfg.Orchestrator.Endpoint,
			workflow.WithNamespace(cfg.Orchestrator.Namespace),
			workflow.WithToken(cfg.Orchestrator.Token),
		)
	default:
		return eris.Errorf("unsupported orchestrator kind: %s", cfg.Orchestrator.Kind)
	}
	zap.L().Info("orchestrator configured",
		zap.String("kind", cfg.Orchestrator.Kind),
		zap.String("endpoint", cfg.Orchestrator.Endpoint),
		zap.Bool("strict", cfg.Orchestrator.Strict),
	)
	return nil
}

// DispatchRequests picks a backend through the router and runs one batch.
func (e *appEnv) DispatchRequests(ctx context.Context, reqs []model.CallRequest, maxConcurrent int) (dispatch.BatchResult, error) {
	name, err := e.Router.Choose(ctx)
	if err != nil {
		return dispatch.BatchResult{}, err
	}
	backend, ok := e.Backends[name]
	if !ok {
		return dispatch.BatchResult{}, eris.Errorf("dispatch: no %s backend configured", name)
	}
	if maxConcurrent <= 0 {
		maxConcurrent = cfg.Dispatch.MaxConcurrent
	}
	return e.Dispatcher.DispatchBatch(ctx, reqs, backend, maxConcurrent), nil
}
