package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/callcache"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/pkg/voice"
)

// Poll bounds shared by both backends: 36 attempts 5s apart.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultMaxPolls     = 36
)

// PollConfig bounds a poll loop.
type PollConfig struct {
	Interval time.Duration
	MaxPolls int
}

func (p PollConfig) withDefaults() PollConfig {
	if p.Interval <= 0 {
		p.Interval = DefaultPollInterval
	}
	if p.MaxPolls <= 0 {
		p.MaxPolls = DefaultMaxPolls
	}
	return p
}

// DirectBackend places calls straight through the voice client. Results
// delivered by webhook into the cache are picked up before polling.
type DirectBackend struct {
	client    voice.Client
	cache     callcache.Store
	assistant AssistantConfig
	poll      PollConfig
	retry     resilience.Policy
	sleep     func(ctx context.Context, d time.Duration) error
}

// DirectOption configures a DirectBackend.
type DirectOption func(*DirectBackend)

// WithCache lets the backend read webhook-delivered results.
func WithCache(c callcache.Store) DirectOption {
	return func(b *DirectBackend) {
		b.cache = c
	}
}

// WithPoll overrides the poll bounds.
func WithPoll(p PollConfig) DirectOption {
	return func(b *DirectBackend) {
		b.poll = p.withDefaults()
	}
}

// WithCreateRetry sets the retry policy for call creation.
func WithCreateRetry(p resilience.Policy) DirectOption {
	return func(b *DirectBackend) {
		b.retry = p
	}
}

// WithPollSleep replaces the poll sleep.
func WithPollSleep(fn func(ctx context.Context, d time.Duration) error) DirectOption {
	return func(b *DirectBackend) {
		b.sleep = fn
	}
}

// NewDirectBackend creates a DirectBackend.
func NewDirectBackend(client voice.Client, assistant AssistantConfig, opts ...DirectOption) *DirectBackend {
	p := resilience.DefaultPolicy()
	p.OnRetry = resilience.LogRetry("voice", "create_call")
	b := &DirectBackend{
		client:    client,
		assistant: assistant,
		poll:      PollConfig{}.withDefaults(),
		retry:     p,
		sleep:     resilience.Sleep,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Name implements Backend.
func (b *DirectBackend) Name() model.Backend {
	return model.BackendDirect
}

// Call creates the call, then waits for its outcome. A rejected create is
// an error result carrying a CallPlacementError; running out of polls is a
// timeout.
func (b *DirectBackend) Call(ctx context.Context, req model.CallRequest) model.CallResult {
	log := zap.L().With(
		zap.String("backend", "direct"),
		zap.String("provider", req.ProviderName),
	)

	created, err := resilience.RetryVal(ctx, b.retry, func(ctx context.Context) (*voice.Call, error) {
		return b.client.CreateCall(ctx, BuildCreateCall(req, b.assistant))
	})
	if err != nil {
		perr := &model.CallPlacementError{
			Provider:   req.ProviderName,
			Phone:      req.ProviderPhone,
			StatusCode: resilience.StatusCode(err),
			Err:        err,
		}
		log.Error("call placement failed", zap.Int("status_code", perr.StatusCode), zap.Error(err))
		return model.ErrorResult(req, model.BackendDirect, perr)
	}

	callID := created.ID
	log = log.With(zap.String("call_id", callID))
	log.Info("call placed")

	for attempt := 1; attempt <= b.poll.MaxPolls; attempt++ {
		if err := b.sleep(ctx, b.poll.Interval); err != nil {
			log.Warn("poll interrupted", zap.Error(err))
			break
		}

		if b.cache != nil {
			if cached, ok, err := b.cache.Get(ctx, callID); err != nil {
				log.Debug("cache lookup failed", zap.Error(err))
			} else if ok {
				return mergeEcho(cached, req)
			}
		}

		call, err := b.client.GetCall(ctx, callID)
		if err != nil {
			log.Debug("get call failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		if call.Ended() {
			return FromVoiceCall(call, req)
		}
	}

	log.Warn("call timed out waiting for result", zap.Int("max_polls", b.poll.MaxPolls))
	return timeoutResult(req, model.BackendDirect, callID, time.Duration(b.poll.MaxPolls)*b.poll.Interval)
}

// mergeEcho fills the request echo fields on a result that came from the
// webhook path, where only call metadata was available.
func mergeEcho(r model.CallResult, req model.CallRequest) model.CallResult {
	r.Backend = model.BackendDirect
	r.ProviderName = req.ProviderName
	r.ProviderPhone = req.ProviderPhone
	r.ProviderID = req.ProviderID
	r.ServiceRequestID = req.ServiceRequestID
	return r
}
