package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/pkg/workflow"
)

// DefaultCallFlow is the orchestrator flow that places one call.
const DefaultCallFlow = "place_call"

// OrchestratorBackend places calls by triggering a workflow per request.
type OrchestratorBackend struct {
	client workflow.Client
	flowID string
	poll   PollConfig
	sleep  func(ctx context.Context, d time.Duration) error
}

// OrchestratorOption configures an OrchestratorBackend.
type OrchestratorOption func(*OrchestratorBackend)

// WithOrchestratorSleep replaces the poll sleep.
func WithOrchestratorSleep(fn func(ctx context.Context, d time.Duration) error) OrchestratorOption {
	return func(b *OrchestratorBackend) {
		b.sleep = fn
	}
}

// NewOrchestratorBackend creates an OrchestratorBackend. An empty flowID
// uses DefaultCallFlow.
func NewOrchestratorBackend(client workflow.Client, flowID string, poll PollConfig, opts ...OrchestratorOption) *OrchestratorBackend {
	if flowID == "" {
		flowID = DefaultCallFlow
	}
	b := &OrchestratorBackend{
		client: client,
		flowID: flowID,
		poll:   poll.withDefaults(),
		sleep:  resilience.Sleep,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Name implements Backend.
func (b *OrchestratorBackend) Name() model.Backend {
	return model.BackendOrchestrator
}

func callInputs(req model.CallRequest) map[string]any {
	return map[string]any{
		"provider_name":      req.ProviderName,
		"provider_phone":     req.ProviderPhone,
		"service_needed":     req.ServiceNeeded,
		"user_criteria":      req.UserCriteria,
		"location":           req.Location,
		"urgency":            string(req.Urgency),
		"service_request_id": req.ServiceRequestID,
		"provider_id":        req.ProviderID,
		"custom_prompt":      req.CustomPrompt,
	}
}

// Call triggers the call flow and polls the execution until it settles.
// Failures come back as error results, never as a Go error.
func (b *OrchestratorBackend) Call(ctx context.Context, req model.CallRequest) model.CallResult {
	log := zap.L().With(
		zap.String("backend", "orchestrator"),
		zap.String("flow", b.flowID),
		zap.String("provider", req.ProviderName),
	)

	exec, err := b.client.TriggerExecution(ctx, b.flowID, callInputs(req))
	if err != nil {
		perr := &model.CallPlacementError{
			Provider:   req.ProviderName,
			Phone:      req.ProviderPhone,
			StatusCode: resilience.StatusCode(err),
			Err:        err,
		}
		log.Error("workflow trigger failed", zap.Error(err))
		return model.ErrorResult(req, model.BackendOrchestrator, perr)
	}
	log = log.With(zap.String("execution_id", exec.ID))

	for attempt := 1; attempt <= b.poll.MaxPolls; attempt++ {
		if exec.State.Terminal() {
			return FromExecution(exec, req)
		}
		if err := b.sleep(ctx, b.poll.Interval); err != nil {
			log.Warn("poll interrupted", zap.Error(err))
			break
		}
		next, err := b.client.GetExecution(ctx, exec.ID)
		if err != nil {
			log.Debug("get execution failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		exec = next
	}
	if exec.State.Terminal() {
		return FromExecution(exec, req)
	}

	log.Warn("execution timed out", zap.String("state", string(exec.State)))
	return timeoutResult(req, model.BackendOrchestrator, "", time.Duration(b.poll.MaxPolls)*b.poll.Interval)
}
