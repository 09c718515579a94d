package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/callcache"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/pkg/voice"
	voicemocks "github.com/sells-group/outreach-cli/pkg/voice/mocks"
)

func fastPoll() PollConfig {
	return PollConfig{Interval: time.Millisecond, MaxPolls: 3}
}

func noRetry() resilience.Policy {
	return resilience.Policy{Attempts: 1, Sleep: noSleep}
}

func TestDirectBackend_CompletedCall(t *testing.T) {
	t.Parallel()

	vc := voicemocks.NewMockClient(t)
	start := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	end := start.Add(95 * time.Second)
	cost := 0.21

	vc.On("CreateCall", mock.Anything, mock.MatchedBy(func(in voice.CreateCallRequest) bool {
		return in.Customer.Number == "+15125550000" && in.Metadata[MetaProviderID] == "p0"
	})).Return(&voice.Call{ID: "call-1", Status: voice.StatusQueued}, nil).Once()
	vc.On("GetCall", mock.Anything, "call-1").Return(&voice.Call{ID: "call-1", Status: voice.StatusInProgress}, nil).Once()
	vc.On("GetCall", mock.Anything, "call-1").Return(&voice.Call{
		ID:          "call-1",
		Status:      voice.StatusEnded,
		EndedReason: "customer-ended-call",
		StartedAt:   &start,
		EndedAt:     &end,
		Cost:        &cost,
		Artifact:    &voice.Artifact{Transcript: "AI: Hi\nUser: We can come tomorrow."},
		Analysis: &voice.Analysis{
			Summary:        "Available tomorrow morning.",
			StructuredData: json.RawMessage(`{"availability":"available","estimated_rate":"$95/hr","all_criteria_met":true,"call_outcome":"positive"}`),
		},
	}, nil).Once()

	b := NewDirectBackend(vc, AssistantConfig{AssistantID: "asst-1"},
		WithPoll(fastPoll()), WithCreateRetry(noRetry()), WithPollSleep(noSleep))

	res := b.Call(context.Background(), request(0))

	assert.Equal(t, model.CallCompleted, res.Status)
	assert.Equal(t, model.BackendDirect, res.Backend)
	assert.Equal(t, "call-1", res.CallID)
	assert.Equal(t, "Provider 0", res.ProviderName)
	assert.InDelta(t, 95.0, res.DurationSeconds, 0.001)
	require.NotNil(t, res.CostUSD)
	assert.InDelta(t, 0.21, *res.CostUSD, 0.0001)
	assert.Equal(t, model.AvailabilityAvailable, res.Analysis.Availability)
	assert.Equal(t, "$95/hr", res.Analysis.EstimatedRate)
	assert.True(t, res.Analysis.AllCriteriaMet)
	assert.Equal(t, "Available tomorrow morning.", res.Analysis.Notes)
	assert.Contains(t, res.Transcript, "tomorrow")
}

func TestDirectBackend_RejectedCreate(t *testing.T) {
	t.Parallel()

	vc := voicemocks.NewMockClient(t)
	vc.On("CreateCall", mock.Anything, mock.Anything).
		Return(nil, resilience.HTTPError("voice", 400, []byte(`{"message":"assistant.model.provider must be one of..."}`))).Once()

	b := NewDirectBackend(vc, AssistantConfig{}, WithPoll(fastPoll()), WithPollSleep(noSleep))
	res := b.Call(context.Background(), request(0))

	assert.Equal(t, model.CallError, res.Status)
	assert.Empty(t, res.CallID)
	assert.Contains(t, res.Error, "400")
	assert.False(t, res.Placed())
	vc.AssertNotCalled(t, "GetCall", mock.Anything, mock.Anything)
}

func TestDirectBackend_TransientCreateRetried(t *testing.T) {
	t.Parallel()

	vc := voicemocks.NewMockClient(t)
	vc.On("CreateCall", mock.Anything, mock.Anything).
		Return(nil, resilience.HTTPError("voice", 503, []byte("unavailable"))).Once()
	vc.On("CreateCall", mock.Anything, mock.Anything).
		Return(&voice.Call{ID: "call-2"}, nil).Once()
	vc.On("GetCall", mock.Anything, "call-2").
		Return(&voice.Call{ID: "call-2", Status: voice.StatusEnded, EndedReason: "customer-did-not-answer"}, nil).Once()

	b := NewDirectBackend(vc, AssistantConfig{},
		WithPoll(fastPoll()),
		WithCreateRetry(resilience.Policy{Attempts: 3, Sleep: noSleep}),
		WithPollSleep(noSleep))

	res := b.Call(context.Background(), request(0))
	assert.Equal(t, model.CallNoAnswer, res.Status)
	assert.Equal(t, "call-2", res.CallID)
}

func TestDirectBackend_TimesOutAfterMaxPolls(t *testing.T) {
	t.Parallel()

	vc := voicemocks.NewMockClient(t)
	vc.On("CreateCall", mock.Anything, mock.Anything).Return(&voice.Call{ID: "call-3"}, nil).Once()
	vc.On("GetCall", mock.Anything, "call-3").Return(&voice.Call{ID: "call-3", Status: voice.StatusInProgress}, nil).Times(3)

	b := NewDirectBackend(vc, AssistantConfig{}, WithPoll(fastPoll()), WithCreateRetry(noRetry()), WithPollSleep(noSleep))
	res := b.Call(context.Background(), request(0))

	assert.Equal(t, model.CallTimeout, res.Status)
	assert.Equal(t, "call-3", res.CallID)
	assert.True(t, res.Placed())
}

func TestDirectBackend_PicksUpWebhookResult(t *testing.T) {
	t.Parallel()

	cache := callcache.NewMemory()
	cached := model.CallResult{Status: model.CallVoicemail, CallID: "call-4", ProviderName: "from metadata"}
	require.NoError(t, cache.Set(context.Background(), "call-4", cached, time.Minute))

	vc := voicemocks.NewMockClient(t)
	vc.On("CreateCall", mock.Anything, mock.Anything).Return(&voice.Call{ID: "call-4"}, nil).Once()

	b := NewDirectBackend(vc, AssistantConfig{},
		WithCache(cache), WithPoll(fastPoll()), WithCreateRetry(noRetry()), WithPollSleep(noSleep))
	res := b.Call(context.Background(), request(0))

	assert.Equal(t, model.CallVoicemail, res.Status)
	assert.Equal(t, "Provider 0", res.ProviderName)
	assert.Equal(t, model.BackendDirect, res.Backend)
	vc.AssertNotCalled(t, "GetCall", mock.Anything, mock.Anything)
}

func TestDirectBackend_CanceledWhilePolling(t *testing.T) {
	t.Parallel()

	vc := voicemocks.NewMockClient(t)
	vc.On("CreateCall", mock.Anything, mock.Anything).Return(&voice.Call{ID: "call-5"}, nil).Once()

	b := NewDirectBackend(vc, AssistantConfig{}, WithPoll(fastPoll()), WithCreateRetry(noRetry()),
		WithPollSleep(func(context.Context, time.Duration) error { return context.Canceled }))
	res := b.Call(context.Background(), request(0))

	assert.Equal(t, model.CallTimeout, res.Status)
	assert.Equal(t, "call-5", res.CallID)
}
