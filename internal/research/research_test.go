package research

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/router"
	"github.com/sells-group/outreach-cli/pkg/google"
	googlemocks "github.com/sells-group/outreach-cli/pkg/google/mocks"
	"github.com/sells-group/outreach-cli/pkg/workflow"
)

type health struct{ err error }

func (h health) Health(context.Context) error { return h.err }

type fakeFlow struct {
	trigger    *workflow.Execution
	triggerErr error
	next       []*workflow.Execution
	flowID     string
	inputs     map[string]any
}

func (f *fakeFlow) TriggerExecution(_ context.Context, flowID string, inputs map[string]any) (*workflow.Execution, error) {
	f.flowID = flowID
	f.inputs = inputs
	return f.trigger, f.triggerErr
}

func (f *fakeFlow) GetExecution(context.Context, string) (*workflow.Execution, error) {
	if len(f.next) == 0 {
		return &workflow.Execution{ID: "exec", State: workflow.StateRunning}, nil
	}
	e := f.next[0]
	f.next = f.next[1:]
	return e, nil
}

func (f *fakeFlow) Health(context.Context) error { return nil }

func noSleep(context.Context, time.Duration) error { return nil }

func enabled(strict bool, probe error) *router.Router {
	return router.New(router.Policy{Enabled: true, Endpoint: "http://orchestrator", Strict: strict}, health{err: probe})
}

func places() *google.TextSearchResponse {
	return &google.TextSearchResponse{Places: []google.Place{
		{
			ID:                  "pl-1",
			DisplayName:         google.DisplayName{Text: "ACE  PLUMBING"},
			NationalPhoneNumber: "(512) 555-0101",
			FormattedAddress:    "1 Main St, Austin, TX",
			Location:            &google.LatLng{Latitude: 30.30, Longitude: -97.74},
			Rating:              4.7,
			UserRatingCount:     120,
		},
		{ID: "pl-2", DisplayName: google.DisplayName{Text: "McAllister HVAC"}},
		{ID: "pl-1", DisplayName: google.DisplayName{Text: "Ace Plumbing duplicate"}},
	}}
}

func TestSearch_DirectPlaces(t *testing.T) {
	t.Parallel()

	gc := googlemocks.NewMockClient(t)
	gc.On("TextSearch", mock.Anything, mock.MatchedBy(func(req google.TextSearchRequest) bool {
		return req.TextQuery == "plumber near Austin, TX" && req.MaxResultCount == 10 && req.LocationBias != nil
	})).Return(places(), nil).Once()

	s := New(router.New(router.Policy{}, nil), gc)
	res, err := s.Search(context.Background(), Query{
		Service:  "plumber",
		Location: "Austin, TX",
		Origin:   &model.LatLng{Lat: 30.2672, Lng: -97.7431},
	})
	require.NoError(t, err)

	assert.Equal(t, model.BackendDirect, res.Method)
	assert.Equal(t, model.ResearchPartial, res.Status)
	require.Len(t, res.Providers, 2)

	ace := res.Providers[0]
	assert.Equal(t, "Ace Plumbing", ace.Name)
	assert.Equal(t, "McAllister HVAC", res.Providers[1].Name)
	assert.Equal(t, "+15125550101", ace.NormalizedPhone)
	assert.Equal(t, SourcePlaces, ace.Source)
	assert.Equal(t, "pl-1", ace.PlaceID)
	assert.NotEmpty(t, ace.ID)
	require.NotNil(t, ace.DistanceMiles)
	assert.InDelta(t, 2.5, *ace.DistanceMiles, 0.5)
}

func TestSearch_Orchestrator(t *testing.T) {
	t.Parallel()

	flow := &fakeFlow{
		trigger: &workflow.Execution{ID: "exec", State: workflow.StateCreated},
		next: []*workflow.Execution{{
			ID:    "exec",
			State: workflow.StateSuccess,
			Outputs: map[string]any{"providers": []any{
				map[string]any{"name": "bob's electric", "phone": "512-555-0102", "place_id": "a"},
				map[string]any{"name": "Spark Co", "phone": "+15125550103", "place_id": "b"},
				map[string]any{"name": "Volt", "phone": "5125550104"},
				map[string]any{"name": ""},
			}},
		}},
	}
	gc := googlemocks.NewMockClient(t)

	s := New(enabled(false, nil), gc, WithWorkflow(flow, ""), WithSleep(noSleep))
	res, err := s.Search(context.Background(), Query{Service: "electrician", Location: "Austin"})
	require.NoError(t, err)

	assert.Equal(t, DefaultFlow, flow.flowID)
	assert.Equal(t, "electrician", flow.inputs["service"])
	assert.Equal(t, model.BackendOrchestrator, res.Method)
	assert.Equal(t, model.ResearchSuccess, res.Status)
	require.Len(t, res.Providers, 3)
	assert.Equal(t, "Bob's Electric", res.Providers[0].Name)
	assert.Equal(t, SourceWorkflow, res.Providers[0].Source)
	assert.Equal(t, "+15125550102", res.Providers[0].NormalizedPhone)
	gc.AssertNotCalled(t, "TextSearch", mock.Anything, mock.Anything)
}

func TestSearch_OrchestratorFailureFallsBack(t *testing.T) {
	t.Parallel()

	flow := &fakeFlow{triggerErr: errors.New("connection refused")}
	gc := googlemocks.NewMockClient(t)
	gc.On("TextSearch", mock.Anything, mock.Anything).Return(places(), nil).Once()

	s := New(enabled(false, nil), gc, WithWorkflow(flow, "custom_search"), WithSleep(noSleep))
	res, err := s.Search(context.Background(), Query{Service: "plumber", Location: "Austin", MinResults: 2})
	require.NoError(t, err)

	assert.Equal(t, "custom_search", flow.flowID)
	assert.Equal(t, model.BackendDirect, res.Method)
	assert.Equal(t, model.ResearchSuccess, res.Status)
}

func TestSearch_OrchestratorFailureStrict(t *testing.T) {
	t.Parallel()

	flow := &fakeFlow{
		trigger: &workflow.Execution{ID: "exec", State: workflow.StateCreated},
		next:    []*workflow.Execution{{ID: "exec", State: workflow.StateFailed, Error: "task crashed"}},
	}
	gc := googlemocks.NewMockClient(t)

	s := New(enabled(true, nil), gc, WithWorkflow(flow, ""), WithSleep(noSleep))
	res, err := s.Search(context.Background(), Query{Service: "plumber", Location: "Austin"})

	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrBackendUnavailable)
	assert.Equal(t, model.ResearchError, res.Status)
	assert.Contains(t, res.Error, "task crashed")
}

func TestSearch_StrictProbeFailure(t *testing.T) {
	t.Parallel()

	gc := googlemocks.NewMockClient(t)
	s := New(enabled(true, errors.New("timeout")), gc)

	res, err := s.Search(context.Background(), Query{Service: "plumber", Location: "Austin"})
	assert.ErrorIs(t, err, model.ErrBackendUnavailable)
	assert.Equal(t, model.ResearchError, res.Status)
}

func TestSearch_WorkflowPollBound(t *testing.T) {
	t.Parallel()

	flow := &fakeFlow{trigger: &workflow.Execution{ID: "exec", State: workflow.StateRunning}}
	gc := googlemocks.NewMockClient(t)
	gc.On("TextSearch", mock.Anything, mock.Anything).Return(&google.TextSearchResponse{}, nil).Once()

	s := New(enabled(false, nil), gc, WithWorkflow(flow, ""), WithPoll(time.Millisecond, 2), WithSleep(noSleep))
	res, err := s.Search(context.Background(), Query{Service: "plumber", Location: "Austin"})
	require.NoError(t, err)

	assert.Equal(t, model.ResearchError, res.Status)
	assert.Equal(t, "no providers found", res.Error)
	assert.NotNil(t, res.Providers)
}

func TestSearch_PlacesError(t *testing.T) {
	t.Parallel()

	gc := googlemocks.NewMockClient(t)
	gc.On("TextSearch", mock.Anything, mock.Anything).Return(nil, errors.New("quota exceeded")).Once()

	res, err := New(nil, gc).Search(context.Background(), Query{Service: "plumber", Location: "Austin"})
	require.NoError(t, err)
	assert.Equal(t, model.ResearchError, res.Status)
	assert.Contains(t, res.Error, "quota exceeded")
}

func TestSearch_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil).Search(context.Background(), Query{Location: "Austin"})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestDisplayName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Ace Plumbing", displayName("ACE PLUMBING"))
	assert.Equal(t, "Joe's Hvac", displayName("joe's hvac"))
	assert.Equal(t, "McAllister HVAC", displayName("McAllister  HVAC"))
}
