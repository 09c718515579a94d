package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/callcache"
	"github.com/sells-group/outreach-cli/internal/dispatch"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/outreach"
	"github.com/sells-group/outreach-cli/internal/router"
	"github.com/sells-group/outreach-cli/internal/store"
)

type fakeSubmitter struct {
	got model.OutreachRequest
	err error
}

func (f *fakeSubmitter) Submit(_ context.Context, req model.OutreachRequest) (*outreach.Task, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &outreach.Task{ID: "req-123"}, nil
}

type fakeDispatcher struct {
	maxConcurrent int
	err           error
}

func (f *fakeDispatcher) DispatchRequests(_ context.Context, reqs []model.CallRequest, maxConcurrent int) (dispatch.BatchResult, error) {
	f.maxConcurrent = maxConcurrent
	if f.err != nil {
		return dispatch.BatchResult{}, f.err
	}
	br := dispatch.BatchResult{Backend: model.BackendDirect}
	for _, r := range reqs {
		br.Results = append(br.Results, model.NewCallResult(r, model.BackendDirect, model.CallCompleted))
	}
	br.Stats.Total = len(reqs)
	br.Stats.Completed = len(reqs)
	br.Stats.Placed = len(reqs)
	return br, nil
}

type fakeDecider struct {
	d   router.Decision
	err error
}

func (f fakeDecider) Decide(context.Context) (router.Decision, error) { return f.d, f.err }

func newTestServer(t *testing.T) (*server, *callcache.Memory) {
	t.Helper()
	cache := callcache.NewMemory()
	return &server{
		cache:       cache,
		cacheTTL:    time.Hour,
		outreach:    &fakeSubmitter{},
		dispatcher:  &fakeDispatcher{},
		decider:     fakeDecider{d: router.Decision{Backend: model.BackendDirect, Reason: "orchestrator disabled or unconfigured"}},
		origins:     []string{"*"},
		metricsPath: "/metrics",
	}, cache
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v))
	return v
}

func TestServer_Health(t *testing.T) {
	s, _ := newTestServer(t)
	rr := do(t, s.routes(), http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	body := decode[map[string]any](t, rr)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "direct", body["backend"])
}

func TestServer_HealthDegradedInStrictMode(t *testing.T) {
	s, _ := newTestServer(t)
	s.decider = fakeDecider{
		d:   router.Decision{Reason: "orchestrator unhealthy (strict)"},
		err: eris.Wrap(model.ErrBackendUnavailable, "router"),
	}
	rr := do(t, s.routes(), http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	body := decode[map[string]any](t, rr)
	assert.Equal(t, "degraded", body["status"])
	assert.Contains(t, body["error"], "backend unavailable")
}

func TestServer_Metrics(t *testing.T) {
	s, _ := newTestServer(t)
	rr := do(t, s.routes(), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

const endOfCall = `{
	"message": {
		"type": "end-of-call-report",
		"endedReason": "customer-ended-call",
		"transcript": "AI: Hello\nUser: We can come tomorrow",
		"durationSeconds": 84.5,
		"analysis": {"structuredData": {"availability": "available", "all_criteria_met": true}},
		"call": {"id": "call-9", "metadata": {"provider_name": "Austin Plumbing"}}
	}
}`

func TestServer_WebhookCachesResult(t *testing.T) {
	s, cache := newTestServer(t)
	h := s.routes()

	rr := do(t, h, http.MethodPost, "/webhook/voice", endOfCall)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "call-9", decode[map[string]string](t, rr)["call_id"])

	got, ok, err := cache.Get(context.Background(), "call-9")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.CallCompleted, got.Status)
	assert.Equal(t, model.AvailabilityAvailable, got.Analysis.Availability)

	// The polling endpoint serves the same result.
	rr = do(t, h, http.MethodGet, "/calls/call-9", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	res := decode[model.CallResult](t, rr)
	assert.Equal(t, "call-9", res.CallID)
	assert.Equal(t, model.CallCompleted, res.Status)

	rr = do(t, h, http.MethodGet, "/cache/stats", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, decode[callcache.Stats](t, rr).Size)
}

func TestServer_WebhookIgnoresOtherEvents(t *testing.T) {
	s, cache := newTestServer(t)
	rr := do(t, s.routes(), http.MethodPost, "/webhook/voice",
		`{"message":{"type":"status-update","status":"ringing","call":{"id":"c1"}}}`)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ignored", decode[map[string]string](t, rr)["status"])
	has, err := cache.Has(context.Background(), "c1")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestServer_WebhookInvalidPayload(t *testing.T) {
	s, _ := newTestServer(t)
	rr := do(t, s.routes(), http.MethodPost, "/webhook/voice", `{"nope": true}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestServer_GetCallNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rr := do(t, s.routes(), http.MethodGet, "/calls/missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestServer_SubmitRequest(t *testing.T) {
	s, _ := newTestServer(t)
	sub := s.outreach.(*fakeSubmitter)

	rr := do(t, s.routes(), http.MethodPost, "/requests", map[string]any{
		"id":       "client-chosen",
		"service":  "water heater repair",
		"location": "Austin, TX",
		"criteria": "licensed",
		"urgency":  "within_24_hours",
	})

	assert.Equal(t, http.StatusAccepted, rr.Code)
	body := decode[map[string]string](t, rr)
	assert.Equal(t, "accepted", body["status"])
	assert.Equal(t, "req-123", body["request_id"])
	assert.Empty(t, sub.got.ID)
	assert.Equal(t, model.UrgencyWithin24Hours, sub.got.Urgency)
}

func TestServer_SubmitValidation(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.routes()

	rr := do(t, h, http.MethodPost, "/requests", map[string]any{"location": "Austin, TX"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decode[map[string]string](t, rr)["error"], "service")

	rr = do(t, h, http.MethodPost, "/requests", "not json")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestServer_SubmitNotConfigured(t *testing.T) {
	s, _ := newTestServer(t)
	s.outreach = nil
	rr := do(t, s.routes(), http.MethodPost, "/requests", map[string]any{"service": "x", "location": "y"})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestServer_GetRequest(t *testing.T) {
	s, _ := newTestServer(t)
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "serve.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))
	s.store = st

	req := &model.OutreachRequest{Service: "plumbing", Location: "Austin, TX"}
	require.NoError(t, st.CreateRequest(ctx, req))
	require.NoError(t, st.SaveProviders(ctx, req.ID, []model.Provider{{ID: "p1", Name: "Austin Plumbing"}}))

	h := s.routes()
	rr := do(t, h, http.MethodGet, "/requests/"+req.ID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	view := decode[requestView](t, rr)
	assert.Equal(t, model.RequestQueued, view.Request.Status)
	assert.Len(t, view.Providers, 1)
	assert.Empty(t, view.CallResults)
	assert.Nil(t, view.Recommendation)

	rr = do(t, h, http.MethodGet, "/requests/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestServer_Dispatch(t *testing.T) {
	s, _ := newTestServer(t)
	d := s.dispatcher.(*fakeDispatcher)

	rr := do(t, s.routes(), http.MethodPost, "/dispatch", dispatchBody{
		Requests: []model.CallRequest{
			{ProviderName: "A", ProviderPhone: "+15125550101", ServiceNeeded: "plumbing", Urgency: model.UrgencyFlexible},
			{ProviderName: "B", ProviderPhone: "+15125550102", ServiceNeeded: "plumbing", Urgency: model.UrgencyFlexible},
		},
		MaxConcurrent: 2,
	})

	require.Equal(t, http.StatusOK, rr.Code)
	br := decode[dispatch.BatchResult](t, rr)
	assert.Len(t, br.Results, 2)
	assert.Equal(t, "A", br.Results[0].ProviderName)
	assert.Equal(t, 2, br.Stats.Completed)
	assert.NotNil(t, br.Errors)
	assert.Equal(t, 2, d.maxConcurrent)
}

func TestServer_DispatchMaxConcurrentBounds(t *testing.T) {
	for _, tc := range []struct {
		name string
		max  int
		code int
	}{
		{"negative", -1, http.StatusBadRequest},
		{"over_limit", 51, http.StatusBadRequest},
		{"limit", 50, http.StatusOK},
		{"zero_uses_default", 0, http.StatusOK},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s, _ := newTestServer(t)
			d := s.dispatcher.(*fakeDispatcher)
			d.maxConcurrent = -99

			rr := do(t, s.routes(), http.MethodPost, "/dispatch", dispatchBody{MaxConcurrent: tc.max})

			require.Equal(t, tc.code, rr.Code)
			if tc.code == http.StatusBadRequest {
				assert.Contains(t, rr.Body.String(), "between 0 and 50")
				assert.Equal(t, -99, d.maxConcurrent)
				return
			}
			assert.Equal(t, tc.max, d.maxConcurrent)
		})
	}
}

func TestServer_DispatchEmptyBatch(t *testing.T) {
	s, _ := newTestServer(t)
	rr := do(t, s.routes(), http.MethodPost, "/dispatch", dispatchBody{})

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, string(decode[map[string]json.RawMessage](t, rr)["results"]))
}

func TestServer_DispatchStrictUnavailable(t *testing.T) {
	s, _ := newTestServer(t)
	s.dispatcher = &fakeDispatcher{err: eris.Wrap(model.ErrBackendUnavailable, "router: strict")}

	rr := do(t, s.routes(), http.MethodPost, "/dispatch", dispatchBody{})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
