package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func newRequest(t *testing.T, st Store) *model.OutreachRequest {
	t.Helper()
	req := &model.OutreachRequest{
		Service:  "water heater repair",
		Location: "Austin, TX",
		Criteria: "licensed",
		Urgency:  model.UrgencyWithin2Days,
		Origin:   &model.LatLng{Lat: 30.27, Lng: -97.74},
	}
	require.NoError(t, st.CreateRequest(context.Background(), req))
	return req
}

func TestSQLite_CreateAndGetRequest(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	req := newRequest(t, st)
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, model.RequestQueued, req.Status)

	got, err := st.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "water heater repair", got.Service)
	assert.Equal(t, model.UrgencyWithin2Days, got.Urgency)
	require.NotNil(t, got.Origin)
	assert.InDelta(t, 30.27, got.Origin.Lat, 0.0001)
	assert.WithinDuration(t, req.CreatedAt, got.CreatedAt, time.Second)
}

func TestSQLite_GetRequest_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetRequest(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_UpdateRequestStatus(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	req := newRequest(t, st)

	require.NoError(t, st.UpdateRequestStatus(ctx, req.ID, model.RequestResearching, ""))
	require.NoError(t, st.UpdateRequestStatus(ctx, req.ID, model.RequestFailed, "places quota exceeded"))

	got, err := st.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestFailed, got.Status)
	assert.Equal(t, "places quota exceeded", got.Error)
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))

	err = st.UpdateRequestStatus(ctx, "missing", model.RequestFailed, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_ListRequests(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a := newRequest(t, st)
	newRequest(t, st)
	require.NoError(t, st.UpdateRequestStatus(ctx, a.ID, model.RequestComplete, ""))

	all, err := st.ListRequests(ctx, RequestFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	done, err := st.ListRequests(ctx, RequestFilter{Status: model.RequestComplete})
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, a.ID, done[0].ID)

	page, err := st.ListRequests(ctx, RequestFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func TestSQLite_ProvidersReplace(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	req := newRequest(t, st)

	first := []model.Provider{
		{ID: "p1", Name: "Ace", NormalizedPhone: "+15125550101", Hours: []string{"Mon: 8-5"}},
		{ID: "p2", Name: "Bolt"},
	}
	require.NoError(t, st.SaveProviders(ctx, req.ID, first))
	require.NoError(t, st.SaveProviders(ctx, req.ID, first[:1]))

	got, err := st.ListProviders(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Ace", got[0].Name)
	assert.Equal(t, []string{"Mon: 8-5"}, got[0].Hours)

	empty, err := st.ListProviders(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSQLite_CallResultsKeepOrder(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	req := newRequest(t, st)

	results := []model.CallResult{
		{Status: model.CallError, Backend: model.BackendDirect, ProviderName: "Z", Error: "400"},
		{Status: model.CallCompleted, Backend: model.BackendDirect, ProviderName: "A", CallID: "c1",
			Analysis: model.CallAnalysis{Availability: model.AvailabilityAvailable, CriteriaMet: map[string]bool{"licensed": true}}},
	}
	require.NoError(t, st.SaveCallResults(ctx, req.ID, results))

	got, err := st.ListCallResults(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Z", got[0].ProviderName)
	assert.Equal(t, "400", got[0].Error)
	assert.Equal(t, "c1", got[1].CallID)
	assert.True(t, got[1].Analysis.CriteriaMet["licensed"])
}

func TestSQLite_RecommendationUpsert(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	req := newRequest(t, st)

	_, err := st.GetRecommendation(ctx, req.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, st.SaveRecommendation(ctx, req.ID, &model.RecommendationSet{Method: model.RecommendHeuristic}))
	require.NoError(t, st.SaveRecommendation(ctx, req.ID, &model.RecommendationSet{
		Method:          model.RecommendOracle,
		OverallText:     "Hire Ace.",
		Recommendations: []model.Recommendation{{ProviderName: "Ace", Score: 91}},
	}))

	got, err := st.GetRecommendation(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RecommendOracle, got.Method)
	require.Len(t, got.Recommendations, 1)
	assert.InDelta(t, 91.0, got.Recommendations[0].Score, 0)
}
