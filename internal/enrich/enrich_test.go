package enrich

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/pkg/google"
	"github.com/sells-group/outreach-cli/pkg/google/mocks"
)

func noRetry() resilience.Policy {
	return resilience.Policy{Attempts: 1}
}

type sleepRecorder struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, d)
	return nil
}

func newTestEnricher(lookup Lookup, rec *sleepRecorder) *Enricher {
	return New(lookup, WithRateLimit(0, 0), WithRetry(noRetry()), WithSleep(rec.sleep))
}

func providers(n int, withRef bool) []model.Provider {
	out := make([]model.Provider, n)
	for i := range out {
		out[i] = model.Provider{ID: fmt.Sprintf("p%d", i), Name: fmt.Sprintf("Provider %d", i)}
		if withRef {
			out[i].PlaceID = fmt.Sprintf("place-%d", i)
		}
	}
	return out
}

func detailsWithPhone(id string) *google.Place {
	return &google.Place{
		ID:                  id,
		NationalPhoneNumber: "(512) 555-0100",
		WebsiteURI:          "https://" + id + ".example",
		Location:            &google.LatLng{Latitude: 30.30, Longitude: -97.70},
		RegularOpeningHours: &google.OpeningHours{WeekdayDescriptions: []string{"Monday: 8 AM – 5 PM"}},
	}
}

func TestEnrich_NilLookupPassThrough(t *testing.T) {
	in := providers(3, true)
	res := New(nil).Enrich(context.Background(), in, Options{RequirePhone: true})

	assert.Equal(t, in, res.Providers)
	assert.True(t, res.Stats.Unavailable)
	assert.Zero(t, res.Stats.Enriched)
	assert.Zero(t, res.Stats.Attempted)

	var nilEnricher *Enricher
	res = nilEnricher.Enrich(context.Background(), in, Options{})
	assert.Len(t, res.Providers, 3)
}

func TestEnrich_MergesDetailsAndDistance(t *testing.T) {
	lookup := mocks.NewMockClient(t)
	lookup.On("PlaceDetails", mock.Anything, "place-0").Return(detailsWithPhone("place-0"), nil)

	in := []model.Provider{{ID: "p0", Name: "Ace", PlaceID: "place-0"}, {ID: "p1", Name: "No Ref", Phone: "512-555-0199"}}
	origin := model.LatLng{Lat: 30.2672, Lng: -97.7431}

	res := newTestEnricher(lookup, &sleepRecorder{}).Enrich(context.Background(), in, Options{Origin: &origin})

	require.Len(t, res.Providers, 2)
	p := res.Providers[0]
	assert.True(t, p.Enriched)
	assert.Equal(t, "(512) 555-0100", p.Phone)
	assert.Equal(t, "+15125550100", p.NormalizedPhone)
	assert.Equal(t, "https://place-0.example", p.Website)
	assert.Equal(t, []string{"Monday: 8 AM – 5 PM"}, p.Hours)
	require.NotNil(t, p.DistanceMiles)
	assert.InDelta(t, 3.3, *p.DistanceMiles, 0.5)

	assert.False(t, res.Providers[1].Enriched)
	assert.Equal(t, "+15125550199", res.Providers[1].NormalizedPhone)
	assert.Nil(t, res.Providers[1].DistanceMiles)
	assert.Empty(t, in[0].Phone, "input is not mutated")

	assert.Equal(t, 1, res.Stats.Eligible)
	assert.Equal(t, 1, res.Stats.Enriched)
}

func TestEnrich_FailuresDegradeGracefully(t *testing.T) {
	lookup := mocks.NewMockClient(t)
	lookup.On("PlaceDetails", mock.Anything, "place-0").Return(detailsWithPhone("place-0"), nil)
	lookup.On("PlaceDetails", mock.Anything, "place-1").Return(nil, eris.New("quota exceeded"))
	lookup.On("PlaceDetails", mock.Anything, "place-2").Return(nil, eris.New("not found"))

	in := providers(3, true)
	res := newTestEnricher(lookup, &sleepRecorder{}).Enrich(context.Background(), in, Options{})

	require.Len(t, res.Providers, 3)
	for i, p := range res.Providers {
		assert.Equal(t, in[i].ID, p.ID, "order preserved")
	}
	assert.Equal(t, 1, res.Stats.Enriched)
	assert.Equal(t, 2, res.Stats.Failed)
	assert.Equal(t, 3, res.Stats.Attempted)
	assert.False(t, res.Providers[1].Enriched)
}

func TestEnrich_CapsAndBatches(t *testing.T) {
	lookup := mocks.NewMockClient(t)
	lookup.On("PlaceDetails", mock.Anything, mock.Anything).Return(&google.Place{}, nil)

	rec := &sleepRecorder{}
	in := providers(14, true)
	res := newTestEnricher(lookup, rec).Enrich(context.Background(), in, Options{BatchDelay: 50 * time.Millisecond})

	assert.Len(t, res.Providers, 14, "providers beyond the cap are kept")
	assert.Equal(t, 14, res.Stats.Eligible)
	assert.Equal(t, DefaultMaxToEnrich, res.Stats.Attempted)
	assert.Equal(t, 2, res.Stats.Batches)
	lookup.AssertNumberOfCalls(t, "PlaceDetails", DefaultMaxToEnrich)
	assert.Equal(t, []time.Duration{50 * time.Millisecond}, rec.calls)

	for i := DefaultMaxToEnrich; i < 14; i++ {
		assert.False(t, res.Providers[i].Enriched)
	}
}

func TestEnrich_PhoneFilterApplied(t *testing.T) {
	in := []model.Provider{
		{ID: "a", Name: "A", Phone: "512-555-0101"},
		{ID: "b", Name: "B"},
		{ID: "c", Name: "C", Phone: "512-555-0103"},
		{ID: "d", Name: "D", Phone: "512-555-0104"},
	}
	lookup := mocks.NewMockClient(t)

	res := newTestEnricher(lookup, &sleepRecorder{}).Enrich(context.Background(), in, Options{RequirePhone: true, MinWithPhone: 3})

	assert.True(t, res.Stats.PhoneFilter)
	assert.False(t, res.Stats.FloorApplied)
	require.Len(t, res.Providers, 3)
	for _, p := range res.Providers {
		assert.True(t, p.HasPhone())
	}
}

func TestEnrich_PhoneFloorKeepsFullSet(t *testing.T) {
	in := []model.Provider{
		{ID: "a", Name: "A", Phone: "512-555-0101"},
		{ID: "b", Name: "B"},
		{ID: "c", Name: "C", Phone: "512-555-0103"},
		{ID: "d", Name: "D"},
	}
	lookup := mocks.NewMockClient(t)

	res := newTestEnricher(lookup, &sleepRecorder{}).Enrich(context.Background(), in, Options{RequirePhone: true})

	assert.True(t, res.Stats.FloorApplied)
	assert.False(t, res.Stats.PhoneFilter)
	assert.Equal(t, 2, res.Stats.WithPhone)
	assert.Len(t, res.Providers, 4)
}

func TestEnrich_CanceledContextStopsBatches(t *testing.T) {
	lookup := mocks.NewMockClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	in := providers(6, true)
	res := newTestEnricher(lookup, &sleepRecorder{}).Enrich(ctx, in, Options{})

	assert.Len(t, res.Providers, 6)
	assert.Zero(t, res.Stats.Attempted)
	lookup.AssertNotCalled(t, "PlaceDetails", mock.Anything, mock.Anything)
}

func TestEnrich_RetriesTransient(t *testing.T) {
	lookup := mocks.NewMockClient(t)
	lookup.On("PlaceDetails", mock.Anything, "place-0").Return(nil, resilience.HTTPError("google", 503, nil)).Once()
	lookup.On("PlaceDetails", mock.Anything, "place-0").Return(detailsWithPhone("place-0"), nil).Once()

	p := resilience.Policy{Attempts: 2, Sleep: func(context.Context, time.Duration) error { return nil }}
	e := New(lookup, WithRateLimit(0, 0), WithRetry(p))

	res := e.Enrich(context.Background(), providers(1, true), Options{})
	assert.Equal(t, 1, res.Stats.Enriched)
	assert.Zero(t, res.Stats.Failed)
}

func TestEnrich_SkipsAlreadyEnriched(t *testing.T) {
	lookup := mocks.NewMockClient(t)
	in := providers(2, true)
	in[0].Enriched = true
	in[1].Enriched = true

	res := newTestEnricher(lookup, &sleepRecorder{}).Enrich(context.Background(), in, Options{})
	assert.Zero(t, res.Stats.Eligible)
	assert.Len(t, res.Providers, 2)
}
