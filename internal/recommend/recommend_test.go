package recommend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/pkg/anthropic"
	"github.com/sells-group/outreach-cli/pkg/anthropic/mocks"
)

func completed(name string, avail model.Availability) model.CallResult {
	return model.CallResult{
		Status:        model.CallCompleted,
		Backend:       model.BackendDirect,
		CallID:        "call-" + name,
		ProviderName:  name,
		ProviderPhone: "+15125550100",
		Analysis: model.CallAnalysis{
			Availability:         avail,
			EarliestAvailability: "tomorrow 9am",
			EstimatedRate:        "$90/hr",
			AllCriteriaMet:       true,
			CriteriaMet:          map[string]bool{"licensed": true, "insured": false},
		},
	}
}

func textResponse(s string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{Content: []anthropic.ContentBlock{{Type: "text", Text: s}}}
}

func TestFilter(t *testing.T) {
	t.Parallel()

	disq := completed("Disq", model.AvailabilityAvailable)
	disq.Analysis.Disqualified = true

	results := []model.CallResult{
		completed("A", model.AvailabilityAvailable),
		{Status: model.CallNoAnswer, ProviderName: "B"},
		{Status: model.CallVoicemail, ProviderName: "C"},
		{Status: model.CallTimeout, ProviderName: "D"},
		{Status: model.CallError, ProviderName: "E"},
		disq,
		completed("Busy", model.AvailabilityUnavailable),
		completed("Maybe", model.AvailabilityUnclear),
	}

	qualified, stats := Filter(results)

	require.Len(t, qualified, 2)
	assert.Equal(t, "A", qualified[0].ProviderName)
	assert.Equal(t, "Maybe", qualified[1].ProviderName)
	assert.Equal(t, model.RecommendationStats{
		TotalCalls:   8,
		Qualified:    2,
		Disqualified: 1,
		Unavailable:  1,
		NotConnected: 4,
	}, stats)
}

func TestRecommend_NoQualified(t *testing.T) {
	t.Parallel()

	client := mocks.NewMockClient(t)
	e := New(client)

	set := e.Recommend(context.Background(), []model.CallResult{
		{Status: model.CallNoAnswer},
		{Status: model.CallError},
	}, "licensed", model.DefaultScoringWeights())

	require.NotNil(t, set)
	assert.Empty(t, set.Recommendations)
	assert.NotNil(t, set.Recommendations)
	assert.Equal(t, NoQualifiedMessage, set.OverallText)
	assert.Equal(t, model.RecommendNone, set.Method)
	client.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestRecommend_OracleOrdersByScore(t *testing.T) {
	t.Parallel()

	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == DefaultModel && len(req.Messages) == 1
	})).Return(textResponse("```json\n"+`{
		"recommendations": [
			{"provider_index": 2, "score": 60, "reasoning": "slow", "call_quality_score": 140, "professionalism_score": -5},
			{"provider_index": 0, "score": 90, "reasoning": "fast and licensed", "criteria_matched": ["licensed"]},
			{"provider_name": "b", "score": 75, "reasoning": "ok"}
		],
		"overall_recommendation": "Hire A.",
		"analysis_notes": "All three are viable."
	}`+"\n```"), nil).Once()

	results := []model.CallResult{
		completed("A", model.AvailabilityAvailable),
		completed("B", model.AvailabilityAvailable),
		completed("C", model.AvailabilityCallbackRequested),
	}
	set := New(client).Recommend(context.Background(), results, "licensed", model.DefaultScoringWeights())

	assert.Equal(t, model.RecommendOracle, set.Method)
	require.Len(t, set.Recommendations, 3)
	var scores []float64
	for _, r := range set.Recommendations {
		scores = append(scores, r.Score)
	}
	assert.Equal(t, []float64{90, 75, 60}, scores)
	assert.Equal(t, "A", set.Recommendations[0].ProviderName)
	assert.Equal(t, "call-A", set.Recommendations[0].CallID)
	assert.Equal(t, []string{"licensed"}, set.Recommendations[0].CriteriaMatched)
	assert.Equal(t, "B", set.Recommendations[1].ProviderName)
	assert.InDelta(t, 100.0, set.Recommendations[2].CallQualityScore, 0)
	assert.InDelta(t, 0.0, set.Recommendations[2].ProfessionalismScore, 0)
	assert.Equal(t, "Hire A.", set.OverallText)
	assert.Equal(t, 3, set.Stats.Recommended)
}

func TestRecommend_OracleCappedAtThree(t *testing.T) {
	t.Parallel()

	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(`{"recommendations":[
		{"provider_index":0,"score":10},{"provider_index":1,"score":20},{"provider_index":2,"score":30},
		{"provider_index":3,"score":40},{"provider_index":3,"score":99},{"provider_index":9,"score":99}
	]}`), nil).Once()

	results := []model.CallResult{
		completed("A", model.AvailabilityAvailable),
		completed("B", model.AvailabilityAvailable),
		completed("C", model.AvailabilityAvailable),
		completed("D", model.AvailabilityAvailable),
	}
	set := New(client).Recommend(context.Background(), results, "", model.DefaultScoringWeights())

	require.Len(t, set.Recommendations, 3)
	assert.Equal(t, "D", set.Recommendations[0].ProviderName)
	assert.InDelta(t, 40.0, set.Recommendations[0].Score, 0)
	assert.Equal(t, "B", set.Recommendations[2].ProviderName)
}

func TestRecommend_FallbackOnOracleError(t *testing.T) {
	t.Parallel()

	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("overloaded")).Once()

	results := []model.CallResult{
		completed("A", model.AvailabilityAvailable),
		completed("B", model.AvailabilityUnclear),
		completed("C", model.AvailabilityAvailable),
		completed("D", model.AvailabilityAvailable),
	}
	set := New(client).Recommend(context.Background(), results, "licensed", model.DefaultScoringWeights())

	assert.Equal(t, model.RecommendHeuristic, set.Method)
	require.Len(t, set.Recommendations, 3)
	assert.Equal(t, "A", set.Recommendations[0].ProviderName)
	assert.Equal(t, "B", set.Recommendations[1].ProviderName)
	assert.Equal(t, "C", set.Recommendations[2].ProviderName)
	assert.InDelta(t, 70.0, set.Recommendations[0].Score, 0)
	assert.InDelta(t, 65.0, set.Recommendations[1].Score, 0)
	assert.InDelta(t, 60.0, set.Recommendations[2].Score, 0)
	assert.Contains(t, set.Recommendations[0].Reasoning, "available")
	assert.Contains(t, set.Recommendations[0].Reasoning, "all stated criteria confirmed")
	assert.Equal(t, []string{"licensed"}, set.Recommendations[0].CriteriaMatched)
	assert.NotEmpty(t, set.Notes)
}

func TestRecommend_FallbackOnGarbage(t *testing.T) {
	t.Parallel()

	for _, text := range []string{"I cannot help with that.", `{"recommendations": "none"}`, `{"recommendations": []}`} {
		client := mocks.NewMockClient(t)
		client.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(text), nil).Once()

		set := New(client).Recommend(context.Background(), []model.CallResult{completed("A", model.AvailabilityAvailable)}, "", model.DefaultScoringWeights())
		assert.Equal(t, model.RecommendHeuristic, set.Method, text)
		require.Len(t, set.Recommendations, 1)
		assert.InDelta(t, 70.0, set.Recommendations[0].Score, 0)
	}
}

func TestRecommend_NilClientUsesHeuristic(t *testing.T) {
	t.Parallel()

	set := New(nil).Recommend(context.Background(), []model.CallResult{
		completed("A", model.AvailabilityAvailable),
		completed("B", model.AvailabilityAvailable),
	}, "", model.DefaultScoringWeights())

	assert.Equal(t, model.RecommendHeuristic, set.Method)
	assert.Len(t, set.Recommendations, 2)
	assert.Equal(t, 2, set.Stats.Recommended)
}

func TestRecommend_BreakerSkipsOracle(t *testing.T) {
	t.Parallel()

	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("down")).Once()

	e := New(client, WithBreaker(resilience.NewBreaker(1, time.Hour)))
	results := []model.CallResult{completed("A", model.AvailabilityAvailable)}

	first := e.Recommend(context.Background(), results, "", model.DefaultScoringWeights())
	second := e.Recommend(context.Background(), results, "", model.DefaultScoringWeights())

	assert.Equal(t, model.RecommendHeuristic, first.Method)
	assert.Equal(t, model.RecommendHeuristic, second.Method)
	client.AssertNumberOfCalls(t, "CreateMessage", 1)
}

func TestCleanJSON(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `{"a":1}`, cleanJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, cleanJSON("Here you go: {\"a\":1} thanks"))
	assert.Equal(t, "plain", cleanJSON("  plain "))
}

func TestBuildPrompt(t *testing.T) {
	t.Parallel()

	r := completed("A", model.AvailabilityAvailable)
	r.Transcript = string(make([]byte, maxTranscript+100))
	prompt, err := buildPrompt([]model.CallResult{r}, "", model.DefaultScoringWeights())
	require.NoError(t, err)

	assert.Contains(t, prompt, "(none stated)")
	assert.Contains(t, prompt, "rate competitiveness: 0.20")
	assert.Contains(t, prompt, `"provider_index": 0`)
}
