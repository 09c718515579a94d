// Package recommend ranks called providers and picks the top three.
package recommend

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/metrics"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/pkg/anthropic"
)

const (
	// MaxRecommendations caps every recommendation set.
	MaxRecommendations = 3
	// DefaultModel is the oracle model when none is configured.
	DefaultModel     = "claude-sonnet-4-5-20250929"
	defaultMaxTokens = 2048
	maxTranscript    = 4000
)

// NoQualifiedMessage is the overall text when nothing survives filtering.
const NoQualifiedMessage = "No qualified providers: every call was unanswered, unavailable, or disqualified."

// heuristicScores are the placeholder scores used by the fallback ranking.
var heuristicScores = [MaxRecommendations]float64{70, 65, 60}

// Engine turns call results into a ranked recommendation set.
type Engine struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	breaker   *resilience.Breaker
}

// Option configures an Engine.
type Option func(*Engine)

// WithModel sets the oracle model.
func WithModel(m string) Option {
	return func(e *Engine) {
		if m != "" {
			e.model = m
		}
	}
}

// WithMaxTokens sets the oracle response budget.
func WithMaxTokens(n int64) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxTokens = n
		}
	}
}

// WithBreaker replaces the oracle circuit breaker.
func WithBreaker(b *resilience.Breaker) Option {
	return func(e *Engine) {
		e.breaker = b
	}
}

// New creates an Engine. A nil client always uses the heuristic ranking.
func New(client anthropic.Client, opts ...Option) *Engine {
	e := &Engine{
		client:    client,
		model:     DefaultModel,
		maxTokens: defaultMaxTokens,
		breaker:   resilience.NewBreaker(3, time.Minute),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Filter keeps results that connected, were not disqualified, and did not
// report the provider as unavailable.
func Filter(results []model.CallResult) ([]model.CallResult, model.RecommendationStats) {
	stats := model.RecommendationStats{TotalCalls: len(results)}
	var qualified []model.CallResult
	for _, r := range results {
		switch {
		case r.Status != model.CallCompleted:
			stats.NotConnected++
		case r.Analysis.Disqualified:
			stats.Disqualified++
		case r.Analysis.Availability == model.AvailabilityUnavailable:
			stats.Unavailable++
		default:
			qualified = append(qualified, r)
		}
	}
	stats.Qualified = len(qualified)
	return qualified, stats
}

// Recommend ranks results against the caller's criteria. It never fails:
// an unavailable or misbehaving oracle falls back to the heuristic ranking.
func (e *Engine) Recommend(ctx context.Context, results []model.CallResult, criteria string, weights model.ScoringWeights) *model.RecommendationSet {
	log := zap.L().With(zap.String("component", "recommend"))

	qualified, stats := Filter(results)
	log.Info("filtered call results",
		zap.Int("total", stats.TotalCalls),
		zap.Int("qualified", stats.Qualified),
		zap.Int("not_connected", stats.NotConnected),
		zap.Int("disqualified", stats.Disqualified),
		zap.Int("unavailable", stats.Unavailable),
	)

	var set *model.RecommendationSet
	switch {
	case len(qualified) == 0:
		set = &model.RecommendationSet{
			Recommendations: []model.Recommendation{},
			OverallText:     NoQualifiedMessage,
			Method:          model.RecommendNone,
		}
	case e.client == nil:
		set = Heuristic(qualified)
	default:
		var err error
		set, err = resilience.Call(ctx, e.breaker, func(ctx context.Context) (*model.RecommendationSet, error) {
			return e.oracle(ctx, qualified, criteria, weights)
		})
		if err != nil {
			log.Warn("oracle ranking failed, using heuristic", zap.Error(err))
			set = Heuristic(qualified)
			set.Notes = "Automated scoring unavailable; ranked by call order."
		}
	}

	stats.Recommended = len(set.Recommendations)
	set.Stats = stats
	metrics.Recommendations.WithLabelValues(string(set.Method)).Inc()
	return set
}

// Heuristic ranks the first qualified results in input order with
// descending placeholder scores.
func Heuristic(qualified []model.CallResult) *model.RecommendationSet {
	n := min(len(qualified), MaxRecommendations)
	recs := make([]model.Recommendation, 0, n)
	for i := range n {
		r := qualified[i]
		rec := base(r)
		rec.Score = heuristicScores[i]
		rec.Reasoning = synthesizeReasoning(r)
		rec.CriteriaMatched = matchedCriteria(r.Analysis)
		recs = append(recs, rec)
	}

	overall := ""
	if n > 0 {
		overall = fmt.Sprintf("%s is the top available option based on the call analysis.", recs[0].ProviderName)
	}
	return &model.RecommendationSet{
		Recommendations: recs,
		OverallText:     overall,
		Method:          model.RecommendHeuristic,
	}
}

func base(r model.CallResult) model.Recommendation {
	return model.Recommendation{
		ProviderName:         r.ProviderName,
		ProviderPhone:        r.ProviderPhone,
		ProviderID:           r.ProviderID,
		CallID:               r.CallID,
		EarliestAvailability: r.Analysis.EarliestAvailability,
		EstimatedRate:        r.Analysis.EstimatedRate,
		CriteriaMatched:      []string{},
	}
}

func synthesizeReasoning(r model.CallResult) string {
	a := r.Analysis
	parts := []string{"Availability: " + string(a.Availability)}
	if a.EarliestAvailability != "" {
		parts[0] += " (earliest " + a.EarliestAvailability + ")"
	}
	if a.AllCriteriaMet {
		parts = append(parts, "all stated criteria confirmed")
	} else {
		parts = append(parts, "criteria not fully confirmed")
	}
	if a.EstimatedRate != "" {
		parts = append(parts, "quoted rate "+a.EstimatedRate)
	}
	return strings.Join(parts, "; ") + "."
}

func matchedCriteria(a model.CallAnalysis) []string {
	out := []string{}
	for k, ok := range a.CriteriaMet {
		if ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

type oracleRecommendation struct {
	ProviderIndex        *int     `json:"provider_index"`
	ProviderName         string   `json:"provider_name"`
	Score                float64  `json:"score"`
	Reasoning            string   `json:"reasoning"`
	CriteriaMatched      []string `json:"criteria_matched"`
	CallQualityScore     float64  `json:"call_quality_score"`
	ProfessionalismScore float64  `json:"professionalism_score"`
}

type oracleResponse struct {
	Recommendations []oracleRecommendation `json:"recommendations"`
	Overall         string                 `json:"overall_recommendation"`
	Notes           string                 `json:"analysis_notes"`
}

func (e *Engine) oracle(ctx context.Context, qualified []model.CallResult, criteria string, weights model.ScoringWeights) (*model.RecommendationSet, error) {
	prompt, err := buildPrompt(qualified, criteria, weights)
	if err != nil {
		return nil, err
	}
	temp := 0.0
	resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       e.model,
		MaxTokens:   e.maxTokens,
		System:      systemPrompt,
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, eris.Wrap(err, "recommend: oracle request")
	}
	resp.Usage.Log(e.model, "recommend")

	return parseOracle(resp.Text(), qualified)
}

// parseOracle maps the oracle's JSON back onto the qualified results.
// Entries that match no qualified provider are dropped.
func parseOracle(text string, qualified []model.CallResult) (*model.RecommendationSet, error) {
	var out oracleResponse
	if err := json.Unmarshal([]byte(cleanJSON(text)), &out); err != nil {
		return nil, eris.Wrap(err, "recommend: parse oracle response")
	}

	recs := make([]model.Recommendation, 0, len(out.Recommendations))
	seen := make(map[int]bool)
	for _, o := range out.Recommendations {
		idx := resolve(o, qualified)
		if idx < 0 || seen[idx] {
			continue
		}
		seen[idx] = true

		rec := base(qualified[idx])
		rec.Score = clamp(o.Score)
		rec.Reasoning = strings.TrimSpace(o.Reasoning)
		if rec.Reasoning == "" {
			rec.Reasoning = synthesizeReasoning(qualified[idx])
		}
		if o.CriteriaMatched != nil {
			rec.CriteriaMatched = o.CriteriaMatched
		}
		rec.CallQualityScore = clamp(o.CallQualityScore)
		rec.ProfessionalismScore = clamp(o.ProfessionalismScore)
		recs = append(recs, rec)
	}
	if len(recs) == 0 {
		return nil, eris.New("recommend: oracle returned no usable recommendations")
	}

	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Score > recs[j].Score })
	if len(recs) > MaxRecommendations {
		recs = recs[:MaxRecommendations]
	}
	return &model.RecommendationSet{
		Recommendations: recs,
		OverallText:     strings.TrimSpace(out.Overall),
		Notes:           strings.TrimSpace(out.Notes),
		Method:          model.RecommendOracle,
	}, nil
}

func resolve(o oracleRecommendation, qualified []model.CallResult) int {
	if o.ProviderIndex != nil && *o.ProviderIndex >= 0 && *o.ProviderIndex < len(qualified) {
		return *o.ProviderIndex
	}
	name := strings.TrimSpace(o.ProviderName)
	for i, r := range qualified {
		if name != "" && strings.EqualFold(r.ProviderName, name) {
			return i
		}
	}
	return -1
}

func clamp(v float64) float64 {
	return max(0, min(100, v))
}

// cleanJSON extracts a JSON object from text that may contain markdown
// code fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
