package model

// ScoringWeights are the fractional factor weights used to rank providers.
// They must sum to 1.0.
type ScoringWeights struct {
	Availability    float64 `json:"availability" mapstructure:"availability" yaml:"availability"`
	Rate            float64 `json:"rate" mapstructure:"rate" yaml:"rate"`
	Criteria        float64 `json:"criteria" mapstructure:"criteria" yaml:"criteria"`
	CallQuality     float64 `json:"call_quality" mapstructure:"call_quality" yaml:"call_quality"`
	Professionalism float64 `json:"professionalism" mapstructure:"professionalism" yaml:"professionalism"`
}

// DefaultScoringWeights returns the default factor weights.
func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{
		Availability:    0.30,
		Rate:            0.20,
		Criteria:        0.25,
		CallQuality:     0.15,
		Professionalism: 0.10,
	}
}

// Sum returns the total of all weights.
func (w ScoringWeights) Sum() float64 {
	return w.Availability + w.Rate + w.Criteria + w.CallQuality + w.Professionalism
}

// RecommendMethod records how a recommendation set was produced.
type RecommendMethod string

const (
	RecommendOracle    RecommendMethod = "oracle"
	RecommendHeuristic RecommendMethod = "heuristic"
	RecommendNone      RecommendMethod = "none"
)

// Recommendation is one ranked provider.
type Recommendation struct {
	ProviderName         string   `json:"provider_name"`
	ProviderPhone        string   `json:"provider_phone"`
	ProviderID           string   `json:"provider_id,omitempty"`
	CallID               string   `json:"call_id,omitempty"`
	Score                float64  `json:"score"`
	Reasoning            string   `json:"reasoning"`
	CriteriaMatched      []string `json:"criteria_matched"`
	CallQualityScore     float64  `json:"call_quality_score"`
	ProfessionalismScore float64  `json:"professionalism_score"`
	EarliestAvailability string   `json:"earliest_availability,omitempty"`
	EstimatedRate        string   `json:"estimated_rate,omitempty"`
}

// RecommendationStats summarises the filter step.
type RecommendationStats struct {
	TotalCalls   int `json:"total_calls"`
	Qualified    int `json:"qualified"`
	Disqualified int `json:"disqualified"`
	Unavailable  int `json:"unavailable"`
	NotConnected int `json:"not_connected"`
	Recommended  int `json:"recommended"`
}

// RecommendationSet is the output of the recommendation engine.
type RecommendationSet struct {
	Recommendations []Recommendation    `json:"recommendations"`
	OverallText     string              `json:"overall_recommendation"`
	Notes           string              `json:"analysis_notes,omitempty"`
	Method          RecommendMethod     `json:"method"`
	Stats           RecommendationStats `json:"stats"`
}
