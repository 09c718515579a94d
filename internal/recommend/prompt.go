package recommend

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
)

const systemPrompt = `You evaluate phone calls made to local service providers on behalf of a client and pick the best providers to hire.
Respond with a single JSON object and nothing else.`

type candidate struct {
	Index                int             `json:"provider_index"`
	Name                 string          `json:"provider_name"`
	Availability         string          `json:"availability"`
	EarliestAvailability string          `json:"earliest_availability,omitempty"`
	EstimatedRate        string          `json:"estimated_rate,omitempty"`
	AllCriteriaMet       bool            `json:"all_criteria_met"`
	CriteriaMet          map[string]bool `json:"criteria_met,omitempty"`
	Outcome              string          `json:"call_outcome,omitempty"`
	Notes                string          `json:"notes,omitempty"`
	DurationSeconds      float64         `json:"duration_seconds"`
	Transcript           string          `json:"transcript,omitempty"`
}

func buildPrompt(qualified []model.CallResult, criteria string, w model.ScoringWeights) (string, error) {
	cands := make([]candidate, len(qualified))
	for i, r := range qualified {
		cands[i] = candidate{
			Index:                i,
			Name:                 r.ProviderName,
			Availability:         string(r.Analysis.Availability),
			EarliestAvailability: r.Analysis.EarliestAvailability,
			EstimatedRate:        r.Analysis.EstimatedRate,
			AllCriteriaMet:       r.Analysis.AllCriteriaMet,
			CriteriaMet:          r.Analysis.CriteriaMet,
			Outcome:              string(r.Analysis.Outcome),
			Notes:                r.Analysis.Notes,
			DurationSeconds:      r.DurationSeconds,
			Transcript:           truncate(r.Transcript, maxTranscript),
		}
	}
	data, err := json.MarshalIndent(cands, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "recommend: marshal candidates")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Client requirements: %s\n\n", orNone(criteria))
	b.WriteString("Score each provider from 0 to 100 using these weights:\n")
	fmt.Fprintf(&b, "- availability and urgency fit: %.2f\n", w.Availability)
	fmt.Fprintf(&b, "- rate competitiveness: %.2f\n", w.Rate)
	fmt.Fprintf(&b, "- criteria coverage: %.2f\n", w.Criteria)
	fmt.Fprintf(&b, "- call quality: %.2f\n", w.CallQuality)
	fmt.Fprintf(&b, "- professionalism: %.2f\n\n", w.Professionalism)
	fmt.Fprintf(&b, "Providers:\n%s\n\n", data)
	fmt.Fprintf(&b, `Return at most %d providers as:
{"recommendations":[{"provider_index":0,"provider_name":"","score":0,"reasoning":"","criteria_matched":[""],"call_quality_score":0,"professionalism_score":0}],"overall_recommendation":"","analysis_notes":""}`, MaxRecommendations)
	return b.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none stated)"
	}
	return s
}
