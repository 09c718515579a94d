package dispatch

import (
	"fmt"
	"strings"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/pkg/voice"
)

// Metadata keys attached to every call so webhook reports can be matched
// back to the request.
const (
	MetaProviderName     = "provider_name"
	MetaProviderID       = "provider_id"
	MetaServiceRequestID = "service_request_id"
)

// AssistantConfig holds the vendor-side settings for direct calls.
type AssistantConfig struct {
	PhoneNumberID      string
	AssistantID        string
	ModelProvider      string
	Model              string
	ServerURL          string
	MaxDurationSeconds int
}

var urgencyText = map[model.Urgency]string{
	model.UrgencyImmediate:     "as soon as possible, ideally today",
	model.UrgencyWithin24Hours: "within the next 24 hours",
	model.UrgencyWithin2Days:   "within the next two days",
	model.UrgencyFlexible:      "on a flexible timeline",
}

// analysisSchema is the structured data extracted after each call.
var analysisSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"availability":          map[string]any{"type": "string", "enum": []string{"available", "unavailable", "callback_requested", "unclear"}},
		"earliest_availability": map[string]any{"type": "string"},
		"estimated_rate":        map[string]any{"type": "string"},
		"all_criteria_met":      map[string]any{"type": "boolean"},
		"criteria_met":          map[string]any{"type": "object", "additionalProperties": map[string]any{"type": "boolean"}},
		"disqualified":          map[string]any{"type": "boolean"},
		"disqualify_reason":     map[string]any{"type": "string"},
		"call_outcome":          map[string]any{"type": "string", "enum": []string{"positive", "negative", "neutral"}},
		"recommended":           map[string]any{"type": "boolean"},
		"notes":                 map[string]any{"type": "string"},
	},
	"required": []string{"availability", "all_criteria_met", "disqualified", "call_outcome", "recommended"},
}

// BuildCreateCall assembles the vendor request for req.
func BuildCreateCall(req model.CallRequest, cfg AssistantConfig) voice.CreateCallRequest {
	out := voice.CreateCallRequest{
		PhoneNumberID: cfg.PhoneNumberID,
		Customer:      voice.Customer{Number: req.ProviderPhone, Name: req.ProviderName},
		Metadata: map[string]string{
			MetaProviderName:     req.ProviderName,
			MetaProviderID:       req.ProviderID,
			MetaServiceRequestID: req.ServiceRequestID,
		},
	}
	if cfg.AssistantID != "" && req.CustomPrompt == "" {
		out.AssistantID = cfg.AssistantID
		return out
	}

	provider := cfg.ModelProvider
	if provider == "" {
		provider = "openai"
	}
	mdl := cfg.Model
	if mdl == "" {
		mdl = "gpt-4o-mini"
	}
	maxDur := cfg.MaxDurationSeconds
	if maxDur <= 0 {
		maxDur = 180
	}

	out.Assistant = &voice.Assistant{
		Name:         "outreach-" + strings.ToLower(strings.ReplaceAll(req.ServiceNeeded, " ", "-")),
		FirstMessage: fmt.Sprintf("Hi, is this %s? I'm calling to ask about %s service.", req.ProviderName, req.ServiceNeeded),
		Model: voice.Model{
			Provider: provider,
			Model:    mdl,
			Messages: []voice.Message{{Role: "system", Content: systemPrompt(req)}},
		},
		VoicemailDetection: &voice.Detection{Provider: "twilio"},
		AnalysisPlan: &voice.AnalysisPlan{
			StructuredDataPrompt: "Extract the provider's availability, rate, and whether each requirement was met.",
			StructuredDataSchema: analysisSchema,
		},
		MaxDurationSeconds: maxDur,
		ServerURL:          cfg.ServerURL,
		EndCallPhrases:     []string{"goodbye", "have a great day"},
	}
	return out
}

func systemPrompt(req model.CallRequest) string {
	if req.CustomPrompt != "" {
		return req.CustomPrompt
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are calling %s on behalf of a client who needs %s", req.ProviderName, req.ServiceNeeded)
	if req.Location != "" {
		fmt.Fprintf(&b, " in %s", req.Location)
	}
	fmt.Fprintf(&b, " %s.\n", urgencyText[req.Urgency])
	if req.UserCriteria != "" {
		fmt.Fprintf(&b, "Confirm each requirement: %s.\n", req.UserCriteria)
	}
	b.WriteString("Ask for their earliest availability and typical rate. Be brief and polite, and end the call once you have the answers.")
	return b.String()
}
