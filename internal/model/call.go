package model

import (
	"strings"
	"time"
)

// Urgency classifies how soon the requester needs the service.
type Urgency string

const (
	UrgencyImmediate     Urgency = "immediate"
	UrgencyWithin24Hours Urgency = "within_24_hours"
	UrgencyWithin2Days   Urgency = "within_2_days"
	UrgencyFlexible      Urgency = "flexible"
)

// Valid reports whether u is one of the known urgency classes.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyImmediate, UrgencyWithin24Hours, UrgencyWithin2Days, UrgencyFlexible:
		return true
	}
	return false
}

// CallStatus is the normalized outcome of a single call.
type CallStatus string

const (
	// CallCompleted means the call connected and reached a conversational end.
	CallCompleted CallStatus = "completed"
	CallNoAnswer  CallStatus = "no_answer"
	CallVoicemail CallStatus = "voicemail"
	// CallTimeout means we gave up waiting for a result.
	CallTimeout CallStatus = "timeout"
	// CallError means the call was never successfully placed.
	CallError CallStatus = "error"
)

// Backend identifies which execution path placed a call or ran a search.
type Backend string

const (
	BackendOrchestrator Backend = "orchestrator"
	BackendDirect       Backend = "direct"
)

// Availability is the provider's stated availability.
type Availability string

const (
	AvailabilityAvailable         Availability = "available"
	AvailabilityUnavailable       Availability = "unavailable"
	AvailabilityCallbackRequested Availability = "callback_requested"
	AvailabilityUnclear           Availability = "unclear"
)

// ParseAvailability maps free-form analysis text onto an Availability.
func ParseAvailability(s string) Availability {
	switch Availability(strings.ToLower(strings.TrimSpace(s))) {
	case AvailabilityAvailable:
		return AvailabilityAvailable
	case AvailabilityUnavailable:
		return AvailabilityUnavailable
	case AvailabilityCallbackRequested:
		return AvailabilityCallbackRequested
	default:
		return AvailabilityUnclear
	}
}

// Outcome is the qualitative outcome class of a connected call.
type Outcome string

const (
	OutcomePositive Outcome = "positive"
	OutcomeNegative Outcome = "negative"
	OutcomeNeutral  Outcome = "neutral"
)

// CallAnalysis is the structured analysis extracted from a call transcript.
type CallAnalysis struct {
	Availability         Availability    `json:"availability"`
	EarliestAvailability string          `json:"earliest_availability,omitempty"`
	EstimatedRate        string          `json:"estimated_rate,omitempty"`
	AllCriteriaMet       bool            `json:"all_criteria_met"`
	CriteriaMet          map[string]bool `json:"criteria_met,omitempty"`
	Disqualified         bool            `json:"disqualified"`
	DisqualifyReason     string          `json:"disqualify_reason,omitempty"`
	Outcome              Outcome         `json:"call_outcome,omitempty"`
	Recommended          bool            `json:"recommended"`
	Notes                string          `json:"notes,omitempty"`
}

// CallRequest describes one outbound call. The phone must already be in
// E.164 form; the dispatcher rejects anything else.
type CallRequest struct {
	ProviderName     string  `json:"provider_name" yaml:"provider_name"`
	ProviderPhone    string  `json:"provider_phone" yaml:"provider_phone"`
	ServiceNeeded    string  `json:"service_needed" yaml:"service_needed"`
	UserCriteria     string  `json:"user_criteria" yaml:"user_criteria"`
	Location         string  `json:"location,omitempty" yaml:"location"`
	Urgency          Urgency `json:"urgency" yaml:"urgency"`
	ServiceRequestID string  `json:"service_request_id,omitempty" yaml:"service_request_id"`
	ProviderID       string  `json:"provider_id,omitempty" yaml:"provider_id"`
	CustomPrompt     string  `json:"custom_prompt,omitempty" yaml:"custom_prompt"`
}

// CallResult is the uniform outcome of one CallRequest. Failure is data:
// every dispatched request yields exactly one result.
type CallResult struct {
	Status           CallStatus   `json:"status"`
	Backend          Backend      `json:"backend"`
	CallID           string       `json:"call_id,omitempty"`
	ProviderName     string       `json:"provider_name"`
	ProviderPhone    string       `json:"provider_phone"`
	ProviderID       string       `json:"provider_id,omitempty"`
	ServiceRequestID string       `json:"service_request_id,omitempty"`
	DurationSeconds  float64      `json:"duration_seconds"`
	EndedReason      string       `json:"ended_reason,omitempty"`
	Transcript       string       `json:"transcript,omitempty"`
	Analysis         CallAnalysis `json:"analysis"`
	CostUSD          *float64     `json:"cost_usd,omitempty"`
	Error            string       `json:"error,omitempty"`
	StartedAt        *time.Time   `json:"started_at,omitempty"`
	EndedAt          *time.Time   `json:"ended_at,omitempty"`
}

// Placed reports whether the call ever reached the call-automation service.
func (r CallResult) Placed() bool {
	return r.Status != CallError
}

// NewCallResult returns a result pre-filled with the request's echo fields.
func NewCallResult(req CallRequest, backend Backend, status CallStatus) CallResult {
	return CallResult{
		Status:           status,
		Backend:          backend,
		ProviderName:     req.ProviderName,
		ProviderPhone:    req.ProviderPhone,
		ProviderID:       req.ProviderID,
		ServiceRequestID: req.ServiceRequestID,
		Analysis:         CallAnalysis{Availability: AvailabilityUnclear},
	}
}

// ErrorResult builds an error-status result for a request that was never placed.
func ErrorResult(req CallRequest, backend Backend, err error) CallResult {
	r := NewCallResult(req, backend, CallError)
	if err != nil {
		r.Error = err.Error()
	}
	return r
}
