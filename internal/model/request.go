package model

import (
	"strings"
	"time"

	"github.com/sells-group/outreach-cli/internal/phone"
)

// RequestStatus is the state of an outreach request.
type RequestStatus string

const (
	RequestQueued      RequestStatus = "queued"
	RequestResearching RequestStatus = "researching"
	RequestEnriching   RequestStatus = "enriching"
	RequestCalling     RequestStatus = "calling"
	RequestAnalyzing   RequestStatus = "analyzing"
	RequestComplete    RequestStatus = "complete"
	RequestFailed      RequestStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s RequestStatus) Terminal() bool {
	return s == RequestComplete || s == RequestFailed
}

var requestTransitions = map[RequestStatus]RequestStatus{
	RequestQueued:      RequestResearching,
	RequestResearching: RequestEnriching,
	RequestEnriching:   RequestCalling,
	RequestCalling:     RequestAnalyzing,
	RequestAnalyzing:   RequestComplete,
}

// CanTransition reports whether moving from s to next is allowed.
// Failed is reachable from every non-terminal state.
func (s RequestStatus) CanTransition(next RequestStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == RequestFailed {
		return true
	}
	return requestTransitions[s] == next
}

// OutreachRequest is a client's description of a service need.
type OutreachRequest struct {
	ID           string        `json:"id"`
	Service      string        `json:"service"`
	Location     string        `json:"location"`
	Criteria     string        `json:"criteria"`
	Urgency      Urgency       `json:"urgency"`
	ClientName   string        `json:"client_name,omitempty"`
	ClientPhone  string        `json:"client_phone,omitempty"`
	Origin       *LatLng       `json:"origin,omitempty"`
	MaxProviders int           `json:"max_providers,omitempty"`
	Status       RequestStatus `json:"status"`
	Error        string        `json:"error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Validate checks the fields required to start research.
func (r OutreachRequest) Validate() error {
	if strings.TrimSpace(r.Service) == "" {
		return &ValidationError{Field: "service", Reason: "is required"}
	}
	if strings.TrimSpace(r.Location) == "" {
		return &ValidationError{Field: "location", Reason: "is required"}
	}
	if r.Urgency != "" && !r.Urgency.Valid() {
		return &ValidationError{Field: "urgency", Reason: "unknown value " + string(r.Urgency)}
	}
	return nil
}

// NewCallRequest builds a call request for a provider on behalf of r. The
// provider's phone is normalized to E.164; an unusable phone is a
// ValidationError.
func NewCallRequest(r OutreachRequest, p Provider) (CallRequest, error) {
	raw := p.CallablePhone()
	normalized, err := phone.Normalize(raw, phone.DefaultRegion)
	if err != nil {
		return CallRequest{}, &ValidationError{Field: "provider_phone", Reason: "cannot normalize " + quote(raw)}
	}
	urgency := r.Urgency
	if urgency == "" {
		urgency = UrgencyFlexible
	}
	return CallRequest{
		ProviderName:     p.Name,
		ProviderPhone:    normalized,
		ServiceNeeded:    r.Service,
		UserCriteria:     r.Criteria,
		Location:         r.Location,
		Urgency:          urgency,
		ServiceRequestID: r.ID,
		ProviderID:       p.ID,
	}, nil
}

// Validate checks a call request before dispatch.
func (c CallRequest) Validate() error {
	if strings.TrimSpace(c.ProviderName) == "" {
		return &ValidationError{Field: "provider_name", Reason: "is required"}
	}
	if !phone.IsE164(c.ProviderPhone) {
		return &ValidationError{Field: "provider_phone", Reason: "must be E.164, got " + quote(c.ProviderPhone)}
	}
	if strings.TrimSpace(c.ServiceNeeded) == "" {
		return &ValidationError{Field: "service_needed", Reason: "is required"}
	}
	if !c.Urgency.Valid() {
		return &ValidationError{Field: "urgency", Reason: "unknown value " + quote(string(c.Urgency))}
	}
	return nil
}

func quote(s string) string {
	return `"` + s + `"`
}
