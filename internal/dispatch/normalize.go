package dispatch

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/pkg/voice"
	"github.com/sells-group/outreach-cli/pkg/workflow"
)

// StatusFromEndedReason maps the voice service's ended reason onto a
// CallStatus. connected reports whether any conversation took place.
func StatusFromEndedReason(reason string, connected bool) model.CallStatus {
	r := strings.ToLower(strings.TrimSpace(reason))
	switch {
	case r == "voicemail" || strings.Contains(r, "voicemail"):
		return model.CallVoicemail
	case r == "customer-did-not-answer" || r == "customer-busy" ||
		strings.Contains(r, "no-answer") || strings.Contains(r, "did-not-answer"):
		return model.CallNoAnswer
	case strings.HasPrefix(r, "call.start.error") || strings.HasPrefix(r, "assistant-not-") ||
		strings.Contains(r, "assistant-request-failed") || strings.Contains(r, "failed-to-connect"):
		return model.CallError
	case r == "silence-timed-out":
		if connected {
			return model.CallCompleted
		}
		return model.CallNoAnswer
	case strings.Contains(r, "error"):
		if connected {
			return model.CallCompleted
		}
		return model.CallError
	case r == "":
		if connected {
			return model.CallCompleted
		}
		return model.CallNoAnswer
	default:
		// customer-ended-call, assistant-ended-call, exceeded-max-duration, ...
		if connected {
			return model.CallCompleted
		}
		return model.CallNoAnswer
	}
}

// ParseStatus maps a free-form status string onto a CallStatus.
func ParseStatus(s string) (model.CallStatus, bool) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")) {
	case "completed", "complete", "success", "ended":
		return model.CallCompleted, true
	case "no_answer", "noanswer", "busy":
		return model.CallNoAnswer, true
	case "voicemail":
		return model.CallVoicemail, true
	case "timeout", "timed_out":
		return model.CallTimeout, true
	case "error", "failed":
		return model.CallError, true
	}
	return "", false
}

// FromVoiceCall normalizes an ended voice call.
func FromVoiceCall(call *voice.Call, req model.CallRequest) model.CallResult {
	return fromCall(call, req, call.Duration().Seconds())
}

// FromEndOfCallReport normalizes a webhook report. The request echo fields
// come from the metadata attached when the call was created.
func FromEndOfCallReport(report *voice.EndOfCallReport) model.CallResult {
	call := report.AsCall()
	secs := call.Duration().Seconds()
	if secs == 0 {
		secs = report.DurationSeconds
	}
	return fromCall(call, requestFromMetadata(call), secs)
}

func fromCall(call *voice.Call, req model.CallRequest, seconds float64) model.CallResult {
	transcript := call.FullTranscript()
	connected := strings.TrimSpace(transcript) != "" || seconds > 0

	res := model.NewCallResult(req, model.BackendDirect, StatusFromEndedReason(call.EndedReason, connected))
	res.CallID = call.ID
	res.EndedReason = call.EndedReason
	res.Transcript = transcript
	res.DurationSeconds = seconds
	res.CostUSD = call.Cost
	res.StartedAt = call.StartedAt
	res.EndedAt = call.EndedAt
	if call.Analysis != nil {
		res.Analysis = ParseAnalysis(call.Analysis.StructuredData)
		if res.Analysis.Notes == "" {
			res.Analysis.Notes = call.Analysis.Summary
		}
	}
	if res.Status == model.CallError {
		res.Error = "call ended before connecting: " + call.EndedReason
	}
	return res
}

func requestFromMetadata(call *voice.Call) model.CallRequest {
	req := model.CallRequest{
		ProviderName:     call.Metadata[MetaProviderName],
		ProviderID:       call.Metadata[MetaProviderID],
		ServiceRequestID: call.Metadata[MetaServiceRequestID],
	}
	if call.Customer != nil {
		req.ProviderPhone = call.Customer.Number
		if req.ProviderName == "" {
			req.ProviderName = call.Customer.Name
		}
	}
	return req
}

type executionOutputs struct {
	Status          string          `json:"status"`
	CallID          string          `json:"call_id"`
	EndedReason     string          `json:"ended_reason"`
	Transcript      string          `json:"transcript"`
	DurationSeconds json.Number     `json:"duration_seconds"`
	Cost            json.Number     `json:"cost"`
	Analysis        json.RawMessage `json:"analysis"`
	Error           string          `json:"error"`
}

// FromExecution normalizes a terminal orchestrator execution.
func FromExecution(exec *workflow.Execution, req model.CallRequest) model.CallResult {
	res := model.NewCallResult(req, model.BackendOrchestrator, model.CallError)
	res.StartedAt = exec.StartedAt
	res.EndedAt = exec.EndedAt

	var out executionOutputs
	if len(exec.Outputs) > 0 {
		if b, err := json.Marshal(exec.Outputs); err == nil {
			_ = json.Unmarshal(b, &out)
		}
	}

	res.CallID = out.CallID
	res.EndedReason = out.EndedReason
	res.Transcript = out.Transcript
	if v, err := out.DurationSeconds.Float64(); err == nil {
		res.DurationSeconds = v
	}
	if v, err := out.Cost.Float64(); err == nil {
		res.CostUSD = &v
	}
	if len(out.Analysis) > 0 {
		res.Analysis = ParseAnalysis(out.Analysis)
	}

	switch exec.State {
	case workflow.StateSuccess:
		if st, ok := ParseStatus(out.Status); ok {
			res.Status = st
		} else {
			connected := strings.TrimSpace(out.Transcript) != "" || res.DurationSeconds > 0
			res.Status = StatusFromEndedReason(out.EndedReason, connected)
		}
		if res.Status == model.CallError {
			res.Error = firstNonEmpty(out.Error, exec.Error, "workflow reported call error")
		}
	default:
		res.Status = model.CallError
		res.Error = firstNonEmpty(exec.Error, out.Error, "workflow execution "+string(exec.State))
	}
	return res
}

// ParseAnalysis decodes structured analysis leniently: unknown fields are
// ignored and string booleans are accepted.
func ParseAnalysis(raw json.RawMessage) model.CallAnalysis {
	a := model.CallAnalysis{Availability: model.AvailabilityUnclear}
	if len(raw) == 0 {
		return a
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return a
	}

	a.Availability = model.ParseAvailability(str(m["availability"]))
	a.EarliestAvailability = str(m["earliest_availability"])
	a.EstimatedRate = str(m["estimated_rate"])
	a.AllCriteriaMet = boolean(m["all_criteria_met"])
	a.Disqualified = boolean(m["disqualified"])
	a.DisqualifyReason = str(m["disqualify_reason"])
	a.Recommended = boolean(m["recommended"])
	a.Notes = str(m["notes"])

	switch model.Outcome(strings.ToLower(str(m["call_outcome"]))) {
	case model.OutcomePositive:
		a.Outcome = model.OutcomePositive
	case model.OutcomeNegative:
		a.Outcome = model.OutcomeNegative
	case model.OutcomeNeutral:
		a.Outcome = model.OutcomeNeutral
	}

	if cm, ok := m["criteria_met"].(map[string]any); ok && len(cm) > 0 {
		a.CriteriaMet = make(map[string]bool, len(cm))
		for k, v := range cm {
			a.CriteriaMet[k] = boolean(v)
		}
	}
	return a
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

func boolean(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(t))
		return b || strings.EqualFold(strings.TrimSpace(t), "yes")
	case float64:
		return t != 0
	}
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func timeoutResult(req model.CallRequest, backend model.Backend, callID string, waited time.Duration) model.CallResult {
	res := model.NewCallResult(req, backend, model.CallTimeout)
	res.CallID = callID
	res.Error = "no result after " + waited.String()
	return res
}
