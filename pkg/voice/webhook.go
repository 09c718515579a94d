package voice

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

// Webhook message types.
const (
	EventEndOfCallReport = "end-of-call-report"
	EventStatusUpdate    = "status-update"
)

// Event is a decoded webhook message. It is one of *EndOfCallReport,
// *StatusUpdate or *UnknownEvent.
type Event interface {
	EventType() string
	CallID() string
}

// EndOfCallReport is delivered once a call has finished.
type EndOfCallReport struct {
	Call            Call      `json:"call"`
	EndedReason     string    `json:"endedReason"`
	Transcript      string    `json:"transcript"`
	Analysis        *Analysis `json:"analysis"`
	DurationSeconds float64   `json:"durationSeconds"`
	Cost            *float64  `json:"cost"`
}

func (e *EndOfCallReport) EventType() string { return EventEndOfCallReport }
func (e *EndOfCallReport) CallID() string    { return e.Call.ID }

// AsCall merges the report's top-level fields into the embedded call.
func (e *EndOfCallReport) AsCall() *Call {
	c := e.Call
	c.Status = StatusEnded
	if e.EndedReason != "" {
		c.EndedReason = e.EndedReason
	}
	if e.Transcript != "" && c.FullTranscript() == "" {
		c.Transcript = e.Transcript
	}
	if e.Analysis != nil {
		c.Analysis = e.Analysis
	}
	if e.Cost != nil {
		c.Cost = e.Cost
	}
	return &c
}

// StatusUpdate reports an intermediate call status.
type StatusUpdate struct {
	Call   Call   `json:"call"`
	Status string `json:"status"`
}

func (e *StatusUpdate) EventType() string { return EventStatusUpdate }
func (e *StatusUpdate) CallID() string    { return e.Call.ID }

// UnknownEvent is any message type the system does not act on.
type UnknownEvent struct {
	Type string
	ID   string
}

func (e *UnknownEvent) EventType() string { return e.Type }
func (e *UnknownEvent) CallID() string    { return e.ID }

type envelope struct {
	Message json.RawMessage `json:"message"`
}

type header struct {
	Type string `json:"type"`
	Call struct {
		ID string `json:"id"`
	} `json:"call"`
}

// ParseWebhook decodes a webhook body into a typed Event.
func ParseWebhook(body []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, eris.Wrap(err, "voice: decode webhook")
	}
	if len(env.Message) == 0 {
		return nil, eris.New("voice: webhook missing message")
	}

	var h header
	if err := json.Unmarshal(env.Message, &h); err != nil {
		return nil, eris.Wrap(err, "voice: decode webhook header")
	}

	switch h.Type {
	case EventEndOfCallReport:
		var e EndOfCallReport
		if err := json.Unmarshal(env.Message, &e); err != nil {
			return nil, eris.Wrap(err, "voice: decode end-of-call report")
		}
		if e.Call.ID == "" {
			return nil, eris.New("voice: end-of-call report missing call id")
		}
		return &e, nil
	case EventStatusUpdate:
		var e StatusUpdate
		if err := json.Unmarshal(env.Message, &e); err != nil {
			return nil, eris.Wrap(err, "voice: decode status update")
		}
		return &e, nil
	case "":
		return nil, eris.New("voice: webhook missing message type")
	default:
		return &UnknownEvent{Type: h.Type, ID: h.Call.ID}, nil
	}
}
