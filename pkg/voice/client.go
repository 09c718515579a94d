// Package voice is a client for the call-automation service that places
// outbound calls and reports their outcome.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

const defaultBaseURL = "https://api.vapi.ai"

// Client places calls and reads their state.
type Client interface {
	CreateCall(ctx context.Context, req CreateCallRequest) (*Call, error)
	GetCall(ctx context.Context, id string) (*Call, error)
}

// Call statuses reported by the service.
const (
	StatusQueued     = "queued"
	StatusRinging    = "ringing"
	StatusInProgress = "in-progress"
	StatusForwarding = "forwarding"
	StatusEnded      = "ended"
)

// CreateCallRequest is the payload for placing an outbound call.
type CreateCallRequest struct {
	PhoneNumberID string            `json:"phoneNumberId,omitempty"`
	AssistantID   string            `json:"assistantId,omitempty"`
	Assistant     *Assistant        `json:"assistant,omitempty"`
	Customer      Customer          `json:"customer"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Customer is the party being called.
type Customer struct {
	Number string `json:"number"`
	Name   string `json:"name,omitempty"`
}

// Assistant is an inline assistant definition.
type Assistant struct {
	Name               string        `json:"name,omitempty"`
	FirstMessage       string        `json:"firstMessage,omitempty"`
	Model              Model         `json:"model"`
	VoicemailDetection *Detection    `json:"voicemailDetection,omitempty"`
	AnalysisPlan       *AnalysisPlan `json:"analysisPlan,omitempty"`
	MaxDurationSeconds int           `json:"maxDurationSeconds,omitempty"`
	ServerURL          string        `json:"serverUrl,omitempty"`
	EndCallPhrases     []string      `json:"endCallPhrases,omitempty"`
}

// Model selects the conversational model and its system messages.
type Model struct {
	Provider string    `json:"provider"`
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

// Message is a single prompt message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Detection configures voicemail detection.
type Detection struct {
	Provider string `json:"provider"`
}

// AnalysisPlan asks the service to extract structured data after the call.
type AnalysisPlan struct {
	StructuredDataPrompt string         `json:"structuredDataPrompt,omitempty"`
	StructuredDataSchema map[string]any `json:"structuredDataSchema,omitempty"`
}

// Call is the service's view of a call.
type Call struct {
	ID          string            `json:"id"`
	Status      string            `json:"status"`
	EndedReason string            `json:"endedReason,omitempty"`
	StartedAt   *time.Time        `json:"startedAt,omitempty"`
	EndedAt     *time.Time        `json:"endedAt,omitempty"`
	Cost        *float64          `json:"cost,omitempty"`
	Transcript  string            `json:"transcript,omitempty"`
	Artifact    *Artifact         `json:"artifact,omitempty"`
	Analysis    *Analysis         `json:"analysis,omitempty"`
	Customer    *Customer         `json:"customer,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Artifact holds recordings and transcripts produced by the call.
type Artifact struct {
	Transcript   string `json:"transcript,omitempty"`
	RecordingURL string `json:"recordingUrl,omitempty"`
}

// Analysis is the post-call analysis block.
type Analysis struct {
	Summary           string          `json:"summary,omitempty"`
	StructuredData    json.RawMessage `json:"structuredData,omitempty"`
	SuccessEvaluation json.RawMessage `json:"successEvaluation,omitempty"`
}

// Ended reports whether the call reached a terminal state.
func (c *Call) Ended() bool {
	return c.Status == StatusEnded
}

// FullTranscript prefers the artifact transcript.
func (c *Call) FullTranscript() string {
	if c.Artifact != nil && c.Artifact.Transcript != "" {
		return c.Artifact.Transcript
	}
	return c.Transcript
}

// Duration is the connected time, zero when unknown.
func (c *Call) Duration() time.Duration {
	if c.StartedAt == nil || c.EndedAt == nil || c.EndedAt.Before(*c.StartedAt) {
		return 0
	}
	return c.EndedAt.Sub(*c.StartedAt)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a call-automation client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) CreateCall(ctx context.Context, in CreateCallRequest) (*Call, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, eris.Wrap(err, "voice: marshal create call")
	}

	var call Call
	if err := c.do(ctx, http.MethodPost, "/call", body, &call); err != nil {
		return nil, eris.Wrap(err, "voice: create call")
	}
	if call.ID == "" {
		return nil, eris.New("voice: create call: response missing id")
	}
	return &call, nil
}

func (c *httpClient) GetCall(ctx context.Context, id string) (*Call, error) {
	if id == "" {
		return nil, eris.New("voice: get call: empty id")
	}

	var call Call
	if err := c.do(ctx, http.MethodGet, "/call/"+url.PathEscape(id), nil, &call); err != nil {
		return nil, eris.Wrapf(err, "voice: get call %s", id)
	}
	return &call, nil
}

func (c *httpClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resilience.HTTPError("voice", resp.StatusCode, respBody)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return eris.Wrap(err, "unmarshal response")
	}
	return nil
}
