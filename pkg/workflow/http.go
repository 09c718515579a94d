package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

const defaultNamespace = "outreach"

// Option configures the HTTP client.
type Option func(*httpClient)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithNamespace sets the flow namespace.
func WithNamespace(ns string) Option {
	return func(c *httpClient) {
		c.namespace = ns
	}
}

// WithToken sets a bearer token for authenticated deployments.
func WithToken(token string) Option {
	return func(c *httpClient) {
		c.token = token
	}
}

type httpClient struct {
	baseURL   string
	namespace string
	token     string
	http      *http.Client
}

// NewHTTPClient creates a client for the orchestrator's REST execution API.
func NewHTTPClient(baseURL string, opts ...Option) Client {
	c := &httpClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		namespace: defaultNamespace,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type executionResponse struct {
	ID     string `json:"id"`
	FlowID string `json:"flowId"`
	State  struct {
		Current   string     `json:"current"`
		StartDate *time.Time `json:"startDate"`
		EndDate   *time.Time `json:"endDate"`
	} `json:"state"`
	Outputs map[string]any `json:"outputs"`
	Error   string         `json:"error"`
}

func (r executionResponse) toExecution() *Execution {
	return &Execution{
		ID:        r.ID,
		FlowID:    r.FlowID,
		State:     mapHTTPState(r.State.Current),
		Outputs:   r.Outputs,
		Error:     r.Error,
		StartedAt: r.State.StartDate,
		EndedAt:   r.State.EndDate,
	}
}

// mapHTTPState folds the orchestrator's state vocabulary into State.
func mapHTTPState(s string) State {
	switch strings.ToUpper(s) {
	case "CREATED", "QUEUED":
		return StateCreated
	case "SUCCESS":
		return StateSuccess
	case "FAILED", "WARNING":
		return StateFailed
	case "KILLED", "KILLING", "CANCELLED":
		return StateKilled
	default:
		return StateRunning
	}
}

func (c *httpClient) TriggerExecution(ctx context.Context, flowID string, inputs map[string]any) (*Execution, error) {
	body, err := json.Marshal(inputs)
	if err != nil {
		return nil, eris.Wrap(err, "workflow: marshal inputs")
	}

	path := "/api/v1/executions/" + url.PathEscape(c.namespace) + "/" + url.PathEscape(flowID)
	var resp executionResponse
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, eris.Wrapf(err, "workflow: trigger %s", flowID)
	}
	if resp.ID == "" {
		return nil, eris.Errorf("workflow: trigger %s: response missing execution id", flowID)
	}
	exec := resp.toExecution()
	if exec.FlowID == "" {
		exec.FlowID = flowID
	}
	return exec, nil
}

func (c *httpClient) GetExecution(ctx context.Context, id string) (*Execution, error) {
	var resp executionResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/executions/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, eris.Wrapf(err, "workflow: get execution %s", id)
	}
	return resp.toExecution(), nil
}

func (c *httpClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return eris.Wrap(err, "workflow: create health request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "workflow: health probe")
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("workflow: health probe status %d", resp.StatusCode)
	}
	return nil
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
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
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
		return resilience.HTTPError("workflow", resp.StatusCode, respBody)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return eris.Wrap(err, "unmarshal response")
	}
	return nil
}
