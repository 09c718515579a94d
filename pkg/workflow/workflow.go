// Package workflow drives flows on a workflow orchestrator. Two
// implementations share the Client interface: a REST client for an
// execution API and an adapter over a Temporal cluster.
package workflow

import (
	"context"
	"time"
)

// State is the orchestrator-neutral execution state.
type State string

const (
	StateCreated State = "created"
	StateRunning State = "running"
	StateSuccess State = "success"
	StateFailed  State = "failed"
	StateKilled  State = "killed"
)

// Terminal reports whether the execution has finished.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailed || s == StateKilled
}

// Execution is a single run of a flow.
type Execution struct {
	ID        string         `json:"id"`
	FlowID    string         `json:"flow_id"`
	State     State          `json:"state"`
	Outputs   map[string]any `json:"outputs,omitempty"`
	Error     string         `json:"error,omitempty"`
	StartedAt *time.Time     `json:"started_at,omitempty"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
}

// Client triggers flows and reads their executions.
type Client interface {
	TriggerExecution(ctx context.Context, flowID string, inputs map[string]any) (*Execution, error)
	GetExecution(ctx context.Context, id string) (*Execution, error)
	// Health returns nil when the orchestrator is reachable.
	Health(ctx context.Context) error
}
