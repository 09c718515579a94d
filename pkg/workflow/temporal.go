package workflow

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"
)

type temporalClient struct {
	c         client.Client
	taskQueue string
}

// NewTemporalClient adapts a Temporal client. Flow ids are used as
// workflow type names and executions are started on taskQueue.
func NewTemporalClient(c client.Client, taskQueue string) Client {
	return &temporalClient{c: c, taskQueue: taskQueue}
}

// DialTemporal connects to a Temporal frontend with zap-backed SDK logging.
func DialTemporal(hostPort, namespace string) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  hostPort,
		Namespace: namespace,
		Logger:    NewZapLogger(zap.L().Named("temporal")),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "workflow: dial temporal %s", hostPort)
	}
	return c, nil
}

func (t *temporalClient) TriggerExecution(ctx context.Context, flowID string, inputs map[string]any) (*Execution, error) {
	opts := client.StartWorkflowOptions{
		ID:        flowID + "-" + uuid.NewString(),
		TaskQueue: t.taskQueue,
	}
	run, err := t.c.ExecuteWorkflow(ctx, opts, flowID, inputs)
	if err != nil {
		return nil, eris.Wrapf(err, "workflow: start %s", flowID)
	}
	return &Execution{ID: run.GetID(), FlowID: flowID, State: StateCreated}, nil
}

func (t *temporalClient) GetExecution(ctx context.Context, id string) (*Execution, error) {
	desc, err := t.c.DescribeWorkflowExecution(ctx, id, "")
	if err != nil {
		return nil, eris.Wrapf(err, "workflow: describe %s", id)
	}
	info := desc.GetWorkflowExecutionInfo()
	if info == nil {
		return nil, eris.Errorf("workflow: describe %s: missing execution info", id)
	}

	exec := &Execution{
		ID:     id,
		FlowID: info.GetType().GetName(),
		State:  mapTemporalStatus(info.GetStatus()),
	}
	if ts := info.GetStartTime(); ts != nil {
		st := ts.AsTime()
		exec.StartedAt = &st
	}
	if ts := info.GetCloseTime(); ts != nil {
		et := ts.AsTime()
		exec.EndedAt = &et
	}

	if exec.State.Terminal() {
		var outputs map[string]any
		if err := t.c.GetWorkflow(ctx, id, "").Get(ctx, &outputs); err != nil {
			if exec.State == StateSuccess {
				return nil, eris.Wrapf(err, "workflow: read result %s", id)
			}
			exec.Error = err.Error()
		} else {
			exec.Outputs = outputs
		}
	}
	return exec, nil
}

func (t *temporalClient) Health(ctx context.Context) error {
	if _, err := t.c.CheckHealth(ctx, &client.CheckHealthRequest{}); err != nil {
		return eris.Wrap(err, "workflow: temporal health")
	}
	return nil
}

func mapTemporalStatus(s enumspb.WorkflowExecutionStatus) State {
	switch s {
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		return StateSuccess
	case enumspb.WORKFLOW_EXECUTION_STATUS_FAILED, enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:
		return StateFailed
	case enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED, enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED:
		return StateKilled
	default:
		return StateRunning
	}
}
