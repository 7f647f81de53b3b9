package gcp

import (
	"context"
	"encoding/json"
	"fmt"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/Lllllllleong/docuconvert/internal/models"
)

// WorkflowParent returns the resource name of a workflow.
func WorkflowParent(projectID, location, workflowID string) string {
	return fmt.Sprintf("projects/%s/locations/%s/workflows/%s", projectID, location, workflowID)
}

// TriggerWorkflow starts an execution with args marshalled as its argument and
// returns the execution name.
func TriggerWorkflow(ctx context.Context, client *executions.Client, parent string, args any) (string, error) {
	payloadBytes, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: parent,
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	}
	exec, err := client.CreateExecution(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	return exec.GetName(), nil
}

// Workflow starts executions of one workflow.
type Workflow struct {
	client *executions.Client
	parent string
}

// NewWorkflow returns a Workflow for projects/<projectID>/locations/<location>/workflows/<workflowID>.
func NewWorkflow(client *executions.Client, projectID, location, workflowID string) *Workflow {
	return &Workflow{client: client, parent: WorkflowParent(projectID, location, workflowID)}
}

// Start triggers an execution and returns its name.
func (w *Workflow) Start(ctx context.Context, args models.ConversionWorkflowArgs) (string, error) {
	return TriggerWorkflow(ctx, w.client, w.parent, args)
}
