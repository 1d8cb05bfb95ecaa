package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solsend/service/transfer"
	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// Starter starts durable transfer attempts and collects their results.
type Starter interface {
	// StartTransfer starts a TransferWorkflow. It returns transfer.ErrAttemptInFlight
	// while another attempt for the same account is running.
	StartTransfer(ctx context.Context, input TransferInput) (*TransferHandle, error)

	// AwaitTransfer blocks until the attempt reaches a terminal state.
	AwaitTransfer(ctx context.Context, handle *TransferHandle) (*TransferResult, error)
}

// TransferHandle identifies a started attempt.
type TransferHandle struct {
	AttemptID  string `json:"attempt_id"`
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
}

// Client is a production implementation of Starter that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// StartTransfer starts a TransferWorkflow. The workflow ID is derived from the
// account, so Temporal itself refuses a second attempt while one is running.
func (c *Client) StartTransfer(ctx context.Context, input TransferInput) (*TransferHandle, error) {
	if input.AttemptID == "" {
		input.AttemptID = uuid.NewString()
	}
	id := workflowID(input.Account)

	c.logger.Debug("starting transfer workflow",
		"workflow_id", id,
		"attempt_id", input.AttemptID,
		"destination", input.Destination,
	)

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                                       id,
		TaskQueue:                                c.taskQueue,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, TransferWorkflow, input)
	if temporalsdk.IsWorkflowExecutionAlreadyStartedError(err) {
		return nil, transfer.ErrAttemptInFlight
	}
	if err != nil {
		return nil, fmt.Errorf("failed to start transfer workflow: %w", err)
	}

	c.logger.Info("started transfer workflow",
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
		"attempt_id", input.AttemptID,
	)

	return &TransferHandle{
		AttemptID:  input.AttemptID,
		WorkflowID: run.GetID(),
		RunID:      run.GetRunID(),
	}, nil
}

// AwaitTransfer blocks until the workflow completes.
func (c *Client) AwaitTransfer(ctx context.Context, handle *TransferHandle) (*TransferResult, error) {
	var result TransferResult
	if err := c.client.GetWorkflow(ctx, handle.WorkflowID, handle.RunID).Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("transfer workflow failed: %w", err)
	}
	return &result, nil
}

// TransferStatus summarizes the latest transfer workflow for an account.
type TransferStatus struct {
	WorkflowID string     `json:"workflow_id"`
	RunID      string     `json:"run_id"`
	Status     string     `json:"status"`
	StartTime  time.Time  `json:"start_time"`
	CloseTime  *time.Time `json:"close_time,omitempty"`
}

// Running reports whether the attempt has not closed yet.
func (s *TransferStatus) Running() bool {
	return s.CloseTime == nil
}

// DescribeTransfer reports the latest transfer workflow for account.
func (c *Client) DescribeTransfer(ctx context.Context, account string) (*TransferStatus, error) {
	resp, err := c.client.DescribeWorkflowExecution(ctx, workflowID(account), "")
	if err != nil {
		return nil, fmt.Errorf("failed to describe transfer workflow: %w", err)
	}

	info := resp.GetWorkflowExecutionInfo()
	status := &TransferStatus{
		WorkflowID: info.GetExecution().GetWorkflowId(),
		RunID:      info.GetExecution().GetRunId(),
		Status:     info.GetStatus().String(),
		StartTime:  info.GetStartTime().AsTime(),
	}
	if ct := info.GetCloseTime(); ct != nil {
		t := ct.AsTime()
		status.CloseTime = &t
	}
	return status, nil
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// workflowID returns the workflow ID for an account's transfer attempts.
func workflowID(account string) string {
	return "transfer-" + account
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}

// RunTransfer starts an attempt and waits for its result.
func RunTransfer(ctx context.Context, starter Starter, input TransferInput) (*TransferResult, error) {
	handle, err := starter.StartTransfer(ctx, input)
	if err != nil {
		return nil, err
	}
	return starter.AwaitTransfer(ctx, handle)
}
