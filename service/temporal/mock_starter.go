package temporal

import (
	"context"
	"fmt"
	"sync"

	"github.com/brojonat/solsend/service/transfer"
	"github.com/google/uuid"
)

// MockStarter is an in-memory implementation of Starter for testing.
// Results are preset per account with SetResult.
type MockStarter struct {
	mu       sync.Mutex
	started  []TransferInput
	running  map[string]bool
	results  map[string]*TransferResult
	startErr error
}

// NewMockStarter creates a new MockStarter.
func NewMockStarter() *MockStarter {
	return &MockStarter{
		running: make(map[string]bool),
		results: make(map[string]*TransferResult),
	}
}

// StartTransfer records the input. A second start for an account whose
// previous attempt has not been awaited returns transfer.ErrAttemptInFlight.
func (m *MockStarter) StartTransfer(ctx context.Context, input TransferInput) (*TransferHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.startErr != nil {
		return nil, m.startErr
	}
	id := workflowID(input.Account)
	if m.running[id] {
		return nil, transfer.ErrAttemptInFlight
	}
	if input.AttemptID == "" {
		input.AttemptID = uuid.NewString()
	}
	m.running[id] = true
	m.started = append(m.started, input)
	return &TransferHandle{AttemptID: input.AttemptID, WorkflowID: id, RunID: "mock-run"}, nil
}

// AwaitTransfer returns the preset result for the handle's account.
func (m *MockStarter) AwaitTransfer(ctx context.Context, handle *TransferHandle) (*TransferResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.running, handle.WorkflowID)
	result, ok := m.results[handle.WorkflowID]
	if !ok {
		return nil, fmt.Errorf("no result for workflow %s", handle.WorkflowID)
	}
	out := *result
	out.AttemptID = handle.AttemptID
	return &out, nil
}

// SetResult presets the result returned for account's attempts.
func (m *MockStarter) SetResult(account string, result *TransferResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[workflowID(account)] = result
}

// SetStartError makes StartTransfer fail.
func (m *MockStarter) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

// Started returns the inputs of every accepted start.
func (m *MockStarter) Started() []TransferInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TransferInput, len(m.started))
	copy(out, m.started)
	return out
}
