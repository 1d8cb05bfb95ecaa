package wallet

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrApprovalNotFound is returned by QueueApprover.Decide for unknown or expired requests.
var ErrApprovalNotFound = errors.New("approval request not found")

// Approval request kinds.
const (
	ApprovalConnect = "connect"
	ApprovalSign    = "sign"
)

// Approval modes select the approver a long-running process answers with.
const (
	ModeQueue = "queue"
	ModeAuto  = "auto"
	ModeDeny  = "deny"
)

// ApproverForMode returns the approver for mode. Queue mode answers through queue.
func ApproverForMode(mode string, queue *QueueApprover) (Approver, error) {
	switch strings.ToLower(mode) {
	case ModeQueue:
		if queue == nil {
			return nil, fmt.Errorf("approval mode %q needs a queue", mode)
		}
		return queue, nil
	case ModeAuto:
		return AutoApprover{Approved: true}, nil
	case ModeDeny:
		return AutoApprover{Approved: false}, nil
	}
	return nil, fmt.Errorf("unknown approval mode %q", mode)
}

// ApprovalRequest describes something the user must approve or decline.
type ApprovalRequest struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Account   string    `json:"account"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
}

// Approver is the approval surface a provider defers to. Approve blocks until
// the user decides or ctx is done.
type Approver interface {
	Approve(ctx context.Context, req ApprovalRequest) (bool, error)
}

// AutoApprover answers every request the same way without asking anyone.
type AutoApprover struct {
	Approved bool
}

// Approve returns the fixed answer.
func (a AutoApprover) Approve(ctx context.Context, req ApprovalRequest) (bool, error) {
	return a.Approved, nil
}

// TerminalApprover prompts on out and reads a y/N answer from in. A single
// goroutine owns in and reads one line per request. A line that arrives for a
// prompt that was abandoned is dropped by the next prompt.
type TerminalApprover struct {
	in  *bufio.Reader
	out io.Writer

	mu      sync.Mutex
	once    sync.Once
	want    chan struct{}
	lines   chan terminalLine
	reading bool // a line was requested and not yet taken
	closed  bool // in is exhausted
}

type terminalLine struct {
	text string
	err  error
}

// NewTerminalApprover creates an approver for an interactive terminal.
func NewTerminalApprover(in io.Reader, out io.Writer) *TerminalApprover {
	return &TerminalApprover{
		in:    bufio.NewReader(in),
		out:   out,
		want:  make(chan struct{}),
		lines: make(chan terminalLine, 1),
	}
}

func (a *TerminalApprover) readLines() {
	for range a.want {
		text, err := a.in.ReadString('\n')
		a.lines <- terminalLine{text: text, err: err}
		if err != nil {
			return
		}
	}
}

// Approve prints the request and waits for an answer line.
func (a *TerminalApprover) Approve(ctx context.Context, req ApprovalRequest) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.once.Do(func() { go a.readLines() })

	if a.reading {
		select {
		case line := <-a.lines:
			a.reading = false
			if line.err != nil {
				a.closed = true
			}
		default:
		}
	}
	if a.closed {
		return false, nil
	}

	fmt.Fprintf(a.out, "\n[%s] %s\n  account: %s\nApprove? [y/N]: ", req.Kind, req.Summary, req.Account)
	if !a.reading {
		a.want <- struct{}{}
		a.reading = true
	}

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case line := <-a.lines:
		a.reading = false
		if line.err != nil {
			a.closed = true
			if line.text == "" {
				if errors.Is(line.err, io.EOF) {
					return false, nil
				}
				return false, fmt.Errorf("failed to read answer: %w", line.err)
			}
		}
		switch strings.ToLower(strings.TrimSpace(line.text)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}

// QueueApprover parks requests until someone calls Decide. It backs the HTTP
// approval endpoints, standing in for a wallet extension's popup.
type QueueApprover struct {
	mu      sync.Mutex
	pending map[string]*pendingApproval
	now     func() time.Time
}

type pendingApproval struct {
	req      ApprovalRequest
	decision chan bool
}

// NewQueueApprover creates an empty approval queue.
func NewQueueApprover() *QueueApprover {
	return &QueueApprover{
		pending: make(map[string]*pendingApproval),
		now:     time.Now,
	}
}

// Approve enqueues req and blocks until Decide is called for it or ctx is done.
func (q *QueueApprover) Approve(ctx context.Context, req ApprovalRequest) (bool, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.CreatedAt = q.now().UTC()

	p := &pendingApproval{req: req, decision: make(chan bool, 1)}

	q.mu.Lock()
	q.pending[req.ID] = p
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		delete(q.pending, req.ID)
		q.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case approved := <-p.decision:
		return approved, nil
	}
}

// Pending lists undecided requests, oldest first.
func (q *QueueApprover) Pending() []ApprovalRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]ApprovalRequest, 0, len(q.pending))
	for _, p := range q.pending {
		out = append(out, p.req)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Decide resolves a pending request.
func (q *QueueApprover) Decide(id string, approve bool) error {
	q.mu.Lock()
	p, ok := q.pending[id]
	if ok {
		delete(q.pending, id)
	}
	q.mu.Unlock()

	if !ok {
		return ErrApprovalNotFound
	}
	p.decision <- approve
	return nil
}
