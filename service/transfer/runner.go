package transfer

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/brojonat/solsend/service/metrics"
	"github.com/google/uuid"
)

var (
	// ErrAttemptInFlight is returned by Submit while another attempt is running.
	ErrAttemptInFlight = errors.New("a transfer attempt is already in flight")

	// ErrRunnerClosed is returned by Submit after Close.
	ErrRunnerClosed = errors.New("transfer runner closed")
)

type submission struct {
	session     *Session
	destination string
	amount      string
	reply       chan submitReply
}

type submitReply struct {
	attemptID string
	outcome   <-chan *Outcome
	err       error
}

// Runner admits at most one attempt at a time. Submissions go through a single
// channel-driven loop, so an overlapping submit is rejected deterministically
// instead of racing the running attempt.
type Runner struct {
	workflow *Workflow
	metrics  *metrics.Metrics
	logger   *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	requests chan submission
	finished chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewRunner starts the submission loop. Attempts run under a context derived
// from ctx, not the submitter's, so they outlive the request that started them.
func NewRunner(ctx context.Context, workflow *Workflow, m *metrics.Metrics, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	r := &Runner{
		workflow: workflow,
		metrics:  m,
		logger:   logger.With("component", "transfer_runner"),
		ctx:      ctx,
		cancel:   cancel,
		requests: make(chan submission),
		finished: make(chan struct{}),
	}
	r.wg.Add(1)
	go r.loop()
	return r
}

// Submit starts an attempt. It returns the attempt id and a channel that
// receives the terminal outcome once, or ErrAttemptInFlight.
func (r *Runner) Submit(ctx context.Context, s *Session, destination, amount string) (string, <-chan *Outcome, error) {
	sub := submission{
		session:     s,
		destination: destination,
		amount:      amount,
		reply:       make(chan submitReply, 1),
	}

	select {
	case r.requests <- sub:
	case <-r.ctx.Done():
		return "", nil, ErrRunnerClosed
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}

	reply := <-sub.reply
	return reply.attemptID, reply.outcome, reply.err
}

func (r *Runner) loop() {
	defer r.wg.Done()

	inFlight := false
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.finished:
			inFlight = false
		case sub := <-r.requests:
			if inFlight {
				if r.metrics != nil {
					r.metrics.RecordTransferOverlap()
				}
				r.logger.WarnContext(r.ctx, "rejected overlapping transfer attempt")
				sub.reply <- submitReply{err: ErrAttemptInFlight}
				continue
			}

			inFlight = true
			id := uuid.NewString()
			outcome := make(chan *Outcome, 1)
			sub.reply <- submitReply{attemptID: id, outcome: outcome}

			r.wg.Add(1)
			go r.run(id, sub, outcome)
		}
	}
}

func (r *Runner) run(id string, sub submission, outcome chan<- *Outcome) {
	defer r.wg.Done()

	out := r.workflow.RunAttempt(r.ctx, id, sub.session, sub.destination, sub.amount)

	// Clear the in-flight flag before publishing the outcome so a caller that
	// resubmits right after receiving it is admitted.
	select {
	case r.finished <- struct{}{}:
	case <-r.ctx.Done():
	}
	outcome <- out
	close(outcome)
}

// Close cancels any running attempt and stops the loop.
func (r *Runner) Close() {
	r.once.Do(func() {
		r.cancel()
		r.wg.Wait()
	})
}
