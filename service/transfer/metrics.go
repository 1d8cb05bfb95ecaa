package transfer

import (
	"context"
	"sync"
	"time"

	"github.com/brojonat/solsend/service/metrics"
)

// MetricsObserver records stage durations and terminal outcomes.
type MetricsObserver struct {
	metrics *metrics.Metrics

	mu     sync.Mutex
	stages map[string]stageMark
}

type stageMark struct {
	state State
	at    time.Time
}

// NewMetricsObserver returns nil if m is nil, which Observers skips.
func NewMetricsObserver(m *metrics.Metrics) *MetricsObserver {
	if m == nil {
		return nil
	}
	return &MetricsObserver{metrics: m, stages: make(map[string]stageMark)}
}

func (o *MetricsObserver) OnEvent(ctx context.Context, ev Event) {
	if o == nil {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	prev, ok := o.stages[ev.AttemptID]
	if ok {
		o.metrics.RecordTransferStage(string(prev.state), ev.At.Sub(prev.at).Seconds())
	} else {
		o.metrics.RecordTransferStarted()
	}

	if ev.State.Terminal() {
		o.metrics.RecordTransferOutcome(string(ev.State), string(ev.Kind))
		o.metrics.RecordTransferFinished()
		delete(o.stages, ev.AttemptID)
		return
	}
	o.stages[ev.AttemptID] = stageMark{state: ev.State, at: ev.At}
}
