package crowdsaled

import (
	"log/slog"
	"sync"

	"tokensale/core/events"
	"tokensale/core/types"
	"tokensale/observability/metrics"
)

// eventFeed logs every ledger event, feeds the metrics and keeps a bounded
// tail for the /v1/events route.
type eventFeed struct {
	logger  *slog.Logger
	metrics *metrics.CrowdsaleMetrics

	mu     sync.Mutex
	recent []*types.Event
	limit  int
}

func newEventFeed(logger *slog.Logger, m *metrics.CrowdsaleMetrics, limit int) *eventFeed {
	if limit <= 0 {
		limit = 256
	}
	return &eventFeed{logger: logger, metrics: m, limit: limit}
}

// Emit implements events.Emitter.
func (f *eventFeed) Emit(evt events.Event) {
	switch e := evt.(type) {
	case events.TokensPurchased:
		f.metrics.ObservePurchase(e.Units)
	case events.RefundClaimed:
		f.metrics.ObserveRefund(e.Sale, e.Overpayment)
	case events.SaleFinalized:
		f.metrics.ObserveFinalized(e.GoalReached)
	case events.RateChanged:
		f.metrics.SetRate(e.New)
	}

	payload, ok := evt.(events.Payload)
	if !ok {
		f.logger.Info("ledger event", slog.String("type", evt.EventType()))
		return
	}
	rendered := payload.Event()
	args := make([]any, 0, len(rendered.Attributes)+1)
	args = append(args, slog.String("type", rendered.Type))
	for _, key := range rendered.Keys() {
		args = append(args, slog.String(key, rendered.Attributes[key]))
	}
	f.logger.Info("ledger event", args...)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.recent = append(f.recent, rendered.Clone())
	if len(f.recent) > f.limit {
		f.recent = append([]*types.Event(nil), f.recent[len(f.recent)-f.limit:]...)
	}
}

// Recent returns copies of the retained events, oldest first.
func (f *eventFeed) Recent() []*types.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*types.Event, 0, len(f.recent))
	for _, evt := range f.recent {
		out = append(out, evt.Clone())
	}
	return out
}
