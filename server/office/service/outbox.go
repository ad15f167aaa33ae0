package service

import (
	"context"
	"sync"
	"time"

	commonlog "office_server/server/common/log"
	"office_server/server/common/metrics"
	"office_server/server/office/domain"
)

// OutboxSink is an external destination for broadcast events.
type OutboxSink interface {
	Name() string
	Deliver(ctx context.Context, ev domain.Event) error
}

// Outbox hands broadcast events to external sinks on its own goroutine so
// the office lock never waits on the network. Events that do not fit in the
// queue are dropped and counted.
type Outbox struct {
	queue   chan domain.Event
	sinks   []OutboxSink
	metrics *metrics.Metrics
	timeout time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

func NewOutbox(size int, m *metrics.Metrics, sinks ...OutboxSink) *Outbox {
	if size <= 0 {
		size = 1024
	}
	return &Outbox{
		queue:   make(chan domain.Event, size),
		sinks:   sinks,
		metrics: m,
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
}

func (o *Outbox) Enqueue(ev domain.Event) {
	if len(o.sinks) == 0 {
		return
	}
	select {
	case o.queue <- ev:
	default:
		o.metrics.EventDropped("outbox_full")
		commonlog.Warnf("event=office_outbox action=enqueue status=dropped reason=queue_full type=%s", ev.Type)
	}
}

// Run delivers queued events until ctx is cancelled, then drains what is
// already queued.
func (o *Outbox) Run(ctx context.Context) {
	defer o.closeOnce.Do(func() { close(o.done) })
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev := <-o.queue:
					o.deliver(context.Background(), ev)
				default:
					return
				}
			}
		case ev := <-o.queue:
			o.deliver(ctx, ev)
		}
	}
}

// Done is closed once Run has returned.
func (o *Outbox) Done() <-chan struct{} {
	return o.done
}

func (o *Outbox) deliver(ctx context.Context, ev domain.Event) {
	for _, sink := range o.sinks {
		deliverCtx, cancel := context.WithTimeout(ctx, o.timeout)
		err := sink.Deliver(deliverCtx, ev)
		cancel()
		if err != nil {
			o.metrics.OutboxFailure(sink.Name())
			commonlog.Errorf("event=office_outbox action=deliver status=failed sink=%s type=%s entity=%s error=%v", sink.Name(), ev.Type, ev.EntityKey(), err)
		}
	}
}
