package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	commonlog "office_server/server/common/log"
	"office_server/server/office/domain"
)

// Routing patterns the archiver binds on the office events exchange.
var Patterns = []string{"*." + string(domain.EventChatMessage), "*." + string(domain.EventThreadCreated)}

var (
	ErrMalformed        = errors.New("malformed event")
	ErrDeliveriesClosed = errors.New("delivery channel closed")
)

type Store interface {
	SaveThread(ctx context.Context, organizationID string, thread domain.ChatThread) error
	SaveMessage(ctx context.Context, organizationID string, msg domain.ChatMessage) (bool, error)
}

// Archiver persists chat events delivered at least once. Stored rows are
// keyed by thread and sequence, so a redelivery is a no-op.
type Archiver struct {
	store   Store
	handled *prometheus.CounterVec
}

func NewArchiver(store Store, reg prometheus.Registerer) *Archiver {
	handled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "archiver",
		Name:      "events_total",
		Help:      "Archived events by type and result.",
	}, []string{"type", "result"})
	if reg != nil {
		reg.MustRegister(handled)
	}
	return &Archiver{store: store, handled: handled}
}

// Handle decodes one event body and stores it. Errors wrapping ErrMalformed
// will never succeed on retry.
func (a *Archiver) Handle(ctx context.Context, body []byte) error {
	var ev domain.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	organizationID := strings.TrimSpace(ev.OrganizationID)
	if organizationID == "" {
		return fmt.Errorf("%w: organization_id is missing", ErrMalformed)
	}

	switch ev.Type {
	case domain.EventChatMessage:
		if ev.Message == nil || ev.Message.ID == "" || ev.Message.Seq == 0 {
			return fmt.Errorf("%w: chat.message without message", ErrMalformed)
		}
		inserted, err := a.store.SaveMessage(ctx, organizationID, *ev.Message)
		if err != nil {
			return fmt.Errorf("save message %s: %w", ev.Message.ID, err)
		}
		result := "stored"
		if !inserted {
			result = "duplicate"
		}
		a.handled.WithLabelValues(string(ev.Type), result).Inc()
		commonlog.Debugf("event=archiver action=save_message status=%s org_id=%s thread_id=%s seq=%d", result, organizationID, ev.Message.ThreadID, ev.Message.Seq)
	case domain.EventThreadCreated:
		if ev.Thread == nil || ev.Thread.ID == "" {
			return fmt.Errorf("%w: thread.created without thread", ErrMalformed)
		}
		if err := a.store.SaveThread(ctx, organizationID, *ev.Thread); err != nil {
			return fmt.Errorf("save thread %s: %w", ev.Thread.ID, err)
		}
		a.handled.WithLabelValues(string(ev.Type), "stored").Inc()
		commonlog.Debugf("event=archiver action=save_thread status=ok org_id=%s thread_id=%s", organizationID, ev.Thread.ID)
	default:
		a.handled.WithLabelValues(string(ev.Type), "ignored").Inc()
	}
	return nil
}

// Process handles one delivery and settles it: ack on success, reject
// malformed bodies, requeue anything else.
func (a *Archiver) Process(ctx context.Context, d amqp.Delivery) {
	err := a.Handle(ctx, d.Body)
	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			commonlog.Warnf("event=archiver action=ack status=failed routing_key=%s error=%v", d.RoutingKey, ackErr)
		}
	case errors.Is(err, ErrMalformed):
		a.handled.WithLabelValues("unknown", "rejected").Inc()
		commonlog.Warnf("event=archiver action=handle status=rejected routing_key=%s error=%v", d.RoutingKey, err)
		_ = d.Reject(false)
	default:
		a.handled.WithLabelValues("unknown", "requeued").Inc()
		commonlog.Errorf("event=archiver action=handle status=requeued routing_key=%s error=%v", d.RoutingKey, err)
		_ = d.Nack(false, true)
	}
}

// Run consumes deliveries on the given number of goroutines until ctx is cancelled or
// the channel closes.
func (a *Archiver) Run(ctx context.Context, deliveries <-chan amqp.Delivery, workers int) error {
	if workers <= 0 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case d, ok := <-deliveries:
					if !ok {
						return ErrDeliveriesClosed
					}
					a.Process(ctx, d)
				}
			}
		})
	}
	return g.Wait()
}
