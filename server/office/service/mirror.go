package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"office_server/server/office/domain"
)

func EventsChannel(organizationID string) string {
	return fmt.Sprintf("office:%s:events", organizationID)
}

func PresenceHashKey(organizationID string) string {
	return fmt.Sprintf("office:%s:presence", organizationID)
}

// RedisMirror publishes every event on the office channel and keeps a hash
// of presence records for readers outside this process.
type RedisMirror struct {
	client *redis.Client
}

func NewRedisMirror(client *redis.Client) *RedisMirror {
	return &RedisMirror{client: client}
}

func (m *RedisMirror) Name() string { return "redis" }

func (m *RedisMirror) Deliver(ctx context.Context, ev domain.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	pipe := m.client.TxPipeline()
	pipe.Publish(ctx, EventsChannel(ev.OrganizationID), body)
	hashKey := PresenceHashKey(ev.OrganizationID)
	switch {
	case ev.Presence != nil:
		record, err := json.Marshal(ev.Presence.Record)
		if err != nil {
			return err
		}
		pipe.HSet(ctx, hashKey, ev.Presence.ParticipantID, record)
	case ev.Roster != nil:
		for _, joined := range ev.Roster.Joined {
			record, err := json.Marshal(joined)
			if err != nil {
				return err
			}
			pipe.HSet(ctx, hashKey, joined.Participant.ID, record)
		}
		if len(ev.Roster.Left) > 0 {
			pipe.HDel(ctx, hashKey, ev.Roster.Left...)
		}
	}
	_, err = pipe.Exec(ctx)
	return err
}

type eventPublisher interface {
	Publish(ctx context.Context, organizationID, key string, payload any) error
}

// AMQPSink forwards events to the topic exchange with routing key
// "<organization>.<event type>".
type AMQPSink struct {
	publisher eventPublisher
}

func NewAMQPSink(publisher eventPublisher) *AMQPSink {
	return &AMQPSink{publisher: publisher}
}

func (s *AMQPSink) Name() string { return "amqp" }

func (s *AMQPSink) Deliver(ctx context.Context, ev domain.Event) error {
	return s.publisher.Publish(ctx, ev.OrganizationID, string(ev.Type), ev)
}
