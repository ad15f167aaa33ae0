package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"office_server/server/office/domain"
)

type fakeStore struct {
	mu       sync.Mutex
	threads  map[string]domain.ChatThread
	messages map[string]domain.ChatMessage
	err      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{threads: map[string]domain.ChatThread{}, messages: map[string]domain.ChatMessage{}}
}

func (s *fakeStore) SaveThread(_ context.Context, organizationID string, thread domain.ChatThread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.threads[organizationID+"/"+thread.ID] = thread
	return nil
}

func (s *fakeStore) SaveMessage(_ context.Context, organizationID string, msg domain.ChatMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	key := fmt.Sprintf("%s/%s/%d", organizationID, msg.ThreadID, msg.Seq)
	if _, ok := s.messages[key]; ok {
		return false, nil
	}
	s.messages[key] = msg
	return true, nil
}

func (s *fakeStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

type settlement struct {
	ack, reject, nack bool
	requeue           bool
}

type fakeAcknowledger struct {
	mu      sync.Mutex
	settled map[uint64]settlement
}

func newFakeAcknowledger() *fakeAcknowledger {
	return &fakeAcknowledger{settled: map[uint64]settlement{}}
}

func (a *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settled[tag] = settlement{ack: true}
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settled[tag] = settlement{nack: true, requeue: requeue}
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settled[tag] = settlement{reject: true, requeue: requeue}
	return nil
}

func (a *fakeAcknowledger) get(tag uint64) settlement {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settled[tag]
}

func chatEvent(t *testing.T, seq uint64) []byte {
	t.Helper()
	body, err := json.Marshal(domain.Event{
		Type:           domain.EventChatMessage,
		OrganizationID: "org-1",
		Message:        &domain.ChatMessage{ID: fmt.Sprintf("m-%d", seq), ThreadID: "general", Seq: seq, SenderID: "alice", Content: "hi", Type: domain.MessageTypeText},
	})
	require.NoError(t, err)
	return body
}

func TestHandleStoresMessagesOnce(t *testing.T) {
	store := newFakeStore()
	reg := prometheus.NewRegistry()
	a := NewArchiver(store, reg)
	ctx := context.Background()

	require.NoError(t, a.Handle(ctx, chatEvent(t, 1)))
	require.NoError(t, a.Handle(ctx, chatEvent(t, 1)))
	require.NoError(t, a.Handle(ctx, chatEvent(t, 2)))

	assert.Equal(t, 2, store.messageCount())
	assert.Equal(t, 2.0, testutil.ToFloat64(a.handled.WithLabelValues("chat.message", "stored")))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.handled.WithLabelValues("chat.message", "duplicate")))
}

func TestHandleStoresThreads(t *testing.T) {
	store := newFakeStore()
	a := NewArchiver(store, nil)

	body, err := json.Marshal(domain.Event{
		Type:           domain.EventThreadCreated,
		OrganizationID: "org-1",
		Thread:         &domain.ChatThread{ID: "dm:alice:bob", Kind: domain.ThreadKindDirect, Participants: []string{"alice", "bob"}},
	})
	require.NoError(t, err)
	require.NoError(t, a.Handle(context.Background(), body))

	thread, ok := store.threads["org-1/dm:alice:bob"]
	require.True(t, ok)
	assert.Equal(t, []string{"alice", "bob"}, thread.Participants)
}

func TestHandleRejectsMalformed(t *testing.T) {
	a := NewArchiver(newFakeStore(), nil)
	ctx := context.Background()

	assert.ErrorIs(t, a.Handle(ctx, []byte("{")), ErrMalformed)
	assert.ErrorIs(t, a.Handle(ctx, []byte(`{"type":"chat.message"}`)), ErrMalformed)
	assert.ErrorIs(t, a.Handle(ctx, []byte(`{"type":"chat.message","organization_id":"org-1"}`)), ErrMalformed)
	assert.NoError(t, a.Handle(ctx, []byte(`{"type":"presence.updated","organization_id":"org-1"}`)))
}

func TestProcessSettlesDeliveries(t *testing.T) {
	store := newFakeStore()
	a := NewArchiver(store, nil)
	acker := newFakeAcknowledger()
	ctx := context.Background()

	a.Process(ctx, amqp.Delivery{Acknowledger: acker, DeliveryTag: 1, Body: chatEvent(t, 1)})
	assert.True(t, acker.get(1).ack)

	a.Process(ctx, amqp.Delivery{Acknowledger: acker, DeliveryTag: 2, Body: []byte("not json")})
	assert.Equal(t, settlement{reject: true}, acker.get(2))

	store.err = errors.New("connection refused")
	a.Process(ctx, amqp.Delivery{Acknowledger: acker, DeliveryTag: 3, Body: chatEvent(t, 2)})
	assert.Equal(t, settlement{nack: true, requeue: true}, acker.get(3))
}

func TestRunDrainsUntilChannelCloses(t *testing.T) {
	store := newFakeStore()
	a := NewArchiver(store, nil)
	acker := newFakeAcknowledger()

	deliveries := make(chan amqp.Delivery, 10)
	for i := uint64(1); i <= 10; i++ {
		deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: i, Body: chatEvent(t, i)}
	}
	close(deliveries)

	err := a.Run(context.Background(), deliveries, 3)
	assert.ErrorIs(t, err, ErrDeliveriesClosed)
	assert.Equal(t, 10, store.messageCount())
	for i := uint64(1); i <= 10; i++ {
		assert.True(t, acker.get(i).ack)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	a := NewArchiver(newFakeStore(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, make(chan amqp.Delivery), 2) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("archiver did not stop")
	}
}
